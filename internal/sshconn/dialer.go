package sshconn

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net"
	"os"
	"os/user"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/chrisreddington/ssh-mcp/internal/logutil"
)

const (
	defaultPort = 22

	// DefaultConnectTimeout bounds dial plus handshake when Dialer.ConnectTimeout is zero.
	DefaultConnectTimeout = 30 * time.Second
)

// Dialer is the production Provider. The zero value is not usable: at least
// KnownHostsFile or InsecureIgnoreHostKey must be set.
type Dialer struct {
	// Hosts resolves aliases. May be nil.
	Hosts Hosts
	// DefaultUser is used when neither the target nor the alias names a user.
	// Empty means the current OS user.
	DefaultUser string
	// IdentityFiles are private keys tried after the agent's keys.
	IdentityFiles []string
	// KnownHostsFile is the OpenSSH known_hosts file used for host key checks.
	KnownHostsFile string
	// InsecureIgnoreHostKey disables host key verification.
	InsecureIgnoreHostKey bool
	// ConnectTimeout bounds dial plus handshake.
	ConnectTimeout time.Duration
	// KeepaliveInterval is how often keepalive requests are sent on open
	// connections. Zero disables keepalives.
	KeepaliveInterval time.Duration
	// AgentSocket overrides SSH_AUTH_SOCK. Empty uses the environment.
	AgentSocket string
}

// target is a resolved connection destination.
type target struct {
	addr         string
	user         string
	identityFile string
}

// Connect dials host, authenticates and returns a Conn.
func (d *Dialer) Connect(ctx context.Context, host string) (Conn, error) {
	t, err := d.resolve(host)
	if err != nil {
		return nil, &ConnError{Host: host, Op: "resolve", Err: err}
	}

	hostKeyCallback, err := d.hostKeyCallback()
	if err != nil {
		return nil, &ConnError{Host: host, Op: "load known hosts for", Err: err}
	}

	signers, closeAgent := d.signers(t.identityFile)
	defer closeAgent()

	timeout := d.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	cfg := &ssh.ClientConfig{
		User:            t.user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeysCallback(signers)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := net.Dialer{Timeout: timeout}
	netConn, err := dialer.DialContext(dialCtx, "tcp", t.addr)
	if err != nil {
		return nil, &ConnError{Host: host, Op: "dial", Err: err}
	}

	// The handshake has no context parameter; bound it with a deadline.
	if deadline, ok := dialCtx.Deadline(); ok {
		netConn.SetDeadline(deadline)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, t.addr, cfg)
	if err != nil {
		netConn.Close()
		return nil, &ConnError{Host: host, Op: "handshake with", Err: err}
	}
	netConn.SetDeadline(time.Time{})

	client := ssh.NewClient(sshConn, chans, reqs)
	log.Printf("[sshconn] connected to %s (%s@%s)", logutil.SanitizeForLog(host), t.user, t.addr)
	return newClientConn(host, client, d.KeepaliveInterval), nil
}

// resolve turns "[user@]host[:port]" or an alias into a target.
func (d *Dialer) resolve(host string) (target, error) {
	var t target
	addr := strings.TrimSpace(host)
	if addr == "" {
		return t, errors.New("empty host")
	}

	if i := strings.LastIndex(addr, "@"); i >= 0 {
		t.user = addr[:i]
		addr = addr[i+1:]
	}

	name, port := addr, 0
	if h, p, err := net.SplitHostPort(addr); err == nil {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return t, fmt.Errorf("invalid port %q", p)
		}
		name, port = h, n
	}
	if name == "" {
		return t, errors.New("empty host")
	}

	if entry, ok := d.Hosts[name]; ok {
		name = entry.Hostname
		if port == 0 {
			port = entry.Port
		}
		if t.user == "" {
			t.user = entry.User
		}
		t.identityFile = entry.IdentityFile
	}

	if port == 0 {
		port = defaultPort
	}
	if t.user == "" {
		t.user = d.defaultUser()
	}
	t.addr = net.JoinHostPort(name, strconv.Itoa(port))
	return t, nil
}

func (d *Dialer) defaultUser() string {
	if d.DefaultUser != "" {
		return d.DefaultUser
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}

func (d *Dialer) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if d.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if d.KnownHostsFile == "" {
		return nil, errors.New("no known_hosts file configured")
	}
	return knownhosts.New(d.KnownHostsFile)
}

// signers returns a callback yielding agent keys followed by identity file
// keys, plus a func releasing the agent socket. All keys are offered through a
// single publickey method because the client never retries a method name.
func (d *Dialer) signers(extraIdentity string) (func() ([]ssh.Signer, error), func()) {
	var agentClient agent.ExtendedAgent
	closeAgent := func() {}

	sock := d.AgentSocket
	if sock == "" {
		sock = os.Getenv("SSH_AUTH_SOCK")
	}
	if sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			agentClient = agent.NewClient(conn)
			closeAgent = func() { conn.Close() }
		} else {
			log.Printf("[sshconn] ssh-agent unavailable: %v", err)
		}
	}

	files := d.IdentityFiles
	if extraIdentity != "" {
		files = append([]string{extraIdentity}, files...)
	}

	return func() ([]ssh.Signer, error) {
		var out []ssh.Signer
		if agentClient != nil {
			if s, err := agentClient.Signers(); err == nil {
				out = append(out, s...)
			} else {
				log.Printf("[sshconn] list agent keys: %v", err)
			}
		}
		out = append(out, loadSigners(files)...)
		if len(out) == 0 {
			return nil, errors.New("no SSH keys available from agent or identity files")
		}
		return out, nil
	}, closeAgent
}

// loadSigners parses unencrypted private keys, skipping files that are missing
// or passphrase protected.
func loadSigners(paths []string) []ssh.Signer {
	var out []ssh.Signer
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				log.Printf("[sshconn] read identity file %s: %v", p, err)
			}
			continue
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			var missing *ssh.PassphraseMissingError
			if errors.As(err, &missing) {
				log.Printf("[sshconn] skipping passphrase-protected key %s (load it into ssh-agent)", p)
			} else {
				log.Printf("[sshconn] parse identity file %s: %v", p, err)
			}
			continue
		}
		out = append(out, signer)
	}
	return out
}

// DefaultIdentityFiles returns the conventional OpenSSH key paths under home.
func DefaultIdentityFiles(home string) []string {
	return []string{
		home + "/.ssh/id_ed25519",
		home + "/.ssh/id_ecdsa",
		home + "/.ssh/id_rsa",
	}
}
