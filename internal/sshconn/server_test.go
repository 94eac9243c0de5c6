package sshconn

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// execHandler produces the outcome of one exec request. It may block until
// closed is closed, which happens when the client abandons the channel.
type execHandler func(cmd string, closed <-chan struct{}) (stdout, stderr string, exitCode int)

// testServer is an in-process SSH server that answers exec requests.
type testServer struct {
	addr       string
	hostKey    ssh.PublicKey
	clientKey  []byte // PEM private key accepted by the server
	knownHosts string // path to a known_hosts file listing the server
}

func generateSigner(t *testing.T) (ssh.Signer, []byte) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return signer, pem.EncodeToMemory(block)
}

func startTestServer(t *testing.T, handler execHandler) *testServer {
	t.Helper()

	hostSigner, _ := generateSigner(t)
	clientSigner, clientPEM := generateSigner(t)
	authorized := ssh.FingerprintSHA256(clientSigner.PublicKey())

	config := &ssh.ServerConfig{
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if ssh.FingerprintSHA256(key) == authorized {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown public key")
		},
	}
	config.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	var conns []net.Conn
	var connsMu sync.Mutex
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			netConn, err := listener.Accept()
			if err != nil {
				return
			}
			connsMu.Lock()
			conns = append(conns, netConn)
			connsMu.Unlock()
			go serveTestConn(netConn, config, handler)
		}
	}()

	t.Cleanup(func() {
		listener.Close()
		connsMu.Lock()
		for _, c := range conns {
			c.Close()
		}
		connsMu.Unlock()
		<-done
	})

	addr := listener.Addr().String()
	khPath := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{knownhosts.Normalize(addr)}, hostSigner.PublicKey())
	if err := os.WriteFile(khPath, []byte(line+"\n"), 0600); err != nil {
		t.Fatalf("write known_hosts: %v", err)
	}

	return &testServer{
		addr:       addr,
		hostKey:    hostSigner.PublicKey(),
		clientKey:  clientPEM,
		knownHosts: khPath,
	}
}

// writeClientKey stores the accepted client key on disk and returns its path.
func (s *testServer) writeClientKey(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(p, s.clientKey, 0600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return p
}

func serveTestConn(netConn net.Conn, config *ssh.ServerConfig, handler execHandler) {
	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, config)
	if err != nil {
		netConn.Close()
		return
	}
	defer sshConn.Close()

	go func() {
		for req := range reqs {
			if req.WantReply {
				req.Reply(true, nil)
			}
		}
	}()

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go serveTestSession(ch, requests, handler)
	}
}

func serveTestSession(ch ssh.Channel, requests <-chan *ssh.Request, handler execHandler) {
	defer ch.Close()

	closed := make(chan struct{})
	var closeOnce sync.Once
	for req := range requests {
		if req.Type != "exec" {
			if req.WantReply {
				req.Reply(false, nil)
			}
			continue
		}
		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			req.Reply(false, nil)
			return
		}
		if req.WantReply {
			req.Reply(true, nil)
		}

		// Drain remaining requests so a client-side close is noticed.
		go func() {
			for range requests {
			}
			closeOnce.Do(func() { close(closed) })
		}()

		stdout, stderr, code := handler(payload.Command, closed)
		ch.Write([]byte(stdout))
		ch.Stderr().Write([]byte(stderr))
		status := make([]byte, 4)
		binary.BigEndian.PutUint32(status, uint32(code))
		ch.SendRequest("exit-status", false, status)
		return
	}
}
