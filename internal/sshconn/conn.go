package sshconn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/chrisreddington/ssh-mcp/internal/logutil"
)

// Result is the outcome of one remote command.
type Result struct {
	Stdout     string
	Stderr     string
	ExitStatus int
}

// Conn is an open, authenticated connection able to run commands.
type Conn interface {
	// Run executes command on a fresh exec channel and waits for it to finish
	// or for ctx to be done.
	Run(ctx context.Context, command string) (*Result, error)
	// Close releases the connection. Calling it more than once is harmless.
	Close() error
}

// Provider opens connections to host targets.
type Provider interface {
	Connect(ctx context.Context, host string) (Conn, error)
}

// ConnError reports a transport-level failure: dial, authentication,
// handshake, channel setup or a dropped connection.
type ConnError struct {
	Host string
	Op   string
	Err  error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("SSH error: %s %s: %v", e.Op, e.Host, e.Err)
}

func (e *ConnError) Unwrap() error { return e.Err }

// IsConnError reports whether err is, or wraps, a *ConnError.
func IsConnError(err error) bool {
	var ce *ConnError
	return errors.As(err, &ce)
}

// clientConn is a Conn backed by an *ssh.Client.
type clientConn struct {
	host   string
	client *ssh.Client
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

func newClientConn(host string, client *ssh.Client, keepalive time.Duration) *clientConn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &clientConn{host: host, client: client, cancel: cancel}
	if keepalive > 0 {
		go c.keepalive(ctx, keepalive)
	}
	return c
}

func (c *clientConn) Run(ctx context.Context, command string) (*Result, error) {
	start := time.Now()

	session, err := c.client.NewSession()
	if err != nil {
		return nil, &ConnError{Host: c.host, Op: "open session on", Err: err}
	}
	defer session.Close()

	var outBuf, errBuf bytes.Buffer
	session.Stdout = &outBuf
	session.Stderr = &errBuf

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	var runErr error
	select {
	case <-ctx.Done():
		// Abandon the channel; the remote process may keep running.
		session.Close()
		log.Printf("[sshconn] abandoned command on %s after %s: %s",
			logutil.SanitizeForLog(c.host), time.Since(start).Round(time.Millisecond), logutil.Command(command))
		return nil, ctx.Err()
	case runErr = <-done:
	}

	res := &Result{Stdout: outBuf.String(), Stderr: errBuf.String()}
	if runErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitStatus = exitErr.ExitStatus()
			return res, nil
		}
		return nil, &ConnError{Host: c.host, Op: "run command on", Err: runErr}
	}
	return res, nil
}

func (c *clientConn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.closeErr = c.client.Close()
	})
	return c.closeErr
}

// keepalive sends periodic keepalive requests until ctx is cancelled or a
// request fails. A failed keepalive only logs; the next Run reports the error.
func (c *clientConn) keepalive(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := c.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				log.Printf("[sshconn] keepalive failed for %s: %v", logutil.SanitizeForLog(c.host), err)
				return
			}
		}
	}
}
