// Package sshconntest provides in-memory sshconn.Provider and sshconn.Conn
// implementations for tests, plus a small shell interpreter that behaves like
// a remote host's non-interactive sh for the commands the module issues.
package sshconntest

import (
	"context"
	"errors"
	"sync"

	"github.com/chrisreddington/ssh-mcp/internal/sshconn"
)

// Handler answers one command. It must return ctx.Err() if ctx ends first.
type Handler func(ctx context.Context, command string) (*sshconn.Result, error)

// Conn is a fake connection that records commands and close calls.
type Conn struct {
	Host string

	handler  Handler
	closeErr error

	mu       sync.Mutex
	commands []string
	closes   int
}

func (c *Conn) Run(ctx context.Context, command string) (*sshconn.Result, error) {
	c.mu.Lock()
	c.commands = append(c.commands, command)
	closed := c.closes > 0
	c.mu.Unlock()

	if closed {
		return nil, &sshconn.ConnError{Host: c.Host, Op: "open session on", Err: errors.New("connection closed")}
	}
	return c.handler(ctx, command)
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return c.closeErr
}

// Commands returns every command string passed to Run.
func (c *Conn) Commands() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.commands...)
}

// Closes returns how many times Close was called.
func (c *Conn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// Provider hands out fake connections.
type Provider struct {
	// Handler answers commands on every connection. Nil uses NewShell("/home/test").
	Handler Handler
	// ConnectErr, when set, is returned by Connect wrapped in a ConnError.
	ConnectErr error
	// CloseErr is returned by every Conn.Close.
	CloseErr error
	// Gate, when set, blocks Connect until it is closed or ctx ends.
	Gate chan struct{}

	mu    sync.Mutex
	conns []*Conn
}

func (p *Provider) Connect(ctx context.Context, host string) (sshconn.Conn, error) {
	if p.Gate != nil {
		select {
		case <-p.Gate:
		case <-ctx.Done():
			return nil, &sshconn.ConnError{Host: host, Op: "dial", Err: ctx.Err()}
		}
	}
	if p.ConnectErr != nil {
		return nil, &sshconn.ConnError{Host: host, Op: "dial", Err: p.ConnectErr}
	}
	h := p.Handler
	if h == nil {
		h = NewShell("/home/test")
	}
	c := &Conn{Host: host, handler: h, closeErr: p.CloseErr}

	p.mu.Lock()
	p.conns = append(p.conns, c)
	p.mu.Unlock()
	return c, nil
}

// Conns returns every connection handed out so far, in order.
func (p *Provider) Conns() []*Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Conn(nil), p.conns...)
}

// OpenConns counts connections that were never closed.
func (p *Provider) OpenConns() int {
	n := 0
	for _, c := range p.Conns() {
		if c.Closes() == 0 {
			n++
		}
	}
	return n
}
