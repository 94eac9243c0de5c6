package sshsession

import (
	"sync"
	"time"

	"github.com/chrisreddington/ssh-mcp/internal/shellpath"
	"github.com/chrisreddington/ssh-mcp/internal/sshconn"
)

// DefaultCwd is the working directory of a new session: the remote shell's
// home directory shorthand.
const DefaultCwd = "~"

// Session is one persistent remote session.
type Session struct {
	// ID is the lookup key handed to callers.
	ID string
	// Host is the target the connection was opened against.
	Host string
	// CreatedAt is when the session was opened.
	CreatedAt time.Time

	conn sshconn.Conn

	mu       sync.Mutex
	cwd      string
	lastUsed time.Time

	closeOnce sync.Once
	closeErr  error
}

func newSession(id, host string, conn sshconn.Conn, now time.Time) *Session {
	return &Session{
		ID:        id,
		Host:      host,
		CreatedAt: now,
		conn:      conn,
		cwd:       DefaultCwd,
		lastUsed:  now,
	}
}

// Conn returns the session's connection.
func (s *Session) Conn() sshconn.Conn { return s.conn }

// Cwd returns the last known-good working directory.
func (s *Session) Cwd() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cwd
}

// SetCwd stores dir as the working directory if it passes shellpath.Validate.
// On failure the previous value is kept.
func (s *Session) SetCwd(dir string) error {
	valid, err := shellpath.Validate(dir)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cwd = valid
	s.mu.Unlock()
	return nil
}

// LastUsed returns the time of the last touch.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	if now.After(s.lastUsed) {
		s.lastUsed = now
	}
	s.mu.Unlock()
}

// close closes the connection once; later calls return the first result.
func (s *Session) close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// Info is a point-in-time view of a session for listings.
type Info struct {
	ID        string    `json:"session_id"`
	Host      string    `json:"host"`
	Cwd       string    `json:"cwd"`
	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{ID: s.ID, Host: s.Host, Cwd: s.cwd, CreatedAt: s.CreatedAt, LastUsed: s.lastUsed}
}
