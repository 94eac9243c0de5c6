package sshsession

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/google/uuid"

	"github.com/chrisreddington/ssh-mcp/internal/logutil"
	"github.com/chrisreddington/ssh-mcp/internal/sshconn"
)

const (
	// DefaultMaxSessions is the default cap on live sessions.
	DefaultMaxSessions = 10
	// DefaultIdleTimeout is how long a session may go unused before eviction.
	DefaultIdleTimeout = 30 * time.Minute
)

var (
	// ErrNotFound is returned for unknown, closed or evicted session IDs.
	ErrNotFound = errors.New("session not found")
	// ErrCapacity is returned by Create when the table is full after eviction.
	ErrCapacity = errors.New("maximum number of sessions reached")
	// ErrStoreClosed is returned by Create after CloseAll.
	ErrStoreClosed = errors.New("session store is shut down")
)

// EventType identifies a session lifecycle change.
type EventType string

const (
	EventCreated EventType = "session_created"
	EventClosed  EventType = "session_closed"
	EventEvicted EventType = "session_evicted"
	// EventShutdown is emitted for each session closed by CloseAll.
	EventShutdown EventType = "session_shutdown"
)

// Event describes one lifecycle change. IdleFor is set for evictions.
type Event struct {
	Type      EventType
	SessionID string
	Host      string
	Time      time.Time
	IdleFor   time.Duration
}

// EventListener receives lifecycle events. It is called without Store locks
// held and must not block for long.
type EventListener func(Event)

// Options configures a Store. Zero fields take the package defaults.
type Options struct {
	MaxSessions int
	IdleTimeout time.Duration
}

// Store is the process-wide session table.
type Store struct {
	provider    sshconn.Provider
	maxSessions int
	idleTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	pending  int // creations that hold a reserved slot while dialing
	closed   bool
	nowFn    func() time.Time

	listenersMu sync.RWMutex
	listeners   []EventListener
}

// NewStore creates an empty Store that dials through provider.
func NewStore(provider sshconn.Provider, opts Options) *Store {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	return &Store{
		provider:    provider,
		maxSessions: opts.MaxSessions,
		idleTimeout: opts.IdleTimeout,
		sessions:    make(map[string]*Session),
		nowFn:       time.Now,
	}
}

// SetNowFunc replaces the clock. Intended for tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

// AddListener registers l for all future lifecycle events.
func (s *Store) AddListener(l EventListener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, l)
}

// MaxSessions returns the configured cap.
func (s *Store) MaxSessions() int { return s.maxSessions }

// IdleTimeout returns the configured idle timeout.
func (s *Store) IdleTimeout() time.Duration { return s.idleTimeout }

// Create opens a connection to host and registers a new session for it.
func (s *Store) Create(ctx context.Context, host string) (*Session, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStoreClosed
	}
	evicted := s.evictLocked(s.nowFn())
	if len(s.sessions)+s.pending >= s.maxSessions {
		s.mu.Unlock()
		s.finishEviction(evicted)
		return nil, fmt.Errorf("%w (%d); close an existing session first", ErrCapacity, s.maxSessions)
	}
	s.pending++
	s.mu.Unlock()
	s.finishEviction(evicted)

	conn, err := s.provider.Connect(ctx, host)

	s.mu.Lock()
	s.pending--
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if s.closed {
		s.mu.Unlock()
		closeQuietly(conn, "", host)
		return nil, ErrStoreClosed
	}
	id := newSessionID()
	for s.sessions[id] != nil {
		id = newSessionID()
	}
	sess := newSession(id, host, conn, s.nowFn())
	s.sessions[id] = sess
	count := len(s.sessions)
	s.mu.Unlock()

	log.Printf("[session-store] opened session %s to %s (%d/%d)", id, logutil.SanitizeForLog(host), count, s.maxSessions)
	s.emit(Event{Type: EventCreated, SessionID: id, Host: host, Time: sess.CreatedAt})
	return sess, nil
}

// Get returns the live session with the given ID and marks it used. Stale
// sessions are evicted first, so a timed-out ID reports ErrNotFound.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.Lock()
	now := s.nowFn()
	evicted := s.evictLocked(now)
	sess, ok := s.sessions[id]
	if ok {
		sess.touch(now)
	}
	s.mu.Unlock()
	s.finishEviction(evicted)

	if !ok {
		return nil, fmt.Errorf("%w: %q (it may have timed out)", ErrNotFound, id)
	}
	return sess, nil
}

// Close closes the session's connection and forgets the ID. A close failure
// is logged; the entry is removed regardless.
func (s *Store) Close(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	now := s.nowFn()
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	closeSession(sess)
	log.Printf("[session-store] closed session %s", id)
	s.emit(Event{Type: EventClosed, SessionID: id, Host: sess.Host, Time: now})
	return nil
}

// EvictStale closes and removes every session idle for longer than the idle
// timeout as of now. It returns the number evicted.
func (s *Store) EvictStale(now time.Time) int {
	s.mu.Lock()
	evicted := s.evictLocked(now)
	s.mu.Unlock()
	s.finishEviction(evicted)
	return len(evicted)
}

// Reap evicts stale sessions using the store's clock.
func (s *Store) Reap() int {
	s.mu.Lock()
	now := s.nowFn()
	s.mu.Unlock()
	return s.EvictStale(now)
}

// CloseAll closes every session, empties the table and refuses further
// creations. Individual close failures are logged and skipped.
func (s *Store) CloseAll() {
	s.mu.Lock()
	all := s.sessions
	s.sessions = make(map[string]*Session)
	s.closed = true
	now := s.nowFn()
	s.mu.Unlock()

	for id, sess := range all {
		closeSession(sess)
		s.emit(Event{Type: EventShutdown, SessionID: id, Host: sess.Host, Time: now})
	}
	log.Printf("[session-store] all sessions closed (%d total)", len(all))
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// List returns snapshots of all live sessions, oldest first. It does not
// evict or touch anything.
func (s *Store) List() []Info {
	s.mu.Lock()
	out := make([]Info, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Info())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

type evictedSession struct {
	sess    *Session
	idleFor time.Duration
	at      time.Time
}

// evictLocked removes stale sessions from the map. Callers hold s.mu and must
// pass the result to finishEviction after unlocking.
func (s *Store) evictLocked(now time.Time) []evictedSession {
	var out []evictedSession
	for id, sess := range s.sessions {
		idle := now.Sub(sess.LastUsed())
		if idle > s.idleTimeout {
			delete(s.sessions, id)
			out = append(out, evictedSession{sess: sess, idleFor: idle, at: now})
		}
	}
	return out
}

func (s *Store) finishEviction(evicted []evictedSession) {
	for _, e := range evicted {
		closeSession(e.sess)
		log.Printf("[session-store] evicted idle session %s (idle %s)", e.sess.ID, units.HumanDuration(e.idleFor))
		s.emit(Event{Type: EventEvicted, SessionID: e.sess.ID, Host: e.sess.Host, Time: e.at, IdleFor: e.idleFor})
	}
}

func (s *Store) emit(ev Event) {
	s.listenersMu.RLock()
	listeners := s.listeners
	s.listenersMu.RUnlock()
	for _, l := range listeners {
		l(ev)
	}
}

func closeSession(sess *Session) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[session-store] panic closing session %s: %v", sess.ID, r)
		}
	}()
	if err := sess.close(); err != nil {
		log.Printf("[session-store] failed to close session %s: %v", sess.ID, err)
	}
}

func closeQuietly(conn sshconn.Conn, id, host string) {
	if err := conn.Close(); err != nil {
		log.Printf("[session-store] failed to close connection to %s %s: %v", logutil.SanitizeForLog(host), id, err)
	}
}

func newSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
