package tools

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/chrisreddington/ssh-mcp/internal/logutil"
	"github.com/chrisreddington/ssh-mcp/internal/metrics"
	"github.com/chrisreddington/ssh-mcp/internal/sshaudit"
	"github.com/chrisreddington/ssh-mcp/internal/sshexec"
	"github.com/chrisreddington/ssh-mcp/internal/sshsession"
)

// Service implements the remote execution operations shared by the MCP
// tools and the HTTP API. It records every command in the audit trail and
// metrics when those are configured.
type Service struct {
	store   *sshsession.Store
	runner  *sshexec.Runner
	auditor *sshaudit.Auditor
	metrics *metrics.Metrics
}

// NewService wires the operations to store and runner. auditor and m may be
// nil.
func NewService(store *sshsession.Store, runner *sshexec.Runner, auditor *sshaudit.Auditor, m *metrics.Metrics) *Service {
	return &Service{store: store, runner: runner, auditor: auditor, metrics: m}
}

// Store returns the session store.
func (s *Service) Store() *sshsession.Store { return s.store }

// Execute runs command once on a fresh connection to host.
func (s *Service) Execute(ctx context.Context, host, command string, timeout time.Duration) (*sshexec.Result, error) {
	res, err := s.runner.RunOnce(ctx, host, command, timeout)
	s.observe(metrics.ModeOnce, host, "", command, res, err)
	return res, err
}

// StartSession opens a persistent session to host.
func (s *Service) StartSession(ctx context.Context, host string) (*sshsession.Session, error) {
	if strings.TrimSpace(host) == "" {
		return nil, sshexec.InvalidInput("host is required")
	}
	sess, err := s.store.Create(ctx, host)
	if err != nil {
		log.Printf("[tools] session start on %s failed: %v", logutil.SanitizeForLog(host), err)
		if sshexec.KindOf(err) == sshexec.KindConnection {
			s.auditor.RecordConnectionFailed(host, err)
		}
		return nil, err
	}
	return sess, nil
}

// RunInSession runs command in the session with the given ID.
func (s *Service) RunInSession(ctx context.Context, sessionID, command string, timeout time.Duration) (*sshexec.Result, error) {
	sess, err := s.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	res, err := s.runner.RunInSession(ctx, sess, command, timeout)
	s.observe(metrics.ModeSession, sess.Host, sess.ID, command, res, err)
	return res, err
}

// CloseSession closes the session with the given ID.
func (s *Service) CloseSession(sessionID string) error {
	return s.store.Close(sessionID)
}

// ListSessions returns the live sessions, oldest first.
func (s *Service) ListSessions() []sshsession.Info {
	return s.store.List()
}

func (s *Service) observe(mode, host, sessionID, command string, res *sshexec.Result, err error) {
	s.auditor.RecordCommand(host, sessionID, command, res, err)
	if s.metrics == nil {
		return
	}
	var d time.Duration
	if res != nil {
		d = res.Duration
	}
	s.metrics.ObserveCommand(mode, d, err)
}
