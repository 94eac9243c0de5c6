package sshexec

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/docker/go-units"

	"github.com/chrisreddington/ssh-mcp/internal/logutil"
	"github.com/chrisreddington/ssh-mcp/internal/shellpath"
	"github.com/chrisreddington/ssh-mcp/internal/sshconn"
	"github.com/chrisreddington/ssh-mcp/internal/sshsession"
)

// Sentinel separates command output from the trailing pwd in session mode.
const Sentinel = "___CWD___"

// DefaultTimeout bounds a command when neither the caller nor the Runner
// configuration gives one.
const DefaultTimeout = 30 * time.Second

const sentinelLine = Sentinel + "\n"

// Result is the outcome of a command that ran to completion. Stdout and Stderr
// are trimmed of surrounding whitespace.
type Result struct {
	Stdout     string        `json:"stdout"`
	Stderr     string        `json:"stderr"`
	ExitStatus int           `json:"exit_code"`
	Cwd        string        `json:"cwd,omitempty"`
	Duration   time.Duration `json:"-"`
}

// Runner executes commands with a per-call timeout.
type Runner struct {
	provider       sshconn.Provider
	defaultTimeout time.Duration
}

// NewRunner returns a Runner that dials one-shot connections through provider.
// A non-positive defaultTimeout means DefaultTimeout.
func NewRunner(provider sshconn.Provider, defaultTimeout time.Duration) *Runner {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Runner{provider: provider, defaultTimeout: defaultTimeout}
}

// DefaultTimeout returns the bound used when a call passes no timeout.
func (r *Runner) DefaultTimeout() time.Duration { return r.defaultTimeout }

// RunOnce connects to host, runs command and closes the connection, whatever
// the outcome. A non-positive timeout uses the Runner default.
func (r *Runner) RunOnce(ctx context.Context, host, command string, timeout time.Duration) (*Result, error) {
	if strings.TrimSpace(host) == "" {
		return nil, InvalidInput("host is required")
	}
	if strings.TrimSpace(command) == "" {
		return nil, InvalidInput("command is required")
	}
	timeout = r.bound(timeout)
	start := time.Now()

	conn, err := r.provider.Connect(ctx, host)
	if err != nil {
		log.Printf("[ssh-exec] connect to %s failed: %v", logutil.SanitizeForLog(host), err)
		return nil, err
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			log.Printf("[ssh-exec] close connection to %s: %v", logutil.SanitizeForLog(host), cerr)
		}
	}()

	out, err := run(ctx, conn, command, timeout)
	if err != nil {
		log.Printf("[ssh-exec] %s on %s: %v", logutil.Command(command), logutil.SanitizeForLog(host), err)
		return nil, err
	}
	res := &Result{
		Stdout:     strings.TrimSpace(out.Stdout),
		Stderr:     strings.TrimSpace(out.Stderr),
		ExitStatus: out.ExitStatus,
		Duration:   time.Since(start),
	}
	log.Printf("[ssh-exec] %s on %s exited %d in %s", logutil.Command(command), logutil.SanitizeForLog(host), res.ExitStatus, units.HumanDuration(res.Duration))
	return res, nil
}

// RunInSession runs command in sess's working directory and records the
// directory the shell ends in. The session stays open on every outcome.
func (r *Runner) RunInSession(ctx context.Context, sess *sshsession.Session, command string, timeout time.Duration) (*Result, error) {
	if strings.TrimSpace(command) == "" {
		return nil, InvalidInput("command is required")
	}
	timeout = r.bound(timeout)
	start := time.Now()

	cwd, err := shellpath.Validate(sess.Cwd())
	if err != nil {
		return nil, fmt.Errorf("session %s working directory: %w", sess.ID, err)
	}

	out, err := run(ctx, sess.Conn(), wrap(cwd, command), timeout)
	if err != nil {
		log.Printf("[ssh-exec] session %s: %s: %v", sess.ID, logutil.Command(command), err)
		return nil, err
	}

	stdout, newCwd, found := splitSentinel(out.Stdout)
	if found {
		if err := sess.SetCwd(newCwd); err != nil {
			log.Printf("[ssh-exec] session %s: rejected working directory %q: %v", sess.ID, logutil.SanitizeForLog(newCwd), err)
			return nil, err
		}
	}

	res := &Result{
		Stdout:     strings.TrimSpace(stdout),
		Stderr:     strings.TrimSpace(out.Stderr),
		ExitStatus: out.ExitStatus,
		Cwd:        sess.Cwd(),
		Duration:   time.Since(start),
	}
	log.Printf("[ssh-exec] session %s: %s exited %d in %s (cwd %s)", sess.ID, logutil.Command(command), res.ExitStatus, units.HumanDuration(res.Duration), res.Cwd)
	return res, nil
}

func (r *Runner) bound(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return r.defaultTimeout
	}
	return timeout
}

// run executes command on conn under timeout. Expiry of the timeout becomes a
// *TimeoutError; cancellation by the caller is returned as is.
func run(ctx context.Context, conn sshconn.Conn, command string, timeout time.Duration) (*sshconn.Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := conn.Run(runCtx, command)
	if err == nil {
		return out, nil
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, &TimeoutError{After: timeout}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return nil, err
}

func wrap(cwd, command string) string {
	return "cd " + cwd + " && { " + command + "; }; __ssh_mcp_rc=$?; echo '" + Sentinel + "'; pwd; exit $__ssh_mcp_rc"
}

// splitSentinel splits stdout at the first sentinel line. found is false when
// the marker is absent, in which case stdout is returned whole.
func splitSentinel(stdout string) (output, cwd string, found bool) {
	i := strings.Index(stdout, sentinelLine)
	if i < 0 {
		return stdout, "", false
	}
	return stdout[:i], strings.TrimSpace(stdout[i+len(sentinelLine):]), true
}
