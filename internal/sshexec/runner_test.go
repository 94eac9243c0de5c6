package sshexec

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/chrisreddington/ssh-mcp/internal/shellpath"
	"github.com/chrisreddington/ssh-mcp/internal/sshconn"
	"github.com/chrisreddington/ssh-mcp/internal/sshconn/sshconntest"
	"github.com/chrisreddington/ssh-mcp/internal/sshsession"
)

func newSession(t *testing.T, p *sshconntest.Provider) (*sshsession.Store, *sshsession.Session) {
	t.Helper()
	store := sshsession.NewStore(p, sshsession.Options{})
	t.Cleanup(store.CloseAll)
	sess, err := store.Create(context.Background(), "box")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return store, sess
}

func TestRunOnce(t *testing.T) {
	p := &sshconntest.Provider{}
	r := NewRunner(p, 0)

	res, err := r.RunOnce(context.Background(), "box", "echo hello; echo oops >&2; false", 0)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Stdout != "hello" || res.Stderr != "oops" || res.ExitStatus != 1 {
		t.Errorf("result = %+v", res)
	}
	if res.Cwd != "" {
		t.Errorf("one-shot result has cwd %q", res.Cwd)
	}
	if got := p.Conns()[0].Commands(); len(got) != 1 || got[0] != "echo hello; echo oops >&2; false" {
		t.Errorf("remote saw %q, want the raw command", got)
	}
	if p.OpenConns() != 0 {
		t.Error("connection left open after success")
	}
}

func TestRunOnce_ClosesOnTimeout(t *testing.T) {
	p := &sshconntest.Provider{}
	r := NewRunner(p, time.Minute)

	_, err := r.RunOnce(context.Background(), "box", "sleep 5", 20*time.Millisecond)
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TimeoutError", err)
	}
	if te.After != 20*time.Millisecond {
		t.Errorf("After = %v", te.After)
	}
	if KindOf(err) != KindTimeout {
		t.Errorf("KindOf = %s", KindOf(err))
	}
	if p.OpenConns() != 0 {
		t.Error("connection left open after timeout")
	}
}

func TestRunOnce_ClosesOnTransportError(t *testing.T) {
	p := &sshconntest.Provider{Handler: func(ctx context.Context, command string) (*sshconn.Result, error) {
		return nil, &sshconn.ConnError{Host: "box", Op: "open session on", Err: errors.New("EOF")}
	}}
	r := NewRunner(p, 0)

	_, err := r.RunOnce(context.Background(), "box", "uptime", 0)
	if KindOf(err) != KindConnection {
		t.Fatalf("err = %v (kind %s), want connection", err, KindOf(err))
	}
	if p.OpenConns() != 0 {
		t.Error("connection left open after transport error")
	}
}

func TestRunOnce_ConnectFailure(t *testing.T) {
	p := &sshconntest.Provider{ConnectErr: errors.New("no route to host")}
	_, err := NewRunner(p, 0).RunOnce(context.Background(), "box", "uptime", 0)
	if KindOf(err) != KindConnection {
		t.Fatalf("err = %v, want connection kind", err)
	}
	if !strings.HasPrefix(err.Error(), "SSH error:") {
		t.Errorf("message %q", err.Error())
	}
}

func TestRunOnce_CallerCancel(t *testing.T) {
	p := &sshconntest.Provider{}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := NewRunner(p, time.Minute).RunOnce(ctx, "box", "sleep 5", 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if p.OpenConns() != 0 {
		t.Error("connection left open after cancel")
	}
}

func TestRunInSession_TracksCwd(t *testing.T) {
	p := &sshconntest.Provider{}
	_, sess := newSession(t, p)
	r := NewRunner(p, 0)
	ctx := context.Background()

	res, err := r.RunInSession(ctx, sess, "pwd", 0)
	if err != nil {
		t.Fatalf("pwd: %v", err)
	}
	if res.Stdout != "/home/test" || res.Cwd != "/home/test" || res.ExitStatus != 0 {
		t.Errorf("first call = %+v", res)
	}

	res, err = r.RunInSession(ctx, sess, "cd /tmp", 0)
	if err != nil {
		t.Fatalf("cd: %v", err)
	}
	if res.Stdout != "" || res.Cwd != "/tmp" {
		t.Errorf("cd result = %+v", res)
	}

	res, err = r.RunInSession(ctx, sess, "pwd", 0)
	if err != nil {
		t.Fatalf("pwd: %v", err)
	}
	if res.Stdout != "/tmp" || sess.Cwd() != "/tmp" {
		t.Errorf("after cd: stdout %q cwd %q", res.Stdout, sess.Cwd())
	}

	cmds := p.Conns()[0].Commands()
	want := "cd /tmp && { pwd; }; __ssh_mcp_rc=$?; echo '___CWD___'; pwd; exit $__ssh_mcp_rc"
	if cmds[len(cmds)-1] != want {
		t.Errorf("wrapped command = %q, want %q", cmds[len(cmds)-1], want)
	}
	if !strings.HasPrefix(cmds[0], "cd ~ && ") {
		t.Errorf("first command %q does not start in ~", cmds[0])
	}
}

func TestRunInSession_PreservesExitStatus(t *testing.T) {
	p := &sshconntest.Provider{}
	_, sess := newSession(t, p)
	r := NewRunner(p, 0)

	tests := []struct {
		cmd string
		rc  int
	}{
		{"true", 0},
		{"false", 1},
		{"frobnicate", 127},
		{"echo a; false", 1},
	}
	for _, tt := range tests {
		res, err := r.RunInSession(context.Background(), sess, tt.cmd, 0)
		if err != nil {
			t.Fatalf("%q: %v", tt.cmd, err)
		}
		if res.ExitStatus != tt.rc {
			t.Errorf("%q exit = %d, want %d", tt.cmd, res.ExitStatus, tt.rc)
		}
	}
}

func TestRunInSession_FailedCdKeepsShellDirectory(t *testing.T) {
	p := &sshconntest.Provider{}
	_, sess := newSession(t, p)
	r := NewRunner(p, 0)

	res, err := r.RunInSession(context.Background(), sess, "cd /nonexistent/dir", 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitStatus != 1 || !strings.Contains(res.Stderr, "No such file") {
		t.Errorf("result = %+v", res)
	}
	if res.Cwd != "/home/test" {
		t.Errorf("cwd = %q", res.Cwd)
	}
}

func TestRunInSession_ExitSkipsSentinel(t *testing.T) {
	p := &sshconntest.Provider{}
	_, sess := newSession(t, p)
	r := NewRunner(p, 0)
	ctx := context.Background()

	if _, err := r.RunInSession(ctx, sess, "cd /srv", 0); err != nil {
		t.Fatal(err)
	}
	res, err := r.RunInSession(ctx, sess, "echo bye; exit 3", 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Stdout != "bye" || res.ExitStatus != 3 || res.Cwd != "/srv" {
		t.Errorf("result = %+v", res)
	}
}

func TestRunInSession_RejectsMaliciousCwd(t *testing.T) {
	evil := []string{
		"/tmp; rm -rf /",
		"/tmp/$(id)",
		"/tmp/../../etc",
		"/tmp/a b",
		"",
	}
	for _, dir := range evil {
		t.Run(fmt.Sprintf("%q", dir), func(t *testing.T) {
			p := &sshconntest.Provider{Handler: func(ctx context.Context, command string) (*sshconn.Result, error) {
				return &sshconn.Result{Stdout: "out\n" + Sentinel + "\n" + dir + "\n"}, nil
			}}
			_, sess := newSession(t, p)
			if err := sess.SetCwd("/var/lib"); err != nil {
				t.Fatal(err)
			}

			_, err := NewRunner(p, 0).RunInSession(context.Background(), sess, "pwd", 0)
			if !shellpath.IsValidationError(err) || KindOf(err) != KindValidation {
				t.Fatalf("err = %v, want validation error", err)
			}
			if sess.Cwd() != "/var/lib" {
				t.Errorf("cwd changed to %q", sess.Cwd())
			}
		})
	}
}

func TestRunInSession_TimeoutKeepsSession(t *testing.T) {
	p := &sshconntest.Provider{}
	store, sess := newSession(t, p)
	r := NewRunner(p, time.Minute)

	_, err := r.RunInSession(context.Background(), sess, "sleep 5", 20*time.Millisecond)
	if KindOf(err) != KindTimeout {
		t.Fatalf("err = %v, want timeout", err)
	}
	if err.Error() != "command timed out after 0.02s" {
		t.Errorf("message = %q", err.Error())
	}
	if _, err := store.Get(sess.ID); err != nil {
		t.Fatalf("session gone after timeout: %v", err)
	}
	if p.OpenConns() != 1 {
		t.Error("session connection closed after timeout")
	}
	res, err := r.RunInSession(context.Background(), sess, "echo again", 0)
	if err != nil || res.Stdout != "again" {
		t.Fatalf("follow-up = %+v, %v", res, err)
	}
}

func TestSplitSentinel(t *testing.T) {
	tests := []struct {
		in    string
		out   string
		cwd   string
		found bool
	}{
		{"a\n___CWD___\n/tmp\n", "a\n", "/tmp", true},
		{"___CWD___\n/tmp\n", "", "/tmp", true},
		{"no marker\n", "no marker\n", "", false},
		{"x___CWD___\n/srv\n", "x", "/srv", true},
		{"a\n___CWD___\nb\n___CWD___\n/tmp\n", "a\n", "b\n___CWD___\n/tmp", true},
		{"___CWD___", "___CWD___", "", false},
	}
	for _, tt := range tests {
		out, cwd, found := splitSentinel(tt.in)
		if out != tt.out || cwd != tt.cwd || found != tt.found {
			t.Errorf("splitSentinel(%q) = %q, %q, %v; want %q, %q, %v", tt.in, out, cwd, found, tt.out, tt.cwd, tt.found)
		}
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, ""},
		{shellpath.ErrUnsafeCharacters, KindValidation},
		{fmt.Errorf("wrapped: %w", shellpath.ErrTraversal), KindValidation},
		{fmt.Errorf("%w: x", sshsession.ErrNotFound), KindNotFound},
		{fmt.Errorf("%w (10)", sshsession.ErrCapacity), KindCapacity},
		{&TimeoutError{After: time.Second}, KindTimeout},
		{context.DeadlineExceeded, KindTimeout},
		{&sshconn.ConnError{Host: "h", Op: "dial", Err: errors.New("refused")}, KindConnection},
		{fmt.Errorf("%w: command is required", ErrInvalidInput), KindInvalidInput},
		{errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestTimeoutErrorMessage(t *testing.T) {
	if got := (&TimeoutError{After: 30 * time.Second}).Error(); got != "command timed out after 30s" {
		t.Errorf("got %q", got)
	}
}

func TestRunner_RejectsEmptyArguments(t *testing.T) {
	p := &sshconntest.Provider{}
	_, sess := newSession(t, p)
	r := NewRunner(p, 0)

	if _, err := r.RunOnce(context.Background(), "", "ls", 0); KindOf(err) != KindInvalidInput {
		t.Errorf("empty host: %v", err)
	}
	if _, err := r.RunOnce(context.Background(), "box", "  ", 0); KindOf(err) != KindInvalidInput {
		t.Errorf("empty command: %v", err)
	}
	if _, err := r.RunInSession(context.Background(), sess, "", 0); KindOf(err) != KindInvalidInput {
		t.Errorf("empty session command: %v", err)
	}
	// Only the session's own connection was opened.
	if n := len(p.Conns()); n != 1 {
		t.Errorf("dialed %d times, want 1", n)
	}
}
