// Package tools exposes the remote execution operations as MCP tools.
//
// Every tool reports failures as a structured result with "error" and
// "error_kind" fields and the MCP error flag set, so clients can tell a
// failed call from a command that ran and exited non-zero.
package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/chrisreddington/ssh-mcp/internal/sshexec"
	"github.com/chrisreddington/ssh-mcp/internal/sshsession"
)

// Tool names.
const (
	ToolExecute        = "ssh_execute"
	ToolSessionStart   = "ssh_session_start"
	ToolSessionCommand = "ssh_session_command"
	ToolSessionClose   = "ssh_session_close"
	ToolSessionList    = "ssh_session_list"
)

// ExecuteInput is the argument of ssh_execute.
type ExecuteInput struct {
	Host    string `json:"host" jsonschema:"target host: an alias from the hosts file or [user@]host[:port]"`
	Command string `json:"command" jsonschema:"shell command to run"`
	Timeout int    `json:"timeout,omitempty" jsonschema:"seconds to wait for the command (default 30)"`
}

// SessionStartInput is the argument of ssh_session_start.
type SessionStartInput struct {
	Host string `json:"host" jsonschema:"target host: an alias from the hosts file or [user@]host[:port]"`
}

// SessionCommandInput is the argument of ssh_session_command.
type SessionCommandInput struct {
	SessionID string `json:"session_id" jsonschema:"ID returned by ssh_session_start"`
	Command   string `json:"command" jsonschema:"shell command to run in the session's working directory"`
	Timeout   int    `json:"timeout,omitempty" jsonschema:"seconds to wait for the command (default 30)"`
}

// SessionCloseInput is the argument of ssh_session_close.
type SessionCloseInput struct {
	SessionID string `json:"session_id" jsonschema:"ID returned by ssh_session_start"`
}

// Failure carries the error fields shared by all outputs.
type Failure struct {
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

// CommandOutput is the result of ssh_execute and ssh_session_command.
type CommandOutput struct {
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Cwd      string `json:"cwd,omitempty"`
	Failure
}

// SessionStartOutput is the result of ssh_session_start.
type SessionStartOutput struct {
	SessionID string `json:"session_id,omitempty"`
	Host      string `json:"host,omitempty"`
	Message   string `json:"message,omitempty"`
	Failure
}

// SessionCloseOutput is the result of ssh_session_close.
type SessionCloseOutput struct {
	Status string `json:"status,omitempty"`
	Failure
}

// SessionListOutput is the result of ssh_session_list.
type SessionListOutput struct {
	Sessions    []sshsession.Info `json:"sessions"`
	MaxSessions int               `json:"max_sessions"`
}

// NewServer returns an MCP server with all tools registered on svc.
func NewServer(svc *Service, version string) *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{Name: "ssh_mcp", Version: version}, nil)
	Register(s, svc)
	return s
}

// Register adds the tools to s.
func Register(s *mcp.Server, svc *Service) {
	mcp.AddTool(s, &mcp.Tool{
		Name: ToolExecute,
		Description: "Run a one-shot command on a remote host: connect, execute, return output, disconnect. " +
			"Hosts resolve through the hosts file, then as [user@]host[:port].",
	}, svc.handleExecute)
	mcp.AddTool(s, &mcp.Tool{
		Name:        ToolSessionStart,
		Description: "Open a persistent SSH session to a host. Returns a session_id for ssh_session_command.",
	}, svc.handleSessionStart)
	mcp.AddTool(s, &mcp.Tool{
		Name:        ToolSessionCommand,
		Description: "Run a command in an existing persistent SSH session. The working directory carries over between calls.",
	}, svc.handleSessionCommand)
	mcp.AddTool(s, &mcp.Tool{
		Name:        ToolSessionClose,
		Description: "Close a persistent SSH session.",
	}, svc.handleSessionClose)
	mcp.AddTool(s, &mcp.Tool{
		Name:        ToolSessionList,
		Description: "List open persistent SSH sessions with their host and working directory.",
	}, svc.handleSessionList)
}

func (s *Service) handleExecute(ctx context.Context, _ *mcp.CallToolRequest, in ExecuteInput) (*mcp.CallToolResult, CommandOutput, error) {
	res, err := s.Execute(ctx, in.Host, in.Command, seconds(in.Timeout))
	if err != nil {
		return errorResult(), CommandOutput{Failure: failure(err)}, nil
	}
	return nil, commandOutput(res), nil
}

func (s *Service) handleSessionStart(ctx context.Context, _ *mcp.CallToolRequest, in SessionStartInput) (*mcp.CallToolResult, SessionStartOutput, error) {
	sess, err := s.StartSession(ctx, in.Host)
	if err != nil {
		return errorResult(), SessionStartOutput{Failure: failure(err)}, nil
	}
	return nil, SessionStartOutput{
		SessionID: sess.ID,
		Host:      sess.Host,
		Message:   fmt.Sprintf("Session opened. Use %s('%s', '<command>') to run commands.", ToolSessionCommand, sess.ID),
	}, nil
}

func (s *Service) handleSessionCommand(ctx context.Context, _ *mcp.CallToolRequest, in SessionCommandInput) (*mcp.CallToolResult, CommandOutput, error) {
	res, err := s.RunInSession(ctx, in.SessionID, in.Command, seconds(in.Timeout))
	if err != nil {
		return errorResult(), CommandOutput{Failure: failure(err)}, nil
	}
	return nil, commandOutput(res), nil
}

func (s *Service) handleSessionClose(_ context.Context, _ *mcp.CallToolRequest, in SessionCloseInput) (*mcp.CallToolResult, SessionCloseOutput, error) {
	if err := s.CloseSession(in.SessionID); err != nil {
		return errorResult(), SessionCloseOutput{Failure: failure(err)}, nil
	}
	return nil, SessionCloseOutput{Status: "closed"}, nil
}

func (s *Service) handleSessionList(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, SessionListOutput, error) {
	return nil, SessionListOutput{Sessions: s.ListSessions(), MaxSessions: s.store.MaxSessions()}, nil
}

func commandOutput(res *sshexec.Result) CommandOutput {
	code := res.ExitStatus
	return CommandOutput{Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: &code, Cwd: res.Cwd}
}

func failure(err error) Failure {
	return Failure{Error: err.Error(), ErrorKind: string(sshexec.KindOf(err))}
}

func errorResult() *mcp.CallToolResult {
	return &mcp.CallToolResult{IsError: true}
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
