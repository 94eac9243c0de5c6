// Command ssh-mcp runs commands on remote hosts over SSH, one-shot or in
// persistent sessions that remember their working directory. By default it
// serves the operations as MCP tools on stdin/stdout.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/chrisreddington/ssh-mcp/internal/config"
	"github.com/chrisreddington/ssh-mcp/internal/logging"
	"github.com/chrisreddington/ssh-mcp/internal/tools"
)

// version is set at build time.
var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ssh-mcp",
		Short: "Remote command execution over SSH",
		Long: `ssh-mcp runs commands on remote hosts over SSH.

Without a subcommand it serves the ssh_execute and ssh_session_* tools as an
MCP server on stdin/stdout. Configuration comes from SSH_MCP_* environment
variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(cmd.Context())
		},
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newExecCmd())
	return root
}

// setup loads the configuration and starts logging to console and the log
// file.
func setup(console *os.File) {
	config.Load()
	logging.Init(config.Cfg.LogPath, console)
}

func runMCP(ctx context.Context) error {
	// stdout carries the protocol.
	setup(os.Stderr)
	defer logging.Close()

	dialer, err := newDialer(config.Cfg)
	if err != nil {
		return err
	}
	a, err := newApp(config.Cfg, dialer)
	if err != nil {
		return err
	}
	defer a.Close()
	a.scheduler.Start()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("Serving MCP on stdio (version %s)", version)
	server := tools.NewServer(a.service, version)
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	log.Printf("MCP server stopped, closing sessions")
	return nil
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
