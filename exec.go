package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chrisreddington/ssh-mcp/internal/config"
	"github.com/chrisreddington/ssh-mcp/internal/logging"
)

// exitError carries the remote exit status out of the exec command.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("remote command exited with status %d", e.code)
}

func newExecCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "exec HOST COMMAND...",
		Short: "Run one command on a host and exit with its status",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			res, err := a.service.Execute(cmd.Context(), args[0], strings.Join(args[1:], " "), timeout)
			if err != nil {
				return err
			}
			if res.Stdout != "" {
				fmt.Fprintln(cmd.OutOrStdout(), res.Stdout)
			}
			if res.Stderr != "" {
				fmt.Fprintln(cmd.ErrOrStderr(), res.Stderr)
			}
			if res.ExitStatus != 0 {
				return &exitError{code: res.ExitStatus}
			}
			return nil
		},
	}

	// Everything after HOST belongs to the remote command.
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "command timeout (default SSH_MCP_COMMAND_TIMEOUT)")
	return cmd
}
