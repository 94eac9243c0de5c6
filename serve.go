package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chrisreddington/ssh-mcp/internal/config"
	"github.com/chrisreddington/ssh-mcp/internal/logging"
	"github.com/chrisreddington/ssh-mcp/internal/tools"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and MCP over streamable HTTP",
		Long: `Serve the execution operations as a JSON API under /api/v1, MCP over
streamable HTTP at /mcp, Prometheus metrics at /metrics and /health.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			setup(os.Stdout)
			defer logging.Close()
			if addr == "" {
				addr = config.Cfg.ListenAddr
			}

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

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, addr, a)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default SSH_MCP_LISTEN_ADDR)")
	return cmd
}

// serve runs the HTTP server until ctx is done, then shuts it down.
func serve(ctx context.Context, addr string, a *app) error {
	mcpServer := tools.NewServer(a.service, version)
	mux := http.NewServeMux()
	mux.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpServer }, nil))
	mux.Handle("/", a.api().Routes())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Printf("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
