package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/epiboard/internal/config"
	"github.com/roach88/epiboard/internal/pipeline"
	"github.com/roach88/epiboard/internal/query"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr           string
	Schedule       string
	RefreshOnStart bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the views over HTTP and refresh on a schedule",
		Long: `Serve the derived views over HTTP and run ingestion on a cron schedule.

The schedule accepts standard five-field cron expressions and descriptors
such as "@every 6h" or "@daily". Pass --schedule "" to disable background
refreshes. SIGINT or SIGTERM stops the scheduler and drains the server.

Example:
  epiboard serve --addr :8080
  epiboard serve --schedule "0 */4 * * *" --refresh-on-start`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address, overrides server.addr")
	cmd.Flags().StringVar(&opts.Schedule, "schedule", "", "refresh schedule, overrides server.schedule")
	cmd.Flags().BoolVar(&opts.RefreshOnStart, "refresh-on-start", false, "run one refresh before serving")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	a, err := openApp(opts.RootOptions, func(cfg *config.Config) {
		if opts.Addr != "" {
			cfg.Server.Addr = opts.Addr
		}
		if cmd.Flags().Changed("schedule") {
			cfg.Server.Schedule = opts.Schedule
		}
	})
	if err != nil {
		return formatter.Fail("failed to open", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(commandContext(cmd.Context()), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.RefreshOnStart {
		if _, err := a.pipeline.Refresh(ctx); err != nil {
			a.logger.Error("initial refresh failed", zap.Error(err))
		}
	}

	var scheduler *pipeline.Scheduler
	if a.cfg.Server.Schedule != "" {
		scheduler, err = pipeline.NewScheduler(ctx, a.pipeline, a.cfg.Server.Schedule,
			time.Duration(a.cfg.Ingest.LockTTL), a.logger)
		if err != nil {
			return formatter.Fail("invalid schedule", err)
		}
		scheduler.Start()
	}

	listener, err := net.Listen("tcp", a.cfg.Server.Addr)
	if err != nil {
		if scheduler != nil {
			scheduler.Stop()
		}
		return formatter.Fail("failed to listen", err)
	}
	server := &http.Server{
		Handler:           query.NewHandler(a.views, a.logger).NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	a.logger.Info("server started", zap.String("addr", listener.Addr().String()))
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", listener.Addr())
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
	}

	if scheduler != nil {
		a.logger.Info("stopping scheduler")
		scheduler.Stop()
	}

	a.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown failed", zap.Error(err))
	}

	if runErr != nil {
		return formatter.Fail("server error", runErr)
	}
	a.logger.Info("server stopped gracefully")
	return nil
}
