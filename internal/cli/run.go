package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	return &cobra.Command{
		Use:   "run",
		Short: "Start the routes",
		Long: `Start the routes declared in the settings file and run until interrupted.

Example:
  goroute run -c routes.yaml
  GOROUTE_RUN_METRICS_ADDR=:9090 goroute run -c routes.yaml -v`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, cmd)
		},
	}
}

func run(ctx context.Context, opts *RunOptions, cmd *cobra.Command) error {
	logger := slog.Default()

	s, err := LoadSettings(opts.ConfigFile)
	if err != nil {
		return err
	}
	app, err := Build(ctx, s, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("Closing repositories failed", "error", err)
		}
	}()

	if err := app.Context.Start(ctx); err != nil {
		return errors.Join(err, app.Context.Stop(context.WithoutCancel(ctx)))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Started %d routes. Press Ctrl-C to stop.\n", len(app.Context.Routes()))

	g, gctx := errgroup.WithContext(ctx)
	if app.Metrics != nil {
		srv := &http.Server{
			Addr:              s.Metrics.Addr,
			Handler:           metricsMux(app),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("Serving metrics", "addr", s.Metrics.Addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("cli: metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Stopping routes")
		return app.Context.Stop(context.WithoutCancel(gctx))
	})
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Routes stopped")
	return nil
}

func metricsMux(app *App) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", app.Metrics.Handler())
	return mux
}
