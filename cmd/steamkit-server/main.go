package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := BuildApp(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	if err := run(ctx, app); err != nil {
		app.Logger.Error("server stopped with error", zap.Error(err))
		_ = app.Logger.Sync()
		cleanup()
		os.Exit(1)
	}
	app.Logger.Info("server stopped")
	_ = app.Logger.Sync()
}

// run serves the API, and metrics when enabled, until ctx is done.
func run(ctx context.Context, app *App) error {
	cfg, logger := app.Config, app.Logger
	logger.Info("starting steamkit server",
		zap.String("environment", string(cfg.Environment)),
		zap.String("profile", cfg.Profile),
		zap.String("address", cfg.Server.Address),
		zap.String("storage_adapter", cfg.Storage.Adapter),
		zap.String("dispatch_mode", cfg.Platform.DispatchMode),
	)

	g, ctx := errgroup.WithContext(ctx)
	if app.Analytics != nil {
		app.Analytics.Start(ctx)
	}

	servers := []*http.Server{app.Server}
	if app.Metrics != nil {
		servers = append(servers, app.Metrics.Server)
	}
	for _, srv := range servers {
		g.Go(func() error {
			logger.Info("listening", zap.String("address", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down server", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
