package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"confirmgate/internal/platform/config"
	"confirmgate/internal/platform/httpserver"
	"confirmgate/internal/platform/logger"
	"confirmgate/internal/platform/telemetry"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal service packages.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)

	if err := run(cfg, log); err != nil {
		log.Error("confirmgate stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(cfg.Telemetry, log)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	app, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.close(log)

	srv := httpserver.New(cfg.Server, app.router)

	g, gctx := errgroup.WithContext(ctx)
	if app.dispatcher != nil {
		app.dispatcher.Start(gctx)
	}
	g.Go(func() error {
		log.Info("starting confirmgate", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error { return ignoreCanceled(app.ledger.RunSweeper(gctx, cfg.Idempotency.SweepInterval)) })
	g.Go(func() error { return ignoreCanceled(app.worker.Run(gctx)) })
	g.Go(func() error {
		reloadOnHangup(gctx, app, log)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("graceful shutdown: %w", err))
		}
		if app.dispatcher != nil {
			if err := app.dispatcher.Close(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("tracing shutdown: %w", err))
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

// reloadOnHangup recompiles the rules file on SIGHUP. A bad file keeps the
// previous rules in force.
func reloadOnHangup(ctx context.Context, app *application, log *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := app.rules.Reload(ctx); err != nil {
				log.Warn("keeping previous rules", "error", err)
			}
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
