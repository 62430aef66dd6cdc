// Command batchd runs the weather and tourism batch platform: the job
// scheduler, the stale-execution sweeper and the ops HTTP listener.
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
	"time"

	"github.com/weatherflick/weather-flick-batch/internal/adapter/observability"
	"github.com/weatherflick/weather-flick-batch/internal/app"
	"github.com/weatherflick/weather-flick-batch/internal/config"
)

const shutdownGrace = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process so /metrics exposes
	// the HTTP, gateway, job and quality instrumentation.
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	sys, err := app.BuildSystem(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap failed", slog.Any("error", err))
		os.Exit(1)
	}

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	go sys.Sweeper.Run(sweepCtx)

	if err := sys.Scheduler.Start(ctx); err != nil {
		slog.Error("scheduler start failed", slog.Any("error", err))
		stopSweeper()
		sys.Close()
		os.Exit(1)
	}

	handler := app.BuildRouter(app.Options{
		Config:   cfg,
		Ledger:   sys.Ledger,
		Keys:     sys.Keys,
		Governor: sys.Governor,
		Checks:   sys.ReadyChecks(),
	})
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.OpsPort),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("ops listener starting", slog.Int("port", cfg.OpsPort))
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("ops listener error", slog.Any("error", err))
		}
	}

	// Stop intake first, then drain running jobs within the grace window.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if err := sys.Scheduler.Stop(shutdownCtx); err != nil {
		slog.Error("scheduler drain incomplete", slog.Any("error", err))
	}
	stopSweeper()
	sys.Close()
	slog.Info("batchd stopped")
}
