package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/felixgeelhaar/circulum/adapter/api"
	"github.com/felixgeelhaar/circulum/internal/app"
	"github.com/felixgeelhaar/circulum/pkg/config"
	"github.com/felixgeelhaar/circulum/pkg/observability"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}
	logger := config.LoggerFromConfig(cfg)
	logger.Info("starting circulum worker", "version", config.Version, "env", cfg.AppEnv)

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize container", "error", err)
		return 1
	}

	if err := container.Bus.Start(ctx); err != nil {
		logger.Error("failed to start event bus", "error", err)
		_ = container.Shutdown(context.Background())
		return 1
	}
	if cfg.SchedulerEnabled {
		if err := container.Scheduler.Start(ctx); err != nil {
			logger.Error("failed to start payment scheduler", "error", err)
			_ = container.Shutdown(context.Background())
			return 1
		}
	} else {
		logger.Info("payment scheduler disabled")
	}

	apiCfg := api.DefaultServerConfig()
	apiCfg.Addr = cfg.APIAddr
	apiSrv := api.NewServer(apiCfg, api.HandlersFromContainer(container), logger)

	healthSrv := &http.Server{
		Addr:              cfg.WorkerHealthAddr,
		Handler:           healthRouter(container),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		if err := apiSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		logger.Info("health server starting", "addr", cfg.WorkerHealthAddr)
		if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	code := 0
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		logger.Error("listener failed", "error", err)
		code = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server shutdown error", "error", err)
	}
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("health server shutdown error", "error", err)
	}
	if err := container.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
		code = 1
	}

	logger.Info("worker stopped")
	return code
}

// healthRouter serves liveness, readiness and prometheus metrics.
func healthRouter(c *app.Container) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		sched := c.Scheduler.GetStatus(r.Context())
		bus := c.Bus.Stats()
		writeJSON(w, http.StatusOK, map[string]any{
			"status":           "ok",
			"cycle_running":    sched.IsRunning,
			"cycles_completed": sched.CyclesCompleted,
			"skipped_ticks":    sched.SkippedTicks,
			"last_cycle_at":    sched.LastCycleAt,
			"last_error":       sched.LastError,
			"events_queued":    bus.Queued,
			"events_dropped":   bus.Dropped,
			"deliveries":       bus.Delivered,
			"delivery_errors":  bus.Failed,
		})
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		health := c.Health.Check(checkCtx)
		status := http.StatusOK
		if health.Status == observability.HealthStatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, health)
	})

	r.Handle("/metrics", c.Prometheus.Handler())
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
