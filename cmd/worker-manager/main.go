// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"reminder-engine/internal/common/camunda"
	"reminder-engine/internal/common/config"
	"reminder-engine/internal/common/database"
	"reminder-engine/internal/common/logger"
	"reminder-engine/internal/common/observability"
	"reminder-engine/internal/reminders/dispatch"
	"reminder-engine/internal/reminders/jobrunner"
	dn "reminder-engine/internal/workers/reminders/dispatch-notifications"
	rrj "reminder-engine/internal/workers/reminders/run-reminder-job"
	"reminder-engine/pkg/registry"
)

// registrar is implemented by every worker handler.
type registrar interface {
	Register() error
	Close()
	GetTaskType() string
	Activity() registry.Activity
}

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog, err := logger.Build(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		zapLog = logger.New("info", "console")
	}
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting worker manager...")

	obs := observability.New(cfg.Observability.ServiceName)
	defer obs.Shutdown()

	shutdownTracing, err := observability.InitTracerProvider(cfg.Observability.ServiceName, cfg.Observability.JaegerEndpoint)
	if err != nil {
		zapLog.Warn("tracing disabled", zap.Error(err))
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(ctx)
		}()
	}

	ctx := context.Background()

	// --- Zeebe ---
	var zeebe *camunda.Client
	err = retryWithBackoff(func() error {
		var err error
		zeebe, err = camunda.NewClient(camunda.ConfigFromApp(cfg.Camunda))
		return err
	}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	defer zeebe.Close()
	zapLog.Info("Zeebe client connected successfully")

	// --- PostgreSQL ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	if applied, err := database.Migrate(ctx, pg.DB); err != nil {
		zapLog.Fatal("migrations failed", zap.Error(err))
	} else if len(applied) > 0 {
		zapLog.Info("Migrations applied", zap.Strings("versions", applied))
	}

	// --- Redis (run lock) ---
	runner := jobrunner.NewPostgres(pg.DB, nil, cfg, log)
	if cfg.Reminders.Lock.Enabled {
		rdb := database.NewRedis(cfg.Database.Redis)
		err = retryWithBackoff(func() error { return rdb.Ping(ctx) }, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer rdb.Close()
		runner = jobrunner.NewPostgres(pg.DB, rdb.Client, cfg, log)
		zapLog.Info("Redis connected successfully")
	}

	senders, err := dispatch.NewSenders(ctx, cfg)
	if err != nil {
		zapLog.Fatal("delivery transports failed", zap.Error(err))
	}
	dispatcher := dispatch.NewPostgres(pg.DB, senders, cfg, log)

	// --- Workers ---
	var handlers []registrar

	runHandler, err := rrj.NewHandler(rrj.HandlerOptions{
		AppConfig:     cfg,
		Camunda:       zeebe,
		Runner:        runner,
		Observability: obs,
		Logger:        log,
	})
	if err != nil {
		zapLog.Fatal("failed to create run-reminder-job handler", zap.Error(err))
	}
	handlers = append(handlers, runHandler)

	dispatchHandler, err := dn.NewHandler(dn.HandlerOptions{
		AppConfig:     cfg,
		Camunda:       zeebe,
		Dispatcher:    dispatcher,
		Observability: obs,
		Logger:        log,
	})
	if err != nil {
		zapLog.Fatal("failed to create dispatch-notifications handler", zap.Error(err))
	}
	handlers = append(handlers, dispatchHandler)

	activities := registry.New(cfg.App.Version, time.Now())
	for _, h := range handlers {
		if err := h.Register(); err != nil {
			zapLog.Fatal("worker registration failed", zap.String("taskType", h.GetTaskType()), zap.Error(err))
		}
		if err := activities.Add(h.Activity()); err != nil {
			zapLog.Fatal("activity registry", zap.Error(err))
		}
	}
	zapLog.Info("Workers registered", zap.Int("count", len(handlers)))

	// --- Health & Metrics Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, "healthy")
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		rctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := pg.Ping(rctx); err != nil {
			writeStatus(w, http.StatusServiceUnavailable, "postgres unavailable")
			return
		}
		if err := zeebe.HealthCheck(rctx); err != nil {
			writeStatus(w, http.StatusServiceUnavailable, "zeebe unavailable")
			return
		}
		writeStatus(w, http.StatusOK, "ready")
	})
	mux.HandleFunc("/activities", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(activities)
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: cfg.Observability.MetricsAddress, Handler: mux}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	for _, h := range handlers {
		h.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping metrics server", zap.Error(err))
	}

	zapLog.Info("Worker manager stopped gracefully")
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": status,
		"time":   time.Now().Format(time.RFC3339),
	})
}
