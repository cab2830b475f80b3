package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"certgen/internal/app"
	"certgen/internal/config"
	"certgen/internal/metrics"
	"certgen/internal/tasks"
	"certgen/internal/worker"
)

func main() {
	cfg := config.MustLoad()
	logger := app.NewLogger(cfg.Log)

	svc, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("bootstrap worker", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error("close services", slog.Any("error", err))
		}
	}()

	if port := cfg.Generation.MetricsPort; port > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("worker metrics server stopped", slog.Any("error", err))
			}
		}()
		defer metricsSrv.Close()
	}

	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr()}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Generation.WorkerSlots,
		Logger:      newAsynqLogger(logger),
	})

	handler := worker.NewGenerationHandler(
		svc.Orchestrator,
		svc.Jobs,
		svc.Members,
		svc.Storage,
		svc.Redis,
		logger,
		cfg.Generation.JobTimeout(),
	)

	mux := asynq.NewServeMux()
	mux.Use(metrics.AsynqMetricsMiddleware())
	mux.Handle(tasks.TypeGenerationBatch, handler)

	logger.Info("worker service started",
		slog.String("redis_addr", cfg.Redis.Addr()),
		slog.Int("slots", cfg.Generation.WorkerSlots),
		slog.Int("concurrency", cfg.Generation.Concurrency),
	)
	if err := server.Run(mux); err != nil {
		logger.Error("worker server stopped", slog.Any("error", err))
	}
}

// asynqLogger 把 asynq 的日志转到 slog。
type asynqLogger struct {
	l *slog.Logger
}

func newAsynqLogger(l *slog.Logger) asynqLogger {
	return asynqLogger{l: l.With(slog.String("component", "asynq"))}
}

func (a asynqLogger) Debug(args ...any) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...any)  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...any)  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...any) { a.l.Error(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...any) {
	a.l.Error(fmt.Sprint(args...))
	os.Exit(1)
}
