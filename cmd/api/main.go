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

	"github.com/hibiken/asynq"

	"certgen/internal/api"
	"certgen/internal/app"
	"certgen/internal/config"
	"certgen/internal/pdf"
)

func main() {
	cfg := config.MustLoad()
	logger := app.NewLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap api", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error("close services", slog.Any("error", err))
		}
	}()

	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr()}
	queue := asynq.NewClient(redisOpt)
	defer queue.Close()
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	previewTimeout := time.Duration(cfg.API.PreviewTimeoutSec) * time.Second
	router := api.NewRouter(cfg, logger)
	api.RegisterRoutes(router, api.Handlers{
		Templates: api.NewTemplateHandler(svc.Templates, svc.Layouts, svc.Loader, svc.Fonts),
		Assets:    api.NewAssetHandler(svc.Storage, svc.Templates, logger, cfg.Clamd.Addr, cfg.API.UploadMaxBytes),
		Jobs: api.NewJobHandler(
			svc.Templates, svc.Jobs, svc.Certificates,
			queue, inspector, svc.Storage,
			cfg.Generation.JobTimeout(),
		),
		Preview: api.NewPreviewHandler(
			svc.Templates, svc.Layouts, svc.Images, svc.Orchestrator,
			previewTimeout, cfg.Generation.ThumbnailWidth,
		),
		Certificates:   api.NewCertificateHandler(svc.Certificates, svc.Storage, pdf.Generator{Bin: cfg.Generation.ChromiumBin}),
		Members:        api.NewMemberHandler(svc.Members),
		Ws:             api.NewWsHandler(svc.Redis, svc.Jobs, logger, cfg.API.WSOrigins()),
		InternalSecret: cfg.API.InternalSecret,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown api server", slog.Any("error", err))
		}
	}()

	logger.Info("api listening", slog.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("api server stopped", slog.Any("error", err))
	}
}
