// Package app 组装 api 与 worker 共用的依赖。
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"certgen/internal/config"
	"certgen/internal/database"
	"certgen/internal/dateformat"
	"certgen/internal/fonts"
	"certgen/internal/generation"
	"certgen/internal/imageload"
	"certgen/internal/numbering"
	"certgen/internal/render"
	"certgen/internal/storage"
	"certgen/internal/variables"
)

// NewLogger 按 LOG_FORMAT / LOG_LEVEL 构造 slog.Logger 并设为默认。
func NewLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// Services 是已连接的外部资源与证书生成流水线。
type Services struct {
	DB           *gorm.DB
	Redis        *redis.Client
	Storage      *storage.Client
	Loader       *imageload.Loader
	Images       *imageload.Cache
	Fonts        *fonts.Registry
	Templates    *database.TemplateStore
	Layouts      *database.LayoutStore
	Members      *database.MemberStore
	Certificates *database.CertificateStore
	Jobs         *database.JobStore
	Orchestrator *generation.Orchestrator
}

// New 连接数据库、Redis 与对象存储，并组装生成流水线。
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Services, error) {
	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	logger.Info("database ready", slog.String("host", cfg.Database.Host), slog.String("db", cfg.Database.Name))

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		return nil, fmt.Errorf("init storage client: %w", err)
	}
	logger.Info("storage client ready", slog.String("bucket", cfg.MinIO.Bucket))

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	registry, err := fonts.NewRegistry()
	if err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("init fonts: %w", err)
	}
	if dir := strings.TrimSpace(cfg.Generation.FontDir); dir != "" {
		n, err := registry.LoadDir(dir)
		if err != nil {
			logger.Warn("load font dir failed", slog.String("dir", dir), slog.Any("error", err))
		} else {
			logger.Info("fonts loaded", slog.String("dir", dir), slog.Int("count", n))
		}
	}

	loader := imageload.New(storageClient)
	images := imageload.NewCache(loader, 0)

	s := &Services{
		DB:           db,
		Redis:        redisClient,
		Storage:      storageClient,
		Loader:       loader,
		Images:       images,
		Fonts:        registry,
		Templates:    database.NewTemplateStore(db),
		Layouts:      database.NewLayoutStore(db),
		Members:      database.NewMemberStore(db),
		Certificates: database.NewCertificateStore(db),
		Jobs:         database.NewJobStore(db),
	}

	gen := cfg.Generation
	s.Orchestrator = &generation.Orchestrator{
		Templates: s.Templates,
		Layouts:   s.Layouts,
		Images:    images,
		Renderer: &render.Renderer{
			Fonts:   registry,
			Images:  images,
			BaseURL: gen.PublicBaseURL,
			Logger:  logger,
		},
		Deriver: variables.Deriver{
			Numbers:  numbering.NewRedisSequence(redisClient, gen.NumberPrefix),
			Fallback: numbering.NewSnowflake(gen.SnowflakeNode, gen.NumberPrefix),
			Dates:    dateformat.Formatter{Pattern: gen.DateFormat, Locale: gen.Locale},
			Pattern:  gen.DateFormat,
			Locale:   gen.Locale,
			Logger:   logger,
		},
		Uploader:       storageClient,
		Certificates:   s.Certificates,
		ThumbnailWidth: gen.ThumbnailWidth,
		Concurrency:    gen.Concurrency,
		Logger:         logger,
	}
	return s, nil
}

// Close 释放连接。
func (s *Services) Close() error {
	var firstErr error
	if err := s.Redis.Close(); err != nil {
		firstErr = err
	}
	if sqlDB, err := s.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
