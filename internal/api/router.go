package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"certgen/internal/api/middleware"
	"certgen/internal/config"
	"certgen/internal/metrics"
)

// NewRouter 构建 Gin 路由引擎：公共中间件、健康检查与指标端点。
func NewRouter(cfg *config.Config, logger *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.CorrelationIDMiddleware(),
		middleware.SlogLoggerMiddleware(logger),
		metrics.GinMiddleware(),
	)
	if cfg != nil && cfg.API.UploadMaxBytes > 0 {
		// multipart 超出部分写入临时文件。
		router.MaxMultipartMemory = cfg.API.UploadMaxBytes
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
