package metrics

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "certgen",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "按路由模板统计的 HTTP 耗时（秒）。",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		},
		[]string{"method", "route", "code"},
	)

	httpInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "certgen",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "当前正在处理的 HTTP 请求数量。",
		},
	)

	previewDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "certgen",
			Subsystem: "preview",
			Name:      "render_duration_seconds",
			Help:      "同步预览渲染耗时（秒）。",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		},
		[]string{"namespace", "result"},
	)
)

// GinMiddleware 采集 HTTP 耗时；route 使用路由模板，状态码按 2xx/4xx/5xx 归类。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()
		c.Next()

		// /cek/:no 等路径只记录模板，避免标签基数随编号增长。
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		code := fmt.Sprintf("%dxx", c.Writer.Status()/100)
		httpDuration.WithLabelValues(c.Request.Method, route, code).Observe(time.Since(start).Seconds())
	}
}

// ObservePreview 记录一次预览渲染；result 为 ok / error / timeout。
func ObservePreview(namespace, result string, elapsed time.Duration) {
	previewDuration.WithLabelValues(namespace, result).Observe(elapsed.Seconds())
}
