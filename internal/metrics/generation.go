package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	certificatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "certgen",
			Subsystem: "generation",
			Name:      "certificates_total",
			Help:      "按结果统计的证书生成数量。",
		},
		[]string{"result"},
	)

	certificateDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "certgen",
			Subsystem: "generation",
			Name:      "certificate_duration_seconds",
			Help:      "单张证书从解析到入库的耗时（秒）。",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "certgen",
			Subsystem: "generation",
			Name:      "jobs_total",
			Help:      "按最终状态统计的批量任务数量。",
		},
		[]string{"state"},
	)
)

// ObserveCertificate 记录一张证书的结果（generated / failed）与耗时。
func ObserveCertificate(result string, elapsed time.Duration) {
	certificatesTotal.WithLabelValues(result).Inc()
	certificateDuration.Observe(elapsed.Seconds())
}

// ObserveJob 记录任务的最终状态。
func ObserveJob(state string) {
	jobsTotal.WithLabelValues(state).Inc()
}
