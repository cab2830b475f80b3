package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	taskOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "certgen",
			Subsystem: "asynq",
			Name:      "tasks_total",
			Help:      "按结果统计的任务数：ok / retry / skip_retry / cancelled。",
		},
		[]string{"task_type", "outcome"},
	)

	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "certgen",
			Subsystem: "asynq",
			Name:      "task_duration_seconds",
			Help:      "批量任务耗时分布（秒）。",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"task_type"},
	)

	taskInProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "certgen",
			Subsystem: "asynq",
			Name:      "tasks_in_progress",
			Help:      "当前正在处理的任务数量。",
		},
		[]string{"task_type"},
	)
)

func taskOutcome(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, asynq.SkipRetry):
		return "skip_retry"
	case errors.Is(ctx.Err(), context.Canceled):
		return "cancelled"
	default:
		return "retry"
	}
}

// AsynqMetricsMiddleware 记录任务耗时与结果。
func AsynqMetricsMiddleware() asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
			taskType := task.Type()
			inProgress := taskInProgress.WithLabelValues(taskType)
			inProgress.Inc()
			defer inProgress.Dec()

			start := time.Now()
			err := next.ProcessTask(ctx, task)
			taskDuration.WithLabelValues(taskType).Observe(time.Since(start).Seconds())
			taskOutcomes.WithLabelValues(taskType, taskOutcome(ctx, err)).Inc()
			return err
		})
	}
}
