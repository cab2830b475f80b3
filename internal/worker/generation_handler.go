package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"certgen/internal/database"
	"certgen/internal/errcode"
	"certgen/internal/generation"
	"certgen/internal/layout"
	"certgen/internal/spreadsheet"
	"certgen/internal/tasks"
)

// Runner 执行一次批量任务，由 generation.Orchestrator 实现。
type Runner interface {
	Run(ctx context.Context, job generation.Job) (generation.Summary, error)
}

// JobRecorder 持久化任务状态。
type JobRecorder interface {
	MarkRunning(ctx context.Context, id string, total int) error
	Progress(ctx context.Context, id string, generated, failed int) error
	Finish(ctx context.Context, id, status string, generated, failed, total, code int, message string) error
}

// SheetOpener 读取已上传的名单表格。
type SheetOpener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// GenerationHandler 负责消费批量生成任务。
type GenerationHandler struct {
	runner    Runner
	jobs      JobRecorder
	members   generation.MemberLister
	sheets    SheetOpener
	publisher Publisher
	logger    *slog.Logger
	timeout   time.Duration
}

// NewGenerationHandler 创建任务处理器；timeout <= 0 表示不限时。
func NewGenerationHandler(
	runner Runner,
	jobs JobRecorder,
	members generation.MemberLister,
	sheets SheetOpener,
	publisher Publisher,
	logger *slog.Logger,
	timeout time.Duration,
) *GenerationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerationHandler{
		runner:    runner,
		jobs:      jobs,
		members:   members,
		sheets:    sheets,
		publisher: publisher,
		logger:    logger,
		timeout:   timeout,
	}
}

// ProcessTask 实现 asynq.Handler。
func (h *GenerationHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload tasks.GenerationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("unmarshal task payload failed", slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	log := h.logger.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.String("job_id", payload.JobID),
		slog.Int("template_id", int(payload.TemplateID)),
	)
	log.Info("starting certificate generation task", slog.String("source", payload.Source))

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	source, err := h.source(ctx, payload)
	if err != nil {
		return h.fail(ctx, log, payload, err, true)
	}

	if err := h.jobs.MarkRunning(ctx, payload.JobID, 0); err != nil {
		log.Warn("mark job running failed", slog.Any("error", err))
	}

	summary, err := h.runner.Run(ctx, generation.Job{
		ID:         payload.JobID,
		TemplateID: payload.TemplateID,
		Source:     source,
		OnProgress: func(p generation.Progress) { h.progress(ctx, log, payload, p) },
	})
	if err != nil {
		return h.fail(ctx, log, payload, err, permanent(err))
	}

	status := database.JobStatusDone
	code := errcode.OK
	message := ""
	switch {
	case summary.State == generation.StateCancelled:
		status = database.JobStatusCancelled
		code = errcode.SystemError
		message = "generation cancelled"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			message = "generation timed out"
		}
	case summary.Failed > 0:
		code = errcode.PartialFailure
		message = fmt.Sprintf("%d of %d certificates failed", summary.Failed, summary.Total)
	}

	// 任务 ctx 可能已超时，最终状态用独立的 ctx 写入。
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := h.jobs.Finish(finishCtx, payload.JobID, status, summary.Generated, summary.Failed, summary.Total, code, message); err != nil {
		log.Error("update job failed", slog.Any("error", err))
		return err
	}

	notify := ProgressMessage{
		Type:          MessageFinished,
		JobID:         payload.JobID,
		State:         string(summary.State),
		Done:          summary.Generated + summary.Failed,
		Generated:     summary.Generated,
		Failed:        summary.Failed,
		Total:         summary.Total,
		CorrelationID: payload.CorrelationID,
		ErrorCode:     code,
		ErrorMessage:  message,
		Failures:      summary.Failures,
	}
	if err := publish(finishCtx, h.publisher, notify); err != nil {
		log.Error("publish finish notification failed", slog.Any("error", err))
	}

	log.Info("certificate generation task completed", slog.String("result", summary.String()), slog.String("state", string(summary.State)))
	return nil
}

func (h *GenerationHandler) source(ctx context.Context, p tasks.GenerationPayload) (generation.Source, error) {
	defaults := generation.Defaults{
		Description: p.Description,
		IssueDate:   p.IssueDate,
		ExpiredDate: p.ExpiredDate,
		Extra:       p.Extra,
	}

	switch p.Source {
	case generation.SourceMembers, "":
		return generation.MemberSource{Members: h.members, IDs: p.MemberIDs, Defaults: defaults}, nil
	case generation.SourceSpreadsheet:
		if p.SheetKey == "" {
			return nil, errors.New("spreadsheet job has no sheet key")
		}
		rc, err := h.sheets.Open(ctx, p.SheetKey)
		if err != nil {
			return nil, fmt.Errorf("open sheet %s: %w", p.SheetKey, err)
		}
		defer func() { _ = rc.Close() }()
		name := p.SheetName
		if name == "" {
			name = p.SheetKey
		}
		rows, err := spreadsheet.Parse(rc, name)
		if err != nil {
			return nil, fmt.Errorf("parse sheet %s: %w", p.SheetKey, err)
		}
		return generation.RowSource{Rows: rows, Defaults: defaults}, nil
	default:
		return nil, fmt.Errorf("unknown generation source %q", p.Source)
	}
}

func (h *GenerationHandler) progress(ctx context.Context, log *slog.Logger, payload tasks.GenerationPayload, p generation.Progress) {
	switch p.State {
	case generation.StateGenerating:
		if p.Done == 0 {
			if err := h.jobs.MarkRunning(ctx, payload.JobID, p.Total); err != nil {
				log.Warn("record job total failed", slog.Any("error", err))
			}
		} else if err := h.jobs.Progress(ctx, payload.JobID, p.Generated, p.Failed); err != nil {
			log.Warn("record job progress failed", slog.Any("error", err))
		}
	case generation.StateDone, generation.StateCancelled, generation.StateFailedToStart:
		// 最终状态由 ProcessTask 发布。
		return
	}

	msg := ProgressMessage{
		Type:          MessageProgress,
		JobID:         p.JobID,
		State:         string(p.State),
		Done:          p.Done,
		Generated:     p.Generated,
		Failed:        p.Failed,
		Total:         p.Total,
		CorrelationID: payload.CorrelationID,
	}
	if err := publish(ctx, h.publisher, msg); err != nil {
		log.Warn("publish progress failed", slog.Any("error", err))
	}
}

// fail 记录 failed-to-start。可重试的错误只在最后一次尝试时落库并通知。
func (h *GenerationHandler) fail(ctx context.Context, log *slog.Logger, payload tasks.GenerationPayload, err error, final bool) error {
	log.Error("generation failed to start", slog.Any("error", err))
	if !final && !isFinalAsynqAttempt(ctx) {
		return err
	}

	code := errcode.SystemError
	var missing *layout.MissingFieldsError
	if errors.As(err, &missing) || errors.Is(err, generation.ErrNoLayout) || errors.Is(err, generation.ErrNoBackground) {
		code = errcode.ValidationFailed
	}
	message := strings.TrimSpace(err.Error())

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if ferr := h.jobs.Finish(finishCtx, payload.JobID, database.JobStatusFailed, 0, 0, 0, code, message); ferr != nil {
		log.Error("update job failed", slog.Any("error", ferr))
	}
	notify := ProgressMessage{
		Type:          MessageFinished,
		JobID:         payload.JobID,
		State:         string(generation.StateFailedToStart),
		CorrelationID: payload.CorrelationID,
		ErrorCode:     code,
		ErrorMessage:  message,
	}
	if perr := publish(finishCtx, h.publisher, notify); perr != nil {
		log.Error("publish failure notification failed", slog.Any("error", perr))
	}

	if final {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	return err
}

// permanent 判断重试也无法恢复的启动错误。
func permanent(err error) bool {
	var missing *layout.MissingFieldsError
	return errors.As(err, &missing) ||
		errors.Is(err, generation.ErrNoLayout) ||
		errors.Is(err, generation.ErrNoBackground) ||
		errors.Is(err, database.ErrTemplateNotFound)
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}
