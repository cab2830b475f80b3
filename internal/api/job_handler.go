package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"gorm.io/datatypes"

	"certgen/internal/api/middleware"
	"certgen/internal/database"
	"certgen/internal/errcode"
	"certgen/internal/generation"
	"certgen/internal/tasks"
)

// 名单表格上传上限。
const maxSheetBytes = 10 << 20

// JobRepository 读写批量任务。
type JobRepository interface {
	Create(ctx context.Context, job *database.GenerationJob) error
	Get(ctx context.Context, id string) (*database.GenerationJob, error)
	Finish(ctx context.Context, id, status string, generated, failed, total, code int, message string) error
}

// CertificateLister 列出任务产出的证书。
type CertificateLister interface {
	ListByJob(ctx context.Context, jobID string) ([]database.Certificate, error)
}

// Enqueuer 由 asynq.Client 实现。
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Canceller 由 asynq.Inspector 实现。DeleteTask 移除尚未执行的任务，
// CancelProcessing 通知正在执行的任务。
type Canceller interface {
	DeleteTask(queue, id string) error
	CancelProcessing(id string) error
}

// JobHandler 负责创建与查询批量生成任务。
type JobHandler struct {
	templates    TemplateRepository
	jobs         JobRepository
	certificates CertificateLister
	queue        Enqueuer
	canceller    Canceller
	sheets       AssetStorage
	timeout      time.Duration
}

func NewJobHandler(templates TemplateRepository, jobs JobRepository, certificates CertificateLister, queue Enqueuer, canceller Canceller, sheets AssetStorage, timeout time.Duration) *JobHandler {
	return &JobHandler{
		templates:    templates,
		jobs:         jobs,
		certificates: certificates,
		queue:        queue,
		canceller:    canceller,
		sheets:       sheets,
		timeout:      timeout,
	}
}

type createJobRequest struct {
	MemberIDs   []uint            `json:"member_ids" form:"member_ids"`
	Description string            `json:"description" form:"description"`
	IssueDate   string            `json:"issue_date" form:"issue_date"`
	ExpiredDate string            `json:"expired_date" form:"expired_date"`
	Extra       map[string]string `json:"extra" form:"-"`
}

type jobResponse struct {
	ID           string     `json:"id"`
	TemplateID   uint       `json:"template_id"`
	Source       string     `json:"source"`
	Status       string     `json:"status"`
	Generated    int        `json:"generated"`
	Failed       int        `json:"failed"`
	Total        int        `json:"total"`
	ErrorCode    int        `json:"error_code"`
	Error        string     `json:"error,omitempty"`
	Result       string     `json:"result"`
	CreatedAt    time.Time  `json:"created_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Certificates []gin.H    `json:"certificates,omitempty"`
}

func newJobResponse(job *database.GenerationJob) jobResponse {
	return jobResponse{
		ID:         job.ID,
		TemplateID: job.TemplateID,
		Source:     job.Source,
		Status:     job.Status,
		Generated:  job.Generated,
		Failed:     job.Failed,
		Total:      job.Total,
		ErrorCode:  job.ErrorCode,
		Error:      job.Error,
		Result:     generation.Summary{Generated: job.Generated, Total: job.Total}.String(),
		CreatedAt:  job.CreatedAt,
		FinishedAt: job.FinishedAt,
	}
}

// POST /v1/templates/:id/jobs
// JSON 请求按已保存的接收人生成；multipart 请求携带 file 字段时按上传的 xlsx/csv 名单生成。
func (h *JobHandler) CreateJob(c *gin.Context) {
	templateID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c)

	if _, err := h.templates.Get(ctx, templateID); err != nil {
		writeStoreError(c, err, "failed to query template")
		return
	}

	jobID := uuid.NewString()
	payload := tasks.GenerationPayload{
		JobID:         jobID,
		TemplateID:    templateID,
		Source:        generation.SourceMembers,
		CorrelationID: middleware.GetCorrelationID(c),
	}

	var req createJobRequest
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		if err := c.ShouldBind(&req); err != nil {
			BadRequest(c, err.Error())
			return
		}
		if raw := c.PostForm("extra"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &req.Extra); err != nil {
				BadRequest(c, "extra must be a json object")
				return
			}
		}
		file, err := c.FormFile("file")
		if err == nil {
			ext := strings.ToLower(filepath.Ext(file.Filename))
			if ext != ".xlsx" && ext != ".csv" {
				ValidationFailed(c, "unsupported spreadsheet type", gin.H{"extension": ext})
				return
			}
			if file.Size > maxSheetBytes {
				ValidationFailed(c, "spreadsheet too large", gin.H{"max_bytes": maxSheetBytes})
				return
			}
			reader, err := file.Open()
			if err != nil {
				Internal(c, "failed to open file")
				return
			}
			defer reader.Close()
			key := "imports/" + jobID + ext
			if _, err := h.sheets.UploadFile(ctx, key, reader, file.Size, "application/octet-stream"); err != nil {
				log.Error("upload spreadsheet", slog.Any("error", err))
				Internal(c, "failed to store spreadsheet")
				return
			}
			payload.Source = generation.SourceSpreadsheet
			payload.SheetKey = key
			payload.SheetName = file.Filename
		}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	payload.MemberIDs = req.MemberIDs
	payload.Description = strings.TrimSpace(req.Description)
	payload.IssueDate = strings.TrimSpace(req.IssueDate)
	payload.ExpiredDate = strings.TrimSpace(req.ExpiredDate)
	payload.Extra = req.Extra

	raw, err := json.Marshal(payload)
	if err != nil {
		Internal(c, "failed to encode job")
		return
	}
	job := &database.GenerationJob{
		ID:         jobID,
		TemplateID: templateID,
		Source:     payload.Source,
		Request:    datatypes.JSON(raw),
	}
	if err := h.jobs.Create(ctx, job); err != nil {
		log.Error("create job", slog.Any("error", err))
		Internal(c, "failed to create job")
		return
	}

	task, err := tasks.NewGenerationTask(payload)
	if err != nil {
		Internal(c, "failed to build task")
		return
	}
	opts := []asynq.Option{asynq.Queue(tasks.QueueDefault), asynq.MaxRetry(3)}
	if h.timeout > 0 {
		opts = append(opts, asynq.Timeout(h.timeout))
	}
	if _, err := h.queue.EnqueueContext(ctx, task, opts...); err != nil {
		log.Error("enqueue generation task", slog.String("job_id", jobID), slog.Any("error", err))
		if ferr := h.jobs.Finish(ctx, jobID, database.JobStatusFailed, 0, 0, 0, errcode.SystemError, "enqueue failed"); ferr != nil {
			log.Error("mark job failed", slog.Any("error", ferr))
		}
		Internal(c, "failed to enqueue job")
		return
	}

	log.Info("generation job queued", slog.String("job_id", jobID), slog.String("source", payload.Source))
	c.JSON(http.StatusAccepted, newJobResponse(job))
}

// GET /v1/jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	ctx := c.Request.Context()
	job, err := h.jobs.Get(ctx, c.Param("id"))
	if err != nil {
		writeStoreError(c, err, "failed to query job")
		return
	}
	resp := newJobResponse(job)
	if c.Query("certificates") == "1" {
		certs, err := h.certificates.ListByJob(ctx, job.ID)
		if err != nil {
			writeStoreError(c, err, "failed to list certificates")
			return
		}
		resp.Certificates = make([]gin.H, 0, len(certs))
		for _, cert := range certs {
			resp.Certificates = append(resp.Certificates, certificateJSON(&cert))
		}
	}
	c.JSON(http.StatusOK, resp)
}

// POST /v1/internal/jobs/:id/cancel
// 尚未执行（排队或等待重试）的任务直接删除并标记为 cancelled；
// 正在执行的任务改为发出取消信号，已生成的证书保留。
func (h *JobHandler) CancelJob(c *gin.Context) {
	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c)
	job, err := h.jobs.Get(ctx, c.Param("id"))
	if err != nil {
		writeStoreError(c, err, "failed to query job")
		return
	}
	if job.Status != database.JobStatusRunning && job.Status != database.JobStatusQueued {
		Conflict(c, "job is not running")
		return
	}

	err = h.canceller.DeleteTask(tasks.QueueDefault, job.ID)
	if err == nil {
		if err := h.jobs.Finish(ctx, job.ID, database.JobStatusCancelled, job.Generated, job.Failed, job.Total, errcode.SystemError, "generation cancelled"); err != nil {
			log.Error("mark job cancelled", slog.String("job_id", job.ID), slog.Any("error", err))
			Internal(c, "failed to cancel job")
			return
		}
		log.Info("queued job cancelled", slog.String("job_id", job.ID))
		c.JSON(http.StatusOK, gin.H{"id": job.ID, "status": database.JobStatusCancelled})
		return
	}
	// 任务已被 worker 取走（active）或已不在队列中：交给正在执行的 handler 处理。
	log.Info("task not deletable, signalling worker", slog.String("job_id", job.ID), slog.Any("reason", err))
	if err := h.canceller.CancelProcessing(job.ID); err != nil {
		log.Error("cancel job", slog.String("job_id", job.ID), slog.Any("error", err))
		Internal(c, "failed to cancel job")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": job.ID, "status": "cancelling"})
}
