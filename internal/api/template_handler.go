package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"certgen/internal/api/middleware"
	"certgen/internal/database"
	"certgen/internal/editor"
	"certgen/internal/errcode"
	"certgen/internal/layout"
)

// 布局文档的请求体上限。
const maxLayoutBytes = 2 << 20

// TemplateRepository 读写模板记录。
type TemplateRepository interface {
	Get(ctx context.Context, id uint) (*database.Template, error)
	Create(ctx context.Context, tpl *database.Template) error
	SetImage(ctx context.Context, id uint, path string, width, height int, score bool) error
}

// LayoutRepository 整体读写布局文档。
type LayoutRepository interface {
	Get(ctx context.Context, templateID uint) (*layout.Config, error)
	Save(ctx context.Context, templateID uint, cfg *layout.Config) error
}

// ImageMeasurer 返回图片的原始像素尺寸。
type ImageMeasurer interface {
	Dimensions(ctx context.Context, src string) (int, int, error)
}

// TemplateHandler 负责模板与布局文档的 API。
type TemplateHandler struct {
	templates TemplateRepository
	layouts   LayoutRepository
	images    ImageMeasurer
	measurer  editor.Measurer
}

func NewTemplateHandler(templates TemplateRepository, layouts LayoutRepository, images ImageMeasurer, measurer editor.Measurer) *TemplateHandler {
	return &TemplateHandler{templates: templates, layouts: layouts, images: images, measurer: measurer}
}

type createTemplateRequest struct {
	Title string `json:"title" binding:"required"`
}

type templateDetailResponse struct {
	ID             uint       `json:"id"`
	Title          string     `json:"title"`
	ImagePath      string     `json:"image_path,omitempty"`
	ImageWidth     int        `json:"image_width,omitempty"`
	ImageHeight    int        `json:"image_height,omitempty"`
	IsDual         bool       `json:"is_dual"`
	ScoreImagePath string     `json:"score_image_path,omitempty"`
	HasLayout      bool       `json:"has_layout"`
	LayoutSavedAt  *time.Time `json:"layout_saved_at,omitempty"`
}

func templateDetail(t *database.Template) templateDetailResponse {
	return templateDetailResponse{
		ID:             t.ID,
		Title:          t.Title,
		ImagePath:      t.ImagePath,
		ImageWidth:     t.ImageWidth,
		ImageHeight:    t.ImageHeight,
		IsDual:         t.IsDual,
		ScoreImagePath: t.ScoreImagePath,
		HasLayout:      len(t.Layout) > 0 && string(t.Layout) != "null",
		LayoutSavedAt:  t.LayoutSavedAt,
	}
}

// POST /v1/templates
// 创建模板；底图通过 /v1/assets/upload?role=background 上传。
func (h *TemplateHandler) CreateTemplate(c *gin.Context) {
	var req createTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		BadRequest(c, "title is required")
		return
	}

	model := database.Template{Title: title}
	if err := h.templates.Create(c.Request.Context(), &model); err != nil {
		middleware.LoggerFromContext(c).Error("create template", slog.Any("error", err))
		Internal(c, "failed to create template")
		return
	}
	c.JSON(http.StatusCreated, templateDetail(&model))
}

// GET /v1/templates/:id
func (h *TemplateHandler) GetTemplate(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	tpl, err := h.templates.Get(c.Request.Context(), id)
	if err != nil {
		writeStoreError(c, err, "failed to query template")
		return
	}
	c.JSON(http.StatusOK, templateDetail(tpl))
}

// GET /v1/templates/:id/layout
// 尚未保存布局时 layout 为 null。
func (h *TemplateHandler) GetLayout(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	cfg, err := h.layouts.Get(c.Request.Context(), id)
	if err != nil {
		writeStoreError(c, err, "failed to load layout")
		return
	}
	c.JSON(http.StatusOK, gin.H{"template_id": id, "layout": cfg})
}

// PUT /v1/templates/:id/layout
// 整体替换布局文档；缺少必需图层时返回 422 并列出缺失的 id。
func (h *TemplateHandler) SaveLayout(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxLayoutBytes+1))
	if err != nil {
		BadRequest(c, "failed to read body")
		return
	}
	if len(body) > maxLayoutBytes {
		Error(c, http.StatusRequestEntityTooLarge, "layout document too large")
		return
	}
	cfg, err := layout.Decode(body)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	if err := h.layouts.Save(c.Request.Context(), id, cfg); err != nil {
		writeStoreError(c, err, "failed to save layout")
		return
	}
	c.JSON(http.StatusOK, gin.H{"template_id": id, "layout": cfg})
}

type layoutEventsRequest struct {
	Events []editor.Event `json:"events" binding:"required"`
}

// POST /v1/templates/:id/layout/events
// 按顺序把编辑器事件应用到已保存的布局，然后整体保存。
// 任一事件失败或保存校验失败时返回 422，已存布局不变；未完成的指针手势不跨请求保留。
func (h *TemplateHandler) ApplyLayoutEvents(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req layoutEventsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()
	cfg, err := h.layouts.Get(ctx, id)
	if err != nil {
		writeStoreError(c, err, "failed to load layout")
		return
	}
	if cfg == nil {
		NotFound(c, "template has no saved layout")
		return
	}

	ed := editor.New(cfg, h.measurer)
	for i, ev := range req.Events {
		if err := ed.Apply(ev); err != nil {
			ValidationFailed(c, err.Error(), gin.H{"event": i, "type": ev.Type})
			return
		}
	}
	if err := ed.Save(ctx, h.layouts, id); err != nil {
		writeStoreError(c, err, "failed to save layout")
		return
	}

	saved, err := h.layouts.Get(ctx, id)
	if err != nil {
		writeStoreError(c, err, "failed to load layout")
		return
	}
	resp := gin.H{"template_id": id, "layout": saved}
	if ref, ok := ed.Selected(); ok {
		resp["selected"] = ref
	}
	c.JSON(http.StatusOK, resp)
}

// POST /v1/templates/:id/layout/renormalize
// 模板底图更换后，按百分比重新计算所有像素字段。
func (h *TemplateHandler) RenormalizeLayout(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	tpl, err := h.templates.Get(ctx, id)
	if err != nil {
		writeStoreError(c, err, "failed to query template")
		return
	}
	if tpl.ImagePath == "" {
		ValidationFailed(c, "template has no background image", nil)
		return
	}
	cfg, err := h.layouts.Get(ctx, id)
	if err != nil {
		writeStoreError(c, err, "failed to load layout")
		return
	}
	if cfg == nil {
		NotFound(c, "template has no saved layout")
		return
	}

	width, height, err := h.images.Dimensions(ctx, tpl.ImagePath)
	if err != nil {
		middleware.LoggerFromContext(c).Warn("measure template image", slog.String("image_path", tpl.ImagePath), slog.Any("error", err))
		ErrorCode(c, http.StatusBadGateway, errcode.ResourceMissing, "template image unavailable", nil)
		return
	}
	canvas := layout.Canvas{Width: width, Height: height}
	cfg.Renormalize(canvas)
	if err := h.layouts.Save(ctx, id, cfg); err != nil {
		writeStoreError(c, err, "failed to save layout")
		return
	}
	c.JSON(http.StatusOK, gin.H{"template_id": id, "layout": cfg})
}

func uintParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		BadRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}

// writeStoreError 把持久层错误映射为 HTTP 响应。
func writeStoreError(c *gin.Context, err error, fallback string) {
	var missing *layout.MissingFieldsError
	switch {
	case errors.As(err, &missing):
		ValidationFailed(c, missing.Error(), gin.H{"namespace": missing.Namespace, "missing": missing.Missing})
	case errors.Is(err, database.ErrTemplateNotFound):
		NotFound(c, "template not found")
	case errors.Is(err, database.ErrCertificateNotFound):
		NotFound(c, "certificate not found")
	case errors.Is(err, database.ErrJobNotFound):
		NotFound(c, "job not found")
	case errors.Is(err, layout.ErrEmptyDocument):
		BadRequest(c, err.Error())
	default:
		middleware.LoggerFromContext(c).Error(fallback, slog.Any("error", err))
		Internal(c, fallback)
	}
}
