package api

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"certgen/internal/api/middleware"
	"certgen/internal/errcode"
	"certgen/internal/generation"
	"certgen/internal/imageload"
	"certgen/internal/layout"
	"certgen/internal/metrics"
	"certgen/internal/render"
	"certgen/internal/variables"
)

// 预览不占用编号计数器。
const previewCertificateNo = "PREVIEW"

// FaceRenderer 渲染单个接收人的一面，由 generation.Orchestrator 实现。
type FaceRenderer interface {
	RenderFace(ctx context.Context, cfg *layout.Config, ns layout.Namespace, bg image.Image, rec generation.Recipient) (*generation.Face, error)
}

// PreviewHandler 同步渲染一张证书预览。
type PreviewHandler struct {
	templates TemplateRepository
	layouts   LayoutRepository
	images    imageload.Source
	faces     FaceRenderer
	timeout   time.Duration
	thumbnail int
}

func NewPreviewHandler(templates TemplateRepository, layouts LayoutRepository, images imageload.Source, faces FaceRenderer, timeout time.Duration, thumbnailWidth int) *PreviewHandler {
	return &PreviewHandler{
		templates: templates,
		layouts:   layouts,
		images:    images,
		faces:     faces,
		timeout:   timeout,
		thumbnail: thumbnailWidth,
	}
}

type previewRequest struct {
	Namespace     string            `json:"namespace"`
	Name          string            `json:"name"`
	CertificateNo string            `json:"certificate_no"`
	Description   string            `json:"description"`
	IssueDate     string            `json:"issue_date"`
	ExpiredDate   string            `json:"expired_date"`
	Data          map[string]string `json:"data"`
	Score         map[string]string `json:"score"`
	Extra         map[string]string `json:"extra"`
	// Layout 非空时使用编辑器中尚未保存的布局。
	Layout json.RawMessage `json:"layout"`
}

// POST /v1/templates/:id/preview
// 返回 PNG；?thumbnail=1 时返回 JPEG 缩略图。
func (h *PreviewHandler) Preview(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req previewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	ns := layout.NamespaceCertificate
	if req.Namespace != "" {
		ns = layout.Namespace(req.Namespace)
		if !ns.Valid() {
			BadRequest(c, "invalid namespace")
			return
		}
	}

	ctx := c.Request.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	log := middleware.LoggerFromContext(c)

	tpl, err := h.templates.Get(ctx, id)
	if err != nil {
		writeStoreError(c, err, "failed to query template")
		return
	}
	bgPath := tpl.ImagePath
	if ns == layout.NamespaceScore {
		bgPath = tpl.ScoreImagePath
	}
	if bgPath == "" {
		ValidationFailed(c, generation.ErrNoBackground.Error(), gin.H{"namespace": ns})
		return
	}

	var cfg *layout.Config
	if len(req.Layout) > 0 && string(req.Layout) != "null" {
		if cfg, err = layout.Decode(req.Layout); err != nil {
			BadRequest(c, err.Error())
			return
		}
	} else {
		if cfg, err = h.layouts.Get(ctx, id); err != nil {
			writeStoreError(c, err, "failed to load layout")
			return
		}
		if cfg == nil {
			ValidationFailed(c, generation.ErrNoLayout.Error(), nil)
			return
		}
	}

	bg, err := h.images.Load(ctx, bgPath)
	if err != nil {
		log.Warn("load preview background", slog.String("image_path", bgPath), slog.Any("error", err))
		ErrorCode(c, http.StatusBadGateway, errcode.ResourceMissing, "template image unavailable", nil)
		return
	}

	start := time.Now()
	no := req.CertificateNo
	if no == "" {
		no = previewCertificateNo
	}
	face, err := h.faces.RenderFace(ctx, cfg, ns, bg, generation.Recipient{
		Certificate: variables.CertificateData{
			Name:          req.Name,
			CertificateNo: no,
			Description:   req.Description,
			IssueDate:     req.IssueDate,
			ExpiredDate:   req.ExpiredDate,
		},
		Row:   req.Data,
		Score: req.Score,
		Extra: req.Extra,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.ObservePreview(string(ns), "timeout", time.Since(start))
			Error(c, http.StatusGatewayTimeout, "preview timed out")
			return
		}
		metrics.ObservePreview(string(ns), "error", time.Since(start))
		log.Error("render preview", slog.Any("error", err))
		Internal(c, "failed to render preview")
		return
	}
	metrics.ObservePreview(string(ns), "ok", time.Since(start))

	if c.Query("thumbnail") == "1" {
		data, err := render.EncodeThumbnail(face.Image, h.thumbnail)
		if err != nil {
			Internal(c, "failed to encode preview")
			return
		}
		c.Data(http.StatusOK, "image/jpeg", data)
		return
	}
	data, err := render.EncodePNG(face.Image)
	if err != nil {
		Internal(c, "failed to encode preview")
		return
	}
	c.Data(http.StatusOK, "image/png", data)
}
