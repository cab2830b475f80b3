package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"certgen/internal/api/middleware"
	"certgen/internal/database"
	"certgen/internal/errcode"
	"certgen/internal/imageload"
	"certgen/internal/storage"
)

// CertificateReader 读取已生成的证书。
type CertificateReader interface {
	Get(ctx context.Context, id uint) (*database.Certificate, error)
	FindByNumber(ctx context.Context, no string) (*database.Certificate, error)
}

// ObjectOpener 读取对象存储中的文件。
type ObjectOpener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// PDFRenderer 把证书图片打印为 PDF。
type PDFRenderer interface {
	FromPNG(ctx context.Context, png []byte, width, height int) ([]byte, error)
}

// CertificateHandler 负责证书查询、校验与 PDF 导出。
type CertificateHandler struct {
	certificates CertificateReader
	objects      ObjectOpener
	pdf          PDFRenderer
}

func NewCertificateHandler(certificates CertificateReader, objects ObjectOpener, pdf PDFRenderer) *CertificateHandler {
	return &CertificateHandler{certificates: certificates, objects: objects, pdf: pdf}
}

func certificateJSON(cert *database.Certificate) gin.H {
	out := gin.H{
		"id":             cert.ID,
		"template_id":    cert.TemplateID,
		"job_id":         cert.JobID,
		"certificate_no": cert.CertificateNo,
		"name":           cert.RecipientName,
		"description":    cert.Description,
		"issue_date":     cert.IssueDate.Format(time.DateOnly),
		"expired_date":   cert.ExpiredDate.Format(time.DateOnly),
		"image_url":      cert.ImageURL,
		"thumbnail_url":  cert.ThumbnailURL,
		"data":           cert.Data,
	}
	if cert.MemberID != nil {
		out["member_id"] = *cert.MemberID
	}
	if cert.ScoreImageURL != "" {
		out["score_image_url"] = cert.ScoreImageURL
	}
	return out
}

// GET /v1/certificates/:id
func (h *CertificateHandler) GetCertificate(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	cert, err := h.certificates.Get(c.Request.Context(), id)
	if err != nil {
		writeStoreError(c, err, "failed to query certificate")
		return
	}
	c.JSON(http.StatusOK, certificateJSON(cert))
}

// GET /cek/:no
// 二维码指向的公开校验页，只返回可公开的字段。
func (h *CertificateHandler) Verify(c *gin.Context) {
	no := c.Param("no")
	if no == "" || len(no) > 128 {
		BadRequest(c, "invalid certificate number")
		return
	}
	cert, err := h.certificates.FindByNumber(c.Request.Context(), no)
	if err != nil {
		writeStoreError(c, err, "failed to query certificate")
		return
	}
	valid := cert.ExpiredDate.IsZero() || time.Now().Before(cert.ExpiredDate)
	c.JSON(http.StatusOK, gin.H{
		"certificate_no": cert.CertificateNo,
		"name":           cert.RecipientName,
		"description":    cert.Description,
		"issue_date":     cert.IssueDate.Format(time.DateOnly),
		"expired_date":   cert.ExpiredDate.Format(time.DateOnly),
		"valid":          valid,
		"image_url":      cert.ImageURL,
	})
}

// GET /v1/certificates/:id/pdf
func (h *CertificateHandler) DownloadPDF(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c)

	cert, err := h.certificates.Get(ctx, id)
	if err != nil {
		writeStoreError(c, err, "failed to query certificate")
		return
	}

	rc, err := h.objects.Open(ctx, cert.ImagePath)
	if err != nil {
		if storage.IsMissing(err) {
			ErrorCode(c, http.StatusNotFound, errcode.ResourceMissing, "certificate image missing", nil)
			return
		}
		log.Error("open certificate image", slog.String("object_key", cert.ImagePath), slog.Any("error", err))
		Internal(c, "failed to read certificate image")
		return
	}
	png, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		Internal(c, "failed to read certificate image")
		return
	}
	width, height, err := imageload.DecodeDimensions(png)
	if err != nil {
		log.Error("decode certificate image", slog.Any("error", err))
		Internal(c, "invalid certificate image")
		return
	}

	data, err := h.pdf.FromPNG(ctx, png, width, height)
	if err != nil {
		log.Error("export pdf", slog.Any("error", err))
		Internal(c, "failed to export pdf")
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.pdf"`, safeFileName(cert.CertificateNo)))
	c.Data(http.StatusOK, "application/pdf", data)
}

func safeFileName(s string) string {
	out := []rune(s)
	for i, r := range out {
		switch r {
		case '/', '\\', '"', ':', '*', '?', '<', '>', '|':
			out[i] = '_'
		}
	}
	if len(out) == 0 {
		return "certificate"
	}
	return string(out)
}
