package api

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dutchcoders/go-clamd"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	"certgen/internal/api/middleware"
	"certgen/internal/errcode"
	"certgen/internal/imageload"
)

// 上传用途：模板底图、成绩页底图或图片图层素材。
const (
	AssetRoleBackground = "background"
	AssetRoleScore      = "score"
	AssetRolePhoto      = "photo"
)

// AssetStorage 是资产上传依赖的存储接口。
type AssetStorage interface {
	UploadFile(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error)
	GeneratePresignedURL(ctx context.Context, objectKey string, duration time.Duration) (string, error)
}

// ImageSetter 在上传底图后更新模板。
type ImageSetter interface {
	SetImage(ctx context.Context, id uint, path string, width, height int, score bool) error
}

// Scanner 扫描上传内容，返回 false 表示检测到恶意文件。
type Scanner interface {
	Scan(r io.Reader) (bool, error)
}

// ClamdScanner 使用 clamd 的 INSTREAM 扫描。
type ClamdScanner struct {
	Addr string
}

func (s ClamdScanner) Scan(r io.Reader) (bool, error) {
	abortChan := make(chan bool)
	defer close(abortChan)
	scanChan, err := clamd.NewClamd(s.Addr).ScanStream(r, abortChan)
	if err != nil {
		return false, err
	}
	clean := true
	for result := range scanChan {
		if result.Status != clamd.RES_OK {
			clean = false
		}
	}
	return clean, nil
}

// AssetHandler 负责处理资产上传与访问。
type AssetHandler struct {
	Storage   AssetStorage
	Templates ImageSetter
	Scanner   Scanner
	Logger    *slog.Logger
	MaxBytes  int64
}

// NewAssetHandler 返回 AssetHandler 实例；clamdAddr 为空时跳过扫描。
func NewAssetHandler(storageClient AssetStorage, templates ImageSetter, logger *slog.Logger, clamdAddr string, maxBytes int64) *AssetHandler {
	h := &AssetHandler{
		Storage:   storageClient,
		Templates: templates,
		Logger:    logger,
		MaxBytes:  maxBytes,
	}
	if clamdAddr != "" {
		h.Scanner = ClamdScanner{Addr: clamdAddr}
	}
	return h
}

// UploadAsset 处理图片上传：校验类型与大小，扫描病毒，保存到 assets/<templateID>/<uuid>.<ext>。
// role 为 background/score 时同时更新模板底图与尺寸。
func (h *AssetHandler) UploadAsset(c *gin.Context) {
	log := middleware.LoggerFromContext(c)

	templateID, err := strconv.ParseUint(c.PostForm("template_id"), 10, 64)
	if err != nil || templateID == 0 {
		BadRequest(c, "invalid template_id")
		return
	}
	role := c.DefaultPostForm("role", AssetRolePhoto)
	switch role {
	case AssetRoleBackground, AssetRoleScore, AssetRolePhoto:
	default:
		BadRequest(c, "invalid role")
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "missing file")
		return
	}
	if h.MaxBytes > 0 && file.Size > h.MaxBytes {
		ValidationFailed(c, "file too large", gin.H{"max_bytes": h.MaxBytes})
		return
	}

	fileReader, err := file.Open()
	if err != nil {
		Internal(c, "failed to open file")
		return
	}
	data, err := io.ReadAll(fileReader)
	_ = fileReader.Close()
	if err != nil {
		Internal(c, "failed to read file")
		return
	}

	contentType := http.DetectContentType(data)
	ext, ok := assetExtensions[contentType]
	if !ok {
		ValidationFailed(c, "unsupported file type", gin.H{"content_type": contentType})
		return
	}
	width, height, err := imageload.DecodeDimensions(data)
	if err != nil {
		ValidationFailed(c, "invalid image", nil)
		return
	}

	if h.Scanner != nil {
		clean, err := h.Scanner.Scan(bytes.NewReader(data))
		if err != nil {
			log.Error("scan file", slog.Any("error", err))
			Internal(c, "failed to scan file")
			return
		}
		if !clean {
			ValidationFailed(c, "malicious file detected", nil)
			return
		}
	}

	ctx := c.Request.Context()
	objectKey := assetObjectKey(uint(templateID), uuid.NewString(), ext)
	if _, err := h.Storage.UploadFile(ctx, objectKey, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		log.Error("upload file", slog.Any("error", err))
		Internal(c, "failed to upload file")
		return
	}

	if role != AssetRolePhoto {
		if err := h.Templates.SetImage(ctx, uint(templateID), objectKey, width, height, role == AssetRoleScore); err != nil {
			writeStoreError(c, err, "failed to update template image")
			return
		}
	}

	c.JSON(http.StatusCreated, gin.H{
		"objectKey": objectKey,
		"role":      role,
		"width":     width,
		"height":    height,
		"code":      errcode.OK,
	})
}

// GetAssetURL 返回资产的临时预签名 URL。
func (h *AssetHandler) GetAssetURL(c *gin.Context) {
	objectKey := c.Query("key")
	if !isValidAssetObjectKey(objectKey) {
		BadRequest(c, "invalid key")
		return
	}

	signedURL, err := h.Storage.GeneratePresignedURL(c.Request.Context(), objectKey, 15*time.Minute)
	if err != nil {
		middleware.LoggerFromContext(c).Error("generate presigned url", slog.Any("error", err))
		Internal(c, "failed to generate url")
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": signedURL})
}
