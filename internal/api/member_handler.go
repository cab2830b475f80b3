package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"certgen/internal/api/middleware"
	"certgen/internal/database"
	"certgen/internal/spreadsheet"
)

// MemberImporter 批量写入接收人。
type MemberImporter interface {
	CreateBatch(ctx context.Context, members []database.Member) error
}

// MemberHandler 负责名单导入。
type MemberHandler struct {
	members MemberImporter
}

func NewMemberHandler(members MemberImporter) *MemberHandler {
	return &MemberHandler{members: members}
}

// POST /v1/internal/members/import
// 上传 xlsx/csv，把每行写入为接收人；没有姓名的行被跳过并返回其行号。
func (h *MemberHandler) Import(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "missing file")
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

	rows, err := spreadsheet.Parse(reader, file.Filename)
	if err != nil {
		if errors.Is(err, spreadsheet.ErrEmpty) || errors.Is(err, spreadsheet.ErrNoWorksheet) {
			ValidationFailed(c, err.Error(), nil)
			return
		}
		ValidationFailed(c, "invalid spreadsheet", gin.H{"reason": err.Error()})
		return
	}

	members, skipped := spreadsheet.Members(rows)
	if err := h.members.CreateBatch(c.Request.Context(), members); err != nil {
		middleware.LoggerFromContext(c).Error("import members", slog.Any("error", err))
		Internal(c, "failed to import members")
		return
	}
	ids := make([]uint, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	c.JSON(http.StatusCreated, gin.H{"imported": len(members), "member_ids": ids, "skipped_lines": skipped})
}
