package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"certgen/internal/errcode"
)

func Error(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

// ErrorCode 在 error 之外附带 errcode 与可选的明细。
func ErrorCode(c *gin.Context, status, code int, msg string, details any) {
	body := gin.H{"error": msg, "code": code}
	if details != nil {
		body["details"] = details
	}
	c.JSON(status, body)
}

func AbortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

func BadRequest(c *gin.Context, msg string) { Error(c, http.StatusBadRequest, msg) }
func NotFound(c *gin.Context, msg string)   { Error(c, http.StatusNotFound, msg) }
func Conflict(c *gin.Context, msg string)   { Error(c, http.StatusConflict, msg) }
func Internal(c *gin.Context, msg string)   { Error(c, http.StatusInternalServerError, msg) }

// ValidationFailed 返回 422 与 errcode.ValidationFailed。
func ValidationFailed(c *gin.Context, msg string, details any) {
	ErrorCode(c, http.StatusUnprocessableEntity, errcode.ValidationFailed, msg, details)
}
