package api

import (
	"github.com/gin-gonic/gin"

	"certgen/internal/api/middleware"
)

// Handlers 汇总所有路由处理器。
type Handlers struct {
	Templates      *TemplateHandler
	Assets         *AssetHandler
	Jobs           *JobHandler
	Preview        *PreviewHandler
	Certificates   *CertificateHandler
	Members        *MemberHandler
	Ws             *WsHandler
	InternalSecret string
}

// RegisterRoutes 注册 API 路由，不包含 /api 前缀。
func RegisterRoutes(router *gin.Engine, h Handlers) {
	router.GET("/cek/:no", h.Certificates.Verify)

	v1 := router.Group("/v1")
	{
		templateGroup := v1.Group("/templates")
		{
			templateGroup.POST("", h.Templates.CreateTemplate)
			templateGroup.GET("/:id", h.Templates.GetTemplate)
			templateGroup.GET("/:id/layout", h.Templates.GetLayout)
			templateGroup.PUT("/:id/layout", h.Templates.SaveLayout)
			templateGroup.POST("/:id/layout/events", h.Templates.ApplyLayoutEvents)
			templateGroup.POST("/:id/layout/renormalize", h.Templates.RenormalizeLayout)
			templateGroup.POST("/:id/preview", h.Preview.Preview)
			templateGroup.POST("/:id/jobs", h.Jobs.CreateJob)
		}

		jobGroup := v1.Group("/jobs")
		{
			jobGroup.GET("/:id", h.Jobs.GetJob)
			jobGroup.GET("/:id/ws", h.Ws.HandleConnection)
		}

		certificateGroup := v1.Group("/certificates")
		{
			certificateGroup.GET("/:id", h.Certificates.GetCertificate)
			certificateGroup.GET("/:id/pdf", h.Certificates.DownloadPDF)
		}

		assetGroup := v1.Group("/assets")
		{
			assetGroup.POST("/upload", h.Assets.UploadAsset)
			assetGroup.GET("/view", h.Assets.GetAssetURL)
		}

		internalGroup := v1.Group("/internal")
		internalGroup.Use(middleware.InternalSecretMiddleware(h.InternalSecret))
		{
			internalGroup.POST("/members/import", h.Members.Import)
			internalGroup.POST("/jobs/:id/cancel", h.Jobs.CancelJob)
		}
	}
}
