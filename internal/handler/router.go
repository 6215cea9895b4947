package handler

import (
	"github.com/gin-gonic/gin"
)

// Handlers groups every HTTP handler mounted by RegisterRoutes.
type Handlers struct {
	Chat         *ChatHandler
	Certificates *CertificateHandler
	Metrics      *MetricsHandler
}

// RegisterRoutes mounts probes at the root and the API under prefix.
func RegisterRoutes(r *gin.Engine, prefix string, h Handlers) {
	if h.Metrics != nil {
		r.GET("/health", h.Metrics.Health)
		r.GET("/ready", h.Metrics.Ready)
		r.GET("/metrics", h.Metrics.Prometheus)
	}

	api := r.Group(prefix)
	if h.Metrics != nil {
		api.GET("/metrics/summary", h.Metrics.Summary)
	}
	if h.Chat != nil {
		chat := api.Group("/chat/sessions")
		chat.POST("", h.Chat.CreateSession)
		chat.POST("/:id/messages", h.Chat.SendMessage)
		chat.GET("/:id/context", h.Chat.Context)
		chat.GET("/:id/context/export", h.Chat.ExportContext)
		chat.DELETE("/:id", h.Chat.ResetSession)
	}
	if h.Certificates != nil {
		api.GET("/certificates/:token", h.Certificates.Download)
	}
}
