// Package router wires the memvault HTTP routes.
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/memvault/internal/memvault/handler"
)

// Register registers all memvault routes on the engine.
func Register(engine *gin.Engine, h *handler.Handler) {
	engine.GET("/healthz", h.Healthz)

	v1 := engine.Group("/v1")
	{
		records := v1.Group("/records")
		{
			records.POST("", h.Store)
			records.GET("", h.List)
			records.GET("/:id", h.Retrieve)
			records.PATCH("/:id", h.Update)
			records.DELETE("/:id", h.Delete)
		}

		bulk := v1.Group("/bulk")
		{
			bulk.POST("/preview", h.BulkPreview)
			bulk.POST("/execute", h.BulkExecute)
		}

		v1.POST("/rollback/:token", h.Rollback)
		v1.POST("/admin/sweep", h.Sweep)
		v1.GET("/stats", h.Stats)
	}

	logger.Info("HTTP routes registered")
}
