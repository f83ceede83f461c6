package api

import (
	"github.com/gin-gonic/gin"
	"github.com/ubuygold/stockmeta/internal/auth"
)

func SetupRoutes(router *gin.Engine, handler *Handler, users auth.UserStore) {
	apiGroup := router.Group("/api")
	apiGroup.Use(auth.UserAuthMiddleware(users))
	{
		apiGroup.GET("/trends", handler.TrendsHandler)
		apiGroup.GET("/keywords", handler.KeywordsHandler)
		apiGroup.POST("/prompts", handler.PromptsHandler)

		keysGroup := apiGroup.Group("/keys")
		{
			keysGroup.GET("", handler.ListKeysHandler)
			keysGroup.POST("", handler.AddKeyHandler)
			keysGroup.DELETE("/:id", handler.DeleteKeyHandler)
		}

		queueGroup := apiGroup.Group("/queue")
		{
			queueGroup.GET("", handler.ListQueueHandler)
			queueGroup.DELETE("", handler.ClearQueueHandler)
			queueGroup.POST("/files", handler.UploadFilesHandler)
			queueGroup.POST("/texts", handler.AddTextsHandler)
			queueGroup.DELETE("/:id", handler.RemoveItemHandler)
			queueGroup.PUT("/:id/result", handler.UpdateResultHandler)
			queueGroup.POST("/:id/regenerate", handler.RegenerateHandler)
		}

		batchGroup := apiGroup.Group("/batch")
		{
			batchGroup.POST("/start", handler.StartBatchHandler)
			batchGroup.POST("/stop", handler.StopBatchHandler)
			batchGroup.GET("/progress", handler.ProgressHandler)
		}

		apiGroup.GET("/export", handler.ExportHandler)
	}
}
