package admin

import (
	"github.com/gin-gonic/gin"
	"github.com/ubuygold/stockmeta/internal/auth"
)

func SetupRoutes(router *gin.Engine, handler *Handler, adminPassword string) {
	adminGroup := router.Group("/admin")
	adminGroup.Use(auth.AdminAuthMiddleware(adminPassword))
	{
		keysGroup := adminGroup.Group("/keys")
		{
			keysGroup.GET("", handler.ListKeysHandler)
			keysGroup.POST("", handler.CreateKeyHandler)
			keysGroup.DELETE("/expired", handler.PurgeExpiredKeysHandler)
			keysGroup.DELETE("/:id", handler.DeleteKeyHandler)
		}

		adminGroup.GET("/settings", handler.GetSettingsHandler)
		adminGroup.PUT("/settings", handler.UpdateSettingsHandler)
		adminGroup.POST("/scrape", handler.ScrapeHandler)
		adminGroup.POST("/import", handler.ImportLegacyHandler)

		usersGroup := adminGroup.Group("/users")
		{
			usersGroup.GET("", handler.ListUsersHandler)
			usersGroup.POST("", handler.CreateUserHandler)
			usersGroup.PUT("/:id/status", handler.UpdateUserStatusHandler)
			usersGroup.DELETE("/:id", handler.DeleteUserHandler)
		}
	}
}
