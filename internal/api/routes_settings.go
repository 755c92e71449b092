package api

import (
	"github.com/gin-gonic/gin"

	"github.com/lordvitaly/lvchat/internal/handlers"
)

func registerSettingsRoutes(api *gin.RouterGroup, handler *handlers.SettingsHandler) {
	api.GET("/settings", handler.Get)
	api.POST("/settings", handler.Save)
}
