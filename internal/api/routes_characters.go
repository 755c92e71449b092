package api

import (
	"github.com/gin-gonic/gin"

	"github.com/lordvitaly/lvchat/internal/handlers"
)

func registerCharacterRoutes(api *gin.RouterGroup, handler *handlers.CharacterHandler) {
	characters := api.Group("/characters")
	{
		characters.GET("", handler.List)
		characters.POST("", handler.Save)
		characters.GET("/:name", handler.Get)
	}

	// Snapshot endpoints kept for clients of the previous deployment.
	api.GET("/get_character", handler.GetSnapshot)
	api.POST("/get_character", handler.SaveSnapshot)
}
