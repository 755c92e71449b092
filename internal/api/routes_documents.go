package api

import (
	"github.com/gin-gonic/gin"

	"github.com/lordvitaly/lvchat/internal/handlers"
)

func registerDocumentRoutes(api *gin.RouterGroup, handler *handlers.DocumentHandler) {
	api.POST("/init", handler.CreateSession)
	api.GET("/init/:id", handler.GetSession)

	api.POST("/store_data", handler.StoreData)
	api.GET("/get_data/:id", handler.GetData)
}
