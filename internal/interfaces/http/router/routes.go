package router

import (
	"github.com/gin-gonic/gin"

	"media-search-api/internal/interfaces/http/handler"
)

// RegisterV1Routes 注册 v1 版本路由
func RegisterV1Routes(v1 *gin.RouterGroup, mediaHandler *handler.MediaHandler) {
	media := v1.Group("/media")
	{
		media.POST("/upload", mediaHandler.Upload)
		media.POST("/search", mediaHandler.Search)
		media.GET("", mediaHandler.List)
		media.GET("/snapshot", mediaHandler.Snapshot)
		media.GET("/:id", mediaHandler.Get)
		media.DELETE("/:id", mediaHandler.Delete)
	}
}
