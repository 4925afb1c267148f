package api

import (
	"Courier/internal/api/dto"
	"Courier/internal/api/middleware"
	"Courier/internal/pkg/logger"
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetupRouter 本地视图网关路由；index 与 token 透传给访问日志
func SetupRouter(group *HandlersGroup, index, token string) *gin.Engine {
	r := gin.New()
	_ = r.SetTrustedProxies([]string{"127.0.0.1"})

	// TraceId & Logger & CORS
	r.Use(middleware.TraceMiddleware())
	r.Use(middleware.AuditMiddleware())
	r.Use(middleware.CORSMiddleware())
	logger.SetupGin(r, index, token)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/ping", func(c *gin.Context) {
			c.JSON(http.StatusOK, dto.Response{Code: 200, Message: "pong"})
		})
		apiGroup.GET("/session", group.IMHandler.GetSession)
		apiGroup.GET("/notices", group.IMHandler.GetNotices)
		apiGroup.DELETE("/notices/:id", group.IMHandler.DismissNotice)

		liveGroup := apiGroup.Group("")
		liveGroup.Use(middleware.SessionMiddleware(group.Session))
		{
			liveGroup.GET("/peers", group.IMHandler.GetPeers)
			liveGroup.GET("/conversations", group.IMHandler.GetConversationList)
			liveGroup.GET("/messages", group.IMHandler.GetMessages)
			liveGroup.POST("/select", group.IMHandler.Select)
			liveGroup.POST("/messages", group.IMHandler.SendMessage)
			liveGroup.POST("/refresh", group.IMHandler.Refresh)
			liveGroup.POST("/logout", group.IMHandler.Logout)
		}
	}

	return r
}
