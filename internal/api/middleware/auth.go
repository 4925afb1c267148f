package middleware

import (
	"Courier/internal/pkg/response"
	"Courier/internal/service"

	"github.com/gin-gonic/gin"
)

// StateReader 读取同步会话状态
type StateReader interface {
	State() service.State
}

// SessionMiddleware 会话关闭后拒绝命令与读模型请求
func SessionMiddleware(session StateReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		if session.State() == service.StateClosed {
			response.Error(c, service.ErrSessionClosed)
			c.Abort()
			return
		}
		c.Next()
	}
}
