package api

import (
	"Courier/internal/api/handler"
	"Courier/internal/api/middleware"
)

// HandlersGroup 封装了所有已初始化的 Handler 实例
type HandlersGroup struct {
	IMHandler *handler.IMHandler
	Session   middleware.StateReader
}
