package middleware

import (
	"bytes"
	"io"
	log "log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const maxAuditBody = 2048

// AuditMiddleware 记录视图层发起的命令（非 GET 请求）
// 请求体只截取前 maxAuditBody 字节
func AuditMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		var reqBody []byte
		if c.Request.Body != nil {
			reqBody, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewReader(reqBody))
		}
		if len(reqBody) > maxAuditBody {
			reqBody = reqBody[:maxAuditBody]
		}

		start := time.Now()
		c.Next()

		log.InfoContext(c.Request.Context(), "视图命令",
			log.String("method", c.Request.Method),
			log.String("path", c.FullPath()),
			log.Int("status", c.Writer.Status()),
			log.Int("req_size", len(reqBody)),
			log.Duration("latency", time.Since(start)),
		)
		if log.Default().Enabled(c.Request.Context(), log.LevelDebug) {
			log.DebugContext(c.Request.Context(), "视图命令请求体", log.String("req_body", string(reqBody)))
		}
	}
}
