package middleware

import (
	"log/slog"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/Wei-Shaw/notifyhub/internal/pkg/response"
)

// Recovery converts handler panics into a 500 envelope instead of killing
// the connection.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("http_panic_recovered",
					"panic", r,
					"path", c.Request.URL.Path,
					"request_id", RequestIDFrom(c.Request.Context()),
					"stack", string(debug.Stack()),
				)
				if !c.Writer.Written() {
					response.InternalError(c, "internal server error")
				}
				c.Abort()
			}
		}()
		c.Next()
	}
}
