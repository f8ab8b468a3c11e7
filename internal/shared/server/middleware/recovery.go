package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"placelink-backend/internal/shared/server/respond"
	"placelink-backend/internal/shared/telemetry"
)

// Recovery turns a handler panic into a 500 InternalError envelope.
// If the handler already started the response, the connection is only aborted.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			fields := map[string]any{
				"request_id": RequestIDFromContext(c),
				"error":      rec,
				"stack":      string(debug.Stack()),
				"route":      c.FullPath(),
				"method":     c.Request.Method,
			}
			if id := respond.AnalysisID(c); id != "" {
				fields["analysis_id"] = id
			}
			telemetry.Error("http.panic", fields)

			if c.Writer.Written() {
				c.Abort()
				return
			}
			respond.Error(c, http.StatusInternalServerError, "InternalError", "internal error", nil)
			c.Abort()
		}()
		c.Next()
	}
}
