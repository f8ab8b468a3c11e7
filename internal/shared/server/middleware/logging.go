package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"placelink-backend/internal/shared/server/respond"
	"placelink-backend/internal/shared/telemetry"
)

// Logging writes one "request.complete" line per request, carrying the analysis id and
// lifecycle transition the handler tagged. Preflight requests are not logged.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := map[string]any{
			"request_id":        RequestIDFromContext(c),
			"analysis_id":       respond.AnalysisID(c),
			"status_transition": respond.Transition(c),
			"method":            c.Request.Method,
			"route":             c.FullPath(),
			"path":              c.Request.URL.Path,
			"status":            status,
			"bytes":             c.Writer.Size(),
			"duration_ms":       float64(time.Since(start).Microseconds()) / 1000.0,
			"client_ip":         c.ClientIP(),
			"user_agent":        c.Request.UserAgent(),
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}
		switch {
		case status >= http.StatusInternalServerError:
			telemetry.Error("request.complete", fields)
		case status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable:
			telemetry.Warn("request.complete", fields)
		default:
			telemetry.Info("request.complete", fields)
		}
	}
}
