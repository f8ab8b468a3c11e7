package respond

import (
	"github.com/gin-gonic/gin"

	"placelink-backend/internal/shared/telemetry"
)

// Keys under which handlers annotate the gin context for request logs.
const (
	requestIDKey  = "requestId"
	analysisIDKey = "analysisId"
	transitionKey = "statusTransition"
)

// ErrorBody is the payload under "error" in every failed response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorResponse is the envelope for failed responses.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// TagAnalysis records which analysis the request touched.
func TagAnalysis(c *gin.Context, analysisID string) {
	if analysisID != "" {
		c.Set(analysisIDKey, analysisID)
	}
}

// TagTransition records the lifecycle step the request caused, e.g. "->pending" or "cache_hit".
func TagTransition(c *gin.Context, transition string) {
	c.Set(transitionKey, transition)
}

// AnalysisID returns the id set by TagAnalysis, or "".
func AnalysisID(c *gin.Context) string { return c.GetString(analysisIDKey) }

// Transition returns the value set by TagTransition, or "".
func Transition(c *gin.Context) string { return c.GetString(transitionKey) }

// Error aborts with the error envelope. 5xx responses log at error level and the rest at warn.
func Error(c *gin.Context, status int, code, message string, details any) {
	fields := map[string]any{
		"status":     status,
		"code":       code,
		"message":    message,
		"method":     c.Request.Method,
		"route":      c.FullPath(),
		"request_id": c.GetString(requestIDKey),
	}
	if id := AnalysisID(c); id != "" {
		fields["analysis_id"] = id
	}
	log := telemetry.Warn
	if status >= 500 {
		log = telemetry.Error
	}
	log("http.error", fields)

	c.AbortWithStatusJSON(status, ErrorResponse{Error: ErrorBody{Code: code, Message: message, Details: details}})
}
