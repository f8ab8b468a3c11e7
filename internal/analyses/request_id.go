package analyses

import (
	"context"

	"github.com/gin-gonic/gin"

	"placelink-backend/internal/shared/server/middleware"
)

type requestIDKey struct{}

// WithRequestID tags ctx so that job logs and status events carry the caller's request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil || requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// detachedJobContext outlives the submitting request but keeps its request id.
func detachedJobContext(requestID string) (context.Context, context.CancelFunc) {
	return context.WithCancel(WithRequestID(context.Background(), requestID))
}

// requestContext is the request's context tagged with the id from the RequestID middleware.
func requestContext(c *gin.Context) context.Context {
	return WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
}
