package middleware

import (
	"context"
	"strings"

	"judgeflow/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	traceIDHeader   = "X-Trace-Id"
	requestIDHeader = "X-Request-Id"
	userIDHeader    = "X-User-Id"

	traceIDContextKey   = "trace_id"
	requestIDContextKey = "request_id"
	// UserIDContextKey is the gin key holding the authenticated user id (int64).
	UserIDContextKey = "user_id"
)

// TraceContextMiddleware ensures trace/request id are in context and response headers.
func TraceContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := headerOrNew(c, traceIDHeader)
		requestID := headerOrNew(c, requestIDHeader)

		c.Set(traceIDContextKey, traceID)
		c.Set(requestIDContextKey, requestID)
		ctx := context.WithValue(c.Request.Context(), contextkey.TraceID, traceID)
		ctx = context.WithValue(ctx, contextkey.RequestID, requestID)
		c.Request = c.Request.WithContext(ctx)

		c.Writer.Header().Set(traceIDHeader, traceID)
		c.Writer.Header().Set(requestIDHeader, requestID)
		c.Next()
	}
}

func headerOrNew(c *gin.Context, name string) string {
	if v := strings.TrimSpace(c.GetHeader(name)); v != "" {
		return v
	}
	return uuid.NewString()
}

// UserID returns the authenticated user id set by AuthMiddleware.
func UserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(UserIDContextKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}

func setUserID(c *gin.Context, userID int64) {
	c.Set(UserIDContextKey, userID)
	ctx := context.WithValue(c.Request.Context(), contextkey.UserID, userID)
	c.Request = c.Request.WithContext(ctx)
}
