package middleware

import (
	"context"
	"strings"
	"time"

	"practiceoj/pkg/utils/contextkey"
	"practiceoj/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	traceIDHeader        = "X-Trace-Id"
	requestIDHeader      = "X-Request-Id"
	idempotencyKeyHeader = "Idempotency-Key"

	traceIDContextKey   = "trace_id"
	requestIDContextKey = "request_id"
	identityContextKey  = "identity"
)

// TraceContextMiddleware ensures trace/request ids are in context and response headers.
// A client-supplied Idempotency-Key is carried as the submission identity.
func TraceContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := strings.TrimSpace(c.GetHeader(traceIDHeader))
		if traceID == "" {
			traceID = uuid.NewString()
		}
		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(traceIDContextKey, traceID)
		c.Set(requestIDContextKey, requestID)
		c.Writer.Header().Set(traceIDHeader, traceID)
		c.Writer.Header().Set(requestIDHeader, requestID)

		ctx := context.WithValue(c.Request.Context(), contextkey.TraceID, traceID)
		ctx = context.WithValue(ctx, contextkey.RequestID, requestID)
		if identity := strings.TrimSpace(c.GetHeader(idempotencyKeyHeader)); identity != "" {
			c.Set(identityContextKey, identity)
			ctx = context.WithValue(ctx, contextkey.Identity, identity)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// AccessLogMiddleware logs one line per request after it completes.
func AccessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info(c.Request.Context(), "http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
