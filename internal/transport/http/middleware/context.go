package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// TraceIDHeader is the HTTP header carrying the trace ID.
	TraceIDHeader = "X-Trace-ID"
	// TraceIDKey is the gin context key for the trace ID.
	TraceIDKey = "trace_id"
	// IdentityKey is the gin context key for the authenticated identity.
	IdentityKey = "identity"
)

// EnrichContext propagates or mints a trace ID for every request and echoes
// it on the response.
func EnrichContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(TraceIDHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}

		c.Set(TraceIDKey, traceID)
		c.Header(TraceIDHeader, traceID)

		c.Next()
	}
}

// GetTraceID retrieves the trace ID from the gin context.
func GetTraceID(c *gin.Context) string {
	if v, exists := c.Get(TraceIDKey); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
