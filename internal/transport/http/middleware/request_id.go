package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/framehost/authcore/internal/infra/logger"
)

// RequestIDHeader carries the per-request correlation identifier. Unlike the
// trace ID it is scoped to a single hop, not propagated across services.
const RequestIDHeader = "X-Request-ID"

// RequestID stamps the request with a correlation identifier, minting one
// when the client did not supply its own, and threads it through the request
// context for the access logger.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(
			context.WithValue(c.Request.Context(), logger.RequestIDKey{}, id),
		)

		c.Next()
	}
}
