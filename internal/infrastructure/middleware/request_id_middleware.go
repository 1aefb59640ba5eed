package middleware

import (
	"context"

	"livemap/pkg/logger"
	"livemap/pkg/utils"

	"github.com/gin-gonic/gin"
)

// RequestIDMiddleware assigns every request an id and stores it in the
// request context so downstream log lines can be correlated. An id
// supplied by the caller in X-Request-ID is kept.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = utils.GenerateRequestID()
		}

		ctx := context.WithValue(c.Request.Context(), logger.RequestIDKey, requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set("X-Request-ID", requestID)

		c.Next()
	}
}
