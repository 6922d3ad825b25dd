package api

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/flowledger/flowledger/internal/queue"
	"github.com/flowledger/flowledger/pkg/logging"
)

// RequestIDMiddleware adds a unique request ID to each request
func RequestIDMiddleware() gin.HandlerFunc {
	return gin.HandlerFunc(func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Request = c.Request.WithContext(logging.WithRequestID(c.Request.Context(), requestID))
		c.Next()
	})
}

// LoggingMiddleware logs one structured line per request
func LoggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return gin.HandlerFunc(func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.LogRequest(c.Request.Context(),
			c.Request.Method,
			c.FullPath(),
			c.Request.UserAgent(),
			c.ClientIP(),
			c.Writer.Status(),
			time.Since(start))
	})
}

// ErrorHandlingMiddleware recovers panics into 500 responses
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return gin.Recovery()
}

// RateLimitMiddleware applies a fixed-window per-IP limit backed by Redis.
// Redis failures let the request through; shedding traffic because the
// limiter store is down would turn a cache outage into an API outage.
func RateLimitMiddleware(redis *queue.RedisClient, limit int, window time.Duration) gin.HandlerFunc {
	if limit <= 0 {
		limit = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	return gin.HandlerFunc(func(c *gin.Context) {
		if redis == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		key := fmt.Sprintf("rate_limit:%s", c.ClientIP())

		count, err := redis.Incr(ctx, key)
		if err != nil {
			c.Next()
			return
		}
		if count == 1 {
			_ = redis.Expire(ctx, key, window)
		}

		remaining := int64(limit) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(limit) {
			TooManyRequestsResponse(c, "Rate limit exceeded", int(window.Seconds()))
			c.Abort()
			return
		}

		c.Next()
	})
}
