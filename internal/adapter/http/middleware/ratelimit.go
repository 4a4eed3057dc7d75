package middleware

import (
	"net/http"
	"strconv"
	"time"

	redisStorage "payment-settlement-core/internal/adapter/storage/redis"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RateLimit throttles requests per client IP with a fixed-window counter.
// A backend failure fails open.
func RateLimit(store *redisStorage.RateLimitStore, limit int64, window time.Duration, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := store.Allow(c.Request.Context(), c.ClientIP(), limit, window)
		if err != nil {
			log.Warn().Err(err).Msg("rate limit backend unavailable, failing open")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt, 10))

		if !res.Allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error_code": "SYS_005",
				"message":    "Too many requests",
			})
			return
		}
		c.Next()
	}
}
