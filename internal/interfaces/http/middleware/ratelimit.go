package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ledgerlink/backend/internal/interfaces/http/dto"
)

// RateLimiter decides whether one more request for key fits its window.
// usage.Tracker implements it.
type RateLimiter interface {
	Allow(key string) (allowed bool, remaining int, retryAfter time.Duration)
	Limit() int
}

// RateLimit returns a rate limiting middleware keyed by client IP, scoped to
// the company when the request names one.
func RateLimit(limiter RateLimiter) gin.HandlerFunc {
	return RateLimitByKey(limiter, func(c *gin.Context) string {
		key := c.ClientIP()
		if companyID := getCompanyID(c); companyID != "" {
			key = companyID + ":" + key
		}
		return key
	})
}

// RateLimitByKey returns a rate limiting middleware with custom key extractor
func RateLimitByKey(limiter RateLimiter, keyFunc func(*gin.Context) string) gin.HandlerFunc {
	limit := strconv.Itoa(limiter.Limit())
	return func(c *gin.Context) {
		allowed, remaining, retryAfter := limiter.Allow(keyFunc(c))

		c.Header("X-RateLimit-Limit", limit)
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeRateLimited,
				"Too many requests. Please try again later.",
				GetRequestID(c),
			))
			return
		}

		c.Next()
	}
}
