package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"quorum/internal/apierror"
	"quorum/internal/config"
	"quorum/internal/ratelimit"
	"quorum/internal/telemetry"
)

// KeyFunc names the actor a request is limited as.
type KeyFunc func(c *gin.Context) string

// ByUser limits per signed-in user and falls back to the client IP.
func ByUser(c *gin.Context) string {
	if id := CurrentUserID(c); id != 0 {
		return "user:" + strconv.FormatUint(uint64(id), 10)
	}
	return ByIP(c)
}

// ByIP limits per client IP.
func ByIP(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// RateLimit gates a route with policy. Rejections get a 429 with Retry-After.
func RateLimit(limiter ratelimit.Limiter, action string, policy config.Policy, key KeyFunc, metrics *telemetry.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := limiter.Allow(c.Request.Context(), ratelimit.Key(action, key(c)), policy.Limit, policy.Window)
		c.Header("X-RateLimit-Limit", strconv.Itoa(policy.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			secs := int(math.Ceil(d.RetryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			metrics.RateLimited(c.Request.Context(), action)
			apierror.Abort(c, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		c.Next()
	}
}
