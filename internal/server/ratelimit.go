package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"translation_assurance/internal/ratelimit"
)

const (
	routeTranslate = "translate"
	routeAttest    = "attest"
	routeVerify    = "verify"
)

// rateLimited limits requests per client IP and route. A full limiter rejects
// the request; any other limiter failure lets it through.
func (s *Server) rateLimited(routeID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil || s.rateLimitRequests <= 0 {
			c.Next()
			return
		}
		key := "route:" + routeID + ":ip:" + c.ClientIP()
		decision, err := s.limiter.Allow(c.Request.Context(), key, s.rateLimitRequests, s.rateLimitWindow)
		if errors.Is(err, ratelimit.ErrCapacity) {
			s.log.Warn("rate limiter full", zap.String("route", routeID))
			writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
			return
		}
		if err != nil {
			s.log.Warn("rate limiter unavailable", zap.String("route", routeID), zap.Error(err))
			c.Next()
			return
		}
		writeRateLimitHeaders(c, decision)
		if !decision.Allowed {
			writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
			return
		}
		c.Next()
	}
}

func writeRateLimitHeaders(c *gin.Context, decision ratelimit.Decision) {
	c.Header("RateLimit-Limit", strconv.Itoa(decision.Limit))
	c.Header("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	if decision.ResetAt.IsZero() {
		return
	}
	c.Header("RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
	if !decision.Allowed {
		retryAfter := int64(time.Until(decision.ResetAt).Seconds())
		if retryAfter < 0 {
			retryAfter = 0
		}
		c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
	}
}
