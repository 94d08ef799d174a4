package ratelimit

import (
	"net/http"

	"github.com/askwhyharsh/sonar/pkg/response"
	"github.com/gin-gonic/gin"
)

// SessionContextKey is where the auth middleware leaves the session id.
const SessionContextKey = "session_id"

type Middleware struct {
	limiter RateLimiter
}

func NewMiddleware(limiter RateLimiter) *Middleware {
	return &Middleware{
		limiter: limiter,
	}
}

// IPRateLimit middleware for general IP-based rate limiting
func (m *Middleware) IPRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, err := m.limiter.AllowIPRequest(c.Request.Context(), c.ClientIP())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError,
				response.Error("Failed to check rate limit", "INTERNAL_ERROR"))
			return
		}

		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				response.Error("Rate limit exceeded. Please try again later.", "RATE_LIMIT_IP"))
			return
		}

		c.Next()
	}
}

// RefreshRateLimit limits forced refreshes per session. It must run after
// the session has been authenticated.
func (m *Middleware) RefreshRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.GetString(SessionContextKey)
		if sessionID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				response.Error("Session ID required", "INVALID_SESSION"))
			return
		}

		allowed, err := m.limiter.AllowRefresh(c.Request.Context(), sessionID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError,
				response.Error("Failed to check rate limit", "INTERNAL_ERROR"))
			return
		}

		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				response.Error("Too many refreshes. Please wait a moment.", "RATE_LIMIT_REFRESH"))
			return
		}

		c.Next()
	}
}
