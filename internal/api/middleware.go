package api

import (
	"context"
	"time"

	"github.com/askwhyharsh/sonar/internal/ratelimit"
	"github.com/askwhyharsh/sonar/internal/session"
	"github.com/askwhyharsh/sonar/pkg/logger"
	"github.com/gin-gonic/gin"
)

type SessionValidator interface {
	ValidateSession(ctx context.Context, sessionID string) (*session.Session, error)
}

// RequireSession authenticates the caller by X-Session-ID or ?session_id
// and binds the session to the request context.
func RequireSession(sessions SessionValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Session-ID")
		if id == "" {
			id = c.Query("session_id")
		}

		if _, err := sessions.ValidateSession(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}

		c.Set(ratelimit.SessionContextKey, id)
		c.Request = c.Request.WithContext(session.WithSessionID(c.Request.Context(), id))
		c.Next()
	}
}

func sessionID(c *gin.Context) string {
	return c.GetString(ratelimit.SessionContextKey)
}

// RequestLogger logs every request once it completes.
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("Request handled",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
