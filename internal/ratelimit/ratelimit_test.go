package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/askwhyharsh/sonar/internal/config"
	"github.com/askwhyharsh/sonar/internal/storage"
	"github.com/askwhyharsh/sonar/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, cfg config.RateLimitConfig) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLimiter(storage.WrapRedisClient(client), cfg), mr
}

func TestAllowRefreshSlidingWindow(t *testing.T) {
	l, _ := newTestLimiter(t, config.RateLimitConfig{RefreshesPerMin: 2})
	ctx := context.Background()

	now := time.Now()
	l.now = func() time.Time { return now }

	for i := range 2 {
		ok, err := l.AllowRefresh(ctx, "s1")
		require.NoError(t, err)
		assert.True(t, ok, "refresh %d", i)
		now = now.Add(time.Millisecond)
	}

	ok, err := l.AllowRefresh(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)

	remaining, err := l.RemainingRefreshes(ctx, "s1")
	require.NoError(t, err)
	assert.Zero(t, remaining)

	// other sessions have their own window
	ok, err = l.AllowRefresh(ctx, "s2")
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(time.Minute)
	ok, err = l.AllowRefresh(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResetLimits(t *testing.T) {
	l, _ := newTestLimiter(t, config.RateLimitConfig{RefreshesPerMin: 1})
	ctx := context.Background()

	ok, err := l.AllowRefresh(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.ResetLimits(ctx, "s1"))
	remaining, err := l.RemainingRefreshes(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
}

func TestAllowSessionCreation(t *testing.T) {
	l, mr := newTestLimiter(t, config.RateLimitConfig{SessionsPerIPPerHour: 2})
	ctx := context.Background()

	for range 2 {
		ok, err := l.AllowSessionCreation(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.AllowSessionCreation(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(time.Hour + time.Minute)
	ok, err = l.AllowSessionCreation(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLimiterRedisDown(t *testing.T) {
	l, mr := newTestLimiter(t, config.RateLimitConfig{RequestsPerMin: 1})
	mr.Close()

	_, err := l.AllowIPRequest(context.Background(), "10.0.0.1")
	assert.Error(t, err)
}

func TestIPRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, _ := newTestLimiter(t, config.RateLimitConfig{RequestsPerMin: 1})

	r := gin.New()
	r.Use(NewMiddleware(l).IPRateLimit())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	var body response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Success)
	require.NotNil(t, body.Error)
	assert.Equal(t, "RATE_LIMIT_IP", body.Error.Code)
}

func TestRefreshRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, _ := newTestLimiter(t, config.RateLimitConfig{RefreshesPerMin: 1})
	mw := NewMiddleware(l)

	r := gin.New()
	r.POST("/refresh", func(c *gin.Context) {
		if id := c.GetHeader("X-Session-ID"); id != "" {
			c.Set(SessionContextKey, id)
		}
		c.Next()
	}, mw.RefreshRateLimit(), func(c *gin.Context) { c.Status(http.StatusOK) })

	send := func(session string) int {
		req := httptest.NewRequest(http.MethodPost, "/refresh", nil)
		if session != "" {
			req.Header.Set("X-Session-ID", session)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusUnauthorized, send(""))
	assert.Equal(t, http.StatusOK, send("s1"))
	assert.Equal(t, http.StatusTooManyRequests, send("s1"))
	assert.Equal(t, http.StatusOK, send("s2"))
}
