package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/askwhyharsh/sonar/internal/config"
	"github.com/askwhyharsh/sonar/internal/storage"
	"github.com/redis/go-redis/v9"
)

// RateLimiter defines the contract for enforcing and managing rate limits.
type RateLimiter interface {
	// AllowRefresh checks if a session may force a fresh position fix.
	AllowRefresh(ctx context.Context, sessionID string) (bool, error)

	// AllowSessionCreation checks if an IP can create a new session.
	AllowSessionCreation(ctx context.Context, ip string) (bool, error)

	// AllowIPRequest checks if an IP can make a request.
	AllowIPRequest(ctx context.Context, ip string) (bool, error)

	// RemainingRefreshes returns how many refreshes are left in the current window.
	RemainingRefreshes(ctx context.Context, sessionID string) (int, error)

	// ResetLimits clears all rate limit counters for a session.
	ResetLimits(ctx context.Context, sessionID string) error
}

const window = time.Minute

type Limiter struct {
	redis  storage.RedisClient
	config config.RateLimitConfig
	now    func() time.Time
}

func NewLimiter(redisClient storage.RedisClient, config config.RateLimitConfig) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: config,
		now:    time.Now,
	}
}

var _ RateLimiter = (*Limiter)(nil)

func refreshKey(sessionID string) string {
	return fmt.Sprintf("ratelimit:refresh:%s", sessionID)
}

// AllowRefresh checks if a session can run a forced refresh
func (l *Limiter) AllowRefresh(ctx context.Context, sessionID string) (bool, error) {
	return l.checkSlidingWindow(ctx, refreshKey(sessionID), l.config.RefreshesPerMin, window)
}

// AllowSessionCreation checks if an IP can create a new session
func (l *Limiter) AllowSessionCreation(ctx context.Context, ip string) (bool, error) {
	key := fmt.Sprintf("ratelimit:ip:%s:sessions", ip)

	count, err := l.redis.Incr(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to check session creation rate limit: %w", err)
	}

	// Set expiration on first increment (1 hour)
	if count == 1 {
		if err := l.redis.Expire(ctx, key, time.Hour); err != nil {
			return false, fmt.Errorf("failed to set session window: %w", err)
		}
	}

	return count <= int64(l.config.SessionsPerIPPerHour), nil
}

// AllowIPRequest checks if an IP can make a request
func (l *Limiter) AllowIPRequest(ctx context.Context, ip string) (bool, error) {
	key := fmt.Sprintf("ratelimit:ip:%s:requests", ip)
	return l.checkSlidingWindow(ctx, key, l.config.RequestsPerMin, window)
}

// checkSlidingWindow implements a sliding window rate limiter using sorted sets.
// Scores are milliseconds; members are nanoseconds so bursts inside one
// millisecond still count separately.
func (l *Limiter) checkSlidingWindow(ctx context.Context, key string, maxCount int, win time.Duration) (bool, error) {
	now := l.now()
	windowStart := now.Add(-win).UnixMilli()

	if err := l.redis.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(windowStart, 10)); err != nil {
		return false, fmt.Errorf("failed to clean old entries: %w", err)
	}

	count, err := l.redis.ZCard(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to count entries: %w", err)
	}

	if count >= int64(maxCount) {
		return false, nil
	}

	if err := l.redis.ZAdd(ctx, key, &redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	}); err != nil {
		return false, fmt.Errorf("failed to add entry: %w", err)
	}

	if err := l.redis.Expire(ctx, key, win); err != nil {
		return false, fmt.Errorf("failed to set window expiry: %w", err)
	}

	return true, nil
}

// RemainingRefreshes returns how many refreshes a session can still run
func (l *Limiter) RemainingRefreshes(ctx context.Context, sessionID string) (int, error) {
	count, err := l.redis.ZCard(ctx, refreshKey(sessionID))
	if err != nil {
		return 0, err
	}

	return max(l.config.RefreshesPerMin-int(count), 0), nil
}

// ResetLimits resets all rate limits for a session (use with caution)
func (l *Limiter) ResetLimits(ctx context.Context, sessionID string) error {
	return l.redis.Del(ctx, refreshKey(sessionID))
}
