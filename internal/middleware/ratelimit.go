package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-demo/liveroom/internal/dto/response"
	"github.com/go-demo/liveroom/internal/pkg/cache"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimiter interface for rate limiting
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// InMemoryRateLimiter keeps one token bucket per key on this instance
type InMemoryRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewInMemoryRateLimiter creates a new in-memory rate limiter
func NewInMemoryRateLimiter(r rate.Limit, burst int) *InMemoryRateLimiter {
	return &InMemoryRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

// Allow checks if request is allowed
func (l *InMemoryRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = limiter
	}
	return limiter.Allow(), nil
}

// RedisRateLimiter is a sliding-window limiter shared by every instance
type RedisRateLimiter struct {
	client   *redis.Client
	requests int
	window   time.Duration
}

// NewRedisRateLimiter creates a new Redis rate limiter
func NewRedisRateLimiter(client *redis.Client, requests int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{
		client:   client,
		requests: requests,
		window:   window,
	}
}

// Allow checks if request is allowed using Redis sliding window
func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	pipe := l.client.Pipeline()

	now := time.Now().UnixNano()
	windowStart := now - l.window.Nanoseconds()

	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart, 10))
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now),
		Member: now,
	})
	countCmd := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, l.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	count, err := countCmd.Result()
	if err != nil {
		return false, err
	}

	return count <= int64(l.requests), nil
}

// RateLimitConfig represents rate limit configuration
type RateLimitConfig struct {
	Window  time.Duration // reported in Retry-After
	KeyFunc func(*gin.Context) string
	Logger  *zap.Logger
}

// UserOrIPKey keys authenticated callers by participant and the rest by IP
func UserOrIPKey(c *gin.Context) string {
	if userID := GetUserID(c); userID != "" {
		return fmt.Sprintf(cache.KeyRateLimitUser, userID)
	}
	return fmt.Sprintf(cache.KeyRateLimitIP, c.ClientIP())
}

// RateLimit creates a rate limiting middleware keyed by participant or IP
func RateLimit(limiter RateLimiter, window time.Duration, logger *zap.Logger) gin.HandlerFunc {
	return RateLimitWithConfig(limiter, &RateLimitConfig{
		Window:  window,
		KeyFunc: UserOrIPKey,
		Logger:  logger,
	})
}

// RateLimitWithConfig creates a rate limiting middleware with custom configuration
func RateLimitWithConfig(limiter RateLimiter, config *RateLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := config.KeyFunc(c)

		allowed, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			// Fail open when the limiter backend is unavailable
			if config.Logger != nil {
				config.Logger.Warn("Rate limiter unavailable", zap.String("key", key), zap.Error(err))
			}
			c.Next()
			return
		}

		if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(config.Window.Seconds())))
			response.ErrorWithStatus(c, http.StatusTooManyRequests, "too many requests, try again later")
			c.Abort()
			return
		}

		c.Next()
	}
}
