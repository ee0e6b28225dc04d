// Package ratelimit throttles payout API calls with a redis-backed token
// bucket, one bucket per caller. Limits hold across replicas because the
// bucket state lives in redis, not in process memory.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Limiter takes tokens from per-caller buckets stored in redis.
type Limiter struct {
	client   *redis.Client
	logger   *zap.Logger
	capacity int
	refill   float64
}

// NewLimiter creates a limiter with the given bucket capacity and refill rate
// in tokens per second.
func NewLimiter(client *redis.Client, logger *zap.Logger, capacity int, refill float64) *Limiter {
	return &Limiter{client: client, logger: logger, capacity: capacity, refill: refill}
}

// The bucket script refills lazily on each take so idle callers cost nothing.
// Atomicity comes from redis running the script single-threaded.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local bucket = redis.call('HMGET', key, 'tokens', 'last')
local tokens = tonumber(bucket[1]) or capacity
local last = tonumber(bucket[2]) or now
local refill = math.max(0, now - last) * refill_rate
local new_tokens = math.min(capacity, tokens + refill)
local allowed = 0
if new_tokens >= 1 then
  allowed = 1
  new_tokens = new_tokens - 1
end
redis.call('HMSET', key, 'tokens', new_tokens, 'last', now)
redis.call('EXPIRE', key, 60)
return {allowed, new_tokens}
`)

// Take attempts to take one token from the caller's bucket.
func (l *Limiter) Take(ctx context.Context, caller string) (allowed bool, remaining float64, err error) {
	key := "payouts:rl:" + caller
	res, err := tokenBucketScript.Run(ctx, l.client, []string{key},
		l.capacity, l.refill, time.Now().Unix()).Result()
	if err != nil {
		return false, 0, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		return false, 0, fmt.Errorf("unexpected redis script result: %v", res)
	}
	allowedInt, _ := vals[0].(int64)
	switch left := vals[1].(type) {
	case int64:
		remaining = float64(left)
	case string:
		fmt.Sscanf(left, "%f", &remaining)
	}
	return allowedInt == 1, remaining, nil
}

// Middleware returns a gin middleware enforcing the limit per authenticated
// caller, falling back to the client IP before authentication. Redis outages
// fail open: a broken limiter must not take the payout API down with it.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := c.GetString("userID")
		if caller == "" {
			caller = c.ClientIP()
		}

		allowed, remaining, err := l.Take(c.Request.Context(), caller)
		if err != nil {
			l.logger.Warn("Rate limiter unavailable, allowing request", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", l.capacity))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%.0f", remaining))
		if !allowed {
			retryAfter := 1 / l.refill
			c.Header("X-RateLimit-Retry-After", fmt.Sprintf("%.0f", retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "RATE_LIMITED",
				"message": "too many requests, slow down",
			})
			return
		}
		c.Next()
	}
}
