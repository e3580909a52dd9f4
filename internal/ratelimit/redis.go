package ratelimit

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"quorum/internal/logging"
)

const keyPrefix = "quorum:ratelimit:"

// allowScript applies the fixed-window algorithm atomically. Key expiry
// resets the window. Returns {allowed, count, pttl}.
var allowScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local count = redis.call('GET', KEYS[1])
if not count then
  redis.call('SET', KEYS[1], 1, 'PX', window)
  return {1, 1, window}
end
count = tonumber(count)
local ttl = redis.call('PTTL', KEYS[1])
if count >= limit then
  return {0, count, ttl}
end
redis.call('INCR', KEYS[1])
return {1, count + 1, ttl}
`)

// RedisLimiter shares counters between instances through Redis.
type RedisLimiter struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisLimiter connects to url and verifies the connection
func NewRedisLimiter(url string) (*RedisLimiter, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	logging.GetLogger().Info("Redis rate limiter connected")
	return NewRedisLimiterWithClient(client), nil
}

func NewRedisLimiterWithClient(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client, logger: logging.WithComponent("ratelimit")}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) Decision {
	res, err := allowScript.Run(ctx, l.client, []string{keyPrefix + key}, limit, window.Milliseconds()).Result()
	if err != nil {
		l.logger.Warn("Rate limiter unavailable, allowing request", zap.String("key", key), zap.Error(err))
		return Decision{Allowed: true, Remaining: limit, RetryAfter: window}
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 3 {
		l.logger.Warn("Unexpected rate limiter reply", zap.Any("reply", res))
		return Decision{Allowed: true, Remaining: limit, RetryAfter: window}
	}
	allowed, _ := vals[0].(int64)
	count, _ := vals[1].(int64)
	ttl, _ := vals[2].(int64)

	retry := time.Duration(ttl) * time.Millisecond
	if retry < 0 {
		retry = window
	}
	if allowed == 0 {
		return Decision{Allowed: false, Remaining: 0, RetryAfter: retry}
	}
	return Decision{Allowed: true, Remaining: limit - int(count), RetryAfter: retry}
}

// Close closes the Redis connection
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
