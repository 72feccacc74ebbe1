package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript implements the sliding-window-log algorithm as a
// single atomic Lua script: trim entries older than the window, count what
// remains, and only add the current timestamp (consume a slot) if under
// limit — the Redis analogue of InMemoryLimiter.Allow, and the reason
// rejections never consume a slot even under concurrent callers.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local cutoff = now_ms - window_ms
redis.call("ZREMRANGEBYSCORE", key, "-inf", cutoff)
local count = redis.call("ZCARD", key)
local allowed = 0
if count < limit then
  redis.call("ZADD", key, now_ms, now_ms .. "-" .. redis.call("INCR", key .. ":seq"))
  count = count + 1
  allowed = 1
end
redis.call("PEXPIRE", key, window_ms)
redis.call("PEXPIRE", key .. ":seq", window_ms)
return {allowed, count}
`)

type RedisLimiter struct {
	Client   *redis.Client
	Prefix   string
	Fallback *InMemoryLimiter
	now      func() time.Time
}

func NewRedis(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{
		Client:   client,
		Prefix:   "rl:",
		Fallback: NewInMemory(),
		now:      time.Now,
	}
}

func (l *RedisLimiter) Allow(key string, limit int) Decision {
	if limit <= 0 {
		limit = 1
	}
	now := l.now().UTC()
	if l.Client == nil {
		return l.fallback(key, limit, now)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	redisKey := l.Prefix + key
	res, err := slidingWindowScript.Run(ctx, l.Client, []string{redisKey}, now.UnixMilli(), Window.Milliseconds(), limit).Result()
	if err != nil {
		return l.fallback(key, limit, now)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		return l.fallback(key, limit, now)
	}
	allowedFlag, _ := vals[0].(int64)
	count, _ := vals[1].(int64)
	allowed := allowedFlag == 1
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   allowed,
		Count:     int(count),
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   now.Add(Window),
	}
}

func (l *RedisLimiter) fallback(key string, limit int, now time.Time) Decision {
	if l.Fallback == nil {
		return Decision{Allowed: true, Count: 0, Limit: limit, Remaining: limit, ResetAt: now.Add(Window)}
	}
	return l.Fallback.Allow(key, limit)
}
