package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindow trims the sorted set to the window, then admits when below the limit.
// Members carry a counter suffix so equal timestamps stay distinct.
var slidingWindow = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

	local current = redis.call('ZCARD', key)
	if current >= limit then
		return 0
	end

	local counter = redis.call('INCR', key .. ':counter')
	redis.call('ZADD', key, now, now .. ':' .. counter)
	local expire_seconds = math.ceil(window_ms / 1000)
	redis.call('EXPIRE', key, expire_seconds)
	redis.call('EXPIRE', key .. ':counter', expire_seconds)
	return 1
`)

// Redis is a sliding-window limiter shared by every server process using the same Redis.
type Redis struct {
	client    redis.Scripter
	keyPrefix string
	limit     int
	window    time.Duration
}

// NewRedis builds a Redis-backed limiter.
func NewRedis(client redis.Scripter, keyPrefix string, limit int, window time.Duration) *Redis {
	return &Redis{
		client:    client,
		keyPrefix: keyPrefix,
		limit:     limit,
		window:    window,
	}
}

// Allow runs the sliding-window script for senderID.
func (r *Redis) Allow(ctx context.Context, senderID string, now time.Time) (bool, error) {
	if r.limit <= 0 {
		return true, nil
	}

	nowMs := now.UnixMilli()
	// Entries exactly one window old are outside the window.
	windowStart := strconv.FormatInt(nowMs-r.window.Milliseconds(), 10)

	res, err := slidingWindow.Run(ctx, r.client, []string{r.keyPrefix + senderID},
		nowMs, windowStart, r.limit, r.window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis sliding window: %w", err)
	}
	return res == 1, nil
}

// Connect dials Redis and pings it so misconfiguration surfaces at startup.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	cli := redis.NewClient(&redis.Options{Addr: addr})
	if err := cli.Ping(ctx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return cli, nil
}
