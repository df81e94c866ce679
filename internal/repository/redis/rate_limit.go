package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/incplusplus/thermostat-accounts/internal/core/port"
)

// hitScript trims the window, records the attempt only when under the limit
// and reports the oldest attempt still inside the window.
//
// KEYS[1] window key
// ARGV[1] trim threshold (ms), ARGV[2] now (ms), ARGV[3] limit,
// ARGV[4] member, ARGV[5] window (ms)
var hitScript = redis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
local count = redis.call("ZCARD", KEYS[1])
local allowed = 0
if count < tonumber(ARGV[3]) then
  redis.call("ZADD", KEYS[1], ARGV[2], ARGV[4])
  count = count + 1
  allowed = 1
end
redis.call("PEXPIRE", KEYS[1], ARGV[5])
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
local score = ARGV[2]
if oldest[2] then
  score = oldest[2]
end
return {allowed, count, score}
`)

// SlidingWindowConfig defines configuration for the sliding window limiter.
type SlidingWindowConfig struct {
	KeyPrefix string
}

// RateLimitRepository persists rate-limit attempts in Redis sorted sets.
type RateLimitRepository struct {
	client redis.Scripter
	cfg    SlidingWindowConfig
}

// NewRateLimitRepository constructs a repository using the provided Redis client and config.
func NewRateLimitRepository(client redis.Scripter, cfg SlidingWindowConfig) *RateLimitRepository {
	return &RateLimitRepository{client: client, cfg: cfg}
}

// Hit evaluates the sliding window ending at at. Rejected attempts are not recorded.
func (r *RateLimitRepository) Hit(ctx context.Context, identifier string, limit int, window time.Duration, at time.Time) (port.RateLimitDecision, error) {
	if window <= 0 || limit <= 0 {
		return port.RateLimitDecision{}, errors.New("window and limit must be positive")
	}

	nowMs := at.UnixMilli()
	args := []any{
		strconv.FormatInt(nowMs-window.Milliseconds(), 10),
		strconv.FormatInt(nowMs, 10),
		limit,
		fmt.Sprintf("%d-%s", nowMs, uuid.NewString()),
		window.Milliseconds(),
	}

	raw, err := hitScript.Run(ctx, r.client, []string{r.key(identifier)}, args...).Slice()
	if err != nil {
		return port.RateLimitDecision{}, fmt.Errorf("redis rate limit script: %w", err)
	}
	if len(raw) != 3 {
		return port.RateLimitDecision{}, fmt.Errorf("redis rate limit script: unexpected reply %v", raw)
	}

	allowed, _ := raw[0].(int64)
	count, _ := raw[1].(int64)
	oldestScore, _ := raw[2].(string)

	oldestMs, err := strconv.ParseFloat(oldestScore, 64)
	if err != nil {
		return port.RateLimitDecision{}, fmt.Errorf("parse oldest attempt: %w", err)
	}

	return port.RateLimitDecision{
		Allowed: allowed == 1,
		Count:   int(count),
		Oldest:  time.UnixMilli(int64(oldestMs)),
	}, nil
}

func (r *RateLimitRepository) key(identifier string) string {
	if r.cfg.KeyPrefix == "" {
		return identifier
	}
	return fmt.Sprintf("%s:%s", r.cfg.KeyPrefix, identifier)
}

var _ port.RateLimitStore = (*RateLimitRepository)(nil)
