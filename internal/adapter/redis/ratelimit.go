package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/JoseETeixeira/UniRig-Interface/internal/domain"
)

// admitScript implements the sliding-window check as one atomic script:
// prune entries older than the window, then either record the new event or
// report how many milliseconds until the oldest entry leaves the window.
// ARGV: [1]=now_ms, [2]=window_ms, [3]=limit, [4]=event member
// Returns {allowed, remaining, retry_after_ms}.
var admitScript = goredis.NewScript(`
local cutoff = tonumber(ARGV[1]) - tonumber(ARGV[2])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', cutoff)
local count = redis.call('ZCARD', KEYS[1])
local limit = tonumber(ARGV[3])
if count >= limit then
	local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
	return {0, 0, math.ceil(tonumber(oldest[2]) - cutoff)}
end
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return {1, limit - count - 1, 0}
`)

// RateLimiter implements domain.RateLimiter on a Redis sorted set per
// session: scores are event timestamps in milliseconds, so the window
// slides with wall time and survives process restarts.
type RateLimiter struct {
	rdb    *goredis.Client
	clock  clockwork.Clock
	limit  int
	window time.Duration
}

func NewRateLimiter(rdb *goredis.Client, clock clockwork.Clock, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{rdb: rdb, clock: clock, limit: limit, window: window}
}

func rateLimitKey(sessionID uuid.UUID) string {
	return fmt.Sprintf("rate_limit:uploads:%s", sessionID)
}

func (l *RateLimiter) Admit(ctx context.Context, sessionID uuid.UUID) (domain.RateDecision, error) {
	result, err := admitScript.Run(ctx, l.rdb, []string{rateLimitKey(sessionID)},
		l.clock.Now().UnixMilli(),
		l.window.Milliseconds(),
		l.limit,
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return domain.RateDecision{}, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(result) != 3 {
		return domain.RateDecision{}, fmt.Errorf("unexpected rate limit script result: %v", result)
	}

	return domain.RateDecision{
		Allowed:    result[0] == 1,
		Remaining:  int(result[1]),
		RetryAfter: time.Duration(result[2]) * time.Millisecond,
	}, nil
}

// Forget drops a session's window, typically on session deletion.
func (l *RateLimiter) Forget(ctx context.Context, sessionID uuid.UUID) error {
	if err := l.rdb.Del(ctx, rateLimitKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to drop rate limit window: %w", err)
	}
	return nil
}
