package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Wei-Shaw/notifyhub/internal/service"
)

const rateLimitKeyPrefix = "ratelimit:"

// slidingWindowScript admits one request against a sorted-set window in a
// single server-side step: prune expired members, count, and (when under
// the limit) record the new admission and refresh the key TTL. go-redis
// caches the script SHA and transparently reloads on NOSCRIPT.
//
// KEYS[1] bucket key; ARGV: now-ms, window-ms, limit, request id.
// Reply: {allowed, remaining, resetTimeMs}.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local member = ARGV[4]

	redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

	local count = redis.call('ZCARD', key)
	local reset = now + window
	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	if oldest[2] then
		reset = tonumber(oldest[2]) + window
	end

	if count < limit then
		redis.call('ZADD', key, now, member)
		redis.call('PEXPIRE', key, window)
		return {1, limit - count - 1, reset}
	end
	return {0, 0, reset}
`)

func rateLimitKey(userID, channel string) string {
	return fmt.Sprintf("%s%s:%s", rateLimitKeyPrefix, userID, channel)
}

type rateLimitStore struct {
	rdb *redis.Client
}

func NewRateLimitStore(rdb *redis.Client) service.RateLimitStore {
	return &rateLimitStore{rdb: rdb}
}

func (s *rateLimitStore) Admit(ctx context.Context, userID, channel string, now time.Time, window time.Duration, limit int, requestID string) (*service.AdmitResult, error) {
	key := rateLimitKey(userID, channel)
	res, err := slidingWindowScript.Run(ctx, s.rdb, []string{key},
		now.UnixMilli(), window.Milliseconds(), limit, requestID,
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("sliding window admit: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("sliding window admit: unexpected reply %v", res)
	}
	return &service.AdmitResult{
		Allowed:     res[0] == 1,
		Remaining:   int(res[1]),
		ResetTimeMS: res[2],
	}, nil
}
