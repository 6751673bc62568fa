package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "rl:"

// checkScript keeps count, reset_at and block_until (unix ms) in one hash
// so a check is a single atomic round trip.
var checkScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local block = tonumber(ARGV[4])
local count_it = tonumber(ARGV[5])

local data = redis.call('HMGET', KEYS[1], 'count', 'reset_at', 'block_until')
local count = tonumber(data[1]) or 0
local reset_at = tonumber(data[2]) or 0
local block_until = tonumber(data[3]) or 0

if block_until > now then
  return {0, count, reset_at, block_until, 0}
end
if block_until > 0 or reset_at <= now then
  count = 0
  reset_at = now + window
  block_until = 0
end
if count_it == 1 then
  count = count + 1
end

local blocked = 0
if count > max then
  block_until = now + block
  blocked = 1
end

redis.call('HSET', KEYS[1], 'count', count, 'reset_at', reset_at, 'block_until', block_until)
local expire_at = reset_at
if block_until > expire_at then
  expire_at = block_until
end
redis.call('PEXPIREAT', KEYS[1], expire_at)

if blocked == 1 then
  return {0, count, reset_at, block_until, 1}
end
return {1, count, reset_at, 0, 0}
`)

var decrementScript = redis.NewScript(`
local count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
local block_until = tonumber(redis.call('HGET', KEYS[1], 'block_until') or '0')
if count > 0 and block_until == 0 then
  redis.call('HINCRBY', KEYS[1], 'count', -1)
end
return 0
`)

// RedisStore shares counters between API replicas. Keys expire on their
// own, so Sweep has nothing to do.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) CheckAndIncrement(ctx context.Context, key string, p Policy, now time.Time, count bool) (Decision, error) {
	countArg := 0
	if count {
		countArg = 1
	}
	res, err := checkScript.Run(ctx, r.client, []string{redisPrefix + key},
		now.UnixMilli(), p.Window.Milliseconds(), p.Max, p.Block.Milliseconds(), countArg,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("run check script: %w", err)
	}
	if len(res) != 5 {
		return Decision{}, fmt.Errorf("unexpected script reply length %d", len(res))
	}

	d := Decision{
		Allowed: res[0] == 1,
		ResetAt: time.UnixMilli(res[2]),
	}
	if d.Allowed {
		d.Remaining = p.Max - int(res[1])
		return d, nil
	}
	bu := time.UnixMilli(res[3])
	d.BlockedUntil = &bu
	d.JustBlocked = res[4] == 1
	return d, nil
}

func (r *RedisStore) Decrement(ctx context.Context, key string) error {
	if err := decrementScript.Run(ctx, r.client, []string{redisPrefix + key}).Err(); err != nil {
		return fmt.Errorf("decrement %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, redisPrefix+key).Err()
}

func (r *RedisStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}
