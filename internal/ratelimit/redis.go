package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Distributed is a token bucket shared across processes via Redis.
// Multiple workers submitting to the same audience account must share
// one budget; a per-process Bucket cannot see the other workers.
type Distributed struct {
	redis  *redis.Client
	script *redis.Script
	key    string

	mu    sync.Mutex
	rate  float64
	burst int
}

// Lua script for an atomic token bucket check. The caller supplies the
// clock (microseconds) so all workers refill against the same timeline
// regardless of local clock skew relative to Redis.
const tokenBucketLuaScript = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(state[1])
local ts = tonumber(state[2])

-- First touch starts a full bucket
if tokens == nil or ts == nil then
    tokens = capacity
    ts = now
end

local elapsed = (now - ts) / 1000000
if elapsed > 0 then
    tokens = tokens + elapsed * rate
end
if tokens > capacity then
    tokens = capacity
end

local allowed = 0
local wait_ms = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
else
    wait_ms = math.ceil((1 - tokens) / rate * 1000)
end

redis.call("HSET", key, "tokens", tokens, "ts", now)
redis.call("PEXPIRE", key, ttl)

return {allowed, wait_ms}
`

// NewDistributed creates a Redis-backed limiter for the named account.
// Rate and burst are clamped the same way NewBucket clamps them.
func NewDistributed(redisClient *redis.Client, name string, ratePerSecond float64, burst int) *Distributed {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &Distributed{
		redis:  redisClient,
		script: redis.NewScript(tokenBucketLuaScript),
		key:    "ratelimit:audience:" + name,
		rate:   ratePerSecond,
		burst:  burst,
	}
}

// Acquire blocks until a token is granted or ctx is done.
func (d *Distributed) Acquire(ctx context.Context) error {
	for {
		allowed, wait, err := d.tryAcquire(ctx)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		// Floor the poll interval so a near-empty bucket does not
		// turn into a busy loop against Redis.
		if wait < 10*time.Millisecond {
			wait = 10 * time.Millisecond
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("ratelimit: acquire aborted: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

func (d *Distributed) tryAcquire(ctx context.Context) (bool, time.Duration, error) {
	rate, burst := d.Config()

	// Keep state around long enough for a cold bucket to refill, plus
	// slack so idle accounts eventually clean themselves up.
	ttlMs := int64(float64(burst)/rate*1000) + 60_000

	result, err := d.script.Run(ctx, d.redis,
		[]string{d.key},
		rate,
		burst,
		time.Now().UnixMicro(),
		ttlMs,
	).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit: redis check failed: %w", err)
	}
	if len(result) != 2 {
		return false, 0, fmt.Errorf("ratelimit: unexpected script reply of length %d", len(result))
	}

	allowed := result[0].(int64) == 1
	waitMs := result[1].(int64)

	return allowed, time.Duration(waitMs) * time.Millisecond, nil
}

// Available reports the tokens currently in the shared bucket. It is a
// read-only estimate; concurrent workers may consume them first.
func (d *Distributed) Available(ctx context.Context) (float64, error) {
	rate, burst := d.Config()

	state, err := d.redis.HMGet(ctx, d.key, "tokens", "ts").Result()
	if err != nil {
		return 0, fmt.Errorf("ratelimit: redis read failed: %w", err)
	}

	tokens, ts, ok := parseBucketState(state)
	if !ok {
		return float64(burst), nil
	}

	elapsed := time.Since(time.UnixMicro(ts)).Seconds()
	if elapsed > 0 {
		tokens += elapsed * rate
	}
	if tokens > float64(burst) {
		tokens = float64(burst)
	}
	return tokens, nil
}

// Update replaces the rate and burst applied on subsequent acquisitions.
// Banked tokens above the new burst are clamped by the next check.
func (d *Distributed) Update(ratePerSecond float64, burst int) {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	if burst < 1 {
		burst = 1
	}
	d.mu.Lock()
	d.rate = ratePerSecond
	d.burst = burst
	d.mu.Unlock()
}

// Config returns the current rate and burst.
func (d *Distributed) Config() (ratePerSecond float64, burst int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rate, d.burst
}

// Key returns the Redis key holding the bucket state.
func (d *Distributed) Key() string {
	return d.key
}

func parseBucketState(state []interface{}) (tokens float64, ts int64, ok bool) {
	if len(state) != 2 || state[0] == nil || state[1] == nil {
		return 0, 0, false
	}
	tokensStr, ok1 := state[0].(string)
	tsStr, ok2 := state[1].(string)
	if !ok1 || !ok2 {
		return 0, 0, false
	}
	tokens, err1 := strconv.ParseFloat(tokensStr, 64)
	ts, err2 := strconv.ParseInt(tsStr, 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return tokens, ts, true
}
