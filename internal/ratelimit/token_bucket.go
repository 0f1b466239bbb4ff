package ratelimit

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// takeScript refills the bucket from elapsed server time, then spends one
// token. Returns {allowed, remaining, ms until the next token}.
var takeScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])

local t = redis.call("TIME")
local now = t[1] * 1000 + math.floor(t[2] / 1000)

local level = tonumber(redis.call("HGET", KEYS[1], "level"))
local last = tonumber(redis.call("HGET", KEYS[1], "last"))
if level == nil or last == nil then
  level = limit
  last = now
end

local elapsed = math.max(0, now - last)
level = math.min(limit, level + elapsed * limit / window_ms)

local allowed = 0
local wait = 0
if level >= 1 then
  allowed = 1
  level = level - 1
else
  wait = math.ceil((1 - level) * window_ms / limit)
end

redis.call("HSET", KEYS[1], "level", tostring(level), "last", now)
redis.call("PEXPIRE", KEYS[1], window_ms * 2)

return {allowed, math.floor(level), wait}
`)

// Rule allows Limit takes per Window, refilled continuously.
type Rule struct {
	Limit  int
	Window time.Duration
}

func (r Rule) validate() error {
	if r.Limit <= 0 || r.Window <= 0 {
		return errors.New("rate limit rule needs a positive limit and window")
	}
	return nil
}

// Decision is the outcome of one Take.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// TokenBucket keeps one bucket per key in a redis hash.
type TokenBucket struct {
	client *redis.Client
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{client: client}
}

// Take spends one token from the bucket at key under rule.
func (b *TokenBucket) Take(ctx context.Context, key string, rule Rule) (Decision, error) {
	if b == nil || b.client == nil {
		return Decision{}, errors.New("rate limiter not configured")
	}
	if key == "" {
		return Decision{}, errors.New("rate limiter key is empty")
	}
	if err := rule.validate(); err != nil {
		return Decision{}, err
	}

	vals, err := takeScript.Run(ctx, b.client, []string{key}, rule.Limit, rule.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(vals) != 3 {
		return Decision{}, errors.New("unexpected rate limit script reply")
	}
	return Decision{
		Allowed:    vals[0] == 1,
		Remaining:  int(vals[1]),
		RetryAfter: time.Duration(vals[2]) * time.Millisecond,
	}, nil
}
