// Package ratelimit enforces fixed-window submission limits in Redis.
// The window counter lives in a Lua script so concurrent engine
// replicas increment and expire it atomically.
package ratelimit

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/lyzr/ragflow/common/logger"
)

//go:embed rate_limit.lua
var rateLimitScript string

// Result is the outcome of one window check
type Result struct {
	Allowed           bool
	CurrentCount      int64
	Limit             int64
	RetryAfterSeconds int64
}

// Limiter checks global and per-tenant submission windows
type Limiter struct {
	redis  *redis.Client
	script *redis.Script
	log    *logger.Logger
}

// New creates a limiter over an existing Redis client
func New(client *redis.Client, log *logger.Logger) *Limiter {
	return &Limiter{
		redis:  client,
		script: redis.NewScript(rateLimitScript),
		log:    log,
	}
}

// CheckGlobal consumes one slot from the service-wide window
func (l *Limiter) CheckGlobal(ctx context.Context) (*Result, error) {
	return l.checkWindow(ctx, "rate_limit:global", GlobalLimit)
}

// CheckTenant consumes one slot from the tenant's window for the tier
func (l *Limiter) CheckTenant(ctx context.Context, tenantID string, tier Tier) (*Result, error) {
	key := fmt.Sprintf("rate_limit:tenant:%s:tier:%s", tenantID, tier)
	return l.checkWindow(ctx, key, LimitForTier(tier))
}

func (l *Limiter) checkWindow(ctx context.Context, key string, limit int64) (*Result, error) {
	raw, err := l.script.Run(ctx, l.redis, []string{key}, limit, windowSeconds).Result()
	if err != nil {
		l.log.Error("rate limit check failed", "key", key, "error", err)
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	fields, ok := raw.([]interface{})
	if !ok || len(fields) != 4 {
		return nil, fmt.Errorf("unexpected rate limit script result: %v", raw)
	}

	result := &Result{
		Allowed:           fields[0].(int64) == 1,
		CurrentCount:      fields[1].(int64),
		Limit:             fields[2].(int64),
		RetryAfterSeconds: fields[3].(int64),
	}

	if !result.Allowed {
		l.log.Warn("rate limit exceeded",
			"key", key,
			"current", result.CurrentCount,
			"limit", result.Limit,
			"retry_after", result.RetryAfterSeconds)
	}
	return result, nil
}

// CurrentCount reads a window counter without consuming a slot
func (l *Limiter) CurrentCount(ctx context.Context, key string) (int64, error) {
	count, err := l.redis.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return count, err
}

// Reset clears a window counter
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.redis.Del(ctx, key).Err()
}
