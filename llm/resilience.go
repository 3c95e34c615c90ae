// Copyright 2025 FieldLine
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RateLimiter bounds per-tenant request rate. Implementations return an
// ErrCodeRateLimit error when the tenant is over its window allowance.
type RateLimiter interface {
	Allow(ctx context.Context, accountID string) error
}

// BudgetGuard bounds per-tenant monthly spend. Check fails with
// ErrCodeBudget when the budget is exhausted; Record accrues actual usage
// after a successful call.
type BudgetGuard interface {
	Check(ctx context.Context, accountID string, estimatedCents int64) error
	Record(ctx context.Context, accountID string, actualCents int64) error
}

// Defaults for tenants with no explicit limits configured.
const (
	DefaultRateLimit  = 60 // requests per minute
	DefaultRateWindow = time.Minute

	DefaultMonthlyBudgetCents int64 = 10000 // $100
)

// RedisRateLimiter is a fixed-window per-tenant rate limiter. The window key
// rotates each minute; INCR plus first-write EXPIRE keeps it a single round
// trip in the common case.
type RedisRateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

// NewRedisRateLimiter creates a rate limiter. Non-positive limit or window
// fall back to the defaults.
func NewRedisRateLimiter(client *redis.Client, limit int64, window time.Duration) *RedisRateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &RedisRateLimiter{client: client, limit: limit, window: window}
}

// Allow consumes one request slot for accountID. Redis unavailability fails
// open: a degraded limiter must not take the gateway down with it.
func (l *RedisRateLimiter) Allow(ctx context.Context, accountID string) error {
	key := fmt.Sprintf("ratelimit:%s:%d", accountID, time.Now().Unix()/int64(l.window.Seconds()))

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return nil
	}
	if count == 1 {
		l.client.Expire(ctx, key, l.window)
	}
	if count > l.limit {
		return Errorf(ErrCodeRateLimit, "rate limit exceeded: %d requests per %s", l.limit, l.window)
	}
	return nil
}

// RedisBudgetGuard tracks monthly spend per tenant in integer cents. The
// month key self-expires after 62 days so stale tenants do not accumulate.
type RedisBudgetGuard struct {
	client       *redis.Client
	monthlyCents int64
}

// NewRedisBudgetGuard creates a budget guard. A non-positive budget falls
// back to DefaultMonthlyBudgetCents.
func NewRedisBudgetGuard(client *redis.Client, monthlyCents int64) *RedisBudgetGuard {
	if monthlyCents <= 0 {
		monthlyCents = DefaultMonthlyBudgetCents
	}
	return &RedisBudgetGuard{client: client, monthlyCents: monthlyCents}
}

func budgetKey(accountID string) string {
	return fmt.Sprintf("budget:%s:%s", accountID, time.Now().UTC().Format("2006-01"))
}

// Check verifies the tenant has headroom for an estimated spend. Fails open
// on Redis unavailability.
func (g *RedisBudgetGuard) Check(ctx context.Context, accountID string, estimatedCents int64) error {
	spent, err := g.client.Get(ctx, budgetKey(accountID)).Int64()
	if err != nil && err != redis.Nil {
		return nil
	}
	if spent+estimatedCents > g.monthlyCents {
		return Errorf(ErrCodeBudget, "monthly AI budget exhausted (%d of %d cents)", spent, g.monthlyCents)
	}
	return nil
}

// Record accrues actual spend after a completed call.
func (g *RedisBudgetGuard) Record(ctx context.Context, accountID string, actualCents int64) error {
	if actualCents <= 0 {
		return nil
	}
	key := budgetKey(accountID)
	total, err := g.client.IncrBy(ctx, key, actualCents).Result()
	if err != nil {
		return nil
	}
	if total == actualCents {
		g.client.Expire(ctx, key, 62*24*time.Hour)
	}
	return nil
}

// NoopRateLimiter admits everything. Used when REDIS_URL is unset.
type NoopRateLimiter struct{}

func (NoopRateLimiter) Allow(ctx context.Context, accountID string) error { return nil }

// NoopBudgetGuard admits everything and records nothing.
type NoopBudgetGuard struct{}

func (NoopBudgetGuard) Check(ctx context.Context, accountID string, estimatedCents int64) error {
	return nil
}
func (NoopBudgetGuard) Record(ctx context.Context, accountID string, actualCents int64) error {
	return nil
}

var (
	_ RateLimiter = (*RedisRateLimiter)(nil)
	_ BudgetGuard = (*RedisBudgetGuard)(nil)
	_ RateLimiter = NoopRateLimiter{}
	_ BudgetGuard = NoopBudgetGuard{}
)

// Cost per 1K tokens in hundredths of a cent, keyed by model prefix.
// Unknown models use costDefault. Prices are deliberately coarse; they feed
// budget accounting, not billing.
var costPer1K = map[string]struct{ in, out int64 }{
	"gpt-4o":           {50, 150},
	"gpt-4o-mini":      {2, 6},
	"gpt-4-turbo":      {100, 300},
	"claude-sonnet-4":  {30, 150},
	"claude-opus-4":    {150, 750},
	"claude-3-5-haiku": {8, 40},
	"anthropic.claude": {30, 150},
	"amazon.titan":     {2, 6},
}

var costDefault = struct{ in, out int64 }{50, 150}

// EstimateCostCents estimates the cost of a completion in cents. Used both
// for pre-call budget checks (with projected tokens) and post-call accrual
// (with actual usage).
func EstimateCostCents(model string, usage UsageStats) int64 {
	rate := costDefault
	best := 0
	for prefix, r := range costPer1K {
		if len(prefix) > best && len(model) >= len(prefix) && model[:len(prefix)] == prefix {
			rate = r
			best = len(prefix)
		}
	}
	raw := int64(usage.PromptTokens)*rate.in + int64(usage.CompletionTokens)*rate.out
	if raw == 0 {
		return 0
	}
	// Round up so sub-cent calls still accrue; a tenant's budget should
	// never be drained invisibly by many free-looking calls.
	hundredths := (raw + 999) / 1000
	return (hundredths + 99) / 100
}
