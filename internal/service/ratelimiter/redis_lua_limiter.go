// Package ratelimiter implements the sliding-window per-(user, action) rate
// limiter (C2, §4.3): Redis sorted-set window counting via an atomic Lua
// script, fail-open with a metered counter when Redis is unreachable, and a
// Postgres mirror of each window's last-seen timestamp. The mirror is only
// written; nothing in this package reads it back.
package ratelimiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/forgelabs/genflow/internal/domain"
	"github.com/forgelabs/genflow/internal/observability"
)

// WindowConfig describes one sliding window: at most Requests hits per
// Window, with an optional BlockDuration that, once tripped, rejects every
// request for the key until it elapses regardless of window occupancy.
type WindowConfig struct {
	Requests      int
	Window        time.Duration
	BlockDuration time.Duration
}

// TrustTier selects which of an action's three window configurations applies
// to a user, based on their recent violation history (§4.3 adaptive mode).
type TrustTier int

const (
	TierBase TrustTier = iota
	TierTrusted
	TierRestricted
)

// ActionConfig holds the trusted/base/restricted window triple for one action.
// The adaptive mode only ever picks among these three; it never disables
// limiting outright.
type ActionConfig struct {
	Trusted    WindowConfig
	Base       WindowConfig
	Restricted WindowConfig
}

func (a ActionConfig) forTier(tier TrustTier) WindowConfig {
	switch tier {
	case TierTrusted:
		return a.Trusted
	case TierRestricted:
		return a.Restricted
	default:
		return a.Base
	}
}

// DefaultActionConfigs returns the standard limit table for the actions
// enumerated in §4.3, scaled from a single requests-per-minute baseline.
func DefaultActionConfigs(perMinute int) map[string]ActionConfig {
	if perMinute <= 0 {
		perMinute = 30
	}
	mk := func(mult float64, window time.Duration, block time.Duration) ActionConfig {
		base := WindowConfig{Requests: maxInt(1, int(float64(perMinute)*mult)), Window: window, BlockDuration: block}
		trusted := base
		trusted.Requests = base.Requests * 2
		restricted := base
		restricted.Requests = maxInt(1, base.Requests/2)
		return ActionConfig{Trusted: trusted, Base: base, Restricted: restricted}
	}
	return map[string]ActionConfig{
		"image_generation":  mk(1.0, time.Minute, 0),
		"video_generation":  mk(0.5, time.Minute, 0),
		"training":          mk(0.1, time.Hour, 0),
		"api_calls":         mk(3.0, time.Minute, 0),
		"login_attempts":    mk(0.2, 5*time.Minute, 15*time.Minute),
		"content_reports":   mk(0.3, time.Hour, 0),
		"comments":          mk(1.0, time.Minute, 0),
		"likes":             mk(2.0, time.Minute, 0),
		"image_uploads":     mk(0.5, time.Minute, 0),
		"training_uploads":  mk(0.2, time.Hour, 0),
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// SlidingWindowLimiter implements domain.RateLimiter.
type SlidingWindowLimiter struct {
	redis   *redis.Client
	pool    *pgxpool.Pool
	actions map[string]ActionConfig
	script  *redis.Script
}

var _ domain.RateLimiter = (*SlidingWindowLimiter)(nil)

// NewSlidingWindowLimiter builds a limiter. pool may be nil to disable the
// Postgres mirror (e.g. in unit tests backed only by miniredis).
func NewSlidingWindowLimiter(rdb *redis.Client, pool *pgxpool.Pool, actions map[string]ActionConfig) *SlidingWindowLimiter {
	if actions == nil {
		actions = DefaultActionConfigs(30)
	}
	return &SlidingWindowLimiter{
		redis:   rdb,
		pool:    pool,
		actions: actions,
		script:  redis.NewScript(slidingWindowScript),
	}
}

// slidingWindowScript implements §4.3's four-step algorithm atomically:
// check block, trim the window, test capacity (and arm a block if the
// action configures one), else record the hit.
const slidingWindowScript = `
local zkey = KEYS[1]
local blockkey = KEYS[2]
local now_ms = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local block_ms = tonumber(ARGV[4])
local member = ARGV[5]

local blocked_until = redis.call("GET", blockkey)
if blocked_until and tonumber(blocked_until) > now_ms then
  return { 0, 0, tonumber(blocked_until) - now_ms }
end

redis.call("ZREMRANGEBYSCORE", zkey, "-inf", now_ms - window_ms)
local count = redis.call("ZCARD", zkey)

if count >= limit then
  local retry_after = window_ms
  local oldest = redis.call("ZRANGE", zkey, 0, 0, "WITHSCORES")
  if oldest[2] ~= nil then
    retry_after = (tonumber(oldest[2]) + window_ms) - now_ms
  end
  if block_ms > 0 then
    local until = now_ms + block_ms
    redis.call("SET", blockkey, until, "PX", block_ms)
    retry_after = block_ms
  end
  return { 0, 0, retry_after }
end

redis.call("ZADD", zkey, now_ms, member)
redis.call("PEXPIRE", zkey, window_ms)
return { 1, limit - count - 1, 0 }
`

// Check implements domain.RateLimiter. On Redis errors it fails open and
// increments the explicit rate_limit_store_unavailable counter (§4.3,
// Design Note §9a) rather than silently allowing every request.
func (l *SlidingWindowLimiter) Check(ctx context.Context, user, action string, now time.Time) (domain.RateDecision, error) {
	if l == nil || l.redis == nil {
		observability.RecordRateLimitStoreUnavailable()
		return domain.RateDecision{Allowed: true}, nil
	}

	cfg, ok := l.actions[action]
	if !ok {
		return domain.RateDecision{Allowed: true}, nil
	}
	window := cfg.forTier(l.tierFor(ctx, user, action))
	if window.Requests <= 0 {
		return domain.RateDecision{Allowed: true}, nil
	}

	zkey := fmt.Sprintf("ratelimit:{%s}:%s", user, action)
	blockKey := fmt.Sprintf("ratelimit:block:{%s}:%s", user, action)
	nowMS := now.UnixMilli()
	// A per-request ULID suffix keeps the member unique even when two hits
	// from the same user land in the same millisecond; a plain "ts-user"
	// member would collide and ZADD would overwrite the existing entry's
	// score instead of adding a second one, letting ZCARD undercount the
	// window under burst load.
	member := fmt.Sprintf("%d-%s-%s", nowMS, user, ulid.Make().String())

	res, err := l.script.Run(ctx, l.redis,
		[]string{zkey, blockKey},
		nowMS, window.Window.Milliseconds(), window.Requests, window.BlockDuration.Milliseconds(), member,
	).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Error("rate limiter script error, failing open", slog.String("user", user), slog.String("action", action), slog.Any("error", err))
			observability.RecordRateLimitStoreUnavailable()
		}
		return domain.RateDecision{Allowed: true}, nil
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) < 3 {
		observability.RecordRateLimitStoreUnavailable()
		return domain.RateDecision{Allowed: true}, nil
	}

	allowed := toInt64(vals[0]) == 1
	remaining := int(toInt64(vals[1]))
	retryAfter := time.Duration(toInt64(vals[2])) * time.Millisecond

	decision := domain.RateDecision{Allowed: allowed, Remaining: remaining, RetryAfter: retryAfter}
	if !allowed {
		observability.RecordRateLimitViolation(action)
		l.recordViolation(ctx, user, action, now)
	}
	if l.pool != nil {
		l.mirrorWindow(ctx, user, action, nowMS)
	}
	return decision, nil
}

// tierFor consults the recent violation count (Postgres-backed, best-effort)
// to pick a trust tier. Anything it cannot determine defaults to base.
func (l *SlidingWindowLimiter) tierFor(ctx context.Context, user, action string) TrustTier {
	if l.pool == nil {
		return TierBase
	}
	var violations int
	err := l.pool.QueryRow(ctx,
		`SELECT count(*) FROM rate_limit_violations
		 WHERE user_id = $1 AND occurred_at > now() - interval '1 hour'`,
		user,
	).Scan(&violations)
	if err != nil {
		return TierBase
	}
	switch {
	case violations >= 3:
		return TierRestricted
	case violations == 0:
		return TierTrusted
	default:
		return TierBase
	}
}

// recordViolation appends to the violation ledger used for tier selection
// and anomaly review (§4.3). Rows are removed only by CleanupViolations.
func (l *SlidingWindowLimiter) recordViolation(ctx context.Context, user, action string, now time.Time) {
	if l.pool == nil {
		return
	}
	_, err := l.pool.Exec(ctx,
		`INSERT INTO rate_limit_violations (user_id, action, occurred_at) VALUES ($1, $2, $3)`,
		user, action, now,
	)
	if err != nil {
		slog.Error("failed to record rate limit violation", slog.String("user", user), slog.Any("error", err))
	}
}

// mirrorWindow persists the window's last-seen timestamp to Postgres. No code
// reads rate_limit_windows back to warm Redis after a restart.
func (l *SlidingWindowLimiter) mirrorWindow(ctx context.Context, user, action string, nowMS int64) {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO rate_limit_windows (user_id, action, last_seen_ms)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, action) DO UPDATE SET last_seen_ms = EXCLUDED.last_seen_ms`,
		user, action, nowMS,
	)
	if err != nil {
		slog.Error("failed to mirror rate limit window to postgres", slog.String("user", user), slog.Any("error", err))
	}
}

// CleanupViolations deletes violation records older than retention. Neither
// binary schedules it, so violation rows are kept until a caller runs it.
func (l *SlidingWindowLimiter) CleanupViolations(ctx context.Context, retention time.Duration) error {
	if l.pool == nil {
		return nil
	}
	_, err := l.pool.Exec(ctx, `DELETE FROM rate_limit_violations WHERE occurred_at < $1`, time.Now().Add(-retention))
	return err
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}
