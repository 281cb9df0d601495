// Package config defines retry and DLQ configuration.
package config

import (
	"time"

	"github.com/forgelabs/genflow/internal/domain"
)

// RetryConfig holds DLQ cleanup configuration shared across all queue kinds.
type RetryConfig struct {
	DLQMaxAge            time.Duration `env:"DLQ_MAX_AGE" envDefault:"168h"`
	DLQCleanupInterval   time.Duration `env:"DLQ_CLEANUP_INTERVAL" envDefault:"24h"`
	DLQRateLimitCooldown time.Duration `env:"DLQ_RATE_LIMIT_COOLDOWN" envDefault:"30s"`
}

// GetRetryConfig returns the DLQ cleanup configuration.
func (c Config) GetRetryConfig() RetryConfig {
	return RetryConfig{
		DLQMaxAge:            c.DLQMaxAge,
		DLQCleanupInterval:   c.DLQCleanupInterval,
		DLQRateLimitCooldown: c.DLQRateLimitCooldown,
	}
}

// GetKindRetryConfig returns the per-kind retry/backoff policy (§4.5), applying
// the global override env vars when set (mainly used to speed up tests).
func (c Config) GetKindRetryConfig(kind domain.Kind) domain.RetryConfig {
	rc := domain.RetryConfigForKind(kind)
	if c.RetryMaxRetries > 0 {
		rc.MaxRetries = c.RetryMaxRetries
	}
	if c.RetryInitialDelay > 0 {
		rc.InitialDelay = c.RetryInitialDelay
	}
	if c.RetryMaxDelay > 0 {
		rc.MaxDelay = c.RetryMaxDelay
	}
	if c.RetryMultiplier > 0 {
		rc.Multiplier = c.RetryMultiplier
	}
	rc.Jitter = c.RetryJitter
	return rc
}
