// Package gpu implements the multi-provider GPU orchestrator (C6): it wraps
// an ordered set of image/video generation providers and a captioning
// provider behind a common interface, enforcing per-call timeouts and a
// per-provider circuit breaker.
package gpu

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/forgelabs/genflow/internal/config"
	"github.com/forgelabs/genflow/internal/domain"
	"github.com/forgelabs/genflow/internal/observability"
)

// Orchestrator selects a provider per generate call, enforces timeouts, and
// manages per-provider circuits and cross-provider retry sweeps.
type Orchestrator struct {
	providers []domain.Provider
	order     []string // provider names in configured order, primary first

	cbm *observability.CircuitBreakerManager

	timeout       time.Duration
	retryAttempts int

	captioner      domain.CaptionProvider
	captionTimeout time.Duration
}

// New builds an Orchestrator from an ordered, deduplicated provider list. The
// first entry is the configured primary; the rest are fallbacks in order.
func New(cfg config.Config, providers []domain.Provider, captioner domain.CaptionProvider) *Orchestrator {
	order := make([]string, 0, len(providers))
	seen := make(map[string]bool, len(providers))
	for _, p := range providers {
		name := p.Name()
		if seen[name] {
			continue
		}
		seen[name] = true
		order = append(order, name)
	}

	return &Orchestrator{
		providers:      providers,
		order:          order,
		cbm:            observability.NewCircuitBreakerManager(cfg.GPUFailureThreshold, cfg.GPUCooldown, 0.5),
		timeout:        cfg.GPUTimeoutMs,
		retryAttempts:  cfg.GPURetryAttempts,
		captioner:      captioner,
		captionTimeout: cfg.CaptionTimeout,
	}
}

// byName returns the provider registered under name, or nil.
func (o *Orchestrator) byName(name string) domain.Provider {
	for _, p := range o.providers {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// Generate runs the provider sweep for kind, returning the first usable
// result. kind must be KindImage or KindVideo; captioning and training are
// handled by their own callers.
func (o *Orchestrator) Generate(ctx domain.Context, kind domain.Kind, params domain.Params) (domain.GenerationResult, error) {
	var lastErr error

	for attempt := 0; attempt <= o.retryAttempts; attempt++ {
		for _, name := range o.order {
			provider := o.byName(name)
			if provider == nil {
				continue
			}
			cb := o.cbm.Breaker(name)
			if !cb.CanExecute() {
				slog.Debug("gpu provider circuit open, skipping", slog.String("provider", name), slog.Int("attempt", attempt))
				continue
			}

			callCtx, cancel := context.WithTimeout(ctx, o.timeout)
			start := time.Now()
			result, err := o.call(callCtx, provider, kind, params)
			cancel()

			elapsed := time.Since(start)

			if err == nil && (result.Status == domain.GenStarted || result.Status == domain.GenCompleted) {
				cb.RecordSuccess()
				result.LatencyMs = elapsed.Milliseconds()
				result.Provider = name
				observability.RecordGPUCall(name, string(kind), elapsed)
				return result, nil
			}

			if err == nil {
				err = result.Err
			}
			if err == nil {
				err = fmt.Errorf("provider %s returned non-terminal status %q", name, result.Status)
			}
			lastErr = err
			cb.RecordFailure()
			observability.RecordGPUCall(name, string(kind), elapsed)
			slog.Warn("gpu provider call failed", slog.String("provider", name), slog.Int("attempt", attempt), slog.Any("error", err))
		}
	}

	if lastErr != nil {
		return domain.GenerationResult{}, fmt.Errorf("op=gpu.Generate: %w: %v", domain.ErrAllProvidersFailed, lastErr)
	}
	return domain.GenerationResult{}, fmt.Errorf("op=gpu.Generate: %w", domain.ErrAllProvidersFailed)
}

func (o *Orchestrator) call(ctx domain.Context, provider domain.Provider, kind domain.Kind, params domain.Params) (domain.GenerationResult, error) {
	switch kind {
	case domain.KindImage:
		return provider.GenerateImage(ctx, params)
	case domain.KindVideo:
		return provider.GenerateVideo(ctx, params)
	default:
		return domain.GenerationResult{}, fmt.Errorf("op=gpu.call: unsupported kind %q", kind)
	}
}

// Caption captions an init image with an independent timeout and a single
// attempt. Failure is returned to the caller (C5), never retried here.
func (o *Orchestrator) Caption(ctx domain.Context, params domain.Params) (domain.CaptionResult, error) {
	if o.captioner == nil {
		return domain.CaptionResult{}, fmt.Errorf("op=gpu.Caption: %w: no captioning provider configured", domain.ErrInternal)
	}
	callCtx, cancel := context.WithTimeout(ctx, o.captionTimeout)
	defer cancel()

	result, err := o.captioner.Caption(callCtx, params)
	if err != nil {
		return domain.CaptionResult{}, fmt.Errorf("op=gpu.Caption: %w", err)
	}
	return result, nil
}

// HealthReport is a single provider's probe outcome keyed by provider name.
type HealthReport map[string]domain.HealthStatus

// HealthAll fans out a short-timeout health probe to every registered
// provider, in parallel, and reports each one's outcome.
func (o *Orchestrator) HealthAll(ctx domain.Context) HealthReport {
	type probe struct {
		name   string
		status domain.HealthStatus
	}

	results := make(chan probe, len(o.providers))
	for _, p := range o.providers {
		go func(p domain.Provider) {
			callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			status, err := p.Health(callCtx)
			if err != nil {
				status = domain.HealthStatus{OK: false, CheckedAt: time.Now(), Details: err.Error()}
			}
			results <- probe{name: p.Name(), status: status}
		}(p)
	}

	report := make(HealthReport, len(o.providers))
	for range o.providers {
		p := <-results
		report[p.name] = p.status
	}
	return report
}

// CircuitStates exposes every tracked provider's breaker state for the
// readiness surface (C10).
func (o *Orchestrator) CircuitStates() map[string]observability.CircuitBreakerState {
	return o.cbm.States()
}
