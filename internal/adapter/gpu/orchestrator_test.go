package gpu

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/forgelabs/genflow/internal/config"
	"github.com/forgelabs/genflow/internal/domain"
)

type fakeProvider struct {
	name    string
	healthy bool
	fail    bool
	calls   int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Health(_ domain.Context) (domain.HealthStatus, error) {
	return domain.HealthStatus{OK: f.healthy, CheckedAt: time.Now()}, nil
}

func (f *fakeProvider) GenerateImage(_ domain.Context, _ domain.Params) (domain.GenerationResult, error) {
	f.calls++
	if f.fail {
		return domain.GenerationResult{Status: domain.GenFailed}, fmt.Errorf("provider %s unavailable", f.name)
	}
	return domain.GenerationResult{Status: domain.GenCompleted, Provider: f.name, ImageURL: "https://example/" + f.name}, nil
}

func (f *fakeProvider) GenerateVideo(_ domain.Context, p domain.Params) (domain.GenerationResult, error) {
	return f.GenerateImage(context.Background(), p)
}

func baseGPUConfig() config.Config {
	return config.Config{
		GPUTimeoutMs:        time.Second,
		GPURetryAttempts:    1,
		GPUFailureThreshold: 2,
		GPUCooldown:         50 * time.Millisecond,
		CaptionTimeout:      time.Second,
	}
}

func TestOrchestrator_FallsBackToSecondProvider(t *testing.T) {
	primary := &fakeProvider{name: "primary", fail: true}
	fallback := &fakeProvider{name: "fallback"}

	orch := New(baseGPUConfig(), []domain.Provider{primary, fallback}, nil)

	result, err := orch.Generate(context.Background(), domain.KindImage, domain.Params{Prompt: "a cat"})
	if err != nil {
		t.Fatalf("Generate() error = %v, want nil", err)
	}
	if result.Provider != "fallback" {
		t.Fatalf("Generate() provider = %q, want fallback", result.Provider)
	}
}

func TestOrchestrator_AllProvidersFailedError(t *testing.T) {
	primary := &fakeProvider{name: "primary", fail: true}
	fallback := &fakeProvider{name: "fallback", fail: true}

	orch := New(baseGPUConfig(), []domain.Provider{primary, fallback}, nil)

	_, err := orch.Generate(context.Background(), domain.KindImage, domain.Params{Prompt: "x"})
	if err == nil {
		t.Fatal("Generate() error = nil, want ErrAllProvidersFailed")
	}
}

func TestOrchestrator_CircuitOpensAfterThreshold(t *testing.T) {
	primary := &fakeProvider{name: "primary", fail: true}
	cfg := baseGPUConfig()
	cfg.GPURetryAttempts = 0

	orch := New(cfg, []domain.Provider{primary}, nil)

	for i := 0; i < cfg.GPUFailureThreshold; i++ {
		_, _ = orch.Generate(context.Background(), domain.KindImage, domain.Params{Prompt: "x"})
	}

	states := orch.CircuitStates()
	if states["primary"].String() != "open" {
		t.Fatalf("expected primary circuit open after %d failures, got %s", cfg.GPUFailureThreshold, states["primary"])
	}

	callsBeforeSkip := primary.calls
	_, _ = orch.Generate(context.Background(), domain.KindImage, domain.Params{Prompt: "x"})
	if primary.calls != callsBeforeSkip {
		t.Fatalf("expected provider call skipped while circuit open, calls = %d, want %d", primary.calls, callsBeforeSkip)
	}
}

func TestOrchestrator_HealthAllReportsEveryProvider(t *testing.T) {
	a := &fakeProvider{name: "a", healthy: true}
	b := &fakeProvider{name: "b", healthy: false}

	orch := New(baseGPUConfig(), []domain.Provider{a, b}, nil)
	report := orch.HealthAll(context.Background())

	if len(report) != 2 {
		t.Fatalf("HealthAll() returned %d entries, want 2", len(report))
	}
	if !report["a"].OK {
		t.Fatal("expected provider a healthy")
	}
	if report["b"].OK {
		t.Fatal("expected provider b unhealthy")
	}
}

func TestOrchestrator_CaptionWithoutProviderErrors(t *testing.T) {
	orch := New(baseGPUConfig(), nil, nil)
	_, err := orch.Caption(context.Background(), domain.Params{InitImageURL: "https://example/init.png"})
	if err == nil {
		t.Fatal("Caption() error = nil, want error when no captioner configured")
	}
}
