// Package stub provides a fast, deterministic GPU provider for local runs
// and tests. The server and worker binaries also fall back to it for any
// configured provider name absent from the GPU endpoint table, so a
// deployment missing real credentials still boots end to end.
package stub

import (
	"fmt"
	"time"

	"github.com/forgelabs/genflow/internal/domain"
)

// Client is a deterministic domain.Provider: every call succeeds after a
// small simulated latency, returning a synthetic media URL derived from the
// prompt so repeated test runs can assert on it.
type Client struct {
	name    string
	latency time.Duration
}

// New constructs a stub provider under the given name.
func New(name string) *Client {
	return &Client{name: name, latency: 20 * time.Millisecond}
}

func (c *Client) Name() string { return c.name }

func (c *Client) Health(_ domain.Context) (domain.HealthStatus, error) {
	return domain.HealthStatus{OK: true, LatencyMs: 1, CheckedAt: time.Now(), Details: "stub always healthy"}, nil
}

func (c *Client) GenerateImage(_ domain.Context, params domain.Params) (domain.GenerationResult, error) {
	time.Sleep(c.latency)
	return domain.GenerationResult{
		Status:   domain.GenCompleted,
		Provider: c.name,
		ImageURL: fmt.Sprintf("https://stub.local/image/%x.png", hash(params.Prompt)),
	}, nil
}

func (c *Client) GenerateVideo(_ domain.Context, params domain.Params) (domain.GenerationResult, error) {
	time.Sleep(c.latency)
	return domain.GenerationResult{
		Status:   domain.GenCompleted,
		Provider: c.name,
		VideoURL: fmt.Sprintf("https://stub.local/video/%x.mp4", hash(params.Prompt)),
	}, nil
}

// hash is a tiny deterministic fold, not a cryptographic digest.
func hash(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}
