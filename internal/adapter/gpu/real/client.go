// Package real implements GPU providers that speak to actual HTTP backends,
// either synchronously (URL returned immediately) or via a job-oriented
// dialect (submit, then poll a status endpoint).
package real

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/forgelabs/genflow/internal/adapter/gpu"
	"github.com/forgelabs/genflow/internal/domain"
)

// Client is a domain.Provider backed by a single HTTP dialect endpoint table
// entry. It translates either dialect into the common GenerationResult shape.
type Client struct {
	name       string
	baseURL    string
	apiKey     string
	dialect    string // "sync" or "async"
	imagePath  string
	videoPath  string
	statusPath string
	healthPath string

	hc           *http.Client
	pollInterval time.Duration
}

// New builds a Client from an endpoint config entry.
func New(cfg gpu.EndpointConfig, pollInterval time.Duration) *Client {
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("GPU %s %s", r.Method, r.URL.Host)
		}),
	)
	return &Client{
		name:         cfg.Name,
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey(),
		dialect:      cfg.Dialect,
		imagePath:    cfg.ImagePath,
		videoPath:    cfg.VideoPath,
		statusPath:   cfg.StatusPath,
		healthPath:   cfg.HealthPath,
		hc:           &http.Client{Transport: transport},
		pollInterval: pollInterval,
	}
}

// Name returns the provider's configured name.
func (c *Client) Name() string { return c.name }

// Health probes the provider's health endpoint with a short budget.
func (c *Client) Health(ctx domain.Context) (domain.HealthStatus, error) {
	start := time.Now()
	if c.healthPath == "" {
		return domain.HealthStatus{OK: true, LatencyMs: 0, CheckedAt: start, Details: "no health endpoint configured"}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.healthPath, nil)
	if err != nil {
		return domain.HealthStatus{}, fmt.Errorf("op=gpu.real.Health: %w", err)
	}
	resp, err := c.hc.Do(req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return domain.HealthStatus{OK: false, LatencyMs: latency, CheckedAt: time.Now(), Details: err.Error()}, nil
	}
	defer func() { _ = resp.Body.Close() }()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	return domain.HealthStatus{OK: ok, LatencyMs: latency, CheckedAt: time.Now(), Details: fmt.Sprintf("status %d", resp.StatusCode)}, nil
}

// GenerateImage submits an image generation request.
func (c *Client) GenerateImage(ctx domain.Context, params domain.Params) (domain.GenerationResult, error) {
	return c.generate(ctx, c.imagePath, params)
}

// GenerateVideo submits a video generation request.
func (c *Client) GenerateVideo(ctx domain.Context, params domain.Params) (domain.GenerationResult, error) {
	return c.generate(ctx, c.videoPath, params)
}

func (c *Client) generate(ctx domain.Context, path string, params domain.Params) (domain.GenerationResult, error) {
	body, _ := json.Marshal(requestBody{
		Prompt:         params.Prompt,
		NegativePrompt: params.NegativePrompt,
		Model:          params.Model,
		Width:          params.Width,
		Height:         params.Height,
		Seed:           params.Seed,
		InitImageURL:   params.InitImageURL,
		Strength:       params.Strength,
	})

	var out submitResponse
	if err := c.postJSON(ctx, path, body, &out); err != nil {
		return domain.GenerationResult{}, err
	}

	if c.dialect == "async" {
		if out.JobID == "" {
			return domain.GenerationResult{}, fmt.Errorf("op=gpu.real.generate: provider %s returned no job id for async dialect", c.name)
		}
		return gpu.PollUntilTerminal(ctx, c.statusFn(out.JobID), c.pollInterval)
	}

	return domain.GenerationResult{
		Status:        domain.GenCompleted,
		Provider:      c.name,
		ProviderJobID: out.JobID,
		ImageURL:      out.ImageURL,
		VideoURL:      out.VideoURL,
		Meta:          out.Meta,
	}, nil
}

func (c *Client) statusFn(providerJobID string) gpu.StatusFunc {
	return func(ctx domain.Context) (domain.GenerationResult, bool, error) {
		var out statusResponse
		if err := c.getJSON(ctx, fmt.Sprintf("%s/%s", c.statusPath, providerJobID), &out); err != nil {
			return domain.GenerationResult{}, false, err
		}

		switch out.State {
		case "completed":
			return domain.GenerationResult{
				Status:        domain.GenCompleted,
				Provider:      c.name,
				ProviderJobID: providerJobID,
				ImageURL:      out.ImageURL,
				VideoURL:      out.VideoURL,
				Meta:          out.Meta,
			}, true, nil
		case "failed":
			return domain.GenerationResult{
				Status:        domain.GenFailed,
				Provider:      c.name,
				ProviderJobID: providerJobID,
				Err:           fmt.Errorf("provider %s reported failure: %s", c.name, out.Error),
			}, true, nil
		default:
			return domain.GenerationResult{}, false, nil
		}
	}
}

func (c *Client) postJSON(ctx domain.Context, path string, body []byte, out any) error {
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		return c.do(req, out)
	}
	return backoff.Retry(op, backoff.WithContext(shortBackoff(), ctx))
}

func (c *Client) getJSON(ctx domain.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("provider %s rate limited", c.name)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("provider %s returned status %d", c.name, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		slog.Warn("gpu provider rejected request", slog.String("provider", c.name), slog.Int("status", resp.StatusCode), slog.String("body", string(b)))
		return backoff.Permanent(fmt.Errorf("provider %s returned status %d", c.name, resp.StatusCode))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func shortBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 5 * time.Second
	return b
}

type requestBody struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Model          string  `json:"model,omitempty"`
	Width          int     `json:"width,omitempty"`
	Height         int     `json:"height,omitempty"`
	Seed           int64   `json:"seed,omitempty"`
	InitImageURL   string  `json:"init_image_url,omitempty"`
	Strength       float64 `json:"strength,omitempty"`
}

type submitResponse struct {
	JobID    string `json:"job_id,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	VideoURL string `json:"video_url,omitempty"`
	Meta     string `json:"meta,omitempty"`
}

type statusResponse struct {
	State    string `json:"state"`
	ImageURL string `json:"image_url,omitempty"`
	VideoURL string `json:"video_url,omitempty"`
	Meta     string `json:"meta,omitempty"`
	Error    string `json:"error,omitempty"`
}
