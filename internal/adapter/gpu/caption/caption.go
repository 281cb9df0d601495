// Package caption implements the independent-timeout, no-retry captioning
// provider used to enrich init-image prompts (§4.6 step 2, §4.7).
package caption

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/forgelabs/genflow/internal/domain"
)

var allowedMIME = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
}

// Client captions an init image by sniffing its content type, rejecting
// anything outside the image allowlist, then posting it to a captioning
// endpoint. A single attempt; callers never retry a captioning failure.
type Client struct {
	name     string
	endpoint string
	apiKey   string
	hc       *http.Client
}

// New builds a captioning client against a single HTTP endpoint.
func New(name, endpoint, apiKey string) *Client {
	return &Client{name: name, endpoint: endpoint, apiKey: apiKey, hc: &http.Client{}}
}

func (c *Client) Name() string { return c.name }

// Caption fetches params.InitImageURL, sniffs its content type, and posts it
// for captioning.
func (c *Client) Caption(ctx domain.Context, params domain.Params) (domain.CaptionResult, error) {
	if params.InitImageURL == "" {
		return domain.CaptionResult{}, fmt.Errorf("op=caption.Caption: %w: no init image url", domain.ErrInvalidArgument)
	}

	start := time.Now()
	imgBytes, err := c.fetchImage(ctx, params.InitImageURL)
	if err != nil {
		return domain.CaptionResult{}, fmt.Errorf("op=caption.Caption: %w", err)
	}

	mime := mimetype.Detect(imgBytes)
	if !allowedMIME[mime.String()] {
		return domain.CaptionResult{}, fmt.Errorf("op=caption.Caption: %w: unsupported init image mime %q", domain.ErrInvalidArgument, mime.String())
	}

	caption, model, err := c.requestCaption(ctx, imgBytes, mime.String())
	if err != nil {
		return domain.CaptionResult{}, fmt.Errorf("op=caption.Caption: %w", err)
	}

	return domain.CaptionResult{
		Caption:   caption,
		Model:     model,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

func (c *Client) fetchImage(ctx domain.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch init image: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 20<<20))
}

func (c *Client) requestCaption(ctx domain.Context, imgBytes []byte, mime string) (caption, model string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(imgBytes))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", mime)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("caption endpoint status %d", resp.StatusCode)
	}

	var out struct {
		Caption string `json:"caption"`
		Model   string `json:"model"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", err
	}
	return out.Caption, out.Model, nil
}
