// Package moderation implements the HTTP adapter for the external
// classifier (C7, §1): this service's own code never scores content, it only
// calls out to a classifier endpoint and translates its response into
// domain.ModerationScores.
package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/forgelabs/genflow/internal/domain"
)

// Classifier calls an external content-classification endpoint over HTTP. It
// implements domain.ModerationClassifier.
type Classifier struct {
	baseURL string
	apiKey  string
	hc      *http.Client
	timeout time.Duration
}

// New builds a Classifier against baseURL, authenticating with apiKey when set.
func New(baseURL, apiKey string, timeout time.Duration) *Classifier {
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "moderation.classify " + r.URL.Host
		}),
	)
	return &Classifier{baseURL: baseURL, apiKey: apiKey, hc: &http.Client{Transport: transport}, timeout: timeout}
}

type classifyRequest struct {
	JobID    string `json:"job_id"`
	Kind     string `json:"kind"`
	MediaURL string `json:"media_url"`
}

type classifyResponse struct {
	Adult      float64 `json:"adult"`
	Violence   float64 `json:"violence"`
	Hate       float64 `json:"hate"`
	Harassment float64 `json:"harassment"`
	SelfHarm   float64 `json:"self_harm"`
	Overall    float64 `json:"overall"`
}

// Classify posts the job's media URL to the classifier and returns its score
// vector.
func (c *Classifier) Classify(ctx domain.Context, jobID string, kind domain.Kind, mediaURL string) (domain.ModerationScores, error) {
	if c.baseURL == "" {
		return domain.ModerationScores{}, fmt.Errorf("op=moderation.Classify: no classifier endpoint configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, _ := json.Marshal(classifyRequest{JobID: jobID, Kind: string(kind), MediaURL: mediaURL})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/classify", bytes.NewReader(body))
	if err != nil {
		return domain.ModerationScores{}, fmt.Errorf("op=moderation.Classify: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return domain.ModerationScores{}, fmt.Errorf("op=moderation.Classify: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return domain.ModerationScores{}, fmt.Errorf("op=moderation.Classify: classifier returned status %d", resp.StatusCode)
	}

	var out classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.ModerationScores{}, fmt.Errorf("op=moderation.Classify: %w", err)
	}
	return domain.ModerationScores{
		Adult: out.Adult, Violence: out.Violence, Hate: out.Hate,
		Harassment: out.Harassment, SelfHarm: out.SelfHarm, Overall: out.Overall,
	}, nil
}
