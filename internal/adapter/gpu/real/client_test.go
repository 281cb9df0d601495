package real

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/forgelabs/genflow/internal/adapter/gpu"
	"github.com/forgelabs/genflow/internal/domain"
)

func TestClient_GenerateImage_SyncDialect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/generate/image" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"image_url": "https://out/image.png"})
	}))
	defer srv.Close()

	c := New(gpu.EndpointConfig{
		Name:      "runpod",
		BaseURL:   srv.URL,
		Dialect:   "sync",
		ImagePath: "/generate/image",
	}, 10*time.Millisecond)

	result, err := c.GenerateImage(context.Background(), domain.Params{Prompt: "a mountain"})
	if err != nil {
		t.Fatalf("GenerateImage() error = %v", err)
	}
	if result.Status != domain.GenCompleted {
		t.Fatalf("GenerateImage() status = %q, want completed", result.Status)
	}
	if result.ImageURL != "https://out/image.png" {
		t.Fatalf("GenerateImage() image url = %q", result.ImageURL)
	}
}

func TestClient_GenerateImage_AsyncDialectPolls(t *testing.T) {
	polls := 0
	srv := httptest.NewServeMux()
	srv.HandleFunc("/v1/image", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"job_id": "job-123"})
	})
	srv.HandleFunc("/v1/status/job-123", func(w http.ResponseWriter, r *http.Request) {
		polls++
		w.Header().Set("Content-Type", "application/json")
		if polls < 2 {
			_ = json.NewEncoder(w).Encode(map[string]string{"state": "running"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"state": "completed", "image_url": "https://out/async.png"})
	})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	c := New(gpu.EndpointConfig{
		Name:       "modal",
		BaseURL:    ts.URL,
		Dialect:    "async",
		ImagePath:  "/v1/image",
		StatusPath: "/v1/status",
	}, 5*time.Millisecond)

	result, err := c.GenerateImage(context.Background(), domain.Params{Prompt: "a forest"})
	if err != nil {
		t.Fatalf("GenerateImage() error = %v", err)
	}
	if result.ImageURL != "https://out/async.png" {
		t.Fatalf("GenerateImage() image url = %q", result.ImageURL)
	}
	if polls < 2 {
		t.Fatalf("expected at least 2 status polls, got %d", polls)
	}
}

func TestClient_GenerateImage_AsyncDialectFails(t *testing.T) {
	srv := httptest.NewServeMux()
	srv.HandleFunc("/v1/image", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"job_id": "job-err"})
	})
	srv.HandleFunc("/v1/status/job-err", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"state": "failed", "error": "out of memory"})
	})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	c := New(gpu.EndpointConfig{
		Name:       "modal",
		BaseURL:    ts.URL,
		Dialect:    "async",
		ImagePath:  "/v1/image",
		StatusPath: "/v1/status",
	}, 5*time.Millisecond)

	result, err := c.GenerateImage(context.Background(), domain.Params{Prompt: "x"})
	if err != nil {
		t.Fatalf("GenerateImage() unexpected transport error = %v", err)
	}
	if result.Status != domain.GenFailed {
		t.Fatalf("GenerateImage() status = %q, want failed", result.Status)
	}
}

func TestClient_Health_NoEndpointConfigured(t *testing.T) {
	c := New(gpu.EndpointConfig{Name: "runpod", BaseURL: "http://unused.invalid"}, time.Millisecond)
	status, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if !status.OK {
		t.Fatal("Health() OK = false, want true when no health endpoint is configured")
	}
}
