package stub

import (
	"context"
	"testing"

	"github.com/forgelabs/genflow/internal/domain"
)

func TestClient_GenerateImageIsDeterministic(t *testing.T) {
	c := New("stub-a")
	params := domain.Params{Prompt: "a red bicycle"}

	r1, err := c.GenerateImage(context.Background(), params)
	if err != nil {
		t.Fatalf("GenerateImage() error = %v", err)
	}
	r2, err := c.GenerateImage(context.Background(), params)
	if err != nil {
		t.Fatalf("GenerateImage() error = %v", err)
	}

	if r1.ImageURL != r2.ImageURL {
		t.Fatalf("GenerateImage() urls differ across calls: %q vs %q", r1.ImageURL, r2.ImageURL)
	}
	if r1.Status != domain.GenCompleted {
		t.Fatalf("GenerateImage() status = %q, want completed", r1.Status)
	}
}

func TestClient_GenerateVideoVariesWithPrompt(t *testing.T) {
	c := New("stub-a")

	a, _ := c.GenerateVideo(context.Background(), domain.Params{Prompt: "prompt one"})
	b, _ := c.GenerateVideo(context.Background(), domain.Params{Prompt: "prompt two"})

	if a.VideoURL == b.VideoURL {
		t.Fatal("GenerateVideo() urls should differ for different prompts")
	}
}

func TestClient_HealthAlwaysOK(t *testing.T) {
	c := New("stub-a")
	status, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if !status.OK {
		t.Fatal("Health() OK = false, want true")
	}
}
