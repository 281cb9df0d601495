package caption

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/forgelabs/genflow/internal/domain"
)

// a minimal valid PNG header, enough for mimetype.Detect to classify as image/png.
var pngBytes = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}

func TestClient_Caption_Success(t *testing.T) {
	img := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(pngBytes)
	}))
	defer img.Close()

	captioner := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"caption":"a cat on a sofa","model":"caption-v1"}`))
	}))
	defer captioner.Close()

	c := New("captioner", captioner.URL, "")
	result, err := c.Caption(context.Background(), domain.Params{InitImageURL: img.URL})
	if err != nil {
		t.Fatalf("Caption() error = %v", err)
	}
	if result.Caption != "a cat on a sofa" {
		t.Fatalf("Caption() caption = %q, want %q", result.Caption, "a cat on a sofa")
	}
	if result.Model != "caption-v1" {
		t.Fatalf("Caption() model = %q, want %q", result.Model, "caption-v1")
	}
}

func TestClient_Caption_RejectsNonImageMime(t *testing.T) {
	notImage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("just some plain text, not an image at all"))
	}))
	defer notImage.Close()

	c := New("captioner", "http://unused.invalid", "")
	_, err := c.Caption(context.Background(), domain.Params{InitImageURL: notImage.URL})
	if err == nil {
		t.Fatal("Caption() error = nil, want rejection for non-image mime")
	}
}

func TestClient_Caption_MissingInitImageURL(t *testing.T) {
	c := New("captioner", "http://unused.invalid", "")
	_, err := c.Caption(context.Background(), domain.Params{})
	if err == nil {
		t.Fatal("Caption() error = nil, want error for missing init image url")
	}
}

func TestClient_Caption_EndpointFailureSurfaced(t *testing.T) {
	img := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(pngBytes)
	}))
	defer img.Close()

	captioner := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer captioner.Close()

	c := New("captioner", captioner.URL, "")
	_, err := c.Caption(context.Background(), domain.Params{InitImageURL: img.URL})
	if err == nil {
		t.Fatal("Caption() error = nil, want error when captioning endpoint fails")
	}
}
