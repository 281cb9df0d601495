package httpserver

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/forgelabs/genflow/internal/domain"
)

func TestWriteError_MapsKnownSentinelsToCodesAndStatus(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", domain.ErrNotFound, 404, "NOT_FOUND"},
		{"insufficient credits", domain.ErrInsufficientCredits, 402, "INSUFFICIENT_CREDITS"},
		{"rate limited", domain.ErrRateLimited, 429, "RATE_LIMITED"},
		{"not owner", domain.ErrNotOwner, 403, "NOT_OWNER"},
		{"not cancellable", domain.ErrNotCancellable, 409, "NOT_CANCELLABLE"},
		{"invalid argument", domain.ErrInvalidArgument, 400, "VALIDATION_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, tc.err, "", nil)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			var body errorEnvelope
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if body.Code != tc.wantCode {
				t.Fatalf("code = %q, want %q", body.Code, tc.wantCode)
			}
			if body.Timestamp.IsZero() {
				t.Fatal("expected a non-zero timestamp")
			}
		})
	}
}

func TestWriteError_CodeOverrideWins(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, domain.ErrUpstreamTimeout, "IMAGE_QUEUE_ERROR", nil)
	var body errorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Code != "IMAGE_QUEUE_ERROR" {
		t.Fatalf("code = %q, want IMAGE_QUEUE_ERROR", body.Code)
	}
	if rec.Code != 503 {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
