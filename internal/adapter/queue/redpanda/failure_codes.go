package redpanda

import "strings"

// classifyFailureCode maps a job error message to a stable error code so that
// retry routing decisions and Prometheus labels stay aligned with the API's
// own error codes.
func classifyFailureCode(msg string) string {
	s := strings.ToLower(strings.TrimSpace(msg))
	if s == "" {
		return "INTERNAL"
	}

	switch {
	case strings.Contains(s, "rate limit"):
		return "UPSTREAM_RATE_LIMIT"
	case strings.Contains(s, "timeout"), strings.Contains(s, "deadline exceeded"):
		return "UPSTREAM_TIMEOUT"
	case strings.Contains(s, "insufficient credits"):
		return "INSUFFICIENT_CREDITS"
	case strings.Contains(s, "not found"):
		return "NOT_FOUND"
	case strings.Contains(s, "invalid argument"), strings.Contains(s, "invalid json"), strings.Contains(s, "out of range"):
		return "INVALID_ARGUMENT"
	case strings.Contains(s, "illegal job state transition"):
		return "CONFLICT"
	default:
		return "INTERNAL"
	}
}
