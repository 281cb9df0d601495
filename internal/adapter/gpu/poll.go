package gpu

import (
	"time"

	"github.com/forgelabs/genflow/internal/domain"
)

// StatusFunc queries a job-oriented provider's status endpoint. terminal is
// true once the provider has reached a final state (completed or failed).
type StatusFunc func(ctx domain.Context) (result domain.GenerationResult, terminal bool, err error)

// PollUntilTerminal repeatedly calls statusFn until it reports a terminal
// result, the context's abort deadline is reached, or statusFn errors.
// Providers that expose a started/polled dialect call this instead of
// hand-rolling their own poll loop (Design Note 9a).
func PollUntilTerminal(ctx domain.Context, statusFn StatusFunc, interval time.Duration) (domain.GenerationResult, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		result, terminal, err := statusFn(ctx)
		if err != nil {
			return domain.GenerationResult{}, err
		}
		if terminal {
			return result, nil
		}

		select {
		case <-ctx.Done():
			return domain.GenerationResult{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
