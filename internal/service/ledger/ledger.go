// Package ledger wraps the credit repository with the refund retry policy
// required by §4.2's failure model: a database outage must not silently
// drop a refund owed to a user.
package ledger

import (
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/forgelabs/genflow/internal/domain"
)

// Service implements domain.CreditLedger, adding bounded exponential-backoff
// retry around Refund so a transient database outage does not drop a refund
// owed to a user; Reserve fails closed immediately (§4.2 — admission must
// reject rather than risk overdraft on a store it cannot currently verify).
type Service struct {
	Repo        domain.CreditLedger
	Sink        domain.ErrorSink
	GracePeriod time.Duration
}

var _ domain.CreditLedger = (*Service)(nil)

// New builds a ledger service around a repo-backed CreditLedger, an error
// sink for exhausted-retry reconciliation, and the refund retry grace period.
func New(repo domain.CreditLedger, sink domain.ErrorSink, gracePeriod time.Duration) *Service {
	if gracePeriod <= 0 {
		gracePeriod = 5 * time.Minute
	}
	return &Service{Repo: repo, Sink: sink, GracePeriod: gracePeriod}
}

// Reserve fails closed immediately on any underlying error; availability of
// the ledger is a precondition for admission, not something to paper over.
func (s *Service) Reserve(ctx domain.Context, user string, amount int, reasonCode, jobRef string) (string, error) {
	return s.Repo.Reserve(ctx, user, amount, reasonCode, jobRef)
}

// Refund retries with bounded exponential backoff until it succeeds or the
// grace period elapses, then reports the failure to the error sink for
// reconciliation rather than losing the refund silently.
func (s *Service) Refund(ctx domain.Context, user string, amount int, jobRef, reasonCode string) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 500 * time.Millisecond
	expo.MaxInterval = 30 * time.Second
	expo.MaxElapsedTime = s.GracePeriod

	op := func() error {
		return s.Repo.Refund(ctx, user, amount, jobRef, reasonCode)
	}

	err := backoff.Retry(op, backoff.WithContext(expo, ctx))
	if err != nil {
		slog.Error("refund exhausted retry grace period",
			slog.String("user", user), slog.String("job_ref", jobRef), slog.Any("error", err))
		if s.Sink != nil {
			s.Sink.Report(ctx, domain.FailureRecord{
				Component: "ledger",
				Op:        "refund",
				JobID:     jobRef,
				User:      user,
				Err:       err,
				At:        time.Now().UTC(),
			})
		}
		return err
	}
	return nil
}

// Balance passes through to the repo; no retry semantics apply to a read.
func (s *Service) Balance(ctx domain.Context, user string) (int, error) {
	return s.Repo.Balance(ctx, user)
}
