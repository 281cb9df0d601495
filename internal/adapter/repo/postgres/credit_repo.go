package postgres

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/forgelabs/genflow/internal/domain"
	"github.com/forgelabs/genflow/internal/observability"
)

// CreditRepo is the append-only credit ledger (C1, §4.2): every Reserve or
// Refund appends a signed transaction row inside a FOR UPDATE-guarded
// transaction per user, so balance reads never race a concurrent spend.
type CreditRepo struct{ Pool PgxPool }

// NewCreditRepo constructs a CreditRepo with the given pool.
func NewCreditRepo(p PgxPool) *CreditRepo { return &CreditRepo{Pool: p} }

var _ domain.CreditLedger = (*CreditRepo)(nil)

// Reserve atomically checks balance >= amount and appends a negative
// transaction if so. Locking the user's credit_locks row with FOR UPDATE for
// the duration of the check-then-append forbids the TOCTOU double-spend the
// read-then-write shape would otherwise allow.
func (r *CreditRepo) Reserve(ctx domain.Context, user string, amount int, reasonCode, jobRef string) (string, error) {
	tracer := otel.Tracer("repo.credits")
	ctx, span := tracer.Start(ctx, "credits.Reserve")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "credit_transactions"),
	)

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return "", fmt.Errorf("op=credits.reserve.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(ctx); rbErr != nil && rbErr != pgx.ErrTxClosed {
				slog.Error("failed to rollback credit reservation", slog.String("user", user), slog.Any("error", rbErr))
			}
		}
	}()

	// Locking an existing row for this user serializes concurrent reserves;
	// a dummy advisory lock row guarantees one exists even for a brand-new user.
	if _, err := tx.Exec(ctx,
		`INSERT INTO credit_locks (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, user,
	); err != nil {
		return "", fmt.Errorf("op=credits.reserve.lock_row: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT 1 FROM credit_locks WHERE user_id=$1 FOR UPDATE`, user); err != nil {
		return "", fmt.Errorf("op=credits.reserve.lock: %w", err)
	}

	var balance int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(delta), 0) FROM credit_transactions WHERE user_id=$1`, user,
	).Scan(&balance); err != nil {
		return "", fmt.Errorf("op=credits.reserve.balance: %w", err)
	}

	if balance < amount {
		observability.RecordCreditReservation("insufficient")
		return "", fmt.Errorf("op=credits.reserve: %w", domain.ErrInsufficientCredits)
	}

	id := uuid.New().String()
	if _, err := tx.Exec(ctx,
		`INSERT INTO credit_transactions (id, user_id, delta, reason_code, job_ref, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		id, user, -amount, reasonCode, jobRef, time.Now().UTC(),
	); err != nil {
		return "", fmt.Errorf("op=credits.reserve.insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("op=credits.reserve.commit: %w", err)
	}
	committed = true
	observability.RecordCreditReservation("ok")
	return id, nil
}

// Refund appends a positive transaction. It is idempotent given jobRef: a
// prior successful refund for the same (user, jobRef, reasonCode) is not
// applied twice, so redelivery of the same failed job (§4.2) cannot
// double-credit. The at-least-once delivery model means two copies of that
// redelivery can reach moveToDLQTerminal concurrently on different goroutines,
// so the check-then-append is wrapped in the same per-user FOR UPDATE lock
// Reserve uses: without it, both copies would observe exists=false before
// either commits its INSERT.
func (r *CreditRepo) Refund(ctx domain.Context, user string, amount int, jobRef, reasonCode string) error {
	tracer := otel.Tracer("repo.credits")
	ctx, span := tracer.Start(ctx, "credits.Refund")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "credit_transactions"),
	)

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("op=credits.refund.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(ctx); rbErr != nil && rbErr != pgx.ErrTxClosed {
				slog.Error("failed to rollback credit refund", slog.String("user", user), slog.Any("error", rbErr))
			}
		}
	}()

	if _, err := tx.Exec(ctx,
		`INSERT INTO credit_locks (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, user,
	); err != nil {
		return fmt.Errorf("op=credits.refund.lock_row: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT 1 FROM credit_locks WHERE user_id=$1 FOR UPDATE`, user); err != nil {
		return fmt.Errorf("op=credits.refund.lock: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM credit_transactions WHERE user_id=$1 AND job_ref=$2 AND reason_code=$3 AND delta > 0)`,
		user, jobRef, reasonCode,
	).Scan(&exists); err != nil {
		return fmt.Errorf("op=credits.refund.check_idempotent: %w", err)
	}
	if exists {
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("op=credits.refund.commit: %w", err)
		}
		committed = true
		return nil
	}

	id := uuid.New().String()
	if _, err := tx.Exec(ctx,
		`INSERT INTO credit_transactions (id, user_id, delta, reason_code, job_ref, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		id, user, amount, reasonCode, jobRef, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("op=credits.refund: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=credits.refund.commit: %w", err)
	}
	committed = true
	observability.RecordCreditRefund()
	return nil
}

// Balance sums every signed transaction for the user.
func (r *CreditRepo) Balance(ctx domain.Context, user string) (int, error) {
	tracer := otel.Tracer("repo.credits")
	ctx, span := tracer.Start(ctx, "credits.Balance")
	defer span.End()

	var balance int
	if err := r.Pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(delta), 0) FROM credit_transactions WHERE user_id=$1`, user,
	).Scan(&balance); err != nil {
		return 0, fmt.Errorf("op=credits.balance: %w", err)
	}
	return balance, nil
}
