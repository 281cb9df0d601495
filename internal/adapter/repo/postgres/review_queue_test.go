package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/forgelabs/genflow/internal/domain"
	"github.com/forgelabs/genflow/internal/service/moderation"
)

// fakePgxPool is a hand-rolled PgxPool substitute; only Exec is exercised by
// ReviewQueue, so the rest of the interface panics if ever called.
type fakePgxPool struct {
	execSQL  string
	execArgs []any
	execErr  error
}

func (f *fakePgxPool) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execSQL = sql
	f.execArgs = args
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakePgxPool) QueryRow(context.Context, string, ...any) pgx.Row { panic("not used") }
func (f *fakePgxPool) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not used")
}
func (f *fakePgxPool) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	panic("not used")
}

func TestReviewQueue_Enqueue_UpsertsOnJobID(t *testing.T) {
	pool := &fakePgxPool{}
	q := NewReviewQueue(pool)

	item := moderation.ReviewItem{
		JobID:              "job-1",
		Owner:              "user-1",
		Priority:           2,
		Scores:             domain.ModerationScores{Overall: 0.7},
		SimilarReportCount: 3,
	}
	if err := q.Enqueue(context.Background(), item); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if !strings.Contains(pool.execSQL, "INSERT INTO moderation_review_queue") {
		t.Fatalf("unexpected SQL: %s", pool.execSQL)
	}
	if !strings.Contains(pool.execSQL, "ON CONFLICT (job_id) DO UPDATE") {
		t.Fatalf("expected an upsert clause, got: %s", pool.execSQL)
	}
	if pool.execArgs[0] != "job-1" || pool.execArgs[1] != "user-1" {
		t.Fatalf("unexpected args: %+v", pool.execArgs)
	}
}

func TestReviewQueue_Enqueue_PropagatesError(t *testing.T) {
	pool := &fakePgxPool{execErr: errors.New("conn reset")}
	q := NewReviewQueue(pool)

	err := q.Enqueue(context.Background(), moderation.ReviewItem{JobID: "job-1"})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "op=review_queue.enqueue") {
		t.Fatalf("error missing op prefix: %v", err)
	}
}
