package postgres

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/forgelabs/genflow/internal/domain"
	"github.com/forgelabs/genflow/internal/service/moderation"
)

// ReviewQueue persists jobs a moderation decision routed to human review
// (C7, §4.8) so an operator surface can dispatch them lowest-priority-first.
type ReviewQueue struct{ Pool PgxPool }

// NewReviewQueue constructs a ReviewQueue with the given pool.
func NewReviewQueue(p PgxPool) *ReviewQueue { return &ReviewQueue{Pool: p} }

var _ moderation.ReviewQueue = (*ReviewQueue)(nil)

// Enqueue inserts item into the review queue. A job already pending review is
// updated in place rather than duplicated, since a report can re-flag a job
// already awaiting its first review.
func (q *ReviewQueue) Enqueue(ctx domain.Context, item moderation.ReviewItem) error {
	tracer := otel.Tracer("moderation.review_queue")
	ctx, span := tracer.Start(ctx, "review_queue.Enqueue")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "moderation_review_queue"),
	)

	q2 := `INSERT INTO moderation_review_queue
		(job_id, owner, priority, overall_score, similar_report_count, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (job_id) DO UPDATE SET
			priority = LEAST(moderation_review_queue.priority, EXCLUDED.priority),
			similar_report_count = EXCLUDED.similar_report_count`
	if _, err := q.Pool.Exec(ctx, q2, item.JobID, item.Owner, item.Priority, item.Scores.Overall, item.SimilarReportCount); err != nil {
		return fmt.Errorf("op=review_queue.enqueue: %w", err)
	}
	return nil
}
