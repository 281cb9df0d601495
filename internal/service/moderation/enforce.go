package moderation

import (
	"log/slog"
	"time"

	"github.com/forgelabs/genflow/internal/domain"
	"github.com/forgelabs/genflow/internal/observability"
)

// ReviewItem is a job queued for human moderation review.
type ReviewItem struct {
	JobID              string
	Owner              string
	Priority           int
	Scores             domain.ModerationScores
	SimilarReportCount int
}

// ReviewQueue receives jobs requiring human review, ordered by priority
// (lower value reviewed first, mirroring the generation queues' convention).
type ReviewQueue interface {
	Enqueue(ctx domain.Context, item ReviewItem) error
}

// PublicityRepo flips a job's public visibility flag as part of enforcement.
type PublicityRepo interface {
	SetPublic(ctx domain.Context, jobID string, public bool) error
}

// Enforcer ties the pure policy decision to its side effects: visibility,
// the review queue, and flag logging (§4.8 Enforcement).
type Enforcer struct {
	Classifier  domain.ModerationClassifier
	ReviewQueue ReviewQueue
	Publicity   PublicityRepo
}

// NewEnforcer builds an Enforcer from its collaborators.
func NewEnforcer(classifier domain.ModerationClassifier, reviewQueue ReviewQueue, publicity PublicityRepo) *Enforcer {
	return &Enforcer{Classifier: classifier, ReviewQueue: reviewQueue, Publicity: publicity}
}

// Evaluate classifies the job's media, decides the action, and applies its
// enforcement side effects. It never returns an error that should un-complete
// the job — classification/enforcement failure is logged and treated as
// approve, since the worker's post-completion call to this is best-effort.
func (e *Enforcer) Evaluate(ctx domain.Context, jobID string, owner string, kind domain.Kind, mediaURL string, accountAge time.Duration, similarReportCount int) domain.ModerationAction {
	scores, err := e.Classifier.Classify(ctx, jobID, kind, mediaURL)
	if err != nil {
		slog.Error("moderation classification failed, defaulting to approve", slog.String("job_id", jobID), slog.Any("error", err))
		return domain.ModerationApprove
	}

	action := Decide(scores, OwnerTrust(accountAge))
	e.enforce(ctx, jobID, owner, action, scores, similarReportCount)
	return action
}

// ReportImmediateAction evaluates a user-submitted report's score vector
// against a reporter-trust-weighted severity check and, if warranted, applies
// block + review immediately rather than waiting on the normal path (§4.8).
func (e *Enforcer) ReportImmediateAction(ctx domain.Context, jobID, owner string, scores domain.ModerationScores, reporterTrust float64, similarReportCount int) domain.ModerationAction {
	action := Decide(scores, 1.0) // a report's own trust only gates the fallback tier, not hard thresholds
	if reporterTrust >= 0.7 && similarReportCount >= 2 && action != domain.ModerationBlock {
		action = domain.ModerationReview
	}
	e.enforce(ctx, jobID, owner, action, scores, similarReportCount)
	return action
}

func (e *Enforcer) enforce(ctx domain.Context, jobID, owner string, action domain.ModerationAction, scores domain.ModerationScores, similarReportCount int) {
	observability.RecordModerationAction(string(action))

	switch action {
	case domain.ModerationBlock:
		e.setPublic(ctx, jobID, false)
		slog.Warn("moderation blocked content", slog.String("job_id", jobID), slog.String("owner", owner))
	case domain.ModerationReview:
		e.setPublic(ctx, jobID, false)
		priority := reviewPriority(scores, similarReportCount)
		if e.ReviewQueue != nil {
			if err := e.ReviewQueue.Enqueue(ctx, ReviewItem{JobID: jobID, Owner: owner, Priority: priority, Scores: scores, SimilarReportCount: similarReportCount}); err != nil {
				slog.Error("failed to enqueue moderation review", slog.String("job_id", jobID), slog.Any("error", err))
			}
		}
	case domain.ModerationFlag:
		slog.Info("moderation flagged content for monitoring", slog.String("job_id", jobID), slog.String("owner", owner))
	case domain.ModerationApprove:
		e.setPublic(ctx, jobID, true)
	}
}

func (e *Enforcer) setPublic(ctx domain.Context, jobID string, public bool) {
	if e.Publicity == nil {
		return
	}
	if err := e.Publicity.SetPublic(ctx, jobID, public); err != nil {
		slog.Error("failed to update job visibility", slog.String("job_id", jobID), slog.Any("error", err))
	}
}

// reviewPriority derives a lower-dispatches-first priority from the score
// vector's severity and the report count, mirroring the numeric-priority
// convention used by the generation queues (§4.5).
func reviewPriority(scores domain.ModerationScores, similarReportCount int) int {
	severity := scores.Overall
	for _, s := range []float64{scores.Adult, scores.Violence, scores.Hate, scores.Harassment, scores.SelfHarm} {
		if s > severity {
			severity = s
		}
	}
	priority := int((1 - severity) * 100)
	priority -= similarReportCount * 5
	if priority < 0 {
		priority = 0
	}
	return priority
}
