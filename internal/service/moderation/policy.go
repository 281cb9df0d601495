// Package moderation implements the post-generation content policy (C7,
// §4.8): a pure threshold/tier function over an externally-computed score
// vector, plus the enforcement side effects it drives.
package moderation

import (
	"time"

	"github.com/forgelabs/genflow/internal/domain"
)

// Category thresholds: a score at or above its threshold blocks outright
// regardless of the overall confidence tier.
const (
	thresholdAdult      = 0.7
	thresholdViolence   = 0.6
	thresholdHate       = 0.8
	thresholdHarassment = 0.7
	thresholdSelfHarm   = 0.9
)

// Overall-confidence tiers for the "inappropriate" fallback path.
const (
	confidenceHigh   = 0.8
	confidenceMedium = 0.6
	confidenceLow    = 0.4
)

const ownerTrustReviewThreshold = 0.3

// Decide applies the §4.8 policy to a score vector and the owner's trust
// score, returning the resulting action. It is a pure function: no I/O, no
// side effects, fully deterministic given its inputs.
func Decide(scores domain.ModerationScores, ownerTrust float64) domain.ModerationAction {
	if scores.Adult >= thresholdAdult ||
		scores.Violence >= thresholdViolence ||
		scores.Hate >= thresholdHate ||
		scores.Harassment >= thresholdHarassment ||
		scores.SelfHarm >= thresholdSelfHarm {
		return domain.ModerationBlock
	}

	switch {
	case scores.Overall >= confidenceHigh:
		return domain.ModerationBlock
	case scores.Overall >= confidenceMedium:
		return domain.ModerationReview
	case scores.Overall >= confidenceLow:
		if ownerTrust < ownerTrustReviewThreshold {
			return domain.ModerationReview
		}
		return domain.ModerationFlag
	default:
		return domain.ModerationApprove
	}
}

// OwnerTrust derives a trust score from account age, per §4.8's tier table.
func OwnerTrust(accountAge time.Duration) float64 {
	days := accountAge.Hours() / 24
	switch {
	case days < 1:
		return 0.2
	case days < 7:
		return 0.4
	case days < 30:
		return 0.6
	default:
		return 0.8
	}
}
