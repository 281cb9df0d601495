package domain

// legalTransitions enumerates the Job state machine (§3, §9b open question 2).
// A transition not present here, including any transition out of a terminal
// state or into the current state, is illegal.
var legalTransitions = map[State][]State{
	StatePending:    {StateProcessing, StateCancelled, StateFailed},
	StateProcessing: {StateCompleted, StateFailed, StateCancelled, StatePending},
}

// ValidateTransition reports whether moving a job from `from` to `to` is legal.
// Terminal states are sticky: once in Completed, Failed, or Cancelled, no further
// state transition is legal (§8 property 3).
func ValidateTransition(from, to State) error {
	if from == to {
		return ErrIllegalTransition
	}
	if from.Terminal() {
		return ErrIllegalTransition
	}
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return ErrIllegalTransition
}

// ValidateProgress enforces monotonic non-decreasing progress while non-terminal,
// and exactly 100 on completion (§3 invariants 1 and 3). A transition back to
// pending (crash recovery, bounded-retry requeue) starts a fresh attempt and is
// exempt from the monotonicity check.
func ValidateProgress(current, next int, nextState State) error {
	if nextState == StatePending {
		return nil
	}
	if next < current {
		return ErrIllegalTransition
	}
	if nextState == StateCompleted && next != 100 {
		return ErrIllegalTransition
	}
	return nil
}
