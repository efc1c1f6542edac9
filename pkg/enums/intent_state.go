package enums

import "fmt"

// IntentState tracks the settlement lifecycle of a payment intent.
type IntentState string

const (
	IntentStatePending            IntentState = "pending"
	IntentStateSettledSuccess     IntentState = "settled_success"
	IntentStateSettledRejected    IntentState = "settled_rejected"
	IntentStateSettledNeedsRefund IntentState = "settled_needs_refund"
	IntentStateRefunded           IntentState = "refunded"
)

var validIntentStates = []IntentState{
	IntentStatePending,
	IntentStateSettledSuccess,
	IntentStateSettledRejected,
	IntentStateSettledNeedsRefund,
	IntentStateRefunded,
}

// String implements fmt.Stringer.
func (s IntentState) String() string {
	return string(s)
}

// IsValid reports whether the value is a known IntentState.
func (s IntentState) IsValid() bool {
	for _, candidate := range validIntentStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether confirmation must replay the stored outcome instead of settling again.
func (s IntentState) IsTerminal() bool {
	return s.IsValid() && s != IntentStatePending
}

// CanTransitionTo enforces pending -> settled_* and settled_needs_refund -> refunded.
func (s IntentState) CanTransitionTo(next IntentState) bool {
	switch s {
	case IntentStatePending:
		return next == IntentStateSettledSuccess ||
			next == IntentStateSettledRejected ||
			next == IntentStateSettledNeedsRefund
	case IntentStateSettledNeedsRefund:
		return next == IntentStateRefunded
	default:
		return false
	}
}

// ParseIntentState converts raw input into an IntentState.
func ParseIntentState(value string) (IntentState, error) {
	for _, candidate := range validIntentStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid intent state %q", value)
}
