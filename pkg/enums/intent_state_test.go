package enums

import "testing"

func TestParseIntentState(t *testing.T) {
	for _, state := range validIntentStates {
		got, err := ParseIntentState(state.String())
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", state, err)
		}
		if got != state {
			t.Fatalf("expected %s got %s", state, got)
		}
	}
	if _, err := ParseIntentState("confirmada_exitosa"); err == nil {
		t.Fatal("expected error for unknown state")
	}
}

func TestIntentStateTransitions(t *testing.T) {
	tests := []struct {
		from IntentState
		to   IntentState
		ok   bool
	}{
		{IntentStatePending, IntentStateSettledSuccess, true},
		{IntentStatePending, IntentStateSettledRejected, true},
		{IntentStatePending, IntentStateSettledNeedsRefund, true},
		{IntentStatePending, IntentStateRefunded, false},
		{IntentStateSettledSuccess, IntentStateSettledRejected, false},
		{IntentStateSettledRejected, IntentStateSettledSuccess, false},
		{IntentStateSettledNeedsRefund, IntentStateRefunded, true},
		{IntentStateRefunded, IntentStatePending, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.ok {
			t.Fatalf("%s -> %s expected %v got %v", tt.from, tt.to, tt.ok, got)
		}
	}
}

func TestIntentStateIsTerminal(t *testing.T) {
	if IntentStatePending.IsTerminal() {
		t.Fatal("pending must not be terminal")
	}
	for _, state := range []IntentState{IntentStateSettledSuccess, IntentStateSettledRejected, IntentStateSettledNeedsRefund, IntentStateRefunded} {
		if !state.IsTerminal() {
			t.Fatalf("%s should be terminal", state)
		}
	}
	if IntentState("bogus").IsTerminal() {
		t.Fatal("unknown states are not terminal")
	}
}
