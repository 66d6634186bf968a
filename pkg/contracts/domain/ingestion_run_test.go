package domain

import "testing"

func TestRunStatusTerminal(t *testing.T) {
	cases := map[RunStatus]bool{
		RunStatusProcessing: false,
		RunStatusSuccess:    true,
		RunStatusPartial:    true,
		RunStatusError:      true,
	}
	for status, want := range cases {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}

func TestRunStatusTransitions(t *testing.T) {
	if !RunStatusProcessing.CanTransitionTo(RunStatusSuccess) {
		t.Error("processing -> success should be allowed")
	}
	if !RunStatusProcessing.CanTransitionTo(RunStatusPartial) {
		t.Error("processing -> partial should be allowed")
	}
	if !RunStatusProcessing.CanTransitionTo(RunStatusError) {
		t.Error("processing -> error should be allowed")
	}
	// Terminal states never transition again.
	if RunStatusSuccess.CanTransitionTo(RunStatusError) {
		t.Error("success -> error must be rejected")
	}
	if RunStatusError.CanTransitionTo(RunStatusSuccess) {
		t.Error("error -> success must be rejected")
	}
	if RunStatusProcessing.CanTransitionTo(RunStatusProcessing) {
		t.Error("processing -> processing must be rejected")
	}
}
