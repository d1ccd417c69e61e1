package agent

import "testing"

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusIdle, StatusWorking, true},
		{StatusIdle, StatusCompleted, false},
		{StatusIdle, StatusPaused, false},
		{StatusWorking, StatusCompleted, true},
		{StatusWorking, StatusFailed, true},
		{StatusWorking, StatusPaused, true},
		{StatusPaused, StatusWorking, true},
		{StatusPaused, StatusFailed, true},
		{StatusPaused, StatusCompleted, false},
		{StatusCompleted, StatusWorking, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusWorking, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.ok {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestTransitionSetsCompletedAt(t *testing.T) {
	a := &Agent{ID: "worker-1", Status: StatusWorking}
	if err := a.Transition(StatusCompleted); err != nil {
		t.Fatal(err)
	}
	if a.CompletedAt == nil {
		t.Error("expected CompletedAt to be set on terminal transition")
	}
}

func TestTransitionRejectsIllegalMove(t *testing.T) {
	a := &Agent{ID: "worker-1", Status: StatusCompleted}
	if err := a.Transition(StatusWorking); err == nil {
		t.Error("expected error transitioning out of completed")
	}
}
