// Package agent defines the Agent runtime entity owned by the pool.
package agent

import (
	"fmt"
	"time"

	"github.com/forgeline/foreman/internal/domain/plan"
)

// Status represents the current state of an agent.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusWorking   Status = "working"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusPaused    Status = "paused"
)

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether the move from s to next is legal:
// idle → working → {completed|failed}, working ⇄ paused.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusIdle:
		return next == StatusWorking
	case StatusWorking:
		return next == StatusCompleted || next == StatusFailed || next == StatusPaused
	case StatusPaused:
		return next == StatusWorking || next == StatusFailed
	default:
		return false
	}
}

// Agent is one live coding session bound to a single branch and work item.
// It is created on spawn, destroyed on removal, and never shared across pools.
type Agent struct {
	ID          string             `json:"id"`      // pool-assigned, e.g. "worker-3"
	TaskID      string             `json:"task_id"` // item identifier
	Branch      string             `json:"branch"`
	Status      Status             `json:"status"`
	Progress    int                `json:"progress"` // 0-100
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	Item        plan.ExecutionItem `json:"item"`

	// PauseRequested marks cooperative pause intent; the session loop
	// consults it at safe points and never stops mid-instruction.
	PauseRequested bool `json:"pause_requested,omitempty"`
}

// Transition moves the agent to next, enforcing the state machine.
func (a *Agent) Transition(next Status) error {
	if !a.Status.CanTransition(next) {
		return fmt.Errorf("agent %s: illegal transition %s -> %s", a.ID, a.Status, next)
	}
	a.Status = next
	if next.IsTerminal() {
		now := time.Now()
		a.CompletedAt = &now
	}
	return nil
}
