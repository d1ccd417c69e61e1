// Package tracker defines the port interface for the external task-tracking
// service (epics, features, tasks, sessions). The service itself is out of
// scope; the engine consumes it only through this contract.
package tracker

import (
	"context"

	"github.com/forgeline/foreman/internal/domain/event"
	"github.com/forgeline/foreman/internal/domain/plan"
)

// WorkType distinguishes which work-item kind a bookkeeping call targets.
type WorkType string

const (
	WorkFeature WorkType = "feature"
	WorkTask    WorkType = "task"
)

// Session is a tracking-service work session for one epic.
type Session struct {
	ID         string `json:"id"`
	EpicID     string `json:"epic_id"`
	ExternalID string `json:"external_id,omitempty"`
	StartedAt  string `json:"started_at,omitempty"`
}

// SessionStart is the response to opening a session: the new session,
// the previous one when resuming, and the epic's current progress.
type SessionStart struct {
	Session         Session  `json:"session"`
	PreviousSession *Session `json:"previous_session,omitempty"`
	EpicProgress    float64  `json:"epic_progress"`
}

// WorkUpdate carries the optional fields for start/complete bookkeeping.
type WorkUpdate struct {
	SessionID string `json:"session_id,omitempty"`
	Summary   string `json:"summary,omitempty"`
}

// FeatureDetail is the full feature record fetched on demand.
type FeatureDetail struct {
	ID          string `json:"id"`
	Identifier  string `json:"identifier"`
	Title       string `json:"title"`
	Description string `json:"description"`
	EpicID      string `json:"epic_id"`
}

// Client is the port interface for the tracking service.
type Client interface {
	// GetExecutionPlan returns the pre-computed dependency-ordered plan
	// for an epic.
	GetExecutionPlan(ctx context.Context, epicID string) (*plan.ExecutionPlan, error)

	// StartSession opens a tracking session for an epic, optionally
	// resuming from an external session ID.
	StartSession(ctx context.Context, epicID, externalID string) (*SessionStart, error)

	// EndSession closes a session with a handoff summary.
	EndSession(ctx context.Context, epicID, handoff string) error

	// StartWork marks a work item as started.
	StartWork(ctx context.Context, wt WorkType, id string, upd WorkUpdate) error

	// CompleteWork marks a work item as completed.
	CompleteWork(ctx context.Context, wt WorkType, id string, upd WorkUpdate) error

	// LinkBranch attaches a branch name to a work item.
	LinkBranch(ctx context.Context, wt WorkType, id, branch string) error

	// LinkCommit attaches a commit hash to a work item.
	LinkCommit(ctx context.Context, wt WorkType, id, hash string) error

	// ListTasks returns the tasks of a feature.
	ListTasks(ctx context.Context, featureID string) ([]plan.Task, error)

	// GetFeature returns the full feature record.
	GetFeature(ctx context.Context, id string) (*FeatureDetail, error)

	// GetTask returns the full task record.
	GetTask(ctx context.Context, id string) (*plan.Task, error)

	// EmitSessionEvent forwards fire-and-forget session telemetry.
	EmitSessionEvent(ctx context.Context, ev event.SessionEvent) error
}
