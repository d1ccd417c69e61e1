// Package runstore defines the port for the optional run-history store.
// Persisting results is bookkeeping: failures are logged, never escalated.
package runstore

import (
	"context"
	"time"

	"github.com/forgeline/foreman/internal/domain/result"
)

// RunRecord is a persisted run summary.
type RunRecord struct {
	ID         string           `json:"id"`
	EpicID     string           `json:"epic_id"`
	SessionID  string           `json:"session_id,omitempty"`
	Result     result.RunResult `json:"result"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

// Store is the port interface for run history.
type Store interface {
	// SaveRun persists a finished run.
	SaveRun(ctx context.Context, rec *RunRecord) error

	// GetRun returns one run by ID.
	GetRun(ctx context.Context, id string) (*RunRecord, error)

	// ListRunsByEpic returns runs for an epic, newest first.
	ListRunsByEpic(ctx context.Context, epicID string, limit int) ([]RunRecord, error)
}
