// Package result defines the immutable result records produced at each
// granularity of a run: agent, item, phase, and whole run.
package result

import "time"

// AgentResult is the outcome of one agent session.
type AgentResult struct {
	AgentID  string        `json:"agent_id"`
	TaskID   string        `json:"task_id"`
	Success  bool          `json:"success"`
	Summary  string        `json:"summary,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ItemResult is the outcome of one execution item. For features executed
// with task-level agents, CompletedTasks preserves partial credit.
type ItemResult struct {
	ItemID         string        `json:"item_id"`
	Identifier     string        `json:"identifier"`
	Branch         string        `json:"branch,omitempty"`
	Success        bool          `json:"success"`
	Summary        string        `json:"summary,omitempty"`
	Error          string        `json:"error,omitempty"`
	Duration       time.Duration `json:"duration"`
	CompletedTasks []string      `json:"completed_tasks,omitempty"`
}

// PhaseResult aggregates item results in phase input order.
type PhaseResult struct {
	Order          int           `json:"order"`
	Parallel       bool          `json:"parallel"`
	Success        bool          `json:"success"`
	Items          []ItemResult  `json:"items"`
	CompletedItems []string      `json:"completed_items"`
	FailedItems    []string      `json:"failed_items"`
	Duration       time.Duration `json:"duration"`
}

// MergeConflict describes the first conflict that halted branch merging.
// It is returned as data on the RunResult, not as an error, so the caller
// can resume after manual resolution.
type MergeConflict struct {
	SourceBranch     string   `json:"source_branch"`
	TargetBranch     string   `json:"target_branch"`
	ConflictingFiles []string `json:"conflicting_files"`
	Guidance         string   `json:"guidance,omitempty"`
}

// RunResult is the terminal summary of one orchestrator run.
type RunResult struct {
	EpicID         string         `json:"epic_id"`
	SessionID      string         `json:"session_id,omitempty"`
	Success        bool           `json:"success"`
	Phases         []PhaseResult  `json:"phases"`
	CompletedItems []string       `json:"completed_items"`
	FailedItems    []string       `json:"failed_items"`
	MergeConflict  *MergeConflict `json:"merge_conflict,omitempty"`
	Summary        string         `json:"summary,omitempty"`
	Error          string         `json:"error,omitempty"`
	Duration       time.Duration  `json:"duration"`
}
