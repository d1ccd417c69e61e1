// Package event defines the typed advisory event stream a run emits for
// live observers. Events never carry control semantics.
package event

import "time"

// Type identifies the kind of run event.
type Type string

const (
	TypeItemStart    Type = "item.start"
	TypeItemProgress Type = "item.progress"
	TypeItemComplete Type = "item.complete"
	TypeItemError    Type = "item.error"

	TypePhaseStart    Type = "phase.start"
	TypePhaseComplete Type = "phase.complete"

	TypeMergeStart    Type = "merge.start"
	TypeMergeComplete Type = "merge.complete"
	TypeMergeConflict Type = "merge.conflict"

	TypeAgentText       Type = "agent.text"
	TypeAgentToolCall   Type = "agent.tool_call"
	TypeAgentToolResult Type = "agent.tool_result"
)

// SessionEventType is the fixed enum the tracking service accepts for
// fire-and-forget session telemetry.
type SessionEventType string

const (
	SessionStarted   SessionEventType = "session_started"
	SessionEnded     SessionEventType = "session_ended"
	PhaseStarted     SessionEventType = "phase_started"
	PhaseCompleted   SessionEventType = "phase_completed"
	FeatureStarted   SessionEventType = "feature_started"
	FeatureCompleted SessionEventType = "feature_completed"
	TaskStarted      SessionEventType = "task_started"
	TaskCompleted    SessionEventType = "task_completed"
)

// ItemEvent is emitted at item and task granularity.
type ItemEvent struct {
	RunID      string `json:"run_id"`
	Identifier string `json:"identifier"`
	AgentID    string `json:"agent_id,omitempty"`
	Branch     string `json:"branch,omitempty"`
	Progress   int    `json:"progress,omitempty"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
}

// PhaseEvent is emitted when a phase starts or completes.
type PhaseEvent struct {
	RunID    string `json:"run_id"`
	Order    int    `json:"order"`
	Parallel bool   `json:"parallel"`
	Items    int    `json:"items"`
	Success  bool   `json:"success,omitempty"`
}

// MergeEvent is emitted around each branch merge.
type MergeEvent struct {
	RunID            string   `json:"run_id"`
	SourceBranch     string   `json:"source_branch"`
	TargetBranch     string   `json:"target_branch"`
	ConflictingFiles []string `json:"conflicting_files,omitempty"`
}

// AgentStreamEvent mirrors the session provider's incremental output:
// text deltas, tool invocations, and tool results.
type AgentStreamEvent struct {
	RunID   string `json:"run_id"`
	AgentID string `json:"agent_id"`
	TaskID  string `json:"task_id"`
	Text    string `json:"text,omitempty"`
	Tool    string `json:"tool,omitempty"`
	Input   string `json:"input,omitempty"`
	Output  string `json:"output,omitempty"`
}

// SessionEvent is the telemetry record forwarded to the tracking service
// and the message queue.
type SessionEvent struct {
	Type      SessionEventType `json:"type"`
	EpicID    string           `json:"epic_id"`
	SessionID string           `json:"session_id,omitempty"`
	ItemID    string           `json:"item_id,omitempty"`
	Detail    string           `json:"detail,omitempty"`
	At        time.Time        `json:"at"`
}
