// Package orch defines the engine's error taxonomy: agent-lifecycle errors
// and control-loop errors with machine-readable codes.
package orch

import (
	"errors"
	"fmt"
)

// AgentErrorCode classifies one agent's lifecycle failure.
type AgentErrorCode string

const (
	AgentSpawnFailed     AgentErrorCode = "spawn_failed"
	AgentExecutionFailed AgentErrorCode = "execution_failed"
)

// AgentError is a failure scoped to a single agent's lifecycle.
type AgentError struct {
	AgentID string
	Code    AgentErrorCode
	Err     error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent %s: %s: %v", e.AgentID, e.Code, e.Err)
}

func (e *AgentError) Unwrap() error { return e.Err }

// NewAgentError wraps err as an AgentError with the given code.
func NewAgentError(agentID string, code AgentErrorCode, err error) *AgentError {
	return &AgentError{AgentID: agentID, Code: code, Err: err}
}

// Code classifies a control-loop level failure.
type Code string

const (
	CodeCapacityExceeded   Code = "capacity_exceeded"
	CodePlanNotFound       Code = "plan_not_found"
	CodeItemNotFound       Code = "item_not_found"
	CodeAgentNotFound      Code = "agent_not_found"
	CodeInvalidTransition  Code = "invalid_transition"
	CodeGitOperationFailed Code = "git_operation_failed"
)

// OrchestratorError is a control-loop level failure carrying a
// machine-readable code and an optional recovery hint.
type OrchestratorError struct {
	Code Code
	Msg  string
	Hint string
	Err  error
}

func (e *OrchestratorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *OrchestratorError) Unwrap() error { return e.Err }

// NewError creates an OrchestratorError without a cause.
func NewError(code Code, msg, hint string) *OrchestratorError {
	return &OrchestratorError{Code: code, Msg: msg, Hint: hint}
}

// WrapError creates an OrchestratorError wrapping a cause.
func WrapError(code Code, msg string, err error) *OrchestratorError {
	return &OrchestratorError{Code: code, Msg: msg, Err: err}
}

// IsCode reports whether err is an OrchestratorError with the given code.
func IsCode(err error, code Code) bool {
	var oe *OrchestratorError
	return errors.As(err, &oe) && oe.Code == code
}
