// Package session defines the agent session provider port: the contract
// for creating and driving one AI coding session.
package session

import "context"

// Config seeds a new session.
type Config struct {
	SystemPrompt string `json:"system_prompt"`
	Model        string `json:"model,omitempty"`
	MaxTokens    int    `json:"max_tokens,omitempty"`
	WorkDir      string `json:"work_dir,omitempty"`
}

// Hooks receive a session's incremental output. All hooks are optional and
// advisory; they run on the session's goroutine and must not block.
type Hooks struct {
	OnText       func(text string)
	OnToolCall   func(tool, input string)
	OnToolResult func(tool, output string)
}

// Result is the session's terminal outcome delivered via Wait.
type Result struct {
	Summary string `json:"summary,omitempty"`
	Err     error  `json:"-"`
}

// Session is one live agent conversation.
type Session interface {
	// Send dispatches a prompt. The session runs asynchronously; the
	// outcome is delivered on the channel returned by Wait.
	Send(ctx context.Context, prompt string) error

	// Wait returns a channel that yields the session result exactly once.
	Wait() <-chan Result

	// Destroy force-terminates the session and releases its resources.
	// Safe to call more than once.
	Destroy() error
}

// Provider creates sessions. Implementations register themselves by name.
type Provider interface {
	// Name returns the provider identifier (e.g. "anthropic", "mock").
	Name() string

	// CreateSession creates a new session seeded with cfg, wiring hooks
	// for streaming observability.
	CreateSession(ctx context.Context, cfg Config, hooks Hooks) (Session, error)
}
