// Package mocksession is an in-memory session provider for tests and dry
// runs. Outcomes are scripted per prompt substring; unmatched prompts
// succeed with a generic summary.
package mocksession

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/forgeline/foreman/internal/port/session"
)

const providerName = "mock"

func init() {
	session.Register(providerName, func(_ map[string]string) (session.Provider, error) {
		return NewProvider(), nil
	})
}

// Script describes a canned outcome for prompts containing Match.
type Script struct {
	// Match is a substring checked against the prompt.
	Match string

	// Text chunks are emitted through OnText before resolving.
	Text []string

	// ToolCalls are emitted through OnToolCall as name/input pairs.
	ToolCalls [][2]string

	// Delay is how long the session "works" before resolving.
	Delay time.Duration

	Summary string
	Err     error
}

// Provider creates scripted sessions.
type Provider struct {
	mu      sync.Mutex
	scripts []Script
	created int
}

// NewProvider creates a Provider with no scripts.
func NewProvider() *Provider {
	return &Provider{}
}

// AddScript appends a script. Scripts are matched in insertion order.
func (p *Provider) AddScript(s Script) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts = append(p.scripts, s)
}

// Created reports how many sessions this provider has handed out.
func (p *Provider) Created() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}

// Name returns "mock".
func (p *Provider) Name() string { return providerName }

// CreateSession returns a session that resolves per the first matching
// script.
func (p *Provider) CreateSession(_ context.Context, _ session.Config, hooks session.Hooks) (session.Session, error) {
	p.mu.Lock()
	p.created++
	p.mu.Unlock()
	return &mockSession{provider: p, hooks: hooks, result: make(chan session.Result, 1)}, nil
}

func (p *Provider) find(prompt string) Script {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.scripts {
		if s.Match != "" && strings.Contains(prompt, s.Match) {
			return s
		}
	}
	return Script{Summary: "done"}
}

type mockSession struct {
	provider *Provider
	hooks    session.Hooks

	mu          sync.Mutex
	cancel      context.CancelFunc
	result      chan session.Result
	resolveOnce sync.Once
}

func (s *mockSession) Send(ctx context.Context, prompt string) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	script := s.provider.find(prompt)
	go s.run(ctx, script)
	return nil
}

func (s *mockSession) run(ctx context.Context, script Script) {
	if script.Delay > 0 {
		select {
		case <-time.After(script.Delay):
		case <-ctx.Done():
			s.resolve(session.Result{Err: ctx.Err()})
			return
		}
	}
	for _, text := range script.Text {
		if s.hooks.OnText != nil {
			s.hooks.OnText(text)
		}
	}
	for _, call := range script.ToolCalls {
		if s.hooks.OnToolCall != nil {
			s.hooks.OnToolCall(call[0], call[1])
		}
		if s.hooks.OnToolResult != nil {
			s.hooks.OnToolResult(call[0], "ok")
		}
	}
	if script.Err != nil {
		s.resolve(session.Result{Err: script.Err})
		return
	}
	s.resolve(session.Result{Summary: script.Summary})
}

func (s *mockSession) Wait() <-chan session.Result {
	return s.result
}

func (s *mockSession) Destroy() error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.resolve(session.Result{Err: fmt.Errorf("session destroyed")})
	return nil
}

func (s *mockSession) resolve(res session.Result) {
	s.resolveOnce.Do(func() {
		s.result <- res
	})
}
