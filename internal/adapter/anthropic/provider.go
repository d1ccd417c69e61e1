// Package anthropic implements the session provider port on the Anthropic
// Messages API with streaming, so agent text and tool activity reach
// observers incrementally.
package anthropic

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/forgeline/foreman/internal/port/session"
)

const providerName = "anthropic"

const defaultMaxTokens = 8192

func init() {
	session.Register(providerName, func(config map[string]string) (session.Provider, error) {
		apiKey := config["api_key"]
		if apiKey == "" {
			return nil, fmt.Errorf("anthropic: api_key is required")
		}
		maxTokens := defaultMaxTokens
		if v := config["max_tokens"]; v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("anthropic: invalid max_tokens %q: %w", v, err)
			}
			maxTokens = n
		}
		return NewProvider(apiKey, config["model"], maxTokens), nil
	})
}

// Provider creates Anthropic-backed agent sessions.
type Provider struct {
	client    anthropic.Client
	model     string
	maxTokens int
}

// NewProvider creates a Provider using the given API key and defaults.
func NewProvider(apiKey, model string, maxTokens int) *Provider {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Provider{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: maxTokens,
	}
}

// Name returns "anthropic".
func (p *Provider) Name() string { return providerName }

// CreateSession creates a streaming session seeded with cfg.
func (p *Provider) CreateSession(_ context.Context, cfg session.Config, hooks session.Hooks) (session.Session, error) {
	model := cfg.Model
	if model == "" {
		model = p.model
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	return &claudeSession{
		client:    &p.client,
		system:    cfg.SystemPrompt,
		model:     model,
		maxTokens: maxTokens,
		hooks:     hooks,
		result:    make(chan session.Result, 1),
	}, nil
}

// claudeSession is one streaming conversation. The result channel resolves
// exactly once, guarded by resolveOnce.
type claudeSession struct {
	client    *anthropic.Client
	system    string
	model     string
	maxTokens int
	hooks     session.Hooks

	mu          sync.Mutex
	cancel      context.CancelFunc
	result      chan session.Result
	resolveOnce sync.Once
}

// Send dispatches the prompt and streams the response on a background
// goroutine. The outcome is delivered via Wait.
func (s *claudeSession) Send(ctx context.Context, prompt string) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: int64(s.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if s.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: s.system}}
	}

	go s.stream(ctx, params)
	return nil
}

func (s *claudeSession) stream(ctx context.Context, params anthropic.MessageNewParams) {
	stream := s.client.Messages.NewStreaming(ctx, params)
	if stream == nil {
		s.resolve(session.Result{Err: fmt.Errorf("anthropic: failed to open stream")})
		return
	}

	var summary strings.Builder
	var toolName, toolInput string

	for stream.Next() {
		ev := stream.Current()
		switch ev.Type {
		case "content_block_start":
			start := ev.AsContentBlockStartEvent()
			if start.ContentBlock.Type == "tool_use" {
				block := start.ContentBlock.AsResponseToolUseBlock()
				toolName = block.Name
				toolInput = ""
			}
		case "content_block_delta":
			delta := ev.AsContentBlockDeltaEvent()
			switch delta.Delta.Type {
			case "text_delta":
				text := delta.Delta.AsTextContentBlockDelta().Text
				summary.WriteString(text)
				if s.hooks.OnText != nil {
					s.hooks.OnText(text)
				}
			case "input_json_delta":
				toolInput += delta.Delta.AsInputJSONContentBlockDelta().PartialJSON
			}
		case "content_block_stop":
			if toolName != "" {
				if s.hooks.OnToolCall != nil {
					s.hooks.OnToolCall(toolName, toolInput)
				}
				toolName, toolInput = "", ""
			}
		}
	}

	if err := stream.Err(); err != nil {
		s.resolve(session.Result{Err: fmt.Errorf("anthropic stream: %w", err)})
		return
	}
	s.resolve(session.Result{Summary: summary.String()})
}

// Wait returns the channel carrying the session's terminal result.
func (s *claudeSession) Wait() <-chan session.Result {
	return s.result
}

// Destroy force-terminates the session. Safe to call more than once.
func (s *claudeSession) Destroy() error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.resolve(session.Result{Err: fmt.Errorf("session destroyed")})
	return nil
}

// resolve delivers the result exactly once.
func (s *claudeSession) resolve(res session.Result) {
	s.resolveOnce.Do(func() {
		s.result <- res
	})
}
