package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/forgeline/foreman/internal/adapter/otel"
	"github.com/forgeline/foreman/internal/config"
	"github.com/forgeline/foreman/internal/domain/agent"
	"github.com/forgeline/foreman/internal/domain/event"
	"github.com/forgeline/foreman/internal/domain/orch"
	"github.com/forgeline/foreman/internal/domain/plan"
	"github.com/forgeline/foreman/internal/domain/result"
	"github.com/forgeline/foreman/internal/port/broadcast"
	"github.com/forgeline/foreman/internal/port/messagequeue"
	"github.com/forgeline/foreman/internal/port/session"
)

// poolAgent pairs the runtime entity with its live session handle.
type poolAgent struct {
	agent   *agent.Agent
	session session.Session
}

// AgentPool owns a bounded set of concurrent agent sessions for one run.
// One pool per orchestrator run, no process-wide instance. The mutex
// guards the agent map and state transitions; it is never held while an
// agent is blocked on its session. Session goroutines reach the pool
// solely through the advisory event hooks, which forward to the
// broadcaster and never touch pool state.
type AgentPool struct {
	provider session.Provider
	hub      broadcast.Broadcaster
	orchCfg  config.Orchestrator
	agentCfg config.Agent
	metrics  *otel.Metrics
	queue    messagequeue.Queue
	runID    string
	workDir  string

	mu     sync.Mutex
	agents map[string]*poolAgent
	nextID int
}

// NewAgentPool creates a pool bounded by orchCfg.MaxAgents.
func NewAgentPool(provider session.Provider, hub broadcast.Broadcaster, orchCfg config.Orchestrator, agentCfg config.Agent, runID, workDir string) *AgentPool {
	if hub == nil {
		hub = broadcast.Noop{}
	}
	return &AgentPool{
		provider: provider,
		hub:      hub,
		orchCfg:  orchCfg,
		agentCfg: agentCfg,
		runID:    runID,
		workDir:  workDir,
		agents:   make(map[string]*poolAgent),
	}
}

// SetMetrics attaches metric instruments. Optional; nil disables recording.
func (p *AgentPool) SetMetrics(m *otel.Metrics) { p.metrics = m }

// SetQueue mirrors agent stream events onto the telemetry queue. Optional.
func (p *AgentPool) SetQueue(q messagequeue.Queue) { p.queue = q }

// publishStream mirrors one stream event to the queue, fire-and-forget.
func (p *AgentPool) publishStream(ctx context.Context, ev event.AgentStreamEvent) {
	if p.queue == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := p.queue.Publish(ctx, messagequeue.SubjectAgentStream, data); err != nil {
		slog.Debug("publish agent stream failed", "agent_id", ev.AgentID, "error", err)
	}
}

// SpawnAgent creates an agent session for the item on the given branch.
// It fails immediately with a capacity error when the pool is full; callers
// must retry or reduce concurrency, the pool never queues.
func (p *AgentPool) SpawnAgent(ctx context.Context, item plan.ExecutionItem, branch string) (*agent.Agent, error) {
	p.mu.Lock()
	if len(p.agents) >= p.orchCfg.MaxAgents {
		p.mu.Unlock()
		return nil, orch.NewError(orch.CodeCapacityExceeded,
			fmt.Sprintf("pool is at capacity (%d agents)", p.orchCfg.MaxAgents),
			"remove a terminal agent or raise max_agents")
	}
	p.nextID++
	id := fmt.Sprintf("worker-%d", p.nextID)
	p.mu.Unlock()

	hooks := session.Hooks{
		OnText: func(text string) {
			ev := event.AgentStreamEvent{RunID: p.runID, AgentID: id, TaskID: item.Identifier, Text: text}
			p.hub.BroadcastEvent(ctx, event.TypeAgentText, ev)
			p.publishStream(ctx, ev)
		},
		OnToolCall: func(tool, input string) {
			ev := event.AgentStreamEvent{RunID: p.runID, AgentID: id, TaskID: item.Identifier, Tool: tool, Input: input}
			p.hub.BroadcastEvent(ctx, event.TypeAgentToolCall, ev)
			p.publishStream(ctx, ev)
		},
		OnToolResult: func(tool, output string) {
			ev := event.AgentStreamEvent{RunID: p.runID, AgentID: id, TaskID: item.Identifier, Tool: tool, Output: output}
			p.hub.BroadcastEvent(ctx, event.TypeAgentToolResult, ev)
			p.publishStream(ctx, ev)
		},
	}

	sess, err := p.provider.CreateSession(ctx, session.Config{
		SystemPrompt: BuildSystemPrompt(item),
		Model:        p.agentCfg.Model,
		MaxTokens:    p.agentCfg.MaxTokens,
		WorkDir:      p.workDir,
	}, hooks)
	if err != nil {
		return nil, orch.NewAgentError(id, orch.AgentSpawnFailed, err)
	}

	ag := &agent.Agent{
		ID:        id,
		TaskID:    item.Identifier,
		Branch:    branch,
		Status:    agent.StatusIdle,
		StartedAt: time.Now(),
		Item:      item,
	}

	p.mu.Lock()
	if len(p.agents) >= p.orchCfg.MaxAgents {
		p.mu.Unlock()
		_ = sess.Destroy()
		return nil, orch.NewError(orch.CodeCapacityExceeded,
			fmt.Sprintf("pool is at capacity (%d agents)", p.orchCfg.MaxAgents),
			"remove a terminal agent or raise max_agents")
	}
	p.agents[id] = &poolAgent{agent: ag, session: sess}
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.AgentsSpawned.Add(ctx, 1)
	}
	slog.Debug("agent spawned", "agent_id", id, "item", item.Identifier, "branch", branch)
	return ag, nil
}

// StartAgent dispatches the prompt and blocks until the session completes,
// errors, or the pool-managed task timeout elapses. A timeout is a failed
// result, not an error; the pool stays usable.
func (p *AgentPool) StartAgent(ctx context.Context, id, prompt string) (result.AgentResult, error) {
	return p.startAgent(ctx, id, prompt, p.orchCfg.TaskAgentTimeout)
}

// StartAgentDirect is StartAgent with the longer direct-execution timeout,
// used when a single agent carries a whole item on a shared branch.
func (p *AgentPool) StartAgentDirect(ctx context.Context, id, prompt string) (result.AgentResult, error) {
	return p.startAgent(ctx, id, prompt, p.orchCfg.DirectAgentTimeout)
}

func (p *AgentPool) startAgent(ctx context.Context, id, prompt string, timeout time.Duration) (result.AgentResult, error) {
	p.mu.Lock()
	pa, ok := p.agents[id]
	if !ok {
		p.mu.Unlock()
		return result.AgentResult{}, orch.NewError(orch.CodeAgentNotFound, fmt.Sprintf("agent %s not in pool", id), "")
	}
	if err := pa.agent.Transition(agent.StatusWorking); err != nil {
		p.mu.Unlock()
		return result.AgentResult{}, orch.WrapError(orch.CodeInvalidTransition, fmt.Sprintf("start agent %s", id), err)
	}
	p.mu.Unlock()

	ctx, span := otel.StartAgentSpan(ctx, id, pa.agent.TaskID, pa.agent.Branch)
	defer span.End()

	started := time.Now()
	res := result.AgentResult{AgentID: id, TaskID: pa.agent.TaskID}

	if err := pa.session.Send(ctx, prompt); err != nil {
		p.failAgent(pa)
		res.Error = orch.NewAgentError(id, orch.AgentExecutionFailed, err).Error()
		res.Duration = time.Since(started)
		return res, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case sr := <-pa.session.Wait():
		res.Duration = time.Since(started)
		if sr.Err != nil {
			p.failAgent(pa)
			res.Error = orch.NewAgentError(id, orch.AgentExecutionFailed, sr.Err).Error()
		} else {
			p.completeAgent(pa)
			res.Success = true
			res.Summary = sr.Summary
		}
	case <-timer.C:
		res.Duration = time.Since(started)
		res.Error = fmt.Sprintf("agent %s timed out after %s", id, timeout)
		_ = pa.session.Destroy()
		p.failAgent(pa)
		if p.metrics != nil {
			p.metrics.AgentTimeouts.Add(ctx, 1)
		}
		slog.Warn("agent timed out", "agent_id", id, "task", pa.agent.TaskID, "timeout", timeout)
	case <-ctx.Done():
		res.Duration = time.Since(started)
		res.Error = fmt.Sprintf("agent %s cancelled: %v", id, ctx.Err())
		_ = pa.session.Destroy()
		p.failAgent(pa)
	}

	if p.metrics != nil {
		p.metrics.AgentDuration.Record(ctx, res.Duration.Seconds())
	}
	return res, nil
}

// completeAgent moves the agent to completed. Session completion is itself
// a safe point: a pause requested while the session was still running is
// resolved here, so a finished agent never sticks in paused.
func (p *AgentPool) completeAgent(pa *poolAgent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pa.agent.Status == agent.StatusPaused {
		_ = pa.agent.Transition(agent.StatusWorking)
	}
	pa.agent.PauseRequested = false
	_ = pa.agent.Transition(agent.StatusCompleted)
	pa.agent.Progress = 100
}

// failAgent moves an agent to failed regardless of its current state.
func (p *AgentPool) failAgent(pa *poolAgent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failLocked(pa)
}

func (p *AgentPool) failLocked(pa *poolAgent) {
	if !pa.agent.Status.IsTerminal() {
		pa.agent.Status = agent.StatusFailed
		now := time.Now()
		pa.agent.CompletedAt = &now
	}
}

// PauseAgent marks cooperative pause intent. The session reaches a safe
// pause point on its own; nothing stops mid-instruction. Pausing a
// terminal agent is a typed error.
func (p *AgentPool) PauseAgent(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pa, ok := p.agents[id]
	if !ok {
		return orch.NewError(orch.CodeAgentNotFound, fmt.Sprintf("agent %s not in pool", id), "")
	}
	if pa.agent.Status.IsTerminal() {
		return orch.NewError(orch.CodeInvalidTransition,
			fmt.Sprintf("agent %s is %s and cannot be paused", id, pa.agent.Status), "")
	}
	pa.agent.PauseRequested = true
	if pa.agent.Status == agent.StatusWorking {
		return pa.agent.Transition(agent.StatusPaused)
	}
	return nil
}

// ResumeAgent clears pause intent and returns a paused agent to working.
func (p *AgentPool) ResumeAgent(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pa, ok := p.agents[id]
	if !ok {
		return orch.NewError(orch.CodeAgentNotFound, fmt.Sprintf("agent %s not in pool", id), "")
	}
	pa.agent.PauseRequested = false
	if pa.agent.Status == agent.StatusPaused {
		return pa.agent.Transition(agent.StatusWorking)
	}
	return nil
}

// TerminateAgent force-destroys the agent's session, resolves any pending
// result as a failure, and frees the pool slot.
func (p *AgentPool) TerminateAgent(id string) error {
	p.mu.Lock()
	pa, ok := p.agents[id]
	if !ok {
		p.mu.Unlock()
		return orch.NewError(orch.CodeAgentNotFound, fmt.Sprintf("agent %s not in pool", id), "")
	}
	p.failLocked(pa)
	delete(p.agents, id)
	p.mu.Unlock()

	_ = pa.session.Destroy()
	slog.Debug("agent terminated", "agent_id", id)
	return nil
}

// TerminateAll force-terminates every live agent. This is the pool's only
// hard-cancel path, invoked on orchestrator error or shutdown.
func (p *AgentPool) TerminateAll() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.agents))
	for id := range p.agents {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		_ = p.TerminateAgent(id)
	}
}

// RemoveAgent frees the slot of a terminal agent. Non-terminal agents must
// be terminated instead; the pool never garbage-collects on its own so the
// caller can extract final state first.
func (p *AgentPool) RemoveAgent(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pa, ok := p.agents[id]
	if !ok {
		return orch.NewError(orch.CodeAgentNotFound, fmt.Sprintf("agent %s not in pool", id), "")
	}
	if !pa.agent.Status.IsTerminal() {
		return orch.NewError(orch.CodeInvalidTransition,
			fmt.Sprintf("agent %s is %s, only terminal agents can be removed", id, pa.agent.Status),
			"terminate the agent first")
	}
	delete(p.agents, id)
	return nil
}

// HasCapacity reports whether the pool can spawn another agent.
func (p *AgentPool) HasCapacity() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.agents) < p.orchCfg.MaxAgents
}

// AvailableSlots returns the number of agents the pool can still spawn.
func (p *AgentPool) AvailableSlots() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.orchCfg.MaxAgents - len(p.agents)
}

// GetAgent returns a copy of the agent's current state.
func (p *AgentPool) GetAgent(id string) (agent.Agent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pa, ok := p.agents[id]
	if !ok {
		return agent.Agent{}, false
	}
	return *pa.agent, true
}

// Status returns a snapshot of every live agent.
func (p *AgentPool) Status() []agent.Agent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]agent.Agent, 0, len(p.agents))
	for _, pa := range p.agents {
		out = append(out, *pa.agent)
	}
	return out
}
