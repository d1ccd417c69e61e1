package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/forgeline/foreman/internal/adapter/mocksession"
	"github.com/forgeline/foreman/internal/config"
	"github.com/forgeline/foreman/internal/domain/agent"
	"github.com/forgeline/foreman/internal/domain/orch"
	"github.com/forgeline/foreman/internal/service"
)

func newTestPool(t *testing.T, provider *mocksession.Provider, maxAgents int) *service.AgentPool {
	t.Helper()
	cfg := testOrchCfg()
	cfg.MaxAgents = maxAgents
	return service.NewAgentPool(provider, nil, cfg, config.Agent{}, "run-1", t.TempDir())
}

func TestSpawnAgentCapacity(t *testing.T) {
	provider := mocksession.NewProvider()
	pool := newTestPool(t, provider, 2)
	ctx := context.Background()

	for i := range 2 {
		if _, err := pool.SpawnAgent(ctx, testItem("T01", "one"), "b"); err != nil {
			t.Fatalf("spawn #%d: %v", i, err)
		}
	}
	if pool.HasCapacity() {
		t.Error("HasCapacity() = true at limit")
	}
	if got := pool.AvailableSlots(); got != 0 {
		t.Errorf("AvailableSlots() = %d, want 0", got)
	}

	_, err := pool.SpawnAgent(ctx, testItem("T03", "three"), "b")
	if !orch.IsCode(err, orch.CodeCapacityExceeded) {
		t.Fatalf("err = %v, want capacity_exceeded", err)
	}
}

func TestStartAgentSuccess(t *testing.T) {
	provider := mocksession.NewProvider()
	provider.AddScript(mocksession.Script{Match: "T01", Summary: "implemented"})
	pool := newTestPool(t, provider, 2)
	ctx := context.Background()

	ag, err := pool.SpawnAgent(ctx, testItem("T01", "one"), "branch-1")
	if err != nil {
		t.Fatalf("SpawnAgent: %v", err)
	}
	if ag.Status != agent.StatusIdle {
		t.Errorf("spawned status = %s, want idle", ag.Status)
	}

	res, err := pool.StartAgent(ctx, ag.ID, "please do T01")
	if err != nil {
		t.Fatalf("StartAgent: %v", err)
	}
	if !res.Success || res.Summary != "implemented" {
		t.Errorf("result = %+v", res)
	}

	got, ok := pool.GetAgent(ag.ID)
	if !ok || got.Status != agent.StatusCompleted {
		t.Errorf("agent status = %s, want completed", got.Status)
	}
	if err := pool.RemoveAgent(ag.ID); err != nil {
		t.Fatalf("RemoveAgent: %v", err)
	}
	if got := pool.AvailableSlots(); got != 2 {
		t.Errorf("AvailableSlots() after removal = %d, want 2", got)
	}
}

func TestStartAgentFailure(t *testing.T) {
	provider := mocksession.NewProvider()
	provider.AddScript(mocksession.Script{Match: "T01", Err: errors.New("compile error")})
	pool := newTestPool(t, provider, 1)
	ctx := context.Background()

	ag, err := pool.SpawnAgent(ctx, testItem("T01", "one"), "b")
	if err != nil {
		t.Fatalf("SpawnAgent: %v", err)
	}
	res, err := pool.StartAgent(ctx, ag.ID, "do T01")
	if err != nil {
		t.Fatalf("StartAgent: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Error, "execution_failed") || !strings.Contains(res.Error, "compile error") {
		t.Errorf("error = %q", res.Error)
	}
	got, _ := pool.GetAgent(ag.ID)
	if got.Status != agent.StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
}

func TestStartAgentTimeoutIsFailureNotError(t *testing.T) {
	provider := mocksession.NewProvider()
	provider.AddScript(mocksession.Script{Match: "slow", Delay: time.Minute, Summary: "never"})

	cfg := testOrchCfg()
	cfg.MaxAgents = 1
	cfg.TaskAgentTimeout = 30 * time.Millisecond
	pool := service.NewAgentPool(provider, nil, cfg, config.Agent{}, "run-1", t.TempDir())
	ctx := context.Background()

	ag, err := pool.SpawnAgent(ctx, testItem("T01", "slow work"), "b")
	if err != nil {
		t.Fatalf("SpawnAgent: %v", err)
	}
	res, err := pool.StartAgent(ctx, ag.ID, "slow prompt")
	if err != nil {
		t.Fatalf("StartAgent: %v", err)
	}
	if res.Success {
		t.Fatal("expected timeout failure")
	}
	if !strings.Contains(res.Error, "timed out") {
		t.Errorf("error = %q, want timeout", res.Error)
	}
	got, _ := pool.GetAgent(ag.ID)
	if got.Status != agent.StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
}

func TestStartUnknownAgent(t *testing.T) {
	pool := newTestPool(t, mocksession.NewProvider(), 1)
	_, err := pool.StartAgent(context.Background(), "worker-99", "x")
	if !orch.IsCode(err, orch.CodeAgentNotFound) {
		t.Errorf("err = %v, want agent_not_found", err)
	}
}

func TestPauseAgent(t *testing.T) {
	provider := mocksession.NewProvider()
	provider.AddScript(mocksession.Script{Match: "T01", Summary: "ok"})
	pool := newTestPool(t, provider, 2)
	ctx := context.Background()

	ag, err := pool.SpawnAgent(ctx, testItem("T01", "one"), "b")
	if err != nil {
		t.Fatalf("SpawnAgent: %v", err)
	}

	// Idle agent: pause marks intent without a transition.
	if err := pool.PauseAgent(ag.ID); err != nil {
		t.Fatalf("PauseAgent idle: %v", err)
	}
	got, _ := pool.GetAgent(ag.ID)
	if !got.PauseRequested || got.Status != agent.StatusIdle {
		t.Errorf("after pause: requested=%v status=%s", got.PauseRequested, got.Status)
	}
	if err := pool.ResumeAgent(ag.ID); err != nil {
		t.Fatalf("ResumeAgent: %v", err)
	}

	// Terminal agent: pause is a typed error.
	if _, err := pool.StartAgent(ctx, ag.ID, "do T01"); err != nil {
		t.Fatalf("StartAgent: %v", err)
	}
	err = pool.PauseAgent(ag.ID)
	if !orch.IsCode(err, orch.CodeInvalidTransition) {
		t.Errorf("pause terminal agent: err = %v, want invalid_transition", err)
	}
}

func TestPausedAgentStillCompletes(t *testing.T) {
	provider := mocksession.NewProvider()
	provider.AddScript(mocksession.Script{Match: "T01", Delay: 150 * time.Millisecond, Summary: "done"})
	pool := newTestPool(t, provider, 1)
	ctx := context.Background()

	ag, err := pool.SpawnAgent(ctx, testItem("T01", "one"), "b")
	if err != nil {
		t.Fatalf("SpawnAgent: %v", err)
	}

	// Pause while the session is still running; completion is a safe
	// point, so the finishing session resolves the pause.
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = pool.PauseAgent(ag.ID)
	}()

	res, err := pool.StartAgent(ctx, ag.ID, "do T01")
	if err != nil {
		t.Fatalf("StartAgent: %v", err)
	}
	if !res.Success {
		t.Fatalf("result = %+v, want success", res)
	}

	got, _ := pool.GetAgent(ag.ID)
	if got.Status != agent.StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
	if got.PauseRequested {
		t.Error("pause intent not cleared by completion")
	}
	if err := pool.RemoveAgent(ag.ID); err != nil {
		t.Errorf("RemoveAgent after completion: %v", err)
	}
}

func TestRemoveNonTerminalAgentFails(t *testing.T) {
	pool := newTestPool(t, mocksession.NewProvider(), 1)
	ag, err := pool.SpawnAgent(context.Background(), testItem("T01", "one"), "b")
	if err != nil {
		t.Fatalf("SpawnAgent: %v", err)
	}
	if err := pool.RemoveAgent(ag.ID); !orch.IsCode(err, orch.CodeInvalidTransition) {
		t.Errorf("err = %v, want invalid_transition", err)
	}
	if err := pool.TerminateAgent(ag.ID); err != nil {
		t.Fatalf("TerminateAgent: %v", err)
	}
	if got := pool.AvailableSlots(); got != 1 {
		t.Errorf("AvailableSlots() = %d, want 1", got)
	}
}

func TestTerminateAll(t *testing.T) {
	provider := mocksession.NewProvider()
	pool := newTestPool(t, provider, 3)
	ctx := context.Background()

	for _, id := range []string{"T01", "T02", "T03"} {
		if _, err := pool.SpawnAgent(ctx, testItem(id, "work"), "b"); err != nil {
			t.Fatalf("spawn %s: %v", id, err)
		}
	}
	pool.TerminateAll()
	if got := len(pool.Status()); got != 0 {
		t.Errorf("live agents after TerminateAll = %d, want 0", got)
	}
	if got := pool.AvailableSlots(); got != 3 {
		t.Errorf("AvailableSlots() = %d, want 3", got)
	}
}
