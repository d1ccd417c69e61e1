package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/forgeline/foreman/internal/adapter/mocksession"
	"github.com/forgeline/foreman/internal/config"
	"github.com/forgeline/foreman/internal/domain/event"
	"github.com/forgeline/foreman/internal/domain/plan"
	"github.com/forgeline/foreman/internal/gitops"
	"github.com/forgeline/foreman/internal/port/session"
	"github.com/forgeline/foreman/internal/service"
)

// newTestExecutor builds a PhaseExecutor over a fresh git repository.
func newTestExecutor(t *testing.T, trk *fakeTracker, provider session.Provider, cfg config.Orchestrator) (*service.PhaseExecutor, string) {
	t.Helper()
	repo := initTestRepo(t)
	branches := gitops.NewBranchManager(repo, nil, "")
	pool := service.NewAgentPool(provider, nil, cfg, config.Agent{}, "run-1", repo)
	exec := service.NewPhaseExecutor(trk, branches, pool, nil, cfg.TaskLevelAgents, "run-1", "sess-1", "main")
	return exec, repo
}

func TestParallelPhaseDispatchesAllBeforeAwaiting(t *testing.T) {
	provider := mocksession.NewProvider()
	for _, id := range []string{"P01", "P02", "P03"} {
		provider.AddScript(mocksession.Script{Match: id, Delay: 60 * time.Millisecond, Summary: id + " done"})
	}
	trk := newFakeTracker()
	exec, _ := newTestExecutor(t, trk, provider, testOrchCfg())

	phase := plan.ExecutionPhase{
		Order:    1,
		Parallel: true,
		Items:    []plan.ExecutionItem{testItem("P01", "a"), testItem("P02", "b"), testItem("P03", "c")},
	}

	started := time.Now()
	res := exec.ExecutePhase(context.Background(), phase)
	elapsed := time.Since(started)

	if !res.Success {
		t.Fatalf("phase failed: %+v", res)
	}
	if len(res.CompletedItems) != 3 {
		t.Errorf("completed = %v", res.CompletedItems)
	}
	// Three 60ms agents run concurrently, so the phase finishes well
	// under the 180ms a pipelined dispatch would need.
	if elapsed > 150*time.Millisecond {
		t.Errorf("phase took %s, items did not run concurrently", elapsed)
	}
	if got := provider.Created(); got != 3 {
		t.Errorf("sessions created = %d, want 3", got)
	}
}

func TestParallelPhaseResultOrderAndIsolation(t *testing.T) {
	provider := mocksession.NewProvider()
	provider.AddScript(mocksession.Script{Match: "P01", Summary: "ok"})
	provider.AddScript(mocksession.Script{Match: "P02", Err: errors.New("broken build")})
	trk := newFakeTracker()
	exec, _ := newTestExecutor(t, trk, provider, testOrchCfg())

	phase := plan.ExecutionPhase{
		Order:    1,
		Parallel: true,
		Items:    []plan.ExecutionItem{testItem("P01", "a"), testItem("P02", "b")},
	}
	res := exec.ExecutePhase(context.Background(), phase)

	if res.Success {
		t.Fatal("expected phase failure")
	}
	if len(res.Items) != 2 || res.Items[0].Identifier != "P01" || res.Items[1].Identifier != "P02" {
		t.Fatalf("items out of input order: %+v", res.Items)
	}
	if !res.Items[0].Success {
		t.Error("P01 should be isolated from P02's failure")
	}
	if len(res.FailedItems) != 1 || res.FailedItems[0] != "P02" {
		t.Errorf("failed = %v, want [P02]", res.FailedItems)
	}
	if len(res.CompletedItems) != 1 || res.CompletedItems[0] != "P01" {
		t.Errorf("completed = %v, want [P01]", res.CompletedItems)
	}
}

func TestSequentialPhaseStopsAtFirstFailure(t *testing.T) {
	provider := mocksession.NewProvider()
	provider.AddScript(mocksession.Script{Match: "S01", Summary: "ok"})
	provider.AddScript(mocksession.Script{Match: "S02", Err: errors.New("boom")})
	provider.AddScript(mocksession.Script{Match: "S03", Summary: "never reached"})
	trk := newFakeTracker()
	exec, _ := newTestExecutor(t, trk, provider, testOrchCfg())

	phase := plan.ExecutionPhase{
		Order: 2,
		Items: []plan.ExecutionItem{testItem("S01", "a"), testItem("S02", "b"), testItem("S03", "c")},
	}
	res := exec.ExecutePhase(context.Background(), phase)

	if res.Success {
		t.Fatal("expected phase failure")
	}
	// S03 is unattempted: neither completed nor failed, and never started.
	if len(res.Items) != 2 {
		t.Fatalf("items = %+v, want exactly S01 and S02", res.Items)
	}
	if got := res.CompletedItems; len(got) != 1 || got[0] != "S01" {
		t.Errorf("completed = %v, want [S01]", got)
	}
	if got := res.FailedItems; len(got) != 1 || got[0] != "S02" {
		t.Errorf("failed = %v, want [S02]", got)
	}
	if calls := trk.callsMatching("StartWork task id-S03"); len(calls) != 0 {
		t.Errorf("S03 was started: %v", calls)
	}
}

func TestSequentialPhaseSharesOneBranch(t *testing.T) {
	provider := mocksession.NewProvider()
	provider.AddScript(mocksession.Script{Match: "S0", Summary: "ok"})
	trk := newFakeTracker()
	exec, repo := newTestExecutor(t, trk, provider, testOrchCfg())

	phase := plan.ExecutionPhase{
		Order: 3,
		Items: []plan.ExecutionItem{testItem("S01", "a"), testItem("S02", "b")},
	}
	res := exec.ExecutePhase(context.Background(), phase)
	if !res.Success {
		t.Fatalf("phase failed: %+v", res)
	}
	if res.Items[0].Branch != res.Items[1].Branch {
		t.Errorf("sequential items on different branches: %q vs %q", res.Items[0].Branch, res.Items[1].Branch)
	}

	branches := gitRun(t, repo, "branch", "--list")
	if !strings.Contains(branches, "phase-3") {
		t.Errorf("shared phase branch missing: %s", branches)
	}
}

func TestFeatureDecomposition(t *testing.T) {
	provider := mocksession.NewProvider()
	for _, id := range []string{"F01-T1", "F01-T2", "F01-T3"} {
		provider.AddScript(mocksession.Script{Match: id, Delay: 40 * time.Millisecond, Summary: id + " done"})
	}
	trk := newFakeTracker()
	feature := featureItem("F01", "big feature")
	trk.tasks[feature.ID] = []plan.Task{
		{ID: "t3", Identifier: "F01-T3", Title: "wire up", FeatureID: feature.ID, ExecutionOrder: 3},
		{ID: "t1", Identifier: "F01-T1", Title: "model", FeatureID: feature.ID, ExecutionOrder: 1, CanParallelize: true, ParallelGroup: "g1"},
		{ID: "t2", Identifier: "F01-T2", Title: "store", FeatureID: feature.ID, ExecutionOrder: 2, CanParallelize: true, ParallelGroup: "g1"},
	}
	exec, _ := newTestExecutor(t, trk, provider, testOrchCfg())

	phase := plan.ExecutionPhase{Order: 1, Items: []plan.ExecutionItem{feature}}
	res := exec.ExecutePhase(context.Background(), phase)

	if !res.Success {
		t.Fatalf("phase failed: %+v", res)
	}
	ir := res.Items[0]
	if len(ir.CompletedTasks) != 3 {
		t.Errorf("completed tasks = %v, want all three", ir.CompletedTasks)
	}
	for _, id := range []string{"F01-T1", "F01-T2", "F01-T3"} {
		if !strings.Contains(ir.Summary, id) {
			t.Errorf("summary missing %s: %q", id, ir.Summary)
		}
	}

	// The feature itself completes exactly once.
	if calls := trk.callsMatching("CompleteWork feature id-F01"); len(calls) != 1 {
		t.Errorf("feature CompleteWork calls = %v, want exactly one", calls)
	}

	// The solo task starts only after the g1 pair completed.
	t3Start := trk.callIndex("StartWork task t3")
	t1Done := trk.callIndex("CompleteWork task t1")
	t2Done := trk.callIndex("CompleteWork task t2")
	if t3Start < 0 || t1Done < 0 || t2Done < 0 {
		t.Fatalf("missing task bookkeeping calls: %v", trk.calls)
	}
	if t3Start < t1Done || t3Start < t2Done {
		t.Errorf("solo task started before group finished: t3@%d t1done@%d t2done@%d", t3Start, t1Done, t2Done)
	}
}

func TestFeatureProgressBetweenGroups(t *testing.T) {
	provider := mocksession.NewProvider()
	for _, id := range []string{"F01-T1", "F01-T2", "F01-T3"} {
		provider.AddScript(mocksession.Script{Match: id, Summary: id + " done"})
	}
	trk := newFakeTracker()
	feature := featureItem("F01", "big feature")
	trk.tasks[feature.ID] = []plan.Task{
		{ID: "t1", Identifier: "F01-T1", FeatureID: feature.ID, ExecutionOrder: 1, CanParallelize: true, ParallelGroup: "g1"},
		{ID: "t2", Identifier: "F01-T2", FeatureID: feature.ID, ExecutionOrder: 2, CanParallelize: true, ParallelGroup: "g1"},
		{ID: "t3", Identifier: "F01-T3", FeatureID: feature.ID, ExecutionOrder: 3},
	}
	repo := initTestRepo(t)
	hub := &recordHub{}
	cfg := testOrchCfg()
	branches := gitops.NewBranchManager(repo, nil, "")
	pool := service.NewAgentPool(provider, hub, cfg, config.Agent{}, "run-1", repo)
	exec := service.NewPhaseExecutor(trk, branches, pool, hub, cfg.TaskLevelAgents, "run-1", "sess-1", "main")

	res := exec.ExecutePhase(context.Background(), plan.ExecutionPhase{Order: 1, Items: []plan.ExecutionItem{feature}})
	if !res.Success {
		t.Fatalf("phase failed: %+v", res)
	}

	// One progress event after the g1 pair; the solo group finishes the
	// feature and reports through item.complete instead.
	if got := hub.count(event.TypeItemProgress); got != 1 {
		t.Fatalf("item.progress events = %d, want 1", got)
	}
	for _, rec := range hub.events {
		if rec.Type != event.TypeItemProgress {
			continue
		}
		ev, ok := rec.Payload.(event.ItemEvent)
		if !ok {
			t.Fatalf("progress payload = %T", rec.Payload)
		}
		if ev.Identifier != "F01" {
			t.Errorf("identifier = %q", ev.Identifier)
		}
		if ev.Progress != 66 {
			t.Errorf("progress = %d, want 66", ev.Progress)
		}
		if ev.Message != "2/3 tasks completed" {
			t.Errorf("message = %q", ev.Message)
		}
	}
}

func TestFeatureTaskFailureStopsRemaining(t *testing.T) {
	provider := mocksession.NewProvider()
	provider.AddScript(mocksession.Script{Match: "F01-T1", Err: errors.New("bad schema")})
	provider.AddScript(mocksession.Script{Match: "F01-T2", Summary: "unreachable"})
	trk := newFakeTracker()
	feature := featureItem("F01", "feature")
	trk.tasks[feature.ID] = []plan.Task{
		{ID: "t1", Identifier: "F01-T1", FeatureID: feature.ID, ExecutionOrder: 1},
		{ID: "t2", Identifier: "F01-T2", FeatureID: feature.ID, ExecutionOrder: 2},
	}
	exec, _ := newTestExecutor(t, trk, provider, testOrchCfg())

	phase := plan.ExecutionPhase{Order: 1, Items: []plan.ExecutionItem{feature}}
	res := exec.ExecutePhase(context.Background(), phase)

	if res.Success {
		t.Fatal("expected failure")
	}
	ir := res.Items[0]
	if !strings.Contains(ir.Error, "F01-T1") {
		t.Errorf("error = %q, want the failing task named", ir.Error)
	}
	if len(ir.CompletedTasks) != 0 {
		t.Errorf("completed tasks = %v, want none", ir.CompletedTasks)
	}
	if calls := trk.callsMatching("StartWork task t2"); len(calls) != 0 {
		t.Errorf("t2 was attempted: %v", calls)
	}
}

func TestFeatureWithoutTasksFallsBackToSingleAgent(t *testing.T) {
	provider := mocksession.NewProvider()
	provider.AddScript(mocksession.Script{Match: "F01", Summary: "whole feature done"})
	trk := newFakeTracker()
	exec, _ := newTestExecutor(t, trk, provider, testOrchCfg())

	phase := plan.ExecutionPhase{Order: 1, Items: []plan.ExecutionItem{featureItem("F01", "feature")}}
	res := exec.ExecutePhase(context.Background(), phase)
	if !res.Success {
		t.Fatalf("phase failed: %+v", res)
	}
	if res.Items[0].Summary != "whole feature done" {
		t.Errorf("summary = %q", res.Items[0].Summary)
	}
	if got := provider.Created(); got != 1 {
		t.Errorf("sessions created = %d, want 1", got)
	}
}

// panicProvider panics on session creation to exercise the phase boundary.
type panicProvider struct{}

func (panicProvider) Name() string { return "panic" }

func (panicProvider) CreateSession(context.Context, session.Config, session.Hooks) (session.Session, error) {
	panic("provider exploded")
}

func TestPhasePanicBecomesFailureForAllItems(t *testing.T) {
	trk := newFakeTracker()
	exec, _ := newTestExecutor(t, trk, panicProvider{}, testOrchCfg())

	phase := plan.ExecutionPhase{
		Order: 1,
		Items: []plan.ExecutionItem{testItem("X01", "a"), testItem("X02", "b")},
	}
	res := exec.ExecutePhase(context.Background(), phase)

	if res.Success {
		t.Fatal("expected failure")
	}
	if len(res.FailedItems) != 2 {
		t.Errorf("failed = %v, want both items", res.FailedItems)
	}
	for _, ir := range res.Items {
		if !strings.Contains(ir.Error, "panicked") {
			t.Errorf("item %s error = %q, want panic surfaced", ir.Identifier, ir.Error)
		}
	}
}
