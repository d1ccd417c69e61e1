package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/forgeline/foreman/internal/domain/event"
	"github.com/forgeline/foreman/internal/domain/plan"
	"github.com/forgeline/foreman/internal/domain/result"
	"github.com/forgeline/foreman/internal/gitops"
	"github.com/forgeline/foreman/internal/port/broadcast"
	"github.com/forgeline/foreman/internal/port/messagequeue"
	"github.com/forgeline/foreman/internal/port/tracker"
)

// PhaseExecutor runs one phase of the plan: a closed set of items executed
// in parallel on per-item branches or sequentially on a shared branch.
// One executor per run.
type PhaseExecutor struct {
	trk      tracker.Client
	branches *gitops.BranchManager
	pool     *AgentPool
	hub      broadcast.Broadcaster
	queue    messagequeue.Queue

	taskLevelAgents bool
	runID           string
	sessionID       string
	baseBranch      string
}

// NewPhaseExecutor creates a PhaseExecutor bound to one run.
func NewPhaseExecutor(trk tracker.Client, branches *gitops.BranchManager, pool *AgentPool, hub broadcast.Broadcaster, taskLevelAgents bool, runID, sessionID, baseBranch string) *PhaseExecutor {
	if hub == nil {
		hub = broadcast.Noop{}
	}
	return &PhaseExecutor{
		trk:             trk,
		branches:        branches,
		pool:            pool,
		hub:             hub,
		taskLevelAgents: taskLevelAgents,
		runID:           runID,
		sessionID:       sessionID,
		baseBranch:      baseBranch,
	}
}

// SetQueue mirrors session telemetry onto the message queue. Optional.
func (e *PhaseExecutor) SetQueue(q messagequeue.Queue) { e.queue = q }

// ExecutePhase runs the phase and aggregates item results in phase input
// order. Any panic during execution becomes a phase-level failure covering
// every item, so the run always ends with a well-formed result.
func (e *PhaseExecutor) ExecutePhase(ctx context.Context, phase plan.ExecutionPhase) (res result.PhaseResult) {
	started := time.Now()
	res.Order = phase.Order
	res.Parallel = phase.Parallel && len(phase.Items) > 1

	defer func() {
		if r := recover(); r != nil {
			slog.Error("phase execution panicked", "phase", phase.Order, "panic", r)
			res = e.phaseFailure(phase, fmt.Sprintf("phase execution panicked: %v", r))
		}
		res.Duration = time.Since(started)
		for _, ir := range res.Items {
			if ir.Success {
				res.CompletedItems = append(res.CompletedItems, ir.Identifier)
			} else {
				res.FailedItems = append(res.FailedItems, ir.Identifier)
			}
		}
		res.Success = len(res.FailedItems) == 0 && len(res.Items) == len(phase.Items)
	}()

	if res.Parallel {
		res.Items = e.executeParallel(ctx, phase)
	} else {
		res.Items = e.executeSequential(ctx, phase)
	}
	return res
}

// phaseFailure marks every item in the phase as failed with the same error.
func (e *PhaseExecutor) phaseFailure(phase plan.ExecutionPhase, msg string) result.PhaseResult {
	res := result.PhaseResult{Order: phase.Order, Parallel: phase.Parallel}
	for _, item := range phase.Items {
		res.Items = append(res.Items, result.ItemResult{
			ItemID:     item.ID,
			Identifier: item.Identifier,
			Error:      msg,
		})
	}
	return res
}

// executeParallel runs every item on its own branch. All branches are
// created and all agents spawned before any work is dispatched, then items
// run concurrently. One item's failure never cancels its siblings; results
// keep phase input order.
func (e *PhaseExecutor) executeParallel(ctx context.Context, phase plan.ExecutionPhase) []result.ItemResult {
	results := make([]result.ItemResult, len(phase.Items))

	type dispatch struct {
		item   plan.ExecutionItem
		branch string
	}
	dispatches := make([]dispatch, 0, len(phase.Items))

	// Branch creation is serialized here: only one branch can be checked
	// out at a time in the shared working tree.
	for i, item := range phase.Items {
		branch := e.branches.GenerateBranchName(item.Identifier, item.Title)
		if err := e.branches.CreateBranch(ctx, branch, e.baseBranch); err != nil {
			results[i] = result.ItemResult{ItemID: item.ID, Identifier: item.Identifier, Error: err.Error()}
			e.emitItemError(ctx, item, "", err.Error())
			continue
		}
		e.track("link branch", e.trk.LinkBranch(ctx, workType(item.Type), item.ID, branch))
		dispatches = append(dispatches, dispatch{item: item, branch: branch})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, d := range dispatches {
		idx := indexOf(phase.Items, d.item.Identifier)
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("item execution panicked", "item", d.item.Identifier, "panic", r)
					results[idx] = result.ItemResult{
						ItemID:     d.item.ID,
						Identifier: d.item.Identifier,
						Error:      fmt.Sprintf("item execution panicked: %v", r),
					}
				}
			}()
			results[idx] = e.executeItem(gctx, d.item, d.branch, false)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// executeSequential runs items in list order on one shared branch and
// stops at the first failure. Items after the failure are unattempted:
// they appear in no result at all, distinct from failed.
func (e *PhaseExecutor) executeSequential(ctx context.Context, phase plan.ExecutionPhase) []result.ItemResult {
	branch := e.branches.GenerateBranchName(fmt.Sprintf("phase-%d", phase.Order), "")
	if err := e.branches.CreateBranch(ctx, branch, e.baseBranch); err != nil {
		failed := e.phaseFailure(phase, err.Error())
		return failed.Items
	}

	var results []result.ItemResult
	for _, item := range phase.Items {
		ir := e.executeItem(ctx, item, branch, true)
		results = append(results, ir)
		if !ir.Success {
			slog.Warn("sequential phase stopped at first failure",
				"phase", phase.Order, "item", item.Identifier, "error", ir.Error)
			break
		}
	}
	return results
}

// executeItem runs one item to completion: a feature is decomposed into
// task-level agents when enabled, anything else gets a single agent.
func (e *PhaseExecutor) executeItem(ctx context.Context, item plan.ExecutionItem, branch string, direct bool) result.ItemResult {
	started := time.Now()
	e.emitItemStart(ctx, item, branch)
	e.track("start work", e.trk.StartWork(ctx, workType(item.Type), item.ID, tracker.WorkUpdate{SessionID: e.sessionID}))
	e.emitSession(ctx, sessionStartType(item.Type), item.ID, "")

	var ir result.ItemResult
	if item.Type == plan.ItemTypeFeature && e.taskLevelAgents {
		ir = e.executeFeatureTasks(ctx, item, branch)
	} else {
		ir = e.executeSingleAgent(ctx, item, branch, direct)
	}
	ir.ItemID = item.ID
	ir.Identifier = item.Identifier
	ir.Branch = branch
	ir.Duration = time.Since(started)

	if ir.Success {
		e.track("complete work", e.trk.CompleteWork(ctx, workType(item.Type), item.ID, tracker.WorkUpdate{
			SessionID: e.sessionID,
			Summary:   ir.Summary,
		}))
		if hash, err := e.branches.LatestCommitHash(ctx); err == nil {
			e.track("link commit", e.trk.LinkCommit(ctx, workType(item.Type), item.ID, hash))
		}
		e.emitSession(ctx, sessionCompleteType(item.Type), item.ID, ir.Summary)
		e.hub.BroadcastEvent(ctx, event.TypeItemComplete, event.ItemEvent{
			RunID: e.runID, Identifier: item.Identifier, Branch: branch, Progress: 100, Message: ir.Summary,
		})
	} else {
		e.emitItemError(ctx, item, branch, ir.Error)
	}
	return ir
}

// executeSingleAgent runs one agent for the whole item.
func (e *PhaseExecutor) executeSingleAgent(ctx context.Context, item plan.ExecutionItem, branch string, direct bool) result.ItemResult {
	ag, err := e.pool.SpawnAgent(ctx, item, branch)
	if err != nil {
		return result.ItemResult{Error: err.Error()}
	}
	defer e.removeAgent(ag.ID)

	prompt := BuildItemPrompt(item, branch)
	var ar result.AgentResult
	if direct {
		ar, err = e.pool.StartAgentDirect(ctx, ag.ID, prompt)
	} else {
		ar, err = e.pool.StartAgent(ctx, ag.ID, prompt)
	}
	if err != nil {
		return result.ItemResult{Error: err.Error()}
	}
	return result.ItemResult{Success: ar.Success, Summary: ar.Summary, Error: ar.Error}
}

// executeFeatureTasks decomposes a feature into task-level agents: tasks
// are sorted by execution order, folded into parallel groups, and run
// group by group. The first failing group stops the feature; identifiers
// of tasks that did finish are preserved for partial credit.
func (e *PhaseExecutor) executeFeatureTasks(ctx context.Context, feature plan.ExecutionItem, branch string) result.ItemResult {
	tasks, err := e.trk.ListTasks(ctx, feature.ID)
	if err != nil {
		slog.Warn("task fetch failed, falling back to a single feature agent",
			"feature", feature.Identifier, "error", err)
		return e.executeSingleAgent(ctx, feature, branch, false)
	}
	if len(tasks) == 0 {
		return e.executeSingleAgent(ctx, feature, branch, false)
	}

	plan.SortTasks(tasks)
	groups := plan.FoldTaskGroups(tasks)

	var completed []string
	for _, group := range groups {
		taskResults := e.executeTaskGroup(ctx, feature, group, branch)

		failedTask := ""
		failedErr := ""
		for _, tr := range taskResults {
			if tr.Success {
				completed = append(completed, tr.Identifier)
			} else if failedTask == "" {
				failedTask = tr.Identifier
				failedErr = tr.Error
			}
		}
		if failedTask != "" {
			return result.ItemResult{
				Error:          fmt.Sprintf("task %s failed: %s", failedTask, failedErr),
				CompletedTasks: completed,
				Summary:        taskSummary(feature.Identifier, completed, len(tasks)),
			}
		}

		// Feature-level progress between groups; completion emits 100.
		if pct := len(completed) * 100 / len(tasks); pct < 100 {
			e.hub.BroadcastEvent(ctx, event.TypeItemProgress, event.ItemEvent{
				RunID: e.runID, Identifier: feature.Identifier, Branch: branch,
				Progress: pct,
				Message:  fmt.Sprintf("%d/%d tasks completed", len(completed), len(tasks)),
			})
		}
	}

	return result.ItemResult{
		Success:        true,
		CompletedTasks: completed,
		Summary:        taskSummary(feature.Identifier, completed, len(tasks)),
	}
}

// executeTaskGroup runs one folded unit: a parallel group concurrently, a
// solo task alone.
func (e *PhaseExecutor) executeTaskGroup(ctx context.Context, feature plan.ExecutionItem, group plan.TaskGroup, branch string) []result.ItemResult {
	results := make([]result.ItemResult, len(group.Tasks))

	if len(group.Tasks) == 1 {
		results[0] = e.executeTask(ctx, feature, group.Tasks[0], branch)
		return results
	}

	// Spawn everything first so the whole group is dispatched together.
	agents := make([]string, len(group.Tasks))
	for i, t := range group.Tasks {
		ag, err := e.pool.SpawnAgent(ctx, taskItem(t, feature), branch)
		if err != nil {
			results[i] = result.ItemResult{ItemID: t.ID, Identifier: t.Identifier, Error: err.Error()}
			continue
		}
		agents[i] = ag.ID
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, t := range group.Tasks {
		if agents[i] == "" {
			continue
		}
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("task execution panicked", "task", t.Identifier, "panic", r)
					results[i] = result.ItemResult{
						ItemID:     t.ID,
						Identifier: t.Identifier,
						Error:      fmt.Sprintf("task execution panicked: %v", r),
					}
				}
			}()
			results[i] = e.runTaskAgent(gctx, feature, t, agents[i], branch)
			return nil
		})
	}
	_ = g.Wait()

	for _, id := range agents {
		if id != "" {
			e.removeAgent(id)
		}
	}
	return results
}

// executeTask runs a solo task on its own agent.
func (e *PhaseExecutor) executeTask(ctx context.Context, feature plan.ExecutionItem, t plan.Task, branch string) result.ItemResult {
	ag, err := e.pool.SpawnAgent(ctx, taskItem(t, feature), branch)
	if err != nil {
		return result.ItemResult{ItemID: t.ID, Identifier: t.Identifier, Error: err.Error()}
	}
	defer e.removeAgent(ag.ID)
	return e.runTaskAgent(ctx, feature, t, ag.ID, branch)
}

// runTaskAgent dispatches one task agent and records its bookkeeping.
func (e *PhaseExecutor) runTaskAgent(ctx context.Context, feature plan.ExecutionItem, t plan.Task, agentID, branch string) result.ItemResult {
	e.track("start task", e.trk.StartWork(ctx, tracker.WorkTask, t.ID, tracker.WorkUpdate{SessionID: e.sessionID}))
	e.emitSession(ctx, event.TaskStarted, t.ID, "")
	e.hub.BroadcastEvent(ctx, event.TypeItemStart, event.ItemEvent{
		RunID: e.runID, Identifier: t.Identifier, AgentID: agentID, Branch: branch,
	})

	ar, err := e.pool.StartAgent(ctx, agentID, BuildTaskPrompt(t, feature, branch))
	if err != nil {
		return result.ItemResult{ItemID: t.ID, Identifier: t.Identifier, Error: err.Error()}
	}

	ir := result.ItemResult{
		ItemID:     t.ID,
		Identifier: t.Identifier,
		Branch:     branch,
		Success:    ar.Success,
		Summary:    ar.Summary,
		Error:      ar.Error,
		Duration:   ar.Duration,
	}
	if ir.Success {
		e.track("complete task", e.trk.CompleteWork(ctx, tracker.WorkTask, t.ID, tracker.WorkUpdate{
			SessionID: e.sessionID, Summary: ar.Summary,
		}))
		e.emitSession(ctx, event.TaskCompleted, t.ID, ar.Summary)
		e.hub.BroadcastEvent(ctx, event.TypeItemComplete, event.ItemEvent{
			RunID: e.runID, Identifier: t.Identifier, AgentID: agentID, Branch: branch, Progress: 100,
		})
	} else {
		e.hub.BroadcastEvent(ctx, event.TypeItemError, event.ItemEvent{
			RunID: e.runID, Identifier: t.Identifier, AgentID: agentID, Branch: branch, Error: ir.Error,
		})
	}
	return ir
}

// removeAgent clears a terminal agent's slot, terminating it first if it
// is somehow still live.
func (e *PhaseExecutor) removeAgent(id string) {
	if err := e.pool.RemoveAgent(id); err != nil {
		_ = e.pool.TerminateAgent(id)
	}
}

// track logs a failed tracker bookkeeping call. Bookkeeping never outranks
// the actual agent work, so errors are swallowed.
func (e *PhaseExecutor) track(op string, err error) {
	if err != nil {
		slog.Warn("tracker call failed", "op", op, "error", err)
	}
}

// emitSession forwards fire-and-forget telemetry to the tracking service
// and mirrors it onto the message queue.
func (e *PhaseExecutor) emitSession(ctx context.Context, t event.SessionEventType, itemID, detail string) {
	ev := event.SessionEvent{
		Type:      t,
		SessionID: e.sessionID,
		ItemID:    itemID,
		Detail:    detail,
		At:        time.Now(),
	}
	e.track("emit event", e.trk.EmitSessionEvent(ctx, ev))
	mirrorSession(ctx, e.queue, ev)
}

func (e *PhaseExecutor) emitItemStart(ctx context.Context, item plan.ExecutionItem, branch string) {
	e.hub.BroadcastEvent(ctx, event.TypeItemStart, event.ItemEvent{
		RunID: e.runID, Identifier: item.Identifier, Branch: branch,
	})
}

func (e *PhaseExecutor) emitItemError(ctx context.Context, item plan.ExecutionItem, branch, msg string) {
	e.hub.BroadcastEvent(ctx, event.TypeItemError, event.ItemEvent{
		RunID: e.runID, Identifier: item.Identifier, Branch: branch, Error: msg,
	})
}

func workType(t plan.ItemType) tracker.WorkType {
	if t == plan.ItemTypeTask {
		return tracker.WorkTask
	}
	return tracker.WorkFeature
}

func sessionStartType(t plan.ItemType) event.SessionEventType {
	if t == plan.ItemTypeTask {
		return event.TaskStarted
	}
	return event.FeatureStarted
}

func sessionCompleteType(t plan.ItemType) event.SessionEventType {
	if t == plan.ItemTypeTask {
		return event.TaskCompleted
	}
	return event.FeatureCompleted
}

func taskSummary(feature string, completed []string, total int) string {
	return fmt.Sprintf("%s: %d/%d tasks completed (%s)", feature, len(completed), total, joinOrNone(completed))
}

func joinOrNone(ids []string) string {
	if len(ids) == 0 {
		return "none"
	}
	out := ids[0]
	for _, id := range ids[1:] {
		out += ", " + id
	}
	return out
}

func indexOf(items []plan.ExecutionItem, identifier string) int {
	for i, item := range items {
		if item.Identifier == identifier {
			return i
		}
	}
	return -1
}
