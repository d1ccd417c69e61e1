package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/forgeline/foreman/internal/adapter/otel"
	"github.com/forgeline/foreman/internal/config"
	"github.com/forgeline/foreman/internal/domain/event"
	"github.com/forgeline/foreman/internal/domain/orch"
	"github.com/forgeline/foreman/internal/domain/result"
	"github.com/forgeline/foreman/internal/gitops"
	"github.com/forgeline/foreman/internal/port/broadcast"
	"github.com/forgeline/foreman/internal/port/messagequeue"
	"github.com/forgeline/foreman/internal/port/runstore"
	"github.com/forgeline/foreman/internal/port/session"
	"github.com/forgeline/foreman/internal/port/tracker"
)

// RunOptions tune one orchestrator run.
type RunOptions struct {
	// Sequential overrides every phase's parallel flag. A blanket policy
	// switch, not a per-item override.
	Sequential bool

	// FromItem resumes the plan at the given item identifier: earlier
	// phases are dropped and the matching phase is truncated.
	FromItem string

	// SessionID resumes an external tracking session.
	SessionID string

	// BaseBranch overrides the repository's default branch as merge target.
	BaseBranch string

	// TaskLevelAgents overrides the configured feature decomposition
	// setting when non-nil.
	TaskLevelAgents *bool
}

// Orchestrator is the top-level control loop: it loads the execution plan,
// runs phases through a PhaseExecutor, merges parallel-phase branches, and
// closes the tracking session with a built summary.
type Orchestrator struct {
	trk         tracker.Client
	provider    session.Provider
	branches    *gitops.BranchManager
	merger      *gitops.MergeCoordinator
	checkpoints *gitops.CheckpointManager
	hub         broadcast.Broadcaster
	orchCfg     config.Orchestrator
	agentCfg    config.Agent
	workDir     string

	// Optional collaborators; nil disables them.
	store   runstore.Store
	queue   messagequeue.Queue
	metrics *otel.Metrics
}

// NewOrchestrator wires an Orchestrator over the given collaborators.
func NewOrchestrator(
	trk tracker.Client,
	provider session.Provider,
	branches *gitops.BranchManager,
	merger *gitops.MergeCoordinator,
	checkpoints *gitops.CheckpointManager,
	hub broadcast.Broadcaster,
	orchCfg config.Orchestrator,
	agentCfg config.Agent,
	workDir string,
) *Orchestrator {
	if hub == nil {
		hub = broadcast.Noop{}
	}
	return &Orchestrator{
		trk:         trk,
		provider:    provider,
		branches:    branches,
		merger:      merger,
		checkpoints: checkpoints,
		hub:         hub,
		orchCfg:     orchCfg,
		agentCfg:    agentCfg,
		workDir:     workDir,
	}
}

// SetRunStore attaches an optional run-history store.
func (o *Orchestrator) SetRunStore(s runstore.Store) { o.store = s }

// SetQueue attaches an optional telemetry message queue.
func (o *Orchestrator) SetQueue(q messagequeue.Queue) { o.queue = q }

// SetMetrics attaches optional metric instruments.
func (o *Orchestrator) SetMetrics(m *otel.Metrics) { o.metrics = m }

// Run executes the epic's plan to completion. Execution failures and merge
// conflicts are reported as data on the RunResult; an error return means
// the run could not start at all.
func (o *Orchestrator) Run(ctx context.Context, epicID string, opts RunOptions) (*result.RunResult, error) {
	runID := uuid.NewString()
	started := time.Now()

	ctx, span := otel.StartRunSpan(ctx, runID, epicID)
	defer span.End()

	p, err := o.trk.GetExecutionPlan(ctx, epicID)
	if err != nil {
		return nil, orch.WrapError(orch.CodePlanNotFound, fmt.Sprintf("load plan for epic %s", epicID), err)
	}
	if len(p.Phases) == 0 {
		return nil, orch.NewError(orch.CodePlanNotFound,
			fmt.Sprintf("epic %s has no executable phases", epicID),
			"generate an execution plan first")
	}

	if opts.FromItem != "" {
		if !p.TruncateFrom(opts.FromItem) {
			return nil, orch.NewError(orch.CodeItemNotFound,
				fmt.Sprintf("item %s is not in the plan for epic %s", opts.FromItem, epicID),
				"check the item identifier")
		}
		slog.Info("resuming plan from item", "epic_id", epicID, "item", opts.FromItem)
	}

	if opts.Sequential {
		for i := range p.Phases {
			p.Phases[i].Parallel = false
		}
	}

	baseBranch := opts.BaseBranch
	if baseBranch == "" {
		baseBranch, err = o.branches.DefaultBranch(ctx)
		if err != nil {
			return nil, err
		}
	}

	taskLevel := o.orchCfg.TaskLevelAgents
	if opts.TaskLevelAgents != nil {
		taskLevel = *opts.TaskLevelAgents
	}

	sessionID := o.startSession(ctx, epicID, opts.SessionID)

	pool := NewAgentPool(o.provider, o.hub, o.orchCfg, o.agentCfg, runID, o.workDir)
	pool.SetMetrics(o.metrics)
	pool.SetQueue(o.queue)
	defer pool.TerminateAll()

	executor := NewPhaseExecutor(o.trk, o.branches, pool, o.hub, taskLevel, runID, sessionID, baseBranch)
	executor.SetQueue(o.queue)

	if o.metrics != nil {
		o.metrics.RunsStarted.Add(ctx, 1)
	}
	slog.Info("run started",
		"run_id", runID, "epic_id", epicID, "phases", len(p.Phases),
		"base_branch", baseBranch, "sequential", opts.Sequential)

	res := &result.RunResult{EpicID: epicID, SessionID: sessionID}

	for _, phase := range p.Phases {
		o.hub.BroadcastEvent(ctx, event.TypePhaseStart, event.PhaseEvent{
			RunID: runID, Order: phase.Order, Parallel: phase.Parallel, Items: len(phase.Items),
		})
		o.emitSession(ctx, event.PhaseStarted, epicID, sessionID, fmt.Sprintf("phase %d", phase.Order))

		phaseCtx, phaseSpan := otel.StartPhaseSpan(ctx, phase.Order, phase.Parallel, len(phase.Items))
		pr := executor.ExecutePhase(phaseCtx, phase)
		phaseSpan.End()

		res.Phases = append(res.Phases, pr)
		res.CompletedItems = append(res.CompletedItems, pr.CompletedItems...)
		res.FailedItems = append(res.FailedItems, pr.FailedItems...)

		o.hub.BroadcastEvent(ctx, event.TypePhaseComplete, event.PhaseEvent{
			RunID: runID, Order: phase.Order, Parallel: phase.Parallel, Items: len(phase.Items), Success: pr.Success,
		})
		o.emitSession(ctx, event.PhaseCompleted, epicID, sessionID, fmt.Sprintf("phase %d", phase.Order))

		if !pr.Success {
			// A failed phase halts the run before any merging.
			res.Error = fmt.Sprintf("phase %d failed: %s", phase.Order, joinOrNone(pr.FailedItems))
			slog.Warn("phase failed, halting run", "run_id", runID, "phase", phase.Order, "failed", pr.FailedItems)
			break
		}

		if pr.Parallel {
			if conflict := o.mergePhase(ctx, runID, baseBranch, pr); conflict != nil {
				res.MergeConflict = conflict
				res.Error = fmt.Sprintf("merge conflict on %s", conflict.SourceBranch)
				break
			}
		}
	}

	res.Success = res.Error == "" && res.MergeConflict == nil && len(res.FailedItems) == 0
	res.Duration = time.Since(started)
	res.Summary = BuildRunSummary(res)

	if res.Success {
		o.cleanupCheckpoints(ctx, res)
	}

	o.endSession(ctx, epicID, sessionID, res.Summary)
	o.persistRun(ctx, runID, started, res)
	o.publishRun(ctx, runID, res)

	if o.metrics != nil {
		if res.Success {
			o.metrics.RunsCompleted.Add(ctx, 1)
		} else {
			o.metrics.RunsFailed.Add(ctx, 1)
		}
		o.metrics.RunDuration.Record(ctx, res.Duration.Seconds())
	}
	slog.Info("run finished",
		"run_id", runID, "epic_id", epicID, "success", res.Success,
		"completed", len(res.CompletedItems), "failed", len(res.FailedItems),
		"duration", res.Duration)

	return res, nil
}

// mergePhase merges every successful branch of a parallel phase into the
// base branch, in phase input order. Merging is strictly sequential; the
// first conflict halts the loop and later merges stay unattempted so a
// human resolves one conflict at a time.
func (o *Orchestrator) mergePhase(ctx context.Context, runID, baseBranch string, pr result.PhaseResult) *result.MergeConflict {
	for _, ir := range pr.Items {
		if !ir.Success || ir.Branch == "" || ir.Branch == baseBranch {
			continue
		}

		o.hub.BroadcastEvent(ctx, event.TypeMergeStart, event.MergeEvent{
			RunID: runID, SourceBranch: ir.Branch, TargetBranch: baseBranch,
		})

		if _, err := o.checkpoints.CreateCheckpoint(ctx, ir.Identifier); err != nil {
			slog.Warn("checkpoint before merge failed", "item", ir.Identifier, "error", err)
		}

		mergeCtx, mergeSpan := otel.StartMergeSpan(ctx, ir.Branch, baseBranch)
		err := o.merger.MergeBranch(mergeCtx, ir.Branch, baseBranch,
			fmt.Sprintf("Merge %s (%s)", ir.Branch, ir.Identifier))
		mergeSpan.End()

		if o.metrics != nil {
			o.metrics.Merges.Add(ctx, 1)
		}

		if err != nil {
			var mc *gitops.MergeConflictError
			if errors.As(err, &mc) {
				if o.metrics != nil {
					o.metrics.MergeConflicts.Add(ctx, 1)
				}
				o.hub.BroadcastEvent(ctx, event.TypeMergeConflict, event.MergeEvent{
					RunID: runID, SourceBranch: mc.SourceBranch, TargetBranch: mc.TargetBranch,
					ConflictingFiles: mc.ConflictingFiles,
				})
				slog.Warn("merge conflict, halting run",
					"run_id", runID, "source", mc.SourceBranch, "target", mc.TargetBranch,
					"files", len(mc.ConflictingFiles))
				return &result.MergeConflict{
					SourceBranch:     mc.SourceBranch,
					TargetBranch:     mc.TargetBranch,
					ConflictingFiles: mc.ConflictingFiles,
					Guidance:         gitops.ConflictGuidance(mc.SourceBranch, mc.TargetBranch, mc.ConflictingFiles),
				}
			}
			// Non-conflict merge failure: surface it the same way so the
			// run halts cleanly rather than merging on a broken tree.
			slog.Error("merge failed", "run_id", runID, "source", ir.Branch, "error", err)
			return &result.MergeConflict{
				SourceBranch: ir.Branch,
				TargetBranch: baseBranch,
				Guidance:     err.Error(),
			}
		}

		o.hub.BroadcastEvent(ctx, event.TypeMergeComplete, event.MergeEvent{
			RunID: runID, SourceBranch: ir.Branch, TargetBranch: baseBranch,
		})
	}
	return nil
}

// startSession opens the tracking session. Failures are non-fatal: the run
// proceeds without external session bookkeeping.
func (o *Orchestrator) startSession(ctx context.Context, epicID, externalID string) string {
	start, err := o.trk.StartSession(ctx, epicID, externalID)
	if err != nil {
		slog.Warn("start tracking session failed", "epic_id", epicID, "error", err)
		return ""
	}
	o.emitSession(ctx, event.SessionStarted, epicID, start.Session.ID, "")
	return start.Session.ID
}

// endSession always attempts to close the tracking session so external
// state stays consistent; close failures are swallowed.
func (o *Orchestrator) endSession(ctx context.Context, epicID, sessionID, handoff string) {
	if sessionID == "" {
		return
	}
	o.emitSession(ctx, event.SessionEnded, epicID, sessionID, "")
	if err := o.trk.EndSession(ctx, epicID, handoff); err != nil {
		slog.Warn("end tracking session failed", "epic_id", epicID, "error", err)
	}
}

func (o *Orchestrator) emitSession(ctx context.Context, t event.SessionEventType, epicID, sessionID, detail string) {
	ev := event.SessionEvent{
		Type:      t,
		EpicID:    epicID,
		SessionID: sessionID,
		Detail:    detail,
		At:        time.Now(),
	}
	if err := o.trk.EmitSessionEvent(ctx, ev); err != nil {
		slog.Warn("emit session event failed", "type", t, "error", err)
	}
	mirrorSession(ctx, o.queue, ev)
}

// mirrorSession publishes a session event to the telemetry queue,
// fire-and-forget. A nil queue disables mirroring.
func mirrorSession(ctx context.Context, q messagequeue.Queue, ev event.SessionEvent) {
	if q == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := q.Publish(ctx, messagequeue.SubjectSessionEvents, data); err != nil {
		slog.Debug("publish session event failed", "type", ev.Type, "error", err)
	}
}

// cleanupCheckpoints removes the recovery tags of every completed item
// after a fully successful run.
func (o *Orchestrator) cleanupCheckpoints(ctx context.Context, res *result.RunResult) {
	for _, id := range res.CompletedItems {
		if _, err := o.checkpoints.CleanupCheckpoints(ctx, id); err != nil {
			slog.Warn("checkpoint cleanup failed", "item", id, "error", err)
		}
	}
}

// persistRun saves the run record when a store is attached. Bookkeeping
// only; failures are logged.
func (o *Orchestrator) persistRun(ctx context.Context, runID string, started time.Time, res *result.RunResult) {
	if o.store == nil {
		return
	}
	err := o.store.SaveRun(ctx, &runstore.RunRecord{
		ID:         runID,
		EpicID:     res.EpicID,
		SessionID:  res.SessionID,
		Result:     *res,
		StartedAt:  started,
		FinishedAt: time.Now(),
	})
	if err != nil {
		slog.Warn("persist run failed", "run_id", runID, "error", err)
	}
}

// publishRun pushes the finished run onto the telemetry queue.
func (o *Orchestrator) publishRun(ctx context.Context, runID string, res *result.RunResult) {
	if o.queue == nil {
		return
	}
	payload, err := json.Marshal(struct {
		RunID  string           `json:"run_id"`
		Result result.RunResult `json:"result"`
	}{RunID: runID, Result: *res})
	if err != nil {
		slog.Warn("marshal run payload failed", "run_id", runID, "error", err)
		return
	}
	if err := o.queue.Publish(ctx, messagequeue.SubjectRunEvents, payload); err != nil {
		slog.Warn("publish run failed", "run_id", runID, "error", err)
	}
}
