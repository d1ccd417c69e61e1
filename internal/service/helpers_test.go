package service_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/forgeline/foreman/internal/config"
	"github.com/forgeline/foreman/internal/domain/event"
	"github.com/forgeline/foreman/internal/domain/plan"
	"github.com/forgeline/foreman/internal/port/messagequeue"
	"github.com/forgeline/foreman/internal/port/tracker"
)

// initTestRepo creates a git repository with one initial commit on main.
func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	cmds := [][]string{
		{"git", "init", "-b", "main"},
		{"git", "config", "user.email", "test@test.com"},
		{"git", "config", "user.name", "Test"},
	}
	for _, args := range cmds {
		cmd := exec.Command(args[0], args[1:]...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git setup %v: %s: %v", args, out, err)
		}
	}

	writeFile(t, dir, "initial.txt", "initial")
	gitRun(t, dir, "add", "-A")
	gitRun(t, dir, "commit", "-m", "initial commit")

	return dir
}

func gitRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %s: %v", args, out, err)
	}
	return strings.TrimSpace(string(out))
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// testOrchCfg returns orchestrator defaults sized for fast tests.
func testOrchCfg() config.Orchestrator {
	return config.Orchestrator{
		MaxAgents:          4,
		TaskAgentTimeout:   5 * time.Second,
		DirectAgentTimeout: 5 * time.Second,
		TaskLevelAgents:    true,
	}
}

// fakeTracker is an in-memory tracker.Client that records every call.
type fakeTracker struct {
	mu    sync.Mutex
	plan  *plan.ExecutionPlan
	tasks map[string][]plan.Task
	calls []string

	planErr    error
	tasksErr   error
	sessionErr error
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{tasks: make(map[string][]plan.Task)}
}

func (f *fakeTracker) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

// callsMatching returns recorded calls containing substr, in order.
func (f *fakeTracker) callsMatching(substr string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if strings.Contains(c, substr) {
			out = append(out, c)
		}
	}
	return out
}

// callIndex returns the position of the first call containing substr, or -1.
func (f *fakeTracker) callIndex(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.calls {
		if strings.Contains(c, substr) {
			return i
		}
	}
	return -1
}

func (f *fakeTracker) GetExecutionPlan(_ context.Context, epicID string) (*plan.ExecutionPlan, error) {
	f.record("GetExecutionPlan %s", epicID)
	if f.planErr != nil {
		return nil, f.planErr
	}
	return f.plan, nil
}

func (f *fakeTracker) StartSession(_ context.Context, epicID, externalID string) (*tracker.SessionStart, error) {
	f.record("StartSession %s %s", epicID, externalID)
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	return &tracker.SessionStart{Session: tracker.Session{ID: "sess-1", EpicID: epicID}}, nil
}

func (f *fakeTracker) EndSession(_ context.Context, epicID, handoff string) error {
	f.record("EndSession %s", epicID)
	return nil
}

func (f *fakeTracker) StartWork(_ context.Context, wt tracker.WorkType, id string, _ tracker.WorkUpdate) error {
	f.record("StartWork %s %s", wt, id)
	return nil
}

func (f *fakeTracker) CompleteWork(_ context.Context, wt tracker.WorkType, id string, _ tracker.WorkUpdate) error {
	f.record("CompleteWork %s %s", wt, id)
	return nil
}

func (f *fakeTracker) LinkBranch(_ context.Context, wt tracker.WorkType, id, branch string) error {
	f.record("LinkBranch %s %s %s", wt, id, branch)
	return nil
}

func (f *fakeTracker) LinkCommit(_ context.Context, wt tracker.WorkType, id, hash string) error {
	f.record("LinkCommit %s %s", wt, id)
	return nil
}

func (f *fakeTracker) ListTasks(_ context.Context, featureID string) ([]plan.Task, error) {
	f.record("ListTasks %s", featureID)
	if f.tasksErr != nil {
		return nil, f.tasksErr
	}
	return f.tasks[featureID], nil
}

func (f *fakeTracker) GetFeature(_ context.Context, id string) (*tracker.FeatureDetail, error) {
	f.record("GetFeature %s", id)
	return &tracker.FeatureDetail{ID: id}, nil
}

func (f *fakeTracker) GetTask(_ context.Context, id string) (*plan.Task, error) {
	f.record("GetTask %s", id)
	return &plan.Task{ID: id}, nil
}

func (f *fakeTracker) EmitSessionEvent(_ context.Context, ev event.SessionEvent) error {
	f.record("EmitSessionEvent %s %s", ev.Type, ev.ItemID)
	return nil
}

// recordHub is a broadcast.Broadcaster that counts events by type.
type recordHub struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	Type    event.Type
	Payload any
}

func (h *recordHub) BroadcastEvent(_ context.Context, t event.Type, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, recordedEvent{Type: t, Payload: payload})
}

func (h *recordHub) count(t event.Type) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// fakeQueue is a messagequeue.Queue that records publishes by subject.
type fakeQueue struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{published: map[string][][]byte{}}
}

func (q *fakeQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published[subject] = append(q.published[subject], data)
	return nil
}

func (q *fakeQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *fakeQueue) Close() error { return nil }

func (q *fakeQueue) count(subject string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.published[subject])
}

// taskItem builds a task-typed execution item for tests.
func testItem(identifier, title string) plan.ExecutionItem {
	return plan.ExecutionItem{
		ID:         "id-" + identifier,
		Identifier: identifier,
		Type:       plan.ItemTypeTask,
		Title:      title,
		EpicID:     "epic-1",
	}
}

func featureItem(identifier, title string) plan.ExecutionItem {
	it := testItem(identifier, title)
	it.Type = plan.ItemTypeFeature
	return it
}
