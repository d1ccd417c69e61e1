// Package plan defines the execution-plan domain: the dependency-ordered
// grouping of work items the engine consumes for one epic.
package plan

import "sort"

// ItemType distinguishes the two executable work-item kinds.
type ItemType string

const (
	ItemTypeFeature ItemType = "feature"
	ItemTypeTask    ItemType = "task"
)

// ExecutionPlan is the ordered list of phases for one epic. It is loaded
// once per run and never mutated by the engine.
type ExecutionPlan struct {
	EpicID string           `json:"epic_id"`
	Phases []ExecutionPhase `json:"phases"`
}

// ExecutionPhase is a closed set of items that either may run in parallel
// or must run strictly in list order.
type ExecutionPhase struct {
	Order    int             `json:"order"`
	Items    []ExecutionItem `json:"items"`
	Parallel bool            `json:"can_run_in_parallel"`
}

// ExecutionItem is a read-only snapshot of a work item inside a phase.
type ExecutionItem struct {
	ID                  string   `json:"id"`
	Identifier          string   `json:"identifier"` // human-readable, e.g. "COM-5"
	Type                ItemType `json:"type"`
	Title               string   `json:"title"`
	Description         string   `json:"description"`
	EpicID              string   `json:"epic_id"`
	StatusID            string   `json:"status_id,omitempty"`
	Dependencies        []string `json:"dependencies,omitempty"`
	CanParallelize      bool     `json:"can_parallelize"`
	ParallelGroup       string   `json:"parallel_group,omitempty"`
	EstimatedComplexity int      `json:"estimated_complexity,omitempty"`
}

// Task is a feature sub-item fetched on demand for feature decomposition.
type Task struct {
	ID             string   `json:"id"`
	Identifier     string   `json:"identifier"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	FeatureID      string   `json:"feature_id"`
	StatusID       string   `json:"status_id,omitempty"`
	ExecutionOrder int      `json:"execution_order"`
	CanParallelize bool     `json:"can_parallelize"`
	ParallelGroup  string   `json:"parallel_group,omitempty"`
	Dependencies   []string `json:"dependencies,omitempty"`
}

// TaskGroup is a run of consecutive tasks sharing a parallel group, or a
// single ungrouped task. Groups execute concurrently; solo tasks alone.
type TaskGroup struct {
	Group string `json:"group,omitempty"` // empty for solo tasks
	Tasks []Task `json:"tasks"`
}

// SortTasks orders tasks by ExecutionOrder with Identifier as the
// secondary key, so ties resolve deterministically.
func SortTasks(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].ExecutionOrder != tasks[j].ExecutionOrder {
			return tasks[i].ExecutionOrder < tasks[j].ExecutionOrder
		}
		return tasks[i].Identifier < tasks[j].Identifier
	})
}

// FoldTaskGroups folds an ordered task list into execution units: runs of
// consecutive tasks with the same non-empty ParallelGroup become one
// concurrent group; every other task becomes a solo unit that blocks the
// units after it.
func FoldTaskGroups(tasks []Task) []TaskGroup {
	var groups []TaskGroup
	for _, t := range tasks {
		n := len(groups)
		if t.ParallelGroup != "" && n > 0 && groups[n-1].Group == t.ParallelGroup {
			groups[n-1].Tasks = append(groups[n-1].Tasks, t)
			continue
		}
		groups = append(groups, TaskGroup{Group: t.ParallelGroup, Tasks: []Task{t}})
	}
	return groups
}

// FindItem locates an item by identifier across all phases. It returns the
// phase index and item index, or (-1, -1) when absent.
func (p *ExecutionPlan) FindItem(identifier string) (phaseIdx, itemIdx int) {
	for pi, phase := range p.Phases {
		for ii, item := range phase.Items {
			if item.Identifier == identifier {
				return pi, ii
			}
		}
	}
	return -1, -1
}

// TruncateFrom drops phases before the one containing identifier and trims
// that phase to start at the item, enabling resume without replanning.
// Returns false when the identifier is not in the plan.
func (p *ExecutionPlan) TruncateFrom(identifier string) bool {
	pi, ii := p.FindItem(identifier)
	if pi < 0 {
		return false
	}
	phases := p.Phases[pi:]
	trimmed := phases[0]
	trimmed.Items = trimmed.Items[ii:]
	out := make([]ExecutionPhase, 0, len(phases))
	out = append(out, trimmed)
	out = append(out, phases[1:]...)
	p.Phases = out
	return true
}
