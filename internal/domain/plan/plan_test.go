package plan

import (
	"reflect"
	"testing"
)

func TestSortTasks(t *testing.T) {
	tasks := []Task{
		{Identifier: "COM-3", ExecutionOrder: 2},
		{Identifier: "COM-1", ExecutionOrder: 1},
		{Identifier: "COM-4", ExecutionOrder: 2},
		{Identifier: "COM-2", ExecutionOrder: 1},
	}
	SortTasks(tasks)

	got := make([]string, len(tasks))
	for i, task := range tasks {
		got[i] = task.Identifier
	}
	want := []string{"COM-1", "COM-2", "COM-3", "COM-4"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestFoldTaskGroups(t *testing.T) {
	tasks := []Task{
		{Identifier: "T-1", ParallelGroup: "g1"},
		{Identifier: "T-2", ParallelGroup: "g1"},
		{Identifier: "T-3"},
		{Identifier: "T-4", ParallelGroup: "g2"},
		{Identifier: "T-5", ParallelGroup: "g1"}, // non-consecutive g1 starts a new group
	}

	groups := FoldTaskGroups(tasks)
	if len(groups) != 4 {
		t.Fatalf("expected 4 groups, got %d", len(groups))
	}
	if groups[0].Group != "g1" || len(groups[0].Tasks) != 2 {
		t.Errorf("group 0 = %+v", groups[0])
	}
	if groups[1].Group != "" || len(groups[1].Tasks) != 1 {
		t.Errorf("group 1 = %+v", groups[1])
	}
	if groups[2].Group != "g2" || len(groups[2].Tasks) != 1 {
		t.Errorf("group 2 = %+v", groups[2])
	}
	if groups[3].Group != "g1" || groups[3].Tasks[0].Identifier != "T-5" {
		t.Errorf("group 3 = %+v", groups[3])
	}
}

func TestFoldTaskGroupsEmpty(t *testing.T) {
	if groups := FoldTaskGroups(nil); len(groups) != 0 {
		t.Errorf("expected no groups, got %d", len(groups))
	}
}

func testPlan() *ExecutionPlan {
	return &ExecutionPlan{
		EpicID: "epic-1",
		Phases: []ExecutionPhase{
			{Order: 1, Items: []ExecutionItem{{Identifier: "COM-1"}, {Identifier: "COM-2"}}},
			{Order: 2, Items: []ExecutionItem{{Identifier: "COM-3"}}},
		},
	}
}

func TestTruncateFrom(t *testing.T) {
	p := testPlan()
	if !p.TruncateFrom("COM-2") {
		t.Fatal("expected COM-2 to be found")
	}
	if len(p.Phases) != 2 {
		t.Fatalf("expected 2 phases, got %d", len(p.Phases))
	}
	if len(p.Phases[0].Items) != 1 || p.Phases[0].Items[0].Identifier != "COM-2" {
		t.Errorf("first phase should start at COM-2, got %+v", p.Phases[0].Items)
	}
}

func TestTruncateFromLaterPhase(t *testing.T) {
	p := testPlan()
	if !p.TruncateFrom("COM-3") {
		t.Fatal("expected COM-3 to be found")
	}
	if len(p.Phases) != 1 || p.Phases[0].Order != 2 {
		t.Errorf("expected only phase 2, got %+v", p.Phases)
	}
}

func TestTruncateFromUnknown(t *testing.T) {
	p := testPlan()
	if p.TruncateFrom("COM-99") {
		t.Error("expected unknown identifier to return false")
	}
	if len(p.Phases) != 2 {
		t.Error("plan should be unchanged")
	}
}
