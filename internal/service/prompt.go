package service

import (
	"fmt"
	"strings"

	"github.com/forgeline/foreman/internal/domain/plan"
)

// BuildSystemPrompt builds the role-specific system prompt an agent session
// is seeded with for one work item.
func BuildSystemPrompt(item plan.ExecutionItem) string {
	var b strings.Builder
	b.WriteString("You are an autonomous software engineer working on a single, well-scoped ")
	b.WriteString(string(item.Type))
	b.WriteString(".\n\n")
	fmt.Fprintf(&b, "Work item: %s — %s\n", item.Identifier, item.Title)
	if item.Description != "" {
		fmt.Fprintf(&b, "Description:\n%s\n", item.Description)
	}
	b.WriteString("\nRules:\n")
	b.WriteString("- Stay on the branch you were given; never switch branches or touch other items.\n")
	b.WriteString("- Commit your work with clear messages as you go.\n")
	b.WriteString("- When done, reply with a short summary of what you changed.\n")
	return b.String()
}

// BuildItemPrompt builds the initial work prompt for an item-level agent.
func BuildItemPrompt(item plan.ExecutionItem, branch string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Implement %s: %s.\n", item.Identifier, item.Title)
	if item.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", item.Description)
	}
	fmt.Fprintf(&b, "\nYou are on branch %s. Begin now.", branch)
	return b.String()
}

// BuildTaskPrompt builds the initial work prompt for a task-level agent
// spawned during feature decomposition.
func BuildTaskPrompt(task plan.Task, feature plan.ExecutionItem, branch string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Implement task %s: %s.\n", task.Identifier, task.Title)
	fmt.Fprintf(&b, "This task is part of feature %s (%s).\n", feature.Identifier, feature.Title)
	if task.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", task.Description)
	}
	fmt.Fprintf(&b, "\nYou are on branch %s. Begin now.", branch)
	return b.String()
}

// taskItem converts a task into an item snapshot so task-level agents reuse
// the item-scoped session plumbing.
func taskItem(t plan.Task, feature plan.ExecutionItem) plan.ExecutionItem {
	return plan.ExecutionItem{
		ID:             t.ID,
		Identifier:     t.Identifier,
		Type:           plan.ItemTypeTask,
		Title:          t.Title,
		Description:    t.Description,
		EpicID:         feature.EpicID,
		StatusID:       t.StatusID,
		Dependencies:   t.Dependencies,
		CanParallelize: t.CanParallelize,
		ParallelGroup:  t.ParallelGroup,
	}
}
