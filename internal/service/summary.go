package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/forgeline/foreman/internal/domain/result"
)

// BuildRunSummary renders the natural-language handoff for a finished run:
// what got done, what failed, how long it took, and what to do next.
func BuildRunSummary(res *result.RunResult) string {
	var b strings.Builder

	if res.Success {
		fmt.Fprintf(&b, "Run for epic %s completed successfully in %s.\n", res.EpicID, res.Duration.Round(fmtPrecision(res)))
	} else {
		fmt.Fprintf(&b, "Run for epic %s stopped after %s.\n", res.EpicID, res.Duration.Round(fmtPrecision(res)))
	}

	if len(res.CompletedItems) > 0 {
		fmt.Fprintf(&b, "Completed: %s.\n", strings.Join(res.CompletedItems, ", "))
	} else {
		b.WriteString("Completed: none.\n")
	}
	if len(res.FailedItems) > 0 {
		fmt.Fprintf(&b, "Failed: %s.\n", strings.Join(res.FailedItems, ", "))
	}

	for _, pr := range res.Phases {
		for _, ir := range pr.Items {
			if len(ir.CompletedTasks) > 0 {
				fmt.Fprintf(&b, "%s tasks completed: %s.\n", ir.Identifier, strings.Join(ir.CompletedTasks, ", "))
			}
		}
	}

	if res.MergeConflict != nil {
		mc := res.MergeConflict
		fmt.Fprintf(&b, "Merge conflict: %s into %s", mc.SourceBranch, mc.TargetBranch)
		if len(mc.ConflictingFiles) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(mc.ConflictingFiles, ", "))
		}
		b.WriteString(".\n")
		if mc.Guidance != "" {
			b.WriteString(mc.Guidance)
			if !strings.HasSuffix(mc.Guidance, "\n") {
				b.WriteString("\n")
			}
		}
	} else if res.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", res.Error)
	}

	switch {
	case res.MergeConflict != nil:
		fmt.Fprintf(&b, "Next: resolve the conflict, then resume with --from %s.\n", firstFailedOrConflicted(res))
	case len(res.FailedItems) > 0:
		fmt.Fprintf(&b, "Next: inspect the failure, then resume with --from %s.\n", res.FailedItems[0])
	case res.Success:
		b.WriteString("Next: nothing pending, the epic is ready for review.\n")
	}

	return b.String()
}

// fmtPrecision picks a rounding unit so sub-second runs don't render as 0s.
func fmtPrecision(res *result.RunResult) time.Duration {
	if res.Duration < time.Second {
		return time.Millisecond
	}
	return time.Second
}

// firstFailedOrConflicted picks the resume point after a conflict: the item
// whose branch conflicted.
func firstFailedOrConflicted(res *result.RunResult) string {
	if res.MergeConflict != nil {
		for _, pr := range res.Phases {
			for _, ir := range pr.Items {
				if ir.Branch == res.MergeConflict.SourceBranch {
					return ir.Identifier
				}
			}
		}
	}
	if len(res.FailedItems) > 0 {
		return res.FailedItems[0]
	}
	return res.EpicID
}
