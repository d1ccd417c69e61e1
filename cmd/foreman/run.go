package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/forgeline/foreman/internal/domain/result"
	"github.com/forgeline/foreman/internal/service"
)

// runEpic executes one epic's plan in the foreground and prints the run
// summary. Exit status reflects the run outcome.
func runEpic(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	sequential := fs.Bool("sequential", false, "force sequential execution for every phase")
	fromItem := fs.String("from", "", "resume from this item identifier, skipping earlier work")
	sessionID := fs.String("session", "", "attach to an existing tracker session instead of starting one")
	baseBranch := fs.String("base-branch", "", "merge target branch (default: repository default branch)")
	taskAgents := fs.Bool("task-agents", true, "decompose features into per-task agents")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("run: exactly one epic identifier required")
	}
	epicID := fs.Arg(0)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d, err := buildDeps(ctx)
	if err != nil {
		return err
	}
	defer d.close()

	opts := service.RunOptions{
		Sequential: *sequential,
		FromItem:   *fromItem,
		SessionID:  *sessionID,
		BaseBranch: *baseBranch,
	}
	if visited(fs, "task-agents") {
		opts.TaskLevelAgents = taskAgents
	}

	res, err := d.orch.Run(ctx, epicID, opts)
	if err != nil {
		return fmt.Errorf("run %s: %w", epicID, err)
	}

	fmt.Println(res.Summary)
	// Failure is reported as an error so deferred cleanup (exporter
	// flush, pool close) still runs before the process exits non-zero.
	return runOutcomeErr(epicID, res)
}

// runOutcomeErr maps a finished run to the command's error result.
func runOutcomeErr(epicID string, res *result.RunResult) error {
	if res.Success {
		return nil
	}
	if res.MergeConflict != nil {
		return fmt.Errorf("run %s halted on a merge conflict (%s into %s)",
			epicID, res.MergeConflict.SourceBranch, res.MergeConflict.TargetBranch)
	}
	return fmt.Errorf("run %s completed with failures: %s", epicID, res.Error)
}

// visited reports whether a flag was set explicitly on the command line.
func visited(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
