package gitops

import (
	"context"
	"fmt"
	"strings"

	"github.com/forgeline/foreman/internal/domain/orch"
	"github.com/forgeline/foreman/internal/git"
)

// MergeConflictError reports a textual merge conflict with file-level
// detail. It is terminal for the current run but resumable by the caller
// after manual resolution.
type MergeConflictError struct {
	SourceBranch     string
	TargetBranch     string
	ConflictingFiles []string
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("merge conflict: %s -> %s (%d files)",
		e.SourceBranch, e.TargetBranch, len(e.ConflictingFiles))
}

// MergeCoordinator merges completed work branches into a target branch.
type MergeCoordinator struct {
	repo string
	pool *git.Pool
}

// NewMergeCoordinator creates a MergeCoordinator for the repository at repo.
func NewMergeCoordinator(repo string, pool *git.Pool) *MergeCoordinator {
	return &MergeCoordinator{repo: repo, pool: pool}
}

// MergeBranch merges source into target with the given commit message.
// On textual conflict the merge is aborted — the working tree is never
// left conflicted — and a *MergeConflictError is returned.
func (m *MergeCoordinator) MergeBranch(ctx context.Context, source, target, message string) error {
	return m.pool.Run(ctx, func() error {
		if _, err := runGit(ctx, m.repo, "checkout", target); err != nil {
			return orch.WrapError(orch.CodeGitOperationFailed, fmt.Sprintf("checkout %s", target), err)
		}

		if message == "" {
			message = fmt.Sprintf("Merge branch '%s' into %s", source, target)
		}

		_, err := runGit(ctx, m.repo, "merge", "--no-ff", "-m", message, source)
		if err == nil {
			return nil
		}

		files, filesErr := m.conflictingFiles(ctx)
		if filesErr == nil && len(files) > 0 {
			if _, abortErr := runGit(ctx, m.repo, "merge", "--abort"); abortErr != nil {
				return orch.WrapError(orch.CodeGitOperationFailed, "abort conflicted merge", abortErr)
			}
			return &MergeConflictError{
				SourceBranch:     source,
				TargetBranch:     target,
				ConflictingFiles: files,
			}
		}

		// Not a conflict: surface the original merge failure.
		return orch.WrapError(orch.CodeGitOperationFailed, fmt.Sprintf("merge %s into %s", source, target), err)
	})
}

// conflictingFiles lists unmerged paths in the working tree.
func (m *MergeCoordinator) conflictingFiles(ctx context.Context) ([]string, error) {
	out, err := runGit(ctx, m.repo, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// ConflictGuidance produces an actionable resolution message for a human
// or a future automated resolver. Purely presentational.
func ConflictGuidance(source, target string, files []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Merge conflict merging %s into %s.\n\n", source, target)
	b.WriteString("Conflicting files:\n")
	for _, f := range files {
		fmt.Fprintf(&b, "  - %s\n", f)
	}
	b.WriteString("\nTo resolve manually:\n")
	fmt.Fprintf(&b, "  1. git checkout %s\n", target)
	fmt.Fprintf(&b, "  2. git merge %s\n", source)
	b.WriteString("  3. Edit the conflicting files and remove conflict markers\n")
	b.WriteString("  4. git add <resolved files> && git commit\n")
	fmt.Fprintf(&b, "  5. Re-run with --from to resume after %s\n", source)
	return b.String()
}
