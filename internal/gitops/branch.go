package gitops

import (
	"context"
	"fmt"
	"strings"

	"github.com/forgeline/foreman/internal/domain/orch"
	"github.com/forgeline/foreman/internal/git"
)

// maxSlugLen caps the title portion of a generated branch name.
const maxSlugLen = 40

// BranchManager creates and resolves work branches for execution items.
type BranchManager struct {
	repo   string
	pool   *git.Pool
	prefix string
}

// NewBranchManager creates a BranchManager for the repository at repo.
// prefix, when non-empty, is prepended to every generated branch name.
func NewBranchManager(repo string, pool *git.Pool, prefix string) *BranchManager {
	return &BranchManager{repo: repo, pool: pool, prefix: prefix}
}

// GenerateBranchName builds a deterministic, collision-resistant branch
// name from an item identifier and title. Pure function of its inputs, so
// re-runs of the same item land on the same branch.
func (m *BranchManager) GenerateBranchName(identifier, title string) string {
	slug := slugify(title)
	name := strings.ToLower(identifier)
	if slug != "" {
		name += "-" + slug
	}
	if m.prefix != "" {
		name = strings.TrimSuffix(m.prefix, "/") + "/" + name
	}
	return name
}

// slugify lowercases s, replaces non-alphanumeric runs with single
// hyphens, and caps the result at maxSlugLen without splitting a word.
func slugify(s string) string {
	var b strings.Builder
	lastHyphen := true // suppress leading hyphen
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	slug := strings.TrimRight(b.String(), "-")
	if len(slug) > maxSlugLen {
		slug = slug[:maxSlugLen]
		if i := strings.LastIndexByte(slug, '-'); i > 0 {
			slug = slug[:i]
		}
	}
	return slug
}

// CreateBranch creates name from base if it does not exist, otherwise
// checks out the existing branch. Existing branch history is never
// overwritten. Fails when base does not exist.
func (m *BranchManager) CreateBranch(ctx context.Context, name, base string) error {
	return m.pool.Run(ctx, func() error {
		if refExists(ctx, m.repo, "refs/heads/"+name) {
			if _, err := runGit(ctx, m.repo, "checkout", name); err != nil {
				return orch.WrapError(orch.CodeGitOperationFailed, fmt.Sprintf("checkout %s", name), err)
			}
			return nil
		}

		if !refExists(ctx, m.repo, "refs/heads/"+base) && !refExists(ctx, m.repo, base) {
			return orch.NewError(orch.CodeGitOperationFailed,
				fmt.Sprintf("base branch %s does not exist", base),
				"verify the base branch name or pass --base-branch")
		}

		if _, err := runGit(ctx, m.repo, "checkout", "-b", name, base); err != nil {
			return orch.WrapError(orch.CodeGitOperationFailed, fmt.Sprintf("create branch %s from %s", name, base), err)
		}
		return nil
	})
}

// DefaultBranch resolves the repository's default branch: the origin HEAD
// when a remote is configured, otherwise main or master, otherwise the
// currently checked-out branch.
func (m *BranchManager) DefaultBranch(ctx context.Context) (string, error) {
	var branch string
	err := m.pool.Run(ctx, func() error {
		if out, err := runGit(ctx, m.repo, "symbolic-ref", "refs/remotes/origin/HEAD"); err == nil {
			branch = strings.TrimPrefix(strings.TrimSpace(out), "refs/remotes/origin/")
			return nil
		}

		for _, candidate := range []string{"main", "master"} {
			if refExists(ctx, m.repo, "refs/heads/"+candidate) {
				branch = candidate
				return nil
			}
		}

		out, err := runGit(ctx, m.repo, "rev-parse", "--abbrev-ref", "HEAD")
		if err != nil {
			return orch.WrapError(orch.CodeGitOperationFailed, "resolve default branch", err)
		}
		branch = strings.TrimSpace(out)
		return nil
	})
	return branch, err
}

// LatestCommitHash returns the commit hash at HEAD, used to cross-link a
// completed item to the exact commit that implements it.
func (m *BranchManager) LatestCommitHash(ctx context.Context) (string, error) {
	var hash string
	err := m.pool.Run(ctx, func() error {
		out, err := runGit(ctx, m.repo, "rev-parse", "HEAD")
		if err != nil {
			return orch.WrapError(orch.CodeGitOperationFailed, "resolve HEAD", err)
		}
		hash = strings.TrimSpace(out)
		return nil
	})
	return hash, err
}
