package gitops

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/forgeline/foreman/internal/domain"
	"github.com/forgeline/foreman/internal/domain/orch"
	"github.com/forgeline/foreman/internal/git"
)

// checkpointPrefix namespaces all recovery tags.
const checkpointPrefix = "checkpoint/"

// CheckpointManager creates, resolves and deletes lightweight recovery
// tags scoped to a work item.
type CheckpointManager struct {
	repo string
	pool *git.Pool
	now  func() time.Time
}

// NewCheckpointManager creates a CheckpointManager for the repository at repo.
func NewCheckpointManager(repo string, pool *git.Pool) *CheckpointManager {
	return &CheckpointManager{repo: repo, pool: pool, now: time.Now}
}

// CreateCheckpoint tags the current HEAD as checkpoint/<itemID>/<millis>
// and returns the tag name. The millisecond suffix makes tags monotonic
// by wall clock.
func (m *CheckpointManager) CreateCheckpoint(ctx context.Context, itemID string) (string, error) {
	tag := fmt.Sprintf("%s%s/%d", checkpointPrefix, itemID, m.now().UnixMilli())
	err := m.pool.Run(ctx, func() error {
		if _, err := runGit(ctx, m.repo, "tag", tag); err != nil {
			return orch.WrapError(orch.CodeGitOperationFailed, fmt.Sprintf("tag %s", tag), err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return tag, nil
}

// LatestCheckpoint returns the newest checkpoint tag for the item, ordered
// by the embedded timestamp rather than lexical tag order. Returns
// domain.ErrNotFound when the item has no checkpoints.
func (m *CheckpointManager) LatestCheckpoint(ctx context.Context, itemID string) (string, error) {
	tags, err := m.listTags(ctx, itemID)
	if err != nil {
		return "", err
	}
	if len(tags) == 0 {
		return "", fmt.Errorf("no checkpoints for item %s: %w", itemID, domain.ErrNotFound)
	}

	latest := tags[0]
	latestTS := tagTimestamp(latest)
	for _, tag := range tags[1:] {
		if ts := tagTimestamp(tag); ts > latestTS {
			latest, latestTS = tag, ts
		}
	}
	return latest, nil
}

// Rollback hard-resets the working tree to the item's latest checkpoint
// and returns the tag rolled back to. Fails with domain.ErrNotFound when
// no checkpoint exists — never a silent no-op.
func (m *CheckpointManager) Rollback(ctx context.Context, itemID string) (string, error) {
	tag, err := m.LatestCheckpoint(ctx, itemID)
	if err != nil {
		return "", err
	}

	err = m.pool.Run(ctx, func() error {
		if _, err := runGit(ctx, m.repo, "reset", "--hard", tag); err != nil {
			return orch.WrapError(orch.CodeGitOperationFailed, fmt.Sprintf("reset to %s", tag), err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return tag, nil
}

// CleanupCheckpoints deletes all checkpoint tags for the item and returns
// how many were removed. Used after a successful, durable completion.
func (m *CheckpointManager) CleanupCheckpoints(ctx context.Context, itemID string) (int, error) {
	tags, err := m.listTags(ctx, itemID)
	if err != nil {
		return 0, err
	}
	if len(tags) == 0 {
		return 0, nil
	}

	err = m.pool.Run(ctx, func() error {
		args := append([]string{"tag", "-d"}, tags...)
		if _, err := runGit(ctx, m.repo, args...); err != nil {
			return orch.WrapError(orch.CodeGitOperationFailed, "delete checkpoint tags", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(tags), nil
}

// listTags returns all checkpoint tags for one item.
func (m *CheckpointManager) listTags(ctx context.Context, itemID string) ([]string, error) {
	var tags []string
	err := m.pool.Run(ctx, func() error {
		out, err := runGit(ctx, m.repo, "tag", "--list", checkpointPrefix+itemID+"/*")
		if err != nil {
			return orch.WrapError(orch.CodeGitOperationFailed, "list checkpoint tags", err)
		}
		for _, line := range strings.Split(out, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				tags = append(tags, line)
			}
		}
		return nil
	})
	return tags, err
}

// tagTimestamp extracts the millisecond suffix from a checkpoint tag.
// Malformed tags sort oldest.
func tagTimestamp(tag string) int64 {
	idx := strings.LastIndexByte(tag, '/')
	if idx < 0 {
		return 0
	}
	ts, err := strconv.ParseInt(tag[idx+1:], 10, 64)
	if err != nil {
		return 0
	}
	return ts
}
