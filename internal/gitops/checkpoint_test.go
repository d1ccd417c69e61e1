package gitops_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/forgeline/foreman/internal/domain"
	"github.com/forgeline/foreman/internal/git"
	"github.com/forgeline/foreman/internal/gitops"
)

func TestCheckpointRoundTrip(t *testing.T) {
	dir := initTestRepo(t)
	ctx := context.Background()
	m := gitops.NewCheckpointManager(dir, git.NewPool(1))

	tag, err := m.CreateCheckpoint(ctx, "item-1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(tag, "checkpoint/item-1/") {
		t.Errorf("unexpected tag name %s", tag)
	}

	latest, err := m.LatestCheckpoint(ctx, "item-1")
	if err != nil {
		t.Fatal(err)
	}
	if latest != tag {
		t.Errorf("latest = %s, want %s", latest, tag)
	}
}

func TestLatestCheckpointSortsByTimestampNotLexically(t *testing.T) {
	dir := initTestRepo(t)
	ctx := context.Background()
	m := gitops.NewCheckpointManager(dir, git.NewPool(1))

	// Lexically "9" > "10" but numerically 10 is newer.
	gitRun(t, dir, "tag", "checkpoint/item-2/9")
	gitRun(t, dir, "tag", "checkpoint/item-2/10")

	latest, err := m.LatestCheckpoint(ctx, "item-2")
	if err != nil {
		t.Fatal(err)
	}
	if latest != "checkpoint/item-2/10" {
		t.Errorf("latest = %s, want checkpoint/item-2/10", latest)
	}
}

func TestRollback(t *testing.T) {
	dir := initTestRepo(t)
	ctx := context.Background()
	m := gitops.NewCheckpointManager(dir, git.NewPool(1))

	if _, err := m.CreateCheckpoint(ctx, "item-3"); err != nil {
		t.Fatal(err)
	}
	checkpointHead := gitRun(t, dir, "rev-parse", "HEAD")

	// Advance HEAD past the checkpoint.
	writeFile(t, dir, "later.txt", "later work")
	gitRun(t, dir, "add", "-A")
	gitRun(t, dir, "commit", "-m", "later work")

	tag, err := m.Rollback(ctx, "item-3")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(tag, "checkpoint/item-3/") {
		t.Errorf("unexpected tag %s", tag)
	}
	if head := gitRun(t, dir, "rev-parse", "HEAD"); head != checkpointHead {
		t.Errorf("HEAD = %s, want %s", head, checkpointHead)
	}
}

func TestRollbackWithoutCheckpointFails(t *testing.T) {
	dir := initTestRepo(t)
	m := gitops.NewCheckpointManager(dir, git.NewPool(1))

	_, err := m.Rollback(context.Background(), "item-absent")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCleanupCheckpoints(t *testing.T) {
	dir := initTestRepo(t)
	ctx := context.Background()
	m := gitops.NewCheckpointManager(dir, git.NewPool(1))

	gitRun(t, dir, "tag", "checkpoint/item-4/1")
	gitRun(t, dir, "tag", "checkpoint/item-4/2")
	gitRun(t, dir, "tag", "checkpoint/item-5/1") // other item, untouched

	count, err := m.CleanupCheckpoints(ctx, "item-4")
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	if tags := gitRun(t, dir, "tag", "--list", "checkpoint/item-4/*"); tags != "" {
		t.Errorf("expected no item-4 tags, got %s", tags)
	}
	if tags := gitRun(t, dir, "tag", "--list", "checkpoint/item-5/*"); tags == "" {
		t.Error("item-5 tags should be untouched")
	}
}

func TestCleanupCheckpointsEmpty(t *testing.T) {
	dir := initTestRepo(t)
	m := gitops.NewCheckpointManager(dir, git.NewPool(1))

	count, err := m.CleanupCheckpoints(context.Background(), "item-none")
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
}
