package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestContainedPath(t *testing.T) {
	root := "/data/worktrees"

	path, err := containedPath(root, "tbp-1")
	if err != nil {
		t.Fatalf("containedPath failed: %v", err)
	}
	if path != filepath.Join(root, "tbp-1") {
		t.Errorf("unexpected path %s", path)
	}

	for _, bad := range []string{"../escape", "../../etc", "a/../../b"} {
		if _, err := containedPath(root, bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestIsValidWorktree(t *testing.T) {
	if isValidWorktree("/nonexistent/path") {
		t.Error("expected false for non-existent path")
	}

	dir := t.TempDir()
	wt := filepath.Join(dir, "tbp-1")
	if err := os.MkdirAll(wt, 0o755); err != nil {
		t.Fatal(err)
	}

	if isValidWorktree(wt) {
		t.Error("expected false without .git file")
	}

	gitFile := filepath.Join(wt, ".git")
	if err := os.WriteFile(gitFile, []byte("gitdir: /repo/.git/worktrees/tbp-1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !isValidWorktree(wt) {
		t.Error("expected true for worktree with gitdir pointer")
	}

	// A .git directory (full clone) is not a worktree.
	clone := filepath.Join(dir, "clone")
	if err := os.MkdirAll(filepath.Join(clone, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	if isValidWorktree(clone) {
		t.Error("expected false for full clone layout")
	}
}

func TestIsGitRepo(t *testing.T) {
	dir := t.TempDir()
	if isGitRepo(dir) {
		t.Error("expected false for plain directory")
	}

	// Regular repository: .git directory.
	repo := filepath.Join(dir, "repo")
	if err := os.MkdirAll(filepath.Join(repo, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	if !isGitRepo(repo) {
		t.Error("expected true for .git directory")
	}

	// Worktree: .git file.
	wt := filepath.Join(dir, "wt")
	if err := os.MkdirAll(wt, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(wt, ".git"), []byte("gitdir: elsewhere"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !isGitRepo(wt) {
		t.Error("expected true for .git file")
	}
}

func TestRepoLocksReturnSameMutex(t *testing.T) {
	locks := newRepoLocks()
	a := locks.lock("/repo/a")
	b := locks.lock("/repo/b")
	if a == b {
		t.Error("different repos must get different locks")
	}
	if locks.lock("/repo/a") != a {
		t.Error("same repo must get the same lock")
	}
}
