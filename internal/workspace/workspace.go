// Package workspace provisions the directories sessions work in. Two
// strategies implement the workspace plugin contract: git worktrees
// sharing the project repository's object store (the default), and full
// local clones for repositories whose tooling misbehaves inside
// worktrees.
package workspace

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/agentorch/ao/internal/oerr"
)

// git runs a git command in dir and returns combined output. Errors carry
// the output since git writes diagnostics to stderr.
func git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), oerr.Wrap(oerr.KindPlugin, err, "git %s: %s",
			strings.Join(args, " "), strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// isGitRepo reports whether path holds a git repository. The .git entry
// is a directory for regular repos and a file for worktrees.
func isGitRepo(path string) bool {
	info, err := os.Stat(filepath.Join(path, ".git"))
	if err != nil {
		return false
	}
	return info.IsDir() || info.Mode().IsRegular()
}

// branchExists reports whether the branch resolves in the repository.
func branchExists(ctx context.Context, repoPath, branch string) bool {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--verify", "refs/heads/"+branch)
	cmd.Dir = repoPath
	return cmd.Run() == nil
}

// isValidWorktree reports whether path is a usable worktree directory: it
// exists and carries a .git file pointing back at the parent repository.
func isValidWorktree(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	content, err := os.ReadFile(filepath.Join(path, ".git"))
	if err != nil {
		return false
	}
	return strings.HasPrefix(string(content), "gitdir:")
}

// containedPath joins root and name and verifies the result stays inside
// root. Guards the invariant that session workspaces live under the
// project's worktree root.
func containedPath(root, name string) (string, error) {
	path := filepath.Join(root, name)
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", oerr.E(oerr.KindPolicyViolation, "workspace %q escapes worktree root %s", name, root)
	}
	return path, nil
}

// repoLocks serializes git mutations per repository path. git worktree
// bookkeeping inside .git is not safe under concurrent mutation.
type repoLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newRepoLocks() *repoLocks {
	return &repoLocks{locks: make(map[string]*sync.Mutex)}
}

func (r *repoLocks) lock(repoPath string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.locks[repoPath]; ok {
		return l
	}
	l := &sync.Mutex{}
	r.locks[repoPath] = l
	return l
}
