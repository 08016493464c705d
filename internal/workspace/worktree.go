package workspace

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/agentorch/ao/internal/common/logger"
	"github.com/agentorch/ao/internal/oerr"
	"github.com/agentorch/ao/internal/plugin"
)

// Worktree provisions session workspaces as git worktrees of the project
// repository. Cheap to create, shares the object store, and keeps every
// session on its own branch.
type Worktree struct {
	logger *logger.Logger
	locks  *repoLocks
}

// NewWorktree returns the worktree workspace strategy.
func NewWorktree(log *logger.Logger) *Worktree {
	return &Worktree{
		logger: log.WithComponent("workspace-worktree"),
		locks:  newRepoLocks(),
	}
}

func (w *Worktree) Name() string { return "worktree" }

// Provision creates (or reuses) the worktree for a session. The branch is
// created from the project default branch when it does not exist yet;
// restores land on the existing branch.
func (w *Worktree) Provision(ctx context.Context, project plugin.ProjectRef, worktreeRoot, sessionID, branch string) (string, error) {
	path, err := containedPath(worktreeRoot, sessionID)
	if err != nil {
		return "", err
	}

	if !isGitRepo(project.RepoPath) {
		return "", oerr.E(oerr.KindConfig, "project %s repoPath %s is not a git repository", project.ID, project.RepoPath)
	}

	lock := w.locks.lock(project.RepoPath)
	lock.Lock()
	defer lock.Unlock()

	if isValidWorktree(path) {
		w.logger.Info("reusing existing worktree",
			zap.String("session_id", sessionID),
			zap.String("path", path))
		return path, nil
	}

	// A leftover directory without valid worktree wiring blocks git
	// worktree add; clear it and prune stale bookkeeping first.
	if _, err := os.Stat(path); err == nil {
		if err := os.RemoveAll(path); err != nil {
			return "", oerr.Wrap(oerr.KindPlugin, err, "clearing stale worktree %s", path)
		}
		if _, err := git(ctx, project.RepoPath, "worktree", "prune"); err != nil {
			w.logger.Debug("git worktree prune failed", zap.Error(err))
		}
	}

	if branchExists(ctx, project.RepoPath, branch) {
		if _, err := git(ctx, project.RepoPath, "worktree", "add", path, branch); err != nil {
			return "", err
		}
	} else {
		if _, err := git(ctx, project.RepoPath, "worktree", "add", "-b", branch, path, project.DefaultBranch); err != nil {
			return "", err
		}
	}

	w.logger.Info("created worktree",
		zap.String("session_id", sessionID),
		zap.String("branch", branch),
		zap.String("path", path))
	return path, nil
}

// Remove detaches and deletes the worktree directory. The branch is kept:
// restore relaunches on it and open PRs reference it.
func (w *Worktree) Remove(ctx context.Context, project plugin.ProjectRef, path, branch string) error {
	if path == "" {
		return nil
	}

	lock := w.locks.lock(project.RepoPath)
	lock.Lock()
	defer lock.Unlock()

	if _, err := git(ctx, project.RepoPath, "worktree", "remove", "--force", path); err != nil {
		w.logger.Debug("git worktree remove failed, falling back to rm",
			zap.String("path", path),
			zap.Error(err))
		if err := os.RemoveAll(path); err != nil {
			return oerr.Wrap(oerr.KindPlugin, err, "removing worktree %s", path)
		}
		if _, err := git(ctx, project.RepoPath, "worktree", "prune"); err != nil {
			w.logger.Debug("git worktree prune failed", zap.Error(err))
		}
	}

	w.logger.Info("removed worktree",
		zap.String("path", path),
		zap.String("branch", branch))
	return nil
}
