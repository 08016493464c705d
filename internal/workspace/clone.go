package workspace

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/agentorch/ao/internal/common/logger"
	"github.com/agentorch/ao/internal/oerr"
	"github.com/agentorch/ao/internal/plugin"
)

// Clone provisions session workspaces as full local clones. Slower and
// heavier than worktrees, but some build tooling resolves the repository
// root through .git and breaks inside worktrees.
type Clone struct {
	logger *logger.Logger
	locks  *repoLocks
}

// NewClone returns the clone workspace strategy.
func NewClone(log *logger.Logger) *Clone {
	return &Clone{
		logger: log.WithComponent("workspace-clone"),
		locks:  newRepoLocks(),
	}
}

func (c *Clone) Name() string { return "clone" }

// Provision clones the project repository and checks out the session
// branch, creating it from the default branch when new. Local clones
// hardlink objects, so disk cost stays modest.
func (c *Clone) Provision(ctx context.Context, project plugin.ProjectRef, worktreeRoot, sessionID, branch string) (string, error) {
	path, err := containedPath(worktreeRoot, sessionID)
	if err != nil {
		return "", err
	}

	if !isGitRepo(project.RepoPath) {
		return "", oerr.E(oerr.KindConfig, "project %s repoPath %s is not a git repository", project.ID, project.RepoPath)
	}

	lock := c.locks.lock(project.RepoPath)
	lock.Lock()
	defer lock.Unlock()

	if isGitRepo(path) {
		c.logger.Info("reusing existing clone",
			zap.String("session_id", sessionID),
			zap.String("path", path))
		return path, nil
	}
	if _, err := os.Stat(path); err == nil {
		if err := os.RemoveAll(path); err != nil {
			return "", oerr.Wrap(oerr.KindPlugin, err, "clearing stale clone %s", path)
		}
	}

	if _, err := git(ctx, worktreeRoot, "clone", project.RepoPath, path); err != nil {
		return "", err
	}

	if branchExists(ctx, path, branch) {
		if _, err := git(ctx, path, "checkout", branch); err != nil {
			return "", err
		}
	} else {
		if _, err := git(ctx, path, "checkout", "-b", branch, "origin/"+project.DefaultBranch); err != nil {
			return "", err
		}
	}

	c.logger.Info("created clone",
		zap.String("session_id", sessionID),
		zap.String("branch", branch),
		zap.String("path", path))
	return path, nil
}

// Remove deletes the clone directory. Clones are not registered with the
// parent repository, so plain removal suffices.
func (c *Clone) Remove(ctx context.Context, project plugin.ProjectRef, path, branch string) error {
	if path == "" {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return oerr.Wrap(oerr.KindPlugin, err, "removing clone %s", path)
	}
	c.logger.Info("removed clone", zap.String("path", path))
	return nil
}
