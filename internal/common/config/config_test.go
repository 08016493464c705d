package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentorch/ao/internal/oerr"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "projects: {}\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.Controller.PollInterval)
	assert.Equal(t, 8, cfg.Controller.Parallelism)
	assert.Equal(t, 30*time.Second, cfg.Controller.CallTimeout)
	assert.Equal(t, 30, cfg.Controller.OutputLines)
	assert.Equal(t, "strict", cfg.Scheduler.PriorityPolicy)
	assert.Equal(t, "memory", cfg.Bus.Kind)
	assert.Equal(t, int64(10*1024*1024), cfg.EventLog.MaxBytes)
	assert.Equal(t, path, cfg.Path)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Equal(t, oerr.KindConfig, oerr.KindOf(err))
}

func TestLoadProjectDefaults(t *testing.T) {
	path := writeConfig(t, `
projects:
  myapp:
    repoPath: /srv/repos/myapp
    repo: acme/myapp
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	p, err := cfg.Project("myapp")
	require.NoError(t, err)
	assert.Equal(t, "myapp", p.ID)
	assert.Equal(t, "main", p.DefaultBranch)
	assert.Equal(t, "tmux", p.Plugins.Runtime)
	assert.Equal(t, "claude", p.Plugins.Agent)
	assert.Equal(t, "github", p.Plugins.SCM)
	assert.Equal(t, "worktree", p.Plugins.Workspace)

	_, err = cfg.Project("ghost")
	assert.True(t, oerr.IsNotFound(err))
}

func TestLoadValidationCollectsErrors(t *testing.T) {
	path := writeConfig(t, `
controller:
  parallelism: 0
scheduler:
  priorityPolicy: bogus
bus:
  kind: nats
projects:
  myapp:
    repoPath: relative/path
reactions:
  stuck:
    action: shout
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, oerr.KindConfig, oerr.KindOf(err))
	assert.Contains(t, err.Error(), "controller.parallelism")
	assert.Contains(t, err.Error(), "scheduler.priorityPolicy")
	assert.Contains(t, err.Error(), "bus.url is required")
	assert.Contains(t, err.Error(), "repoPath must be absolute")
	assert.Contains(t, err.Error(), "reactions.stuck.action")
}

func TestLoadReactions(t *testing.T) {
	path := writeConfig(t, `
reactions:
  ci_failed:
    auto: true
    action: send-to-agent
    message: "CI is failing, please investigate."
    retries: 3
    retriggerAfter: 30s
projects: {}
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	r, ok := cfg.Reactions["ci_failed"]
	require.True(t, ok)
	assert.True(t, r.Auto)
	assert.Equal(t, "send-to-agent", r.Action)
	assert.Equal(t, 3, r.Retries)
	assert.Equal(t, 30*time.Second, r.RetriggerAfter)
}

func TestHomeDirOverride(t *testing.T) {
	path := writeConfig(t, "home: /var/lib/ao\nprojects: {}\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	home, err := cfg.HomeDir()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/ao", home)
}
