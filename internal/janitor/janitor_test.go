package janitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentorch/ao/internal/common/config"
	"github.com/agentorch/ao/internal/common/logger"
	"github.com/agentorch/ao/internal/oerr"
	"github.com/agentorch/ao/internal/plugin"
	"github.com/agentorch/ao/internal/session"
)

func newManager(t *testing.T) *session.Manager {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("projects: {}\n"), 0o644))

	reg := plugin.NewRegistry()
	reg.Freeze()
	m, err := session.NewManager(&config.Config{
		Path: cfgPath,
		Home: filepath.Join(dir, "home"),
	}, reg, nil, logger.Default())
	require.NoError(t, err)
	return m
}

func TestNewRejectsBadSchedule(t *testing.T) {
	_, err := New(config.JanitorConfig{Schedule: "not a cron line"}, newManager(t), logger.Default())
	require.Error(t, err)
	assert.True(t, oerr.IsKind(err, oerr.KindConfig))
}

func TestEmptyScheduleDisablesJanitor(t *testing.T) {
	j, err := New(config.JanitorConfig{}, newManager(t), logger.Default())
	require.NoError(t, err)
	j.Start()
	j.Stop()
}

func TestStartStopIdempotent(t *testing.T) {
	j, err := New(config.JanitorConfig{Schedule: "@every 1h"}, newManager(t), logger.Default())
	require.NoError(t, err)
	j.Start()
	j.Start()
	j.Stop()
	j.Stop()
}

func TestRunOnceWithNoProjects(t *testing.T) {
	j, err := New(config.JanitorConfig{Schedule: "@every 1h", DryRun: true}, newManager(t), logger.Default())
	require.NoError(t, err)

	report, err := j.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Killed)
	assert.Empty(t, report.Errors)
}
