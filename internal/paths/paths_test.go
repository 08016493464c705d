package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentorch/ao/internal/oerr"
)

func TestInstanceHashDeterministic(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("projects: {}\n"), 0o644))

	h1, err := InstanceHash(cfg)
	require.NoError(t, err)
	h2, err := InstanceHash(cfg)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 12)
	assert.Regexp(t, "^[0-9a-f]{12}$", h1)
}

func TestInstanceHashFollowsSymlinks(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("projects: {}\n"), 0o644))
	link := filepath.Join(dir, "link.yaml")
	require.NoError(t, os.Symlink(cfg, link))

	h1, err := InstanceHash(cfg)
	require.NoError(t, err)
	h2, err := InstanceHash(link)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
}

func TestDerivePrefix(t *testing.T) {
	cases := []struct {
		id   string
		want string
	}{
		{"ao", "ao"},
		{"Kan", "kan"},
		{"apps", "apps"},
		{"MyWebApp", "mwa"},
		{"TaskBoardPro", "tbp"},
		{"task-board-pro", "tbp"},
		{"task_board", "tb"},
		{"backend", "bac"},
		{"Backend", "bac"},
		{"my-App", "ma"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DerivePrefix(tc.id), "id=%s", tc.id)
	}
}

func TestLayoutEnsure(t *testing.T) {
	home := t.TempDir()
	l := NewLayout(home, "abcdef123456", "/srv/repos/myapp")

	assert.Equal(t, filepath.Join(home, "abcdef123456-myapp"), l.Base)
	require.NoError(t, l.Ensure("/etc/ao/config.yaml"))

	for _, dir := range []string{l.Sessions, l.Archive, l.Worktrees, l.Bin} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	raw, err := os.ReadFile(l.Origin)
	require.NoError(t, err)
	assert.Equal(t, "/etc/ao/config.yaml\n", string(raw))

	// Same config may claim the directory again.
	require.NoError(t, l.Ensure("/etc/ao/config.yaml"))
}

func TestLayoutEnsureHashCollision(t *testing.T) {
	home := t.TempDir()
	l := NewLayout(home, "abcdef123456", "/srv/repos/myapp")
	require.NoError(t, l.Ensure("/etc/ao/first.yaml"))

	err := l.Ensure("/etc/ao/second.yaml")
	require.Error(t, err)
	assert.Equal(t, oerr.KindConfig, oerr.KindOf(err))
	assert.Contains(t, err.Error(), "/etc/ao/first.yaml")
	assert.Contains(t, err.Error(), "/etc/ao/second.yaml")
}

func TestRuntimeName(t *testing.T) {
	assert.Equal(t, "abcdef123456-tbp-3", RuntimeName("abcdef123456", "tbp-3"))
}
