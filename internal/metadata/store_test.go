package metadata

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentorch/ao/internal/oerr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "archive"), 0o755))
	return NewStore(dir)
}

func TestParseTolerance(t *testing.T) {
	kv := Parse([]byte(`# a comment
worktree=/data/wt/tbp-1

branch=feature/x=y=z
malformed line
pr=https://github.com/acme/app/pull/7
`))

	assert.Equal(t, "/data/wt/tbp-1", kv["worktree"])
	assert.Equal(t, "feature/x=y=z", kv["branch"], "only the first '=' splits")
	assert.Equal(t, "https://github.com/acme/app/pull/7", kv["pr"])
	assert.Len(t, kv, 3)
}

func TestRoundTripPreservesUnknownKeys(t *testing.T) {
	s := newTestStore(t)

	in := map[string]string{
		"status":      "working",
		"project":     "myapp",
		"customField": "custom value",
		"zebra":       "stripes",
	}
	require.NoError(t, s.Write("tbp-1", in))

	out, err := s.Read("tbp-1")
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestUpdateSemantics(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write("tbp-1", map[string]string{
		"status": "working",
		"branch": "feature/a",
		"pr":     "https://example.com/pr/1",
	}))

	kv, err := s.Update("tbp-1", map[string]string{
		"status": "pr_open", // changed
		"pr":     "",        // empty value deletes
	})
	require.NoError(t, err)

	assert.Equal(t, "pr_open", kv["status"])
	assert.Equal(t, "feature/a", kv["branch"], "absent keys stay unchanged")
	_, hasPR := kv["pr"]
	assert.False(t, hasPR)

	_, err = s.Update("ghost-1", map[string]string{"status": "working"})
	assert.True(t, oerr.IsNotFound(err))
}

func TestArchiveNaming(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write("tbp-1", map[string]string{"status": "killed"}))

	now := time.Date(2026, 8, 24, 12, 30, 5, 123456789, time.UTC)
	name, err := s.Archive("tbp-1", now)
	require.NoError(t, err)

	assert.Equal(t, "tbp-1_2026-08-24T12-30-05.123456789Z", name)
	assert.NotContains(t, name, ":")

	// Live file is gone, archive is readable.
	_, err = s.Read("tbp-1")
	assert.True(t, oerr.IsNotFound(err))
	raw, got, err := s.ReadArchivedRaw("tbp-1")
	require.NoError(t, err)
	assert.Equal(t, name, got)
	assert.Equal(t, "killed", Parse(raw)["status"])
}

func TestReadArchivedRawExactIDBoundary(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Write("app_v2", map[string]string{"status": "killed"}))
	_, err := s.Archive("app_v2", time.Now())
	require.NoError(t, err)

	// "app" must not match the archive of "app_v2".
	_, _, err = s.ReadArchivedRaw("app")
	assert.True(t, oerr.IsNotFound(err))

	_, name, err := s.ReadArchivedRaw("app_v2")
	require.NoError(t, err)
	assert.Contains(t, name, "app_v2_")
}

func TestReadArchivedRawPicksNewest(t *testing.T) {
	s := newTestStore(t)

	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	for i, status := range []string{"killed", "killed", "merged"} {
		require.NoError(t, s.Write("tbp-2", map[string]string{"status": status}))
		_, err := s.Archive("tbp-2", base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
	}

	raw, _, err := s.ReadArchivedRaw("tbp-2")
	require.NoError(t, err)
	assert.Equal(t, "merged", Parse(raw)["status"])
}

func TestListSkipsTempAndArchive(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write("tbp-1", map[string]string{"status": "working"}))
	require.NoError(t, s.Write("tbp-2", map[string]string{"status": "working"}))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "tbp-3.tmp.123"), []byte("status=working\n"), 0o644))

	ids, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"tbp-1", "tbp-2"}, ids)
}

func TestNextNumeralSpansLiveAndArchive(t *testing.T) {
	s := newTestStore(t)

	n, err := s.NextNumeral("tbp")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "fresh store starts at 1")

	require.NoError(t, s.Write("tbp-3", map[string]string{"status": "working"}))
	require.NoError(t, s.Write("tbp-7", map[string]string{"status": "killed"}))
	_, err = s.Archive("tbp-7", time.Now())
	require.NoError(t, err)
	// Another project's sessions do not count.
	require.NoError(t, s.Write("web-12", map[string]string{"status": "working"}))

	n, err = s.NextNumeral("tbp")
	require.NoError(t, err)
	assert.Equal(t, 8, n, "archived numerals are never reused")
}

func TestFindByField(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write("tbp-1", map[string]string{"issue": "https://tracker/42", "status": "working"}))
	require.NoError(t, s.Write("tbp-2", map[string]string{"issue": "https://tracker/43", "status": "working"}))

	id, kv, err := s.FindByField("issue", "https://tracker/43")
	require.NoError(t, err)
	assert.Equal(t, "tbp-2", id)
	assert.Equal(t, "working", kv["status"])

	_, _, err = s.FindByField("issue", "https://tracker/99")
	assert.True(t, oerr.IsNotFound(err))
}
