// Package metadata implements the durable session store: one key=value
// file per session under the project's sessions directory. The file is
// the source of truth; in-memory session records are reconstituted from
// it on startup. Terminated sessions are archived, never deleted.
package metadata

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/agentorch/ao/internal/oerr"
)

// Well-known keys, written before any custom keys.
const (
	KeyWorktree      = "worktree"
	KeyBranch        = "branch"
	KeyStatus        = "status"
	KeyIssue         = "issue"
	KeyPR            = "pr"
	KeySummary       = "summary"
	KeyProject       = "project"
	KeyCreatedAt     = "createdAt"
	KeyRuntimeHandle = "runtimeHandle"
	KeyLastActivity  = "lastActivityAt"
	KeyActivity      = "activity"
	KeyAgentPID      = "agentPid"
)

var canonicalOrder = []string{
	KeyWorktree, KeyBranch, KeyStatus, KeyIssue, KeyPR, KeySummary,
	KeyProject, KeyCreatedAt, KeyRuntimeHandle, KeyLastActivity,
	KeyActivity, KeyAgentPID,
}

const archiveDir = "archive"

// Store reads and writes session metadata files under a sessions
// directory. Methods are safe for a single orchestrator process; sessions
// mutate only their own file.
type Store struct {
	dir string
}

// NewStore returns a store rooted at the given sessions directory. The
// directory and its archive/ subdirectory must already exist (the paths
// layout creates them).
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the sessions directory the store is rooted at.
func (s *Store) Dir() string { return s.dir }

func (s *Store) livePath(id string) string {
	return filepath.Join(s.dir, id)
}

// Parse decodes key=value lines. Comment lines starting with '#' and
// blank lines are tolerated; only the first '=' on a line splits, so
// values may contain '='. Malformed lines without '=' are skipped.
func Parse(raw []byte) map[string]string {
	kv := make(map[string]string)
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		if key == "" {
			continue
		}
		kv[key] = line[idx+1:]
	}
	return kv
}

// Encode serializes metadata with well-known keys first in a stable
// order, then remaining keys sorted. Unknown keys survive a read-write
// cycle unchanged.
func Encode(kv map[string]string) []byte {
	var b strings.Builder
	written := make(map[string]bool, len(kv))
	for _, key := range canonicalOrder {
		if v, ok := kv[key]; ok {
			fmt.Fprintf(&b, "%s=%s\n", key, v)
			written[key] = true
		}
	}
	rest := make([]string, 0, len(kv))
	for key := range kv {
		if !written[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		fmt.Fprintf(&b, "%s=%s\n", key, kv[key])
	}
	return []byte(b.String())
}

// Read loads the metadata for a live session.
func (s *Store) Read(id string) (map[string]string, error) {
	raw, err := os.ReadFile(s.livePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, oerr.E(oerr.KindNotFound, "session %s not found", id)
		}
		return nil, oerr.Wrap(oerr.KindMetadata, err, "reading metadata for %s", id)
	}
	return Parse(raw), nil
}

// Write replaces the metadata file for a session atomically: the content
// goes to a <id>.tmp.<rand> sibling first, then renames over the live
// file so readers never observe a torn write.
func (s *Store) Write(id string, kv map[string]string) error {
	tmp, err := os.CreateTemp(s.dir, id+".tmp.*")
	if err != nil {
		return oerr.Wrap(oerr.KindMetadata, err, "creating temp metadata for %s", id)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(Encode(kv)); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return oerr.Wrap(oerr.KindMetadata, err, "writing metadata for %s", id)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return oerr.Wrap(oerr.KindMetadata, err, "syncing metadata for %s", id)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return oerr.Wrap(oerr.KindMetadata, err, "closing metadata for %s", id)
	}
	if err := os.Rename(tmpName, s.livePath(id)); err != nil {
		os.Remove(tmpName)
		return oerr.Wrap(oerr.KindMetadata, err, "renaming metadata for %s", id)
	}
	return nil
}

// Update applies a partial update to a session's metadata. An empty
// string value deletes the key; keys absent from updates are left
// unchanged. Returns the resulting metadata.
func (s *Store) Update(id string, updates map[string]string) (map[string]string, error) {
	kv, err := s.Read(id)
	if err != nil {
		return nil, err
	}
	for k, v := range updates {
		if v == "" {
			delete(kv, k)
			continue
		}
		kv[k] = v
	}
	if err := s.Write(id, kv); err != nil {
		return nil, err
	}
	return kv, nil
}

// archiveStamp renders a time as ISO8601 with ':' replaced by '-' so the
// result is filename-safe. The fixed-width form keeps lexicographic and
// chronological order identical.
func archiveStamp(t time.Time) string {
	stamp := t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
	return strings.ReplaceAll(stamp, ":", "-")
}

// Archive moves a live session's metadata under archive/<id>_<timestamp>
// and returns the archive file name. Archiving an unknown session fails
// with NotFound.
func (s *Store) Archive(id string, now time.Time) (string, error) {
	live := s.livePath(id)
	if _, err := os.Stat(live); err != nil {
		if os.IsNotExist(err) {
			return "", oerr.E(oerr.KindNotFound, "session %s not found", id)
		}
		return "", oerr.Wrap(oerr.KindMetadata, err, "checking metadata for %s", id)
	}
	name := fmt.Sprintf("%s_%s", id, archiveStamp(now))
	dest := filepath.Join(s.dir, archiveDir, name)
	if err := os.Rename(live, dest); err != nil {
		return "", oerr.Wrap(oerr.KindMetadata, err, "archiving metadata for %s", id)
	}
	return name, nil
}

// isArchiveOf reports whether an archive file name belongs to the exact
// session id. The character after the id must be '_' followed by a digit,
// so "app" never matches an archive of "app_v2".
func isArchiveOf(name, id string) bool {
	if !strings.HasPrefix(name, id) || len(name) < len(id)+2 {
		return false
	}
	if name[len(id)] != '_' {
		return false
	}
	c := name[len(id)+1]
	return c >= '0' && c <= '9'
}

// ReadArchivedRaw returns the newest archived metadata for a session id,
// raw, along with the archive file name. Newest means the greatest
// timestamp suffix.
func (s *Store) ReadArchivedRaw(id string) ([]byte, string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, archiveDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", oerr.E(oerr.KindNotFound, "no archive for session %s", id)
		}
		return nil, "", oerr.Wrap(oerr.KindMetadata, err, "listing archive")
	}
	newest := ""
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if isArchiveOf(name, id) && name > newest {
			newest = name
		}
	}
	if newest == "" {
		return nil, "", oerr.E(oerr.KindNotFound, "no archive for session %s", id)
	}
	raw, err := os.ReadFile(filepath.Join(s.dir, archiveDir, newest))
	if err != nil {
		return nil, "", oerr.Wrap(oerr.KindMetadata, err, "reading archive %s", newest)
	}
	return raw, newest, nil
}

// List returns the ids of all live sessions, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, oerr.Wrap(oerr.KindMetadata, err, "listing sessions")
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ".") || strings.Contains(name, ".tmp.") {
			continue
		}
		ids = append(ids, name)
	}
	sort.Strings(ids)
	return ids, nil
}

// FindByField returns the first live session whose metadata has the given
// key set to the given value, scanning in id order.
func (s *Store) FindByField(key, value string) (string, map[string]string, error) {
	ids, err := s.List()
	if err != nil {
		return "", nil, err
	}
	for _, id := range ids {
		kv, err := s.Read(id)
		if err != nil {
			if oerr.IsNotFound(err) {
				continue
			}
			return "", nil, err
		}
		if kv[key] == value {
			return id, kv, nil
		}
	}
	return "", nil, oerr.E(oerr.KindNotFound, "no session with %s=%s", key, value)
}

var numeralRe = regexp.MustCompile(`^(\d+)`)

// NextNumeral allocates the next session numeral for a prefix: one past
// the maximum numeral seen across live and archived metadata, starting
// at 1. Archived sessions count so a restored orchestrator never reuses
// an id.
func (s *Store) NextNumeral(prefix string) (int, error) {
	max := 0
	consider := func(name string, archived bool) {
		rest, ok := strings.CutPrefix(name, prefix+"-")
		if !ok {
			return
		}
		m := numeralRe.FindString(rest)
		if m == "" {
			return
		}
		tail := rest[len(m):]
		if archived {
			// Archive names carry a _<timestamp> suffix.
			if !strings.HasPrefix(tail, "_") {
				return
			}
		} else if tail != "" {
			return
		}
		if n, err := strconv.Atoi(m); err == nil && n > max {
			max = n
		}
	}

	live, err := s.List()
	if err != nil {
		return 0, err
	}
	for _, id := range live {
		consider(id, false)
	}

	entries, err := os.ReadDir(filepath.Join(s.dir, archiveDir))
	if err != nil && !os.IsNotExist(err) {
		return 0, oerr.Wrap(oerr.KindMetadata, err, "listing archive")
	}
	for _, e := range entries {
		if !e.IsDir() {
			consider(e.Name(), true)
		}
	}
	return max + 1, nil
}
