// Package paths implements the per-project directory scheme. Every
// project served by a given configuration file gets its own data
// directory named <hash>-<basename>, where the hash is derived from the
// configuration file's resolved path. This keeps orchestrator instances
// driven by different config files from trampling each other's sessions
// on the same machine.
package paths

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/agentorch/ao/internal/oerr"
)

// InstanceHash returns the first 12 hex characters of a SHA-256 digest
// over the realpath of the configuration file.
func InstanceHash(configPath string) (string, error) {
	real, err := filepath.EvalSymlinks(configPath)
	if err != nil {
		return "", oerr.Wrap(oerr.KindConfig, err, "resolving config path %s", configPath)
	}
	if !filepath.IsAbs(real) {
		if real, err = filepath.Abs(real); err != nil {
			return "", oerr.Wrap(oerr.KindConfig, err, "resolving config path %s", configPath)
		}
	}
	sum := sha256.Sum256([]byte(real))
	return hex.EncodeToString(sum[:])[:12], nil
}

// Layout names every directory and sentinel file of one project's data
// root. All paths are absolute.
type Layout struct {
	Hash      string
	Base      string // <home>/<hash>-<basename(repoPath)>
	Sessions  string // session metadata files
	Archive   string // archived metadata of terminated sessions
	Worktrees string // session worktrees
	Bin       string // git/gh wrapper scripts prepended to agent PATH
	Origin    string // sentinel holding the owning config path
	Events    string // JSONL event log
}

// NewLayout computes the layout for a project without touching the
// filesystem.
func NewLayout(home, hash, repoPath string) Layout {
	base := filepath.Join(home, fmt.Sprintf("%s-%s", hash, filepath.Base(repoPath)))
	return Layout{
		Hash:      hash,
		Base:      base,
		Sessions:  filepath.Join(base, "sessions"),
		Archive:   filepath.Join(base, "sessions", "archive"),
		Worktrees: filepath.Join(base, "worktrees"),
		Bin:       filepath.Join(base, "bin"),
		Origin:    filepath.Join(base, ".origin"),
		Events:    filepath.Join(base, "events.jsonl"),
	}
}

// Ensure creates the layout's directories and claims the base directory
// for configPath via the .origin sentinel. If the sentinel already exists
// and names a different configuration file, two configs have collided on
// one hash and Ensure fails with a ConfigError naming both paths.
func (l Layout) Ensure(configPath string) error {
	for _, dir := range []string{l.Base, l.Sessions, l.Archive, l.Worktrees, l.Bin} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return oerr.Wrap(oerr.KindConfig, err, "creating %s", dir)
		}
	}

	existing, err := os.ReadFile(l.Origin)
	switch {
	case err == nil:
		owner := strings.TrimSpace(string(existing))
		if owner != configPath {
			return oerr.E(oerr.KindConfig,
				"instance directory %s is owned by config %s; refusing to serve config %s (hash collision)",
				l.Base, owner, configPath)
		}
		return nil
	case os.IsNotExist(err):
		if err := os.WriteFile(l.Origin, []byte(configPath+"\n"), 0o644); err != nil {
			return oerr.Wrap(oerr.KindConfig, err, "writing origin sentinel")
		}
		return nil
	default:
		return oerr.Wrap(oerr.KindConfig, err, "reading origin sentinel")
	}
}

// DerivePrefix computes the session name prefix for a project id when
// the project does not configure one explicitly:
//
//   - ids of up to four characters are used as-is, lowercased
//   - CamelCase ids with at least two capitals keep just the capitals
//   - kebab-case and snake_case ids keep the first letter of each segment
//   - anything else keeps its first three characters, lowercased
func DerivePrefix(projectID string) string {
	runes := []rune(projectID)
	if len(runes) <= 4 {
		return strings.ToLower(projectID)
	}

	hasSeparator := strings.ContainsAny(projectID, "-_")
	if !hasSeparator {
		var caps []rune
		for _, r := range runes {
			if unicode.IsUpper(r) {
				caps = append(caps, unicode.ToLower(r))
			}
		}
		if len(caps) >= 2 {
			return string(caps)
		}
	}

	if hasSeparator {
		var initials []rune
		for _, seg := range strings.FieldsFunc(projectID, func(r rune) bool {
			return r == '-' || r == '_'
		}) {
			initials = append(initials, unicode.ToLower([]rune(seg)[0]))
		}
		if len(initials) > 0 {
			return string(initials)
		}
	}

	return strings.ToLower(string(runes[:3]))
}

// RuntimeName returns the globally unique name a runtime host is created
// under. User-facing session ids never include the hash.
func RuntimeName(hash, sessionID string) string {
	return fmt.Sprintf("%s-%s", hash, sessionID)
}
