package session

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/agentorch/ao/internal/oerr"
)

// The bin directory prepended to every agent's PATH carries wrapper
// scripts for git and gh. They delegate to the real binaries and, on
// success, append what the orchestrator wants to know to the session's
// metadata file: the branch after a checkout -b, the PR URL after a pr
// create, the merge after a pr merge. Appends are safe because the
// metadata parser keeps the last value for a repeated key.

const gitShim = `#!/bin/sh
# agent-orchestrator wrapper: records branch creation in session metadata.
REAL=%q
"$REAL" "$@"
rc=$?
if [ $rc -eq 0 ] && [ -n "$AO_SESSION_META" ]; then
	case "$1" in
	checkout|switch|branch)
		for arg in "$@"; do
			case "$arg" in
			-b|-c|--create)
				branch=$("$REAL" rev-parse --abbrev-ref HEAD 2>/dev/null)
				[ -n "$branch" ] && printf 'branch=%%s\n' "$branch" >> "$AO_SESSION_META"
				break
				;;
			esac
		done
		;;
	esac
fi
exit $rc
`

const ghShim = `#!/bin/sh
# agent-orchestrator wrapper: records PR creation and merge in session metadata.
REAL=%q
"$REAL" "$@"
rc=$?
if [ $rc -eq 0 ] && [ -n "$AO_SESSION_META" ]; then
	case "$1 $2" in
	"pr create")
		url=$("$REAL" pr view --json url --jq .url 2>/dev/null)
		[ -n "$url" ] && printf 'pr=%%s\n' "$url" >> "$AO_SESSION_META"
		;;
	"pr merge")
		printf 'prMerged=true\n' >> "$AO_SESSION_META"
		;;
	esac
fi
exit $rc
`

// writeShims emits the git and gh wrappers into the project bin
// directory. The real binary paths are resolved against the
// orchestrator's own PATH at emission time so the shims never recurse
// into themselves. A tool missing from PATH simply gets no shim.
func writeShims(binDir string) error {
	for tool, template := range map[string]string{"git": gitShim, "gh": ghShim} {
		real, err := exec.LookPath(tool)
		if err != nil {
			continue
		}
		script := fmt.Sprintf(template, real)
		path := filepath.Join(binDir, tool)
		if existing, err := os.ReadFile(path); err == nil && string(existing) == script {
			continue
		}
		if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
			return oerr.Wrap(oerr.KindConfig, err, "writing %s shim", tool)
		}
	}
	return nil
}
