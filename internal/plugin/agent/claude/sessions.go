package claude

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/agentorch/ao/internal/plugin"
)

// projectDirEncoding mirrors how the CLI derives per-project session
// directories from absolute paths.
var projectDirEncoding = regexp.MustCompile(`[^a-zA-Z0-9]`)

func encodeProjectDir(workDir string) string {
	return projectDirEncoding.ReplaceAllString(workDir, "-")
}

// GetSessionInfo reads the newest transcript the CLI wrote for this work
// directory. Everything here is best effort: the files belong to the
// agent and their shape can drift between releases.
func (a *Agent) GetSessionInfo(ctx context.Context, workDir string) (*plugin.AgentSessionInfo, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, nil
	}

	dir := filepath.Join(home, ".claude", "projects", encodeProjectDir(workDir))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil
	}

	var newest os.DirEntry
	var newestTime time.Time
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if newest == nil || info.ModTime().After(newestTime) {
			newest = entry
			newestTime = info.ModTime()
		}
	}
	if newest == nil {
		return nil, nil
	}

	info := &plugin.AgentSessionInfo{
		SessionID: strings.TrimSuffix(newest.Name(), ".jsonl"),
		UpdatedAt: newestTime,
	}

	f, err := os.Open(filepath.Join(dir, newest.Name()))
	if err != nil {
		return info, nil
	}
	defer f.Close()

	// One JSON object per line. Count user turns and remember the last
	// model an assistant message named.
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return info, ctx.Err()
		default:
		}
		var line struct {
			Type    string `json:"type"`
			Message struct {
				Model string `json:"model"`
			} `json:"message"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if line.Type == "user" {
			info.Turns++
		}
		if line.Message.Model != "" {
			info.Model = line.Message.Model
		}
	}
	return info, nil
}

// IsProcessRunning scans the process table for an agent process carrying
// this session's environment marker. The hosting shell carries the same
// marker, so the command line must also name the agent; when only the
// shell remains the agent has exited.
func (a *Agent) IsProcessRunning(ctx context.Context, h plugin.Handle) (bool, error) {
	sessionID := h.Data["sessionId"]
	if sessionID == "" {
		sessionID = h.ID
	}
	marker := []byte("AO_SESSION_ID=" + sessionID)

	procs, err := os.ReadDir("/proc")
	if err != nil {
		return false, err
	}

	for _, entry := range procs {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		default:
		}
		if !entry.IsDir() || !isNumeric(entry.Name()) {
			continue
		}

		environ, err := os.ReadFile(filepath.Join("/proc", entry.Name(), "environ"))
		if err != nil {
			continue
		}
		if !containsEnvMarker(environ, marker) {
			continue
		}

		cmdline, err := os.ReadFile(filepath.Join("/proc", entry.Name(), "cmdline"))
		if err != nil {
			continue
		}
		if cmdlineNamesAgent(cmdline, "claude") {
			return true, nil
		}
	}
	return false, nil
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// containsEnvMarker checks for an exact KEY=VALUE entry in the
// NUL-separated environ block.
func containsEnvMarker(environ, marker []byte) bool {
	for _, entry := range bytes.Split(environ, []byte{0}) {
		if bytes.Equal(entry, marker) {
			return true
		}
	}
	return false
}

// cmdlineNamesAgent reports whether any argv element mentions the agent.
// Covers both direct binaries and node wrappers running the package.
func cmdlineNamesAgent(cmdline []byte, agent string) bool {
	for _, arg := range bytes.Split(cmdline, []byte{0}) {
		if strings.Contains(strings.ToLower(string(arg)), agent) {
			return true
		}
	}
	return false
}
