// Package tmux hosts agent processes inside tmux sessions. This is the
// default runtime: sessions survive orchestrator restarts and humans can
// attach to watch or intervene.
package tmux

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentorch/ao/internal/common/logger"
	"github.com/agentorch/ao/internal/oerr"
	"github.com/agentorch/ao/internal/plugin"
)

const (
	// gracefulStopTimeout bounds how long Destroy waits after C-c before
	// killing the session outright.
	gracefulStopTimeout = 3 * time.Second

	// maxSendDebounce caps the pause between typing a message and
	// pressing Enter. Large pastes need time to land in the pane.
	maxSendDebounce = 1500 * time.Millisecond
)

// Runtime implements the runtime plugin contract over the tmux CLI.
type Runtime struct {
	logger *logger.Logger
}

// New returns the tmux runtime.
func New(log *logger.Logger) *Runtime {
	return &Runtime{logger: log.WithComponent("runtime-tmux")}
}

func (r *Runtime) Name() string { return "tmux" }

// run executes one tmux command and returns combined output.
func (r *Runtime) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "tmux", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), oerr.Wrap(oerr.KindPlugin, err, "tmux %s: %s",
			args[0], strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// target returns an exact-match tmux target. Without the '=' prefix tmux
// matches session names by prefix, which would conflate tbp-1 and tbp-11.
func target(name string) string {
	return "=" + name
}

// Create starts a detached session in the work directory. Environment is
// injected both at creation (so the initial shell inherits it) and into
// the session table (so respawned panes inherit it too).
func (r *Runtime) Create(ctx context.Context, opts plugin.CreateOptions) (plugin.Handle, error) {
	// A leftover session under this name is stale bookkeeping from a
	// previous run; replace it.
	if alive, _ := r.hasSession(ctx, opts.Name); alive {
		r.logger.Warn("replacing stale tmux session", zap.String("name", opts.Name))
		if _, err := r.run(ctx, "kill-session", "-t", target(opts.Name)); err != nil {
			return plugin.Handle{}, err
		}
	}

	args := []string{"new-session", "-d", "-s", opts.Name, "-c", opts.WorkDir}
	for _, k := range sortedKeys(opts.Env) {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, opts.Env[k]))
	}
	if _, err := r.run(ctx, args...); err != nil {
		return plugin.Handle{}, err
	}

	// Session-table environment is non-fatal: the session works without
	// it, respawned panes just lose the variables.
	for _, k := range sortedKeys(opts.Env) {
		if _, err := r.run(ctx, "set-environment", "-t", target(opts.Name), k, opts.Env[k]); err != nil {
			r.logger.Debug("set-environment failed",
				zap.String("name", opts.Name),
				zap.String("key", k),
				zap.Error(err))
		}
	}

	panePid, err := r.run(ctx, "display-message", "-p", "-t", target(opts.Name), "#{pane_pid}")
	if err != nil {
		_, _ = r.run(ctx, "kill-session", "-t", target(opts.Name))
		return plugin.Handle{}, err
	}

	h := plugin.Handle{
		ID:          opts.Name,
		RuntimeName: r.Name(),
		Data:        map[string]string{"panePid": strings.TrimSpace(panePid)},
	}
	r.logger.Info("created tmux session",
		zap.String("name", opts.Name),
		zap.String("pane_pid", h.Data["panePid"]))
	return h, nil
}

// Destroy interrupts the foreground process, waits briefly for a clean
// exit, then kills the session. Destroying a dead session succeeds.
func (r *Runtime) Destroy(ctx context.Context, h plugin.Handle) error {
	alive, err := r.hasSession(ctx, h.ID)
	if err != nil {
		return err
	}
	if !alive {
		return nil
	}

	_, _ = r.run(ctx, "send-keys", "-t", target(h.ID), "C-c")

	deadline := time.Now().Add(gracefulStopTimeout)
	for time.Now().Before(deadline) {
		if alive, _ := r.hasSession(ctx, h.ID); !alive {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}

	if _, err := r.run(ctx, "kill-session", "-t", target(h.ID)); err != nil {
		// Racing a self-exit is fine.
		if alive, _ := r.hasSession(ctx, h.ID); !alive {
			return nil
		}
		return err
	}
	r.logger.Info("killed tmux session", zap.String("name", h.ID))
	return nil
}

// SendMessage types the text literally, pauses long enough for the pane
// to ingest it, then presses Enter. The pause scales with message size;
// sending Enter too early submits a truncated prompt.
func (r *Runtime) SendMessage(ctx context.Context, h plugin.Handle, text string) error {
	if _, err := r.run(ctx, "send-keys", "-t", target(h.ID), "-l", "--", text); err != nil {
		return err
	}

	debounce := 200*time.Millisecond + time.Duration(len(text)/1024)*100*time.Millisecond
	if debounce > maxSendDebounce {
		debounce = maxSendDebounce
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(debounce):
	}

	_, err := r.run(ctx, "send-keys", "-t", target(h.ID), "Enter")
	return err
}

// GetOutput captures the last n visible lines of the pane.
func (r *Runtime) GetOutput(ctx context.Context, h plugin.Handle, lines int) (string, error) {
	out, err := r.run(ctx, "capture-pane", "-p", "-t", target(h.ID),
		"-S", fmt.Sprintf("-%d", lines))
	if err != nil {
		return "", err
	}
	return trimToLastLines(out, lines), nil
}

// IsAlive reports whether the session exists.
func (r *Runtime) IsAlive(ctx context.Context, h plugin.Handle) (bool, error) {
	return r.hasSession(ctx, h.ID)
}

func (r *Runtime) hasSession(ctx context.Context, name string) (bool, error) {
	cmd := exec.CommandContext(ctx, "tmux", "has-session", "-t", target(name))
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	// Exit status 1 means no such session; "no server running" on stderr
	// exits non-zero too. Both mean dead.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, oerr.Wrap(oerr.KindPlugin, err, "tmux has-session")
}

// trimToLastLines keeps at most n lines, dropping trailing blank capture
// padding first.
func trimToLastLines(out string, n int) string {
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
