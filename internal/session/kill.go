package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/agentorch/ao/internal/events"
	"github.com/agentorch/ao/internal/metadata"
	"github.com/agentorch/ao/internal/oerr"
	"github.com/agentorch/ao/internal/plugin"
)

// Kill terminates a session: best-effort host teardown, worktree
// removal, metadata archival. Killing an already-archived session is a
// no-op success so retried kills are safe; killing an unknown id is
// NotFound.
func (m *Manager) Kill(ctx context.Context, id string) error {
	return m.finish(ctx, id, StatusKilled)
}

// finish tears a session down and archives it under its true terminal
// status: killed for explicit kills, merged when cleanup reaped a
// finished PR. A status that already went terminal wins over the
// requested one so a merged session is never re-labeled killed.
func (m *Manager) finish(ctx context.Context, id string, final Status) error {
	s, env, err := m.find(id)
	if err != nil {
		if oerr.IsNotFound(err) && m.hasArchive(id) {
			return nil
		}
		return err
	}
	if s.Status.IsTerminal() {
		final = s.Status
	}
	log := m.log.WithSession(id)

	if s.Handle.ID != "" {
		if err := env.Runtime.Destroy(ctx, s.Handle); err != nil {
			log.WithError(err).Warn("host teardown failed")
		}
	}
	if s.WorkspacePath != "" {
		if err := env.Workspace.Remove(ctx, env.Ref, s.WorkspacePath, s.Branch); err != nil {
			log.WithError(err).Warn("worktree removal failed")
		}
	}

	// Record the final status in the archive. The update is best-effort:
	// a session must be archivable even when its metadata write fails.
	if _, err := env.Store.Update(id, map[string]string{metadata.KeyStatus: string(final)}); err != nil {
		log.WithError(err).Warn("final status write failed")
	}
	if _, err := env.Store.Archive(id, time.Now()); err != nil {
		return err
	}
	m.dropCache(id)

	m.emit(ctx, events.New(events.SessionStatusType(string(final)), id, s.ProjectID,
		fmt.Sprintf("session %s %s", id, final), nil))
	log.Info("session finished", zap.String("final_status", string(final)))
	return nil
}

// hasArchive reports whether any project's archive holds the id.
func (m *Manager) hasArchive(id string) bool {
	scope, err := m.projectScope("")
	if err != nil {
		return false
	}
	for _, projectID := range scope {
		env, err := m.Env(projectID)
		if err != nil {
			continue
		}
		if _, _, err := env.Store.ReadArchivedRaw(id); err == nil {
			return true
		}
	}
	return false
}

// CleanupOptions tunes a cleanup pass.
type CleanupOptions struct {
	// DryRun reports what would be killed without mutating anything.
	DryRun bool
}

// CleanupError records one session cleanup could not evaluate.
type CleanupError struct {
	SessionID string `json:"sessionId"`
	Err       string `json:"error"`
}

// CleanupReport is the outcome of one cleanup pass.
type CleanupReport struct {
	Killed  []string       `json:"killed"`
	Skipped []string       `json:"skipped"`
	Errors  []CleanupError `json:"errors,omitempty"`
}

// Cleanup kills sessions that are finished: PR merged, or host dead with
// the agent process gone. A failing PR lookup for one session is
// recorded and does not block cleanup of the others.
func (m *Manager) Cleanup(ctx context.Context, projectID string, opts CleanupOptions) (*CleanupReport, error) {
	sessions, err := m.List(projectID)
	if err != nil {
		return nil, err
	}

	report := &CleanupReport{Killed: []string{}, Skipped: []string{}}
	for _, s := range sessions {
		env, err := m.Env(s.ProjectID)
		if err != nil {
			report.Errors = append(report.Errors, CleanupError{SessionID: s.ID, Err: err.Error()})
			continue
		}
		final, err := m.finishedStatus(ctx, env, s)
		if err != nil {
			report.Errors = append(report.Errors, CleanupError{SessionID: s.ID, Err: err.Error()})
			continue
		}
		if final == "" {
			report.Skipped = append(report.Skipped, s.ID)
			continue
		}
		if opts.DryRun {
			report.Killed = append(report.Killed, s.ID)
			continue
		}
		if err := m.finish(ctx, s.ID, final); err != nil {
			report.Errors = append(report.Errors, CleanupError{SessionID: s.ID, Err: err.Error()})
			continue
		}
		report.Killed = append(report.Killed, s.ID)
	}

	m.log.Info("cleanup pass complete",
		zap.Int("killed", len(report.Killed)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("errors", len(report.Errors)),
		zap.Bool("dry_run", opts.DryRun))
	return report, nil
}

// finishedStatus decides whether cleanup should reap a session and
// under which terminal status: merged when its PR merged, killed when
// its host is dead and the agent process has exited, "" while it is
// still live.
func (m *Manager) finishedStatus(ctx context.Context, env *ProjectEnv, s *Session) (Status, error) {
	pr := s.PR
	if (pr == nil || pr.Number == 0) && s.Branch != "" {
		detected, err := env.SCM.DetectPR(ctx, s.Branch, env.Ref)
		if err != nil {
			return "", oerr.WrapPlugin(string(plugin.SlotSCM), env.SCM.Name(), err)
		}
		pr = detected
	}
	if pr != nil {
		state, err := env.SCM.GetPRState(ctx, *pr)
		if err != nil {
			return "", oerr.WrapPlugin(string(plugin.SlotSCM), env.SCM.Name(), err)
		}
		if state == plugin.PRStateMerged {
			return StatusMerged, nil
		}
	}

	alive, err := env.Runtime.IsAlive(ctx, s.Handle)
	if err != nil {
		return "", oerr.WrapPlugin(string(plugin.SlotRuntime), env.Runtime.Name(), err)
	}
	if alive {
		return "", nil
	}
	running, err := env.Agent.IsProcessRunning(ctx, s.Handle)
	if err != nil {
		return "", oerr.WrapPlugin(string(plugin.SlotAgent), env.Agent.Name(), err)
	}
	if !running {
		return StatusKilled, nil
	}
	return "", nil
}
