package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentorch/ao/internal/common/logger"
	"github.com/agentorch/ao/internal/events"
	"github.com/agentorch/ao/internal/metadata"
	"github.com/agentorch/ao/internal/oerr"
	"github.com/agentorch/ao/internal/paths"
	"github.com/agentorch/ao/internal/plan"
	"github.com/agentorch/ao/internal/plugin"
	"github.com/agentorch/ao/internal/tracing"
)

// SpawnRequest parameterizes a spawn.
type SpawnRequest struct {
	ProjectID string
	// IssueID, when set, is deduplicated: a live session already working
	// the issue is returned instead of spawning a second one.
	IssueID string
	// Prompt overrides the initial prompt composed from the issue.
	Prompt string
	// PlanTask is the validated plan task backing this spawn. Required
	// when the project policy requireValidatedPlanTask is set.
	PlanTask *plan.Task
}

// Spawn creates a session: worktree, runtime host, agent launch, initial
// metadata. Partial failures roll back — a session either exists fully
// or not at all.
func (m *Manager) Spawn(ctx context.Context, req SpawnRequest) (*Session, error) {
	ctx, span := tracing.Tracer("session").Start(ctx, "spawn")
	span.SetAttributes(tracing.ProjectAttribute(req.ProjectID))
	defer span.End()

	env, err := m.Env(req.ProjectID)
	if err != nil {
		return nil, err
	}
	if env.Config.Policies.RequireValidatedPlanTask && req.PlanTask == nil {
		return nil, oerr.E(oerr.KindPolicyViolation,
			"project %s requires a validated plan task for spawn", req.ProjectID)
	}

	if req.IssueID != "" {
		existing, err := m.FindSessionForIssue(req.ProjectID, req.IssueID)
		if err != nil {
			return nil, err
		}
		if existing != nil && !existing.Status.IsTerminal() {
			m.log.Info("issue already has a live session",
				zap.String("issue", req.IssueID), zap.String("session_id", existing.ID))
			return existing, nil
		}
	}

	n, err := env.Store.NextNumeral(env.Prefix)
	if err != nil {
		return nil, err
	}
	id := fmt.Sprintf("%s-%d", env.Prefix, n)
	branch := "ao/" + id
	span.SetAttributes(tracing.SessionAttribute(id))
	log := m.log.WithSession(id)

	workDir, err := env.Workspace.Provision(ctx, env.Ref, env.Layout.Worktrees, id, branch)
	if err != nil {
		return nil, oerr.WrapPlugin(string(plugin.SlotWorkspace), env.Workspace.Name(), err)
	}

	s := &Session{
		ID:            id,
		ProjectID:     req.ProjectID,
		WorkspacePath: workDir,
		CreatedAt:     time.Now().UTC(),
		Status:        StatusSpawning,
		Branch:        branch,
		IssueID:       req.IssueID,
		Metadata:      map[string]string{},
	}

	if err := m.startHost(ctx, env, s, req.Prompt, req.PlanTask); err != nil {
		m.removeWorkspace(ctx, env, s, log)
		return nil, err
	}

	if err := m.writeInitial(env, s); err != nil {
		log.WithError(err).Warn("initial metadata write failed, retrying once")
		if err = m.writeInitial(env, s); err != nil {
			m.teardown(ctx, env, s, log)
			return nil, err
		}
	}

	m.UpdateCache(s)
	m.emit(ctx, events.New(events.TypeSessionSpawned, id, req.ProjectID,
		fmt.Sprintf("session %s spawned on %s", id, branch), nil))
	log.Info("session spawned",
		zap.String("branch", branch), zap.String("worktree", workDir))
	return s, nil
}

// startHost creates the runtime host and launches the agent in it,
// tearing the host down if the launch fails.
func (m *Manager) startHost(ctx context.Context, env *ProjectEnv, s *Session, prompt string, task *plan.Task) error {
	spec := m.launchSpec(ctx, env, s, prompt, task)

	hostEnv := m.agentEnviron(env, s)
	for k, v := range env.Agent.GetEnvironment(spec) {
		hostEnv[k] = v
	}
	for k, v := range env.Config.Agent.Env {
		hostEnv[k] = v
	}

	handle, err := env.Runtime.Create(ctx, plugin.CreateOptions{
		Name:    paths.RuntimeName(m.hash, s.ID),
		WorkDir: s.WorkspacePath,
		Env:     hostEnv,
	})
	if err != nil {
		return oerr.WrapPlugin(string(plugin.SlotRuntime), env.Runtime.Name(), err)
	}
	s.Handle = handle

	cmd, err := env.Agent.GetLaunchCommand(spec)
	if err == nil {
		err = env.Runtime.SendMessage(ctx, handle, cmd)
	}
	if err != nil {
		if derr := env.Runtime.Destroy(ctx, handle); derr != nil {
			m.log.WithSession(s.ID).WithError(derr).Warn("host teardown after failed launch")
		}
		return oerr.WrapPlugin(string(plugin.SlotAgent), env.Agent.Name(), err)
	}
	return nil
}

func (m *Manager) launchSpec(ctx context.Context, env *ProjectEnv, s *Session, prompt string, task *plan.Task) plugin.LaunchSpec {
	spec := plugin.LaunchSpec{
		SessionID: s.ID,
		ProjectID: s.ProjectID,
		IssueID:   s.IssueID,
		Prompt:    prompt,
		WorkDir:   s.WorkspacePath,
		Rules:     env.Config.AgentRules,
		Binary:    env.Config.Agent.Binary,
		Args:      env.Config.Agent.Args,
	}
	if task != nil && spec.Prompt == "" {
		spec.Prompt = task.Title
		if task.Description != "" {
			spec.Prompt += "\n\n" + task.Description
		}
	}
	if s.IssueID != "" {
		if issue, err := env.Tracker.GetIssue(ctx, s.IssueID, env.Ref); err != nil {
			m.log.WithSession(s.ID).WithError(err).Warn("issue lookup failed")
		} else if issue != nil {
			spec.IssueTitle = issue.Title
			if issue.URL != "" {
				s.IssueID = issue.URL
			}
		}
	}
	return spec
}

// agentEnviron builds the base environment every session host gets: the
// AO_* identity variables, the metadata file the git/gh shims append to,
// and a PATH that puts the shims first.
func (m *Manager) agentEnviron(env *ProjectEnv, s *Session) map[string]string {
	out := map[string]string{
		"AO_SESSION_ID":   s.ID,
		"AO_PROJECT_ID":   s.ProjectID,
		"AO_SESSION_META": filepath.Join(env.Store.Dir(), s.ID),
		"PATH":            env.Layout.Bin + string(os.PathListSeparator) + os.Getenv("PATH"),
	}
	if s.IssueID != "" {
		out["AO_ISSUE_ID"] = s.IssueID
	}
	return out
}

func (m *Manager) writeInitial(env *ProjectEnv, s *Session) error {
	kv, err := s.ToMetadata()
	if err != nil {
		return err
	}
	return env.Store.Write(s.ID, kv)
}

func (m *Manager) removeWorkspace(ctx context.Context, env *ProjectEnv, s *Session, log *logger.Logger) {
	if s.WorkspacePath == "" {
		return
	}
	if err := env.Workspace.Remove(ctx, env.Ref, s.WorkspacePath, s.Branch); err != nil {
		log.Warn("workspace removal failed", zap.Error(err), zap.String("path", s.WorkspacePath))
	}
}

func (m *Manager) teardown(ctx context.Context, env *ProjectEnv, s *Session, log *logger.Logger) {
	if s.Handle.ID != "" {
		if err := env.Runtime.Destroy(ctx, s.Handle); err != nil {
			log.Warn("host teardown failed", zap.Error(err))
		}
	}
	m.removeWorkspace(ctx, env, s, log)
}

// Restore resurrects a terminated session on its original branch: the
// worktree is recreated if needed, a fresh host started, and the agent
// relaunched. Only sessions in a terminal status can be restored.
func (m *Manager) Restore(ctx context.Context, id string) (*Session, error) {
	s, env, err := m.find(id)
	switch {
	case err == nil:
		if !s.Status.IsTerminal() {
			return nil, oerr.E(oerr.KindConflictingState,
				"session %s is %s; only terminated sessions can be restored", id, s.Status)
		}
	case oerr.IsNotFound(err):
		s, env, err = m.fromArchive(id)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	log := m.log.WithSession(id)

	if !dirExists(s.WorkspacePath) {
		workDir, err := env.Workspace.Provision(ctx, env.Ref, env.Layout.Worktrees, id, s.Branch)
		if err != nil {
			return nil, oerr.WrapPlugin(string(plugin.SlotWorkspace), env.Workspace.Name(), err)
		}
		s.WorkspacePath = workDir
	}

	s.Status = StatusSpawning
	s.Activity = ""
	s.Handle = plugin.Handle{}
	if err := m.startHost(ctx, env, s, "", nil); err != nil {
		m.removeWorkspace(ctx, env, s, log)
		return nil, err
	}

	if err := m.writeInitial(env, s); err != nil {
		if err = m.writeInitial(env, s); err != nil {
			m.teardown(ctx, env, s, log)
			return nil, err
		}
	}

	m.UpdateCache(s)
	m.emit(ctx, events.New(events.TypeSessionRestored, id, s.ProjectID,
		fmt.Sprintf("session %s restored on %s", id, s.Branch), nil))
	log.Info("session restored", zap.String("branch", s.Branch))
	return s, nil
}

// fromArchive reconstitutes a session from its newest archived metadata.
func (m *Manager) fromArchive(id string) (*Session, *ProjectEnv, error) {
	scope, err := m.projectScope("")
	if err != nil {
		return nil, nil, err
	}
	for _, projectID := range scope {
		env, err := m.Env(projectID)
		if err != nil {
			return nil, nil, err
		}
		raw, _, err := env.Store.ReadArchivedRaw(id)
		if err != nil {
			if oerr.IsNotFound(err) {
				continue
			}
			return nil, nil, err
		}
		s := FromMetadata(id, metadata.Parse(raw))
		if s.ProjectID == "" {
			s.ProjectID = projectID
		}
		return s, env, nil
	}
	return nil, nil, oerr.E(oerr.KindNotFound, "session %s not found", id)
}

func dirExists(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
