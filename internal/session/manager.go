package session

import (
	"context"
	"sort"
	"sync"

	"github.com/agentorch/ao/internal/common/config"
	"github.com/agentorch/ao/internal/common/logger"
	"github.com/agentorch/ao/internal/events"
	"github.com/agentorch/ao/internal/metadata"
	"github.com/agentorch/ao/internal/oerr"
	"github.com/agentorch/ao/internal/paths"
	"github.com/agentorch/ao/internal/plugin"
)

// ProjectEnv bundles everything needed to operate sessions of one
// project: its resolved plugins, directory layout and metadata store.
// The lifecycle controller reaches sessions through it too.
type ProjectEnv struct {
	Config    *config.ProjectConfig
	Ref       plugin.ProjectRef
	Layout    paths.Layout
	Store     *metadata.Store
	Runtime   plugin.Runtime
	Agent     plugin.Agent
	SCM       plugin.SCM
	Tracker   plugin.Tracker
	Workspace plugin.Workspace
	Notifiers []plugin.Notifier
	Prefix    string
}

// Manager owns the canonical session map. It is the only component that
// creates or archives sessions; the lifecycle controller mutates only
// their derived status. The manager assumes it is the single writer for
// its project base directories — two orchestrators sharing one base
// could allocate colliding session numerals.
type Manager struct {
	cfg  *config.Config
	reg  *plugin.Registry
	rec  *events.Recorder
	log  *logger.Logger
	home string
	hash string

	mu       sync.Mutex
	projects map[string]*ProjectEnv
	// cache holds in-memory state that metadata does not carry in full:
	// detected PRInfo and agent session summaries.
	cache map[string]*Session
}

// NewManager builds a manager over the loaded configuration. The
// instance hash is derived from the config file's resolved path.
func NewManager(cfg *config.Config, reg *plugin.Registry, rec *events.Recorder, log *logger.Logger) (*Manager, error) {
	hash, err := paths.InstanceHash(cfg.Path)
	if err != nil {
		return nil, err
	}
	home, err := cfg.HomeDir()
	if err != nil {
		return nil, err
	}
	return &Manager{
		cfg:      cfg,
		reg:      reg,
		rec:      rec,
		log:      log.WithComponent("session-manager"),
		home:     home,
		hash:     hash,
		projects: make(map[string]*ProjectEnv),
		cache:    make(map[string]*Session),
	}, nil
}

// Hash returns the instance hash shared by all of this manager's
// projects.
func (m *Manager) Hash() string { return m.hash }

// Env resolves (and lazily initializes) the project environment: plugin
// bindings from the registry, directory layout on disk, wrapper shims.
func (m *Manager) Env(projectID string) (*ProjectEnv, error) {
	m.mu.Lock()
	if env, ok := m.projects[projectID]; ok {
		m.mu.Unlock()
		return env, nil
	}
	m.mu.Unlock()

	p, err := m.cfg.Project(projectID)
	if err != nil {
		return nil, err
	}

	env := &ProjectEnv{Config: p}
	if env.Runtime, err = m.reg.Runtime(p.Plugins.Runtime); err != nil {
		return nil, err
	}
	if env.Agent, err = m.reg.Agent(p.Plugins.Agent); err != nil {
		return nil, err
	}
	if env.SCM, err = m.reg.SCM(p.Plugins.SCM); err != nil {
		return nil, err
	}
	if env.Tracker, err = m.reg.Tracker(p.Plugins.Tracker); err != nil {
		return nil, err
	}
	if env.Workspace, err = m.reg.Workspace(p.Plugins.Workspace); err != nil {
		return nil, err
	}
	if env.Notifiers, err = m.reg.Notifiers(p.Plugins.Notifiers); err != nil {
		return nil, err
	}

	env.Ref = projectRef(p)
	env.Prefix = p.SessionPrefix
	if env.Prefix == "" {
		env.Prefix = paths.DerivePrefix(projectID)
	}
	env.Layout = paths.NewLayout(m.home, m.hash, p.RepoPath)
	if err := env.Layout.Ensure(m.cfg.Path); err != nil {
		return nil, err
	}
	if err := writeShims(env.Layout.Bin); err != nil {
		return nil, err
	}
	env.Store = metadata.NewStore(env.Layout.Sessions)

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.projects[projectID]; ok {
		return existing, nil
	}
	m.projects[projectID] = env
	return env, nil
}

func projectRef(p *config.ProjectConfig) plugin.ProjectRef {
	ref := plugin.ProjectRef{
		ID:            p.ID,
		RepoPath:      p.RepoPath,
		DefaultBranch: p.DefaultBranch,
		BotLogins:     p.BotLogins,
	}
	if owner, repo, ok := splitRepo(p.Repo); ok {
		ref.Owner, ref.Repo = owner, repo
	}
	return ref
}

func splitRepo(repo string) (owner, name string, ok bool) {
	for i := 0; i < len(repo); i++ {
		if repo[i] == '/' {
			return repo[:i], repo[i+1:], i > 0 && i < len(repo)-1
		}
	}
	return "", "", false
}

// projectScope resolves the project ids an operation covers: one id, or
// every configured project when the id is empty.
func (m *Manager) projectScope(projectID string) ([]string, error) {
	if projectID != "" {
		if _, err := m.cfg.Project(projectID); err != nil {
			return nil, err
		}
		return []string{projectID}, nil
	}
	ids := make([]string, 0, len(m.cfg.Projects))
	for id := range m.cfg.Projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// load reads a session from its store and overlays cached in-memory
// state.
func (m *Manager) load(env *ProjectEnv, id string) (*Session, error) {
	kv, err := env.Store.Read(id)
	if err != nil {
		return nil, err
	}
	s := FromMetadata(id, kv)
	m.mu.Lock()
	if cached, ok := m.cache[id]; ok {
		if cached.PR != nil && (s.PR == nil || cached.PR.URL == s.Metadata[metadata.KeyPR]) {
			s.PR = cached.PR
		}
		s.AgentInfo = cached.AgentInfo
	}
	m.mu.Unlock()
	return s, nil
}

// find locates a live session by id across the manager's projects.
func (m *Manager) find(id string) (*Session, *ProjectEnv, error) {
	scope, err := m.projectScope("")
	if err != nil {
		return nil, nil, err
	}
	for _, projectID := range scope {
		env, err := m.Env(projectID)
		if err != nil {
			return nil, nil, err
		}
		s, err := m.load(env, id)
		if err != nil {
			if oerr.IsNotFound(err) {
				continue
			}
			return nil, nil, err
		}
		return s, env, nil
	}
	return nil, nil, oerr.E(oerr.KindNotFound, "session %s not found", id)
}

// List returns the sessions in scope, sorted by id. Pure read of current
// metadata.
func (m *Manager) List(projectID string) ([]*Session, error) {
	scope, err := m.projectScope(projectID)
	if err != nil {
		return nil, err
	}
	var out []*Session
	for _, pid := range scope {
		env, err := m.Env(pid)
		if err != nil {
			return nil, err
		}
		ids, err := env.Store.List()
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			s, err := m.load(env, id)
			if err != nil {
				if oerr.IsNotFound(err) {
					continue
				}
				return nil, err
			}
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns the session with the given id, or (nil, nil) when no live
// session has it.
func (m *Manager) Get(id string) (*Session, error) {
	s, _, err := m.find(id)
	if err != nil {
		if oerr.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// FindSessionForIssue returns the live session working the given issue,
// if any. This is the dedupe check spawn relies on.
func (m *Manager) FindSessionForIssue(projectID, issueID string) (*Session, error) {
	env, err := m.Env(projectID)
	if err != nil {
		return nil, err
	}
	id, _, err := env.Store.FindByField(metadata.KeyIssue, issueID)
	if err != nil {
		if oerr.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return m.load(env, id)
}

// Send delivers a message to the session's runtime host.
func (m *Manager) Send(ctx context.Context, id, message string) error {
	s, env, err := m.find(id)
	if err != nil {
		return err
	}
	if s.Status.IsTerminal() {
		return oerr.E(oerr.KindConflictingState, "session %s is %s and cannot receive input", id, s.Status)
	}
	if err := env.Runtime.SendMessage(ctx, s.Handle, message); err != nil {
		return oerr.WrapPlugin(string(plugin.SlotRuntime), env.Runtime.Name(), err)
	}
	return nil
}

// UpdateCache records in-memory session state the metadata file does not
// carry. Used by the lifecycle controller after PR detection.
func (m *Manager) UpdateCache(s *Session) {
	m.mu.Lock()
	m.cache[s.ID] = s
	m.mu.Unlock()
}

func (m *Manager) dropCache(id string) {
	m.mu.Lock()
	delete(m.cache, id)
	m.mu.Unlock()
}

func (m *Manager) emit(ctx context.Context, e events.Event) {
	if m.rec == nil {
		return
	}
	if err := m.rec.Emit(ctx, e); err != nil {
		m.log.WithError(err).Warn("event emit failed")
	}
}
