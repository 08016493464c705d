package lifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentorch/ao/internal/common/config"
	"github.com/agentorch/ao/internal/common/logger"
	"github.com/agentorch/ao/internal/events"
	"github.com/agentorch/ao/internal/plugin"
	"github.com/agentorch/ao/internal/session"
)

// --- fakes ---------------------------------------------------------------

type ctlRuntime struct {
	mu    sync.Mutex
	alive map[string]bool
	sent  map[string][]string
}

func newCtlRuntime() *ctlRuntime {
	return &ctlRuntime{alive: map[string]bool{}, sent: map[string][]string{}}
}

func (r *ctlRuntime) Name() string { return "fake" }

func (r *ctlRuntime) Create(_ context.Context, opts plugin.CreateOptions) (plugin.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alive[opts.Name] = true
	return plugin.Handle{ID: opts.Name, RuntimeName: "fake"}, nil
}

func (r *ctlRuntime) Destroy(_ context.Context, h plugin.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alive[h.ID] = false
	return nil
}

func (r *ctlRuntime) SendMessage(_ context.Context, h plugin.Handle, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent[h.ID] = append(r.sent[h.ID], text)
	return nil
}

func (r *ctlRuntime) GetOutput(context.Context, plugin.Handle, int) (string, error) {
	return "agent output", nil
}

func (r *ctlRuntime) IsAlive(_ context.Context, h plugin.Handle) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.alive[h.ID], nil
}

func (r *ctlRuntime) sentTo(id string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent[id]))
	copy(out, r.sent[id])
	return out
}

type ctlAgent struct {
	mu        sync.Mutex
	activity  plugin.Activity
	running   bool
	detectErr error
}

func (a *ctlAgent) Name() string { return "fake" }
func (a *ctlAgent) GetLaunchCommand(plugin.LaunchSpec) (string, error) {
	return "agent --start", nil
}
func (a *ctlAgent) GetEnvironment(plugin.LaunchSpec) map[string]string { return nil }
func (a *ctlAgent) DetectActivity(string) (plugin.Activity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.detectErr != nil {
		return "", a.detectErr
	}
	return a.activity, nil
}
func (a *ctlAgent) GetSessionInfo(context.Context, string) (*plugin.AgentSessionInfo, error) {
	return nil, nil
}
func (a *ctlAgent) IsProcessRunning(context.Context, plugin.Handle) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running, nil
}

func (a *ctlAgent) set(activity plugin.Activity, running bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.activity = activity
	a.running = running
}

type ctlSCM struct {
	mu       sync.Mutex
	pr       *plugin.PRInfo
	state    plugin.PRState
	ci       plugin.CISummary
	review   plugin.ReviewDecision
	merge    plugin.Mergeability
	comments []plugin.AutomatedComment

	detectErr error
	stateErr  error
	ciErr     error
	reviewErr error
	mergeErr  error
}

func newCtlSCM() *ctlSCM {
	return &ctlSCM{state: plugin.PRStateOpen, ci: plugin.CINone, review: plugin.ReviewNone}
}

func (s *ctlSCM) Name() string { return "fake" }
func (s *ctlSCM) DetectPR(context.Context, string, plugin.ProjectRef) (*plugin.PRInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pr, s.detectErr
}
// errUnknownPR mirrors the real forge: per-PR queries need a number.
var errUnknownPR = errors.New("no pr number")

func (s *ctlSCM) GetPRState(_ context.Context, pr plugin.PRInfo) (plugin.PRState, error) {
	if pr.Number == 0 {
		return "", errUnknownPR
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.stateErr
}
func (s *ctlSCM) GetCISummary(_ context.Context, pr plugin.PRInfo) (plugin.CISummary, error) {
	if pr.Number == 0 {
		return "", errUnknownPR
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ci, s.ciErr
}
func (s *ctlSCM) GetReviewDecision(_ context.Context, pr plugin.PRInfo) (plugin.ReviewDecision, error) {
	if pr.Number == 0 {
		return "", errUnknownPR
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.review, s.reviewErr
}
func (s *ctlSCM) GetPendingComments(context.Context, plugin.PRInfo) ([]plugin.Comment, error) {
	return nil, nil
}
func (s *ctlSCM) GetAutomatedComments(_ context.Context, pr plugin.PRInfo, _ []string) ([]plugin.AutomatedComment, error) {
	if pr.Number == 0 {
		return nil, errUnknownPR
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.comments, nil
}
func (s *ctlSCM) GetMergeability(_ context.Context, pr plugin.PRInfo) (plugin.Mergeability, error) {
	if pr.Number == 0 {
		return plugin.Mergeability{}, errUnknownPR
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.merge, s.mergeErr
}
func (s *ctlSCM) MergePR(context.Context, plugin.PRInfo) error { return nil }
func (s *ctlSCM) ClosePR(context.Context, plugin.PRInfo) error { return nil }

func (s *ctlSCM) setComments(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments = s.comments[:0]
	for _, id := range ids {
		s.comments = append(s.comments, plugin.AutomatedComment{ID: id, Author: "bugbot"})
	}
}

type ctlTracker struct{}

func (ctlTracker) Name() string { return "fake" }
func (ctlTracker) GetIssue(_ context.Context, issueID string, _ plugin.ProjectRef) (*plugin.Issue, error) {
	return &plugin.Issue{ID: issueID, Title: "issue", State: "open"}, nil
}

type ctlWorkspace struct{}

func (ctlWorkspace) Name() string { return "fake" }
func (ctlWorkspace) Provision(_ context.Context, _ plugin.ProjectRef, root, sessionID, _ string) (string, error) {
	path := filepath.Join(root, sessionID)
	return path, os.MkdirAll(path, 0o755)
}
func (ctlWorkspace) Remove(_ context.Context, _ plugin.ProjectRef, path, _ string) error {
	return os.RemoveAll(path)
}

type ctlNotifier struct {
	mu       sync.Mutex
	received []plugin.Notification
}

func (n *ctlNotifier) Name() string { return "fake" }
func (n *ctlNotifier) Notify(_ context.Context, msg plugin.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.received = append(n.received, msg)
	return nil
}

func (n *ctlNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.received)
}

// fakeClock lets tests march the controller's time forward.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// --- fixture -------------------------------------------------------------

type ctlFixture struct {
	cfg        *config.Config
	reg        *plugin.Registry
	rec        *events.Recorder
	manager    *session.Manager
	controller *Controller
	runtime    *ctlRuntime
	agent      *ctlAgent
	scm        *ctlSCM
	notifier   *ctlNotifier
	clock      *fakeClock
	log        *events.Log
}

func newCtlFixture(t *testing.T, reactions map[string]config.ReactionConfig) *ctlFixture {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("projects: {}\n"), 0o644))

	cfg := &config.Config{
		Path: cfgPath,
		Home: filepath.Join(dir, "home"),
		Controller: config.ControllerConfig{
			PollInterval: time.Second,
			Parallelism:  4,
			CallTimeout:  5 * time.Second,
			OutputLines:  50,
		},
		Reactions: reactions,
		Projects: map[string]config.ProjectConfig{
			"myapp": {
				ID:            "myapp",
				Repo:          "acme/myapp",
				RepoPath:      filepath.Join(dir, "repo"),
				DefaultBranch: "main",
				Plugins: config.PluginBindings{
					Runtime: "fake", Agent: "fake", SCM: "fake",
					Tracker: "fake", Workspace: "fake", Notifiers: []string{"fake"},
				},
			},
		},
	}

	f := &ctlFixture{
		runtime:  newCtlRuntime(),
		agent:    &ctlAgent{activity: plugin.ActivityActive, running: true},
		scm:      newCtlSCM(),
		notifier: &ctlNotifier{},
		clock:    &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	reg := plugin.NewRegistry()
	require.NoError(t, reg.RegisterRuntime(f.runtime))
	require.NoError(t, reg.RegisterAgent(f.agent))
	require.NoError(t, reg.RegisterSCM(f.scm))
	require.NoError(t, reg.RegisterTracker(ctlTracker{}))
	require.NoError(t, reg.RegisterWorkspace(ctlWorkspace{}))
	require.NoError(t, reg.RegisterNotifier(f.notifier))
	reg.Freeze()

	eventLog, err := events.OpenLog(filepath.Join(dir, "events.jsonl"), 1<<20, 2)
	require.NoError(t, err)
	t.Cleanup(func() { eventLog.Close() })
	f.log = eventLog
	rec := events.NewRecorder(eventLog, nil, logger.Default())

	m, err := session.NewManager(cfg, reg, rec, logger.Default())
	require.NoError(t, err)
	f.cfg, f.reg, f.rec = cfg, reg, rec
	f.manager = m

	f.controller = New(m, reg, cfg, rec, logger.Default(), Options{Now: f.clock.Now})
	return f
}

// restart rebuilds the manager and controller over the same store, as an
// orchestrator restart would: only the metadata files survive.
func (f *ctlFixture) restart(t *testing.T) {
	t.Helper()
	m, err := session.NewManager(f.cfg, f.reg, f.rec, logger.Default())
	require.NoError(t, err)
	f.manager = m
	f.controller = New(m, f.reg, f.cfg, f.rec, logger.Default(), Options{Now: f.clock.Now})
}

func (f *ctlFixture) spawn(t *testing.T) *session.Session {
	t.Helper()
	s, err := f.manager.Spawn(context.Background(), session.SpawnRequest{ProjectID: "myapp"})
	require.NoError(t, err)
	return s
}

func (f *ctlFixture) status(t *testing.T, id string) session.Status {
	t.Helper()
	s, err := f.manager.Get(id)
	require.NoError(t, err)
	require.NotNil(t, s)
	return s.Status
}

func (f *ctlFixture) eventTypes(t *testing.T) []string {
	t.Helper()
	evts, err := f.log.Tail(100)
	require.NoError(t, err)
	types := make([]string, len(evts))
	for i, e := range evts {
		types[i] = e.Type
	}
	return types
}

// agentMessages returns messages sent to the host after the launch
// command.
func (f *ctlFixture) agentMessages(id string) []string {
	all := f.runtime.sentTo(id)
	if len(all) == 0 {
		return nil
	}
	return all[1:]
}

// --- tests ---------------------------------------------------------------

func TestTickTransitionsSpawningToWorking(t *testing.T) {
	f := newCtlFixture(t, nil)
	s := f.spawn(t)

	f.controller.Tick(context.Background())

	assert.Equal(t, session.StatusWorking, f.status(t, s.ID))
	assert.Contains(t, f.eventTypes(t), "session.working")
}

func TestIdleWithDeadAgentProcessIsKilled(t *testing.T) {
	f := newCtlFixture(t, nil)
	s := f.spawn(t)

	// The host is up but the agent process inside it exited; an idle
	// prompt must not read as working.
	f.agent.set(plugin.ActivityIdle, false)
	f.controller.Tick(context.Background())

	assert.Equal(t, session.StatusKilled, f.status(t, s.ID))
	assert.Contains(t, f.eventTypes(t), "session.killed")
}

func TestDeadHostIsKilled(t *testing.T) {
	f := newCtlFixture(t, nil)
	s := f.spawn(t)

	f.runtime.mu.Lock()
	f.runtime.alive[s.Handle.ID] = false
	f.runtime.mu.Unlock()
	f.controller.Tick(context.Background())

	assert.Equal(t, session.StatusKilled, f.status(t, s.ID))
}

func TestWaitingInputAndBlockedMapDirectly(t *testing.T) {
	f := newCtlFixture(t, nil)
	s := f.spawn(t)

	f.agent.set(plugin.ActivityWaitingInput, true)
	f.controller.Tick(context.Background())
	assert.Equal(t, session.StatusNeedsInput, f.status(t, s.ID))

	f.agent.set(plugin.ActivityBlocked, true)
	f.controller.Tick(context.Background())
	assert.Equal(t, session.StatusStuck, f.status(t, s.ID))
}

func TestDetectActivityErrorPreservesStatus(t *testing.T) {
	f := newCtlFixture(t, nil)
	s := f.spawn(t)

	f.agent.set(plugin.ActivityWaitingInput, true)
	f.controller.Tick(context.Background())
	require.Equal(t, session.StatusNeedsInput, f.status(t, s.ID))

	f.agent.mu.Lock()
	f.agent.detectErr = assert.AnError
	f.agent.mu.Unlock()
	f.controller.Tick(context.Background())

	assert.Equal(t, session.StatusNeedsInput, f.status(t, s.ID),
		"a failed read must not look like progress")
}

func TestSCMOverlayLadder(t *testing.T) {
	f := newCtlFixture(t, nil)
	s := f.spawn(t)
	f.scm.pr = &plugin.PRInfo{Number: 7, URL: "https://example.com/pr/7", Branch: s.Branch}

	f.controller.Tick(context.Background())
	assert.Equal(t, session.StatusPROpen, f.status(t, s.ID))

	f.scm.ci = plugin.CIPassing
	f.controller.Tick(context.Background())
	assert.Equal(t, session.StatusCIPassing, f.status(t, s.ID))

	f.scm.review = plugin.ReviewPending
	f.controller.Tick(context.Background())
	assert.Equal(t, session.StatusReviewPending, f.status(t, s.ID))

	f.scm.review = plugin.ReviewApproved
	f.controller.Tick(context.Background())
	assert.Equal(t, session.StatusApproved, f.status(t, s.ID))

	f.scm.merge = plugin.Mergeability{Mergeable: true, CIPassing: true, Approved: true, NoConflicts: true}
	f.controller.Tick(context.Background())
	assert.Equal(t, session.StatusMergeable, f.status(t, s.ID))

	f.scm.state = plugin.PRStateMerged
	f.controller.Tick(context.Background())
	assert.Equal(t, session.StatusMerged, f.status(t, s.ID))
}

func TestCIFailureOutranksMergeability(t *testing.T) {
	f := newCtlFixture(t, nil)
	s := f.spawn(t)
	f.scm.pr = &plugin.PRInfo{Number: 7, URL: "https://example.com/pr/7", Branch: s.Branch}
	f.scm.ci = plugin.CIFailing
	f.scm.review = plugin.ReviewApproved
	f.scm.merge = plugin.Mergeability{Mergeable: true, CIPassing: true, Approved: true, NoConflicts: true}

	f.controller.Tick(context.Background())
	assert.Equal(t, session.StatusCIFailed, f.status(t, s.ID))
}

func TestSCMFailurePreservesFamilyStatus(t *testing.T) {
	f := newCtlFixture(t, nil)
	s := f.spawn(t)
	f.scm.pr = &plugin.PRInfo{Number: 7, URL: "https://example.com/pr/7", Branch: s.Branch}
	f.scm.ci = plugin.CIPassing

	f.controller.Tick(context.Background())
	require.Equal(t, session.StatusCIPassing, f.status(t, s.ID))

	// The CI query now fails; a flaky SCM must not bounce the session
	// back to pr_open.
	f.scm.mu.Lock()
	f.scm.ciErr = assert.AnError
	f.scm.mu.Unlock()
	f.controller.Tick(context.Background())

	assert.Equal(t, session.StatusCIPassing, f.status(t, s.ID))
}

func TestDeadAgentWithOpenPRIsKilled(t *testing.T) {
	f := newCtlFixture(t, nil)
	s := f.spawn(t)
	f.scm.pr = &plugin.PRInfo{Number: 7, URL: "https://example.com/pr/7", Branch: s.Branch}
	ctx := context.Background()

	f.controller.Tick(ctx)
	require.Equal(t, session.StatusPROpen, f.status(t, s.ID))

	// The agent process dies while the PR is still open; the overlay
	// must not keep a corpse in pr_open.
	f.agent.set(plugin.ActivityIdle, false)
	f.controller.Tick(ctx)

	assert.Equal(t, session.StatusKilled, f.status(t, s.ID))
}

func TestRestartRedetectsPersistedPR(t *testing.T) {
	f := newCtlFixture(t, nil)
	s := f.spawn(t)
	f.scm.pr = &plugin.PRInfo{Number: 7, URL: "https://example.com/pr/7", Branch: s.Branch}
	ctx := context.Background()

	f.controller.Tick(ctx)
	require.Equal(t, session.StatusPROpen, f.status(t, s.ID))

	// Only the PR URL survives in metadata; after a restart the number
	// must be re-detected before any per-PR query, or the session wedges
	// in its pre-restart status.
	f.restart(t)
	f.scm.state = plugin.PRStateMerged
	f.controller.Tick(ctx)

	assert.Equal(t, session.StatusMerged, f.status(t, s.ID))
}

func TestReactionSendToAgentSuppressesNotification(t *testing.T) {
	f := newCtlFixture(t, map[string]config.ReactionConfig{
		ReactionCIFailed: {Auto: true, Action: "send-to-agent", Message: "Fix the CI failure.", Retries: 1},
	})
	s := f.spawn(t)
	f.scm.pr = &plugin.PRInfo{Number: 7, URL: "https://example.com/pr/7", Branch: s.Branch}
	f.scm.ci = plugin.CIFailing

	f.controller.Tick(context.Background())

	assert.Equal(t, session.StatusCIFailed, f.status(t, s.ID))
	assert.Equal(t, []string{"Fix the CI failure."}, f.agentMessages(s.Handle.ID))
	assert.Zero(t, f.notifier.count(), "agent handled it; no human ping")
}

func TestUnconfiguredUrgentTransitionNotifiesHumans(t *testing.T) {
	f := newCtlFixture(t, nil)
	s := f.spawn(t)

	f.agent.set(plugin.ActivityWaitingInput, true)
	f.controller.Tick(context.Background())

	require.Equal(t, session.StatusNeedsInput, f.status(t, s.ID))
	assert.Equal(t, 1, f.notifier.count())
}

func TestRetriggerTimeline(t *testing.T) {
	f := newCtlFixture(t, map[string]config.ReactionConfig{
		ReactionNeedsInput: {
			Auto: true, Action: "send-to-agent", Message: "Please continue.",
			Retries: 3, RetriggerAfter: 30 * time.Second,
		},
	})
	s := f.spawn(t)
	f.agent.set(plugin.ActivityWaitingInput, true)
	ctx := context.Background()

	f.controller.Tick(ctx) // t=0: transition fires #1
	assert.Len(t, f.agentMessages(s.Handle.ID), 1)

	f.clock.Advance(31 * time.Second)
	f.controller.Tick(ctx) // t=31s: past the interval, fires #2
	assert.Len(t, f.agentMessages(s.Handle.ID), 2)

	f.clock.Advance(14 * time.Second)
	f.controller.Tick(ctx) // t=45s: only 14s since the last firing
	assert.Len(t, f.agentMessages(s.Handle.ID), 2)

	f.clock.Advance(17 * time.Second)
	f.controller.Tick(ctx) // t=62s: fires #3, exhausting the budget
	assert.Len(t, f.agentMessages(s.Handle.ID), 3)

	f.clock.Advance(28 * time.Second)
	f.controller.Tick(ctx) // t=90s: budget spent, stays quiet
	assert.Len(t, f.agentMessages(s.Handle.ID), 3)
}

func TestNoRetriggerWithoutInterval(t *testing.T) {
	f := newCtlFixture(t, map[string]config.ReactionConfig{
		ReactionStuck: {Auto: true, Action: "send-to-agent", Message: "Unstick yourself.", Retries: 5},
	})
	s := f.spawn(t)
	f.agent.set(plugin.ActivityBlocked, true)
	ctx := context.Background()

	f.controller.Tick(ctx)
	f.clock.Advance(time.Hour)
	f.controller.Tick(ctx)

	assert.Len(t, f.agentMessages(s.Handle.ID), 1, "retriggerAfter=0 means fire once")
}

func TestBugbotCommentsFireOnFingerprintChange(t *testing.T) {
	f := newCtlFixture(t, map[string]config.ReactionConfig{
		ReactionBugbotComments: {Auto: true, Action: "send-to-agent", Message: "Address the automated review comments.", Retries: 1},
	})
	s := f.spawn(t)
	f.scm.pr = &plugin.PRInfo{Number: 7, URL: "https://example.com/pr/7", Branch: s.Branch}
	ctx := context.Background()

	f.controller.Tick(ctx) // transition to pr_open, no comments yet
	require.Equal(t, session.StatusPROpen, f.status(t, s.ID))
	require.Empty(t, f.agentMessages(s.Handle.ID))

	f.scm.setComments("c1")
	f.controller.Tick(ctx) // new fingerprint: fires
	assert.Len(t, f.agentMessages(s.Handle.ID), 1)

	f.controller.Tick(ctx) // same fingerprint: quiet
	assert.Len(t, f.agentMessages(s.Handle.ID), 1)

	f.scm.setComments("c1", "c2")
	f.controller.Tick(ctx) // grown set: fires again
	assert.Len(t, f.agentMessages(s.Handle.ID), 2)

	f.scm.setComments()
	f.controller.Tick(ctx) // everything resolved: empty fingerprint never fires
	assert.Len(t, f.agentMessages(s.Handle.ID), 2)
}

func TestBugbotCommentsPresentAtTransitionStillFire(t *testing.T) {
	f := newCtlFixture(t, map[string]config.ReactionConfig{
		ReactionBugbotComments: {Auto: true, Action: "send-to-agent", Message: "Address the automated review comments.", Retries: 3},
	})
	s := f.spawn(t)
	f.scm.pr = &plugin.PRInfo{Number: 7, URL: "https://example.com/pr/7", Branch: s.Branch}
	f.scm.setComments("c1")
	ctx := context.Background()

	f.controller.Tick(ctx) // transition to pr_open with c1 already posted
	require.Equal(t, session.StatusPROpen, f.status(t, s.ID))
	require.Empty(t, f.agentMessages(s.Handle.ID))

	f.controller.Tick(ctx) // the batch that rode along the transition fires now
	assert.Len(t, f.agentMessages(s.Handle.ID), 1)

	f.scm.setComments("c1", "c2")
	f.controller.Tick(ctx) // grown set: fires again
	assert.Len(t, f.agentMessages(s.Handle.ID), 2)
}

func TestTerminateReactionKillsSession(t *testing.T) {
	f := newCtlFixture(t, map[string]config.ReactionConfig{
		ReactionStuck: {Auto: true, Action: "terminate", Retries: 1},
	})
	s := f.spawn(t)
	f.agent.set(plugin.ActivityBlocked, true)

	f.controller.Tick(context.Background())

	live, err := f.manager.Get(s.ID)
	require.NoError(t, err)
	assert.Nil(t, live, "terminated session is archived")
}

func TestTerminalSessionsAreSkipped(t *testing.T) {
	f := newCtlFixture(t, nil)
	s := f.spawn(t)

	f.agent.set(plugin.ActivityIdle, false)
	f.controller.Tick(context.Background())
	require.Equal(t, session.StatusKilled, f.status(t, s.ID))

	// A later tick must not touch it even if the fakes look alive again.
	f.agent.set(plugin.ActivityActive, true)
	f.controller.Tick(context.Background())
	assert.Equal(t, session.StatusKilled, f.status(t, s.ID))
}

func TestStartStopIdempotent(t *testing.T) {
	f := newCtlFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.controller.Start(ctx)
	f.controller.Start(ctx)
	f.controller.Stop()
	f.controller.Stop()
}
