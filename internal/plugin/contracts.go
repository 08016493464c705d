package plugin

import (
	"context"
	"time"
)

// Runtime hosts the agent process: a terminal multiplexer session, a
// local pty child, or a container. All calls are blocking and honor the
// context deadline.
type Runtime interface {
	Name() string
	// Create starts a host and returns the handle that addresses it.
	Create(ctx context.Context, opts CreateOptions) (Handle, error)
	// Destroy tears the host down. Destroying a dead host is not an error.
	Destroy(ctx context.Context, h Handle) error
	// SendMessage types text into the host followed by a carriage return.
	SendMessage(ctx context.Context, h Handle, text string) error
	// GetOutput returns the last n lines of the host's visible terminal.
	GetOutput(ctx context.Context, h Handle, lines int) (string, error)
	// IsAlive reports whether the host still exists.
	IsAlive(ctx context.Context, h Handle) (bool, error)
}

// Agent computes how to launch a coding agent and interprets its
// terminal output.
type Agent interface {
	Name() string
	// GetLaunchCommand returns the shell command that starts the agent.
	GetLaunchCommand(spec LaunchSpec) (string, error)
	// GetEnvironment returns extra environment for the agent process.
	GetEnvironment(spec LaunchSpec) map[string]string
	// DetectActivity classifies terminal output. Pure; must not fail on
	// empty input.
	DetectActivity(output string) (Activity, error)
	// GetSessionInfo reads the agent's sidecar files under the work
	// directory. Returns (nil, nil) when the agent has not written any.
	GetSessionInfo(ctx context.Context, workDir string) (*AgentSessionInfo, error)
	// IsProcessRunning reports whether the agent process itself is still
	// alive inside the host.
	IsProcessRunning(ctx context.Context, h Handle) (bool, error)
}

// SCM answers questions about the session's pull request. Implementations
// never mutate PR state except through MergePR and ClosePR.
type SCM interface {
	Name() string
	// DetectPR finds the PR for a session branch. Returns (nil, nil) when
	// no PR exists yet.
	DetectPR(ctx context.Context, branch string, project ProjectRef) (*PRInfo, error)
	GetPRState(ctx context.Context, pr PRInfo) (PRState, error)
	GetCISummary(ctx context.Context, pr PRInfo) (CISummary, error)
	GetReviewDecision(ctx context.Context, pr PRInfo) (ReviewDecision, error)
	GetPendingComments(ctx context.Context, pr PRInfo) ([]Comment, error)
	// GetAutomatedComments returns unresolved automated-reviewer comments
	// with ids stable across polls.
	GetAutomatedComments(ctx context.Context, pr PRInfo, botLogins []string) ([]AutomatedComment, error)
	GetMergeability(ctx context.Context, pr PRInfo) (Mergeability, error)
	MergePR(ctx context.Context, pr PRInfo) error
	ClosePR(ctx context.Context, pr PRInfo) error
}

// Tracker resolves issue ids to titles and states.
type Tracker interface {
	Name() string
	GetIssue(ctx context.Context, issueID string, project ProjectRef) (*Issue, error)
}

// Notification is what notifiers deliver. A thin projection of an event;
// the events package converts.
type Notification struct {
	Type      string
	Priority  string
	SessionID string
	ProjectID string
	Message   string
	Timestamp time.Time
}

// Notifier delivers notifications to humans. Implementations must retry
// rate-limit (429) and server (5xx) responses with exponential backoff
// and must not retry other client errors; timeouts are transient.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, n Notification) error
}

// Workspace provisions the directory a session works in.
type Workspace interface {
	Name() string
	// Provision creates the working directory for a session branch and
	// returns its absolute path, inside the project's worktree root.
	Provision(ctx context.Context, project ProjectRef, worktreeRoot, sessionID, branch string) (string, error)
	// Remove deletes the session's working directory. Removing a missing
	// directory is not an error.
	Remove(ctx context.Context, project ProjectRef, path, branch string) error
}
