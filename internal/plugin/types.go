// Package plugin defines the contracts the orchestrator core consumes:
// runtime hosts, agents, SCM, tracker, workspace and notifier
// implementations, plus the registry that binds them to named slots.
package plugin

import (
	"encoding/json"
	"time"

	"github.com/agentorch/ao/internal/oerr"
)

// Slot identifies one pluggable concern.
type Slot string

const (
	SlotRuntime   Slot = "runtime"
	SlotAgent     Slot = "agent"
	SlotSCM       Slot = "scm"
	SlotTracker   Slot = "tracker"
	SlotNotifier  Slot = "notifier"
	SlotWorkspace Slot = "workspace"
)

// Handle addresses one runtime host. ID is whatever the runtime
// implementation uses to find its host again (a tmux session name, a
// container id, a pid). User-facing session ids never appear here.
type Handle struct {
	ID          string            `json:"id"`
	RuntimeName string            `json:"runtimeName"`
	Data        map[string]string `json:"data,omitempty"`
}

// Encode renders the handle as the JSON blob persisted in session
// metadata under the runtimeHandle key.
func (h Handle) Encode() (string, error) {
	b, err := json.Marshal(h)
	if err != nil {
		return "", oerr.Wrap(oerr.KindMetadata, err, "encoding runtime handle")
	}
	return string(b), nil
}

// ParseHandle decodes a handle from its metadata representation.
func ParseHandle(raw string) (Handle, error) {
	var h Handle
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return Handle{}, oerr.Wrap(oerr.KindMetadata, err, "parsing runtime handle")
	}
	return h, nil
}

// Activity classifies what the agent is doing, derived from terminal
// output.
type Activity string

const (
	ActivityActive       Activity = "active"
	ActivityReady        Activity = "ready"
	ActivityIdle         Activity = "idle"
	ActivityWaitingInput Activity = "waiting_input"
	ActivityBlocked      Activity = "blocked"
	ActivityExited       Activity = "exited"
)

// PRState is the lifecycle state of a pull request.
type PRState string

const (
	PRStateOpen   PRState = "open"
	PRStateClosed PRState = "closed"
	PRStateMerged PRState = "merged"
)

// CISummary aggregates a PR's check runs.
type CISummary string

const (
	CIPassing CISummary = "passing"
	CIFailing CISummary = "failing"
	CIPending CISummary = "pending"
	CINone    CISummary = "none"
)

// ReviewDecision aggregates a PR's reviews.
type ReviewDecision string

const (
	ReviewApproved         ReviewDecision = "approved"
	ReviewChangesRequested ReviewDecision = "changes_requested"
	ReviewPending          ReviewDecision = "pending"
	ReviewNone             ReviewDecision = "none"
)

// PRInfo describes a pull request detected for a session. Cached inside
// the Session between ticks.
type PRInfo struct {
	Number     int    `json:"number"`
	URL        string `json:"url"`
	Title      string `json:"title"`
	Owner      string `json:"owner"`
	Repo       string `json:"repo"`
	Branch     string `json:"branch"`
	BaseBranch string `json:"baseBranch"`
	IsDraft    bool   `json:"isDraft"`
}

// Comment is a human review comment awaiting a response.
type Comment struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// AutomatedComment is a comment left by an automated reviewer. The ID
// must be stable across polls: the reaction fingerprint hashes it.
type AutomatedComment struct {
	ID       string `json:"id"`
	Author   string `json:"author"`
	Body     string `json:"body"`
	Resolved bool   `json:"resolved"`
}

// Mergeability is the SCM's verdict on whether a PR can merge now.
type Mergeability struct {
	Mergeable   bool     `json:"mergeable"`
	CIPassing   bool     `json:"ciPassing"`
	Approved    bool     `json:"approved"`
	NoConflicts bool     `json:"noConflicts"`
	Blockers    []string `json:"blockers,omitempty"`
}

// Issue is the tracker's view of a work item.
type Issue struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	State string `json:"state"`
	URL   string `json:"url"`
}

// AgentSessionInfo is the agent's own session summary, read from sidecar
// files the agent writes. All fields are best-effort.
type AgentSessionInfo struct {
	SessionID string    `json:"sessionId,omitempty"`
	Model     string    `json:"model,omitempty"`
	Turns     int       `json:"turns,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// CreateOptions parameterizes runtime host creation.
type CreateOptions struct {
	// Name is the runtime-facing host name, globally unique per machine.
	Name string
	// WorkDir is the directory the host starts in (the session worktree).
	WorkDir string
	// Env is injected into the host so every process in it inherits it.
	Env map[string]string
}

// LaunchSpec carries everything an agent plugin needs to compute its
// launch command and environment.
type LaunchSpec struct {
	SessionID  string
	ProjectID  string
	IssueID    string
	IssueTitle string
	Prompt     string
	WorkDir    string
	Rules      string
	Binary     string
	Args       []string
	ExtraEnv   map[string]string
}

// ProjectRef identifies the upstream repository for SCM calls.
type ProjectRef struct {
	ID            string
	Owner         string
	Repo          string
	RepoPath      string
	DefaultBranch string
	BotLogins     []string
}
