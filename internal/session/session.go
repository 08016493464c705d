// Package session implements the Session Manager: the canonical mapping
// from session id to live session, and the spawn / kill / cleanup /
// send / restore operations. The per-session metadata file is the
// durable truth; in-memory records are reconstituted from it.
package session

import (
	"time"

	"github.com/agentorch/ao/internal/metadata"
	"github.com/agentorch/ao/internal/plugin"
)

// Status is a session's derived lifecycle status.
type Status string

const (
	StatusSpawning         Status = "spawning"
	StatusWorking          Status = "working"
	StatusNeedsInput       Status = "needs_input"
	StatusStuck            Status = "stuck"
	StatusPROpen           Status = "pr_open"
	StatusCIFailed         Status = "ci_failed"
	StatusCIPassing        Status = "ci_passing"
	StatusChangesRequested Status = "changes_requested"
	StatusReviewPending    Status = "review_pending"
	StatusApproved         Status = "approved"
	StatusMergeable        Status = "mergeable"
	StatusMerged           Status = "merged"
	StatusAbandoned        Status = "abandoned"
	StatusKilled           Status = "killed"
)

// IsTerminal reports whether a status ends the session's lifecycle.
// merged and abandoned record how the PR ended; killed records runtime
// or process death (or an explicit kill).
func (s Status) IsTerminal() bool {
	switch s {
	case StatusKilled, StatusMerged, StatusAbandoned:
		return true
	}
	return false
}

// Session is one managed agent instance. ID, ProjectID, Handle,
// WorkspacePath and CreatedAt are fixed at spawn; everything else is
// mutated by the Manager and the lifecycle controller only.
type Session struct {
	ID            string        `json:"id"`
	ProjectID     string        `json:"projectId"`
	Handle        plugin.Handle `json:"runtimeHandle"`
	WorkspacePath string        `json:"workspacePath,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`

	Status         Status                   `json:"status"`
	Activity       plugin.Activity          `json:"activity,omitempty"`
	Branch         string                   `json:"branch,omitempty"`
	IssueID        string                   `json:"issueId,omitempty"`
	PR             *plugin.PRInfo           `json:"pr,omitempty"`
	LastActivityAt time.Time                `json:"lastActivityAt,omitempty"`
	AgentInfo      *plugin.AgentSessionInfo `json:"agentInfo,omitempty"`

	// Metadata is the full persisted bag, unknown keys included. The
	// typed fields above mirror its well-known keys.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// timeLayout is how timestamps are persisted in metadata.
const timeLayout = time.RFC3339Nano

// FromMetadata reconstitutes a session from its metadata bag. Fields
// with unparseable values are left zero rather than failing the load: a
// session whose handle blob is corrupt must still be listable and
// killable.
func FromMetadata(id string, kv map[string]string) *Session {
	s := &Session{
		ID:            id,
		ProjectID:     kv[metadata.KeyProject],
		WorkspacePath: kv[metadata.KeyWorktree],
		Status:        Status(kv[metadata.KeyStatus]),
		Activity:      plugin.Activity(kv[metadata.KeyActivity]),
		Branch:        kv[metadata.KeyBranch],
		IssueID:       kv[metadata.KeyIssue],
		Metadata:      kv,
	}
	if raw := kv[metadata.KeyRuntimeHandle]; raw != "" {
		if h, err := plugin.ParseHandle(raw); err == nil {
			s.Handle = h
		}
	}
	if raw := kv[metadata.KeyCreatedAt]; raw != "" {
		if t, err := time.Parse(timeLayout, raw); err == nil {
			s.CreatedAt = t
		}
	}
	if raw := kv[metadata.KeyLastActivity]; raw != "" {
		if t, err := time.Parse(timeLayout, raw); err == nil {
			s.LastActivityAt = t
		}
	}
	if url := kv[metadata.KeyPR]; url != "" {
		// The URL is all that survives a restart; the lifecycle
		// controller re-detects the full PRInfo on its next tick.
		s.PR = &plugin.PRInfo{URL: url}
	}
	return s
}

// ToMetadata renders the session's typed fields over its existing bag,
// preserving unknown keys.
func (s *Session) ToMetadata() (map[string]string, error) {
	kv := make(map[string]string, len(s.Metadata)+8)
	for k, v := range s.Metadata {
		kv[k] = v
	}
	kv[metadata.KeyProject] = s.ProjectID
	kv[metadata.KeyStatus] = string(s.Status)
	if s.WorkspacePath != "" {
		kv[metadata.KeyWorktree] = s.WorkspacePath
	}
	if s.Branch != "" {
		kv[metadata.KeyBranch] = s.Branch
	}
	if s.IssueID != "" {
		kv[metadata.KeyIssue] = s.IssueID
	}
	if s.Activity != "" {
		kv[metadata.KeyActivity] = string(s.Activity)
	}
	if !s.CreatedAt.IsZero() {
		kv[metadata.KeyCreatedAt] = s.CreatedAt.UTC().Format(timeLayout)
	}
	if !s.LastActivityAt.IsZero() {
		kv[metadata.KeyLastActivity] = s.LastActivityAt.UTC().Format(timeLayout)
	}
	if s.PR != nil && s.PR.URL != "" {
		kv[metadata.KeyPR] = s.PR.URL
	}
	if s.Handle.ID != "" {
		raw, err := s.Handle.Encode()
		if err != nil {
			return nil, err
		}
		kv[metadata.KeyRuntimeHandle] = raw
	}
	return kv, nil
}
