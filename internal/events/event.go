// Package events defines the orchestrator's event record, the append-only
// JSONL event log, and the bus that fans events out to live consumers
// (gateway streams, notifier dispatch).
package events

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority classifies how urgently humans should see an event.
type Priority string

const (
	PriorityUrgent  Priority = "urgent"
	PriorityAction  Priority = "action"
	PriorityWarning Priority = "warning"
	PriorityInfo    Priority = "info"
)

// Event types outside the session.<status> family.
const (
	TypePRCreated       = "pr.created"
	TypePRMerged        = "pr.merged"
	TypeCIFailing       = "ci.failing"
	TypeCIFixFailed     = "ci.fix_failed"
	TypeReviewChanges   = "review.changes_requested"
	TypeMergeReady      = "merge.ready"
	TypeMergeConflicts  = "merge.conflicts"
	TypeMergeCompleted  = "merge.completed"
	TypeBugbotComments  = "review.bugbot_comments"
	TypeSessionSpawned  = "session.spawned"
	TypeSessionRestored = "session.restored"
)

// SessionStatusType returns the event type for a session status
// transition, e.g. "session.working".
func SessionStatusType(status string) string {
	return "session." + status
}

// Event is one append-only record. Events are never mutated after append.
type Event struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Priority  Priority          `json:"priority"`
	SessionID string            `json:"sessionId,omitempty"`
	ProjectID string            `json:"projectId,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
}

// New builds an event with a fresh id and UTC timestamp, deriving the
// priority from the type.
func New(eventType, sessionID, projectID, message string, data map[string]string) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Priority:  DefaultPriority(eventType),
		SessionID: sessionID,
		ProjectID: projectID,
		Timestamp: time.Now().UTC(),
		Message:   message,
		Data:      data,
	}
}

// DefaultPriority maps an event type to its priority. Session transitions
// that demand a human response are urgent; ones a human should schedule
// are action; terminations are warnings; everything else is info.
func DefaultPriority(eventType string) Priority {
	switch eventType {
	case "session.needs_input", "session.stuck", TypeCIFixFailed, TypeMergeConflicts:
		return PriorityUrgent
	case "session.ci_failed", "session.changes_requested", "session.mergeable",
		TypeCIFailing, TypeReviewChanges, TypeMergeReady, TypeBugbotComments:
		return PriorityAction
	case "session.killed", "session.abandoned":
		return PriorityWarning
	default:
		return PriorityInfo
	}
}

// Subject returns the bus subject an event is published on. Subjects are
// dotted so subscribers can use NATS-style wildcards ("ao.events.>",
// "ao.events.session.*").
func Subject(e Event) string {
	return "ao.events." + e.Type
}

// SubjectAll matches every orchestrator event.
const SubjectAll = "ao.events.>"

// IsSessionTransition reports whether an event type is a session status
// transition.
func IsSessionTransition(eventType string) bool {
	return strings.HasPrefix(eventType, "session.")
}
