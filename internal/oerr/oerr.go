// Package oerr defines the orchestrator's error taxonomy. Every failure
// surfaced across a package boundary is classified with a Kind so callers
// can branch on the class of failure without string matching, and so the
// CLI and gateway can map failures to exit codes and HTTP statuses.
package oerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind string

const (
	// KindNotFound marks lookups of unknown sessions, projects, or plugins.
	KindNotFound Kind = "not_found"
	// KindConflictingState marks operations invalid for the entity's
	// current state (send to a terminal session, restore of a live one).
	KindConflictingState Kind = "conflicting_state"
	// KindPolicyViolation marks spawns rejected by project policy.
	KindPolicyViolation Kind = "policy_violation"
	// KindDependencyUnresolved marks task-graph references to unknown nodes.
	KindDependencyUnresolved Kind = "dependency_unresolved"
	// KindPlugin wraps faults raised by runtime/agent/SCM/tracker/notifier
	// implementations.
	KindPlugin Kind = "plugin"
	// KindMetadata marks failures reading or writing session metadata.
	KindMetadata Kind = "metadata"
	// KindConfig marks invalid or conflicting configuration.
	KindConfig Kind = "config"
	// KindTransient marks retryable failures: timeouts, rate limits,
	// network faults.
	KindTransient Kind = "transient"
)

// Error is a classified error. Msg is the human-readable description; Err,
// when set, is the wrapped cause. Slot and Plugin identify the offending
// plugin for KindPlugin errors.
type Error struct {
	Kind   Kind
	Msg    string
	Err    error
	Slot   string
	Plugin string
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Kind == KindPlugin && e.Slot != "" {
		if msg != "" {
			msg = fmt.Sprintf("%s/%s: %s", e.Slot, e.Plugin, msg)
		} else {
			msg = fmt.Sprintf("%s/%s", e.Slot, e.Plugin)
		}
	}
	if e.Err != nil {
		if msg != "" {
			return msg + ": " + e.Err.Error()
		}
		return e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind, so
// errors.Is(err, oerr.E(oerr.KindNotFound, "")) works as a kind check.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// E creates a new classified error.
func E(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. Returns nil when err is nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// WrapPlugin classifies a plugin fault, recording the plugin slot and name.
// Returns nil when err is nil. Errors that already carry a kind keep it so
// transient classifications survive the wrapping.
func WrapPlugin(slot, name string, err error) error {
	if err == nil {
		return nil
	}
	var oe *Error
	if errors.As(err, &oe) && oe.Kind == KindTransient {
		return &Error{Kind: KindTransient, Err: err, Slot: slot, Plugin: name}
	}
	return &Error{Kind: KindPlugin, Err: err, Slot: slot, Plugin: name}
}

// KindOf returns the Kind of the first classified error in the chain, or
// the empty Kind when none is found.
func KindOf(err error) Kind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return ""
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsNotFound reports whether err is a KindNotFound error.
func IsNotFound(err error) bool { return IsKind(err, KindNotFound) }

// IsConflictingState reports whether err is a KindConflictingState error.
func IsConflictingState(err error) bool { return IsKind(err, KindConflictingState) }

// IsPolicyViolation reports whether err is a KindPolicyViolation error.
func IsPolicyViolation(err error) bool { return IsKind(err, KindPolicyViolation) }

// IsTransient reports whether err is a KindTransient error.
func IsTransient(err error) bool { return IsKind(err, KindTransient) }
