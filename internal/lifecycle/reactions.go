package lifecycle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/agentorch/ao/internal/common/config"
	"github.com/agentorch/ao/internal/events"
	"github.com/agentorch/ao/internal/plugin"
	"github.com/agentorch/ao/internal/session"
)

// Reaction keys, matched against the reactions section of the config.
const (
	ReactionCIFailed         = "ci-failed"
	ReactionChangesRequested = "review-changes-requested"
	ReactionStuck            = "stuck"
	ReactionNeedsInput       = "needs-input"
	ReactionBugbotComments   = "bugbot-comments"
)

// statusReactionKey maps a derived status to the reaction key that fires
// on entering it. Statuses without an entry have no automated reaction.
func statusReactionKey(status session.Status) string {
	switch status {
	case session.StatusCIFailed:
		return ReactionCIFailed
	case session.StatusChangesRequested:
		return ReactionChangesRequested
	case session.StatusStuck:
		return ReactionStuck
	case session.StatusNeedsInput:
		return ReactionNeedsInput
	default:
		return ""
	}
}

// react drives the reaction engine for one evaluation. Transitions may
// fire the status's reaction once; unchanged statuses may retrigger it
// after the configured interval, and new automated-reviewer comments
// fire the bugbot reaction whenever the fingerprint moves.
func (c *Controller) react(ctx context.Context, env *session.ProjectEnv, s *session.Session, st *sessionState, v verdict, changed bool) {
	if s.Status.IsTerminal() {
		return
	}

	key := statusReactionKey(s.Status)
	if key != "" {
		if changed {
			c.fireOnTransition(ctx, env, s, st, key)
		} else {
			c.maybeRetrigger(ctx, env, s, st, key)
		}
	}

	c.checkBugbot(ctx, env, s, st, v, changed)
}

// fireOnTransition fires a reaction the first time its status is entered.
// The initial firing counts against the retry budget.
func (c *Controller) fireOnTransition(ctx context.Context, env *session.ProjectEnv, s *session.Session, st *sessionState, key string) {
	r, configured := c.reactions[key]
	if !configured || !r.Auto {
		c.routeUnconfigured(ctx, env, s)
		return
	}
	handled := c.fire(ctx, env, s, key, r)
	st.reactions[key] = &firing{lastFiredAt: c.now(), retriesUsed: 1}
	if !handled {
		c.routeUnconfigured(ctx, env, s)
	}
}

// maybeRetrigger refires a reaction for a session stuck in the same
// status, bounded by the retry budget and spaced by retriggerAfter.
func (c *Controller) maybeRetrigger(ctx context.Context, env *session.ProjectEnv, s *session.Session, st *sessionState, key string) {
	r, configured := c.reactions[key]
	if !configured || !r.Auto || r.RetriggerAfter <= 0 {
		return
	}
	f, ok := st.reactions[key]
	if !ok {
		// First sighting of this status was before the controller started;
		// treat the evaluation as the baseline firing.
		c.fire(ctx, env, s, key, r)
		st.reactions[key] = &firing{lastFiredAt: c.now(), retriesUsed: 1}
		return
	}
	if f.retriesUsed >= r.Retries {
		return
	}
	if c.now().Sub(f.lastFiredAt) < r.RetriggerAfter {
		return
	}
	c.fire(ctx, env, s, key, r)
	f.lastFiredAt = c.now()
	f.retriesUsed++
}

// fire executes one reaction. Returns true when the event needs no
// further human routing: a message delivered to the agent suppresses
// human notification for the same event, and notify-human already is
// one.
func (c *Controller) fire(ctx context.Context, env *session.ProjectEnv, s *session.Session, key string, r config.ReactionConfig) bool {
	log := c.log.WithSession(s.ID)
	if c.met != nil {
		c.met.ReactionsFired.WithLabelValues(key, r.Action).Inc()
	}
	log.Info("reaction fired", zap.String("key", key), zap.String("action", r.Action))

	switch r.Action {
	case "send-to-agent":
		msg := r.Message
		if msg == "" {
			msg = fmt.Sprintf("Automated nudge: session is in status %s. Please address it and continue.", s.Status)
		}
		err := c.call(ctx, func(ctx context.Context) error {
			return env.Runtime.SendMessage(ctx, s.Handle, msg)
		})
		if err != nil {
			log.WithError(err).Warn("reaction message delivery failed", zap.String("key", key))
			return false
		}
		return true
	case "terminate":
		if err := c.manager.Kill(ctx, s.ID); err != nil {
			log.WithError(err).Warn("reaction terminate failed", zap.String("key", key))
		}
		return true
	case "notify-human":
		c.notify(ctx, env, s, events.New(
			events.SessionStatusType(string(s.Status)), s.ID, s.ProjectID,
			c.reactionMessage(s, r), nil))
		return true
	default:
		log.Warn("unknown reaction action", zap.String("key", key), zap.String("action", r.Action))
		return false
	}
}

func (c *Controller) reactionMessage(s *session.Session, r config.ReactionConfig) string {
	if r.Message != "" {
		return r.Message
	}
	return fmt.Sprintf("session %s needs attention: %s", s.ID, s.Status)
}

// routeUnconfigured notifies humans about urgent and action-priority
// transitions that no reaction handled, honoring notificationRouting.
func (c *Controller) routeUnconfigured(ctx context.Context, env *session.ProjectEnv, s *session.Session) {
	e := events.New(events.SessionStatusType(string(s.Status)), s.ID, s.ProjectID,
		fmt.Sprintf("session %s is now %s", s.ID, s.Status), nil)
	if e.Priority != events.PriorityUrgent && e.Priority != events.PriorityAction {
		return
	}
	c.notify(ctx, env, s, e)
}

// notify delivers an event to the notifiers the routing table selects for
// its priority; with no routing entry every project notifier gets it.
func (c *Controller) notify(ctx context.Context, env *session.ProjectEnv, s *session.Session, e events.Event) {
	targets := env.Notifiers
	if names, ok := c.routing[string(e.Priority)]; ok {
		targets = targets[:0:0]
		for _, n := range env.Notifiers {
			for _, want := range names {
				if n.Name() == want {
					targets = append(targets, n)
					break
				}
			}
		}
	}
	n := plugin.Notification{
		Type:      e.Type,
		Priority:  string(e.Priority),
		SessionID: e.SessionID,
		ProjectID: e.ProjectID,
		Message:   e.Message,
		Timestamp: e.Timestamp,
	}
	for _, target := range targets {
		err := c.call(ctx, func(ctx context.Context) error {
			return target.Notify(ctx, n)
		})
		if err != nil {
			c.log.WithSession(s.ID).WithError(err).Warn("notification failed",
				zap.String("notifier", target.Name()))
		}
	}
}

// checkBugbot fingerprints the unresolved automated-reviewer comments and
// fires the bugbot reaction when the set changes without a status
// transition. A transition cleared the stored fingerprint, so a batch
// that rode along with the transition still fires on the next unchanged
// evaluation.
func (c *Controller) checkBugbot(ctx context.Context, env *session.ProjectEnv, s *session.Session, st *sessionState, v verdict, changed bool) {
	if changed {
		return
	}
	fp := commentFingerprint(v.comments)
	if fp == "" || fp == st.fingerprint {
		return
	}
	st.fingerprint = fp

	r, configured := c.reactions[ReactionBugbotComments]
	if configured && r.Auto {
		c.fire(ctx, env, s, ReactionBugbotComments, r)
	}
	c.emitEvent(ctx, events.New(events.TypeBugbotComments, s.ID, s.ProjectID,
		fmt.Sprintf("%d unresolved automated review comments on session %s", countUnresolved(v.comments), s.ID),
		map[string]string{"fingerprint": fp}))
}

// commentFingerprint digests the sorted ids of unresolved automated
// comments. Empty when there are none, so resolving everything never
// looks like a new batch.
func commentFingerprint(comments []plugin.AutomatedComment) string {
	ids := make([]string, 0, len(comments))
	for _, cm := range comments {
		if cm.Resolved {
			continue
		}
		ids = append(ids, cm.ID)
	}
	if len(ids) == 0 {
		return ""
	}
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(strings.Join(ids, "\n")))
	return hex.EncodeToString(sum[:8])
}

func countUnresolved(comments []plugin.AutomatedComment) int {
	n := 0
	for _, cm := range comments {
		if !cm.Resolved {
			n++
		}
	}
	return n
}
