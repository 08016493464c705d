package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentorch/ao/internal/events"
	"github.com/agentorch/ao/internal/metadata"
	"github.com/agentorch/ao/internal/metrics"
	"github.com/agentorch/ao/internal/plugin"
	"github.com/agentorch/ao/internal/session"
)

// verdict is one evaluation's conclusion about a session.
type verdict struct {
	status   session.Status
	activity plugin.Activity
	pr       *plugin.PRInfo
	// comments are the unresolved automated-reviewer comments seen this
	// evaluation; the reaction engine fingerprints them.
	comments []plugin.AutomatedComment
}

// evaluate derives the session's status, persists a transition if one
// occurred, and drives reactions. Callers hold the session's state lock.
func (c *Controller) evaluate(ctx context.Context, env *session.ProjectEnv, s *session.Session, st *sessionState) {
	log := c.log.WithSession(s.ID)
	prior := s.Status

	v := c.derive(ctx, env, s, log)

	changed := v.status != prior
	if changed {
		if err := c.persistTransition(ctx, env, s, st, v); err != nil {
			log.WithError(err).Warn("transition persist failed")
			return
		}
		log.Info("session transition",
			zap.String("from", string(prior)), zap.String("to", string(v.status)))
	} else if v.pr != nil && (s.PR == nil || s.PR.Number == 0) {
		s.PR = v.pr
		c.manager.UpdateCache(s)
	}

	c.react(ctx, env, s, st, v, changed)
}

// derive runs the evaluation algorithm: runtime liveness, then activity
// fusion, then the SCM overlay. Every plugin failure is swallowed and
// contributes "no change" for the signal it would have provided.
func (c *Controller) derive(ctx context.Context, env *session.ProjectEnv, s *session.Session, log interface {
	Warn(string, ...zap.Field)
}) verdict {
	v := verdict{status: s.Status, activity: s.Activity, pr: s.PR}

	// Runtime liveness. A dead host is killed regardless of anything else.
	var alive bool
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		alive, err = env.Runtime.IsAlive(ctx, s.Handle)
		return err
	})
	switch {
	case err != nil:
		log.Warn("liveness probe failed", zap.Error(err))
	case !alive:
		v.status = session.StatusKilled
		v.activity = plugin.ActivityExited
		return v
	}

	// Terminal activity fusion. Agent process death is final like host
	// death: an open PR must not keep a corpse in play.
	candidate := c.activityCandidate(ctx, env, s, &v, log)
	if candidate == session.StatusKilled {
		v.status = session.StatusKilled
		return v
	}

	// SCM overlay. Merged always wins; otherwise the overlay overrides
	// the activity candidate whenever a PR exists.
	if overlay, ok := c.scmOverlay(ctx, env, s, &v, log); ok {
		v.status = overlay
	} else {
		v.status = candidate
	}
	return v
}

// activityCandidate reads the agent's terminal and classifies it. On any
// failure the prior status is preserved — never coerced to working.
func (c *Controller) activityCandidate(ctx context.Context, env *session.ProjectEnv, s *session.Session, v *verdict, log interface {
	Warn(string, ...zap.Field)
}) session.Status {
	var output string
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		output, err = env.Runtime.GetOutput(ctx, s.Handle, c.cfg.OutputLines)
		return err
	})
	if err != nil {
		log.Warn("terminal read failed", zap.Error(err))
		return s.Status
	}

	activity, err := env.Agent.DetectActivity(output)
	if err != nil {
		log.Warn("activity detection failed", zap.Error(err))
		return s.Status
	}
	v.activity = activity

	switch activity {
	case plugin.ActivityIdle, plugin.ActivityActive:
		// A shell prompt after the agent exits still reads as idle or
		// active; only the process table knows the agent is gone.
		var running bool
		perr := c.call(ctx, func(ctx context.Context) error {
			var err error
			running, err = env.Agent.IsProcessRunning(ctx, s.Handle)
			return err
		})
		if perr == nil && !running {
			v.activity = plugin.ActivityExited
			return session.StatusKilled
		}
		return session.StatusWorking
	case plugin.ActivityWaitingInput:
		return session.StatusNeedsInput
	case plugin.ActivityBlocked:
		return session.StatusStuck
	default:
		return session.StatusWorking
	}
}

// scmSignals carries the joined results of the per-PR SCM queries. A nil
// pointer means the query failed and contributes no change.
type scmSignals struct {
	ci     *plugin.CISummary
	review *plugin.ReviewDecision
	merge  *plugin.Mergeability
}

// scmOverlay consults the SCM when the session has (or now gets) a PR.
// Returns (status, true) when the overlay applies.
func (c *Controller) scmOverlay(ctx context.Context, env *session.ProjectEnv, s *session.Session, v *verdict, log interface {
	Warn(string, ...zap.Field)
}) (session.Status, bool) {
	pr := s.PR
	// A PR reloaded from metadata carries only its URL; number 0 cannot
	// be queried, so detection runs again to recover the full record.
	if pr == nil || pr.Number == 0 {
		if s.Branch == "" {
			return "", false
		}
		var detected *plugin.PRInfo
		err := c.call(ctx, func(ctx context.Context) error {
			var err error
			detected, err = env.SCM.DetectPR(ctx, s.Branch, env.Ref)
			return err
		})
		if err != nil {
			log.Warn("pr detection failed", zap.Error(err))
		}
		if err != nil || detected == nil {
			if pr != nil {
				// The PR is known to exist; a failed lookup preserves
				// the prior status rather than falling back to activity.
				return s.Status, true
			}
			return "", false
		}
		if pr == nil {
			c.emitEvent(ctx, events.New(events.TypePRCreated, s.ID, s.ProjectID,
				fmt.Sprintf("PR #%d opened for session %s", detected.Number, s.ID),
				map[string]string{"url": detected.URL}))
		}
		pr = detected
	}
	v.pr = pr

	var state plugin.PRState
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		state, err = env.SCM.GetPRState(ctx, *pr)
		return err
	})
	if err != nil {
		log.Warn("pr state lookup failed", zap.Error(err))
		return s.Status, true
	}
	switch state {
	case plugin.PRStateMerged:
		return session.StatusMerged, true
	case plugin.PRStateClosed:
		return session.StatusAbandoned, true
	}

	sig := c.querySignals(ctx, env, s, v, *pr, log)
	return c.resolveOverlay(s.Status, sig), true
}

// querySignals runs the per-PR queries concurrently and joins them.
// Failures null the corresponding signal rather than failing the join.
func (c *Controller) querySignals(ctx context.Context, env *session.ProjectEnv, s *session.Session, v *verdict, pr plugin.PRInfo, log interface {
	Warn(string, ...zap.Field)
}) scmSignals {
	var sig scmSignals
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := c.call(gctx, func(ctx context.Context) error {
			ci, err := env.SCM.GetCISummary(ctx, pr)
			if err == nil {
				sig.ci = &ci
			}
			return err
		})
		if err != nil {
			log.Warn("ci summary failed", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		err := c.call(gctx, func(ctx context.Context) error {
			review, err := env.SCM.GetReviewDecision(ctx, pr)
			if err == nil {
				sig.review = &review
			}
			return err
		})
		if err != nil {
			log.Warn("review decision failed", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		err := c.call(gctx, func(ctx context.Context) error {
			merge, err := env.SCM.GetMergeability(ctx, pr)
			if err == nil {
				sig.merge = &merge
			}
			return err
		})
		if err != nil {
			log.Warn("mergeability failed", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		err := c.call(gctx, func(ctx context.Context) error {
			comments, err := env.SCM.GetAutomatedComments(ctx, pr, env.Ref.BotLogins)
			if err == nil {
				v.comments = comments
			}
			return err
		})
		if err != nil {
			log.Warn("automated comments failed", zap.Error(err))
		}
		return nil
	})
	g.Wait()
	return sig
}

// resolveOverlay turns the joined SCM signals into a status. When a
// signal's query failed and the prior status came from that signal's
// family, the prior status is preserved — a flaky SCM call must not
// bounce the session back to pr_open.
func (c *Controller) resolveOverlay(prior session.Status, sig scmSignals) session.Status {
	switch prior {
	case session.StatusCIFailed, session.StatusCIPassing:
		if sig.ci == nil {
			return prior
		}
	case session.StatusChangesRequested, session.StatusReviewPending, session.StatusApproved:
		if sig.review == nil {
			return prior
		}
	case session.StatusMergeable:
		if sig.merge == nil {
			return prior
		}
	}

	ci := plugin.CINone
	if sig.ci != nil {
		ci = *sig.ci
	}
	review := plugin.ReviewNone
	if sig.review != nil {
		review = *sig.review
	}

	switch {
	case ci == plugin.CIFailing:
		return session.StatusCIFailed
	case review == plugin.ReviewChangesRequested:
		return session.StatusChangesRequested
	case sig.merge != nil && sig.merge.Mergeable && sig.merge.CIPassing &&
		sig.merge.Approved && sig.merge.NoConflicts:
		return session.StatusMergeable
	case review == plugin.ReviewApproved:
		return session.StatusApproved
	case ci == plugin.CIPassing && review == plugin.ReviewPending:
		return session.StatusReviewPending
	case ci == plugin.CIPassing:
		return session.StatusCIPassing
	default:
		return session.StatusPROpen
	}
}

// persistTransition writes the new status, appends the transition event,
// clears the comment fingerprint, and records terminal outcomes.
func (c *Controller) persistTransition(ctx context.Context, env *session.ProjectEnv, s *session.Session, st *sessionState, v verdict) error {
	now := c.now().UTC()
	updates := map[string]string{
		metadata.KeyStatus: string(v.status),
	}
	if v.activity != "" {
		updates[metadata.KeyActivity] = string(v.activity)
	}
	if v.activity == plugin.ActivityActive {
		updates[metadata.KeyLastActivity] = now.Format(time.RFC3339Nano)
	}
	if v.pr != nil && v.pr.URL != "" && s.Metadata[metadata.KeyPR] == "" {
		updates[metadata.KeyPR] = v.pr.URL
	}
	if _, err := env.Store.Update(s.ID, updates); err != nil {
		return err
	}

	prior := s.Status
	s.Status = v.status
	s.Activity = v.activity
	if v.pr != nil {
		s.PR = v.pr
	}
	c.manager.UpdateCache(s)

	// A transition re-arms the comment fingerprint: pushing a fix resets
	// the baseline so re-appearing comments fire again.
	st.fingerprint = ""
	st.transitions++

	c.emitEvent(ctx, events.New(events.SessionStatusType(string(v.status)), s.ID, s.ProjectID,
		fmt.Sprintf("session %s: %s -> %s", s.ID, prior, v.status), nil))

	if c.met != nil {
		c.met.Transitions.WithLabelValues(string(v.status)).Inc()
	}
	if v.status.IsTerminal() {
		c.recordOutcome(s, st, now)
	}
	return nil
}

func (c *Controller) recordOutcome(s *session.Session, st *sessionState, endedAt time.Time) {
	if c.met != nil {
		c.met.Outcomes.WithLabelValues(string(s.Status)).Inc()
	}
	if c.outcomes == nil {
		return
	}
	err := c.outcomes.Record(metrics.Outcome{
		SessionID:   s.ID,
		ProjectID:   s.ProjectID,
		IssueID:     s.IssueID,
		FinalStatus: string(s.Status),
		SpawnedAt:   s.CreatedAt,
		EndedAt:     endedAt,
		Transitions: st.transitions,
	})
	if err != nil {
		c.log.WithSession(s.ID).WithError(err).Warn("outcome record failed")
	}
}

func (c *Controller) emitEvent(ctx context.Context, e events.Event) {
	if c.rec == nil {
		return
	}
	if err := c.rec.Emit(ctx, e); err != nil {
		c.log.WithError(err).Warn("event emit failed")
	}
}
