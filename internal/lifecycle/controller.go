// Package lifecycle implements the controller that drives sessions
// through their state machine. Every tick it enumerates sessions, fuses
// runtime liveness, agent terminal activity and SCM state into a derived
// status, persists transitions, and fires configured reactions with
// deduplication and rate limiting. A failure evaluating one session
// never stops the others.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/agentorch/ao/internal/common/config"
	"github.com/agentorch/ao/internal/common/logger"
	"github.com/agentorch/ao/internal/events"
	"github.com/agentorch/ao/internal/metrics"
	"github.com/agentorch/ao/internal/oerr"
	"github.com/agentorch/ao/internal/plugin"
	"github.com/agentorch/ao/internal/session"
	"github.com/agentorch/ao/internal/tracing"
)

// Controller evaluates every session periodically. One instance per
// orchestrator; Start and Stop bracket the loop.
type Controller struct {
	manager   *session.Manager
	registry  *plugin.Registry
	cfg       config.ControllerConfig
	reactions map[string]config.ReactionConfig
	routing   map[string][]string
	rec       *events.Recorder
	met       *metrics.Metrics
	outcomes  *metrics.OutcomeLog
	log       *logger.Logger
	// now is the controller's clock; tests override it.
	now func() time.Time

	mu      sync.Mutex
	state   map[string]*sessionState
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// sessionState is the controller's in-memory side of one session:
// per-session serialization, reaction bookkeeping and the automated
// comment fingerprint. It is not persisted — a restart drops pending
// retriggers and the next transition re-arms them.
type sessionState struct {
	mu          sync.Mutex
	reactions   map[string]*firing
	fingerprint string
	transitions int
}

type firing struct {
	lastFiredAt time.Time
	retriesUsed int
}

// Options carries the controller's optional collaborators.
type Options struct {
	Metrics  *metrics.Metrics
	Outcomes *metrics.OutcomeLog
	Now      func() time.Time
}

// New builds a controller.
func New(manager *session.Manager, registry *plugin.Registry, cfg *config.Config,
	rec *events.Recorder, log *logger.Logger, opts Options) *Controller {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Controller{
		manager:   manager,
		registry:  registry,
		cfg:       cfg.Controller,
		reactions: cfg.Reactions,
		routing:   cfg.Routing,
		rec:       rec,
		met:       opts.Metrics,
		outcomes:  opts.Outcomes,
		log:       log.WithComponent("lifecycle"),
		now:       now,
		state:     make(map[string]*sessionState),
	}
}

// Start runs the tick loop until Stop is called or the context ends.
// Returns immediately; the loop runs on its own goroutine.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	stopCh, doneCh := c.stopCh, c.doneCh
	c.mu.Unlock()

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(c.cfg.PollInterval)
		defer ticker.Stop()
		c.log.Info("controller started", zap.Duration("poll_interval", c.cfg.PollInterval))
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				c.Tick(ctx)
			}
		}
	}()
}

// Stop interrupts the tick timer and waits for in-flight evaluations to
// complete. Idempotent.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	doneCh := c.doneCh
	c.mu.Unlock()
	<-doneCh
	c.log.Info("controller stopped")
}

// Tick evaluates every known session once, fanning out bounded by the
// configured parallelism. Per-session failures are logged and swallowed.
func (c *Controller) Tick(ctx context.Context) {
	ctx, span := tracing.Tracer("lifecycle").Start(ctx, "tick")
	defer span.End()
	started := c.now()

	sessions, err := c.manager.List("")
	if err != nil {
		c.log.WithError(err).Warn("session enumeration failed")
		return
	}

	sem := semaphore.NewWeighted(int64(c.cfg.Parallelism))
	var wg sync.WaitGroup
	for _, s := range sessions {
		if s.Status.IsTerminal() {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(s *session.Session) {
			defer wg.Done()
			defer sem.Release(1)
			if err := c.Check(ctx, s.ID); err != nil {
				c.log.WithSession(s.ID).WithError(err).Warn("evaluation failed")
			}
		}(s)
	}
	wg.Wait()

	if c.met != nil {
		c.met.TickDuration.Observe(c.now().Sub(started).Seconds())
	}
}

// Check evaluates one session on demand. Within a session, evaluations
// are serialized; concurrent Checks of different sessions proceed in
// parallel.
func (c *Controller) Check(ctx context.Context, id string) error {
	ctx, span := tracing.Tracer("lifecycle").Start(ctx, "check")
	span.SetAttributes(tracing.SessionAttribute(id))
	defer span.End()

	st := c.sessionState(id)
	st.mu.Lock()
	defer st.mu.Unlock()

	s, err := c.manager.Get(id)
	if err != nil {
		return err
	}
	if s == nil {
		return oerr.E(oerr.KindNotFound, "session %s not found", id)
	}
	if s.Status.IsTerminal() {
		return nil
	}

	env, err := c.manager.Env(s.ProjectID)
	if err != nil {
		return err
	}
	c.evaluate(ctx, env, s, st)
	return nil
}

func (c *Controller) sessionState(id string) *sessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.state[id]
	if !ok {
		st = &sessionState{reactions: make(map[string]*firing)}
		c.state[id] = st
	}
	return st
}

// call runs one plugin call under the per-call timeout.
func (c *Controller) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()
	return fn(ctx)
}
