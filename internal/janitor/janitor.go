// Package janitor runs scheduled cleanup passes over finished sessions.
package janitor

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/agentorch/ao/internal/common/config"
	"github.com/agentorch/ao/internal/common/logger"
	"github.com/agentorch/ao/internal/oerr"
	"github.com/agentorch/ao/internal/session"
)

// Janitor drives Manager.Cleanup on a cron schedule. An empty schedule
// builds a disabled janitor whose Start is a no-op.
type Janitor struct {
	cfg     config.JanitorConfig
	manager *session.Manager
	cron    *cron.Cron
	log     *logger.Logger

	mu      sync.Mutex
	running bool
}

// New validates the schedule and builds the janitor.
func New(cfg config.JanitorConfig, manager *session.Manager, log *logger.Logger) (*Janitor, error) {
	j := &Janitor{
		cfg:     cfg,
		manager: manager,
		log:     log.WithComponent("janitor"),
	}
	if cfg.Schedule == "" {
		return j, nil
	}
	c := cron.New()
	if _, err := c.AddFunc(cfg.Schedule, j.run); err != nil {
		return nil, oerr.Wrap(oerr.KindConfig, err, "janitor schedule %q", cfg.Schedule)
	}
	j.cron = c
	return j, nil
}

// Start begins scheduled runs. Idempotent.
func (j *Janitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cron == nil || j.running {
		return
	}
	j.cron.Start()
	j.running = true
	j.log.Info("janitor started", zap.String("schedule", j.cfg.Schedule), zap.Bool("dry_run", j.cfg.DryRun))
}

// Stop halts the schedule and waits for an in-flight run.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cron == nil || !j.running {
		return
	}
	<-j.cron.Stop().Done()
	j.running = false
	j.log.Info("janitor stopped")
}

func (j *Janitor) run() {
	report, err := j.RunOnce(context.Background())
	if err != nil {
		j.log.WithError(err).Warn("cleanup run failed")
		return
	}
	j.log.Info("cleanup run finished",
		zap.Int("killed", len(report.Killed)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("errors", len(report.Errors)))
}

// RunOnce sweeps every project immediately, merging the per-project
// reports. A failing project is logged and skipped.
func (j *Janitor) RunOnce(ctx context.Context) (*session.CleanupReport, error) {
	report, err := j.manager.Cleanup(ctx, "", session.CleanupOptions{DryRun: j.cfg.DryRun})
	if err != nil {
		return nil, err
	}
	return report, nil
}
