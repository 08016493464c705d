package main

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/agentorch/ao/internal/common/config"
	"github.com/agentorch/ao/internal/common/logger"
	"github.com/agentorch/ao/internal/events"
	"github.com/agentorch/ao/internal/plugin"
	claudeagent "github.com/agentorch/ao/internal/plugin/agent/claude"
	notifyslack "github.com/agentorch/ao/internal/plugin/notify/slack"
	notifywebhook "github.com/agentorch/ao/internal/plugin/notify/webhook"
	dockerruntime "github.com/agentorch/ao/internal/plugin/runtime/docker"
	localruntime "github.com/agentorch/ao/internal/plugin/runtime/local"
	tmuxruntime "github.com/agentorch/ao/internal/plugin/runtime/tmux"
	githubscm "github.com/agentorch/ao/internal/plugin/scm/github"
	githubtracker "github.com/agentorch/ao/internal/plugin/tracker/github"
	"github.com/agentorch/ao/internal/session"
	"github.com/agentorch/ao/internal/workspace"
)

// app holds everything a subcommand needs: loaded config, the plugin
// registry with built-ins, and the session manager. Event log and bus
// are only attached in service mode; one-shot commands do without the
// bus and append to the shared log.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	reg     *plugin.Registry
	rec     *events.Recorder
	manager *session.Manager

	eventLog *events.Log
	bus      events.Bus
}

// newApp bootstraps for a one-shot command: no bus, no controller.
func newApp(g globals) (*app, error) {
	return bootstrap(g, false)
}

// newServiceApp bootstraps for `ao run`: bus attached.
func newServiceApp(g globals) (*app, error) {
	return bootstrap(g, true)
}

func bootstrap(g globals, service bool) (*app, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	logger.SetDefault(log)

	a := &app{cfg: cfg, log: log}
	if err := a.buildRegistry(); err != nil {
		return nil, err
	}
	if err := a.buildEvents(service); err != nil {
		return nil, err
	}

	a.manager, err = session.NewManager(cfg, a.reg, a.rec, log)
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// buildRegistry registers every built-in plugin. The docker runtime is
// optional: a machine without a Docker daemon still runs tmux and local
// sessions.
func (a *app) buildRegistry() error {
	reg := plugin.NewRegistry()

	if err := reg.RegisterRuntime(tmuxruntime.New(a.log)); err != nil {
		return err
	}
	if err := reg.RegisterRuntime(localruntime.New(a.log)); err != nil {
		return err
	}
	if docker, err := dockerruntime.New(a.cfg.Docker, a.log); err != nil {
		a.log.WithError(err).Warn("docker runtime unavailable")
	} else if err := reg.RegisterRuntime(docker); err != nil {
		return err
	}

	if err := reg.RegisterAgent(claudeagent.New()); err != nil {
		return err
	}
	if err := reg.RegisterSCM(githubscm.New()); err != nil {
		return err
	}
	if err := reg.RegisterTracker(githubtracker.New()); err != nil {
		return err
	}
	if err := reg.RegisterWorkspace(workspace.NewWorktree(a.log)); err != nil {
		return err
	}
	if err := reg.RegisterWorkspace(workspace.NewClone(a.log)); err != nil {
		return err
	}

	if a.cfg.Notifiers.Webhook.URL != "" {
		if err := reg.RegisterNotifier(notifywebhook.New(a.cfg.Notifiers.Webhook, a.log)); err != nil {
			return err
		}
	}
	if a.cfg.Notifiers.Slack.Token != "" {
		if err := reg.RegisterNotifier(notifyslack.New(a.cfg.Notifiers.Slack, a.log)); err != nil {
			return err
		}
	}

	reg.Freeze()
	a.reg = reg
	return nil
}

// buildEvents opens the shared event log and, in service mode, the bus.
func (a *app) buildEvents(service bool) error {
	home, err := a.cfg.HomeDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(home, 0o755); err != nil {
		return err
	}

	maxBytes := a.cfg.EventLog.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 16 << 20
	}
	maxBackups := a.cfg.EventLog.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 3
	}
	eventLog, err := events.OpenLog(filepath.Join(home, "events.jsonl"), maxBytes, maxBackups)
	if err != nil {
		return err
	}
	a.eventLog = eventLog

	if service {
		bus, err := events.NewBus(a.cfg.Bus, a.log)
		if err != nil {
			a.close()
			return err
		}
		a.bus = bus
	}
	a.rec = events.NewRecorder(a.eventLog, a.bus, a.log)
	return nil
}

func (a *app) close() {
	if a.bus != nil {
		a.bus.Close()
	}
	if a.eventLog != nil {
		if err := a.eventLog.Close(); err != nil {
			a.log.Warn("event log close failed", zap.Error(err))
		}
	}
}
