// Package config loads and validates orchestrator configuration.
// Configuration comes from a YAML file plus AO_-prefixed environment
// variables; it is read once at startup and never hot-reloaded. The
// resolved config file path is retained because the per-project instance
// hash is derived from it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/agentorch/ao/internal/common/logger"
	"github.com/agentorch/ao/internal/oerr"
)

// Config holds all configuration sections for the orchestrator.
type Config struct {
	// Path is the resolved absolute path of the loaded config file. It is
	// set by Load, not by the file itself, and seeds the instance hash.
	Path string `mapstructure:"-"`

	// Home overrides the orchestrator data root. Empty means
	// <user home>/.agent-orchestrator.
	Home string `mapstructure:"home"`

	Logging    logger.LoggingConfig      `mapstructure:"logging"`
	Controller ControllerConfig          `mapstructure:"controller"`
	Scheduler  SchedulerConfig           `mapstructure:"scheduler"`
	Bus        BusConfig                 `mapstructure:"bus"`
	Gateway    GatewayConfig             `mapstructure:"gateway"`
	Janitor    JanitorConfig             `mapstructure:"janitor"`
	EventLog   EventLogConfig            `mapstructure:"eventLog"`
	Docker     DockerConfig              `mapstructure:"docker"`
	Reactions  map[string]ReactionConfig `mapstructure:"reactions"`
	Routing    map[string][]string       `mapstructure:"notificationRouting"`
	Notifiers  NotifiersConfig           `mapstructure:"notifiers"`
	Projects   map[string]ProjectConfig  `mapstructure:"projects"`
}

// ControllerConfig tunes the lifecycle controller loop.
type ControllerConfig struct {
	PollInterval time.Duration `mapstructure:"pollInterval"` // tick cadence
	Parallelism  int           `mapstructure:"parallelism"`  // per-tick session fan-out bound
	CallTimeout  time.Duration `mapstructure:"callTimeout"`  // per plugin call
	OutputLines  int           `mapstructure:"outputLines"`  // terminal lines read for activity detection
}

// SchedulerConfig supplies defaults for ready-queue computation.
type SchedulerConfig struct {
	ConcurrencyCap int           `mapstructure:"concurrencyCap"`
	PriorityPolicy string        `mapstructure:"priorityPolicy"` // strict, aging
	AgingWindow    time.Duration `mapstructure:"agingWindow"`
	MaxAgingBoost  int           `mapstructure:"maxAgingBoost"`
}

// BusConfig selects the event bus implementation.
type BusConfig struct {
	Kind          string `mapstructure:"kind"` // memory, nats
	URL           string `mapstructure:"url"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// GatewayConfig holds the HTTP/WebSocket gateway settings.
type GatewayConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // seconds
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (g *GatewayConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(g.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (g *GatewayConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(g.WriteTimeout) * time.Second
}

// JanitorConfig schedules periodic cleanup runs. An empty schedule
// disables the janitor.
type JanitorConfig struct {
	Schedule string `mapstructure:"schedule"` // cron expression
	DryRun   bool   `mapstructure:"dryRun"`
}

// EventLogConfig tunes event log rotation.
type EventLogConfig struct {
	MaxBytes   int64 `mapstructure:"maxBytes"`
	MaxBackups int   `mapstructure:"maxBackups"`
}

// DockerConfig holds Docker runtime plugin settings.
type DockerConfig struct {
	Host       string `mapstructure:"host"`
	APIVersion string `mapstructure:"apiVersion"`
	Image      string `mapstructure:"image"`
}

// ReactionConfig maps a reaction key to an automated response.
type ReactionConfig struct {
	Auto           bool          `mapstructure:"auto"`
	Action         string        `mapstructure:"action"` // send-to-agent, notify-human, terminate
	Message        string        `mapstructure:"message"`
	Retries        int           `mapstructure:"retries"`
	EscalateAfter  time.Duration `mapstructure:"escalateAfter"`
	RetriggerAfter time.Duration `mapstructure:"retriggerAfter"`
}

// NotifiersConfig configures the built-in notifier plugins. A notifier is
// registered only when its section is populated.
type NotifiersConfig struct {
	Webhook WebhookConfig `mapstructure:"webhook"`
	Slack   SlackConfig   `mapstructure:"slack"`
}

// WebhookConfig posts events as JSON to an HTTP endpoint.
type WebhookConfig struct {
	URL           string  `mapstructure:"url"`
	RatePerSecond float64 `mapstructure:"ratePerSecond"`
	Burst         int     `mapstructure:"burst"`
}

// SlackConfig posts events to a Slack channel via the Web API.
type SlackConfig struct {
	Token   string `mapstructure:"token"`
	Channel string `mapstructure:"channel"`
}

// PolicyConfig holds per-project spawn policies.
type PolicyConfig struct {
	RequireValidatedPlanTask bool `mapstructure:"requireValidatedPlanTask"`
}

// PluginBindings names the plugin bound to each slot for a project.
type PluginBindings struct {
	Runtime   string   `mapstructure:"runtime"`
	Agent     string   `mapstructure:"agent"`
	SCM       string   `mapstructure:"scm"`
	Tracker   string   `mapstructure:"tracker"`
	Workspace string   `mapstructure:"workspace"`
	Notifiers []string `mapstructure:"notifiers"`
}

// AgentCommandConfig describes how to launch the agent binary for a project.
type AgentCommandConfig struct {
	Binary string            `mapstructure:"binary"`
	Args   []string          `mapstructure:"args"`
	Env    map[string]string `mapstructure:"env"`
}

// ProjectConfig describes one orchestrated project.
type ProjectConfig struct {
	// ID is the map key; filled in by Load.
	ID string `mapstructure:"-"`

	// Repo is the canonical upstream identifier, "owner/name".
	Repo string `mapstructure:"repo"`
	// RepoPath is the absolute path of the local clone.
	RepoPath      string `mapstructure:"repoPath"`
	DefaultBranch string `mapstructure:"defaultBranch"`
	// SessionPrefix overrides the prefix derived from the project id.
	SessionPrefix string `mapstructure:"sessionPrefix"`

	Plugins  PluginBindings     `mapstructure:"plugins"`
	Agent    AgentCommandConfig `mapstructure:"agent"`
	Policies PolicyConfig       `mapstructure:"policies"`

	// BotLogins are SCM authors treated as automated reviewers.
	BotLogins []string `mapstructure:"botLogins"`
	// AgentRules is freeform guidance appended to the agent's first prompt.
	AgentRules string `mapstructure:"agentRules"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.output_path", "stderr")

	v.SetDefault("controller.pollInterval", "10s")
	v.SetDefault("controller.parallelism", 8)
	v.SetDefault("controller.callTimeout", "30s")
	v.SetDefault("controller.outputLines", 30)

	v.SetDefault("scheduler.concurrencyCap", 4)
	v.SetDefault("scheduler.priorityPolicy", "strict")
	v.SetDefault("scheduler.agingWindow", "60s")
	v.SetDefault("scheduler.maxAgingBoost", 5)

	// Empty URL means the in-memory event bus.
	v.SetDefault("bus.kind", "memory")
	v.SetDefault("bus.url", "")
	v.SetDefault("bus.maxReconnects", 10)

	v.SetDefault("gateway.enabled", true)
	v.SetDefault("gateway.host", "127.0.0.1")
	v.SetDefault("gateway.port", 7333)
	v.SetDefault("gateway.readTimeout", 30)
	v.SetDefault("gateway.writeTimeout", 30)

	v.SetDefault("janitor.schedule", "")
	v.SetDefault("janitor.dryRun", false)

	v.SetDefault("eventLog.maxBytes", int64(10*1024*1024))
	v.SetDefault("eventLog.maxBackups", 5)

	v.SetDefault("docker.host", "unix:///var/run/docker.sock")
	v.SetDefault("docker.apiVersion", "1.41")
	v.SetDefault("docker.image", "")

	v.SetDefault("notifiers.webhook.ratePerSecond", 1.0)
	v.SetDefault("notifiers.webhook.burst", 5)
}

// detectDefaultLogFormat picks JSON for production environments and
// human-readable console output otherwise.
func detectDefaultLogFormat() string {
	if env := os.Getenv("AO_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "console"
}

// Load reads configuration from the given file path. When path is empty it
// falls back to $AO_CONFIG, then to config.yaml under
// ~/.config/agent-orchestrator and the current directory. A missing config
// file is a ConfigError: the instance hash is derived from the file's
// resolved path, so the orchestrator cannot run without one.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath == "" {
		configPath = os.Getenv("AO_CONFIG")
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "agent-orchestrator"))
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil, oerr.E(oerr.KindConfig, "no configuration file found")
		}
		return nil, oerr.Wrap(oerr.KindConfig, err, "reading config file")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, oerr.Wrap(oerr.KindConfig, err, "unmarshaling config")
	}

	resolved, err := filepath.Abs(v.ConfigFileUsed())
	if err != nil {
		return nil, oerr.Wrap(oerr.KindConfig, err, "resolving config path")
	}
	cfg.Path = resolved

	for id, p := range cfg.Projects {
		p.ID = id
		applyProjectDefaults(&p)
		cfg.Projects[id] = p
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyProjectDefaults(p *ProjectConfig) {
	if p.DefaultBranch == "" {
		p.DefaultBranch = "main"
	}
	if p.Plugins.Runtime == "" {
		p.Plugins.Runtime = "tmux"
	}
	if p.Plugins.Agent == "" {
		p.Plugins.Agent = "claude"
	}
	if p.Plugins.SCM == "" {
		p.Plugins.SCM = "github"
	}
	if p.Plugins.Tracker == "" {
		p.Plugins.Tracker = "github"
	}
	if p.Plugins.Workspace == "" {
		p.Plugins.Workspace = "worktree"
	}
	if p.Agent.Binary == "" {
		p.Agent.Binary = "claude"
	}
}

// Project returns the configuration for a project id.
func (c *Config) Project(id string) (*ProjectConfig, error) {
	p, ok := c.Projects[id]
	if !ok {
		return nil, oerr.E(oerr.KindNotFound, "unknown project %q", id)
	}
	return &p, nil
}

// HomeDir returns the orchestrator data root, resolving the default
// against the user's home directory.
func (c *Config) HomeDir() (string, error) {
	if c.Home != "" {
		return c.Home, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", oerr.Wrap(oerr.KindConfig, err, "resolving home directory")
	}
	return filepath.Join(home, ".agent-orchestrator"), nil
}

var validActions = map[string]bool{
	"send-to-agent": true,
	"notify-human":  true,
	"terminate":     true,
}

var validPriorities = map[string]bool{
	"urgent": true, "action": true, "warning": true, "info": true,
}

// validate collects every configuration problem before failing so the
// operator sees them all at once.
func validate(cfg *Config) error {
	var errs []string

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "console": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, console")
	}

	if cfg.Controller.PollInterval <= 0 {
		errs = append(errs, "controller.pollInterval must be positive")
	}
	if cfg.Controller.Parallelism < 1 {
		errs = append(errs, "controller.parallelism must be at least 1")
	}
	if cfg.Controller.CallTimeout <= 0 {
		errs = append(errs, "controller.callTimeout must be positive")
	}
	if cfg.Controller.OutputLines < 1 {
		errs = append(errs, "controller.outputLines must be at least 1")
	}

	if cfg.Scheduler.ConcurrencyCap < 1 {
		errs = append(errs, "scheduler.concurrencyCap must be at least 1")
	}
	switch cfg.Scheduler.PriorityPolicy {
	case "strict":
	case "aging":
		if cfg.Scheduler.AgingWindow <= 0 {
			errs = append(errs, "scheduler.agingWindow must be positive under the aging policy")
		}
		if cfg.Scheduler.MaxAgingBoost < 0 {
			errs = append(errs, "scheduler.maxAgingBoost must not be negative")
		}
	default:
		errs = append(errs, "scheduler.priorityPolicy must be strict or aging")
	}

	switch cfg.Bus.Kind {
	case "memory":
	case "nats":
		if cfg.Bus.URL == "" {
			errs = append(errs, "bus.url is required when bus.kind is nats")
		}
	default:
		errs = append(errs, "bus.kind must be memory or nats")
	}

	if cfg.Gateway.Enabled && (cfg.Gateway.Port <= 0 || cfg.Gateway.Port > 65535) {
		errs = append(errs, "gateway.port must be between 1 and 65535")
	}

	if cfg.EventLog.MaxBytes <= 0 {
		errs = append(errs, "eventLog.maxBytes must be positive")
	}
	if cfg.EventLog.MaxBackups < 1 {
		errs = append(errs, "eventLog.maxBackups must be at least 1")
	}

	for key, r := range cfg.Reactions {
		if !validActions[r.Action] {
			errs = append(errs, fmt.Sprintf("reactions.%s.action must be one of: send-to-agent, notify-human, terminate", key))
		}
		if r.Retries < 0 {
			errs = append(errs, fmt.Sprintf("reactions.%s.retries must not be negative", key))
		}
		if r.RetriggerAfter < 0 {
			errs = append(errs, fmt.Sprintf("reactions.%s.retriggerAfter must not be negative", key))
		}
	}

	for priority := range cfg.Routing {
		if !validPriorities[priority] {
			errs = append(errs, fmt.Sprintf("notificationRouting key %q must be one of: urgent, action, warning, info", priority))
		}
	}

	for id, p := range cfg.Projects {
		if p.RepoPath == "" {
			errs = append(errs, fmt.Sprintf("projects.%s.repoPath is required", id))
		} else if !filepath.IsAbs(p.RepoPath) {
			errs = append(errs, fmt.Sprintf("projects.%s.repoPath must be absolute", id))
		}
		if p.Repo != "" && len(strings.Split(p.Repo, "/")) != 2 {
			errs = append(errs, fmt.Sprintf("projects.%s.repo must be owner/name", id))
		}
	}

	if len(errs) > 0 {
		return oerr.E(oerr.KindConfig, "%s", strings.Join(errs, "; "))
	}
	return nil
}
