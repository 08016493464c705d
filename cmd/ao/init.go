package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/agentorch/ao/internal/oerr"
)

const exampleConfig = `# agent-orchestrator configuration
# home: ~/.agent-orchestrator

logging:
  level: info
  format: console

controller:
  pollInterval: 30s
  parallelism: 8
  callTimeout: 30s
  outputLines: 80

scheduler:
  concurrencyCap: 4
  priorityPolicy: aging
  agingWindow: 10m
  maxAgingBoost: 3

bus:
  kind: memory # or nats
  # url: nats://localhost:4222

gateway:
  enabled: true
  host: 127.0.0.1
  port: 8423
  readTimeout: 15
  writeTimeout: 15

janitor:
  schedule: "0 */6 * * *"
  dryRun: false

reactions:
  ci-failed:
    auto: true
    action: send-to-agent
    message: "CI is failing on your PR. Inspect the failing checks and push a fix."
    retries: 3
    retriggerAfter: 30m
  review-changes-requested:
    auto: true
    action: send-to-agent
    message: "A reviewer requested changes. Address the review comments."
    retries: 2
    retriggerAfter: 1h
  needs-input:
    auto: true
    action: notify-human
  stuck:
    auto: true
    action: notify-human

notificationRouting:
  urgent: [webhook, slack]
  action: [webhook]

# notifiers:
#   webhook:
#     url: https://example.com/hooks/ao
#     ratePerSecond: 2
#     burst: 5
#   slack:
#     token: xoxb-...
#     channel: "#agents"

projects:
  myapp:
    repo: acme/myapp
    repoPath: /home/me/src/myapp
    defaultBranch: main
    plugins:
      runtime: tmux
      agent: claude
      scm: github
      tracker: github
      workspace: worktree
      notifiers: [webhook]
    agent:
      binary: claude
      args: ["--permission-mode", "acceptEdits"]
`

// cmdInit scaffolds a commented config file at the default lookup path.
func cmdInit(_ context.Context, g globals, args []string) error {
	path := g.configPath
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return oerr.Wrap(oerr.KindConfig, err, "resolving home directory")
		}
		path = filepath.Join(home, ".config", "agent-orchestrator", "config.yaml")
	}

	if _, err := os.Stat(path); err == nil {
		return oerr.E(oerr.KindConflictingState, "config file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return oerr.Wrap(oerr.KindConfig, err, "creating config directory")
	}
	if err := os.WriteFile(path, []byte(exampleConfig), 0o644); err != nil {
		return oerr.Wrap(oerr.KindConfig, err, "writing config file")
	}
	fmt.Printf("wrote %s\nedit the projects section, then try 'ao list'\n", path)
	return nil
}
