// Package main is the entry point for the standalone MCP server binary.
// ao-mcp exposes orchestrator session tools to MCP-compatible clients
// (Claude Desktop, Cursor, Codex, etc.)
//
// The server supports two transports:
//   - SSE (Server-Sent Events) at /sse for Claude Desktop, Cursor
//   - Streamable HTTP at /mcp for Codex
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/agentorch/ao/internal/common/config"
	"github.com/agentorch/ao/internal/common/logger"
	"github.com/agentorch/ao/internal/mcpserver"
	"github.com/agentorch/ao/internal/plugin"
	claudeagent "github.com/agentorch/ao/internal/plugin/agent/claude"
	dockerruntime "github.com/agentorch/ao/internal/plugin/runtime/docker"
	localruntime "github.com/agentorch/ao/internal/plugin/runtime/local"
	tmuxruntime "github.com/agentorch/ao/internal/plugin/runtime/tmux"
	githubscm "github.com/agentorch/ao/internal/plugin/scm/github"
	githubtracker "github.com/agentorch/ao/internal/plugin/tracker/github"
	"github.com/agentorch/ao/internal/session"
	"github.com/agentorch/ao/internal/workspace"
)

var (
	portFlag   = flag.Int("port", 9090, "MCP server port")
	configFlag = flag.String("config", "", "orchestrator config file (default: $AO_CONFIG lookup)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	manager, err := buildManager(cfg, log)
	if err != nil {
		log.Error("failed to build session manager", zap.Error(err))
		os.Exit(1)
	}

	port := *portFlag
	if v := os.Getenv("AO_MCP_PORT"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &port); err != nil {
			log.Warn("ignoring unparsable AO_MCP_PORT", zap.String("value", v))
		}
	}

	ctx := context.Background()
	srv, cleanup, err := mcpserver.Provide(ctx, mcpserver.Config{Port: port}, manager, log)
	if err != nil {
		log.Error("failed to start MCP server", zap.Error(err))
		os.Exit(1)
	}

	fmt.Printf("ao MCP server running on :%d\n", port)
	fmt.Printf("SSE endpoint: %s (for Claude Desktop, Cursor)\n", srv.SSEEndpoint())
	fmt.Printf("Streamable HTTP endpoint: %s (for Codex)\n", srv.StreamableHTTPEndpoint())

	waitForShutdown(log, cleanup)
}

// buildManager wires the built-in plugins and the session manager. The
// MCP binary is a control surface: it needs no bus or event log.
func buildManager(cfg *config.Config, log *logger.Logger) (*session.Manager, error) {
	reg := plugin.NewRegistry()
	if err := reg.RegisterRuntime(tmuxruntime.New(log)); err != nil {
		return nil, err
	}
	if err := reg.RegisterRuntime(localruntime.New(log)); err != nil {
		return nil, err
	}
	if docker, err := dockerruntime.New(cfg.Docker, log); err != nil {
		log.WithError(err).Warn("docker runtime unavailable")
	} else if err := reg.RegisterRuntime(docker); err != nil {
		return nil, err
	}
	if err := reg.RegisterAgent(claudeagent.New()); err != nil {
		return nil, err
	}
	if err := reg.RegisterSCM(githubscm.New()); err != nil {
		return nil, err
	}
	if err := reg.RegisterTracker(githubtracker.New()); err != nil {
		return nil, err
	}
	if err := reg.RegisterWorkspace(workspace.NewWorktree(log)); err != nil {
		return nil, err
	}
	if err := reg.RegisterWorkspace(workspace.NewClone(log)); err != nil {
		return nil, err
	}
	reg.Freeze()

	return session.NewManager(cfg, reg, nil, log)
}

func waitForShutdown(log *logger.Logger, cleanup func() error) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down ao-mcp...")
	if err := cleanup(); err != nil {
		log.Error("error during shutdown", zap.Error(err))
	}
	log.Info("ao-mcp stopped")
}
