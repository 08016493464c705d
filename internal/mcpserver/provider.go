package mcpserver

import (
	"context"
	"sync"
	"time"

	"github.com/agentorch/ao/internal/common/logger"
	"github.com/agentorch/ao/internal/session"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{Port: 9090}
}

// Provide starts the MCP server and returns a cleanup function that
// stops it. The cleanup is safe to call more than once.
func Provide(ctx context.Context, cfg Config, manager *session.Manager, log *logger.Logger) (*Server, func() error, error) {
	srv := New(cfg, manager, log)
	if err := srv.Start(ctx); err != nil {
		return nil, nil, err
	}

	var stopOnce sync.Once
	cleanup := func() error {
		var stopErr error
		stopOnce.Do(func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			stopErr = srv.Stop(stopCtx)
		})
		return stopErr
	}

	return srv, cleanup, nil
}
