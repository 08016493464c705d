package events

import (
	"github.com/agentorch/ao/internal/common/config"
	"github.com/agentorch/ao/internal/common/logger"
	"github.com/agentorch/ao/internal/oerr"
)

// NewBus builds the configured bus implementation.
func NewBus(cfg config.BusConfig, log *logger.Logger) (Bus, error) {
	switch cfg.Kind {
	case "", "memory":
		return NewMemoryBus(log), nil
	case "nats":
		return NewNATSBus(cfg.URL, cfg.MaxReconnects, log)
	default:
		return nil, oerr.E(oerr.KindConfig, "unknown bus kind %q", cfg.Kind)
	}
}
