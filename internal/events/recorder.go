package events

import (
	"context"

	"github.com/agentorch/ao/internal/common/logger"
)

// Recorder pairs the durable log with the live bus. Emit appends first —
// the log is the record — and then publishes for live consumers; a bus
// failure is logged, not surfaced, because losing a live delivery must
// not fail the operation that produced the event.
type Recorder struct {
	log *Log
	bus Bus
	lg  *logger.Logger
}

// NewRecorder builds a recorder. Either the log or the bus may be nil;
// the corresponding half is skipped.
func NewRecorder(log *Log, bus Bus, lg *logger.Logger) *Recorder {
	return &Recorder{log: log, bus: bus, lg: lg.WithComponent("events")}
}

// Emit records an event. Only the durable append can fail.
func (r *Recorder) Emit(ctx context.Context, e Event) error {
	if r.log != nil {
		if err := r.log.Append(e); err != nil {
			return err
		}
	}
	if r.bus != nil {
		if err := r.bus.Publish(ctx, e); err != nil {
			r.lg.WithError(err).Warn("event publish failed")
		}
	}
	return nil
}

// Tail exposes the log's tail for catch-up reads; nil-log recorders
// return no events.
func (r *Recorder) Tail(n int) ([]Event, error) {
	if r.log == nil {
		return nil, nil
	}
	return r.log.Tail(n)
}
