package events

import (
	"context"
)

// Handler consumes a published event. Handlers run on bus goroutines and
// must not block for long.
type Handler func(ctx context.Context, e Event) error

// Subscription is an active subject subscription.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// Bus fans events out to live subscribers. The event log, not the bus,
// is the durable record; bus delivery is at-most-once.
type Bus interface {
	// Publish sends an event on its subject (see Subject).
	Publish(ctx context.Context, e Event) error

	// Subscribe registers a handler for a subject pattern. Patterns use
	// NATS wildcards: '*' matches one token, '>' matches the rest.
	Subscribe(pattern string, h Handler) (Subscription, error)

	// Close shuts the bus down; further publishes fail.
	Close()

	// IsConnected reports whether the bus can deliver.
	IsConnected() bool
}
