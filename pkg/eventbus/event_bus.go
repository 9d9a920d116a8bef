// Package eventbus fans automation and node events out to external subscribers.
package eventbus

import (
	"context"

	"github.com/dukex/autoflow/pkg/events"
)

// Event is anything published on the bus. The type selects the handler.
type Event interface {
	GetType() events.EventType
}

// EventPublisher is the side the execution service depends on. Publishing is
// keyed by automation id so a partitioned broker keeps a run's events ordered.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
