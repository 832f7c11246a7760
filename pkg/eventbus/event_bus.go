// Package eventbus carries run lifecycle notifications and dispatch requests between processes.
package eventbus

import (
	"context"

	"github.com/dukex/contentflow/pkg/events"
)

// Event is any message of pkg/events.
type Event interface {
	GetType() events.EventType
}

// EventPublisher is what the executor, the gate and the orchestrator need.
// Events with the same key keep their order.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives a pointer to the decoded event struct.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
