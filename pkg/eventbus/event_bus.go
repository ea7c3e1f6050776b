// Package eventbus provides the queue abstraction used by the scheduler and
// the orchestrator: at-least-once publish of typed events, partitioned by a
// caller-supplied key.
package eventbus

import (
	"context"

	"github.com/tidehq/tideflow/pkg/events"
)

// Event is anything publishable on the bus.
type Event interface {
	GetType() events.EventType
}

// EventHandler processes one decoded event. Returning an error nacks the
// message; the queue redelivers it (at-least-once).
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	GenerateID() string
	Publish(ctx context.Context, topic, key string, event Event) error
	Subscribe(ctx context.Context, topic string) error
	Handle(eventType events.EventType, handler EventHandler) error
	Close() error
}
