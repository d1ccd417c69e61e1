// Package broadcast defines the port for fanning run events out to
// connected observers. Broadcasting is advisory: implementations must not
// block the control loop or influence execution.
package broadcast

import (
	"context"

	"github.com/forgeline/foreman/internal/domain/event"
)

// Broadcaster sends typed run events to all connected observers.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to all connected observers.
	BroadcastEvent(ctx context.Context, eventType event.Type, payload any)
}

// Noop discards all events. Useful for tests and headless runs.
type Noop struct{}

// BroadcastEvent discards the event.
func (Noop) BroadcastEvent(context.Context, event.Type, any) {}
