// Package broadcast defines the port for broadcasting real-time memory
// lifecycle events to connected clients.
package broadcast

import "context"

// Broadcaster sends real-time events to all connected clients.
// Implementations must never block or fail the caller.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to all connected clients.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
