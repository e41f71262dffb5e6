// Package broadcast is the port for pushing control loop events to live
// observers such as dashboard WebSocket clients.
package broadcast

import "context"

// Broadcaster fans an event out to every attached observer. Implementations
// must not block the caller on a slow observer.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
