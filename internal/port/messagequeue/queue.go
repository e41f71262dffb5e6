// Package messagequeue is the port the orchestrator uses to publish its
// lifecycle events and to receive out-of-band control requests.
package messagequeue

import "context"

// Handler receives one message. A returned error is logged by the adapter.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue publishes to and subscribes on dot-separated subjects.
type Queue interface {
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe attaches handler to subject until cancel is called.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain flushes pending publishes and lets in-flight handlers finish.
	Drain() error
	Close() error

	// IsConnected is false while the adapter is reconnecting. Events raised
	// in that window are not published.
	IsConnected() bool
}

// Subject suffixes, appended to the configured prefix.
const (
	SubjectEvents   = "events"           // events.{name}: lifecycle events
	SubjectOptimize = "control.optimize" // request an immediate optimizer cycle
	SubjectAnalyze  = "control.analyze"  // request an immediate pattern analysis
)
