// Package contextstore defines the port for persisting context entries.
package contextstore

import (
	"context"
	"time"

	aocontext "github.com/Strob0t/agentopt/internal/domain/context"
)

// Store holds context entries and the long-term memory index. Writes are
// atomic per entry; readers never see a partially written entry.
type Store interface {
	// Append adds an entry. Only its access count changes afterwards.
	Append(ctx context.Context, e *aocontext.Entry) error

	// ListSession returns all entries of a session, oldest first.
	ListSession(ctx context.Context, sessionID string) ([]aocontext.Entry, error)

	// Touch increments the access count of the given entries of a session.
	// Unknown IDs are ignored.
	Touch(ctx context.Context, sessionID string, ids []string) error

	// DeleteBefore removes entries created before cutoff and returns how
	// many were removed. Memories are kept.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)

	// PutMemory stores m, merging it into an existing memory with the
	// same ID (see aocontext.Memory.Merge).
	PutMemory(ctx context.Context, m *aocontext.Memory) error

	// ListMemories returns up to limit memories, strongest first.
	ListMemories(ctx context.Context, limit int) ([]aocontext.Memory, error)

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int, error)

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error
}
