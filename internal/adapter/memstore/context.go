// Package memstore provides the default in-memory context store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	aocontext "github.com/Strob0t/agentopt/internal/domain/context"
)

// bucket holds one session's entries, oldest first.
type bucket struct {
	mu      sync.RWMutex
	entries []aocontext.Entry
	dead    bool // unlinked from the store; writers must look up again
}

// ContextStore keeps entries in per-session buckets. The outer lock only
// guards bucket creation and lookup; entry writes lock their bucket.
// Memories live in their own map.
type ContextStore struct {
	mu      sync.RWMutex
	buckets map[string]*bucket

	memMu    sync.RWMutex
	memories map[string]aocontext.Memory
}

// NewContextStore creates an empty store.
func NewContextStore() *ContextStore {
	return &ContextStore{
		buckets:  make(map[string]*bucket),
		memories: make(map[string]aocontext.Memory),
	}
}

func (s *ContextStore) bucket(sessionID string, create bool) *bucket {
	s.mu.RLock()
	b := s.buckets[sessionID]
	s.mu.RUnlock()
	if b != nil || !create {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b = s.buckets[sessionID]; b == nil {
		b = &bucket{}
		s.buckets[sessionID] = b
	}
	return b
}

func (s *ContextStore) snapshot() map[string]*bucket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*bucket, len(s.buckets))
	for k, v := range s.buckets {
		out[k] = v
	}
	return out
}

// Append adds e to its session bucket, keeping creation order.
func (s *ContextStore) Append(ctx context.Context, e *aocontext.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := s.bucket(e.SessionID, true)
	b.mu.Lock()
	for b.dead {
		b.mu.Unlock()
		b = s.bucket(e.SessionID, true)
		b.mu.Lock()
	}
	defer b.mu.Unlock()

	i := sort.Search(len(b.entries), func(i int) bool { return b.entries[i].CreatedAt.After(e.CreatedAt) })
	b.entries = append(b.entries, aocontext.Entry{})
	copy(b.entries[i+1:], b.entries[i:])
	b.entries[i] = *e
	return nil
}

// ListSession returns a copy of the session's entries, oldest first.
func (s *ContextStore) ListSession(_ context.Context, sessionID string) ([]aocontext.Entry, error) {
	b := s.bucket(sessionID, false)
	if b == nil {
		return nil, nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]aocontext.Entry(nil), b.entries...), nil
}

// Touch increments the access count of ids in the session's bucket.
func (s *ContextStore) Touch(_ context.Context, sessionID string, ids []string) error {
	b := s.bucket(sessionID, false)
	if b == nil || len(ids) == 0 {
		return nil
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.entries {
		if _, ok := want[b.entries[i].ID]; ok {
			b.entries[i].AccessCount++
		}
	}
	return nil
}

// PutMemory inserts m or merges it into the memory with the same ID.
func (s *ContextStore) PutMemory(ctx context.Context, m *aocontext.Memory) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.memMu.Lock()
	defer s.memMu.Unlock()
	if cur, ok := s.memories[m.ID]; ok {
		cur.Merge(*m)
		s.memories[m.ID] = cur
		return nil
	}
	s.memories[m.ID] = *m
	return nil
}

// ListMemories returns the strongest memories first.
func (s *ContextStore) ListMemories(_ context.Context, limit int) ([]aocontext.Memory, error) {
	s.memMu.RLock()
	out := make([]aocontext.Memory, 0, len(s.memories))
	for _, m := range s.memories {
		out = append(out, m)
	}
	s.memMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Strength != out[j].Strength {
			return out[i].Strength > out[j].Strength
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteBefore drops entries created before cutoff. Empty buckets are
// removed so ended sessions do not leak.
func (s *ContextStore) DeleteBefore(_ context.Context, cutoff time.Time) (int, error) {
	removed := 0
	var empty []string
	for id, b := range s.snapshot() {
		b.mu.Lock()
		// entries are sorted, so the expired ones form a prefix
		n := sort.Search(len(b.entries), func(i int) bool { return !b.entries[i].CreatedAt.Before(cutoff) })
		if n > 0 {
			b.entries = append([]aocontext.Entry(nil), b.entries[n:]...)
			removed += n
		}
		if len(b.entries) == 0 {
			empty = append(empty, id)
		}
		b.mu.Unlock()
	}

	if len(empty) > 0 {
		s.mu.Lock()
		for _, id := range empty {
			if b := s.buckets[id]; b != nil {
				b.mu.Lock()
				if len(b.entries) == 0 {
					b.dead = true
					delete(s.buckets, id)
				}
				b.mu.Unlock()
			}
		}
		s.mu.Unlock()
	}
	return removed, nil
}

// Count returns the total number of entries.
func (s *ContextStore) Count(_ context.Context) (int, error) {
	n := 0
	for _, b := range s.snapshot() {
		b.mu.RLock()
		n += len(b.entries)
		b.mu.RUnlock()
	}
	return n, nil
}

// Ping always succeeds.
func (s *ContextStore) Ping(context.Context) error { return nil }
