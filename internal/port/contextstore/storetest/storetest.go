// Package storetest provides a compliance suite for contextstore.Store
// implementations.
package storetest

import (
	"context"
	"testing"
	"time"

	aocontext "github.com/Strob0t/agentopt/internal/domain/context"
	"github.com/Strob0t/agentopt/internal/port/contextstore"
)

// Run exercises s. The store must be empty.
func Run(t *testing.T, s contextstore.Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	entry := func(id, session string, age time.Duration) *aocontext.Entry {
		return &aocontext.Entry{
			ID:         id,
			SessionID:  session,
			TaskID:     "task-" + id,
			Summary:    "summary " + id,
			Importance: aocontext.DefaultImportance,
			CreatedAt:  base.Add(-age),
		}
	}

	t.Run("AppendAndListSession", func(t *testing.T) {
		for _, e := range []*aocontext.Entry{
			entry("a1", "s-a", 3*time.Hour),
			entry("a2", "s-a", 2*time.Hour),
			entry("b1", "s-b", time.Hour),
		} {
			if err := s.Append(ctx, e); err != nil {
				t.Fatal(err)
			}
		}
		got, err := s.ListSession(ctx, "s-a")
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 || got[0].ID != "a1" || got[1].ID != "a2" {
			t.Fatalf("unexpected session entries: %+v", got)
		}
	})

	t.Run("ListSessionUnknown", func(t *testing.T) {
		got, err := s.ListSession(ctx, "nope")
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 0 {
			t.Fatalf("expected no entries, got %d", len(got))
		}
	})

	t.Run("Touch", func(t *testing.T) {
		for range 2 {
			if err := s.Touch(ctx, "s-a", []string{"a1", "missing"}); err != nil {
				t.Fatal(err)
			}
		}
		// wrong session: no effect
		if err := s.Touch(ctx, "s-b", []string{"a2"}); err != nil {
			t.Fatal(err)
		}
		got, err := s.ListSession(ctx, "s-a")
		if err != nil {
			t.Fatal(err)
		}
		if got[0].AccessCount != 2 || got[1].AccessCount != 0 {
			t.Fatalf("unexpected access counts %d, %d", got[0].AccessCount, got[1].AccessCount)
		}
	})

	t.Run("Memories", func(t *testing.T) {
		mem := func(id, session string, strength float64, seen time.Time) *aocontext.Memory {
			return &aocontext.Memory{
				ID:            id,
				Summary:       "memory " + id,
				SourceSession: session,
				Strength:      strength,
				Frequency:     1,
				CreatedAt:     seen,
				LastSeen:      seen,
			}
		}
		for _, m := range []*aocontext.Memory{
			mem("m1", "s-a", 1, base),
			mem("m2", "s-a", 2, base),
			mem("m1", "s-b", 3, base.Add(time.Hour)),
		} {
			if err := s.PutMemory(ctx, m); err != nil {
				t.Fatal(err)
			}
		}
		got, err := s.ListMemories(ctx, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 || got[0].ID != "m1" || got[1].ID != "m2" {
			t.Fatalf("unexpected memories: %+v", got)
		}
		if got[0].Frequency != 2 || got[0].Strength != 3 || got[0].SourceSession != "s-b" {
			t.Fatalf("memory not merged: %+v", got[0])
		}
		if got, _ := s.ListMemories(ctx, 1); len(got) != 1 {
			t.Fatalf("limit ignored: %d memories", len(got))
		}
	})

	t.Run("Count", func(t *testing.T) {
		n, err := s.Count(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if n != 3 {
			t.Fatalf("expected 3 entries, got %d", n)
		}
	})

	t.Run("DeleteBeforeIdempotent", func(t *testing.T) {
		cutoff := base.Add(-90 * time.Minute)
		n, err := s.DeleteBefore(ctx, cutoff)
		if err != nil {
			t.Fatal(err)
		}
		if n != 2 {
			t.Fatalf("expected 2 removed, got %d", n)
		}
		n, err = s.DeleteBefore(ctx, cutoff)
		if err != nil {
			t.Fatal(err)
		}
		if n != 0 {
			t.Fatalf("second cleanup removed %d entries", n)
		}
		if mems, _ := s.ListMemories(ctx, 0); len(mems) != 2 {
			t.Fatalf("cleanup must keep memories, %d left", len(mems))
		}
		left, _ := s.ListSession(ctx, "s-b")
		if len(left) != 1 {
			t.Fatalf("entry at cutoff boundary side lost: %+v", left)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := s.Ping(ctx); err != nil {
			t.Fatalf("ping: %v", err)
		}
	})
}
