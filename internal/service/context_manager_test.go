package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/agentopt/internal/adapter/memstore"
	aocontext "github.com/Strob0t/agentopt/internal/domain/context"
	"github.com/Strob0t/agentopt/internal/service"
)

func TestContextManager_PrefersSameSession(t *testing.T) {
	ctx := context.Background()
	m := service.NewContextManager(memstore.NewContextStore(), testConfig(), nil)

	if err := m.Record(ctx, "s1", "t1", "a", "implement login form"); err != nil {
		t.Fatal(err)
	}
	if err := m.Record(ctx, "s1", "t2", "a", "write release notes"); err != nil {
		t.Fatal(err)
	}
	if err := m.Record(ctx, "s2", "t3", "a", "login form styling"); err != nil {
		t.Fatal(err)
	}

	got, err := m.GetRelatedContext(ctx, "s1", "login form", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 same-session entries, got %d", len(got))
	}
	if got[0].TaskID != "t1" {
		t.Fatalf("expected keyword match first, got %s", got[0].TaskID)
	}
	for _, e := range got {
		if e.SessionID != "s1" {
			t.Fatalf("unexpected session %s", e.SessionID)
		}
	}
}

func TestContextManager_FallsBackToLongTerm(t *testing.T) {
	ctx := context.Background()
	m := service.NewContextManager(memstore.NewContextStore(), testConfig(), nil)
	_ = m.Record(ctx, "old", "t1", "a", "database migration for users")
	_ = m.Record(ctx, "old", "t2", "a", "frontend colours")

	// Nothing consolidated yet: other sessions' raw entries are not replayed.
	got, err := m.GetRelatedContext(ctx, "new", "users migration", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no long-term context before consolidation, got %+v", got)
	}

	// Reading t1 often enough makes it worth keeping.
	for range aocontext.ConsolidateAccesses + 1 {
		if _, err := m.GetRelatedContext(ctx, "old", "migration", 1); err != nil {
			t.Fatal(err)
		}
	}
	n, err := m.ConsolidateMemory(ctx, "old")
	if err != nil || n != 1 {
		t.Fatalf("ConsolidateMemory = %d, %v; want 1", n, err)
	}

	got, err = m.GetRelatedContext(ctx, "new", "users migration", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].TaskID != "t1" || !got[0].LongTerm {
		t.Fatalf("expected the consolidated t1 memory, got %+v", got)
	}
	if got, _ := m.GetRelatedContext(ctx, "new", "colours", 5); len(got) != 0 {
		t.Fatalf("unconsolidated entry leaked into long-term results: %+v", got)
	}
}

func TestContextManager_ConsolidateMergesRepeats(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewContextStore()
	m := service.NewContextManager(store, testConfig(), nil)
	now := time.Now()

	for i, session := range []string{"s1", "s1", "s2"} {
		_ = store.Append(ctx, &aocontext.Entry{
			ID:         session + "-" + string(rune('a'+i)),
			SessionID:  session,
			Summary:    "Rotate the API keys",
			Importance: 2,
			CreatedAt:  now,
		})
	}
	_ = store.Append(ctx, &aocontext.Entry{ID: "plain", SessionID: "s1", Summary: "noise", Importance: 1, CreatedAt: now})

	if n, err := m.ConsolidateMemory(ctx, "s1"); err != nil || n != 1 {
		t.Fatalf("s1: promoted %d, err %v", n, err)
	}
	if n, err := m.ConsolidateMemory(ctx, "s2"); err != nil || n != 1 {
		t.Fatalf("s2: promoted %d, err %v", n, err)
	}
	mems, _ := store.ListMemories(ctx, 0)
	if len(mems) != 1 || mems[0].Frequency != 3 {
		t.Fatalf("expected one memory seen 3 times, got %+v", mems)
	}

	if n, err := m.ConsolidateMemory(ctx, "unknown"); err != nil || n != 0 {
		t.Fatalf("unknown session: promoted %d, err %v", n, err)
	}
}

func TestContextManager_InheritDecaysImportance(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewContextStore()
	m := service.NewContextManager(store, testConfig(), nil)
	_ = m.Record(ctx, "parent", "t1", "a", "summary one")
	_ = m.Record(ctx, "parent", "t2", "a", "summary two")

	n, err := m.InheritContext(ctx, "parent", "child")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 inherited, got %d", n)
	}
	entries, _ := store.ListSession(ctx, "child")
	for _, e := range entries {
		if e.Importance != aocontext.DefaultImportance*aocontext.InheritDecay {
			t.Errorf("expected decayed importance, got %v", e.Importance)
		}
	}
	if total, _ := m.Count(ctx); total != 4 {
		t.Fatalf("expected 4 entries, got %d", total)
	}
}

func TestContextManager_CleanupIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewContextStore()
	m := service.NewContextManager(store, testConfig(), nil)

	old := time.Now().Add(-48 * time.Hour)
	_ = store.Append(ctx, &aocontext.Entry{ID: "old", SessionID: "s", CreatedAt: old})
	_ = m.Record(ctx, "s", "t", "a", "fresh")

	cutoff := time.Now().Add(-24 * time.Hour)
	n, err := m.CleanupOldContexts(ctx, cutoff)
	if err != nil || n != 1 {
		t.Fatalf("first cleanup: n=%d err=%v", n, err)
	}
	n, err = m.CleanupOldContexts(ctx, cutoff)
	if err != nil || n != 0 {
		t.Fatalf("second cleanup: n=%d err=%v", n, err)
	}
}

func TestContextManager_ErrorRate(t *testing.T) {
	ctx := context.Background()
	m := service.NewContextManager(&brokenStore{ContextStore: memstore.NewContextStore()}, testConfig(), nil)

	if m.ErrorRate() != 0 {
		t.Fatal("expected zero error rate before writes")
	}
	if err := m.Record(ctx, "s", "t", "a", "x"); err == nil {
		t.Fatal("expected write error")
	}
	if m.ErrorRate() != 1 {
		t.Fatalf("expected error rate 1, got %v", m.ErrorRate())
	}
}
