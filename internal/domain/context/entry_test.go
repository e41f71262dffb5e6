package context

import (
	"testing"
	"time"
)

func TestTokens(t *testing.T) {
	got := Tokens("Fix the JSON-parser, a bug in v2!")
	for _, want := range []string{"fix", "the", "json", "parser", "bug", "in", "v2"} {
		if _, ok := got[want]; !ok {
			t.Errorf("missing token %q", want)
		}
	}
	if _, ok := got["a"]; ok {
		t.Error("single letters must be dropped")
	}
}

func TestRankPrefersOverlapThenRecency(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := []Entry{
		{ID: "old-match", Summary: "database migration finished", CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "new-nomatch", Summary: "wrote unit tests", CreatedAt: now.Add(-time.Minute)},
		{ID: "new-match", Summary: "database index added", CreatedAt: now.Add(-time.Minute)},
	}

	s := Scorer{RecencyWeight: 0.5, HalfLife: 24 * time.Hour, Now: now}
	got := s.Rank(entries, "database")
	if got[0].ID != "new-match" || got[1].ID != "old-match" || got[2].ID != "new-nomatch" {
		t.Errorf("unexpected order: %s %s %s", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestRankEmptyQueryIsRecency(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := []Entry{
		{ID: "b", Summary: "x", CreatedAt: now.Add(-time.Hour)},
		{ID: "a", Summary: "y", CreatedAt: now},
	}
	got := Scorer{RecencyWeight: 0.2, Now: now}.Rank(entries, "")
	if got[0].ID != "a" {
		t.Errorf("expected newest first, got %s", got[0].ID)
	}
}

func TestImportanceScales(t *testing.T) {
	now := time.Now()
	entries := []Entry{
		{ID: "inherited", Summary: "deploy", Importance: InheritDecay, CreatedAt: now},
		{ID: "own", Summary: "deploy", Importance: DefaultImportance, CreatedAt: now},
	}
	got := Scorer{RecencyWeight: 0.5, Now: now}.Rank(entries, "deploy")
	if got[0].ID != "own" {
		t.Errorf("expected own entry first, got %s", got[0].ID)
	}
}
