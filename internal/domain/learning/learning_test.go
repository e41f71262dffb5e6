package learning

import (
	"math"
	"testing"
	"time"
)

func TestSignStable(t *testing.T) {
	a := Sign("refactor module", map[string]any{"lang": "Go", "tests": true, "files": 3})
	b := Sign("rename module", map[string]any{"files": 12, "tests": true, "lang": "go"})
	if a.Key != b.Key {
		t.Errorf("equal shapes hashed differently:\n%s\n%s", a.Shape, b.Shape)
	}
	if len(a.Key) != 32 {
		t.Errorf("expected 32 hex chars, got %d", len(a.Key))
	}
}

func TestSignDistinguishesShapes(t *testing.T) {
	tests := []struct {
		name string
		a, b map[string]any
	}{
		{"different key", map[string]any{"lang": "go"}, map[string]any{"language": "go"}},
		{"different literal", map[string]any{"task_type": "analysis"}, map[string]any{"task_type": "generation"}},
		{"different kind", map[string]any{"x": 1}, map[string]any{"x": "1"}},
		{"separator in value", map[string]any{"a": "x;b=str:y"}, map[string]any{"a": "x", "b": "y"}},
		{"separator in key", map[string]any{"a=str:x;b": "y"}, map[string]any{"a": "x", "b": "y"}},
		{"key named desc", map[string]any{"": "short"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if Sign("d", tt.a).Key == Sign("d", tt.b).Key {
				t.Error("expected different signatures")
			}
		})
	}
}

func TestEMABiasCorrected(t *testing.T) {
	var e EMA
	for range 5 {
		e.Update(1, 0.1)
	}
	if got := e.Value(0.1); math.Abs(got-1) > 1e-9 {
		t.Errorf("constant input should average to 1, got %v", got)
	}
	if (&EMA{}).Value(0.1) != 0 {
		t.Error("empty EMA should be 0")
	}
}

func TestAgentStatsObserve(t *testing.T) {
	s := NewAgentStats("a", 0.1)
	for i := range 10 {
		s.Observe(Outcome{AgentID: "a", Success: i != 0, Duration: 2 * time.Second, Quality: 0.8})
	}
	if s.Samples != 10 || s.Successes != 9 {
		t.Fatalf("samples=%d successes=%d", s.Samples, s.Successes)
	}
	if s.SuccessRate < 0.8 || s.SuccessRate > 1 {
		t.Errorf("success rate out of range: %v", s.SuccessRate)
	}
	if math.Abs(s.AvgSeconds-2) > 1e-9 {
		t.Errorf("avg seconds = %v, want 2", s.AvgSeconds)
	}
}
