package service_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/agentopt/internal/domain/metrics"
	"github.com/Strob0t/agentopt/internal/service"
)

func TestMetricsStore_BeginFinish(t *testing.T) {
	s := service.NewMetricsStore(0.1, 10)
	s.Register("a")

	s.Begin("a")
	s.Begin("a")
	snap, _ := s.Snapshot("a")
	if snap.Load != 2 {
		t.Fatalf("expected load 2, got %d", snap.Load)
	}

	s.Finish("a", metrics.Outcome{Success: true, Duration: 2 * time.Second, Quality: 0.8})
	s.Finish("a", metrics.Outcome{Success: false, Duration: 4 * time.Second})

	snap, ok := s.Snapshot("a")
	if !ok {
		t.Fatal("agent missing")
	}
	if snap.Attempted != 2 || snap.Succeeded != 1 || snap.Load != 0 {
		t.Fatalf("unexpected counters %+v", snap)
	}
	if snap.WindowAttempted != 2 || snap.WindowFailed != 1 {
		t.Fatalf("unexpected window %d/%d", snap.WindowFailed, snap.WindowAttempted)
	}
	// Bias-corrected average of 2s and 4s weighted towards the newer value.
	if snap.AvgExecTime < 3*time.Second || snap.AvgExecTime > 4*time.Second {
		t.Fatalf("unexpected average %v", snap.AvgExecTime)
	}
	if s.TotalProcessed() != 2 {
		t.Fatalf("expected 2 processed, got %d", s.TotalProcessed())
	}
}

func TestMetricsStore_AbortedOutcome(t *testing.T) {
	s := service.NewMetricsStore(0.1, 10)
	s.Finish("a", metrics.Outcome{Success: true, Duration: time.Second, Quality: 0.8})
	s.Begin("a")
	s.Finish("a", metrics.Outcome{Aborted: true, Duration: time.Minute})

	snap, _ := s.Snapshot("a")
	if snap.Attempted != 2 || snap.Succeeded != 1 || snap.Load != 0 {
		t.Fatalf("unexpected counters %+v", snap)
	}
	if snap.WindowAttempted != 1 || snap.WindowFailed != 0 {
		t.Fatalf("aborted outcome must stay out of the window, got %d/%d", snap.WindowFailed, snap.WindowAttempted)
	}
	if d := snap.AvgExecTime - time.Second; d < -time.Millisecond || d > time.Millisecond {
		t.Fatalf("aborted duration must not move the average, got %v", snap.AvgExecTime)
	}
	if s.TotalProcessed() != 2 {
		t.Fatalf("expected 2 processed, got %d", s.TotalProcessed())
	}
}

func TestMetricsStore_FirstOutcomeIsExact(t *testing.T) {
	s := service.NewMetricsStore(0.1, 10)
	s.Finish("a", metrics.Outcome{Success: true, Duration: 3 * time.Second, Quality: 0.6})

	snap, _ := s.Snapshot("a")
	if d := snap.AvgExecTime - 3*time.Second; d < -time.Millisecond || d > time.Millisecond {
		t.Fatalf("expected 3s, got %v", snap.AvgExecTime)
	}
	if snap.Quality < 0.599 || snap.Quality > 0.601 {
		t.Fatalf("expected quality 0.6, got %v", snap.Quality)
	}
}

func TestMetricsStore_ConcurrentAgents(t *testing.T) {
	s := service.NewMetricsStore(0.1, 50)
	var wg sync.WaitGroup
	for i := range 8 {
		id := fmt.Sprintf("agent-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				s.Begin(id)
				s.Finish(id, metrics.Outcome{Success: true, Duration: time.Millisecond})
			}
		}()
	}
	wg.Wait()

	snaps := s.Snapshots()
	if len(snaps) != 8 {
		t.Fatalf("expected 8 agents, got %d", len(snaps))
	}
	for i, snap := range snaps {
		if snap.AgentID != fmt.Sprintf("agent-%d", i) {
			t.Errorf("snapshots not ordered: %s at %d", snap.AgentID, i)
		}
		if snap.Attempted != 100 || snap.Load != 0 {
			t.Errorf("%s: attempted=%d load=%d", snap.AgentID, snap.Attempted, snap.Load)
		}
	}
	if s.TotalProcessed() != 800 {
		t.Fatalf("expected 800, got %d", s.TotalProcessed())
	}
}
