package service

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Strob0t/agentopt/internal/domain/learning"
	"github.com/Strob0t/agentopt/internal/domain/metrics"
)

// agentMetrics is one agent's counters. Its own mutex keeps updates for
// different agents independent.
type agentMetrics struct {
	mu      sync.Mutex
	snap    metrics.Snapshot
	window  *metrics.Window
	seconds learning.EMA
	quality learning.EMA
}

// MetricsStore holds live per-agent performance counters. The outer lock
// only guards the agent map; updates lock a single agent.
type MetricsStore struct {
	mu         sync.RWMutex
	agents     map[string]*agentMetrics
	alpha      float64
	windowSize int
	processed  atomic.Int64
	now        func() time.Time
}

// NewMetricsStore creates a store that averages with weight alpha and keeps
// the last windowSize outcomes per agent for failure-rate checks.
func NewMetricsStore(alpha float64, windowSize int) *MetricsStore {
	return &MetricsStore{
		agents:     make(map[string]*agentMetrics),
		alpha:      alpha,
		windowSize: windowSize,
		now:        time.Now,
	}
}

// Register creates an empty entry for agentID if none exists.
func (s *MetricsStore) Register(agentID string) {
	s.agent(agentID)
}

func (s *MetricsStore) agent(agentID string) *agentMetrics {
	s.mu.RLock()
	a, ok := s.agents[agentID]
	s.mu.RUnlock()
	if ok {
		return a
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok = s.agents[agentID]; ok {
		return a
	}
	a = &agentMetrics{
		snap:   metrics.Snapshot{AgentID: agentID},
		window: metrics.NewWindow(s.windowSize),
	}
	s.agents[agentID] = a
	return a
}

// Begin marks a task as dispatched to agentID.
func (s *MetricsStore) Begin(agentID string) {
	a := s.agent(agentID)
	a.mu.Lock()
	a.snap.Load++
	a.mu.Unlock()
}

// Finish folds a finished task into agentID's counters and releases the
// load taken by Begin.
func (s *MetricsStore) Finish(agentID string, o metrics.Outcome) {
	a := s.agent(agentID)
	a.mu.Lock()
	defer a.mu.Unlock()

	a.snap.Attempted++
	if o.Success {
		a.snap.Succeeded++
	}
	if !o.Aborted {
		a.seconds.Update(o.Duration.Seconds(), s.alpha)
		a.quality.Update(o.Quality, s.alpha)
		a.snap.AvgExecTime = time.Duration(a.seconds.Value(s.alpha) * float64(time.Second))
		a.snap.Quality = a.quality.Value(s.alpha)

		a.window.Add(o.Success)
		a.snap.WindowAttempted, a.snap.WindowFailed = a.window.Counts()
	}

	if a.snap.Load > 0 {
		a.snap.Load--
	}
	a.snap.LastUpdated = s.now()
	s.processed.Add(1)
}

// Snapshot returns a copy of agentID's counters.
func (s *MetricsStore) Snapshot(agentID string) (metrics.Snapshot, bool) {
	s.mu.RLock()
	a, ok := s.agents[agentID]
	s.mu.RUnlock()
	if !ok {
		return metrics.Snapshot{}, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snap, true
}

// Snapshots returns copies of every agent's counters ordered by agent ID.
func (s *MetricsStore) Snapshots() []metrics.Snapshot {
	s.mu.RLock()
	as := make([]*agentMetrics, 0, len(s.agents))
	for _, a := range s.agents {
		as = append(as, a)
	}
	s.mu.RUnlock()

	out := make([]metrics.Snapshot, 0, len(as))
	for _, a := range as {
		a.mu.Lock()
		out = append(out, a.snap)
		a.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// TotalProcessed returns the number of tasks finished since start.
func (s *MetricsStore) TotalProcessed() int64 {
	return s.processed.Load()
}
