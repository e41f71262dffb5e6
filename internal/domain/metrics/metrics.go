// Package metrics defines per-agent performance snapshots.
package metrics

import "time"

// Snapshot is a point-in-time copy of one agent's performance counters.
type Snapshot struct {
	AgentID         string        `json:"agent_id"`
	Attempted       int64         `json:"attempted"`
	Succeeded       int64         `json:"succeeded"`
	AvgExecTime     time.Duration `json:"avg_exec_time"`
	Quality         float64       `json:"quality"`
	Load            int64         `json:"load"`
	WindowAttempted int           `json:"window_attempted"`
	WindowFailed    int           `json:"window_failed"`
	LastUpdated     time.Time     `json:"last_updated"`
}

// SuccessRate returns succeeded/attempted, or 0 without attempts.
func (s Snapshot) SuccessRate() float64 {
	if s.Attempted == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Attempted)
}

// FailureRate returns the lifetime failure rate.
func (s Snapshot) FailureRate() float64 {
	if s.Attempted == 0 {
		return 0
	}
	return 1 - s.SuccessRate()
}

// WindowFailureRate returns the failure rate over the recent outcome window.
func (s Snapshot) WindowFailureRate() float64 {
	if s.WindowAttempted == 0 {
		return 0
	}
	return float64(s.WindowFailed) / float64(s.WindowAttempted)
}

// Outcome is the result of one finished task as seen by the metrics store.
type Outcome struct {
	Success  bool
	// Aborted marks a task cut short by its caller or by shutdown. It
	// counts as attempted but not in the recent window or the averages.
	Aborted  bool
	Duration time.Duration
	Quality  float64
}

// Window is a fixed-size ring of recent success flags.
type Window struct {
	buf    []bool
	next   int
	filled int
	failed int
}

// NewWindow creates a window holding the last size outcomes.
func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{buf: make([]bool, size)}
}

// Add records an outcome, evicting the oldest when full.
func (w *Window) Add(success bool) {
	if w.filled == len(w.buf) {
		if !w.buf[w.next] {
			w.failed--
		}
	} else {
		w.filled++
	}
	w.buf[w.next] = success
	if !success {
		w.failed++
	}
	w.next = (w.next + 1) % len(w.buf)
}

// Counts returns the number of outcomes held and how many failed.
func (w *Window) Counts() (attempted, failed int) {
	return w.filled, w.failed
}
