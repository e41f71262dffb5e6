package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Strob0t/agentopt/internal/config"
	"github.com/Strob0t/agentopt/internal/domain/metrics"
)

const (
	scoreHistorySize = 20
	neutralScore     = 0.5

	defaultExpectedTime    = 30 * time.Second
	defaultSuccessEstimate = 0.8
	defaultQualityEstimate = 0.7
)

// Policy is the routing advice published by the optimizer. Agents in Avoid
// are tried last by optimized task selection.
type Policy struct {
	Generation uint64            `json:"generation"`
	Avoid      map[string]string `json:"avoid"`
	ComputedAt time.Time         `json:"computed_at"`
}

// Avoids reports whether agentID should not receive new tasks.
func (p *Policy) Avoids(agentID string) bool {
	if p == nil {
		return false
	}
	_, ok := p.Avoid[agentID]
	return ok
}

// OptimizationResult is the outcome of one optimizer cycle.
type OptimizationResult struct {
	Score           float64            `json:"score"`
	Forced          bool               `json:"forced"`
	Policy          Policy             `json:"policy"`
	RelativeLoad    map[string]float64 `json:"relative_load"`
	Recommendations []string           `json:"recommendations"`
	At              time.Time          `json:"at"`
	Took            time.Duration      `json:"took"`
}

// Prediction is the expected performance of an agent on its next task.
type Prediction struct {
	AgentID            string        `json:"agent_id"`
	ExpectedTime       time.Duration `json:"expected_time"`
	SuccessProbability float64       `json:"success_probability"`
	Quality            float64       `json:"quality"`
	Samples            int64         `json:"samples"`
}

// Optimizer scores the system from live metrics and publishes a routing
// policy. It never touches in-flight tasks.
type Optimizer struct {
	metrics *MetricsStore
	cfg     config.Optimization
	now     func() time.Time

	policy atomic.Pointer[Policy]
	last   atomic.Pointer[OptimizationResult]
	gen    atomic.Uint64

	mu      sync.Mutex
	history []float64
}

// NewOptimizer creates an optimizer reading from m.
func NewOptimizer(m *MetricsStore, cfg config.Optimization) *Optimizer {
	return &Optimizer{metrics: m, cfg: cfg, now: time.Now}
}

// RunCycle evaluates the current metrics, publishes a new policy and
// returns the result.
func (o *Optimizer) RunCycle(ctx context.Context, forced bool) (OptimizationResult, error) {
	start := o.now()
	snaps := o.metrics.Snapshots()

	if err := ctx.Err(); err != nil {
		return OptimizationResult{}, fmt.Errorf("optimizer cycle: %w", err)
	}
	rel, loadVar := relativeLoads(snaps)
	score := o.score(snaps, loadVar)

	if err := ctx.Err(); err != nil {
		return OptimizationResult{}, fmt.Errorf("optimizer cycle: %w", err)
	}
	policy := &Policy{
		Generation: o.gen.Add(1),
		Avoid:      o.avoidSet(snaps),
		ComputedAt: o.now(),
	}
	res := OptimizationResult{
		Score:           score,
		Forced:          forced,
		Policy:          *policy,
		RelativeLoad:    rel,
		Recommendations: o.recommendations(snaps, policy),
		At:              policy.ComputedAt,
	}
	res.Took = o.now().Sub(start)

	o.policy.Store(policy)
	o.last.Store(&res)
	o.mu.Lock()
	o.history = append(o.history, score)
	if len(o.history) > scoreHistorySize {
		o.history = o.history[len(o.history)-scoreHistorySize:]
	}
	o.mu.Unlock()
	return res, nil
}

// relativeLoads returns each agent's in-flight load divided by the mean,
// and the variance of the raw loads.
func relativeLoads(snaps []metrics.Snapshot) (map[string]float64, float64) {
	rel := make(map[string]float64, len(snaps))
	if len(snaps) == 0 {
		return rel, 0
	}
	var sum float64
	for i := range snaps {
		sum += float64(snaps[i].Load)
	}
	mean := sum / float64(len(snaps))
	var variance float64
	for i := range snaps {
		d := float64(snaps[i].Load) - mean
		variance += d * d
		if mean > 0 {
			rel[snaps[i].AgentID] = float64(snaps[i].Load) / mean
		} else {
			rel[snaps[i].AgentID] = 0
		}
	}
	return rel, variance / float64(len(snaps))
}

func (o *Optimizer) score(snaps []metrics.Snapshot, loadVar float64) float64 {
	var success, seconds float64
	var n int
	for i := range snaps {
		if snaps[i].Attempted == 0 {
			continue
		}
		success += snaps[i].SuccessRate()
		seconds += snaps[i].AvgExecTime.Seconds()
		n++
	}
	if n == 0 {
		return neutralScore
	}
	avgSuccess := success / float64(n)
	avgSeconds := seconds / float64(n)

	w := o.cfg.ScoreWeights
	total := w.Success + w.Balance + w.Responsiveness
	if total <= 0 {
		return neutralScore
	}
	resp := 1.0
	if th := o.cfg.ResponseTimeThreshold.Seconds(); th > 0 {
		resp = 1 / (1 + avgSeconds/th)
	}
	s := (w.Success*avgSuccess + w.Balance/(1+loadVar) + w.Responsiveness*resp) / total
	return math.Max(0, math.Min(1, s))
}

func (o *Optimizer) avoidSet(snaps []metrics.Snapshot) map[string]string {
	avoid := make(map[string]string)
	minSamples := o.cfg.Thresholds.MinHealthSamples

	var loadSum float64
	for i := range snaps {
		loadSum += float64(snaps[i].Load)
	}
	meanLoad := 0.0
	if len(snaps) > 0 {
		meanLoad = loadSum / float64(len(snaps))
	}

	for i := range snaps {
		s := snaps[i]
		if s.WindowAttempted >= minSamples && s.WindowFailureRate() > o.cfg.FailureRateThreshold {
			avoid[s.AgentID] = fmt.Sprintf("failure rate %.0f%% above %.0f%%",
				s.WindowFailureRate()*100, o.cfg.FailureRateThreshold*100)
			continue
		}
		if o.cfg.LoadBalancingEnabled && meanLoad > 0 && s.Load > 1 &&
			float64(s.Load) > o.cfg.LoadMultiple*meanLoad {
			avoid[s.AgentID] = fmt.Sprintf("load %d above %.1fx mean %.1f", s.Load, o.cfg.LoadMultiple, meanLoad)
		}
	}
	return avoid
}

func (o *Optimizer) recommendations(snaps []metrics.Snapshot, p *Policy) []string {
	recs := []string{}

	ids := make([]string, 0, len(p.Avoid))
	for id := range p.Avoid {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		recs = append(recs, fmt.Sprintf("route new tasks away from %s: %s", id, p.Avoid[id]))
	}

	if o.cfg.LoadBalancingEnabled && len(snaps) > 1 {
		lo, hi := snaps[0], snaps[0]
		for i := range snaps {
			if snaps[i].Load < lo.Load {
				lo = snaps[i]
			}
			if snaps[i].Load > hi.Load {
				hi = snaps[i]
			}
		}
		if hi.Load-lo.Load > 2 {
			recs = append(recs, fmt.Sprintf("load imbalance: %s has %d tasks in flight, %s has %d",
				hi.AgentID, hi.Load, lo.AgentID, lo.Load))
		}
	}

	for i := range snaps {
		if snaps[i].Attempted > 0 && snaps[i].AvgExecTime > o.cfg.ResponseTimeThreshold {
			recs = append(recs, fmt.Sprintf("%s is slow: average %s above %s",
				snaps[i].AgentID, snaps[i].AvgExecTime.Round(time.Millisecond), o.cfg.ResponseTimeThreshold))
		}
	}
	return recs
}

// Policy returns the current policy, nil before the first cycle.
func (o *Optimizer) Policy() *Policy {
	return o.policy.Load()
}

// LastResult returns the most recent cycle result.
func (o *Optimizer) LastResult() (OptimizationResult, bool) {
	r := o.last.Load()
	if r == nil {
		return OptimizationResult{}, false
	}
	return *r, true
}

// LastScore returns the most recent score, or the neutral score before the
// first cycle.
func (o *Optimizer) LastScore() float64 {
	if r := o.last.Load(); r != nil {
		return r.Score
	}
	return neutralScore
}

// ScoreHistory returns recent scores, oldest first.
func (o *Optimizer) ScoreHistory() []float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]float64, len(o.history))
	copy(out, o.history)
	return out
}

// PredictPerformance estimates how agentID will perform on its next task.
func (o *Optimizer) PredictPerformance(agentID string) Prediction {
	p := Prediction{
		AgentID:            agentID,
		ExpectedTime:       defaultExpectedTime,
		SuccessProbability: defaultSuccessEstimate,
		Quality:            defaultQualityEstimate,
	}
	s, ok := o.metrics.Snapshot(agentID)
	if !ok || s.Attempted == 0 {
		return p
	}
	p.ExpectedTime = s.AvgExecTime
	p.SuccessProbability = s.SuccessRate()
	p.Quality = s.Quality
	p.Samples = s.Attempted
	return p
}
