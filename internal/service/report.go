package service

import (
	"context"
	"time"

	"github.com/Strob0t/agentopt/internal/config"
	"github.com/Strob0t/agentopt/internal/domain/agent"
	"github.com/Strob0t/agentopt/internal/domain/health"
	"github.com/Strob0t/agentopt/internal/domain/learning"
	"github.com/Strob0t/agentopt/internal/domain/metrics"
)

// MetricsReport is a read-only dump of live counters.
type MetricsReport struct {
	Agents            []metrics.Snapshot `json:"agents"`
	TotalProcessed    int64              `json:"total_processed"`
	InFlight          int                `json:"in_flight"`
	OpenSessions      int                `json:"open_sessions"`
	OptimizationScore float64            `json:"optimization_score"`
	ScoreHistory      []float64          `json:"score_history"`
	Policy            *Policy            `json:"policy,omitempty"`
	LearningRecords   int                `json:"learning_records"`
	Cycles            []CycleStats       `json:"cycles"`
}

// Report combines every component's view of the system.
type Report struct {
	GeneratedAt    time.Time           `json:"generated_at"`
	Uptime         time.Duration       `json:"uptime"`
	Running        bool                `json:"running"`
	Health         health.Status       `json:"health"`
	Metrics        MetricsReport       `json:"metrics"`
	Agents         []agent.Profile     `json:"agents"`
	Predictions    []Prediction        `json:"predictions"`
	Learning       learning.Insights   `json:"learning"`
	Optimization   *OptimizationResult `json:"optimization,omitempty"`
	Issues         []health.Issue      `json:"issues"`
	ResolvedIssues []health.Issue      `json:"resolved_issues"`
	Recovery       []RecoveryAction    `json:"recovery"`
	RecoveryRates  map[string]float64  `json:"recovery_success_rates"`
	ContextEntries int                 `json:"context_entries"`
	Config         config.Optimization `json:"config"`
}

// GetComprehensiveMetrics returns the live counters of every component.
func (o *Orchestrator) GetComprehensiveMetrics() MetricsReport {
	o.sessionsMu.RLock()
	open := 0
	for _, s := range o.sessions {
		if !s.Closed {
			open++
		}
	}
	o.sessionsMu.RUnlock()

	return MetricsReport{
		Agents:            o.metrics.Snapshots(),
		TotalProcessed:    o.metrics.TotalProcessed(),
		InFlight:          o.InFlight(),
		OpenSessions:      open,
		OptimizationScore: o.optimizer.LastScore(),
		ScoreHistory:      o.optimizer.ScoreHistory(),
		Policy:            o.optimizer.Policy(),
		LearningRecords:   o.learning.RecordCount(),
		Cycles: []CycleStats{
			o.optCycle.Stats(),
			o.healthCycle.Stats(),
			o.analysisCycle.Stats(),
			o.cleanupCycle.Stats(),
		},
	}
}

// GetComprehensiveReport returns health, metrics, learning insights,
// optimizer state, recovery statistics and configuration in one value.
func (o *Orchestrator) GetComprehensiveReport(ctx context.Context) Report {
	o.lifeMu.Lock()
	running, started := o.running, o.started
	o.lifeMu.Unlock()

	now := o.now()
	r := Report{
		GeneratedAt:   now,
		Running:       running,
		Health:        o.health.Evaluate(ctx),
		Metrics:       o.GetComprehensiveMetrics(),
		Agents:        o.Agents(),
		Learning:      o.learning.Insights(),
		Recovery:      o.health.RecoveryHistory(),
		RecoveryRates: o.health.RecoverySuccessRates(),
		Config:        o.cfg,
	}
	r.Issues = o.health.ActiveIssues()
	r.ResolvedIssues = o.health.ResolvedIssues()
	if !started.IsZero() {
		r.Uptime = now.Sub(started)
	}
	if res, ok := o.optimizer.LastResult(); ok {
		r.Optimization = &res
	}
	for _, a := range r.Agents {
		r.Predictions = append(r.Predictions, o.optimizer.PredictPerformance(a.ID))
	}
	r.ContextEntries = r.Health.Signals.ContextEntries
	return r
}
