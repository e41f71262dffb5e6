// Package health defines the system health snapshot.
package health

import "time"

// Level is the overall health classification.
type Level string

const (
	LevelHealthy Level = "healthy"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Worse returns the more severe of two levels.
func Worse(a, b Level) Level {
	if rank(b) > rank(a) {
		return b
	}
	return a
}

func rank(l Level) int {
	switch l {
	case LevelWarning:
		return 1
	case LevelError:
		return 2
	default:
		return 0
	}
}

// Signals are the raw measurements a status was derived from.
type Signals struct {
	WindowFailureRate float64            `json:"window_failure_rate"`
	WindowSamples     int                `json:"window_samples"`
	AgentFailureRates map[string]float64 `json:"agent_failure_rates,omitempty"`
	OptimizationScore float64            `json:"optimization_score"`
	ScoreTrend        float64            `json:"score_trend"`
	ContextErrorRate  float64            `json:"context_error_rate"`
	ContextEntries    int                `json:"context_entries"`
	ContextReachable  bool               `json:"context_reachable"`
	SlowestAgent      string             `json:"slowest_agent,omitempty"`
	SlowestAvgTime    time.Duration      `json:"slowest_avg_time"`
	OpenCircuits      []string           `json:"open_circuits,omitempty"`
	ActiveAgents      int                `json:"active_agents"`
	DeactivatedAgents []string           `json:"deactivated_agents,omitempty"`
}

// Status is one evaluation of system health. Issues is empty exactly when
// Level is healthy.
type Status struct {
	Level               Level         `json:"level"`
	Issues              []string      `json:"issues"`
	Recommendations     []string      `json:"recommendations"`
	Uptime              time.Duration `json:"uptime"`
	TotalTasksProcessed int64         `json:"total_tasks_processed"`
	OptimizationScore   float64       `json:"optimization_score"`
	Signals             Signals       `json:"signals"`
	CheckedAt           time.Time     `json:"checked_at"`
}

// Builder accumulates issues while keeping Level consistent with them.
type Builder struct {
	level    Level
	issues   []string
	recs     []string
	findings []Finding
}

// Warn records a soft-threshold issue.
func (b *Builder) Warn(key Key, issue, recommendation string) {
	b.add(key, LevelWarning, issue, recommendation)
}

// Fail records a hard-threshold issue.
func (b *Builder) Fail(key Key, issue, recommendation string) {
	b.add(key, LevelError, issue, recommendation)
}

func (b *Builder) add(key Key, l Level, issue, rec string) {
	b.level = Worse(b.level, l)
	b.issues = append(b.issues, issue)
	if rec != "" {
		b.recs = append(b.recs, rec)
	}
	b.findings = append(b.findings, Finding{Key: key, Severity: l, Description: issue, Recommendation: rec})
}

// Findings returns the keyed issues collected so far.
func (b *Builder) Findings() []Finding {
	return b.findings
}

// Result returns the level, issues and recommendations collected so far.
func (b *Builder) Result() (Level, []string, []string) {
	if len(b.issues) == 0 {
		return LevelHealthy, []string{}, []string{}
	}
	recs := b.recs
	if recs == nil {
		recs = []string{}
	}
	return b.level, b.issues, recs
}

// Slope returns the least-squares slope of ys over their index.
func Slope(ys []float64) float64 {
	n := float64(len(ys))
	if n < 2 {
		return 0
	}
	var sx, sy, sxy, sxx float64
	for i, y := range ys {
		x := float64(i)
		sx += x
		sy += y
		sxy += x * y
		sxx += x * x
	}
	den := n*sxx - sx*sx
	if den == 0 {
		return 0
	}
	return (n*sxy - sx*sy) / den
}
