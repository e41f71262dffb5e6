package learning

import (
	"math"
	"time"
)

// Outcome is one finished task as recorded for learning.
type Outcome struct {
	TaskID     string        `json:"task_id"`
	AgentID    string        `json:"agent_id"`
	Signature  Signature     `json:"signature"`
	Success    bool          `json:"success"`
	Duration   time.Duration `json:"duration"`
	Quality    float64       `json:"quality"`
	FinishedAt time.Time     `json:"finished_at"`
}

// EMA is an exponential moving average with bias correction, so early
// values approximate a plain mean instead of being pulled towards zero.
type EMA struct {
	m float64
	n int
}

// Update folds x in with weight alpha.
func (e *EMA) Update(x, alpha float64) {
	e.m = (1-alpha)*e.m + alpha*x
	e.n++
}

// Value returns the corrected average for weight alpha, 0 if empty.
func (e *EMA) Value(alpha float64) float64 {
	if e.n == 0 {
		return 0
	}
	c := 1 - math.Pow(1-alpha, float64(e.n))
	if c == 0 {
		return e.m
	}
	return e.m / c
}

// AgentStats accumulates one agent's outcomes on one signature, or
// globally when Signature is empty.
type AgentStats struct {
	AgentID     string  `json:"agent_id"`
	Samples     int     `json:"samples"`
	Successes   int     `json:"successes"`
	SuccessRate float64 `json:"success_rate"`
	AvgSeconds  float64 `json:"avg_seconds"`
	Quality     float64 `json:"quality"`

	success EMA
	seconds EMA
	quality EMA
	alpha   float64
}

// NewAgentStats creates empty stats that learn at rate alpha.
func NewAgentStats(agentID string, alpha float64) *AgentStats {
	return &AgentStats{AgentID: agentID, alpha: alpha}
}

// Observe folds one outcome into the stats.
func (s *AgentStats) Observe(o Outcome) {
	s.Samples++
	x := 0.0
	if o.Success {
		s.Successes++
		x = 1
	}
	s.success.Update(x, s.alpha)
	s.seconds.Update(o.Duration.Seconds(), s.alpha)
	s.quality.Update(o.Quality, s.alpha)

	s.SuccessRate = s.success.Value(s.alpha)
	s.AvgSeconds = s.seconds.Value(s.alpha)
	s.Quality = s.quality.Value(s.alpha)
}

// Pattern summarises what was learned about one signature.
type Pattern struct {
	Signature   Signature `json:"signature"`
	Samples     int       `json:"samples"`
	BestAgent   string    `json:"best_agent"`
	BestRate    float64   `json:"best_rate"`
	WorstAgent  string    `json:"worst_agent"`
	WorstRate   float64   `json:"worst_rate"`
	SuccessRate float64   `json:"success_rate"`
}

// AgentScore is an agent with its ranking score.
type AgentScore struct {
	AgentID string  `json:"agent_id"`
	Score   float64 `json:"score"`
	Samples int     `json:"samples"`
}

// Insights is the read-only summary of the current learning table.
type Insights struct {
	Generation     uint64              `json:"generation"`
	AnalyzedAt     time.Time           `json:"analyzed_at"`
	Records        int                 `json:"records"`
	Signatures     int                 `json:"signatures"`
	TopAgents      []AgentScore        `json:"top_agents"`
	SuccessFactors []string            `json:"success_factors"`
	FailureFactors []string            `json:"failure_factors"`
	Strengths      map[string][]string `json:"strengths"`
	Weaknesses     map[string][]string `json:"weaknesses"`
	Patterns       []Pattern           `json:"patterns"`
}
