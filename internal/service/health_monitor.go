package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Strob0t/agentopt/internal/config"
	"github.com/Strob0t/agentopt/internal/domain"
	"github.com/Strob0t/agentopt/internal/domain/health"
	"github.com/Strob0t/agentopt/internal/resilience"
)

const (
	recoveryHistorySize = 100
	trendPoints         = 5
)

// Recovery action kinds.
const (
	ActionForceOptimization = "force_optimization"
	ActionDeactivateAgent   = "deactivate_agent"
	ActionReactivateAgent   = "reactivate_agent"
)

// AgentPool is the view of the registered agents the health monitor
// needs for evaluation and recovery.
type AgentPool interface {
	ActiveAgents() []string
	DeactivatedAgents() map[string]time.Time
	BreakerStates() map[string]resilience.State
	DeactivateAgent(ctx context.Context, agentID, reason string) error
	ReactivateAgent(ctx context.Context, agentID string) error
}

// RecoveryAction is one step taken by auto-recovery.
type RecoveryAction struct {
	Kind    string    `json:"kind"`
	AgentID string    `json:"agent_id,omitempty"`
	Reason  string    `json:"reason"`
	Success bool      `json:"success"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

type actionCount struct {
	attempts  int
	successes int
}

// HealthMonitor derives the system health status from live signals and
// performs auto-recovery.
type HealthMonitor struct {
	cfg       config.Optimization
	metrics   *MetricsStore
	optimizer *Optimizer
	contexts  *ContextManager
	pool      AgentPool
	// recoverFn runs a forced optimizer cycle and pattern analysis.
	recoverFn func(ctx context.Context) error
	now       func() time.Time

	started atomic.Int64
	last    atomic.Pointer[health.Status]
	issues  *health.Registry

	mu      sync.Mutex
	actions []RecoveryAction
	counts  map[string]*actionCount
}

// NewHealthMonitor creates a monitor. recoverFn may be nil.
func NewHealthMonitor(cfg config.Optimization, m *MetricsStore, opt *Optimizer, cm *ContextManager,
	pool AgentPool, recoverFn func(ctx context.Context) error,
) *HealthMonitor {
	h := &HealthMonitor{
		cfg:       cfg,
		metrics:   m,
		optimizer: opt,
		contexts:  cm,
		pool:      pool,
		recoverFn: recoverFn,
		now:       time.Now,
		issues:    health.NewRegistry(),
		counts:    make(map[string]*actionCount),
	}
	h.started.Store(time.Now().UnixNano())
	return h
}

// MarkStarted resets the uptime origin.
func (h *HealthMonitor) MarkStarted(at time.Time) {
	h.started.Store(at.UnixNano())
}

// Evaluate computes a fresh status. Issues is empty exactly when the level
// is healthy. Every evaluation updates the issue registry: issues whose
// signal cleared are resolved.
func (h *HealthMonitor) Evaluate(ctx context.Context) health.Status {
	th := h.cfg.Thresholds
	var b health.Builder
	sig := health.Signals{AgentFailureRates: make(map[string]float64)}

	snaps := h.metrics.Snapshots()
	var windowN, windowFailed int
	for i := range snaps {
		s := snaps[i]
		windowN += s.WindowAttempted
		windowFailed += s.WindowFailed
		if s.WindowAttempted == 0 {
			continue
		}
		sig.AgentFailureRates[s.AgentID] = s.WindowFailureRate()
		if s.WindowAttempted >= th.MinHealthSamples && s.WindowFailureRate() > th.FailureRateHard {
			b.Warn(health.AgentKey(health.KindAgentFailureRate, s.AgentID), fmt.Sprintf("agent %s failed %.0f%% of its last %d tasks", s.AgentID, s.WindowFailureRate()*100, s.WindowAttempted),
				fmt.Sprintf("check the executor behind agent %s", s.AgentID))
		}
		if s.AvgExecTime > sig.SlowestAvgTime {
			sig.SlowestAgent, sig.SlowestAvgTime = s.AgentID, s.AvgExecTime
		}
	}

	sig.WindowSamples = windowN
	if windowN > 0 {
		sig.WindowFailureRate = float64(windowFailed) / float64(windowN)
	}
	if windowN >= th.MinHealthSamples {
		switch rate := sig.WindowFailureRate; {
		case rate > th.FailureRateHard:
			b.Fail(health.SystemKey(health.KindFailureRate), fmt.Sprintf("failure rate %.0f%% over the last %d tasks exceeds %.0f%%", rate*100, windowN, th.FailureRateHard*100),
				"inspect failing agents and their executors")
		case rate > th.FailureRateSoft:
			b.Warn(health.SystemKey(health.KindFailureRate), fmt.Sprintf("failure rate %.0f%% over the last %d tasks exceeds %.0f%%", rate*100, windowN, th.FailureRateSoft*100),
				"review recent task failures")
		}
	}

	switch {
	case sig.SlowestAvgTime > th.ResponseTimeHard:
		b.Fail(health.AgentKey(health.KindSlowAgent, sig.SlowestAgent), fmt.Sprintf("agent %s averages %s per task", sig.SlowestAgent, sig.SlowestAvgTime.Round(time.Millisecond)),
			"raise executor capacity or deactivate the slow agent")
	case sig.SlowestAvgTime > h.cfg.ResponseTimeThreshold:
		b.Warn(health.AgentKey(health.KindSlowAgent, sig.SlowestAgent), fmt.Sprintf("agent %s averages %s per task", sig.SlowestAgent, sig.SlowestAvgTime.Round(time.Millisecond)),
			"route latency-sensitive tasks to faster agents")
	}

	h.evaluateScore(&b, &sig)
	h.evaluateContext(ctx, &b, &sig)
	h.evaluateAgents(&b, &sig)

	level, issues, recs := b.Result()
	if len(sig.AgentFailureRates) == 0 {
		sig.AgentFailureRates = nil
	}
	now := h.now()
	h.observe(b.Findings(), now)
	return health.Status{
		Level:               level,
		Issues:              issues,
		Recommendations:     recs,
		Uptime:              now.Sub(time.Unix(0, h.started.Load())),
		TotalTasksProcessed: h.metrics.TotalProcessed(),
		OptimizationScore:   sig.OptimizationScore,
		Signals:             sig,
		CheckedAt:           now,
	}
}

func (h *HealthMonitor) observe(findings []health.Finding, now time.Time) {
	opened, resolved := h.issues.Observe(findings, now)
	for _, is := range opened {
		slog.Warn("health issue detected", "issue_id", is.ID, "kind", string(is.Key.Kind),
			"component", is.Key.Component, "severity", string(is.Severity), "reopened", is.Reopened > 0)
	}
	for _, is := range resolved {
		slog.Info("health issue resolved", "issue_id", is.ID, "kind", string(is.Key.Kind),
			"component", is.Key.Component, "resolution", is.Resolution)
	}
}

func (h *HealthMonitor) evaluateScore(b *health.Builder, sig *health.Signals) {
	th := h.cfg.Thresholds
	sig.OptimizationScore = h.optimizer.LastScore()

	history := h.optimizer.ScoreHistory()
	if len(history) == 0 {
		return
	}
	switch score := sig.OptimizationScore; {
	case score < th.ScoreHardMin:
		b.Fail(health.SystemKey(health.KindScoreLow), fmt.Sprintf("optimization score %.2f below %.2f", score, th.ScoreHardMin),
			"force an optimization cycle and review agent failure rates")
	case score < th.ScoreSoftMin:
		b.Warn(health.SystemKey(health.KindScoreLow), fmt.Sprintf("optimization score %.2f below %.2f", score, th.ScoreSoftMin),
			"review load balance and agent response times")
	}

	if len(history) > trendPoints {
		history = history[len(history)-trendPoints:]
	}
	if len(history) >= 3 {
		sig.ScoreTrend = health.Slope(history)
		first, last := history[0], history[len(history)-1]
		if sig.ScoreTrend < 0 && first > 0 && (first-last)/first > th.ScoreDeclineRate {
			b.Warn(health.SystemKey(health.KindScoreDeclining), fmt.Sprintf("optimization score declining from %.2f to %.2f", first, last),
				"investigate recent agent degradation")
		}
	}
}

func (h *HealthMonitor) evaluateContext(ctx context.Context, b *health.Builder, sig *health.Signals) {
	th := h.cfg.Thresholds
	if err := h.contexts.Ping(ctx); err != nil {
		b.Fail(health.ContextKey(health.KindContextUnreachable), fmt.Sprintf("context store unreachable: %v", err), "check the context store connection")
		return
	}
	sig.ContextReachable = true

	sig.ContextErrorRate = h.contexts.ErrorRate()
	switch {
	case sig.ContextErrorRate > th.ContextErrorHard:
		b.Fail(health.ContextKey(health.KindContextErrors), fmt.Sprintf("%.0f%% of recent context writes failed", sig.ContextErrorRate*100), "check context store capacity and permissions")
	case sig.ContextErrorRate > th.ContextErrorSoft:
		b.Warn(health.ContextKey(health.KindContextErrors), fmt.Sprintf("%.0f%% of recent context writes failed", sig.ContextErrorRate*100), "check context store logs")
	}

	n, err := h.contexts.Count(ctx)
	if err != nil {
		b.Warn(health.ContextKey(health.KindContextUnreachable), fmt.Sprintf("context store count failed: %v", err), "")
		return
	}
	sig.ContextEntries = n
	if limit := h.contexts.MaxEntries(); limit > 0 && n > limit {
		b.Warn(health.ContextKey(health.KindContextCapacity), fmt.Sprintf("context store holds %d entries, above the limit of %d", n, limit),
			"lower context_retention_days or run context cleanup")
	}
}

func (h *HealthMonitor) evaluateAgents(b *health.Builder, sig *health.Signals) {
	if h.pool == nil {
		return
	}
	active := h.pool.ActiveAgents()
	sig.ActiveAgents = len(active)

	deactivated := h.pool.DeactivatedAgents()
	for id := range deactivated {
		sig.DeactivatedAgents = append(sig.DeactivatedAgents, id)
	}
	sort.Strings(sig.DeactivatedAgents)
	if len(active) == 0 && len(deactivated) > 0 {
		b.Fail(health.SystemKey(health.KindNoActiveAgents), "no active agents", "reactivate an agent or register a new executor")
	}

	states := h.pool.BreakerStates()
	for id, st := range states {
		if st == resilience.StateOpen {
			sig.OpenCircuits = append(sig.OpenCircuits, id)
		}
	}
	sort.Strings(sig.OpenCircuits)
	for _, id := range sig.OpenCircuits {
		b.Fail(health.AgentKey(health.KindCircuitOpen, id), fmt.Sprintf("executor for agent %s unreachable, circuit open", id),
			fmt.Sprintf("check connectivity to agent %s", id))
	}
}

// RunCycle evaluates health and, when auto-recovery is enabled, acts on it.
func (h *HealthMonitor) RunCycle(ctx context.Context) (health.Status, []RecoveryAction) {
	st := h.Evaluate(ctx)
	h.last.Store(&st)
	if !h.cfg.AutoRecoveryEnabled {
		return st, nil
	}

	var actions []RecoveryAction
	if st.Level != health.LevelHealthy && h.recoverFn != nil {
		err := h.recoverFn(ctx)
		actions = append(actions, h.record(ActionForceOptimization, "", "health "+string(st.Level), err))
	}
	if h.pool != nil {
		// agents back from cooldown get a fresh chance this cycle
		reactivated := h.reactivateCooled(ctx)
		skip := make(map[string]bool, len(reactivated))
		for _, a := range reactivated {
			skip[a.AgentID] = true
		}
		actions = append(actions, reactivated...)
		actions = append(actions, h.deactivateFailing(ctx, skip)...)
	}
	if len(actions) > 0 {
		slog.Info("auto-recovery performed", "actions", len(actions), "level", string(st.Level))
	}
	return st, actions
}

func (h *HealthMonitor) deactivateFailing(ctx context.Context, skip map[string]bool) []RecoveryAction {
	th := h.cfg.Thresholds
	active := make(map[string]bool)
	for _, id := range h.pool.ActiveAgents() {
		active[id] = true
	}

	var out []RecoveryAction
	for _, s := range h.metrics.Snapshots() {
		if !active[s.AgentID] || skip[s.AgentID] || s.WindowAttempted < th.MinHealthSamples || s.WindowFailureRate() <= th.FailureRateHard {
			continue
		}
		if len(active) <= 1 {
			slog.Warn("not deactivating last active agent", "agent_id", s.AgentID)
			break
		}
		reason := fmt.Sprintf("failure rate %.0f%% above %.0f%%", s.WindowFailureRate()*100, th.FailureRateHard*100)
		err := h.pool.DeactivateAgent(ctx, s.AgentID, reason)
		out = append(out, h.record(ActionDeactivateAgent, s.AgentID, reason, err))
		if err == nil {
			delete(active, s.AgentID)
		}
	}
	return out
}

func (h *HealthMonitor) reactivateCooled(ctx context.Context) []RecoveryAction {
	now := h.now()
	deactivated := h.pool.DeactivatedAgents()
	ids := make([]string, 0, len(deactivated))
	for id := range deactivated {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []RecoveryAction
	for _, id := range ids {
		if now.Sub(deactivated[id]) < h.cfg.Thresholds.DeactivationCooldown {
			continue
		}
		err := h.pool.ReactivateAgent(ctx, id)
		out = append(out, h.record(ActionReactivateAgent, id, "cooldown elapsed", err))
	}
	return out
}

func (h *HealthMonitor) record(kind, agentID, reason string, err error) RecoveryAction {
	a := RecoveryAction{Kind: kind, AgentID: agentID, Reason: reason, Success: err == nil, At: h.now()}
	if err != nil {
		a.Error = err.Error()
		slog.Warn("recovery action failed", "kind", kind, "agent_id", agentID, "error", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.actions = append(h.actions, a)
	if len(h.actions) > recoveryHistorySize {
		h.actions = h.actions[len(h.actions)-recoveryHistorySize:]
	}
	c, ok := h.counts[kind]
	if !ok {
		c = &actionCount{}
		h.counts[kind] = c
	}
	c.attempts++
	if err == nil {
		c.successes++
	}
	return a
}

// ManualRecovery runs action against the active issue issueID and resolves
// the issue when the action succeeds. Agent actions apply to the agent the
// issue is about.
func (h *HealthMonitor) ManualRecovery(ctx context.Context, issueID, action string) (RecoveryAction, error) {
	is, ok := h.issues.Get(issueID)
	if !ok {
		return RecoveryAction{}, fmt.Errorf("issue %s: %w", issueID, domain.ErrNotFound)
	}
	agentID, isAgent := is.Key.AgentID()
	reason := "manual recovery of " + string(is.Key.Kind)

	var err error
	switch action {
	case ActionForceOptimization:
		if h.recoverFn == nil {
			return RecoveryAction{}, fmt.Errorf("%s: no recovery function configured: %w", action, domain.ErrInvalidAction)
		}
		agentID = ""
		err = h.recoverFn(ctx)
	case ActionDeactivateAgent, ActionReactivateAgent:
		if !isAgent {
			return RecoveryAction{}, fmt.Errorf("%s on %s issue: %w", action, is.Key.Component, domain.ErrInvalidAction)
		}
		if h.pool == nil {
			return RecoveryAction{}, fmt.Errorf("%s: no agent pool: %w", action, domain.ErrInvalidAction)
		}
		if action == ActionDeactivateAgent {
			err = h.pool.DeactivateAgent(ctx, agentID, reason)
		} else {
			err = h.pool.ReactivateAgent(ctx, agentID)
		}
	default:
		return RecoveryAction{}, fmt.Errorf("%q: %w", action, domain.ErrInvalidAction)
	}

	a := h.record(action, agentID, reason, err)
	if err != nil {
		return a, err
	}
	if _, ok := h.issues.Resolve(issueID, "manual:"+action, h.now()); ok {
		slog.Info("health issue resolved", "issue_id", issueID, "resolution", "manual:"+action)
	}
	return a, nil
}

// ActiveIssues returns the issues currently open, oldest first.
func (h *HealthMonitor) ActiveIssues() []health.Issue {
	return h.issues.Active()
}

// ResolvedIssues returns recently resolved issues.
func (h *HealthMonitor) ResolvedIssues() []health.Issue {
	return h.issues.Resolved()
}

// Last returns the status of the latest RunCycle.
func (h *HealthMonitor) Last() (health.Status, bool) {
	st := h.last.Load()
	if st == nil {
		return health.Status{}, false
	}
	return *st, true
}

// RecoveryHistory returns recent recovery actions, oldest first.
func (h *HealthMonitor) RecoveryHistory() []RecoveryAction {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]RecoveryAction, len(h.actions))
	copy(out, h.actions)
	return out
}

// RecoverySuccessRates returns the share of successful attempts per action kind.
func (h *HealthMonitor) RecoverySuccessRates() map[string]float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]float64, len(h.counts))
	for k, c := range h.counts {
		if c.attempts > 0 {
			out[k] = float64(c.successes) / float64(c.attempts)
		}
	}
	return out
}
