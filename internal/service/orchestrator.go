package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Strob0t/agentopt/internal/adapter/otel"
	"github.com/Strob0t/agentopt/internal/config"
	"github.com/Strob0t/agentopt/internal/domain"
	aocontext "github.com/Strob0t/agentopt/internal/domain/context"
	"github.com/Strob0t/agentopt/internal/domain/event"
	"github.com/Strob0t/agentopt/internal/domain/health"
	"github.com/Strob0t/agentopt/internal/domain/session"
	"github.com/Strob0t/agentopt/internal/port/cache"
	"github.com/Strob0t/agentopt/internal/port/contextstore"
)

// Cycle names, also used as metric attributes.
const (
	CycleOptimizer = "optimizer"
	CycleHealth    = "health"
	CycleAnalysis  = "pattern_analysis"
	CycleCleanup   = "context_cleanup"
)

// Deps are the collaborators of an Orchestrator. Store is required.
type Deps struct {
	Store     contextstore.Store
	Cache     cache.Cache
	CacheTTL  time.Duration
	Telemetry *otel.Metrics
}

// Orchestrator is the entry point of the control loop. It owns sessions,
// dispatches tasks to agents and runs the background optimization cycles.
type Orchestrator struct {
	cfg        config.Optimization
	breakerCfg config.Breaker
	telemetry  *otel.Metrics
	now        func() time.Time

	bus       *EventBus
	metrics   *MetricsStore
	contexts  *ContextManager
	learning  *LearningEngine
	optimizer *Optimizer
	health    *HealthMonitor

	optCycle      *Cycle
	healthCycle   *Cycle
	analysisCycle *Cycle
	cleanupCycle  *Cycle

	agentsMu sync.RWMutex
	agents   map[string]*agentEntry
	order    []string
	rr       atomic.Uint64

	sessionsMu sync.RWMutex
	sessions   map[string]*session.Session

	runsMu   sync.Mutex
	runs     map[string]*run
	inflight sync.WaitGroup

	lifeMu   sync.Mutex
	running  bool
	stopped  bool
	started  time.Time
	stopOnce sync.Once
}

// NewOrchestrator wires the control loop components.
func NewOrchestrator(cfg config.Optimization, breaker config.Breaker, deps Deps) *Orchestrator {
	o := &Orchestrator{
		cfg:        cfg,
		breakerCfg: breaker,
		telemetry:  deps.Telemetry,
		now:        time.Now,
		bus:        NewEventBus(),
		agents:     make(map[string]*agentEntry),
		sessions:   make(map[string]*session.Session),
		runs:       make(map[string]*run),
	}
	window := cfg.Thresholds.HealthWindow
	if window <= 0 {
		window = 50
	}
	o.metrics = NewMetricsStore(cfg.LearningRate, window)
	o.contexts = NewContextManager(deps.Store, cfg, deps.Telemetry)
	o.learning = NewLearningEngine(cfg, deps.Cache, deps.CacheTTL)
	o.optimizer = NewOptimizer(o.metrics, cfg)
	o.health = NewHealthMonitor(cfg, o.metrics, o.optimizer, o.contexts, o, o.recoverSystem)

	o.optCycle = NewCycle(CycleOptimizer, cfg.PerformanceCheckInterval, func(ctx context.Context) error {
		_, err := o.runOptimization(ctx, false)
		return err
	}, deps.Telemetry)
	o.healthCycle = NewCycle(CycleHealth, cfg.HealthCheckInterval, o.runHealth, deps.Telemetry)
	o.analysisCycle = NewCycle(CycleAnalysis, cfg.PatternAnalysisInterval, o.runAnalysis, deps.Telemetry)
	o.cleanupCycle = NewCycle(CycleCleanup, cfg.ContextCleanupInterval, o.runCleanup, deps.Telemetry)
	return o
}

// Start validates the configuration and launches the enabled background
// cycles.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.lifeMu.Lock()
	defer o.lifeMu.Unlock()
	if o.running {
		return domain.ErrAlreadyRunning
	}
	if o.stopped {
		return fmt.Errorf("start: %w", domain.ErrShutdown)
	}
	if err := o.cfg.Validate(); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	o.started = o.now()
	o.health.MarkStarted(o.started)

	for _, c := range o.enabledCycles() {
		c.Start(ctx)
	}
	o.running = true

	slog.Info("agent optimization started",
		"learning", o.cfg.LearningEnabled,
		"performance_monitoring", o.cfg.PerformanceMonitoringEnabled,
		"health_monitoring", o.cfg.HealthMonitoringEnabled,
		"auto_context_cleanup", o.cfg.AutoContextCleanup,
	)
	o.bus.Emit(ctx, event.SystemStarted, map[string]any{"agents": len(o.ActiveAgents())})
	return nil
}

func (o *Orchestrator) enabledCycles() []*Cycle {
	var cs []*Cycle
	if o.cfg.PerformanceMonitoringEnabled {
		cs = append(cs, o.optCycle)
	}
	if o.cfg.HealthMonitoringEnabled {
		cs = append(cs, o.healthCycle)
	}
	if o.cfg.LearningEnabled {
		cs = append(cs, o.analysisCycle)
	}
	if o.cfg.AutoContextCleanup {
		cs = append(cs, o.cleanupCycle)
	}
	return cs
}

// Stop cancels the background cycles, closes every session and waits up to
// the shutdown grace period for in-flight tasks. Tasks still running after
// that fail with domain.ErrShutdown. Stop always returns; later calls are
// no-ops.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.stopOnce.Do(func() { o.stop(ctx) })
	return nil
}

func (o *Orchestrator) stop(ctx context.Context) {
	o.lifeMu.Lock()
	o.running = false
	o.stopped = true
	o.lifeMu.Unlock()

	for _, c := range []*Cycle{o.optCycle, o.healthCycle, o.analysisCycle, o.cleanupCycle} {
		c.Stop()
	}

	closed := o.closeAllSessions()

	done := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(done)
	}()

	grace := time.NewTimer(o.cfg.ShutdownGracePeriod)
	defer grace.Stop()
	select {
	case <-done:
	case <-grace.C:
		n := o.abortRuns()
		slog.Warn("shutdown grace period elapsed, aborting tasks", "tasks", n)
		<-done
	case <-ctx.Done():
		o.abortRuns()
		<-done
	}

	for _, id := range closed {
		o.bus.Emit(ctx, event.SessionClosed, map[string]any{"session_id": id})
		o.consolidate(context.WithoutCancel(ctx), id)
	}
	o.bus.Emit(ctx, event.SystemStopped, map[string]any{"tasks_processed": o.metrics.TotalProcessed()})
	slog.Info("agent optimization stopped")
}

// AddEventHandler registers h for name. It reports whether h was added;
// the same comparable handler is only registered once per name.
func (o *Orchestrator) AddEventHandler(name event.Name, h EventHandler) bool {
	return o.bus.Subscribe(name, h)
}

// Events returns the event bus.
func (o *Orchestrator) Events() *EventBus { return o.bus }

// ForceOptimization runs one optimizer cycle now and returns its score.
// It waits for a periodic run in progress to finish first.
func (o *Orchestrator) ForceOptimization(ctx context.Context) (float64, error) {
	var score float64
	err := o.optCycle.Run(ctx, func(ctx context.Context) error {
		res, err := o.runOptimization(ctx, true)
		score = res.Score
		return err
	})
	return score, err
}

// AnalyzePatterns runs pattern analysis now.
func (o *Orchestrator) AnalyzePatterns(ctx context.Context) error {
	return o.analysisCycle.Run(ctx, o.runAnalysis)
}

// GetSystemStatus evaluates system health now.
func (o *Orchestrator) GetSystemStatus(ctx context.Context) health.Status {
	return o.health.Evaluate(ctx)
}

// ActiveIssues returns the open health issues.
func (o *Orchestrator) ActiveIssues() []health.Issue {
	return o.health.ActiveIssues()
}

// ManualRecovery applies a recovery action to an open health issue and
// resolves it on success.
func (o *Orchestrator) ManualRecovery(ctx context.Context, issueID, action string) (RecoveryAction, error) {
	a, err := o.health.ManualRecovery(ctx, issueID, action)
	if a.Kind != "" {
		o.bus.Emit(ctx, event.RecoveryPerformed, map[string]any{
			"kind":     a.Kind,
			"agent_id": a.AgentID,
			"reason":   a.Reason,
			"success":  a.Success,
			"issue_id": issueID,
		})
	}
	return a, err
}

// GetRelatedContext returns context entries relevant to query, preferring
// those of sessionID.
func (o *Orchestrator) GetRelatedContext(ctx context.Context, sessionID, query string, limit int) ([]aocontext.Scored, error) {
	return o.contexts.GetRelatedContext(ctx, sessionID, query, limit)
}

// InheritContext copies the context of one session into another.
func (o *Orchestrator) InheritContext(ctx context.Context, fromSession, toSession string) (int, error) {
	return o.contexts.InheritContext(ctx, fromSession, toSession)
}

// Metrics returns the live metrics store.
func (o *Orchestrator) Metrics() *MetricsStore { return o.metrics }

// Learning returns the learning engine.
func (o *Orchestrator) Learning() *LearningEngine { return o.learning }

// Optimizer returns the performance optimizer.
func (o *Orchestrator) Optimizer() *Optimizer { return o.optimizer }

// Health returns the health monitor.
func (o *Orchestrator) Health() *HealthMonitor { return o.health }

func (o *Orchestrator) runOptimization(ctx context.Context, forced bool) (OptimizationResult, error) {
	ctx, span := otel.StartCycleSpan(ctx, CycleOptimizer, forced)
	defer span.End()

	res, err := o.optimizer.RunCycle(ctx, forced)
	if err != nil {
		return res, err
	}
	o.telemetry.Score(ctx, res.Score)

	name := event.OptimizationCompleted
	if forced {
		name = event.OptimizationForced
	}
	avoided := make([]string, 0, len(res.Policy.Avoid))
	for id := range res.Policy.Avoid {
		avoided = append(avoided, id)
	}
	o.bus.Emit(ctx, name, map[string]any{
		"score":           res.Score,
		"avoid":           avoided,
		"recommendations": res.Recommendations,
	})
	return res, nil
}

func (o *Orchestrator) runAnalysis(ctx context.Context) error {
	ctx, span := otel.StartCycleSpan(ctx, CycleAnalysis, false)
	defer span.End()

	in, err := o.learning.AnalyzePatterns(ctx)
	if err != nil {
		return err
	}
	o.bus.Emit(ctx, event.PatternsAnalyzed, map[string]any{
		"generation": in.Generation,
		"records":    in.Records,
		"signatures": in.Signatures,
	})
	return nil
}

func (o *Orchestrator) runCleanup(ctx context.Context) error {
	ctx, span := otel.StartCycleSpan(ctx, CycleCleanup, false)
	defer span.End()

	cutoff := o.now().Add(-o.cfg.ContextRetention())
	n, err := o.contexts.CleanupOldContexts(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("old context entries removed", "count", n, "cutoff", cutoff)
	}
	o.bus.Emit(ctx, event.ContextCleaned, map[string]any{"removed": n, "cutoff": cutoff})
	return nil
}

func (o *Orchestrator) runHealth(ctx context.Context) error {
	ctx, span := otel.StartCycleSpan(ctx, CycleHealth, false)
	defer span.End()

	st, actions := o.health.RunCycle(ctx)
	if st.Level != health.LevelHealthy {
		slog.Warn("system health degraded", "level", string(st.Level), "issues", st.Issues)
		o.bus.Emit(ctx, event.HealthDegraded, map[string]any{
			"level":           string(st.Level),
			"issues":          st.Issues,
			"recommendations": st.Recommendations,
		})
	}
	for _, a := range actions {
		o.bus.Emit(ctx, event.RecoveryPerformed, map[string]any{
			"kind":     a.Kind,
			"agent_id": a.AgentID,
			"reason":   a.Reason,
			"success":  a.Success,
		})
	}
	return nil
}

// recoverSystem is the health monitor's recovery hook.
func (o *Orchestrator) recoverSystem(ctx context.Context) error {
	if _, err := o.ForceOptimization(ctx); err != nil {
		return fmt.Errorf("forced optimization: %w", err)
	}
	if !o.cfg.LearningEnabled {
		return nil
	}
	if err := o.AnalyzePatterns(ctx); err != nil {
		return fmt.Errorf("forced analysis: %w", err)
	}
	return nil
}
