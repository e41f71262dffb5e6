package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Strob0t/agentopt/internal/domain"
	"github.com/Strob0t/agentopt/internal/domain/agent"
	"github.com/Strob0t/agentopt/internal/domain/event"
	"github.com/Strob0t/agentopt/internal/domain/health"
	"github.com/Strob0t/agentopt/internal/domain/task"
	"github.com/Strob0t/agentopt/internal/port/executor"
	"github.com/Strob0t/agentopt/internal/service"
)

// eventLog collects emitted event names.
type eventLog struct {
	mu    sync.Mutex
	names []event.Name
}

func (l *eventLog) HandleEvent(_ context.Context, e event.Event) error {
	l.mu.Lock()
	l.names = append(l.names, e.Name)
	l.mu.Unlock()
	return nil
}

func (l *eventLog) count(name event.Name) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, got := range l.names {
		if got == name {
			n++
		}
	}
	return n
}

func mustRegister(t *testing.T, o *service.Orchestrator, id string, exec executor.Executor) {
	t.Helper()
	if err := o.RegisterAgent(agent.Profile{ID: id, Name: id}, exec); err != nil {
		t.Fatalf("RegisterAgent(%s): %v", id, err)
	}
}

func mustSession(t *testing.T, o *service.Orchestrator) string {
	t.Helper()
	id, err := o.CreateSession(context.Background(), "auto")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return id
}

func TestExecuteTask_CompletesInAutoSession(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(testConfig())
	log := &eventLog{}
	o.Events().SubscribeAll(log)
	mustRegister(t, o, "default", okExecutor("done"))

	sid, err := o.CreateSession(ctx, "AUTO")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	got, err := o.ExecuteTask(ctx, sid, task.Request{Title: "hello", Description: "say hello"})
	if err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}

	if got.Status != task.StatusCompleted || got.Output != "done" || got.AgentID != "default" {
		t.Fatalf("unexpected task %+v", got)
	}
	if got.StartedAt == nil || got.FinishedAt == nil {
		t.Fatal("expected start and finish times")
	}
	snap, _ := o.Metrics().Snapshot("default")
	if snap.Attempted != 1 || snap.Succeeded != 1 || snap.Load != 0 {
		t.Fatalf("expected exactly one successful update, got %+v", snap)
	}
	if o.Metrics().TotalProcessed() != 1 {
		t.Fatalf("expected one processed task, got %d", o.Metrics().TotalProcessed())
	}
	if log.count(event.TaskStarted) != 1 || log.count(event.TaskCompleted) != 1 {
		t.Fatalf("unexpected events %v", log.names)
	}

	related, err := o.GetRelatedContext(ctx, sid, "hello", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(related) != 1 || related[0].TaskID != got.ID {
		t.Fatalf("expected the task's context entry, got %+v", related)
	}
	sess, _ := o.GetSession(sid)
	if len(sess.TaskIDs) != 1 || sess.TaskIDs[0] != got.ID {
		t.Fatalf("task not appended to session: %+v", sess)
	}
}

func TestEndSession_ConsolidatesContext(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(testConfig())
	log := &eventLog{}
	o.Events().SubscribeAll(log)
	mustRegister(t, o, "default", okExecutor("done"))

	sid := mustSession(t, o)
	done, err := o.ExecuteTask(ctx, sid, task.Request{Title: "hello", Description: "say hello"})
	if err != nil {
		t.Fatal(err)
	}
	for range 4 {
		if _, err := o.GetRelatedContext(ctx, sid, "hello", 5); err != nil {
			t.Fatal(err)
		}
	}
	if err := o.EndSession(ctx, sid); err != nil {
		t.Fatal(err)
	}
	if log.count(event.ContextConsolidated) != 1 {
		t.Fatalf("expected one consolidation, got events %v", log.names)
	}

	next := mustSession(t, o)
	related, err := o.GetRelatedContext(ctx, next, "hello", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(related) != 1 || !related[0].LongTerm || related[0].TaskID != done.ID {
		t.Fatalf("expected the consolidated memory, got %+v", related)
	}
}

func TestExecuteTask_ExecutorFailureCapturedInTask(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(testConfig())
	log := &eventLog{}
	o.AddEventHandler(event.TaskFailed, log)
	mustRegister(t, o, "a", failExecutor())
	sid := mustSession(t, o)

	got, err := o.ExecuteTask(ctx, sid, task.Request{Title: "t"})
	if err != nil {
		t.Fatalf("executor errors must not be returned, got %v", err)
	}
	if got.Status != task.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	var execErr *domain.ExecutionError
	if !errors.As(got.Err, &execErr) || execErr.AgentID != "a" || !errors.Is(got.Err, errAgent) {
		t.Fatalf("expected ExecutionError wrapping the agent error, got %v", got.Err)
	}
	snap, _ := o.Metrics().Snapshot("a")
	if snap.Attempted != 1 || snap.Succeeded != 0 {
		t.Fatalf("unexpected metrics %+v", snap)
	}
	if log.count(event.TaskFailed) != 1 {
		t.Fatal("expected task_failed")
	}
}

func TestExecuteTask_UnknownSession(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(testConfig())
	mustRegister(t, o, "a", okExecutor("x"))

	if _, err := o.ExecuteTask(ctx, "missing", task.Request{}); !errors.Is(err, domain.ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}

	sid := mustSession(t, o)
	if err := o.EndSession(ctx, sid); err != nil {
		t.Fatal(err)
	}
	if _, err := o.ExecuteTask(ctx, sid, task.Request{}); !errors.Is(err, domain.ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession for closed session, got %v", err)
	}
	if err := o.EndSession(ctx, sid); !errors.Is(err, domain.ErrUnknownSession) {
		t.Fatalf("ending twice: expected ErrUnknownSession, got %v", err)
	}
	if o.Metrics().TotalProcessed() != 0 {
		t.Fatal("rejected tasks must not touch metrics")
	}
}

func TestCreateSession_InvalidMode(t *testing.T) {
	o := newOrchestrator(testConfig())
	for _, mode := range []string{"", "turbo", "manual"} {
		if _, err := o.CreateSession(context.Background(), mode); !errors.Is(err, domain.ErrInvalidMode) {
			t.Errorf("mode %q: expected ErrInvalidMode, got %v", mode, err)
		}
	}
	for _, mode := range []string{"auto", "Interactive", "HYBRID"} {
		if _, err := o.CreateSession(context.Background(), mode); err != nil {
			t.Errorf("mode %q: %v", mode, err)
		}
	}
}

func TestExecuteTask_NoAgent(t *testing.T) {
	o := newOrchestrator(testConfig())
	sid := mustSession(t, o)
	got, err := o.ExecuteTask(context.Background(), sid, task.Request{Title: "t"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != task.StatusFailed || !errors.Is(got.Err, domain.ErrNoAgent) {
		t.Fatalf("expected failure with ErrNoAgent, got %s %v", got.Status, got.Err)
	}
	// Straight from pending: never started, finished at submission.
	if got.StartedAt != nil || got.FinishedAt == nil || got.Duration() != 0 {
		t.Fatalf("expected pending to failed, got started=%v finished=%v", got.StartedAt, got.FinishedAt)
	}
}

func TestExecuteTask_CallerCancellation(t *testing.T) {
	o := newOrchestrator(testConfig())
	mustRegister(t, o, "slow", newBlockingExecutor(t))
	sid := mustSession(t, o)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	got, err := o.ExecuteTask(ctx, sid, task.Request{Title: "t"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != task.StatusFailed || !errors.Is(got.Err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline failure, got %s %v", got.Status, got.Err)
	}
	// A caller giving up is no evidence against the agent.
	snap, _ := o.Metrics().Snapshot("slow")
	if snap.Attempted != 1 || snap.WindowAttempted != 0 || snap.WindowFailureRate() != 0 {
		t.Fatalf("aborted task must stay out of the failure window, got %+v", snap)
	}
	if n := o.Learning().RecordCount(); n != 0 {
		t.Fatalf("aborted task must not be learned from, got %d records", n)
	}
	// The context entry is still written after the caller gave up.
	related, err := o.GetRelatedContext(context.Background(), sid, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(related) != 1 {
		t.Fatalf("expected one context entry, got %d", len(related))
	}
}

func TestRegisterAgent_Duplicate(t *testing.T) {
	o := newOrchestrator(testConfig())
	mustRegister(t, o, "a", okExecutor("x"))
	if err := o.RegisterAgent(agent.Profile{ID: "a"}, okExecutor("y")); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestExecuteTask_DefaultAgentFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultAgent = "second"
	o := newOrchestrator(cfg)
	mustRegister(t, o, "first", okExecutor("1"))
	mustRegister(t, o, "second", okExecutor("2"))
	sid := mustSession(t, o)

	got, _ := o.ExecuteTask(context.Background(), sid, task.Request{Title: "t"})
	if got.AgentID != "second" {
		t.Fatalf("expected configured default agent, got %s", got.AgentID)
	}
}

func TestExecuteTask_OptimizedRoutingLearns(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(testConfig())
	mustRegister(t, o, "reliable", okExecutor("ok"))
	mustRegister(t, o, "flaky", failExecutor())
	sid := mustSession(t, o)

	req := task.Request{Title: "refactor", Description: "refactor the storage layer", UseOptimization: true}
	// Without learned data optimized tasks are spread round-robin.
	seen := map[string]int{}
	for range 20 {
		got, err := o.ExecuteTask(ctx, sid, req)
		if err != nil {
			t.Fatal(err)
		}
		seen[got.AgentID]++
	}
	if seen["reliable"] != 10 || seen["flaky"] != 10 {
		t.Fatalf("expected even round-robin, got %v", seen)
	}

	if err := o.AnalyzePatterns(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := o.ForceOptimization(ctx); err != nil {
		t.Fatal(err)
	}
	if !o.Optimizer().Policy().Avoids("flaky") {
		t.Fatal("expected the flaky agent in the avoid set")
	}

	for range 5 {
		got, _ := o.ExecuteTask(ctx, sid, req)
		if got.AgentID != "reliable" {
			t.Fatalf("expected learned routing to reliable, got %s", got.AgentID)
		}
	}
}

func TestGetSystemStatus_FailureRateError(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(testConfig())
	exec := &scriptedExecutor{fail: map[int]bool{0: true, 2: true, 4: true, 6: true, 8: true, 9: true}}
	mustRegister(t, o, "a", exec)
	sid := mustSession(t, o)

	for range 10 {
		if _, err := o.ExecuteTask(ctx, sid, task.Request{Title: "t"}); err != nil {
			t.Fatal(err)
		}
	}
	st := o.GetSystemStatus(ctx)
	if st.Level != health.LevelError {
		t.Fatalf("expected error at 60%% failures, got %s: %v", st.Level, st.Issues)
	}
	if len(st.Issues) == 0 {
		t.Fatal("expected at least one issue")
	}
	if st.TotalTasksProcessed != 10 {
		t.Fatalf("expected 10 processed, got %d", st.TotalTasksProcessed)
	}
}

func TestStart_ValidatesConfig(t *testing.T) {
	cfg := testConfig()
	cfg.LearningRate = 0
	o := newOrchestrator(cfg)
	if err := o.Start(context.Background()); !errors.Is(err, domain.ErrConfigValidation) {
		t.Fatalf("expected ErrConfigValidation, got %v", err)
	}
}

func TestStart_Twice(t *testing.T) {
	o := newOrchestrator(testConfig())
	ctx := context.Background()
	if err := o.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer o.Stop(ctx)
	if err := o.Start(ctx); !errors.Is(err, domain.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestStop_AbortsStragglers(t *testing.T) {
	cfg := testConfig()
	cfg.ShutdownGracePeriod = 50 * time.Millisecond
	o := newOrchestrator(cfg)
	log := &eventLog{}
	o.Events().SubscribeAll(log)
	exec := newBlockingExecutor(t)
	mustRegister(t, o, "stuck", exec)

	ctx := context.Background()
	if err := o.Start(ctx); err != nil {
		t.Fatal(err)
	}
	sid := mustSession(t, o)

	result := make(chan task.Task, 1)
	go func() {
		got, _ := o.ExecuteTask(ctx, sid, task.Request{Title: "never ends"})
		result <- got
	}()
	<-exec.started

	stopped := make(chan struct{})
	go func() {
		_ = o.Stop(ctx)
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}

	got := <-result
	if got.Status != task.StatusFailed || !errors.Is(got.Err, domain.ErrShutdown) {
		t.Fatalf("expected shutdown failure, got %s %v", got.Status, got.Err)
	}
	if snap, _ := o.Metrics().Snapshot("stuck"); snap.Attempted != 1 || snap.WindowFailed != 0 {
		t.Fatalf("shutdown abort must not count as an agent failure, got %+v", snap)
	}
	if log.count(event.SystemStopped) != 1 || log.count(event.SessionClosed) != 1 {
		t.Fatalf("unexpected events %v", log.names)
	}
	if _, err := o.ExecuteTask(ctx, sid, task.Request{}); !errors.Is(err, domain.ErrUnknownSession) {
		t.Fatalf("sessions must be closed after Stop, got %v", err)
	}
	if err := o.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestStop_WaitsForFastTasks(t *testing.T) {
	o := newOrchestrator(testConfig())
	release := make(chan struct{})
	mustRegister(t, o, "a", executor.Func(func(context.Context, task.Task) (executor.Result, error) {
		<-release
		return executor.Result{Output: "ok"}, nil
	}))
	sid := mustSession(t, o)

	result := make(chan task.Task, 1)
	go func() {
		got, _ := o.ExecuteTask(context.Background(), sid, task.Request{})
		result <- got
	}()
	for o.InFlight() == 0 {
		time.Sleep(time.Millisecond)
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		close(release)
	}()
	_ = o.Stop(context.Background())

	if got := <-result; got.Status != task.StatusCompleted {
		t.Fatalf("task finishing within the grace period should complete, got %s", got.Status)
	}
}

func TestBackgroundCycles(t *testing.T) {
	cfg := testConfig()
	cfg.PerformanceMonitoringEnabled = true
	cfg.PerformanceCheckInterval = 5 * time.Millisecond
	o := newOrchestrator(cfg)

	var completed atomic.Int32
	o.AddEventHandler(event.OptimizationCompleted, service.EventHandlerFunc(func(context.Context, event.Event) error {
		completed.Add(1)
		return nil
	}))

	ctx := context.Background()
	if err := o.Start(ctx); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for completed.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	_ = o.Stop(ctx)

	if completed.Load() < 2 {
		t.Fatalf("expected periodic optimizer cycles, got %d", completed.Load())
	}
	if n := len(o.Optimizer().ScoreHistory()); n < 2 {
		t.Fatalf("expected score history, got %d", n)
	}
}

func TestForceOptimization_EmitsForced(t *testing.T) {
	o := newOrchestrator(testConfig())
	log := &eventLog{}
	if !o.AddEventHandler(event.OptimizationForced, log) {
		t.Fatal("expected handler added")
	}
	if o.AddEventHandler(event.OptimizationForced, log) {
		t.Fatal("duplicate handler should not be added")
	}

	score, err := o.ForceOptimization(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if score != 0.5 {
		t.Fatalf("expected neutral score without data, got %v", score)
	}
	if log.count(event.OptimizationForced) != 1 {
		t.Fatalf("expected exactly one delivery, got %d", log.count(event.OptimizationForced))
	}
}

func TestExecuteTask_Concurrent(t *testing.T) {
	o := newOrchestrator(testConfig())
	mustRegister(t, o, "a", okExecutor("x"))
	mustRegister(t, o, "b", okExecutor("y"))
	sid := mustSession(t, o)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = o.ExecuteTask(context.Background(), sid, task.Request{UseOptimization: i%2 == 0})
		}()
	}
	wg.Wait()

	if o.Metrics().TotalProcessed() != 50 {
		t.Fatalf("expected 50 processed, got %d", o.Metrics().TotalProcessed())
	}
	var attempted int64
	for _, s := range o.Metrics().Snapshots() {
		attempted += s.Attempted
		if s.Load != 0 {
			t.Errorf("%s: load %d after all tasks finished", s.AgentID, s.Load)
		}
	}
	if attempted != 50 {
		t.Fatalf("expected 50 attempts, got %d", attempted)
	}
	sess, _ := o.GetSession(sid)
	if len(sess.TaskIDs) != 50 {
		t.Fatalf("expected 50 task IDs, got %d", len(sess.TaskIDs))
	}
}

func TestComprehensiveReport(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(testConfig())
	mustRegister(t, o, "a", okExecutor("x"))
	sid := mustSession(t, o)
	_, _ = o.ExecuteTask(ctx, sid, task.Request{Title: "t"})
	_, _ = o.ForceOptimization(ctx)

	r := o.GetComprehensiveReport(ctx)
	if len(r.Agents) != 1 || len(r.Predictions) != 1 {
		t.Fatalf("unexpected agents %+v", r.Agents)
	}
	if r.Optimization == nil {
		t.Fatal("expected optimizer result")
	}
	if r.Metrics.TotalProcessed != 1 || r.Metrics.OpenSessions != 1 {
		t.Fatalf("unexpected metrics %+v", r.Metrics)
	}
	if len(r.Metrics.Cycles) != 4 {
		t.Fatalf("expected 4 cycles, got %d", len(r.Metrics.Cycles))
	}
	if r.Health.Level != health.LevelHealthy {
		t.Fatalf("expected healthy, got %s: %v", r.Health.Level, r.Health.Issues)
	}
}

func TestDeactivateAgent_KeepsLastActive(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(testConfig())
	mustRegister(t, o, "a", okExecutor("x"))
	mustRegister(t, o, "b", okExecutor("y"))

	if err := o.DeactivateAgent(ctx, "a", "test"); err != nil {
		t.Fatal(err)
	}
	if err := o.DeactivateAgent(ctx, "b", "test"); !errors.Is(err, domain.ErrConflict) {
		t.Fatal("expected refusal to deactivate the last active agent")
	}
	if got := o.ActiveAgents(); len(got) != 1 || got[0] != "b" {
		t.Fatalf("unexpected active agents %v", got)
	}

	sid := mustSession(t, o)
	got, _ := o.ExecuteTask(ctx, sid, task.Request{})
	if got.AgentID != "b" {
		t.Fatalf("expected fallback to active agent, got %s", got.AgentID)
	}

	if err := o.ReactivateAgent(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if len(o.ActiveAgents()) != 2 {
		t.Fatal("expected both agents active")
	}
	if err := o.DeactivateAgent(ctx, "missing", ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
