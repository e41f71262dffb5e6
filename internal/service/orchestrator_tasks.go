package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/Strob0t/agentopt/internal/adapter/otel"
	"github.com/Strob0t/agentopt/internal/domain"
	"github.com/Strob0t/agentopt/internal/domain/event"
	"github.com/Strob0t/agentopt/internal/domain/learning"
	"github.com/Strob0t/agentopt/internal/domain/metrics"
	"github.com/Strob0t/agentopt/internal/domain/session"
	"github.com/Strob0t/agentopt/internal/domain/task"
	"github.com/Strob0t/agentopt/internal/logger"
	"github.com/Strob0t/agentopt/internal/port/executor"
)

const (
	// quality assumed for a success when the executor does not score itself
	defaultSuccessQuality = 0.7
	maxSummaryOutput      = 200
)

// run tracks one in-flight task.
type run struct {
	abort     chan struct{}
	abortOnce sync.Once
}

func (r *run) cancel() {
	r.abortOnce.Do(func() { close(r.abort) })
}

type execResult struct {
	res executor.Result
	err error
}

// CreateSession opens a session in the given progress mode.
func (o *Orchestrator) CreateSession(ctx context.Context, mode string) (string, error) {
	m, err := session.ParseMode(mode)
	if err != nil {
		return "", err
	}
	s := &session.Session{
		ID:        uuid.NewString(),
		Mode:      m,
		TaskIDs:   []string{},
		CreatedAt: o.now(),
	}

	o.lifeMu.Lock()
	stopped := o.stopped
	o.lifeMu.Unlock()
	if stopped {
		return "", fmt.Errorf("create session: %w", domain.ErrShutdown)
	}

	o.sessionsMu.Lock()
	o.sessions[s.ID] = s
	o.sessionsMu.Unlock()

	slog.InfoContext(ctx, "session created", "session_id", s.ID, "mode", string(m))
	o.bus.Emit(ctx, event.SessionCreated, map[string]any{"session_id": s.ID, "mode": string(m)})
	return s.ID, nil
}

// EndSession closes a session. Tasks already running finish normally.
func (o *Orchestrator) EndSession(ctx context.Context, id string) error {
	o.sessionsMu.Lock()
	s, ok := o.sessions[id]
	if !ok || s.Closed {
		o.sessionsMu.Unlock()
		return fmt.Errorf("end session %s: %w", id, domain.ErrUnknownSession)
	}
	now := o.now()
	s.Closed = true
	s.ClosedAt = &now
	o.sessionsMu.Unlock()

	o.bus.Emit(ctx, event.SessionClosed, map[string]any{"session_id": id})
	o.consolidate(ctx, id)
	return nil
}

// consolidate moves a closed session's valuable context into long-term
// memory. Failures are logged; the session stays closed either way.
func (o *Orchestrator) consolidate(ctx context.Context, sessionID string) {
	n, err := o.contexts.ConsolidateMemory(ctx, sessionID)
	if err != nil {
		slog.WarnContext(ctx, "context consolidation failed", "session_id", sessionID, "promoted", n, "error", err)
	}
	if n == 0 {
		return
	}
	slog.InfoContext(ctx, "context consolidated", "session_id", sessionID, "promoted", n)
	o.bus.Emit(ctx, event.ContextConsolidated, map[string]any{"session_id": sessionID, "promoted": n})
}

// GetSession returns a copy of a session.
func (o *Orchestrator) GetSession(id string) (session.Session, error) {
	o.sessionsMu.RLock()
	defer o.sessionsMu.RUnlock()
	s, ok := o.sessions[id]
	if !ok {
		return session.Session{}, fmt.Errorf("get session %s: %w", id, domain.ErrUnknownSession)
	}
	c := *s
	c.TaskIDs = append([]string(nil), s.TaskIDs...)
	return c, nil
}

// Sessions returns copies of all sessions, newest first.
func (o *Orchestrator) Sessions() []session.Session {
	o.sessionsMu.RLock()
	out := make([]session.Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		c := *s
		c.TaskIDs = append([]string(nil), s.TaskIDs...)
		out = append(out, c)
	}
	o.sessionsMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (o *Orchestrator) closeAllSessions() []string {
	o.sessionsMu.Lock()
	defer o.sessionsMu.Unlock()
	now := o.now()
	var closed []string
	for id, s := range o.sessions {
		if s.Closed {
			continue
		}
		s.Closed = true
		s.ClosedAt = &now
		closed = append(closed, id)
	}
	sort.Strings(closed)
	return closed
}

// admit appends a new task to an open session and registers it as in
// flight. Both happen under the session lock so that Stop, which closes
// sessions first, never misses a task.
func (o *Orchestrator) admit(t *task.Task) (*run, error) {
	o.sessionsMu.Lock()
	defer o.sessionsMu.Unlock()
	s, ok := o.sessions[t.SessionID]
	if !ok || s.Closed {
		return nil, fmt.Errorf("execute task: session %s: %w", t.SessionID, domain.ErrUnknownSession)
	}
	s.TaskIDs = append(s.TaskIDs, t.ID)

	r := &run{abort: make(chan struct{})}
	o.runsMu.Lock()
	o.runs[t.ID] = r
	o.runsMu.Unlock()
	o.inflight.Add(1)
	return r, nil
}

func (o *Orchestrator) release(taskID string) {
	o.runsMu.Lock()
	delete(o.runs, taskID)
	o.runsMu.Unlock()
	o.inflight.Done()
}

func (o *Orchestrator) abortRuns() int {
	o.runsMu.Lock()
	defer o.runsMu.Unlock()
	for _, r := range o.runs {
		r.cancel()
	}
	return len(o.runs)
}

// InFlight returns the number of running tasks.
func (o *Orchestrator) InFlight() int {
	o.runsMu.Lock()
	defer o.runsMu.Unlock()
	return len(o.runs)
}

// ExecuteTask runs a task in a session and returns it in a terminal state.
// The only errors returned are for unknown or closed sessions; executor
// failures are recorded in the task as a *domain.ExecutionError.
func (o *Orchestrator) ExecuteTask(ctx context.Context, sessionID string, req task.Request) (task.Task, error) {
	t := task.Task{
		ID:              uuid.NewString(),
		SessionID:       sessionID,
		Title:           req.Title,
		Description:     req.Description,
		Requirements:    req.Requirements,
		UseOptimization: req.UseOptimization,
		Status:          task.StatusPending,
		SubmittedAt:     o.now(),
	}
	r, err := o.admit(&t)
	if err != nil {
		return task.Task{}, err
	}
	defer o.release(t.ID)

	ctx = logger.WithTask(ctx, sessionID, t.ID)
	ctx, span := otel.StartTaskSpan(ctx, t.ID, sessionID, req.UseOptimization)
	defer span.End()

	agentID, entry := o.selectAgent(ctx, &t)
	if entry == nil {
		_ = t.Fail(&domain.ExecutionError{Err: domain.ErrNoAgent}, o.now())
		span.SetStatus(codes.Error, t.Error)
		slog.WarnContext(ctx, "task failed, no active agent")
		o.bus.Emit(ctx, event.TaskFailed, taskPayload(&t))
		return t, nil
	}

	t.AgentID = agentID
	_ = t.Transition(task.StatusRunning, o.now())
	o.metrics.Begin(agentID)
	o.telemetry.TaskStarted(ctx, agentID)
	slog.InfoContext(ctx, "task started", "agent_id", agentID, "optimized", req.UseOptimization)
	o.bus.Emit(ctx, event.TaskStarted, taskPayload(&t))

	res, aborted, execErr := o.execute(ctx, r, entry, t.Clone())
	o.finish(ctx, &t, res, aborted, execErr)
	if execErr != nil {
		span.RecordError(execErr)
		span.SetStatus(codes.Error, t.Error)
	}
	return t, nil
}

// execute runs the executor behind the agent's breaker. It returns early,
// reporting aborted, when the task is aborted by Stop or the caller's
// context ends; the executor is then cancelled and its eventual result
// discarded.
func (o *Orchestrator) execute(ctx context.Context, r *run, a *agentEntry, t task.Task) (executor.Result, bool, error) {
	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan execResult, 1)
	go func() {
		var res executor.Result
		err := a.breaker.Execute(execCtx, func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					err = fmt.Errorf("executor panicked: %v", p)
				}
			}()
			res, err = a.exec.Execute(execCtx, t)
			return err
		})
		done <- execResult{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return out.res, false, &domain.ExecutionError{AgentID: t.AgentID, Err: out.err}
		}
		return out.res, false, nil
	case <-r.abort:
		return executor.Result{}, true, &domain.ExecutionError{AgentID: t.AgentID, Err: domain.ErrShutdown}
	case <-ctx.Done():
		return executor.Result{}, true, &domain.ExecutionError{AgentID: t.AgentID, Err: ctx.Err()}
	}
}

// finish moves t to its terminal state and records the outcome exactly once
// in the metrics store, the learning engine and the context store. An
// aborted task says nothing about its agent: it is counted as attempted but
// kept out of the failure window and the learning records.
func (o *Orchestrator) finish(ctx context.Context, t *task.Task, res executor.Result, aborted bool, execErr error) {
	at := o.now()
	if execErr == nil {
		t.Output = res.Output
		t.Quality = res.Quality
		if t.Quality <= 0 {
			t.Quality = defaultSuccessQuality
		}
		_ = t.Transition(task.StatusCompleted, at)
	} else {
		_ = t.Fail(execErr, at)
	}

	success := execErr == nil
	d := t.Duration()
	o.metrics.Finish(t.AgentID, metrics.Outcome{Success: success, Aborted: aborted, Duration: d, Quality: t.Quality})
	if !aborted {
		o.learning.Record(learning.Outcome{
			TaskID:     t.ID,
			AgentID:    t.AgentID,
			Signature:  learning.Sign(t.Description, t.Requirements),
			Success:    success,
			Duration:   d,
			Quality:    t.Quality,
			FinishedAt: at,
		})
	}
	o.telemetry.TaskFinished(ctx, t.AgentID, success, d)

	// The context write must not be lost when the caller's context is
	// already done.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.contexts.Record(wctx, t.SessionID, t.ID, t.AgentID, summarize(t)); err != nil {
		slog.WarnContext(ctx, "context entry dropped", "error", err)
	}

	if success {
		slog.InfoContext(ctx, "task completed", "agent_id", t.AgentID, "duration", d)
		o.bus.Emit(ctx, event.TaskCompleted, taskPayload(t))
		return
	}
	slog.WarnContext(ctx, "task failed", "agent_id", t.AgentID, "error", t.Error)
	o.bus.Emit(ctx, event.TaskFailed, taskPayload(t))
}

func summarize(t *task.Task) string {
	var b strings.Builder
	b.WriteString(t.Title)
	if t.Description != "" {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(t.Description)
	}
	fmt.Fprintf(&b, " [%s by %s]", t.Status, t.AgentID)
	if t.Status == task.StatusFailed {
		fmt.Fprintf(&b, " error: %s", t.Error)
	} else if out := strings.TrimSpace(t.Output); out != "" {
		if r := []rune(out); len(r) > maxSummaryOutput {
			out = string(r[:maxSummaryOutput]) + "..."
		}
		b.WriteString(" output: ")
		b.WriteString(out)
	}
	return b.String()
}

func taskPayload(t *task.Task) map[string]any {
	p := map[string]any{
		"task_id":    t.ID,
		"session_id": t.SessionID,
		"agent_id":   t.AgentID,
		"status":     string(t.Status),
	}
	if t.Status.Terminal() {
		p["duration_ms"] = t.Duration().Milliseconds()
		p["quality"] = t.Quality
	}
	if t.Error != "" {
		p["error"] = t.Error
	}
	return p
}
