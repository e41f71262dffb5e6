package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "agentopt"

// Metrics holds the agentopt metric instruments. A nil *Metrics records
// nothing, so callers need no telemetry checks.
type Metrics struct {
	TasksStarted      metric.Int64Counter
	TasksCompleted    metric.Int64Counter
	TasksFailed       metric.Int64Counter
	TaskDuration      metric.Float64Histogram
	OptimizationScore metric.Float64Gauge
	CyclesRun         metric.Int64Counter
	CyclesSkipped     metric.Int64Counter
	ContextWriteErrs  metric.Int64Counter
}

// NewMetrics creates all metric instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TasksStarted, err = meter.Int64Counter("agentopt.tasks.started",
		metric.WithDescription("Number of tasks dispatched to an agent"))
	if err != nil {
		return nil, err
	}

	m.TasksCompleted, err = meter.Int64Counter("agentopt.tasks.completed",
		metric.WithDescription("Number of tasks completed"))
	if err != nil {
		return nil, err
	}

	m.TasksFailed, err = meter.Int64Counter("agentopt.tasks.failed",
		metric.WithDescription("Number of tasks failed"))
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("agentopt.task.duration_seconds",
		metric.WithDescription("Task execution time in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.OptimizationScore, err = meter.Float64Gauge("agentopt.optimization.score",
		metric.WithDescription("Latest optimization score in [0,1]"))
	if err != nil {
		return nil, err
	}

	m.CyclesRun, err = meter.Int64Counter("agentopt.cycles.run",
		metric.WithDescription("Background cycles executed"))
	if err != nil {
		return nil, err
	}

	m.CyclesSkipped, err = meter.Int64Counter("agentopt.cycles.skipped",
		metric.WithDescription("Background ticks skipped because the previous run was still active"))
	if err != nil {
		return nil, err
	}

	m.ContextWriteErrs, err = meter.Int64Counter("agentopt.context.write_errors",
		metric.WithDescription("Context entries that could not be stored"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// TaskStarted counts a dispatch to agentID.
func (m *Metrics) TaskStarted(ctx context.Context, agentID string) {
	if m == nil {
		return
	}
	m.TasksStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("agent.id", agentID)))
}

// TaskFinished counts a terminal task and records its duration.
func (m *Metrics) TaskFinished(ctx context.Context, agentID string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("agent.id", agentID))
	if success {
		m.TasksCompleted.Add(ctx, 1, attrs)
	} else {
		m.TasksFailed.Add(ctx, 1, attrs)
	}
	m.TaskDuration.Record(ctx, d.Seconds(), attrs)
}

// Score records the latest optimization score.
func (m *Metrics) Score(ctx context.Context, score float64) {
	if m == nil {
		return
	}
	m.OptimizationScore.Record(ctx, score)
}

// Cycle counts a background cycle run or skip.
func (m *Metrics) Cycle(ctx context.Context, name string, skipped bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("cycle", name))
	if skipped {
		m.CyclesSkipped.Add(ctx, 1, attrs)
		return
	}
	m.CyclesRun.Add(ctx, 1, attrs)
}

// ContextWriteFailed counts a dropped context entry.
func (m *Metrics) ContextWriteFailed(ctx context.Context) {
	if m == nil {
		return
	}
	m.ContextWriteErrs.Add(ctx, 1)
}
