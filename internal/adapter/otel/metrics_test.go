package otel

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Strob0t/agentopt/internal/config"
)

func sumOf(t *testing.T, rm *metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s is %T, want Sum[int64]", name, m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestMetricsRecordTasks(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	m.TaskStarted(ctx, "a")
	m.TaskStarted(ctx, "b")
	m.TaskFinished(ctx, "a", true, time.Second)
	m.TaskFinished(ctx, "b", false, 2*time.Second)
	m.Cycle(ctx, "optimizer", true)
	m.Score(ctx, 0.8)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatal(err)
	}
	if got := sumOf(t, &rm, "agentopt.tasks.started"); got != 2 {
		t.Errorf("started = %d, want 2", got)
	}
	if got := sumOf(t, &rm, "agentopt.tasks.completed"); got != 1 {
		t.Errorf("completed = %d, want 1", got)
	}
	if got := sumOf(t, &rm, "agentopt.tasks.failed"); got != 1 {
		t.Errorf("failed = %d, want 1", got)
	}
	if got := sumOf(t, &rm, "agentopt.cycles.skipped"); got != 1 {
		t.Errorf("skipped = %d, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.TaskStarted(ctx, "a")
	m.TaskFinished(ctx, "a", true, time.Second)
	m.Score(ctx, 1)
	m.Cycle(ctx, "health", false)
	m.ContextWriteFailed(ctx)
}

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.Telemetry{})
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}
