package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// recordingHandler collects slog.Records for test assertions.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
	delay   time.Duration
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	h.mu.Lock()
	h.records = append(h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

func TestAsyncHandler_ConcurrentTaskLogs(t *testing.T) {
	const tasks = 50
	const perTask = 20

	inner := &recordingHandler{}
	ah := NewAsyncHandler(inner, tasks*perTask, 4)

	var wg sync.WaitGroup
	for range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perTask {
				_ = ah.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelInfo, "task outcome", 0))
			}
		}()
	}
	wg.Wait()
	ah.Close()

	if got := inner.count(); got != tasks*perTask {
		t.Fatalf("expected %d records, got %d", tasks*perTask, got)
	}
	if ah.DroppedCount() != 0 {
		t.Fatalf("expected no drops, got %d", ah.DroppedCount())
	}
}

func TestAsyncHandler_FullBufferDrops(t *testing.T) {
	inner := &recordingHandler{delay: 10 * time.Millisecond}
	ah := NewAsyncHandler(inner, 1, 1)

	for range 50 {
		_ = ah.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelInfo, "flood", 0))
	}
	ah.Close()

	if ah.DroppedCount() == 0 {
		t.Fatal("expected some records to be dropped")
	}
	if int64(inner.count())+ah.DroppedCount() != 50 {
		t.Fatalf("handled %d + dropped %d != 50", inner.count(), ah.DroppedCount())
	}
}

func TestAsyncHandler_WarningsWaitForSpace(t *testing.T) {
	inner := &recordingHandler{delay: 2 * time.Millisecond}
	ah := NewAsyncHandler(inner, 1, 1)

	for range 5 {
		_ = ah.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelWarn, "agent degraded", 0))
	}
	ah.Close()

	if ah.DroppedCount() != 0 {
		t.Fatalf("warnings should wait for the slow worker, dropped %d", ah.DroppedCount())
	}
	if inner.count() != 5 {
		t.Fatalf("expected 5 records, got %d", inner.count())
	}
}

func TestAsyncHandler_DerivedHandlersKeepAttrs(t *testing.T) {
	var buf bytes.Buffer
	ah := NewAsyncHandler(slog.NewJSONHandler(&buf, nil), 16, 1)

	slog.New(ah).With("agent_id", "a1").WithGroup("cycle").Info("optimizer ran", "score", 0.7)
	ah.Close()

	out := buf.String()
	if !strings.Contains(out, `"agent_id":"a1"`) || !strings.Contains(out, `"cycle":{"score":0.7}`) {
		t.Fatalf("attrs lost: %s", out)
	}
}

func TestAsyncHandler_AfterClose(t *testing.T) {
	inner := &recordingHandler{}
	ah := NewAsyncHandler(inner, 4, 1)
	ah.Close()
	ah.Close()

	if err := ah.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelInfo, "late", 0)); err != nil {
		t.Fatal(err)
	}
	if inner.count() != 1 {
		t.Fatal("records after Close are written synchronously")
	}
}
