package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/agentopt/internal/adapter/otel"
	"github.com/Strob0t/agentopt/internal/config"
	aocontext "github.com/Strob0t/agentopt/internal/domain/context"
	"github.com/Strob0t/agentopt/internal/domain/metrics"
	"github.com/Strob0t/agentopt/internal/port/contextstore"
)

const (
	defaultContextLimit = 10
	// upper bound on memories scored per long-term lookup
	longTermCandidates = 500
	contextWriteWindow = 100
)

// ContextManager records task summaries and replays the relevant ones.
type ContextManager struct {
	store         contextstore.Store
	recencyWeight float64
	halfLife      time.Duration
	maxEntries    int
	metrics       *otel.Metrics
	now           func() time.Time

	mu     sync.Mutex
	writes *metrics.Window
}

// NewContextManager creates a manager over store.
func NewContextManager(store contextstore.Store, cfg config.Optimization, m *otel.Metrics) *ContextManager {
	half := cfg.ContextRetention() / 2
	if half < time.Hour {
		half = time.Hour
	}
	return &ContextManager{
		store:         store,
		recencyWeight: cfg.RecencyWeight,
		halfLife:      half,
		maxEntries:    cfg.MaxContextEntries,
		metrics:       m,
		now:           time.Now,
		writes:        metrics.NewWindow(contextWriteWindow),
	}
}

// Record appends a summary of a finished task. A failed write is counted
// towards ErrorRate and returned for the caller to log.
func (m *ContextManager) Record(ctx context.Context, sessionID, taskID, agentID, summary string) error {
	e := &aocontext.Entry{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		TaskID:       taskID,
		AgentID:      agentID,
		Summary:      summary,
		ReferenceKey: taskID,
		Importance:   aocontext.DefaultImportance,
		CreatedAt:    m.now(),
	}
	err := m.store.Append(ctx, e)
	m.trackWrite(err == nil)
	if err != nil {
		m.metrics.ContextWriteFailed(ctx)
		return fmt.Errorf("record context for task %s: %w", taskID, err)
	}
	return nil
}

func (m *ContextManager) trackWrite(ok bool) {
	m.mu.Lock()
	m.writes.Add(ok)
	m.mu.Unlock()
}

// ErrorRate returns the share of recent context writes that failed.
func (m *ContextManager) ErrorRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, failed := m.writes.Counts()
	if n == 0 {
		return 0
	}
	return float64(failed) / float64(n)
}

// GetRelatedContext returns up to limit entries relevant to query. Entries of
// sessionID are preferred, and reading them counts towards consolidation.
// When the session has none, long-term memories sharing at least one query
// word are used.
func (m *ContextManager) GetRelatedContext(ctx context.Context, sessionID, query string, limit int) ([]aocontext.Scored, error) {
	if limit <= 0 {
		limit = defaultContextLimit
	}
	scorer := aocontext.Scorer{RecencyWeight: m.recencyWeight, HalfLife: m.halfLife, Now: m.now()}

	own, err := m.store.ListSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session context: %w", err)
	}
	if len(own) > 0 {
		out := truncate(scorer.Rank(own, query), limit)
		ids := make([]string, len(out))
		for i := range out {
			ids[i] = out[i].ID
		}
		if err := m.store.Touch(ctx, sessionID, ids); err != nil {
			slog.WarnContext(ctx, "context access not counted", "session_id", sessionID, "error", err)
		}
		return out, nil
	}

	mems, err := m.store.ListMemories(ctx, longTermCandidates)
	if err != nil {
		return nil, fmt.Errorf("list long-term memories: %w", err)
	}
	q := aocontext.Tokens(query)
	entries := make([]aocontext.Entry, 0, len(mems))
	for i := range mems {
		if len(q) > 0 && aocontext.Overlap(q, aocontext.Tokens(mems[i].Summary)) == 0 {
			continue
		}
		entries = append(entries, mems[i].AsEntry())
	}
	out := truncate(scorer.Rank(entries, query), limit)
	for i := range out {
		out[i].LongTerm = true
	}
	return out, nil
}

// ConsolidateMemory promotes the session's important or frequently read
// entries into long-term memory and returns how many were promoted.
func (m *ContextManager) ConsolidateMemory(ctx context.Context, sessionID string) (int, error) {
	entries, err := m.store.ListSession(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("consolidate session %s: %w", sessionID, err)
	}
	now := m.now()
	merged := make(map[string]aocontext.Memory)
	var order []string
	for i := range entries {
		if !entries[i].Worth() {
			continue
		}
		mem := aocontext.Promote(&entries[i], now)
		if cur, ok := merged[mem.ID]; ok {
			cur.Merge(mem)
			merged[mem.ID] = cur
			continue
		}
		merged[mem.ID] = mem
		order = append(order, mem.ID)
	}
	for n, id := range order {
		mem := merged[id]
		if err := m.store.PutMemory(ctx, &mem); err != nil {
			return n, fmt.Errorf("consolidate memory %s: %w", id, err)
		}
	}
	return len(order), nil
}

func truncate(s []aocontext.Scored, n int) []aocontext.Scored {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// CleanupOldContexts deletes entries created before cutoff.
func (m *ContextManager) CleanupOldContexts(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := m.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup context: %w", err)
	}
	return n, nil
}

// InheritContext copies the entries of one session into another with
// decayed importance and returns how many were copied.
func (m *ContextManager) InheritContext(ctx context.Context, fromSession, toSession string) (int, error) {
	src, err := m.store.ListSession(ctx, fromSession)
	if err != nil {
		return 0, fmt.Errorf("inherit context: %w", err)
	}
	for i := range src {
		imp := src[i].Importance
		if imp <= 0 {
			imp = aocontext.DefaultImportance
		}
		e := src[i]
		e.ID = uuid.NewString()
		e.SessionID = toSession
		e.Importance = imp * aocontext.InheritDecay
		e.AccessCount = 0
		if e.ReferenceKey == "" {
			e.ReferenceKey = src[i].ID
		}
		err := m.store.Append(ctx, &e)
		m.trackWrite(err == nil)
		if err != nil {
			return i, fmt.Errorf("inherit context entry %s: %w", src[i].ID, err)
		}
	}
	return len(src), nil
}

// Count returns the number of stored entries.
func (m *ContextManager) Count(ctx context.Context) (int, error) {
	return m.store.Count(ctx)
}

// Ping checks that the store is reachable.
func (m *ContextManager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}

// MaxEntries returns the configured capacity.
func (m *ContextManager) MaxEntries() int {
	return m.maxEntries
}
