package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/Strob0t/agentopt/internal/config"
	"github.com/Strob0t/agentopt/internal/domain/learning"
	"github.com/Strob0t/agentopt/internal/port/cache"
)

const (
	strengthRate = 0.8
	weaknessRate = 0.5
)

// learningTable is an immutable analysis result. A new table replaces the
// old one atomically; readers never see a half-built table.
type learningTable struct {
	generation uint64
	bySig      map[string]map[string]*learning.AgentStats
	sigSamples map[string]int
	global     map[string]*learning.AgentStats
	insights   learning.Insights
}

// LearningEngine learns which agents succeed on which kinds of task.
type LearningEngine struct {
	alpha      float64
	minSamples int
	maxRecords int
	weights    config.Weights
	cache      cache.Cache
	cacheTTL   time.Duration
	now        func() time.Time

	// instance scopes cache keys to this engine. Generations restart at 1
	// in every process, and the L2 cache is shared.
	instance string

	mu      sync.Mutex
	records []learning.Outcome

	table atomic.Pointer[learningTable]

	poolMu   sync.RWMutex
	inactive map[string]string
	poolGen  atomic.Uint64

	analyzeMu sync.Mutex
}

// NewLearningEngine creates an engine. c may be nil to disable caching.
func NewLearningEngine(cfg config.Optimization, c cache.Cache, cacheTTL time.Duration) *LearningEngine {
	return &LearningEngine{
		alpha:      cfg.LearningRate,
		minSamples: cfg.MinSamplesForLearning,
		maxRecords: cfg.MaxLearningRecords,
		weights:    cfg.RecommendationWeights,
		cache:      c,
		cacheTTL:   cacheTTL,
		now:        time.Now,
		instance:   uuid.NewString(),
		inactive:   make(map[string]string),
	}
}

// Record buffers an outcome for the next analysis. When the buffer exceeds
// its maximum, the oldest records are dropped down to 80% of it.
func (l *LearningEngine) Record(o learning.Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, o)
	if l.maxRecords > 0 && len(l.records) > l.maxRecords {
		keep := l.maxRecords * 8 / 10
		trimmed := make([]learning.Outcome, keep)
		copy(trimmed, l.records[len(l.records)-keep:])
		l.records = trimmed
	}
}

// RecordCount returns the number of buffered records.
func (l *LearningEngine) RecordCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// AnalyzePatterns rebuilds the learning table from the buffered records and
// publishes it. Only one analysis runs at a time.
func (l *LearningEngine) AnalyzePatterns(ctx context.Context) (learning.Insights, error) {
	l.analyzeMu.Lock()
	defer l.analyzeMu.Unlock()

	l.mu.Lock()
	recs := make([]learning.Outcome, len(l.records))
	copy(recs, l.records)
	l.mu.Unlock()

	sort.SliceStable(recs, func(i, j int) bool { return recs[i].FinishedAt.Before(recs[j].FinishedAt) })

	var gen uint64 = 1
	if old := l.table.Load(); old != nil {
		gen = old.generation + 1
	}
	t := &learningTable{
		generation: gen,
		bySig:      make(map[string]map[string]*learning.AgentStats),
		sigSamples: make(map[string]int),
		global:     make(map[string]*learning.AgentStats),
	}
	shapes := make(map[string]learning.Signature)

	for i := range recs {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return learning.Insights{}, fmt.Errorf("analyze patterns: %w", err)
			}
		}
		o := recs[i]
		key := o.Signature.Key
		shapes[key] = o.Signature

		agents, ok := t.bySig[key]
		if !ok {
			agents = make(map[string]*learning.AgentStats)
			t.bySig[key] = agents
		}
		observe(agents, o, l.alpha)
		observe(t.global, o, l.alpha)
		t.sigSamples[key]++
	}

	t.insights = l.buildInsights(t, shapes, len(recs))
	l.table.Store(t)

	slog.Info("learning patterns analyzed",
		"generation", gen, "records", len(recs), "signatures", len(t.bySig))
	return t.insights, nil
}

func observe(m map[string]*learning.AgentStats, o learning.Outcome, alpha float64) {
	s, ok := m[o.AgentID]
	if !ok {
		s = learning.NewAgentStats(o.AgentID, alpha)
		m[o.AgentID] = s
	}
	s.Observe(o)
}

func (l *LearningEngine) buildInsights(t *learningTable, shapes map[string]learning.Signature, records int) learning.Insights {
	in := learning.Insights{
		Generation:     t.generation,
		AnalyzedAt:     l.now(),
		Records:        records,
		Signatures:     len(t.bySig),
		TopAgents:      l.rank(t.global, nil),
		SuccessFactors: []string{},
		FailureFactors: []string{},
		Strengths:      make(map[string][]string),
		Weaknesses:     make(map[string][]string),
		Patterns:       make([]learning.Pattern, 0, len(t.bySig)),
	}

	for key, agents := range t.bySig {
		p := learning.Pattern{Signature: shapes[key], Samples: t.sigSamples[key], WorstRate: 2}
		var successes int
		for _, id := range sortedKeys(agents) {
			s := agents[id]
			successes += s.Successes
			if s.SuccessRate > p.BestRate || p.BestAgent == "" {
				p.BestAgent, p.BestRate = id, s.SuccessRate
			}
			if s.SuccessRate < p.WorstRate {
				p.WorstAgent, p.WorstRate = id, s.SuccessRate
			}
			if s.Samples < l.minSamples {
				continue
			}
			switch {
			case s.SuccessRate >= strengthRate:
				in.Strengths[id] = append(in.Strengths[id], p.Signature.Shape)
			case s.SuccessRate <= weaknessRate:
				in.Weaknesses[id] = append(in.Weaknesses[id], p.Signature.Shape)
			}
		}
		if p.Samples > 0 {
			p.SuccessRate = float64(successes) / float64(p.Samples)
		}
		in.Patterns = append(in.Patterns, p)
	}

	sort.Slice(in.Patterns, func(i, j int) bool {
		if in.Patterns[i].Samples != in.Patterns[j].Samples {
			return in.Patterns[i].Samples > in.Patterns[j].Samples
		}
		return in.Patterns[i].Signature.Key < in.Patterns[j].Signature.Key
	})
	for _, p := range in.Patterns {
		if p.Samples < l.minSamples {
			continue
		}
		if p.BestRate >= strengthRate {
			in.SuccessFactors = append(in.SuccessFactors,
				fmt.Sprintf("%s succeeds on %s (%.0f%% over %d tasks)", p.BestAgent, p.Signature.Shape, p.BestRate*100, p.Samples))
		}
		if p.WorstRate <= weaknessRate {
			in.FailureFactors = append(in.FailureFactors,
				fmt.Sprintf("%s struggles on %s (%.0f%% over %d tasks)", p.WorstAgent, p.Signature.Shape, p.WorstRate*100, p.Samples))
		}
	}
	return in
}

// Insights returns the summary of the current table. Generation 0 means no
// analysis has run yet.
func (l *LearningEngine) Insights() learning.Insights {
	t := l.table.Load()
	if t == nil {
		return learning.Insights{
			TopAgents:      []learning.AgentScore{},
			SuccessFactors: []string{},
			FailureFactors: []string{},
			Strengths:      map[string][]string{},
			Weaknesses:     map[string][]string{},
			Patterns:       []learning.Pattern{},
		}
	}
	return t.insights
}

// Recommend returns active agent IDs best first for a task with the given
// description and requirements. The result is empty when nothing has been
// learned yet.
func (l *LearningEngine) Recommend(ctx context.Context, description string, requirements map[string]any) []string {
	t := l.table.Load()
	if t == nil {
		return nil
	}
	sig := learning.Sign(description, requirements)
	key := fmt.Sprintf("rec:%s:%d:%d:%s", l.instance, t.generation, l.poolGen.Load(), sig.Key)

	if ids, ok := l.cached(ctx, key); ok {
		return ids
	}

	stats := t.global
	if t.sigSamples[sig.Key] >= l.minSamples && l.minSamples > 0 {
		stats = t.bySig[sig.Key]
	}
	if len(stats) == 0 {
		return nil
	}

	l.poolMu.RLock()
	inactive := l.inactive
	ranked := l.rank(stats, func(id string) bool { _, off := inactive[id]; return !off })
	l.poolMu.RUnlock()

	ids := make([]string, len(ranked))
	for i := range ranked {
		ids[i] = ranked[i].AgentID
	}
	l.store(ctx, key, ids)
	return ids
}

func (l *LearningEngine) cached(ctx context.Context, key string) ([]string, bool) {
	if l.cache == nil {
		return nil, false
	}
	raw, ok, err := l.cache.Get(ctx, key)
	if err != nil || !ok {
		return nil, false
	}
	var ids []string
	if err := cbor.Unmarshal(raw, &ids); err != nil {
		slog.Warn("recommendation cache: decode failed", "key", key, "error", err)
		return nil, false
	}
	return ids, true
}

func (l *LearningEngine) store(ctx context.Context, key string, ids []string) {
	if l.cache == nil {
		return
	}
	raw, err := cbor.Marshal(ids)
	if err != nil {
		return
	}
	if err := l.cache.Set(ctx, key, raw, l.cacheTTL); err != nil {
		slog.Warn("recommendation cache: store failed", "key", key, "error", err)
	}
}

// rank scores the agents in stats accepted by keep, best first. Ties are
// broken by agent ID.
func (l *LearningEngine) rank(stats map[string]*learning.AgentStats, keep func(string) bool) []learning.AgentScore {
	var total float64
	var timed int
	for id, s := range stats {
		if keep != nil && !keep(id) {
			continue
		}
		if s.AvgSeconds > 0 {
			total += s.AvgSeconds
			timed++
		}
	}
	mean := 0.0
	if timed > 0 {
		mean = total / float64(timed)
	}

	out := make([]learning.AgentScore, 0, len(stats))
	for id, s := range stats {
		if keep != nil && !keep(id) {
			continue
		}
		score := l.weights.Success*s.SuccessRate +
			l.weights.Speed*responsiveness(mean, s.AvgSeconds) +
			l.weights.Quality*s.Quality
		out = append(out, learning.AgentScore{AgentID: id, Score: score, Samples: s.Samples})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out
}

// responsiveness maps an agent's average time against the mean onto [0,1];
// an agent at the mean scores 0.5.
func responsiveness(mean, agent float64) float64 {
	if mean <= 0 || agent <= 0 {
		return 1
	}
	r := mean / agent
	if r > 2 {
		r = 2
	}
	return r / 2
}

// Deactivate removes agentID from future recommendations.
func (l *LearningEngine) Deactivate(agentID, reason string) {
	l.poolMu.Lock()
	l.inactive[agentID] = reason
	l.poolMu.Unlock()
	l.poolGen.Add(1)
}

// Reactivate returns agentID to the recommendation pool.
func (l *LearningEngine) Reactivate(agentID string) {
	l.poolMu.Lock()
	delete(l.inactive, agentID)
	l.poolMu.Unlock()
	l.poolGen.Add(1)
}

func sortedKeys(m map[string]*learning.AgentStats) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
