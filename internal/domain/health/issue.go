package health

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DedupeWindow is how long after its resolution an issue is reopened,
// rather than reported as new, when the same signal trips again.
const DedupeWindow = 5 * time.Minute

const resolvedHistorySize = 100

// Kind classifies what an issue is about.
type Kind string

const (
	KindFailureRate        Kind = "failure_rate"
	KindAgentFailureRate   Kind = "agent_failure_rate"
	KindSlowAgent          Kind = "slow_agent"
	KindScoreLow           Kind = "score_low"
	KindScoreDeclining     Kind = "score_declining"
	KindContextUnreachable Kind = "context_unreachable"
	KindContextErrors      Kind = "context_errors"
	KindContextCapacity    Kind = "context_capacity"
	KindNoActiveAgents     Kind = "no_active_agents"
	KindCircuitOpen        Kind = "circuit_open"
)

// Key identifies an issue across evaluations.
type Key struct {
	Kind      Kind   `json:"kind"`
	Component string `json:"component"`
}

const agentPrefix = "agent:"

// SystemKey keys a system-wide issue.
func SystemKey(k Kind) Key { return Key{Kind: k, Component: "system"} }

// ContextKey keys an issue about the context store.
func ContextKey(k Kind) Key { return Key{Kind: k, Component: "context"} }

// AgentKey keys an issue about one agent.
func AgentKey(k Kind, agentID string) Key { return Key{Kind: k, Component: agentPrefix + agentID} }

// AgentID returns the agent an issue is about, if any.
func (k Key) AgentID() (string, bool) {
	return strings.CutPrefix(k.Component, agentPrefix)
}

// Finding is one issue observed by a single evaluation.
type Finding struct {
	Key            Key
	Severity       Level
	Description    string
	Recommendation string
}

// Issue is a finding tracked over time.
type Issue struct {
	ID             string     `json:"id"`
	Key            Key        `json:"key"`
	Severity       Level      `json:"severity"`
	Description    string     `json:"description"`
	Recommendation string     `json:"recommendation,omitempty"`
	DetectedAt     time.Time  `json:"detected_at"`
	LastSeen       time.Time  `json:"last_seen"`
	Occurrences    int        `json:"occurrences"`
	Reopened       int        `json:"reopened,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	Resolution     string     `json:"resolution,omitempty"`
}

// Registry tracks issues from one evaluation to the next. It is safe for
// concurrent use.
type Registry struct {
	mu       sync.Mutex
	active   map[Key]*Issue
	resolved []Issue
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[Key]*Issue)}
}

// Observe folds one evaluation into the registry. A finding whose key is
// already active updates that issue; one whose key was resolved within
// DedupeWindow reopens it. Active issues without a finding are resolved
// as cleared. It returns the issues opened and resolved by this call.
func (r *Registry) Observe(findings []Finding, now time.Time) (opened, resolved []Issue) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[Key]bool, len(findings))
	for _, f := range findings {
		if seen[f.Key] {
			continue
		}
		seen[f.Key] = true

		if is, ok := r.active[f.Key]; ok {
			is.Severity, is.Description, is.Recommendation = f.Severity, f.Description, f.Recommendation
			is.LastSeen = now
			is.Occurrences++
			continue
		}
		is := r.reopen(f.Key, now)
		if is == nil {
			is = &Issue{ID: uuid.NewString(), Key: f.Key, DetectedAt: now}
		}
		is.Severity, is.Description, is.Recommendation = f.Severity, f.Description, f.Recommendation
		is.LastSeen = now
		is.Occurrences++
		r.active[f.Key] = is
		opened = append(opened, *is)
	}

	for key, is := range r.active {
		if !seen[key] {
			resolved = append(resolved, r.resolveLocked(is, "cleared", now))
		}
	}
	sortIssues(opened)
	sortIssues(resolved)
	return opened, resolved
}

// reopen pulls the latest issue with key out of the resolved history when
// it was resolved within DedupeWindow.
func (r *Registry) reopen(key Key, now time.Time) *Issue {
	for i := len(r.resolved) - 1; i >= 0; i-- {
		is := r.resolved[i]
		if is.Key != key {
			continue
		}
		if is.ResolvedAt == nil || now.Sub(*is.ResolvedAt) >= DedupeWindow {
			return nil
		}
		r.resolved = append(r.resolved[:i], r.resolved[i+1:]...)
		is.ResolvedAt, is.Resolution = nil, ""
		is.Reopened++
		return &is
	}
	return nil
}

// Resolve marks the active issue id resolved. It reports false when no
// such issue is active.
func (r *Registry) Resolve(id, resolution string, now time.Time) (Issue, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, is := range r.active {
		if is.ID == id {
			return r.resolveLocked(is, resolution, now), true
		}
	}
	return Issue{}, false
}

func (r *Registry) resolveLocked(is *Issue, resolution string, now time.Time) Issue {
	delete(r.active, is.Key)
	at := now
	is.ResolvedAt, is.Resolution = &at, resolution
	r.resolved = append(r.resolved, *is)
	if len(r.resolved) > resolvedHistorySize {
		r.resolved = append([]Issue(nil), r.resolved[len(r.resolved)-resolvedHistorySize:]...)
	}
	return *is
}

// Get returns the active issue id.
func (r *Registry) Get(id string) (Issue, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, is := range r.active {
		if is.ID == id {
			return *is, true
		}
	}
	return Issue{}, false
}

// Active returns the active issues, oldest first.
func (r *Registry) Active() []Issue {
	r.mu.Lock()
	out := make([]Issue, 0, len(r.active))
	for _, is := range r.active {
		out = append(out, *is)
	}
	r.mu.Unlock()
	sortIssues(out)
	return out
}

// Resolved returns recently resolved issues, oldest resolution first.
func (r *Registry) Resolved() []Issue {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Issue{}, r.resolved...)
}

func sortIssues(s []Issue) {
	sort.Slice(s, func(i, j int) bool {
		if !s[i].DetectedAt.Equal(s[j].DetectedAt) {
			return s[i].DetectedAt.Before(s[j].DetectedAt)
		}
		if s[i].Key.Kind != s[j].Key.Kind {
			return s[i].Key.Kind < s[j].Key.Kind
		}
		return s[i].Key.Component < s[j].Key.Component
	})
}
