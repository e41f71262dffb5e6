// Package context defines context entries recorded after each task and
// the relevance scoring used to replay them.
package context

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"
)

// DefaultImportance is assigned to entries recorded from task outcomes.
const DefaultImportance = 1.0

// InheritDecay scales the importance of entries copied into another session.
const InheritDecay = 0.8

// Entry is one remembered task summary.
type Entry struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	TaskID       string    `json:"task_id"`
	AgentID      string    `json:"agent_id,omitempty"`
	Summary      string    `json:"summary"`
	ReferenceKey string    `json:"reference_key,omitempty"`
	Importance   float64   `json:"importance"`
	AccessCount  int       `json:"access_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// Scored pairs an entry with its relevance to a query.
type Scored struct {
	Entry
	Relevance float64 `json:"relevance"`
	// LongTerm marks consolidated memories returned in place of entries.
	LongTerm bool `json:"long_term,omitempty"`
}

// Scorer ranks entries against a query.
type Scorer struct {
	// RecencyWeight in [0,1] balances recency against keyword overlap.
	RecencyWeight float64
	// HalfLife is the age at which the recency component halves.
	HalfLife time.Duration
	Now      time.Time
}

// Rank scores entries against query and returns them best first.
// Ties fall back to newer first, then ID.
func (s Scorer) Rank(entries []Entry, query string) []Scored {
	q := Tokens(query)
	out := make([]Scored, 0, len(entries))
	for i := range entries {
		out = append(out, Scored{Entry: entries[i], Relevance: s.score(&entries[i], q)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Relevance != out[j].Relevance {
			return out[i].Relevance > out[j].Relevance
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s Scorer) score(e *Entry, query map[string]struct{}) float64 {
	rw := s.RecencyWeight
	if len(query) == 0 {
		rw = 1
	}
	imp := e.Importance
	if imp <= 0 {
		imp = DefaultImportance
	}
	return imp * (rw*s.recency(e.CreatedAt) + (1-rw)*Overlap(query, Tokens(e.Summary)))
}

func (s Scorer) recency(at time.Time) float64 {
	half := s.HalfLife
	if half <= 0 {
		half = 24 * time.Hour
	}
	age := s.Now.Sub(at)
	if age < 0 {
		age = 0
	}
	return math.Exp(-math.Ln2 * float64(age) / float64(half))
}

// Overlap returns the share of query tokens present in doc.
func Overlap(query, doc map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	hits := 0
	for tok := range query {
		if _, ok := doc[tok]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}

// Tokens lowercases s and splits it into a set of words of two or more
// letters or digits.
func Tokens(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(f) > 1 {
			out[f] = struct{}{}
		}
	}
	return out
}
