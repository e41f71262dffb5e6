package context

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// Thresholds above which a session entry is consolidated into long-term
// memory when its session ends.
const (
	ConsolidateImportance = 1.5
	ConsolidateAccesses   = 3
)

// Memory is a long-term knowledge item distilled from session entries.
// Equal summaries from different sessions share one Memory.
type Memory struct {
	ID            string    `json:"id"`
	AgentID       string    `json:"agent_id,omitempty"`
	Summary       string    `json:"summary"`
	SourceSession string    `json:"source_session"`
	TaskID        string    `json:"task_id,omitempty"`
	Strength      float64   `json:"strength"`
	Frequency     int       `json:"frequency"`
	CreatedAt     time.Time `json:"created_at"`
	LastSeen      time.Time `json:"last_seen"`
}

// Worth reports whether e qualifies for consolidation.
func (e *Entry) Worth() bool {
	return e.Importance > ConsolidateImportance || e.AccessCount > ConsolidateAccesses
}

// Promote builds the memory for e, seen at now. Frequently read entries
// get a stronger memory.
func Promote(e *Entry, now time.Time) Memory {
	imp := e.Importance
	if imp <= 0 {
		imp = DefaultImportance
	}
	return Memory{
		ID:            MemoryID(e.Summary),
		AgentID:       e.AgentID,
		Summary:       e.Summary,
		SourceSession: e.SessionID,
		TaskID:        e.TaskID,
		Strength:      imp * (1 + float64(e.AccessCount)/10),
		Frequency:     1,
		CreatedAt:     now,
		LastSeen:      now,
	}
}

// Merge folds o into m: frequencies add, the stronger strength and the
// later sighting win.
func (m *Memory) Merge(o Memory) {
	m.Frequency += o.Frequency
	m.Strength = max(m.Strength, o.Strength)
	if o.LastSeen.After(m.LastSeen) {
		m.LastSeen = o.LastSeen
		m.SourceSession = o.SourceSession
		m.TaskID = o.TaskID
		m.AgentID = o.AgentID
	}
}

// AsEntry lets a memory be ranked with the entry Scorer.
func (m *Memory) AsEntry() Entry {
	return Entry{
		ID:           m.ID,
		SessionID:    m.SourceSession,
		TaskID:       m.TaskID,
		AgentID:      m.AgentID,
		Summary:      m.Summary,
		ReferenceKey: m.ID,
		Importance:   m.Strength,
		CreatedAt:    m.LastSeen,
	}
}

// MemoryID keys a summary case and whitespace insensitively.
func MemoryID(summary string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(summary)), " ")
	sum := blake3.Sum256([]byte(norm))
	return "mem-" + hex.EncodeToString(sum[:16])
}
