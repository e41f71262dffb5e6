package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	aocontext "github.com/Strob0t/agentopt/internal/domain/context"
)

const (
	entryColumns  = `id, session_id, task_id, agent_id, summary, reference_key, importance, access_count, created_at`
	memoryColumns = `id, agent_id, summary, source_session, task_id, strength, frequency, created_at, last_seen`
)

// ContextStore persists context entries in the context_entries table.
type ContextStore struct {
	pool *pgxpool.Pool
}

// NewContextStore creates a ContextStore on an open pool. Migrations must
// have been applied.
func NewContextStore(pool *pgxpool.Pool) *ContextStore {
	return &ContextStore{pool: pool}
}

// Append inserts e.
func (s *ContextStore) Append(ctx context.Context, e *aocontext.Entry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO context_entries (`+entryColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.SessionID, e.TaskID, e.AgentID, e.Summary, e.ReferenceKey, e.Importance, e.AccessCount, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert context entry %s: %w", e.ID, err)
	}
	return nil
}

// ListSession returns the session's entries, oldest first.
func (s *ContextStore) ListSession(ctx context.Context, sessionID string) ([]aocontext.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM context_entries WHERE session_id = $1 ORDER BY created_at, id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session %s: %w", sessionID, err)
	}
	return collectEntries(rows)
}

// Touch increments access_count for ids within the session.
func (s *ContextStore) Touch(ctx context.Context, sessionID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE context_entries SET access_count = access_count + 1 WHERE session_id = $1 AND id = ANY($2)`,
		sessionID, ids)
	if err != nil {
		return fmt.Errorf("touch context entries: %w", err)
	}
	return nil
}

// PutMemory upserts m. On conflict the rules of aocontext.Memory.Merge
// apply in SQL.
func (s *ContextStore) PutMemory(ctx context.Context, m *aocontext.Memory) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO context_memories (`+memoryColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		   frequency      = context_memories.frequency + EXCLUDED.frequency,
		   strength       = GREATEST(context_memories.strength, EXCLUDED.strength),
		   agent_id       = CASE WHEN EXCLUDED.last_seen > context_memories.last_seen THEN EXCLUDED.agent_id ELSE context_memories.agent_id END,
		   source_session = CASE WHEN EXCLUDED.last_seen > context_memories.last_seen THEN EXCLUDED.source_session ELSE context_memories.source_session END,
		   task_id        = CASE WHEN EXCLUDED.last_seen > context_memories.last_seen THEN EXCLUDED.task_id ELSE context_memories.task_id END,
		   last_seen      = GREATEST(context_memories.last_seen, EXCLUDED.last_seen)`,
		m.ID, m.AgentID, m.Summary, m.SourceSession, m.TaskID, m.Strength, m.Frequency, m.CreatedAt, m.LastSeen)
	if err != nil {
		return fmt.Errorf("upsert memory %s: %w", m.ID, err)
	}
	return nil
}

// ListMemories returns the strongest memories first.
func (s *ContextStore) ListMemories(ctx context.Context, limit int) ([]aocontext.Memory, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+memoryColumns+` FROM context_memories ORDER BY strength DESC, id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()
	var out []aocontext.Memory
	for rows.Next() {
		var m aocontext.Memory
		if err := rows.Scan(&m.ID, &m.AgentID, &m.Summary, &m.SourceSession, &m.TaskID,
			&m.Strength, &m.Frequency, &m.CreatedAt, &m.LastSeen); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}
	return out, nil
}

// DeleteBefore removes entries created before cutoff.
func (s *ContextStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM context_entries WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete context entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Count returns the number of stored entries.
func (s *ContextStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM context_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count context entries: %w", err)
	}
	return n, nil
}

// Ping checks the connection pool.
func (s *ContextStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// scannable abstracts pgx.Row and pgx.Rows for shared scan helpers.
type scannable interface {
	Scan(dest ...any) error
}

func scanEntry(row scannable) (aocontext.Entry, error) {
	var e aocontext.Entry
	err := row.Scan(&e.ID, &e.SessionID, &e.TaskID, &e.AgentID, &e.Summary, &e.ReferenceKey, &e.Importance, &e.AccessCount, &e.CreatedAt)
	return e, err
}

func collectEntries(rows pgx.Rows) ([]aocontext.Entry, error) {
	defer rows.Close()
	var out []aocontext.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan context entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate context entries: %w", err)
	}
	return out, nil
}
