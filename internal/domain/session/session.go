// Package session defines the Session domain entity.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/Strob0t/agentopt/internal/domain"
)

// Mode controls how much a session asks its caller before acting.
type Mode string

const (
	ModeAuto        Mode = "auto"
	ModeInteractive Mode = "interactive"
	ModeHybrid      Mode = "hybrid"
)

// ParseMode accepts a mode name in any case.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case ModeAuto, ModeInteractive, ModeHybrid:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", domain.ErrInvalidMode, s)
}

// Session is a logical conversation with an ordered list of tasks.
type Session struct {
	ID        string     `json:"id"`
	Mode      Mode       `json:"mode"`
	TaskIDs   []string   `json:"task_ids"`
	Closed    bool       `json:"closed"`
	CreatedAt time.Time  `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}
