// Package task defines the Task domain entity.
package task

import (
	"fmt"
	"time"
)

// Status represents the current state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task represents a unit of work assigned to an agent.
type Task struct {
	ID              string         `json:"id"`
	SessionID       string         `json:"session_id"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	Requirements    map[string]any `json:"requirements,omitempty"`
	UseOptimization bool           `json:"use_optimization"`
	AgentID         string         `json:"agent_id,omitempty"`
	Status          Status         `json:"status"`
	Output          string         `json:"output,omitempty"`
	Quality         float64        `json:"quality"`
	Error           string         `json:"error,omitempty"`
	Err             error          `json:"-"`
	SubmittedAt     time.Time      `json:"submitted_at"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty"`
}

// Request holds the caller-supplied fields of a new task.
type Request struct {
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	Requirements    map[string]any `json:"requirements,omitempty"`
	UseOptimization bool           `json:"use_optimization"`
}

// Duration returns the execution time, or zero if the task never started
// or has not finished.
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil || t.FinishedAt == nil {
		return 0
	}
	return t.FinishedAt.Sub(*t.StartedAt)
}

// Transition moves the task forward. Allowed: pending→running,
// pending→failed, running→completed, running→failed. pending→failed is
// the path of a task that never reached an agent because none was active;
// it finishes with no StartedAt and a zero Duration.
func (t *Task) Transition(next Status, at time.Time) error {
	switch {
	case t.Status == StatusPending && next == StatusRunning:
		t.StartedAt = &at
	case t.Status == StatusPending && next == StatusFailed,
		t.Status == StatusRunning && next.Terminal():
		t.FinishedAt = &at
	default:
		return fmt.Errorf("task %s: invalid transition %s -> %s", t.ID, t.Status, next)
	}
	t.Status = next
	return nil
}

// Fail moves the task to failed and records err.
func (t *Task) Fail(err error, at time.Time) error {
	if terr := t.Transition(StatusFailed, at); terr != nil {
		return terr
	}
	t.Err = err
	if err != nil {
		t.Error = err.Error()
	}
	return nil
}

// Clone returns a copy safe to hand to another goroutine.
func (t *Task) Clone() Task {
	c := *t
	if t.Requirements != nil {
		c.Requirements = make(map[string]any, len(t.Requirements))
		for k, v := range t.Requirements {
			c.Requirements[k] = v
		}
	}
	return c
}
