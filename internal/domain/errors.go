// Package domain provides shared domain-level sentinel errors.
package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the entity already exists.
var ErrConflict = errors.New("conflict: resource already exists")

// ErrInvalidMode is returned when a session is created with an unknown progress mode.
var ErrInvalidMode = errors.New("invalid progress mode")

// ErrUnknownSession is returned when a session ID is absent or already closed.
var ErrUnknownSession = errors.New("unknown session")

// ErrConfigValidation wraps every configuration validation failure.
var ErrConfigValidation = errors.New("invalid configuration")

// ErrShutdown marks tasks that were still running when the grace period
// of a shutdown elapsed.
var ErrShutdown = errors.New("system shut down before task finished")

// ErrNoAgent is recorded on tasks submitted while no agent is active.
var ErrNoAgent = errors.New("no active agent available")

// ErrInvalidAction is returned when a manual recovery action is unknown or
// does not apply to the issue.
var ErrInvalidAction = errors.New("invalid recovery action")

// ErrAlreadyRunning is returned when Start is called twice.
var ErrAlreadyRunning = errors.New("system is already running")

// ExecutionError records why an executor failed a task. It is carried in
// the task result, never returned from ExecuteTask.
type ExecutionError struct {
	AgentID string
	Err     error
}

func (e *ExecutionError) Error() string {
	if e.AgentID == "" {
		return fmt.Sprintf("execution failed: %v", e.Err)
	}
	return fmt.Sprintf("agent %s: execution failed: %v", e.AgentID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
