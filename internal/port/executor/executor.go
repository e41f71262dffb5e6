// Package executor defines the port through which tasks reach an agent.
package executor

import (
	"context"

	"github.com/Strob0t/agentopt/internal/domain/task"
)

// Result is what an agent produced for a task.
type Result struct {
	Output string `json:"output"`
	// Quality in [0,1]; zero means the executor did not score its own work.
	Quality  float64        `json:"quality,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Executor runs a task. Implementations must be safe for concurrent use
// and should return promptly once ctx is cancelled.
type Executor interface {
	Execute(ctx context.Context, t task.Task) (Result, error)
}

// Func adapts a function to Executor.
type Func func(ctx context.Context, t task.Task) (Result, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context, t task.Task) (Result, error) { return f(ctx, t) }
