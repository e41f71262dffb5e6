// Package event defines the lifecycle events emitted by the orchestrator.
package event

import "time"

// Name identifies the kind of event.
type Name string

const (
	SystemStarted         Name = "system_started"
	SystemStopped         Name = "system_stopped"
	SessionCreated        Name = "session_created"
	SessionClosed         Name = "session_closed"
	TaskStarted           Name = "task_started"
	TaskCompleted         Name = "task_completed"
	TaskFailed            Name = "task_failed"
	OptimizationForced    Name = "optimization_forced"
	OptimizationCompleted Name = "optimization_completed"
	PatternsAnalyzed      Name = "patterns_analyzed"
	HealthDegraded        Name = "health_degraded"
	RecoveryPerformed     Name = "recovery_performed"
	AgentDeactivated      Name = "agent_deactivated"
	AgentReactivated      Name = "agent_reactivated"
	ContextCleaned        Name = "context_cleaned"
	ContextConsolidated   Name = "context_consolidated"
)

// All lists every event name, in emission-order groups.
var All = []Name{
	SystemStarted, SystemStopped,
	SessionCreated, SessionClosed,
	TaskStarted, TaskCompleted, TaskFailed,
	OptimizationForced, OptimizationCompleted, PatternsAnalyzed,
	HealthDegraded, RecoveryPerformed, AgentDeactivated, AgentReactivated,
	ContextCleaned, ContextConsolidated,
}

// Event is a single notification delivered to registered handlers.
type Event struct {
	Name      Name           `json:"name"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
