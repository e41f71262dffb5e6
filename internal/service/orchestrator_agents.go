package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Strob0t/agentopt/internal/domain"
	"github.com/Strob0t/agentopt/internal/domain/agent"
	"github.com/Strob0t/agentopt/internal/domain/event"
	"github.com/Strob0t/agentopt/internal/domain/task"
	"github.com/Strob0t/agentopt/internal/port/executor"
	"github.com/Strob0t/agentopt/internal/resilience"
)

type agentEntry struct {
	profile agent.Profile
	exec    executor.Executor
	breaker *resilience.Breaker
}

// RegisterAgent adds an executor under p.ID. The agent named by the
// default_agent setting, or else the first one registered, serves tasks
// that do not ask for optimization.
func (o *Orchestrator) RegisterAgent(p agent.Profile, exec executor.Executor) error {
	if p.ID == "" {
		return errors.New("register agent: id is required")
	}
	if exec == nil {
		return fmt.Errorf("register agent %s: executor is required", p.ID)
	}

	o.agentsMu.Lock()
	defer o.agentsMu.Unlock()
	if _, ok := o.agents[p.ID]; ok {
		return fmt.Errorf("register agent %s: %w", p.ID, domain.ErrConflict)
	}
	p.Active = true
	p.DeactivatedAt = nil
	p.DeactivationReason = ""
	o.agents[p.ID] = &agentEntry{
		profile: p,
		exec:    exec,
		breaker: resilience.NewBreaker(o.breakerCfg.MaxFailures, o.breakerCfg.Timeout),
	}
	o.order = append(o.order, p.ID)
	o.metrics.Register(p.ID)

	slog.Info("agent registered", "agent_id", p.ID, "capabilities", p.Capabilities)
	return nil
}

// Agents returns all registered profiles in registration order.
func (o *Orchestrator) Agents() []agent.Profile {
	o.agentsMu.RLock()
	defer o.agentsMu.RUnlock()
	out := make([]agent.Profile, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, o.agents[id].profile)
	}
	return out
}

// ActiveAgents returns the IDs of active agents in registration order.
func (o *Orchestrator) ActiveAgents() []string {
	o.agentsMu.RLock()
	defer o.agentsMu.RUnlock()
	return o.activeLocked()
}

func (o *Orchestrator) activeLocked() []string {
	out := make([]string, 0, len(o.order))
	for _, id := range o.order {
		if o.agents[id].profile.Active {
			out = append(out, id)
		}
	}
	return out
}

// DeactivatedAgents returns when each inactive agent was deactivated.
func (o *Orchestrator) DeactivatedAgents() map[string]time.Time {
	o.agentsMu.RLock()
	defer o.agentsMu.RUnlock()
	out := make(map[string]time.Time)
	for id, a := range o.agents {
		if !a.profile.Active && a.profile.DeactivatedAt != nil {
			out[id] = *a.profile.DeactivatedAt
		}
	}
	return out
}

// BreakerStates returns the circuit breaker state of every agent.
func (o *Orchestrator) BreakerStates() map[string]resilience.State {
	o.agentsMu.RLock()
	defer o.agentsMu.RUnlock()
	out := make(map[string]resilience.State, len(o.agents))
	for id, a := range o.agents {
		out[id] = a.breaker.State()
	}
	return out
}

// DeactivateAgent stops routing tasks to agentID. The last active agent
// cannot be deactivated.
func (o *Orchestrator) DeactivateAgent(ctx context.Context, agentID, reason string) error {
	o.agentsMu.Lock()
	a, ok := o.agents[agentID]
	if !ok {
		o.agentsMu.Unlock()
		return fmt.Errorf("deactivate agent %s: %w", agentID, domain.ErrNotFound)
	}
	if !a.profile.Active {
		o.agentsMu.Unlock()
		return nil
	}
	if len(o.activeLocked()) <= 1 {
		o.agentsMu.Unlock()
		return fmt.Errorf("deactivate agent %s: last active agent: %w", agentID, domain.ErrConflict)
	}
	now := o.now()
	a.profile.Active = false
	a.profile.DeactivatedAt = &now
	a.profile.DeactivationReason = reason
	o.agentsMu.Unlock()

	o.learning.Deactivate(agentID, reason)
	slog.Warn("agent deactivated", "agent_id", agentID, "reason", reason)
	o.bus.Emit(ctx, event.AgentDeactivated, map[string]any{"agent_id": agentID, "reason": reason})
	return nil
}

// ReactivateAgent returns agentID to service and closes its breaker.
func (o *Orchestrator) ReactivateAgent(ctx context.Context, agentID string) error {
	o.agentsMu.Lock()
	a, ok := o.agents[agentID]
	if !ok {
		o.agentsMu.Unlock()
		return fmt.Errorf("reactivate agent %s: %w", agentID, domain.ErrNotFound)
	}
	if a.profile.Active {
		o.agentsMu.Unlock()
		return nil
	}
	a.profile.Active = true
	a.profile.DeactivatedAt = nil
	a.profile.DeactivationReason = ""
	a.breaker.Reset()
	o.agentsMu.Unlock()

	o.learning.Reactivate(agentID)
	slog.Info("agent reactivated", "agent_id", agentID)
	o.bus.Emit(ctx, event.AgentReactivated, map[string]any{"agent_id": agentID})
	return nil
}

// selectAgent picks the agent for t. Optimized tasks follow the learning
// engine's ranking with agents avoided by the optimizer policy moved last,
// or round-robin when nothing has been learned. Other tasks go to the
// default agent.
func (o *Orchestrator) selectAgent(ctx context.Context, t *task.Task) (string, *agentEntry) {
	var ranked []string
	if t.UseOptimization {
		ranked = o.learning.Recommend(ctx, t.Description, t.Requirements)
	}
	policy := o.optimizer.Policy()

	o.agentsMu.RLock()
	defer o.agentsMu.RUnlock()
	active := o.activeLocked()
	if len(active) == 0 {
		return "", nil
	}

	if !t.UseOptimization {
		id := o.defaultLocked(active)
		return id, o.agents[id]
	}

	candidates := make([]string, 0, len(ranked))
	for _, id := range ranked {
		if a, ok := o.agents[id]; ok && a.profile.Active {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		n := o.rr.Add(1) - 1
		start := int(n % uint64(len(active)))
		for i := range active {
			candidates = append(candidates, active[(start+i)%len(active)])
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return !policy.Avoids(candidates[i]) && policy.Avoids(candidates[j])
	})
	id := candidates[0]
	return id, o.agents[id]
}

func (o *Orchestrator) defaultLocked(active []string) string {
	if id := o.cfg.DefaultAgent; id != "" {
		if a, ok := o.agents[id]; ok && a.profile.Active {
			return id
		}
	}
	return active[0]
}
