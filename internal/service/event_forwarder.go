package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Strob0t/agentopt/internal/domain/event"
	"github.com/Strob0t/agentopt/internal/port/broadcast"
	"github.com/Strob0t/agentopt/internal/port/messagequeue"
)

const publishTimeout = 2 * time.Second

// EventForwarder relays orchestrator events to the message queue and to
// connected WebSocket clients. Either target may be nil.
type EventForwarder struct {
	queue  messagequeue.Queue
	prefix string
	hub    broadcast.Broadcaster
}

// NewEventForwarder creates a forwarder publishing under prefix.events.<name>.
func NewEventForwarder(q messagequeue.Queue, prefix string, hub broadcast.Broadcaster) *EventForwarder {
	return &EventForwarder{queue: q, prefix: strings.TrimSuffix(prefix, "."), hub: hub}
}

// Subject returns the queue subject for an event name.
func (f *EventForwarder) Subject(name event.Name) string {
	return f.prefix + "." + messagequeue.SubjectEvents + "." + string(name)
}

// HandleEvent implements EventHandler.
func (f *EventForwarder) HandleEvent(ctx context.Context, e event.Event) error {
	if f.hub != nil {
		f.hub.BroadcastEvent(ctx, string(e.Name), e.Payload)
	}
	if f.queue == nil || !f.queue.IsConnected() {
		return nil
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", e.Name, err)
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	return f.queue.Publish(pctx, f.Subject(e.Name), data)
}

// ListenControl subscribes to the control subjects under prefix and runs
// forced optimizer cycles and pattern analyses on request. The returned
// function cancels both subscriptions.
func ListenControl(ctx context.Context, q messagequeue.Queue, prefix string, o *Orchestrator) (func(), error) {
	prefix = strings.TrimSuffix(prefix, ".")

	stopOpt, err := q.Subscribe(ctx, prefix+"."+messagequeue.SubjectOptimize, func(ctx context.Context, _ string, _ []byte) error {
		score, err := o.ForceOptimization(ctx)
		if err != nil {
			return err
		}
		slog.InfoContext(ctx, "optimization requested via queue", "score", score)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe optimize: %w", err)
	}

	stopAnalyze, err := q.Subscribe(ctx, prefix+"."+messagequeue.SubjectAnalyze, func(ctx context.Context, _ string, _ []byte) error {
		return o.AnalyzePatterns(ctx)
	})
	if err != nil {
		stopOpt()
		return nil, fmt.Errorf("subscribe analyze: %w", err)
	}

	return func() {
		stopOpt()
		stopAnalyze()
	}, nil
}
