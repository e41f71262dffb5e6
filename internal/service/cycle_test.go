package service_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Strob0t/agentopt/internal/service"
)

func TestCycle_TickSkippedWhileRunActive(t *testing.T) {
	var ticks atomic.Int32
	c := service.NewCycle("test", time.Hour, func(context.Context) error {
		ticks.Add(1)
		return nil
	}, nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- c.Run(context.Background(), func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	if c.Tick(context.Background()) {
		t.Fatal("tick should be skipped while a run is active")
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !c.Tick(context.Background()) {
		t.Fatal("tick should run once the guard is free")
	}
	if ticks.Load() != 1 {
		t.Fatalf("expected 1 tick run, got %d", ticks.Load())
	}

	s := c.Stats()
	if s.Skipped != 1 || s.Runs != 2 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestCycle_RunWaitsForActiveRun(t *testing.T) {
	c := service.NewCycle("test", time.Hour, func(context.Context) error { return nil }, nil)

	var active, overlaps atomic.Int32
	fn := func(context.Context) error {
		if active.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return nil
	}

	errs := make(chan error, 4)
	for range 4 {
		go func() { errs <- c.Run(context.Background(), fn) }()
	}
	for range 4 {
		if err := <-errs; err != nil {
			t.Fatalf("Run: %v", err)
		}
	}
	if overlaps.Load() != 0 {
		t.Fatalf("runs overlapped %d times", overlaps.Load())
	}
}

func TestCycle_RunCancelled(t *testing.T) {
	c := service.NewCycle("test", time.Hour, nil, nil)
	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = c.Run(context.Background(), func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Run(ctx, func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestCycle_StartStop(t *testing.T) {
	var runs atomic.Int32
	c := service.NewCycle("test", 5*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	}, nil)

	c.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	c.Stop()

	if runs.Load() < 2 {
		t.Fatalf("expected at least 2 runs, got %d", runs.Load())
	}
	after := runs.Load()
	time.Sleep(20 * time.Millisecond)
	if runs.Load() != after {
		t.Fatal("cycle kept running after Stop")
	}
	if c.Stats().Running {
		t.Fatal("stats should report stopped")
	}
	c.Stop() // second Stop is a no-op
}
