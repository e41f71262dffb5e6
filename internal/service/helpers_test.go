package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/agentopt/internal/adapter/memstore"
	"github.com/Strob0t/agentopt/internal/config"
	aocontext "github.com/Strob0t/agentopt/internal/domain/context"
	"github.com/Strob0t/agentopt/internal/domain/task"
	"github.com/Strob0t/agentopt/internal/port/executor"
	"github.com/Strob0t/agentopt/internal/service"
)

// testConfig returns defaults with background cycles disabled so tests
// drive every cycle explicitly.
func testConfig() config.Optimization {
	cfg := config.DefaultOptimization()
	cfg.PerformanceMonitoringEnabled = false
	cfg.HealthMonitoringEnabled = false
	cfg.AutoContextCleanup = false
	cfg.LearningEnabled = true
	cfg.PatternAnalysisInterval = time.Hour
	cfg.ShutdownGracePeriod = time.Second
	return cfg
}

func testBreaker() config.Breaker {
	return config.Breaker{MaxFailures: 100, Timeout: time.Minute}
}

func newOrchestrator(cfg config.Optimization) *service.Orchestrator {
	return service.NewOrchestrator(cfg, testBreaker(), service.Deps{Store: memstore.NewContextStore()})
}

var errAgent = errors.New("agent failed")

func okExecutor(output string) executor.Executor {
	return executor.Func(func(context.Context, task.Task) (executor.Result, error) {
		return executor.Result{Output: output, Quality: 0.9}, nil
	})
}

func failExecutor() executor.Executor {
	return executor.Func(func(context.Context, task.Task) (executor.Result, error) {
		return executor.Result{}, errAgent
	})
}

// scriptedExecutor fails the calls whose index is in fail.
type scriptedExecutor struct {
	mu    sync.Mutex
	calls int
	fail  map[int]bool
}

func (s *scriptedExecutor) Execute(context.Context, task.Task) (executor.Result, error) {
	s.mu.Lock()
	i := s.calls
	s.calls++
	s.mu.Unlock()
	if s.fail[i] {
		return executor.Result{}, errAgent
	}
	return executor.Result{Output: "ok"}, nil
}

// blockingExecutor ignores cancellation and only returns once released.
type blockingExecutor struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingExecutor(t *testing.T) *blockingExecutor {
	b := &blockingExecutor{started: make(chan struct{}), release: make(chan struct{})}
	t.Cleanup(func() { close(b.release) })
	return b
}

func (b *blockingExecutor) Execute(context.Context, task.Task) (executor.Result, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return executor.Result{Output: "late"}, nil
}

// memCache is an in-memory cache.Cache counting hits.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	hits int
}

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if ok {
		c.hits++
	}
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// brokenStore is a context store whose writes and pings fail.
type brokenStore struct {
	*memstore.ContextStore
	pingErr error
}

var errStore = errors.New("store unavailable")

func (b *brokenStore) Append(context.Context, *aocontext.Entry) error { return errStore }

func (b *brokenStore) Ping(context.Context) error { return b.pingErr }
