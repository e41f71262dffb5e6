package memstore_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/agentopt/internal/adapter/memstore"
	aocontext "github.com/Strob0t/agentopt/internal/domain/context"
	"github.com/Strob0t/agentopt/internal/port/contextstore/storetest"
)

func TestContextStoreCompliance(t *testing.T) {
	storetest.Run(t, memstore.NewContextStore())
}

func TestContextStoreConcurrentAppend(t *testing.T) {
	s := memstore.NewContextStore()
	ctx := context.Background()
	now := time.Now()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := range 25 {
				_ = s.Append(ctx, &aocontext.Entry{
					ID:        fmt.Sprintf("%d-%d", i, j),
					SessionID: fmt.Sprintf("s%d", i%4),
					CreatedAt: now.Add(time.Duration(j) * time.Millisecond),
				})
			}
		}(i)
	}
	wg.Wait()

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 500 {
		t.Fatalf("expected 500 entries, got %d", n)
	}
	entries, _ := s.ListSession(ctx, "s0")
	for i := 1; i < len(entries); i++ {
		if entries[i].CreatedAt.Before(entries[i-1].CreatedAt) {
			t.Fatal("session entries out of order")
		}
	}
}

func TestAppendCancelledContext(t *testing.T) {
	s := memstore.NewContextStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Append(ctx, &aocontext.Entry{ID: "x", SessionID: "s"}); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}
