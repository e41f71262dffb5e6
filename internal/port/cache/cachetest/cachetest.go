// Package cachetest provides a compliance suite for cache.Cache
// implementations.
package cachetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Strob0t/agentopt/internal/port/cache"
)

// Run exercises c with keys shaped like the learning engine's
// recommendation keys.
func Run(t *testing.T, c cache.Cache) {
	t.Helper()
	ctx := context.Background()
	key := func(gen int, sig string) string { return fmt.Sprintf("rec:%d:0:%s", gen, sig) }

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, key(1, "3f9a"), []byte("agent-a,agent-b"), time.Minute); err != nil {
			t.Fatal(err)
		}
		val, found, err := c.Get(ctx, key(1, "3f9a"))
		if err != nil {
			t.Fatal(err)
		}
		if !found || string(val) != "agent-a,agent-b" {
			t.Fatalf("Get = %q, %v", val, found)
		}
	})

	t.Run("GenerationsAreDistinct", func(t *testing.T) {
		_ = c.Set(ctx, key(2, "3f9a"), []byte("agent-b"), time.Minute)
		val, found, err := c.Get(ctx, key(3, "3f9a"))
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatalf("a new table generation must miss, got %q", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = c.Set(ctx, key(4, "del"), []byte("agent-a"), time.Minute)
		if err := c.Delete(ctx, key(4, "del")); err != nil {
			t.Fatal(err)
		}
		if _, found, err := c.Get(ctx, key(4, "del")); err != nil || found {
			t.Fatalf("expected miss after Delete, found=%v err=%v", found, err)
		}
	})

	t.Run("DeleteNonexistent", func(t *testing.T) {
		if err := c.Delete(ctx, key(99, "never")); err != nil {
			t.Fatalf("Delete of a missing key should not error: %v", err)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = c.Set(ctx, key(5, "ow"), []byte("v1"), time.Minute)
		_ = c.Set(ctx, key(5, "ow"), []byte("v2"), time.Minute)
		val, found, err := c.Get(ctx, key(5, "ow"))
		if err != nil {
			t.Fatal(err)
		}
		if !found || string(val) != "v2" {
			t.Fatalf("expected v2 after overwrite, got %q (found=%v)", val, found)
		}
	})
}
