package cache

import (
	"fmt"
	"sync"
	"testing"
)

func TestBoundedEvictsOldest(t *testing.T) {
	t.Parallel()

	c := NewBounded[string, int](3)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)
	c.Put("d", 4) // evicts "a"

	if _, ok := c.Get("a"); ok {
		t.Fatal("expected oldest entry to be evicted")
	}
	for _, k := range []string{"b", "c", "d"} {
		if _, ok := c.Get(k); !ok {
			t.Fatalf("expected %q to survive eviction", k)
		}
	}
	if got := c.Len(); got != 3 {
		t.Fatalf("want len 3, got %d", got)
	}
}

func TestBoundedReinsertKeepsPosition(t *testing.T) {
	t.Parallel()

	c := NewBounded[string, int](2)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("a", 10) // refresh, no eviction
	c.Put("c", 3)  // evicts "a" (still oldest)

	if _, ok := c.Get("a"); ok {
		t.Fatal("refreshed key should keep its original insertion position")
	}
	if v, ok := c.Get("b"); !ok || v != 2 {
		t.Fatalf("want b=2, got %d (present=%v)", v, ok)
	}
}

func TestBoundedClear(t *testing.T) {
	t.Parallel()

	c := NewBounded[int, string](4)
	c.Put(1, "x")
	c.Put(2, "y")
	c.Clear()

	if c.Len() != 0 {
		t.Fatalf("want empty cache after Clear, got len %d", c.Len())
	}
	c.Put(3, "z")
	if v, ok := c.Get(3); !ok || v != "z" {
		t.Fatal("cache unusable after Clear")
	}
}

func TestBoundedConcurrent(t *testing.T) {
	t.Parallel()

	c := NewBounded[string, int](64)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k%d-%d", n, j%16)
				c.Put(key, j)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()

	if c.Len() > 64 {
		t.Fatalf("cache exceeded capacity: %d", c.Len())
	}
}
