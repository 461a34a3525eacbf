package cache_test

import (
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/fatura-engine/internal/infra/cache"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestCache_SetAndGet(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	c.Set("card-1|2026-01-15", "result")
	val, ok := c.Get("card-1|2026-01-15")
	if !ok {
		t.Fatal("expected key to exist")
	}
	if val != "result" {
		t.Errorf("expected 'result', got '%s'", val)
	}
}

func TestCache_GetMiss(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	if _, ok := c.Get("nonexistent"); ok {
		t.Fatal("expected cache miss for nonexistent key")
	}
}

func TestCache_Expiration(t *testing.T) {
	clk := &clock{t: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
	c := cache.New[int](time.Minute).WithClock(clk.now)
	defer c.Close()

	c.Set("k", 1)
	clk.advance(59 * time.Second)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("entry expired too early")
	}
	clk.advance(time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected cache entry to be expired")
	}
}

func TestCache_DeletePrefix(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	c.Set("card-1|2026-01-15", "a")
	c.Set("card-1|2026-01-16", "b")
	c.Set("card-2|2026-01-15", "c")

	if n := c.DeletePrefix("card-1|"); n != 2 {
		t.Errorf("deleted %d, want 2", n)
	}
	if _, ok := c.Get("card-2|2026-01-15"); !ok {
		t.Error("other card evicted")
	}
	c.Delete("card-2|2026-01-15")
	if c.Len() != 0 {
		t.Errorf("len = %d", c.Len())
	}
}

func TestCache_ZeroTTLDisables(t *testing.T) {
	c := cache.New[string](0)
	defer c.Close()

	c.Set("k", "v")
	if _, ok := c.Get("k"); ok {
		t.Error("zero ttl cache should not store")
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := cache.New[int](5 * time.Minute)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Set("k", i)
			c.Get("k")
		}(i)
	}
	wg.Wait()

	if _, ok := c.Get("k"); !ok {
		t.Error("expected key after concurrent writes")
	}
}

func TestCache_CloseIsIdempotent(t *testing.T) {
	c := cache.New[int](time.Millisecond)
	c.Close()
	c.Close()
}
