package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClock lets tests move time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestGetSet(t *testing.T) {
	c := New()

	if _, ok := c.Get("missing"); ok {
		t.Error("missing key reported present")
	}

	c.Set("k", 42)
	v, ok := c.Get("k")
	if !ok || v != 42 {
		t.Errorf("get: got %v %v, want 42 true", v, ok)
	}
	if !c.Has("k") {
		t.Error("Has returned false for live key")
	}

	c.Set("k", "replaced")
	if v, _ := c.Get("k"); v != "replaced" {
		t.Errorf("overwrite: got %v", v)
	}
}

func TestExpiry(t *testing.T) {
	clock := newFakeClock()
	c := New(WithTTL(time.Minute), withClock(clock.Now))

	c.Set("k", "v")
	clock.Advance(59 * time.Second)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("entry expired early")
	}

	clock.Advance(2 * time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatal("entry readable past its TTL")
	}
	// the expired read removed it physically
	if c.Len() != 0 {
		t.Errorf("expired entry not removed on read: len=%d", c.Len())
	}
}

func TestPerEntryTTL(t *testing.T) {
	clock := newFakeClock()
	c := New(WithTTL(time.Minute), withClock(clock.Now))

	c.Set("short", "v", 10*time.Second)
	c.Set("long", "v")

	clock.Advance(30 * time.Second)
	if _, ok := c.Get("short"); ok {
		t.Error("short-TTL entry outlived its override")
	}
	if _, ok := c.Get("long"); !ok {
		t.Error("default-TTL entry expired early")
	}
}

func TestEvictsOldestAtCapacity(t *testing.T) {
	clock := newFakeClock()
	c := New(WithMaxSize(3), withClock(clock.Now))

	for i := 0; i < 3; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
		clock.Advance(time.Second)
	}

	// a fourth insert evicts k0, the oldest by insertion time
	c.Set("k3", 3)
	if c.Len() != 3 {
		t.Errorf("len: got %d, want 3", c.Len())
	}
	if _, ok := c.Get("k0"); ok {
		t.Error("oldest entry survived eviction")
	}
	if _, ok := c.Get("k3"); !ok {
		t.Error("new entry missing after eviction")
	}

	// overwriting an existing key at capacity must not evict anything
	c.Set("k1", "new")
	if _, ok := c.Get("k2"); !ok {
		t.Error("overwrite evicted a neighbor")
	}
}

func TestDeletePattern(t *testing.T) {
	c := New()
	c.Set("reports:t1:daily", 1)
	c.Set("reports:t1:weekly", 2)
	c.Set("reports:t2:daily", 3)
	c.Set("other", 4)

	n := c.DeletePattern("reports:t1:*")
	if n != 2 {
		t.Errorf("deleted %d, want 2", n)
	}
	if c.Has("reports:t1:daily") || c.Has("reports:t1:weekly") {
		t.Error("matched keys survived")
	}
	if !c.Has("reports:t2:daily") || !c.Has("other") {
		t.Error("unmatched keys deleted")
	}
}

func TestCleanup(t *testing.T) {
	clock := newFakeClock()
	c := New(WithTTL(time.Minute), withClock(clock.Now))

	c.Set("a", 1)
	c.Set("b", 2)
	clock.Advance(30 * time.Second)
	c.Set("c", 3)
	clock.Advance(45 * time.Second)

	n := c.Cleanup()
	if n != 2 {
		t.Errorf("cleaned %d, want 2", n)
	}
	if c.Len() != 1 || !c.Has("c") {
		t.Errorf("survivors: len=%d", c.Len())
	}
}

func TestStartSweeper(t *testing.T) {
	clock := newFakeClock()
	c := New(WithTTL(time.Minute), withClock(clock.Now))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.Set("k", "v")
	clock.Advance(2 * time.Minute)
	c.StartSweeper(ctx, time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for c.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("sweeper left %d entries", c.Len())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestClear(t *testing.T) {
	c := New()
	c.Set("a", 1)
	c.Set("b", 2)
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("len after clear: %d", c.Len())
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New(WithMaxSize(100))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("k%d", j%50)
				c.Set(key, n)
				c.Get(key)
				if j%10 == 0 {
					c.Delete(key)
				}
			}
		}(i)
	}
	wg.Wait()
}
