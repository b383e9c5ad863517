package resultcache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kailas-cloud/streetdex/internal/domain/street"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache(t *testing.T) (*Cache[street.Record], *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	return New[street.Record](0, nil).WithClock(clk.Now), clk
}

func records(ids ...string) []street.Record {
	out := make([]street.Record, len(ids))
	for i, id := range ids {
		out[i] = street.Record{ID: id, Name: "CALLE " + id, Category: street.Street}
	}
	return out
}

func TestGet_ShortTTLExpires(t *testing.T) {
	c := New[street.Record](0, nil)
	c.PutTTL("k", records("1"), time.Millisecond)

	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Get("k"); ok {
		t.Fatal("expected expired entry to be absent")
	}
}

func TestGet_LongTTLHit(t *testing.T) {
	c := New[street.Record](0, nil)
	c.PutTTL("k", records("1", "2"), time.Hour)

	got, ok := c.Get("k")
	if !ok {
		t.Fatal("expected hit")
	}
	if len(got) != 2 || got[0].ID != "1" || got[1].ID != "2" {
		t.Fatalf("unexpected data: %+v", got)
	}
}

func TestPut_DefaultTTL(t *testing.T) {
	c, clk := newTestCache(t)
	if c.TTL() != DefaultTTL {
		t.Fatalf("expected default TTL %s, got %s", DefaultTTL, c.TTL())
	}

	c.Put("k", records("1"))
	clk.Advance(DefaultTTL - time.Second)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("expected hit just before TTL")
	}

	clk.Advance(time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatal("entry must be invalid once now-storedAt == ttl")
	}
}

func TestGet_LazilyRemovesExpired(t *testing.T) {
	c, clk := newTestCache(t)
	c.PutTTL("k", records("1"), time.Minute)
	clk.Advance(2 * time.Minute)

	if _, ok := c.Get("k"); ok {
		t.Fatal("expected miss")
	}
	if _, present := c.entries.Load("k"); present {
		t.Fatal("expected expired entry to be removed on read")
	}
}

func TestPut_Overwrites(t *testing.T) {
	c, _ := newTestCache(t)
	c.Put("k", records("1"))
	c.Put("k", records("2", "3"))

	got, ok := c.Get("k")
	if !ok || len(got) != 2 || got[0].ID != "2" {
		t.Fatalf("expected last write to win, got %+v", got)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	c, _ := newTestCache(t)
	c.Put("k", records("1"))

	got, _ := c.Get("k")
	got[0].Name = "MUTATED"

	again, _ := c.Get("k")
	if again[0].Name == "MUTATED" {
		t.Fatal("cache data must not alias caller slices")
	}
}

func TestInvalidateExpired(t *testing.T) {
	c, clk := newTestCache(t)
	c.PutTTL("short-1", records("1"), time.Minute)
	c.PutTTL("short-2", records("2"), time.Minute)
	c.PutTTL("long", records("3"), time.Hour)

	clk.Advance(5 * time.Minute)

	if n := c.InvalidateExpired(); n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	if n := c.InvalidateExpired(); n != 0 {
		t.Fatalf("expected 0 removed on second sweep, got %d", n)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 entry left, got %d", c.Len())
	}
}

func TestLen_IgnoresExpired(t *testing.T) {
	c, clk := newTestCache(t)
	c.PutTTL("a", records("1"), time.Minute)
	c.PutTTL("b", records("2"), time.Hour)
	clk.Advance(2 * time.Minute)

	if c.Len() != 1 {
		t.Fatalf("expected 1 valid entry, got %d", c.Len())
	}
}

func TestClear(t *testing.T) {
	c, _ := newTestCache(t)
	c.Put("a", records("1"))
	c.Put("b", records("2"))
	c.Clear()

	if c.Len() != 0 {
		t.Fatalf("expected empty cache, got %d", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected miss after clear")
	}
}

func TestLRUPolicy_EvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestCache(t)
	c.WithPolicy(NewLRU(2))

	c.Put("a", records("1"))
	c.Put("b", records("2"))
	c.Get("a") // a is now most recent
	c.Put("c", records("3"))

	if _, ok := c.Get("b"); ok {
		t.Fatal("expected b to be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a to survive")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatal("expected c to survive")
	}
}

func TestLRUPolicy_ClearResets(t *testing.T) {
	lru := NewLRU(3)
	c, _ := newTestCache(t)
	c.WithPolicy(lru)

	c.Put("a", records("1"))
	c.Put("b", records("2"))
	c.Clear()

	if lru.Len() != 0 {
		t.Fatalf("expected policy reset, got %d keys", lru.Len())
	}
}

func TestMetrics_HitMiss(t *testing.T) {
	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_lookups"}, []string{"result"})
	evictions := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_evictions"}, []string{"reason"})
	c, clk := newTestCache(t)
	c.WithMetrics(lookups, evictions)

	c.Get("missing")
	c.Put("k", records("1"))
	c.Get("k")
	c.Get("k")
	clk.Advance(time.Hour)
	c.Get("k")

	if v := testutil.ToFloat64(lookups.WithLabelValues("hit")); v != 2 {
		t.Errorf("expected 2 hits, got %f", v)
	}
	if v := testutil.ToFloat64(lookups.WithLabelValues("miss")); v != 2 {
		t.Errorf("expected 2 misses, got %f", v)
	}
	if v := testutil.ToFloat64(evictions.WithLabelValues("expired")); v != 1 {
		t.Errorf("expected 1 expired eviction, got %f", v)
	}
}

func TestRun_SweepsUntilCancelled(t *testing.T) {
	c := New[street.Record](0, nil)
	c.PutTTL("k", records("1"), time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, 2*time.Millisecond)
		close(done)
	}()

	deadline := time.After(time.Second)
	for {
		if _, present := c.entries.Load("k"); !present {
			break
		}
		select {
		case <-deadline:
			t.Fatal("janitor did not sweep expired entry")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestConcurrentAccess(t *testing.T) {
	c, _ := newTestCache(t)
	c.WithPolicy(NewLRU(50))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (w*31+i)%80)
				if i%3 == 0 {
					c.Put(key, records(key))
				} else {
					c.Get(key)
				}
			}
		}(w)
	}
	wg.Wait()

	if c.Len() > 50 {
		t.Fatalf("expected at most 50 entries, got %d", c.Len())
	}
}

func TestKey_Deterministic(t *testing.T) {
	a := Key(KindStreets, "av corrientes", 10, street.Avenue)
	b := Key(KindStreets, "av corrientes", 10, street.Avenue)
	if a != b {
		t.Fatalf("expected equal keys, got %q and %q", a, b)
	}

	distinct := []string{
		Key(KindAddresses, "av corrientes", 10, street.Avenue),
		Key(KindStreets, "av corrientes", 20, street.Avenue),
		Key(KindStreets, "av corrientes", 10, ""),
		Key(KindStreets, "corrientes", 10, street.Avenue),
	}
	for _, k := range distinct {
		if k == a {
			t.Errorf("expected %q to differ from %q", k, a)
		}
	}
}

func TestLRUPolicy_ExpiryUnderContentionForgetsKey(t *testing.T) {
	lru := NewLRU(2)
	c, clk := newTestCache(t)
	c.WithPolicy(lru)

	c.PutTTL("a", records("1"), time.Second)
	clk.Advance(time.Minute)

	// Hold the policy lock so the expiring Get has to wait for it.
	c.mu.Lock()
	done := make(chan struct{})
	go func() {
		if _, ok := c.Get("a"); ok {
			t.Error("expected expired entry to miss")
		}
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	c.mu.Unlock()
	<-done

	if lru.Len() != 0 {
		t.Fatalf("expected expired key to leave the policy, got %d keys", lru.Len())
	}

	c.Put("b", records("2"))
	c.Put("c", records("3"))
	if c.Len() != 2 || lru.Len() != 2 {
		t.Fatalf("expected two live entries, got cache=%d policy=%d", c.Len(), lru.Len())
	}
}

func TestLRUPolicy_CapacityEvictionCountsLiveEntriesOnly(t *testing.T) {
	evictions := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_capacity_evictions"}, []string{"reason"})
	c, clk := newTestCache(t)
	c.WithPolicy(NewLRU(1)).WithMetrics(nil, evictions)

	c.PutTTL("a", records("1"), time.Second)
	clk.Advance(time.Minute)
	c.InvalidateExpired()
	c.Put("b", records("2"))
	c.Put("c", records("3"))

	if v := testutil.ToFloat64(evictions.WithLabelValues("capacity")); v != 1 {
		t.Errorf("expected 1 capacity eviction, got %f", v)
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected newest entry to survive")
	}
}

func TestConcurrentPut_PolicyTracksEveryStoredKey(t *testing.T) {
	lru := NewLRU(5)
	c, _ := newTestCache(t)
	c.WithPolicy(lru)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 300; i++ {
				c.Put(fmt.Sprintf("k%d", (w+i)%12), records("x"))
			}
		}(w)
	}
	wg.Wait()

	held := 0
	c.entries.Range(func(k, _ any) bool {
		held++
		if _, tracked := lru.index[k.(string)]; !tracked {
			t.Errorf("stored key %v is not tracked by the policy", k)
		}
		return true
	})
	if held != lru.Len() || held > 5 {
		t.Fatalf("expected entries and policy to agree within capacity, got entries=%d policy=%d", held, lru.Len())
	}
}
