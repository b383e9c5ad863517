package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kailas-cloud/streetdex/internal/domain"
)

type closer struct {
	mu     sync.Mutex
	closed int
}

func (c *closer) Close() error {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
	return nil
}

func (c *closer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestRegistry_AddGetRemove(t *testing.T) {
	r := New[*closer]("session", time.Minute, nil)
	c := &closer{}

	id := r.Add(c)
	if id == "" {
		t.Fatal("expected id")
	}
	got, err := r.Get(id)
	if err != nil || got != c {
		t.Fatalf("expected stored value, got %v (%v)", got, err)
	}

	if err := r.Remove(id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if c.count() != 1 {
		t.Errorf("expected value closed once, got %d", c.count())
	}
	if _, err := r.Get(id); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound after remove, got %v", err)
	}
	if err := r.Remove(id); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound on double remove, got %v", err)
	}
}

func TestRegistry_IDsAreUnique(t *testing.T) {
	r := New[*closer]("view", 0, nil)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := r.Add(&closer{})
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
	if r.Len() != 100 {
		t.Fatalf("expected 100 entries, got %d", r.Len())
	}
}

func TestRegistry_ReapIdle(t *testing.T) {
	clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := New[*closer]("session", 10*time.Minute, nil).WithClock(clk.Now)

	idle, busy := &closer{}, &closer{}
	r.Add(idle)
	busyID := r.Add(busy)

	clk.Advance(6 * time.Minute)
	if _, err := r.Get(busyID); err != nil {
		t.Fatal(err)
	}
	clk.Advance(6 * time.Minute)

	if n := r.Reap(); n != 1 {
		t.Fatalf("expected 1 reaped, got %d", n)
	}
	if idle.count() != 1 || busy.count() != 0 {
		t.Fatalf("expected only the idle entry closed, got idle=%d busy=%d", idle.count(), busy.count())
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 entry left, got %d", r.Len())
	}
}

func TestRegistry_ReapDisabled(t *testing.T) {
	clk := &clock{now: time.Now()}
	r := New[*closer]("session", 0, nil).WithClock(clk.Now)
	r.Add(&closer{})
	clk.Advance(24 * time.Hour)
	if n := r.Reap(); n != 0 {
		t.Fatalf("expected reaping disabled, got %d", n)
	}
}

func TestRegistry_RunClosesAllOnShutdown(t *testing.T) {
	r := New[*closer]("session", time.Hour, nil)
	a, b := &closer{}, &closer{}
	r.Add(a)
	r.Add(b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	<-done

	if a.count() != 1 || b.count() != 1 {
		t.Fatalf("expected all entries closed, got %d and %d", a.count(), b.count())
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
}
