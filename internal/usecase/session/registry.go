// Package session keeps long-lived per-client objects (search streams, pagination views)
// addressable by id and reaps the idle ones.
package session

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/streetdex/internal/domain"
)

type slot[T io.Closer] struct {
	value    T
	lastUsed time.Time
}

// Registry maps uuid ids to values. Values are closed when removed or reaped.
type Registry[T io.Closer] struct {
	name   string
	idle   time.Duration
	now    func() time.Time
	logger *zap.Logger

	mu    sync.Mutex
	slots map[string]*slot[T]
}

// New creates a registry. idle <= 0 disables reaping.
func New[T io.Closer](name string, idle time.Duration, logger *zap.Logger) *Registry[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry[T]{
		name:   name,
		idle:   idle,
		now:    time.Now,
		logger: logger,
		slots:  make(map[string]*slot[T]),
	}
}

// WithClock overrides the time source.
func (r *Registry[T]) WithClock(now func() time.Time) *Registry[T] {
	r.now = now
	return r
}

// Add stores v under a fresh id.
func (r *Registry[T]) Add(v T) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.slots[id] = &slot[T]{value: v, lastUsed: r.now()}
	r.mu.Unlock()
	return id
}

// Get returns the value for id and marks it as used.
func (r *Registry[T]) Get(id string) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s %q: %w", r.name, id, domain.ErrNotFound)
	}
	s.lastUsed = r.now()
	return s.value, nil
}

// Remove closes and forgets id.
func (r *Registry[T]) Remove(id string) error {
	r.mu.Lock()
	s, ok := r.slots[id]
	delete(r.slots, id)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s %q: %w", r.name, id, domain.ErrNotFound)
	}
	if err := s.value.Close(); err != nil {
		return fmt.Errorf("close %s %q: %w", r.name, id, err)
	}
	return nil
}

// Len returns the number of live entries.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

// Reap closes entries unused for longer than the idle timeout and returns how many.
func (r *Registry[T]) Reap() int {
	if r.idle <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.idle)

	r.mu.Lock()
	var stale []T
	for id, s := range r.slots {
		if s.lastUsed.Before(cutoff) {
			stale = append(stale, s.value)
			delete(r.slots, id)
		}
	}
	r.mu.Unlock()

	for _, v := range stale {
		_ = v.Close()
	}
	return len(stale)
}

// Run reaps every interval until ctx is done, then closes everything left.
func (r *Registry[T]) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = r.idle / 2
	}
	if interval <= 0 {
		<-ctx.Done()
		r.CloseAll()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.CloseAll()
			return
		case <-ticker.C:
			if n := r.Reap(); n > 0 {
				r.logger.Info("Reaped idle entries", zap.String("registry", r.name), zap.Int("count", n))
			}
		}
	}
}

// CloseAll closes and forgets every entry.
func (r *Registry[T]) CloseAll() {
	r.mu.Lock()
	slots := r.slots
	r.slots = make(map[string]*slot[T])
	r.mu.Unlock()

	for _, s := range slots {
		_ = s.value.Close()
	}
}
