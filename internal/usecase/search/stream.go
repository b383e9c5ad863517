package search

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/streetdex/internal/domain"
	"github.com/kailas-cloud/streetdex/internal/domain/match"
	"github.com/kailas-cloud/streetdex/internal/domain/query"
	"github.com/kailas-cloud/streetdex/internal/domain/street"
	"github.com/kailas-cloud/streetdex/internal/metrics"
)

// DefaultDebounce is the quiet period after the last input before a fetch is dispatched.
const DefaultDebounce = 300 * time.Millisecond

// State is a Stream's position in its lifecycle.
type State string

// Stream states.
const (
	StateIdle       State = "idle"
	StateDebouncing State = "debouncing"
	StateFetching   State = "fetching"
	StateSettled    State = "settled"
	StateCancelled  State = "cancelled"
	StateFailed     State = "failed"
)

// Input is one keystroke-level update of a search surface.
type Input struct {
	Query      string
	MaxResults int
	Category   street.Category
	Kind       Kind
}

func (in Input) request() Request {
	return Request{Query: in.Query, MaxResults: in.MaxResults, Category: in.Category}
}

// Snapshot is the observable state of a Stream.
type Snapshot struct {
	Generation uint64            `json:"generation"`
	State      State             `json:"state"`
	Query      string            `json:"query"`
	Results    []match.Candidate `json:"results"`
	Loading    bool              `json:"loading"`
	Error      *domain.Failure   `json:"error,omitempty"`
}

// Stream turns a burst of inputs into at most one fetch per quiet period.
// Every input bumps the generation; only the response of the current generation
// may change the snapshot.
type Stream struct {
	resolver *Resolver
	debounce time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	gen     uint64
	timer   *time.Timer
	cancel  context.CancelFunc
	snap    Snapshot
	subs    map[uint64]chan Snapshot
	nextSub uint64
	closed  bool
}

// NewStream creates an idle stream. debounce <= 0 falls back to DefaultDebounce.
func NewStream(resolver *Resolver, debounce time.Duration, logger *zap.Logger) *Stream {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stream{
		resolver: resolver,
		debounce: debounce,
		logger:   logger,
		snap:     Snapshot{State: StateIdle, Results: []match.Candidate{}},
		subs:     make(map[uint64]chan Snapshot),
	}
}

// Input feeds a new query. Inputs below the minimum length settle empty at once;
// anything else (re)starts the debounce timer. The previous generation's pending
// timer is stopped and its in-flight fetch cancelled.
func (s *Stream) Input(in Input) error {
	kind, err := ParseKind(string(in.Kind))
	if err != nil {
		return err
	}
	in.Kind = kind
	if err := s.resolver.Validate(in.Kind, in.request()); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("input: %w", domain.ErrClosed)
	}

	s.gen++
	gen := s.gen
	s.stopLocked()

	q := query.Normalize(in.Query)
	if q.IsEmpty() || q.Len() < s.resolver.MinChars() {
		s.snap = Snapshot{Generation: gen, State: StateSettled, Query: in.Query, Results: []match.Candidate{}}
		s.publishLocked()
		return nil
	}

	s.snap = Snapshot{
		Generation: gen,
		State:      StateDebouncing,
		Query:      in.Query,
		Results:    s.snap.Results,
		Loading:    true,
	}
	s.publishLocked()
	s.timer = time.AfterFunc(s.debounce, func() { s.dispatch(gen, in) })
	return nil
}

// Cancel abandons the current generation without a replacement input.
func (s *Stream) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.cancelLocked()
}

// Close cancels pending work and closes every subscription.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.cancelLocked()
	s.closed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	return nil
}

// Snapshot returns the current state.
func (s *Stream) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Subscribe returns a channel that always holds the latest snapshot. Slow readers
// skip intermediate states. The current snapshot is delivered immediately.
func (s *Stream) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.snap

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

// Wait blocks until the stream is not loading or ctx is done, and returns the
// snapshot seen last.
func (s *Stream) Wait(ctx context.Context) (Snapshot, error) {
	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	last := s.Snapshot()
	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case snap, ok := <-ch:
			if !ok {
				return last, fmt.Errorf("wait: %w", domain.ErrClosed)
			}
			last = snap
			if !snap.Loading {
				return snap, nil
			}
		}
	}
}

func (s *Stream) dispatch(gen uint64, in Input) {
	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.timer = nil
	s.cancel = cancel
	s.snap.State = StateFetching
	s.publishLocked()
	s.mu.Unlock()

	metrics.SearchDispatchesTotal.WithLabelValues(string(in.Kind)).Inc()
	results, err := s.resolver.Resolve(ctx, in.Kind, in.request())
	cancel()
	s.settle(gen, results, err)
}

func (s *Stream) settle(gen uint64, results []match.Candidate, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.gen {
		metrics.SearchStaleResponsesTotal.Inc()
		return
	}
	s.cancel = nil

	next := Snapshot{Generation: gen, Query: s.snap.Query, Results: []match.Candidate{}}
	switch domain.Classify(err) {
	case domain.KindNone:
		next.State = StateSettled
		if results != nil {
			next.Results = results
		}
	case domain.KindInvalidQuery:
		next.State = StateSettled
	case domain.KindCancelled:
		next.State = StateCancelled
		next.Results = s.snap.Results
	default:
		next.State = StateFailed
		next.Error = domain.NewFailure(err)
		s.logger.Info("Search failed",
			zap.Uint64("generation", gen),
			zap.String("kind", string(next.Error.Kind)),
			zap.Error(err),
		)
	}
	s.snap = next
	s.publishLocked()
}

func (s *Stream) cancelLocked() {
	s.gen++
	s.stopLocked()
	s.snap = Snapshot{
		Generation: s.gen,
		State:      StateCancelled,
		Query:      s.snap.Query,
		Results:    s.snap.Results,
	}
	s.publishLocked()
}

// stopLocked stops the pending timer and cancels the in-flight fetch.
func (s *Stream) stopLocked() {
	if s.timer != nil {
		if s.timer.Stop() {
			metrics.SearchCoalescedTotal.Inc()
		}
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// publishLocked offers the snapshot to every subscriber, replacing an unread one.
func (s *Stream) publishLocked() {
	for _, ch := range s.subs {
		select {
		case ch <- s.snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s.snap:
		default:
		}
	}
}
