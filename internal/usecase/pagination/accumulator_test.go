package pagination

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/kailas-cloud/streetdex/internal/domain"
	"github.com/kailas-cloud/streetdex/internal/domain/street"
)

// listing serves a fixed universe of total records, filtered by category.
type listing struct {
	mu     sync.Mutex
	total  int
	calls  []street.ListParams
	err    error
	gate   chan struct{}
	called chan struct{}
}

func newListing(total int) *listing {
	return &listing{total: total, called: make(chan struct{}, 16)}
}

func (l *listing) ListStreets(_ context.Context, p street.ListParams) (street.Page, error) {
	l.mu.Lock()
	l.calls = append(l.calls, p)
	gate, err, total := l.gate, l.err, l.total
	l.mu.Unlock()

	select {
	case l.called <- struct{}{}:
	default:
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return street.Page{}, err
	}

	if p.Category == street.Avenue {
		total /= 2
	}
	var records []street.Record
	for i := p.Offset; i < total && i < p.Offset+p.Limit; i++ {
		records = append(records, street.Record{
			ID:       fmt.Sprintf("%s-%03d", p.Category, i),
			Name:     fmt.Sprintf("CALLE %03d", i),
			Category: street.Street,
		})
	}
	return street.Page{Records: records, Total: total}, nil
}

func (l *listing) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

func TestAccumulator_AppendUntilExhausted(t *testing.T) {
	l := newListing(120)
	a := New(l, 50, Filters{}, nil)
	ctx := context.Background()

	steps := []struct {
		page    int
		held    int
		hasMore bool
	}{
		{0, 50, true},
		{1, 100, true},
		{2, 120, false},
	}
	for _, s := range steps {
		snap, err := a.Request(ctx, s.page, Append)
		if err != nil {
			t.Fatalf("page %d: %v", s.page, err)
		}
		if len(snap.Records) != s.held {
			t.Fatalf("page %d: expected %d records, got %d", s.page, s.held, len(snap.Records))
		}
		if snap.HasMore != s.hasMore {
			t.Fatalf("page %d: expected hasMore=%v", s.page, s.hasMore)
		}
		if snap.TotalCount != 120 || snap.PageIndex != s.page {
			t.Fatalf("page %d: unexpected snapshot %+v", s.page, snap)
		}
	}

	if got := l.calls[2]; got.Offset != 100 || got.Limit != 50 {
		t.Errorf("unexpected last request %+v", got)
	}
}

func TestAccumulator_ResetReplaces(t *testing.T) {
	a := New(newListing(120), 50, Filters{}, nil)
	ctx := context.Background()

	if _, err := a.Request(ctx, 0, Append); err != nil {
		t.Fatal(err)
	}
	snap, err := a.Request(ctx, 2, Reset)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Records) != 20 || snap.Records[0].Name != "CALLE 100" {
		t.Fatalf("expected only page 2, got %d records", len(snap.Records))
	}
	if snap.HasMore || snap.PageIndex != 2 || snap.LoadedPages != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	snap, err = a.Request(ctx, 0, Reset)
	if err != nil {
		t.Fatal(err)
	}
	if !snap.HasMore || snap.PageIndex != 0 {
		t.Fatalf("expected hasMore on page 0, got %+v", snap)
	}
}

func TestAccumulator_AppendSkipsRepeatedPage(t *testing.T) {
	a := New(newListing(120), 50, Filters{}, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := a.Request(ctx, 0, Append); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(a.Snapshot().Records); n != 50 {
		t.Fatalf("expected 50 unique records, got %d", n)
	}
}

func TestAccumulator_FilterChangeResets(t *testing.T) {
	l := newListing(120)
	a := New(l, 50, Filters{}, nil)
	ctx := context.Background()

	if _, err := a.Request(ctx, 0, Append); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Request(ctx, 1, Append); err != nil {
		t.Fatal(err)
	}

	if !a.SetFilters(Filters{Category: street.Avenue}) {
		t.Fatal("expected filter change")
	}
	snap := a.Snapshot()
	if len(snap.Records) != 0 || snap.PageIndex != -1 || snap.TotalCount != 0 || snap.HasMore {
		t.Fatalf("expected cleared state, got %+v", snap)
	}
	if a.SetFilters(Filters{Category: street.Avenue}) {
		t.Fatal("same filters must be a no-op")
	}

	snap, err := a.Request(ctx, 0, Append)
	if err != nil {
		t.Fatal(err)
	}
	if snap.TotalCount != 60 || len(snap.Records) != 50 || !snap.HasMore {
		t.Fatalf("unexpected snapshot after filter change %+v", snap)
	}
	if last := l.calls[len(l.calls)-1]; last.Category != street.Avenue || last.Offset != 0 {
		t.Errorf("expected fresh request under new filters, got %+v", last)
	}
}

func TestAccumulator_StaleResponseDropped(t *testing.T) {
	l := newListing(120)
	l.gate = make(chan struct{})
	a := New(l, 50, Filters{}, nil)

	done := make(chan error, 1)
	go func() {
		_, err := a.Request(context.Background(), 0, Append)
		done <- err
	}()
	<-l.called

	a.SetFilters(Filters{Name: "rivadavia"})
	close(l.gate)

	if err := <-done; !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("expected ErrCancelled for outdated response, got %v", err)
	}
	if snap := a.Snapshot(); len(snap.Records) != 0 || snap.Filters.Name != "rivadavia" {
		t.Fatalf("stale page leaked into new filters: %+v", snap)
	}
}

func TestAccumulator_ConcurrentSamePageSharesFetch(t *testing.T) {
	l := newListing(120)
	l.gate = make(chan struct{})
	a := New(l, 50, Filters{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = a.Request(context.Background(), 0, Append)
		}()
	}

	<-l.called
	time.Sleep(10 * time.Millisecond)
	if !a.Snapshot().Loading {
		t.Error("expected loading while a fetch is in flight")
	}
	close(l.gate)
	wg.Wait()

	snap := a.Snapshot()
	if len(snap.Records) != 50 {
		t.Fatalf("expected 50 records, got %d", len(snap.Records))
	}
	if snap.Loading {
		t.Error("expected not loading after completion")
	}
	if n := l.callCount(); n > 2 {
		t.Errorf("expected concurrent requests to share a fetch, got %d calls", n)
	}
}

func TestAccumulator_MixedModesShareFetch(t *testing.T) {
	l := newListing(120)
	l.gate = make(chan struct{})
	a := New(l, 50, Filters{}, nil)

	var wg sync.WaitGroup
	request := func(mode Mode) {
		defer wg.Done()
		if _, err := a.Request(context.Background(), 0, mode); err != nil {
			t.Errorf("%s: %v", mode, err)
		}
	}

	wg.Add(2)
	go request(Append)
	<-l.called
	go request(Reset)
	time.Sleep(20 * time.Millisecond)
	close(l.gate)
	wg.Wait()

	if n := l.callCount(); n != 1 {
		t.Fatalf("expected append and reset of one page to share a fetch, got %d calls", n)
	}
	snap := a.Snapshot()
	if len(snap.Records) != 50 || snap.PageIndex != 0 || !snap.HasMore {
		t.Fatalf("unexpected snapshot records=%d page=%d hasMore=%v",
			len(snap.Records), snap.PageIndex, snap.HasMore)
	}
}

func TestAccumulator_PageIndexBounds(t *testing.T) {
	l := newListing(120)
	a := New(l, 50, Filters{}, nil)
	ctx := context.Background()

	for _, idx := range []int{math.MaxInt / 50, math.MaxInt/50 + 2, math.MaxInt} {
		snap, err := a.Request(ctx, idx, Reset)
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("page %d: expected ErrInvalidInput, got %v", idx, err)
		}
		if snap.PageIndex != -1 || snap.HasMore {
			t.Fatalf("page %d: rejected request changed state: %+v", idx, snap)
		}
	}
	if n := l.callCount(); n != 0 {
		t.Fatalf("expected no fetch for out of range pages, got %d", n)
	}

	last := math.MaxInt/50 - 1
	snap, err := a.Request(ctx, last, Reset)
	if err != nil {
		t.Fatalf("page %d: %v", last, err)
	}
	if got := l.calls[0].Offset; got < 0 {
		t.Fatalf("offset overflowed: %d", got)
	}
	if snap.HasMore || len(snap.Records) != 0 || snap.TotalCount != 120 {
		t.Fatalf("unexpected snapshot past the end: %+v", snap)
	}
}

func TestAccumulator_ErrorRecorded(t *testing.T) {
	l := newListing(120)
	l.err = domain.NewRateLimited(3 * time.Second)
	a := New(l, 50, Filters{}, nil)

	snap, err := a.Request(context.Background(), 0, Append)
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if snap.Error == nil || snap.Error.Kind != domain.KindRateLimited {
		t.Fatalf("expected rate limited failure in snapshot, got %+v", snap.Error)
	}

	l.mu.Lock()
	l.err = nil
	l.mu.Unlock()
	snap, err = a.Request(context.Background(), 0, Append)
	if err != nil || snap.Error != nil {
		t.Fatalf("expected error cleared on success, got %v / %+v", err, snap.Error)
	}
}

func TestAccumulator_InvalidArguments(t *testing.T) {
	a := New(newListing(10), 0, Filters{}, nil)
	if _, err := a.Request(context.Background(), -1, Append); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for negative page, got %v", err)
	}
	if _, err := a.Request(context.Background(), 0, "scroll"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for bad mode, got %v", err)
	}
	if a.Snapshot().PageSize != DefaultPageSize {
		t.Errorf("expected default page size")
	}
	if _, err := ParseMode("reset"); err != nil {
		t.Errorf("ParseMode(reset): %v", err)
	}
}
