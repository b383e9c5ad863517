// Package pagination accumulates pages of the street listing for one view.
package pagination

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/streetdex/internal/domain"
	"github.com/kailas-cloud/streetdex/internal/domain/street"
	"github.com/kailas-cloud/streetdex/internal/metrics"
)

// DefaultPageSize is used when a view asks for no particular size.
const DefaultPageSize = 50

// Fetcher lists one slice of the street listing.
type Fetcher interface {
	ListStreets(ctx context.Context, p street.ListParams) (street.Page, error)
}

// Mode decides how a fetched page combines with what is already held.
type Mode string

// Modes.
const (
	// Append adds the page to the accumulated records (infinite scroll).
	Append Mode = "append"
	// Reset replaces the accumulated records with the page (numbered pages).
	Reset Mode = "reset"
)

// ParseMode maps user input to a Mode. Empty input means Append.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", Append:
		return Append, nil
	case Reset:
		return Reset, nil
	}
	return "", fmt.Errorf("%w: unknown pagination mode %q", domain.ErrInvalidInput, s)
}

// Filters narrow the listing. Changing them starts over.
type Filters struct {
	Name     string          `json:"name"`
	Category street.Category `json:"category"`
}

// Snapshot is the observable state of an accumulator.
type Snapshot struct {
	Filters     Filters         `json:"filters"`
	Records     []street.Record `json:"records"`
	PageIndex   int             `json:"page_index"`
	PageSize    int             `json:"page_size"`
	TotalCount  int             `json:"total_count"`
	HasMore     bool            `json:"has_more"`
	Loading     bool            `json:"loading"`
	Error       *domain.Failure `json:"error,omitempty"`
	LoadedPages int             `json:"loaded_pages"`
}

// Accumulator holds the pages loaded so far for one view. pageIndex is -1 until
// the first page lands.
type Accumulator struct {
	fetcher  Fetcher
	pageSize int
	logger   *zap.Logger
	group    singleflight.Group

	mu       sync.Mutex
	epoch    uint64
	filters  Filters
	records  []street.Record
	seen     map[string]struct{}
	page     int
	total    int
	loaded   map[int]struct{}
	inflight int
	failure  *domain.Failure
}

// New creates an empty accumulator. pageSize <= 0 falls back to DefaultPageSize.
func New(fetcher Fetcher, pageSize int, filters Filters, logger *zap.Logger) *Accumulator {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Accumulator{fetcher: fetcher, pageSize: pageSize, filters: filters, logger: logger}
	a.resetLocked()
	return a
}

// Request loads pageIndex under the current filters. Concurrent requests for the same
// page under the same filters share one fetch, and each caller folds the shared page in
// with its own mode. A response that arrives after the filters changed is dropped and
// reported as domain.ErrCancelled.
func (a *Accumulator) Request(ctx context.Context, pageIndex int, mode Mode) (Snapshot, error) {
	if pageIndex < 0 || pageIndex > a.maxPageIndex() {
		return a.Snapshot(), fmt.Errorf("%w: page index %d out of range", domain.ErrInvalidInput, pageIndex)
	}
	if mode != Append && mode != Reset {
		return a.Snapshot(), fmt.Errorf("%w: unknown pagination mode %q", domain.ErrInvalidInput, mode)
	}

	a.mu.Lock()
	epoch, filters, size := a.epoch, a.filters, a.pageSize
	a.inflight++
	a.mu.Unlock()

	key := strconv.FormatUint(epoch, 10) + "/" + strconv.Itoa(pageIndex)
	ch := a.group.DoChan(key, func() (any, error) {
		return a.fetcher.ListStreets(context.WithoutCancel(ctx), street.ListParams{
			Name:     filters.Name,
			Category: filters.Category,
			Offset:   pageIndex * size,
			Limit:    size,
		})
	})

	var err error
	select {
	case <-ctx.Done():
		err = fmt.Errorf("request page %d: %w", pageIndex, domain.ErrCancelled)
	case res := <-ch:
		page, _ := res.Val.(street.Page)
		err = a.apply(epoch, pageIndex, mode, page, res.Err)
	}

	a.mu.Lock()
	a.inflight--
	snap := a.snapshotLocked()
	a.mu.Unlock()
	return snap, err
}

// maxPageIndex is the largest index whose offset and hasMore arithmetic fit in an int.
func (a *Accumulator) maxPageIndex() int {
	return math.MaxInt/a.pageSize - 1
}

// SetFilters replaces the filters. Any change clears the accumulated records and
// invalidates requests still in flight.
func (a *Accumulator) SetFilters(f Filters) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if f == a.filters {
		return false
	}
	a.filters = f
	a.epoch++
	a.resetLocked()
	return true
}

// Snapshot returns the current state.
func (a *Accumulator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// Close drops held records. In-flight responses land in a dead epoch.
func (a *Accumulator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.epoch++
	a.resetLocked()
	return nil
}

func (a *Accumulator) apply(epoch uint64, pageIndex int, mode Mode, page street.Page, err error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if epoch != a.epoch {
		metrics.PaginationFetchesTotal.WithLabelValues(string(mode), "stale").Inc()
		return fmt.Errorf("page %d fetched under outdated filters: %w", pageIndex, domain.ErrCancelled)
	}
	if err != nil {
		metrics.PaginationFetchesTotal.WithLabelValues(string(mode), "error").Inc()
		a.failure = domain.NewFailure(err)
		a.logger.Info("Page fetch failed",
			zap.Int("page_index", pageIndex),
			zap.String("mode", string(mode)),
			zap.Error(err),
		)
		return fmt.Errorf("list streets page %d: %w", pageIndex, err)
	}

	metrics.PaginationFetchesTotal.WithLabelValues(string(mode), "success").Inc()
	a.failure = nil
	a.total = page.Total

	switch mode {
	case Reset:
		a.records = slices.Clone(page.Records)
		a.seen = make(map[string]struct{}, len(page.Records))
		a.loaded = map[int]struct{}{pageIndex: {}}
		for _, r := range page.Records {
			a.seen[r.ID] = struct{}{}
		}
		a.page = pageIndex
	default:
		for _, r := range page.Records {
			if _, dup := a.seen[r.ID]; dup && r.ID != "" {
				continue
			}
			a.seen[r.ID] = struct{}{}
			a.records = append(a.records, r)
		}
		a.loaded[pageIndex] = struct{}{}
		a.page = max(a.page, pageIndex)
	}
	return nil
}

func (a *Accumulator) resetLocked() {
	a.records = []street.Record{}
	a.seen = make(map[string]struct{})
	a.loaded = make(map[int]struct{})
	a.page = -1
	a.total = 0
	a.failure = nil
}

func (a *Accumulator) snapshotLocked() Snapshot {
	return Snapshot{
		Filters:     a.filters,
		Records:     slices.Clone(a.records),
		PageIndex:   a.page,
		PageSize:    a.pageSize,
		TotalCount:  a.total,
		HasMore:     (a.page+1)*a.pageSize < a.total,
		Loading:     a.inflight > 0,
		Error:       a.failure,
		LoadedPages: len(a.loaded),
	}
}
