package search

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/streetdex/internal/domain"
	"github.com/kailas-cloud/streetdex/internal/domain/match"
	"github.com/kailas-cloud/streetdex/internal/domain/query"
	"github.com/kailas-cloud/streetdex/internal/domain/street"
	"github.com/kailas-cloud/streetdex/internal/repository/resultcache"
)

// Kind selects the lookup path.
type Kind string

// Lookup paths.
const (
	KindStreets   Kind = "streets"
	KindAddresses Kind = "addresses"
)

// ParseKind maps user input to a Kind. Empty input means streets.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "", KindStreets:
		return KindStreets, nil
	case KindAddresses:
		return KindAddresses, nil
	}
	return "", fmt.Errorf("%w: unknown search kind %q", domain.ErrInvalidInput, s)
}

// Options tune a Resolver. Zero values fall back to defaults.
type Options struct {
	MinChars          int
	DefaultMaxResults int
	MaxResults        int
	// CandidatePool is how many street records are pulled from the provider per fuzzy
	// search before scoring.
	CandidatePool int
}

const (
	defaultMinChars      = 3
	defaultMaxResults    = 10
	defaultMaxResultsCap = 50
	defaultCandidatePool = 100
)

func (o *Options) applyDefaults() {
	if o.MinChars <= 0 {
		o.MinChars = defaultMinChars
	}
	if o.DefaultMaxResults <= 0 {
		o.DefaultMaxResults = defaultMaxResults
	}
	if o.MaxResults <= 0 {
		o.MaxResults = defaultMaxResultsCap
	}
	if o.DefaultMaxResults > o.MaxResults {
		o.DefaultMaxResults = o.MaxResults
	}
	if o.CandidatePool <= 0 {
		o.CandidatePool = defaultCandidatePool
	}
	o.CandidatePool = max(o.CandidatePool, o.MaxResults)
}

// Request is one search intent.
type Request struct {
	Query      string
	MaxResults int
	Category   street.Category
}

// Resolver answers one-shot searches through the cache, collapsing concurrent
// identical misses into a single provider fetch.
type Resolver struct {
	provider Provider
	cache    Cache
	opts     Options
	group    singleflight.Group
	logger   *zap.Logger
}

// NewResolver creates a resolver.
func NewResolver(provider Provider, cache Cache, opts Options, logger *zap.Logger) *Resolver {
	opts.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{provider: provider, cache: cache, opts: opts, logger: logger}
}

// MinChars returns the minimum normalized query length that reaches the provider.
func (r *Resolver) MinChars() int { return r.opts.MinChars }

// Streets returns fuzzy-ranked street candidates. Queries below the minimum length
// yield an empty result without error.
func (r *Resolver) Streets(ctx context.Context, req Request) ([]match.Candidate, error) {
	q, limit, err := r.prepare(req)
	if err != nil {
		return nil, err
	}
	if r.tooShort(q) {
		return []match.Candidate{}, nil
	}

	key := resultcache.Key(resultcache.KindStreets, q.Normalized, limit, req.Category)
	return r.resolve(ctx, key, func(ctx context.Context) ([]match.Candidate, error) {
		records, err := r.fetchStreets(ctx, q, req.Category)
		if err != nil {
			return nil, err
		}
		return match.Rank(q, records, req.Category, limit), nil
	})
}

// Addresses returns address matches in provider order.
func (r *Resolver) Addresses(ctx context.Context, req Request) ([]match.Candidate, error) {
	if req.Category != "" {
		return nil, fmt.Errorf("%w: address lookups take no category", domain.ErrInvalidInput)
	}
	q, limit, err := r.prepare(req)
	if err != nil {
		return nil, err
	}
	if r.tooShort(q) {
		return []match.Candidate{}, nil
	}

	// The provider gets the typed text with whitespace collapsed. Spellings that normalize
	// alike share one cache slot.
	address := strings.Join(strings.Fields(q.Raw), " ")
	key := resultcache.Key(resultcache.KindAddresses, q.Normalized, limit, "")
	return r.resolve(ctx, key, func(ctx context.Context) ([]match.Candidate, error) {
		page, err := r.provider.SearchAddresses(ctx, address, limit)
		if err != nil {
			return nil, fmt.Errorf("search addresses: %w", err)
		}
		return match.Top(match.Deduplicate(match.FromProvider(page.Records)), limit), nil
	})
}

// Resolve dispatches on kind.
func (r *Resolver) Resolve(ctx context.Context, kind Kind, req Request) ([]match.Candidate, error) {
	if kind == KindAddresses {
		return r.Addresses(ctx, req)
	}
	return r.Streets(ctx, req)
}

// Validate checks request parameters without running the search.
func (r *Resolver) Validate(kind Kind, req Request) error {
	if kind == KindAddresses && req.Category != "" {
		return fmt.Errorf("%w: address lookups take no category", domain.ErrInvalidInput)
	}
	_, _, err := r.prepare(req)
	return err
}

func (r *Resolver) prepare(req Request) (query.Query, int, error) {
	if req.Category != "" && !req.Category.IsValid() {
		return query.Query{}, 0, fmt.Errorf("%w: unknown category %q", domain.ErrInvalidInput, req.Category)
	}
	limit := req.MaxResults
	switch {
	case limit < 0:
		return query.Query{}, 0, fmt.Errorf("%w: max results must not be negative", domain.ErrInvalidInput)
	case limit == 0:
		limit = r.opts.DefaultMaxResults
	case limit > r.opts.MaxResults:
		limit = r.opts.MaxResults
	}
	return query.Normalize(req.Query), limit, nil
}

func (r *Resolver) tooShort(q query.Query) bool {
	return q.IsEmpty() || q.Len() < r.opts.MinChars
}

// resolve serves key from the cache or runs fetch once for all concurrent callers.
// The shared fetch is detached from the caller's cancellation so a superseded caller
// does not fail the others; its result still lands in the cache.
func (r *Resolver) resolve(
	ctx context.Context, key string, fetch func(context.Context) ([]match.Candidate, error),
) ([]match.Candidate, error) {
	if cached, ok := r.cache.Get(key); ok {
		return cached, nil
	}

	ch := r.group.DoChan(key, func() (any, error) {
		res, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		r.cache.Put(key, res)
		return res, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("resolve %q: %w", key, domain.ErrCancelled)
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			r.logger.Debug("Shared provider fetch", zap.String("key", key))
		}
		return slices.Clone(res.Val.([]match.Candidate)), nil
	}
}

// fetchStreets pulls the candidate pool for q. Multi-word input rarely matches upstream
// as a phrase, so a short pool is widened with the longest token.
func (r *Resolver) fetchStreets(ctx context.Context, q query.Query, cat street.Category) ([]street.Record, error) {
	params := street.ListParams{Name: q.Normalized, Category: cat, Limit: r.opts.CandidatePool}
	page, err := r.provider.ListStreets(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("list streets: %w", err)
	}
	records := page.Records
	if len(q.Tokens) < 2 || len(records) >= r.opts.CandidatePool {
		return records, nil
	}

	params.Name = longest(q.Tokens)
	more, err := r.provider.ListStreets(ctx, params)
	if err != nil {
		r.logger.Warn("Widening street candidates failed",
			zap.String("token", params.Name),
			zap.Error(err),
		)
		return records, nil
	}
	return mergeByID(records, more.Records), nil
}

func longest(tokens []string) string {
	best := tokens[0]
	for _, t := range tokens[1:] {
		if len(t) > len(best) {
			best = t
		}
	}
	return best
}

func mergeByID(a, b []street.Record) []street.Record {
	seen := make(map[string]struct{}, len(a))
	for _, r := range a {
		seen[r.ID] = struct{}{}
	}
	out := a
	for _, r := range b {
		if _, ok := seen[r.ID]; ok && r.ID != "" {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}
