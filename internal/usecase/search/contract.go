package search

import (
	"context"

	"github.com/kailas-cloud/streetdex/internal/domain/match"
	"github.com/kailas-cloud/streetdex/internal/domain/street"
)

// Provider is the upstream street and address lookup service.
type Provider interface {
	SearchAddresses(ctx context.Context, address string, maxResults int) (street.Page, error)
	ListStreets(ctx context.Context, p street.ListParams) (street.Page, error)
}

// Cache stores ranked result sets by key.
type Cache interface {
	Get(key string) ([]match.Candidate, bool)
	Put(key string, data []match.Candidate)
}
