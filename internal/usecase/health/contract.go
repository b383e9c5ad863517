package health

import "context"

// ProviderChecker checks upstream provider availability.
type ProviderChecker interface {
	HealthCheck(ctx context.Context) error
}

// Counter reports how many entries a component holds.
type Counter interface {
	Len() int
}
