package health

import (
	"context"
	"errors"
	"time"

	"github.com/kailas-cloud/streetdex/internal/domain"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure. Cached results are still served.
	Degraded Status = "degraded"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckRateLimited indicates the provider answered but is throttling us.
	CheckRateLimited CheckResult = "rate_limited"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

const defaultProbeTimeout = 3 * time.Second

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
	Stats  map[string]int
}

// Service coordinates health checks.
type Service struct {
	provider ProviderChecker
	counters map[string]Counter
	timeout  time.Duration
}

// New creates a Service. provider can be nil.
func New(provider ProviderChecker) *Service {
	return &Service{
		provider: provider,
		counters: make(map[string]Counter),
		timeout:  defaultProbeTimeout,
	}
}

// WithCounter adds a component whose size is reported under name.
func (s *Service) WithCounter(name string, c Counter) *Service {
	s.counters[name] = c
	return s
}

// WithTimeout bounds the provider probe.
func (s *Service) WithTimeout(d time.Duration) *Service {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// Check probes the provider and collects component sizes.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)

	if s.provider != nil {
		probeCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := s.provider.HealthCheck(probeCtx)
		cancel()
		switch {
		case err == nil:
			checks["provider"] = CheckOK
		case errors.Is(err, domain.ErrRateLimited):
			checks["provider"] = CheckRateLimited
		default:
			checks["provider"] = CheckError
		}
	}

	stats := make(map[string]int, len(s.counters))
	for name, c := range s.counters {
		stats[name] = c.Len()
	}

	status := Healthy
	for _, v := range checks {
		if v == CheckError {
			status = Degraded
			break
		}
	}

	return Report{Status: status, Checks: checks, Stats: stats}
}
