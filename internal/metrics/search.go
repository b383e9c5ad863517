package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Provider Prometheus metrics.
var (
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streetdex",
			Name:      "provider_requests_total",
			Help:      "Total number of requests to the address provider",
		},
		[]string{"operation", "status"},
	)

	ProviderRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "streetdex",
			Name:      "provider_request_duration_seconds",
			Help:      "Address provider request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	ProviderErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streetdex",
			Name:      "provider_errors_total",
			Help:      "Address provider failures by kind",
		},
		[]string{"operation", "kind"},
	)
)

// Cache and search orchestration metrics.
var (
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streetdex",
			Name:      "cache_lookups_total",
			Help:      "Result cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	CacheEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streetdex",
			Name:      "cache_evictions_total",
			Help:      "Result cache evictions",
		},
		[]string{"reason"}, // "expired" / "capacity"
	)

	SearchDispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streetdex",
			Name:      "search_dispatches_total",
			Help:      "Debounced searches dispatched by streams",
		},
		[]string{"kind"},
	)

	SearchCoalescedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "streetdex",
			Name:      "search_coalesced_inputs_total",
			Help:      "Inputs that restarted a live debounce timer",
		},
	)

	SearchStaleResponsesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "streetdex",
			Name:      "search_stale_responses_total",
			Help:      "Responses dropped because a newer generation had started",
		},
	)

	PaginationFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streetdex",
			Name:      "pagination_fetches_total",
			Help:      "Page fetches by mode and outcome",
		},
		[]string{"mode", "status"},
	)
)

var registerOnce sync.Once

// RegisterSearchMetrics registers provider, cache and search metrics. Must be called from main.
// entries reports the live cache size; nil skips the gauge.
func RegisterSearchMetrics(entries func() float64) {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ProviderRequestsTotal,
			ProviderRequestDuration,
			ProviderErrorsTotal,
			CacheLookupsTotal,
			CacheEvictionsTotal,
			SearchDispatchesTotal,
			SearchCoalescedTotal,
			SearchStaleResponsesTotal,
			PaginationFetchesTotal,
		)
		if entries != nil {
			prometheus.MustRegister(prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Namespace: "streetdex",
					Name:      "cache_entries",
					Help:      "Unexpired result cache entries",
				},
				entries,
			))
		}
	})
}
