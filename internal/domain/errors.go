package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidQuery signals a query below the minimum length. Never surfaced as an error state.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrRateLimited signals the provider rejected the request with 429.
	ErrRateLimited = errors.New("rate limited")
	// ErrNetwork signals a transport-level failure (connection, DNS, timeout).
	ErrNetwork = errors.New("network error")
	// ErrProvider signals a non-2xx response or an undecodable body.
	ErrProvider = errors.New("provider error")
	// ErrCancelled signals a superseded request. Internal only.
	ErrCancelled = errors.New("cancelled")
	// ErrNotFound signals a missing session or view.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput signals malformed request parameters (category, limits, page index).
	ErrInvalidInput = errors.New("invalid input")
	// ErrClosed signals use of a discarded session or view.
	ErrClosed = errors.New("closed")
)

// Kind is the consumer-facing classification of a failure.
type Kind string

// Error kinds.
const (
	KindNone          Kind = ""
	KindInvalidQuery  Kind = "invalid_query"
	KindRateLimited   Kind = "rate_limited"
	KindNetworkError  Kind = "network_error"
	KindProviderError Kind = "provider_error"
	KindCancelled     Kind = "cancelled"
)

// ProviderError wraps ErrProvider with the HTTP status returned by the provider.
type ProviderError struct {
	Status int
	Detail string
}

func (e *ProviderError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: status %d: %s", ErrProvider.Error(), e.Status, e.Detail)
	}
	return fmt.Sprintf("%s: status %d", ErrProvider.Error(), e.Status)
}

func (e *ProviderError) Unwrap() error { return ErrProvider }

// NewProviderError creates a provider error for the given status.
func NewProviderError(status int, detail string) error {
	return &ProviderError{Status: status, Detail: detail}
}

// RateLimitedError wraps ErrRateLimited with the delay suggested by the provider.
// RetryAfter is zero when the provider sent no hint.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: retry after %s", ErrRateLimited.Error(), e.RetryAfter)
	}
	return ErrRateLimited.Error()
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// NewRateLimited creates a rate limit error.
func NewRateLimited(retryAfter time.Duration) error {
	return &RateLimitedError{RetryAfter: retryAfter}
}

// Classify maps an error onto its Kind. Unknown errors classify as network errors,
// since only the fetch step can fail and anything unclassified came from the transport.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidQuery):
		return KindInvalidQuery
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrProvider):
		return KindProviderError
	default:
		return KindNetworkError
	}
}

// Failure is the error state exposed to consumers. It is reported once per completed fetch.
type Failure struct {
	Kind       Kind          `json:"kind"`
	Message    string        `json:"message"`
	Status     int           `json:"status,omitempty"`
	RetryAfter time.Duration `json:"-"`
}

// NewFailure builds a consumer-facing failure from err.
// Returns nil for nil, invalid-query, and cancelled errors: those are never surfaced.
func NewFailure(err error) *Failure {
	kind := Classify(err)
	switch kind {
	case KindNone, KindInvalidQuery, KindCancelled:
		return nil
	}

	f := &Failure{Kind: kind}
	switch kind {
	case KindRateLimited:
		var rle *RateLimitedError
		if errors.As(err, &rle) {
			f.RetryAfter = rle.RetryAfter
		}
		if f.RetryAfter > 0 {
			f.Message = fmt.Sprintf("too many requests, try again in %s", f.RetryAfter.Round(time.Second))
		} else {
			f.Message = "too many requests, try again in a few seconds"
		}
	case KindProviderError:
		var pe *ProviderError
		if errors.As(err, &pe) {
			f.Status = pe.Status
		}
		f.Message = fmt.Sprintf("address provider failed (status %d)", f.Status)
	default:
		f.Message = "address provider unreachable"
	}
	return f
}
