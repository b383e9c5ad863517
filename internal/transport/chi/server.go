package chi

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/streetdex/internal/domain"
	"github.com/kailas-cloud/streetdex/internal/domain/street"
	logpkg "github.com/kailas-cloud/streetdex/internal/logger"
	healthuc "github.com/kailas-cloud/streetdex/internal/usecase/health"
	"github.com/kailas-cloud/streetdex/internal/usecase/pagination"
	searchuc "github.com/kailas-cloud/streetdex/internal/usecase/search"
	"github.com/kailas-cloud/streetdex/internal/usecase/session"
)

const maxBodyBytes = 64 << 10

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// CacheAdmin exposes the result cache size and reset.
type CacheAdmin interface {
	Len() int
	Clear()
}

// Options bound what clients may ask for.
type Options struct {
	Debounce        time.Duration
	DefaultPageSize int
	MaxPageSize     int
	MaxWait         time.Duration
}

// Server implements ServerInterface.
type Server struct {
	resolver      *searchuc.Resolver
	sessions      *session.Registry[*searchuc.Stream]
	views         *session.Registry[*pagination.Accumulator]
	fetcher       pagination.Fetcher
	cache         CacheAdmin
	health        *healthuc.Service
	opts          Options
	logger        *zap.Logger
	errorHandlers []errorHandler
}

var _ ServerInterface = (*Server)(nil)

// NewServer creates an HTTP API server.
func NewServer(
	resolver *searchuc.Resolver,
	sessions *session.Registry[*searchuc.Stream],
	views *session.Registry[*pagination.Accumulator],
	fetcher pagination.Fetcher,
	cache CacheAdmin,
	health *healthuc.Service,
	opts Options,
	logger *zap.Logger,
) *Server {
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = pagination.DefaultPageSize
	}
	if opts.MaxPageSize < opts.DefaultPageSize {
		opts.MaxPageSize = opts.DefaultPageSize
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 10 * time.Second
	}
	s := &Server{
		resolver: resolver,
		sessions: sessions,
		views:    views,
		fetcher:  fetcher,
		cache:    cache,
		health:   health,
		opts:     opts,
		logger:   logger,
	}
	s.errorHandlers = []errorHandler{
		rateLimitedHandler,
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, ErrorResponseCodeRateLimited),
		sentinelHandler(domain.ErrInvalidInput, http.StatusBadRequest, ErrorResponseCodeValidationFailed),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, ErrorResponseCodeNotFound),
		sentinelHandler(domain.ErrClosed, http.StatusGone, ErrorResponseCodeGone),
		sentinelHandler(domain.ErrCancelled, http.StatusConflict, ErrorResponseCodeSuperseded),
		sentinelHandler(domain.ErrProvider, http.StatusBadGateway, ErrorResponseCodeProviderError),
		sentinelHandler(domain.ErrNetwork, http.StatusGatewayTimeout, ErrorResponseCodeNetworkError),
	}
	return s
}

// SearchStreets handles GET /streets/search.
func (s *Server) SearchStreets(w http.ResponseWriter, r *http.Request, params SearchStreetsParams) {
	cat, err := street.ParseCategory(derefString(params.Category))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeValidationFailed, err.Error())
		return
	}

	results, err := s.resolver.Streets(r.Context(), searchuc.Request{
		Query:      params.Q,
		MaxResults: derefInt(params.Max),
		Category:   cat,
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Query: params.Q, Count: len(results), Results: results})
}

// SearchAddresses handles GET /addresses/search.
func (s *Server) SearchAddresses(w http.ResponseWriter, r *http.Request, params SearchAddressesParams) {
	results, err := s.resolver.Addresses(r.Context(), searchuc.Request{
		Query:      params.Q,
		MaxResults: derefInt(params.Max),
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Query: params.Q, Count: len(results), Results: results})
}

// CreateSession handles POST /sessions.
func (s *Server) CreateSession(w http.ResponseWriter, _ *http.Request) {
	stream := searchuc.NewStream(s.resolver, s.opts.Debounce, s.logger)
	id := s.sessions.Add(stream)
	writeJSON(w, http.StatusCreated, SessionResponse{ID: id, Snapshot: stream.Snapshot()})
}

// UpdateSessionInput handles PUT /sessions/{id}/input.
func (s *Server) UpdateSessionInput(w http.ResponseWriter, r *http.Request, id string) {
	r = r.WithContext(logpkg.With(r.Context(), zap.String("session_id", id)))
	var req SessionInputRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cat, err := street.ParseCategory(req.Category)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeValidationFailed, err.Error())
		return
	}

	stream, err := s.sessions.Get(id)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	err = stream.Input(searchuc.Input{
		Query:      req.Query,
		MaxResults: req.MaxResults,
		Category:   cat,
		Kind:       searchuc.Kind(req.Kind),
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, SessionResponse{ID: id, Snapshot: stream.Snapshot()})
}

// GetSession handles GET /sessions/{id}.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request, id string, params GetSessionParams) {
	stream, err := s.sessions.Get(id)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	snap := stream.Snapshot()
	if wait := time.Duration(derefInt(params.WaitMs)) * time.Millisecond; wait > 0 && snap.Loading {
		ctx, cancel := context.WithTimeout(r.Context(), min(wait, s.opts.MaxWait))
		snap, _ = stream.Wait(ctx)
		cancel()
	}

	if snap.Error != nil && snap.Error.RetryAfter > 0 {
		setRetryAfter(w, snap.Error.RetryAfter)
	}
	writeJSON(w, http.StatusOK, SessionResponse{ID: id, Snapshot: snap})
}

// DeleteSession handles DELETE /sessions/{id}.
func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.sessions.Remove(id); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateView handles POST /views.
func (s *Server) CreateView(w http.ResponseWriter, r *http.Request) {
	var req CreateViewRequest
	if !decodeBody(w, r, &req) {
		return
	}

	size := req.PageSize
	if size == 0 {
		size = s.opts.DefaultPageSize
	}
	if size < 0 || size > s.opts.MaxPageSize {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeValidationFailed,
			"page_size must be between 1 and "+strconv.Itoa(s.opts.MaxPageSize))
		return
	}
	filters, ok := parseFilters(w, req.Name, req.Category)
	if !ok {
		return
	}

	acc := pagination.New(s.fetcher, size, filters, s.logger)
	id := s.views.Add(acc)
	writeJSON(w, http.StatusCreated, ViewResponse{ID: id, Snapshot: acc.Snapshot()})
}

// RequestViewPage handles POST /views/{id}/pages.
func (s *Server) RequestViewPage(w http.ResponseWriter, r *http.Request, id string) {
	r = r.WithContext(logpkg.With(r.Context(), zap.String("view_id", id)))
	var req ViewPageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	mode, err := pagination.ParseMode(req.Mode)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	acc, err := s.views.Get(id)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	snap, err := acc.Request(r.Context(), req.PageIndex, mode)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ViewResponse{ID: id, Snapshot: snap})
}

// UpdateViewFilters handles PUT /views/{id}/filters.
func (s *Server) UpdateViewFilters(w http.ResponseWriter, r *http.Request, id string) {
	var req ViewFiltersRequest
	if !decodeBody(w, r, &req) {
		return
	}
	filters, ok := parseFilters(w, req.Name, req.Category)
	if !ok {
		return
	}

	acc, err := s.views.Get(id)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	acc.SetFilters(filters)
	writeJSON(w, http.StatusOK, ViewResponse{ID: id, Snapshot: acc.Snapshot()})
}

// GetView handles GET /views/{id}.
func (s *Server) GetView(w http.ResponseWriter, r *http.Request, id string) {
	acc, err := s.views.Get(id)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ViewResponse{ID: id, Snapshot: acc.Snapshot()})
}

// DeleteView handles DELETE /views/{id}.
func (s *Server) DeleteView(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.views.Remove(id); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetCache handles GET /cache.
func (s *Server) GetCache(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, CacheResponse{Entries: s.cache.Len()})
}

// ClearCache handles DELETE /cache.
func (s *Server) ClearCache(w http.ResponseWriter, r *http.Request) {
	s.cache.Clear()
	logpkg.FromContext(r.Context()).Info("Result cache cleared")
	w.WriteHeader(http.StatusNoContent)
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status: string(report.Status),
		Checks: checks,
		Stats:  report.Stats,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// BadRequestHandler renders parameter binding failures.
func BadRequestHandler(w http.ResponseWriter, _ *http.Request, err error) {
	writeError(w, http.StatusBadRequest, ErrorResponseCodeBadRequest, err.Error())
}

func parseFilters(w http.ResponseWriter, name, category string) (pagination.Filters, bool) {
	cat, err := street.ParseCategory(category)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeValidationFailed, err.Error())
		return pagination.Filters{}, false
	}
	return pagination.Filters{Name: name, Category: cat}, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorResponseCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func setRetryAfter(w http.ResponseWriter, d time.Duration) {
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.Seconds()))))
}

// safeDomainMessage returns a client-facing message without exposing internals.
func safeDomainMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return "not found"
	case errors.Is(err, domain.ErrClosed):
		return "already closed"
	case errors.Is(err, domain.ErrCancelled):
		return "superseded by a newer request"
	case errors.Is(err, domain.ErrRateLimited), errors.Is(err, domain.ErrProvider), errors.Is(err, domain.ErrNetwork):
		return domain.NewFailure(err).Message
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorResponseCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

// rateLimitedHandler maps provider throttling to 429 and forwards Retry-After.
func rateLimitedHandler(w http.ResponseWriter, err error, msg string) bool {
	var rle *domain.RateLimitedError
	if !errors.As(err, &rle) {
		return false
	}
	if rle.RetryAfter > 0 {
		setRetryAfter(w, rle.RetryAfter)
	}
	writeError(w, http.StatusTooManyRequests, ErrorResponseCodeRateLimited, msg)
	return true
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logpkg.FromContext(r.Context())
	log.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, ErrorResponseCodeInternalError, "internal error")
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
