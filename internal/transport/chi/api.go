package chi

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	"github.com/kailas-cloud/streetdex/internal/domain/match"
	"github.com/kailas-cloud/streetdex/internal/usecase/pagination"
	searchuc "github.com/kailas-cloud/streetdex/internal/usecase/search"
)

// ErrorResponseCode is the machine-readable error code in error bodies.
type ErrorResponseCode string

// Error codes.
const (
	ErrorResponseCodeBadRequest       ErrorResponseCode = "bad_request"
	ErrorResponseCodeValidationFailed ErrorResponseCode = "validation_failed"
	ErrorResponseCodeNotFound         ErrorResponseCode = "not_found"
	ErrorResponseCodeGone             ErrorResponseCode = "gone"
	ErrorResponseCodeSuperseded       ErrorResponseCode = "superseded"
	ErrorResponseCodeRateLimited      ErrorResponseCode = "rate_limited"
	ErrorResponseCodeProviderError    ErrorResponseCode = "provider_error"
	ErrorResponseCodeNetworkError     ErrorResponseCode = "network_error"
	ErrorResponseCodeInternalError    ErrorResponseCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    ErrorResponseCode `json:"code"`
	Message string            `json:"message"`
}

// SearchStreetsParams are the query parameters of GET /streets/search.
type SearchStreetsParams struct {
	Q        string
	Max      *int
	Category *string
}

// SearchAddressesParams are the query parameters of GET /addresses/search.
type SearchAddressesParams struct {
	Q   string
	Max *int
}

// GetSessionParams are the query parameters of GET /sessions/{id}.
type GetSessionParams struct {
	// WaitMs long-polls until the session stops loading.
	WaitMs *int
}

// SearchResponse is the body of one-shot searches.
type SearchResponse struct {
	Query   string            `json:"query"`
	Count   int               `json:"count"`
	Results []match.Candidate `json:"results"`
}

// SessionInputRequest feeds a keystroke to a session.
type SessionInputRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
	Category   string `json:"category"`
	Kind       string `json:"kind"`
}

// SessionResponse is a session snapshot.
type SessionResponse struct {
	ID string `json:"id"`
	searchuc.Snapshot
}

// CreateViewRequest opens a paginated view.
type CreateViewRequest struct {
	PageSize int    `json:"page_size"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// ViewPageRequest asks a view for one page.
type ViewPageRequest struct {
	PageIndex int    `json:"page_index"`
	Mode      string `json:"mode"`
}

// ViewFiltersRequest replaces a view's filters.
type ViewFiltersRequest struct {
	Name     string `json:"name"`
	Category string `json:"category"`
}

// ViewResponse is a view snapshot.
type ViewResponse struct {
	ID string `json:"id"`
	pagination.Snapshot
}

// CacheResponse reports the result cache size.
type CacheResponse struct {
	Entries int `json:"entries"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	Stats  map[string]int    `json:"stats,omitempty"`
}

// ServerInterface lists the HTTP operations.
type ServerInterface interface {
	// (GET /streets/search)
	SearchStreets(w http.ResponseWriter, r *http.Request, params SearchStreetsParams)
	// (GET /addresses/search)
	SearchAddresses(w http.ResponseWriter, r *http.Request, params SearchAddressesParams)
	// (POST /sessions)
	CreateSession(w http.ResponseWriter, r *http.Request)
	// (PUT /sessions/{id}/input)
	UpdateSessionInput(w http.ResponseWriter, r *http.Request, id string)
	// (GET /sessions/{id})
	GetSession(w http.ResponseWriter, r *http.Request, id string, params GetSessionParams)
	// (DELETE /sessions/{id})
	DeleteSession(w http.ResponseWriter, r *http.Request, id string)
	// (POST /views)
	CreateView(w http.ResponseWriter, r *http.Request)
	// (POST /views/{id}/pages)
	RequestViewPage(w http.ResponseWriter, r *http.Request, id string)
	// (PUT /views/{id}/filters)
	UpdateViewFilters(w http.ResponseWriter, r *http.Request, id string)
	// (GET /views/{id})
	GetView(w http.ResponseWriter, r *http.Request, id string)
	// (DELETE /views/{id})
	DeleteView(w http.ResponseWriter, r *http.Request, id string)
	// (GET /cache)
	GetCache(w http.ResponseWriter, r *http.Request)
	// (DELETE /cache)
	ClearCache(w http.ResponseWriter, r *http.Request)
	// (GET /health)
	HealthCheck(w http.ResponseWriter, r *http.Request)
	// (GET /metrics)
	Metrics(w http.ResponseWriter, r *http.Request)
}

// InvalidParamFormatError reports a parameter that failed to bind.
type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("Invalid format for parameter %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error { return e.Err }

// ServerInterfaceWrapper binds parameters and forwards to the handler.
type ServerInterfaceWrapper struct {
	Handler          ServerInterface
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// SearchStreets binds query parameters for SearchStreets.
func (siw *ServerInterfaceWrapper) SearchStreets(w http.ResponseWriter, r *http.Request) {
	var params SearchStreetsParams
	q := r.URL.Query()

	if !siw.bindQuery(w, r, "q", true, q, &params.Q) ||
		!siw.bindQuery(w, r, "max", false, q, &params.Max) ||
		!siw.bindQuery(w, r, "category", false, q, &params.Category) {
		return
	}
	siw.Handler.SearchStreets(w, r, params)
}

// SearchAddresses binds query parameters for SearchAddresses.
func (siw *ServerInterfaceWrapper) SearchAddresses(w http.ResponseWriter, r *http.Request) {
	var params SearchAddressesParams
	q := r.URL.Query()

	if !siw.bindQuery(w, r, "q", true, q, &params.Q) ||
		!siw.bindQuery(w, r, "max", false, q, &params.Max) {
		return
	}
	siw.Handler.SearchAddresses(w, r, params)
}

// CreateSession forwards to the handler.
func (siw *ServerInterfaceWrapper) CreateSession(w http.ResponseWriter, r *http.Request) {
	siw.Handler.CreateSession(w, r)
}

// UpdateSessionInput binds the path id for UpdateSessionInput.
func (siw *ServerInterfaceWrapper) UpdateSessionInput(w http.ResponseWriter, r *http.Request) {
	if id, ok := siw.bindID(w, r); ok {
		siw.Handler.UpdateSessionInput(w, r, id)
	}
}

// GetSession binds the path id and query parameters for GetSession.
func (siw *ServerInterfaceWrapper) GetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := siw.bindID(w, r)
	if !ok {
		return
	}
	var params GetSessionParams
	if !siw.bindQuery(w, r, "wait_ms", false, r.URL.Query(), &params.WaitMs) {
		return
	}
	siw.Handler.GetSession(w, r, id, params)
}

// DeleteSession binds the path id for DeleteSession.
func (siw *ServerInterfaceWrapper) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if id, ok := siw.bindID(w, r); ok {
		siw.Handler.DeleteSession(w, r, id)
	}
}

// CreateView forwards to the handler.
func (siw *ServerInterfaceWrapper) CreateView(w http.ResponseWriter, r *http.Request) {
	siw.Handler.CreateView(w, r)
}

// RequestViewPage binds the path id for RequestViewPage.
func (siw *ServerInterfaceWrapper) RequestViewPage(w http.ResponseWriter, r *http.Request) {
	if id, ok := siw.bindID(w, r); ok {
		siw.Handler.RequestViewPage(w, r, id)
	}
}

// UpdateViewFilters binds the path id for UpdateViewFilters.
func (siw *ServerInterfaceWrapper) UpdateViewFilters(w http.ResponseWriter, r *http.Request) {
	if id, ok := siw.bindID(w, r); ok {
		siw.Handler.UpdateViewFilters(w, r, id)
	}
}

// GetView binds the path id for GetView.
func (siw *ServerInterfaceWrapper) GetView(w http.ResponseWriter, r *http.Request) {
	if id, ok := siw.bindID(w, r); ok {
		siw.Handler.GetView(w, r, id)
	}
}

// DeleteView binds the path id for DeleteView.
func (siw *ServerInterfaceWrapper) DeleteView(w http.ResponseWriter, r *http.Request) {
	if id, ok := siw.bindID(w, r); ok {
		siw.Handler.DeleteView(w, r, id)
	}
}

func (siw *ServerInterfaceWrapper) bindQuery(
	w http.ResponseWriter, r *http.Request, name string, required bool, q url.Values, dest any,
) bool {
	if err := runtime.BindQueryParameter("form", true, required, name, q, dest); err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: name, Err: err})
		return false
	}
	return true
}

func (siw *ServerInterfaceWrapper) bindID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "id", Err: err})
		return "", false
	}
	return id, true
}

// ChiServerOptions configures HandlerWithOptions.
type ChiServerOptions struct {
	BaseURL          string
	BaseRouter       chi.Router
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// HandlerWithOptions mounts the API under options.BaseURL and /health, /metrics at the root.
func HandlerWithOptions(si ServerInterface, options ChiServerOptions) http.Handler {
	r := options.BaseRouter
	if r == nil {
		r = chi.NewRouter()
	}
	if options.ErrorHandlerFunc == nil {
		options.ErrorHandlerFunc = func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}
	wrapper := ServerInterfaceWrapper{
		Handler:          si,
		ErrorHandlerFunc: options.ErrorHandlerFunc,
	}

	r.Get("/health", si.HealthCheck)
	r.Get("/metrics", si.Metrics)

	api := func(r chi.Router) {
		r.Get("/streets/search", wrapper.SearchStreets)
		r.Get("/addresses/search", wrapper.SearchAddresses)

		r.Post("/sessions", wrapper.CreateSession)
		r.Put("/sessions/{id}/input", wrapper.UpdateSessionInput)
		r.Get("/sessions/{id}", wrapper.GetSession)
		r.Delete("/sessions/{id}", wrapper.DeleteSession)

		r.Post("/views", wrapper.CreateView)
		r.Post("/views/{id}/pages", wrapper.RequestViewPage)
		r.Put("/views/{id}/filters", wrapper.UpdateViewFilters)
		r.Get("/views/{id}", wrapper.GetView)
		r.Delete("/views/{id}", wrapper.DeleteView)

		r.Get("/cache", si.GetCache)
		r.Delete("/cache", si.ClearCache)
	}
	if options.BaseURL == "" {
		api(r)
	} else {
		r.Route(options.BaseURL, api)
	}
	return r
}
