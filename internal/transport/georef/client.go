// Package georef is the HTTP client for the street and address lookup provider.
package georef

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/streetdex/internal/domain"
	"github.com/kailas-cloud/streetdex/internal/domain/street"
	"github.com/kailas-cloud/streetdex/internal/metrics"
	"github.com/kailas-cloud/streetdex/internal/version"
)

const (
	opAddresses = "addresses"
	opStreets   = "streets"

	maxBodyBytes   = 4 << 20
	defaultTimeout = 5 * time.Second
)

// Config holds the provider client settings.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	RatePerSec float64 // 0 = unlimited
	Burst      int
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client calls the provider's /direcciones and /calles endpoints.
type Client struct {
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient creates a provider client.
func NewClient(cfg *Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse provider base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("provider base url %q must be absolute", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{base: base, http: httpClient, limiter: limiter, logger: logger}, nil
}

// SearchAddresses resolves a free-text address into at most maxResults address records.
func (c *Client) SearchAddresses(ctx context.Context, address string, maxResults int) (street.Page, error) {
	q := url.Values{}
	q.Set("direccion", address)
	if maxResults > 0 {
		q.Set("max", strconv.Itoa(maxResults))
	}

	var resp direccionesResponse
	if err := c.get(ctx, opAddresses, "direcciones", q, &resp); err != nil {
		return street.Page{}, err
	}

	records := make([]street.Record, len(resp.Direcciones))
	for i, d := range resp.Direcciones {
		records[i] = d.toDomain()
	}
	return street.Page{Records: records, Total: resp.Total}, nil
}

// ListStreets returns one slice of the street listing plus the provider's total count.
func (c *Client) ListStreets(ctx context.Context, p street.ListParams) (street.Page, error) {
	q := url.Values{}
	if p.Name != "" {
		q.Set("nombre", p.Name)
	}
	if cat := categoryToProvider(p.Category); cat != "" {
		q.Set("categoria", cat)
	}
	if p.Offset > 0 {
		q.Set("inicio", strconv.Itoa(p.Offset))
	}
	if p.Limit > 0 {
		q.Set("max", strconv.Itoa(p.Limit))
	}

	var resp callesResponse
	if err := c.get(ctx, opStreets, "calles", q, &resp); err != nil {
		return street.Page{}, err
	}

	records := make([]street.Record, len(resp.Calles))
	for i, cl := range resp.Calles {
		records[i] = cl.toDomain()
	}
	return street.Page{Records: records, Total: resp.Total}, nil
}

// HealthCheck verifies the provider answers a minimal listing.
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.ListStreets(ctx, street.ListParams{Limit: 1}); err != nil {
		return fmt.Errorf("list streets: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, op, path string, q url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return c.fail(op, classifyTransport(ctx, err))
	}

	u := c.base.JoinPath(path)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return fmt.Errorf("build provider request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.ProviderRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		return c.fail(op, classifyTransport(ctx, err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return c.fail(op, classifyTransport(ctx, err))
	}

	if err := classifyStatus(resp, body); err != nil {
		return c.fail(op, err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return c.fail(op, fmt.Errorf("decode %s response: %w",
			path, domain.NewProviderError(resp.StatusCode, "malformed response body")))
	}

	metrics.ProviderRequestsTotal.WithLabelValues(op, "success").Inc()
	return nil
}

func (c *Client) fail(op string, err error) error {
	kind := domain.Classify(err)
	if kind == domain.KindCancelled {
		metrics.ProviderRequestsTotal.WithLabelValues(op, "cancelled").Inc()
		return err
	}
	metrics.ProviderRequestsTotal.WithLabelValues(op, "error").Inc()
	metrics.ProviderErrorsTotal.WithLabelValues(op, string(kind)).Inc()
	c.logger.Warn("Provider request failed",
		zap.String("operation", op),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)
	return err
}

// classifyTransport maps a failure that happened before a status was received.
// Caller cancellation is cooperative and never reported; everything else, including
// client timeouts, is a network error.
func classifyTransport(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("provider request: %w", domain.ErrCancelled)
	}
	return fmt.Errorf("provider request: %w: %w", domain.ErrNetwork, err)
}

// classifyStatus maps non-2xx responses onto domain errors.
func classifyStatus(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return domain.NewRateLimited(parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()))
	}

	var parsed errorResponse
	detail := ""
	if json.Unmarshal(body, &parsed) == nil {
		detail = parsed.detail()
	}
	return domain.NewProviderError(resp.StatusCode, detail)
}

// parseRetryAfter accepts delta-seconds or an HTTP date. Unparseable values yield zero.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
