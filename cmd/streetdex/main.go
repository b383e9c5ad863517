package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/streetdex/internal/config"
	"github.com/kailas-cloud/streetdex/internal/domain/match"
	logpkg "github.com/kailas-cloud/streetdex/internal/logger"
	"github.com/kailas-cloud/streetdex/internal/metrics"
	"github.com/kailas-cloud/streetdex/internal/repository/resultcache"
	chiTransport "github.com/kailas-cloud/streetdex/internal/transport/chi"
	"github.com/kailas-cloud/streetdex/internal/transport/georef"
	healthuc "github.com/kailas-cloud/streetdex/internal/usecase/health"
	"github.com/kailas-cloud/streetdex/internal/usecase/pagination"
	searchuc "github.com/kailas-cloud/streetdex/internal/usecase/search"
	"github.com/kailas-cloud/streetdex/internal/usecase/session"
	"github.com/kailas-cloud/streetdex/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting streetdex API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("provider", cfg.Provider.BaseURL),
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Result cache, shared by every session and one-shot search
	cache := resultcache.New[match.Candidate](time.Duration(cfg.Cache.TTLSec)*time.Second, logger).
		WithMetrics(metrics.CacheLookupsTotal, metrics.CacheEvictionsTotal)
	if cfg.Cache.MaxEntries > 0 {
		cache = cache.WithPolicy(resultcache.NewLRU(cfg.Cache.MaxEntries))
	}
	go cache.Run(ctx, time.Duration(cfg.Cache.SweepIntervalSec)*time.Second)

	// Register metrics explicitly (no init())
	metrics.RegisterSearchMetrics(func() float64 { return float64(cache.Len()) })

	provider, err := georef.NewClient(&georef.Config{
		BaseURL:    cfg.Provider.BaseURL,
		Timeout:    cfg.Provider.Timeout(),
		RatePerSec: cfg.Provider.RatePerSec,
		Burst:      cfg.Provider.Burst,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal("Failed to create provider client", zap.Error(err))
	}

	resolver := searchuc.NewResolver(provider, cache, searchuc.Options{
		MinChars:          cfg.Search.MinChars,
		DefaultMaxResults: cfg.Search.DefaultMaxResults,
		MaxResults:        cfg.Search.MaxResults,
		CandidatePool:     cfg.Search.CandidatePool,
	}, logger)

	sessions := session.New[*searchuc.Stream]("session",
		time.Duration(cfg.Search.SessionIdleTimeoutSec)*time.Second, logger)
	views := session.New[*pagination.Accumulator]("view",
		time.Duration(cfg.Pagination.ViewIdleTimeoutSec)*time.Second, logger)
	go sessions.Run(ctx, 0)
	go views.Run(ctx, 0)

	healthSvc := healthuc.New(provider).
		WithCounter("cache_entries", cache).
		WithCounter("sessions", sessions).
		WithCounter("views", views)

	server := chiTransport.NewServer(resolver, sessions, views, provider, cache, healthSvc, chiTransport.Options{
		Debounce:        time.Duration(cfg.Search.DebounceMs) * time.Millisecond,
		DefaultPageSize: cfg.Pagination.DefaultPageSize,
		MaxPageSize:     cfg.Pagination.MaxPageSize,
		MaxWait:         time.Duration(cfg.Search.MaxWaitMs) * time.Millisecond,
	}, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(metrics.Middleware())
	chiTransport.HandlerWithOptions(server, chiTransport.ChiServerOptions{
		BaseURL:          cfg.HTTP.BaseURL,
		BaseRouter:       r,
		ErrorHandlerFunc: chiTransport.BadRequestHandler,
	})

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadTimeout:       time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	// Stops the janitors; registries close their sessions and views on the way out.
	stop()
	sessions.CloseAll()
	views.CloseAll()

	logger.Info("Server stopped gracefully")
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					if rvr == http.ErrAbortHandler {
						panic(rvr)
					}
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.String("path", r.URL.Path),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(chiTransport.ErrorResponse{
						Code:    chiTransport.ErrorResponseCodeInternalError,
						Message: "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			route := ""
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				route = rctx.RoutePattern()
			}

			// Canonical log line, one per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", route),
				zap.String("query", r.URL.RawQuery),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
