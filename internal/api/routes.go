package api

import (
	"net/http"
	"time"

	"watchcache/internal/filecache"
	"watchcache/internal/logging"
	"watchcache/internal/metrics"
	"watchcache/internal/refresh"

	"golang.org/x/time/rate"
)

const (
	defaultRateLimit = 20
	defaultRateBurst = 40
)

type Options struct {
	Cache          *filecache.Cache
	Logger         *logging.Logger
	Metrics        *metrics.Registry
	AllowedOrigins []string
	// RateLimit is requests per second across all routes. Negative disables
	// limiting, zero uses the default.
	RateLimit    float64
	RateBurst    int
	IndexSoftTTL time.Duration
	IndexHardTTL time.Duration
}

// NewHandler builds the HTTP surface for a cache with request ids, logging
// and rate limiting applied.
func NewHandler(options Options) http.Handler {
	mux := http.NewServeMux()
	RegisterRoutes(mux, options)

	var handler http.Handler = mux
	handler = loggingMiddleware(options.Logger, handler)
	handler = rateLimitMiddleware(newLimiter(options.RateLimit, options.RateBurst), handler)
	return requestIDMiddleware(handler)
}

func RegisterRoutes(mux *http.ServeMux, options Options) {
	registry := options.Metrics
	if registry == nil {
		registry = metrics.Default
	}
	rest := &RestHandler{
		Cache:  options.Cache,
		Logger: options.Logger,
		index: refresh.New[[]filecache.EntryInfo](refresh.Options{
			HardTTL: options.IndexHardTTL,
			SoftTTL: options.IndexSoftTTL,
			Logger:  options.Logger,
		}),
	}
	rest.watchIndex()

	mux.HandleFunc("/api/entries", restHandler(rest.handleEntries))
	mux.HandleFunc("/api/entries/{name...}", restHandler(rest.handleEntry))
	mux.HandleFunc("/api/logs", restHandler(rest.handleLogs))
	mux.Handle("/api/events", &cacheEventsHandler{
		Cache:          options.Cache,
		Logger:         options.Logger,
		AllowedOrigins: options.AllowedOrigins,
	})
	mux.Handle("/metrics", registry.Handler())
}

func newLimiter(limit float64, burst int) *rate.Limiter {
	if limit < 0 {
		return nil
	}
	if limit == 0 {
		limit = defaultRateLimit
	}
	if burst <= 0 {
		burst = defaultRateBurst
	}
	return rate.NewLimiter(rate.Limit(limit), burst)
}
