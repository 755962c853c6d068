// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/adiadia/agent-observability/internal/metrics"
	"github.com/adiadia/agent-observability/internal/stream"
	"github.com/adiadia/agent-observability/internal/transport/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultMaxBodyBytes = 10 << 20

type Deps struct {
	Events  EventIngester
	Queries EventQuerier
	Streams StreamAttacher
	Health  HealthChecker
	Logger  *slog.Logger

	CORSOrigins        []string
	TrustProxyHeaders  bool
	MaxBodyBytes       int64
	RateLimitPerMinute int
	Stream             stream.ClientOptions

	Version   string
	Commit    string
	BuildDate string
}

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()
	version := valueOrDefault(deps.Version, "dev")
	commit := valueOrDefault(deps.Commit, "none")
	buildDate := valueOrDefault(deps.BuildDate, "unknown")
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = defaultMaxBodyBytes
	}
	if len(deps.CORSOrigins) == 0 {
		deps.CORSOrigins = []string{"*"}
	}
	deps.Stream.Logger = logger

	r := chi.NewRouter()
	// RealIP trusts X-Forwarded-For and X-Real-IP from any caller, so it only
	// runs behind a proxy the operator vouches for.
	if deps.TrustProxyHeaders {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", headerRequestID},
		ExposedHeaders: []string{headerRequestID, "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		MaxAge:         300,
	}))

	// ---------------- ROOT ----------------

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "Multi-Agent Observability Server",
		})
	})

	// ---------------- HEALTH ----------------

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("health check hit")
		if err := checkHealth(r.Context(), deps.Health); err != nil {
			logger.Warn("health check failed", "error", err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := checkHealth(r.Context(), deps.Health); err != nil {
			logger.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	// ---------------- METRICS ----------------

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// ---------------- VERSION ----------------

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	})

	// ---------------- EVENTS ----------------

	ingest := ingestHandler(deps, logger)
	rateLimit := middleware.RateLimit(deps.RateLimitPerMinute, logger)
	r.With(rateLimit).Post("/events", ingest)
	r.With(rateLimit).Post("/events/", ingest)

	r.Get("/events/recent", recentEventsHandler(deps, logger))
	r.Get("/events/filter-options", filterOptionsHandler(deps, logger))
	r.Get("/events/count", countHandler(deps, logger))

	// ---------------- LIVE STREAM ----------------

	r.Get("/stream", streamHandler(deps, logger))

	return r
}

func checkHealth(ctx context.Context, checker HealthChecker) error {
	if checker == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return checker.Check(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func valueOrDefault(value, defaultValue string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue
	}
	return trimmed
}
