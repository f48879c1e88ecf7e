// Package httpapi is the REST surface of the taskflow services. Each service
// mounts its routes on a router carrying the shared middleware, /health and,
// when a gatherer is given, /metrics.
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	Service            string
	Logger             loggingpkg.ServiceLogger
	CORSAllowedOrigins []string

	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer

	// Health reports readiness for /health. Nil always reports healthy.
	Health func(ctx context.Context) error
}

// NewRouter returns a chi router with the shared middleware and endpoints.
func NewRouter(cfg RouterConfig) chi.Router {
	log := orDiscard(cfg.Logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors(cfg.CORSAllowedOrigins))
	}

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		status := map[string]string{"service": cfg.Service, "status": "ok"}
		if cfg.Health != nil {
			if err := cfg.Health(req.Context()); err != nil {
				log.Error("Health check failed", err, nil)
				status["status"] = "unavailable"
				respondJSON(w, http.StatusServiceUnavailable, status)
				return
			}
		}
		respondJSON(w, http.StatusOK, status)
	})

	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func requestLogger(log loggingpkg.ServiceLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("HTTP request", loggingpkg.LogFields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
			})
		})
	}
}

// cors answers preflight requests and sets the allow headers for listed origins.
func cors(allowed []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := allowedOrigin(allowed, r.Header.Get("Origin")); origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				w.Header().Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func allowedOrigin(allowed []string, origin string) string {
	if origin == "" {
		return ""
	}
	for _, a := range allowed {
		if a == "*" {
			return "*"
		}
		if strings.EqualFold(a, origin) {
			return origin
		}
	}
	return ""
}
