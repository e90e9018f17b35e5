// Package api assembles the catalog daemon's HTTP surface: a mux of
// per-concern handlers wrapped in a correlation-ID, request-logging, and
// tracing middleware chain.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// RouterConfig carries the build metadata exposed by /v1/version.
type RouterConfig struct {
	Version   string
	Commit    string
	BuildDate string
}

// MetricsHandler exposes the Prometheus scrape endpoint, set only when
// observability is enabled.
type MetricsHandler interface {
	MetricsHandler() http.Handler
}

// Router is the daemon's top-level HTTP handler: a mux plus a fixed
// middleware chain applied to every request.
type Router struct {
	mux            *http.ServeMux
	config         RouterConfig
	metricsHandler MetricsHandler
	tracer         trace.Tracer
	logger         *slog.Logger
}

// NewRouter constructs a Router with the health/version/root routes
// already registered. Per-concern handlers register their own routes
// via Mux().
func NewRouter(cfg RouterConfig, tracer trace.Tracer, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		mux:    http.NewServeMux(),
		config: cfg,
		tracer: tracer,
		logger: logger.With("component", "api"),
	}
	r.mux.HandleFunc("GET /v1/health", r.handleHealth)
	r.mux.HandleFunc("GET /v1/version", r.handleVersion)
	r.mux.HandleFunc("GET /", r.handleRoot)
	return r
}

// SetMetricsHandler registers GET /metrics, backed by h.
func (r *Router) SetMetricsHandler(h MetricsHandler) {
	r.metricsHandler = h
	r.mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, req *http.Request) {
		r.metricsHandler.MetricsHandler().ServeHTTP(w, req)
	})
}

// Mux returns the underlying mux, for handlers that register their own
// routes.
func (r *Router) Mux() *http.ServeMux {
	return r.mux
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) handleVersion(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":   r.config.Version,
		"commit":    r.config.Commit,
		"buildDate": r.config.BuildDate,
	})
}

func (r *Router) handleRoot(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"service": "catalogd"})
}

// ServeHTTP applies the middleware chain (innermost to outermost:
// tracing, correlation ID, request logging) around the mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	handler := http.Handler(r.mux)
	handler = r.withTracing(handler)
	handler = r.withCorrelationID(handler)
	handler = r.withRequestLogging(handler)
	handler.ServeHTTP(w, req)
}

type correlationIDKey struct{}

// CorrelationIDFromContext returns the correlation ID stamped by
// withCorrelationID, or "" if none is present.
func CorrelationIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(correlationIDKey{}).(string)
	return v
}

func (r *Router) withCorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id := req.Header.Get("X-Correlation-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Correlation-ID", id)
		ctx := context.WithValue(req.Context(), correlationIDKey{}, id)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

func (r *Router) withTracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r.tracer == nil {
			next.ServeHTTP(w, req)
			return
		}
		ctx, span := r.tracer.Start(req.Context(), req.Method+" "+req.URL.Path)
		defer span.End()
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

func (r *Router) withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, req)
		r.logger.Info("request",
			"method", req.Method,
			"path", req.URL.Path,
			"correlation_id", CorrelationIDFromContext(req.Context()),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
