package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestRouter_Health(t *testing.T) {
	r := NewRouter(RouterConfig{Version: "1.2.3"}, noop.NewTracerProvider().Tracer("test"), nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRouter_Version(t *testing.T) {
	r := NewRouter(RouterConfig{Version: "1.2.3", Commit: "abcd", BuildDate: "2026-01-01"}, noop.NewTracerProvider().Tracer("test"), nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/version", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"version":"1.2.3","commit":"abcd","buildDate":"2026-01-01"}`, rec.Body.String())
}

func TestRouter_AssignsCorrelationID(t *testing.T) {
	r := NewRouter(RouterConfig{}, noop.NewTracerProvider().Tracer("test"), nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

func TestRouter_PreservesIncomingCorrelationID(t *testing.T) {
	r := NewRouter(RouterConfig{}, noop.NewTracerProvider().Tracer("test"), nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set("X-Correlation-ID", "fixed-id")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, "fixed-id", rec.Header().Get("X-Correlation-ID"))
}

func TestRouter_RootNotFoundForOtherPaths(t *testing.T) {
	r := NewRouter(RouterConfig{}, noop.NewTracerProvider().Tracer("test"), nil)

	req := httptest.NewRequest(http.MethodGet, "/unregistered", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
