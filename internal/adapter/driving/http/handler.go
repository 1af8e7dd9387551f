package httphandler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ericfisherdev/gradewatch/internal/application"
)

// StatusSource answers liveness and status queries.
type StatusSource interface {
	Check(ctx context.Context) error
	Status(ctx context.Context) (*application.StatusReport, error)
}

// Handler is the HTTP driving adapter that serves the operational endpoints.
type Handler struct {
	status StatusSource
	logger *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(status StatusSource, logger *slog.Logger) *Handler {
	return &Handler{
		status: status,
		logger: logger,
	}
}

// NewRouter creates an http.Handler with all routes registered and wrapped
// with logging, recovery and metrics middleware.
func NewRouter(h *Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(func(next http.Handler) http.Handler { return loggingMiddleware(logger, next) })
	r.Use(func(next http.Handler) http.Handler { return recoveryMiddleware(logger, next) })
	r.Use(metricsMiddleware)

	r.Get("/healthz", h.Health)
	r.Get("/status", h.Status)
	r.Handle("/metrics", promhttp.Handler())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}

// Health reports whether the subject store is reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC().Format(time.RFC3339)

	if err := h.status.Check(r.Context()); err != nil {
		h.logger.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Time: now})
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Time: now})
}

// Status returns subject counts and the last poll cycle summary.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	report, err := h.status.Status(r.Context())
	if err != nil {
		h.logger.Error("failed to build status report", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toStatusResponse(report))
}
