package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"papers-gateway/internal/middleware"
)

const maxBodyBytes = 1 << 20

type RouterConfig struct {
	Logger            *slog.Logger
	CORSAllowedOrigin string
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// NewRouter serves the same operations as Handle over plain HTTP.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	origin := cfg.CORSAllowedOrigin
	if origin == "" {
		origin = "*"
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewCorrelationMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewCORSMiddleware(origin))

	for _, op := range h.operations() {
		r.Method(op.method, op.path, h.serve(op))
	}
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusNotFound, detailResponse{Detail: msgRouteNotFound})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusMethodNotAllowed, detailResponse{Detail: msgMethodNotSupported})
	})
	return r
}

func (h *Handler) serve(op operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			// An unreadable body decodes as invalid, same as malformed JSON.
			body = nil
		}
		status, payload := h.dispatch(r.Context(), op, r.Header.Get("Authorization"), body)
		writeJSON(w, r, status, payload)
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(r.Context(), "failed to write response", "err", err)
	}
}
