// Package http exposes the engine operations over a thin JSON API. It
// owns no business logic; every handler parses, delegates and encodes.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/IvPalmer/vault-sub000/internal/core"
)

// Services bundles the engines the API fronts.
type Services struct {
	Recurring    RecurringAPI
	Installments InstallmentsAPI
	Metrics      MetricsAPI
	Categorizer  CategorizerAPI
	Quality      QualityAPI

	// InstallmentHorizon is the schedule length used when a request
	// does not pass one.
	InstallmentHorizon int
}

// NewServer builds the HTTP server with sane timeouts.
func NewServer(addr string, svc Services) *http.Server {
	h := &handlers{svc: svc}
	r := chi.NewRouter()
	r.Use(requestID, logRequests)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/months/{month}", func(r chi.Router) {
			r.Post("/recurring/initialize", h.initializeMonth)
			r.Get("/recurring", h.recurringData)
			r.Post("/recurring/auto-link", h.autoLink)
			r.Post("/recurring/custom", h.addCustomItem)
			r.Get("/metricas", h.metricas)
			r.Get("/quality", h.quality)
		})
		r.Route("/recurring/{id}", func(r chi.Router) {
			r.Post("/link", h.mapTransaction)
			r.Post("/unlink", h.unmapTransaction)
			r.Post("/skip", h.setSkipped)
			r.Delete("/", h.removeCustomItem)
		})
		r.Route("/transactions/{id}", func(r chi.Router) {
			r.Post("/categorize-siblings", h.categorizeSiblings)
			r.Get("/similar", h.findSimilar)
			r.Post("/rename", h.rename)
		})
		r.Get("/installments/schedule", h.installmentSchedule)
		r.Get("/installments/last-month", h.lastInstallmentMonth)
		r.Post("/categorize", h.smartCategorize)
		r.Get("/inconsistencies", h.inconsistencies)
	})

	return &http.Server{
		Addr:           addr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 16,
	}
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.InfoContext(r.Context(), "Request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", r.Context().Value(requestIDKey))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, core.ErrInvalidState),
		errors.Is(err, core.ErrInvalidMonth),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrEmptyDescription):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}
