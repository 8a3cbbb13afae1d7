// Package api maps the country aggregator onto HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/illmade-knight/go-worldstats/pkg/country"
	"github.com/illmade-knight/go-worldstats/pkg/series"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const serviceName = "world-data-explorer-backend"

// Service is the aggregator surface the handlers need.
type Service interface {
	GetCountryCombined(ctx context.Context, code string) country.Record
	GetIndicatorSeries(ctx context.Context, code string, kind country.IndicatorKind) series.TimeSeries
	SearchCountries(ctx context.Context, query string) []country.Summary
}

// Handler serves the public API.
type Handler struct {
	service        Service
	gatherer       prometheus.Gatherer
	logger         zerolog.Logger
	requestTimeout time.Duration
}

// New creates a Handler. A nil gatherer disables /metrics.
func New(service Service, gatherer prometheus.Gatherer, requestTimeout time.Duration, logger zerolog.Logger) *Handler {
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}
	return &Handler{
		service:        service,
		gatherer:       gatherer,
		logger:         logger.With().Str("component", "APIHandler").Logger(),
		requestTimeout: requestTimeout,
	}
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(h.logger))
	r.Use(cors)
	r.Use(cacheControl)

	r.Get("/health", h.handleHealth)
	if h.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(chimw.Timeout(h.requestTimeout))
		r.Get("/country/{code}", h.handleCountry)
		r.Get("/gdp/{code}", h.handleKind(country.KindGDP))
		r.Get("/population/{code}", h.handleKind(country.KindPopulation))
		r.Get("/indicator/{kind}/{code}", h.handleIndicator)
		r.Get("/search", h.handleSearch)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not Found")
	})
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "service": serviceName})
}

func codeParam(r *http.Request) string {
	return strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "code")))
}

func (h *Handler) handleCountry(w http.ResponseWriter, r *http.Request) {
	code := codeParam(r)
	if len(code) < 2 {
		writeError(w, http.StatusBadRequest, "Invalid country code")
		return
	}
	writeJSON(w, http.StatusOK, h.service.GetCountryCombined(r.Context(), code))
}

func (h *Handler) handleKind(kind country.IndicatorKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.service.GetIndicatorSeries(r.Context(), codeParam(r), kind))
	}
}

func (h *Handler) handleIndicator(w http.ResponseWriter, r *http.Request) {
	kind, ok := country.ParseIndicatorKind(chi.URLParam(r, "kind"))
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown indicator")
		return
	}
	h.handleKind(kind)(w, r)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.SearchCountries(r.Context(), r.URL.Query().Get("q")))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
