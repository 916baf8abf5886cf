package metrics

import (
	"net/http"

	"github.com/appetiteclub/apt"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handler struct {
	agg    *Aggregator
	logger apt.Logger
}

func NewHandler(agg *Aggregator, logger apt.Logger) *Handler {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Handler{agg: agg, logger: logger}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.agg.Registry(), promhttp.HandlerOpts{
		Registry: h.agg.Registry(),
	}))
	r.Get("/stations/{id}/stats", h.StationStats)
	r.Get("/stats", h.AllStats)
}

func (h *Handler) StationStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.agg.Known(id) {
		apt.RespondError(w, http.StatusNotFound, "station not found")
		return
	}
	apt.Respond(w, http.StatusOK, h.agg.Station(id), nil)
}

func (h *Handler) AllStats(w http.ResponseWriter, r *http.Request) {
	apt.Respond(w, http.StatusOK, map[string]interface{}{
		"stations": h.agg.Stations(),
	}, nil)
}
