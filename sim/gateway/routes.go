package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aoi-sim/aoi-sim/sim"
)

// maxActionBody bounds the size of an action request.
const maxActionBody = 4 << 20

func (g *Gateway) routes() {
	r := g.router
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", g.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(g.reg, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		if len(g.cfg.Secret) > 0 {
			r.Use(requireToken(g.cfg.Secret))
		}
		r.Get("/rounds/next", g.handleNext)
		r.Get("/rounds/{id}", g.handleGetRound)
		r.Post("/rounds/{id}/action", g.handleAction)
	})
}

// Health is the body of GET /healthz.
type Health struct {
	Uptime  string `json:"uptime"`
	Pending int    `json:"pending"`
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondOK(w, Health{Uptime: time.Since(g.started).Round(time.Second).String(), Pending: g.Pending()})
}

func (g *Gateway) handleNext(w http.ResponseWriter, r *http.Request) {
	var dir *sim.Direction
	if name := r.URL.Query().Get("direction"); name != "" {
		d, err := sim.ParseDirection(name)
		if err != nil {
			respondError(w, http.StatusBadRequest, codeBadRequest, err.Error())
			return
		}
		dir = &d
	}
	wait := g.cfg.PollTimeout
	if raw := r.URL.Query().Get("wait"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			respondError(w, http.StatusBadRequest, codeBadRequest, fmt.Sprintf("invalid wait %q", raw))
			return
		}
		wait = d
	}

	view, ok := g.Next(r.Context(), dir, wait)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respondOK(w, view)
}

func (g *Gateway) handleGetRound(w http.ResponseWriter, r *http.Request) {
	view, err := g.Lookup(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, codeNotFound, err.Error())
		return
	}
	respondOK(w, view)
}

// ActionRequest answers a round. Exactly one of Actions (one weight per observed flow,
// in observation order) and Weights must be set.
type ActionRequest struct {
	Actions []float64        `json:"actions"`
	Weights sim.WeightUpdate `json:"weights"`
}

func (g *Gateway) handleAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req ActionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxActionBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, codeBadRequest, "invalid body: "+err.Error())
		return
	}
	if (req.Actions == nil) == (req.Weights == nil) {
		respondError(w, http.StatusBadRequest, codeBadRequest, "exactly one of actions or weights is required")
		return
	}

	view, err := g.Lookup(id)
	if err != nil {
		respondError(w, http.StatusNotFound, codeNotFound, err.Error())
		return
	}
	update := req.Weights
	if req.Actions != nil {
		update, err = sim.ActionsToUpdate(view.Observation, req.Actions)
		if err != nil {
			respondError(w, http.StatusUnprocessableEntity, codeUnprocessed, err.Error())
			return
		}
	}

	if err := g.Answer(id, update); err != nil {
		switch {
		case errors.Is(err, ErrUnknownRound):
			respondError(w, http.StatusNotFound, codeNotFound, err.Error())
		case errors.Is(err, ErrRoundClosed), errors.Is(err, sim.ErrRoundAnswered):
			respondError(w, http.StatusConflict, codeConflict, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "internal", err.Error())
		}
		return
	}
	view.Status = StatusAnswered
	respondOK(w, view)
}
