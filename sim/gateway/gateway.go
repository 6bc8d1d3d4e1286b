// Package gateway exposes agent rounds over HTTP so that the decision maker can run in
// another process.
//
// Gateway implements sim.Agent. Each round the simulator opens gets a UUID and waits in
// the gateway until a remote agent fetches it (GET /api/v1/rounds/next) and answers it
// (POST /api/v1/rounds/{id}/action). With a Timeout configured, a round nobody answers
// in time is resumed with an empty update, which keeps the previous weights.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/aoi-sim/aoi-sim/sim"
)

var (
	// ErrUnknownRound is returned for round IDs the gateway never issued or already forgot.
	ErrUnknownRound = errors.New("unknown round")
	// ErrRoundClosed is returned when answering a round that was answered or has expired.
	ErrRoundClosed = errors.New("round already closed")
)

// Status is the lifecycle state of a round held by the gateway.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAnswered Status = "answered"
	StatusExpired  Status = "expired"
)

// DefaultPollTimeout bounds a single long-poll on /rounds/next.
const DefaultPollTimeout = 30 * time.Second

// Config holds the gateway settings.
type Config struct {
	// Timeout resumes an unanswered round with an empty update. Zero waits forever.
	Timeout time.Duration
	// PollTimeout caps the wait parameter of /rounds/next.
	PollTimeout time.Duration
	// Secret enables HS256 bearer-token auth on the API routes. Empty disables auth.
	Secret []byte
	// History is the number of closed rounds kept for GET /rounds/{id}.
	History int
	// Registry receives the gateway collectors and is served on /metrics.
	// A private registry is created when nil.
	Registry *prometheus.Registry
}

// DefaultConfig returns a gateway without timeout or auth.
func DefaultConfig() Config {
	return Config{PollTimeout: DefaultPollTimeout, History: 256}
}

type entry struct {
	id     string
	round  *sim.Round
	status Status
	opened time.Time
	timer  *time.Timer
}

// Gateway parks rounds until a remote agent answers them.
type Gateway struct {
	cfg    Config
	router chi.Router
	reg    *prometheus.Registry

	mu      sync.Mutex
	rounds  map[string]*entry
	open    map[sim.Direction]*entry
	closed  []string // closed round IDs, oldest first
	wake    chan struct{}
	started time.Time

	opened   prometheus.Counter
	answered prometheus.Counter
	expired  prometheus.Counter
	pending  prometheus.Gauge
	latency  prometheus.Histogram
}

// New creates a gateway with its routes registered.
func New(cfg Config) *Gateway {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.History < 0 {
		cfg.History = 0
	}
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	g := &Gateway{
		cfg:     cfg,
		router:  chi.NewRouter(),
		reg:     reg,
		rounds:  make(map[string]*entry),
		open:    make(map[sim.Direction]*entry),
		wake:    make(chan struct{}),
		started: time.Now(),
		opened: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_rounds_opened_total", Help: "Rounds handed to the gateway.",
		}),
		answered: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_rounds_answered_total", Help: "Rounds answered by a remote agent.",
		}),
		expired: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_rounds_expired_total", Help: "Rounds resumed empty after the timeout.",
		}),
		pending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_rounds_pending", Help: "Rounds waiting for an answer.",
		}),
		latency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_answer_seconds",
			Help:    "Wall time from a round being opened to its answer.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
		}),
	}
	g.routes()
	return g
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this gateway.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Registry returns the registry served on /metrics.
func (g *Gateway) Registry() *prometheus.Registry { return g.reg }

// Notify implements sim.Agent. It never blocks.
func (g *Gateway) Notify(round *sim.Round) {
	e := &entry{id: uuid.NewString(), round: round, status: StatusPending, opened: time.Now()}

	g.mu.Lock()
	g.rounds[e.id] = e
	g.open[round.Direction] = e
	if g.cfg.Timeout > 0 {
		e.timer = time.AfterFunc(g.cfg.Timeout, func() { g.expire(e.id) })
	}
	close(g.wake)
	g.wake = make(chan struct{})
	g.mu.Unlock()

	g.opened.Inc()
	g.pending.Inc()
	logrus.Debugf("[slot %07d] %s round %d parked as %s (%d flows)",
		round.Slot, round.Direction, round.Seq, e.id, len(round.Observation.Flows))
}

// expire resumes a still-pending round with an empty update.
func (g *Gateway) expire(id string) {
	g.mu.Lock()
	e, ok := g.rounds[id]
	if !ok || e.status != StatusPending {
		g.mu.Unlock()
		return
	}
	e.status = StatusExpired
	g.closeLocked(e)
	g.mu.Unlock()

	g.expired.Inc()
	g.pending.Dec()
	logrus.Warnf("[slot %07d] %s round %d: no answer within %s; keeping previous weights",
		e.round.Slot, e.round.Direction, e.round.Seq, g.cfg.Timeout)
	if err := e.round.Resume(nil); err != nil {
		logrus.Warnf("round %s: %v", id, err)
	}
}

// Answer resumes the round id with update.
func (g *Gateway) Answer(id string, update sim.WeightUpdate) error {
	g.mu.Lock()
	e, ok := g.rounds[id]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("round %s: %w", id, ErrUnknownRound)
	}
	if e.status != StatusPending {
		status := e.status
		g.mu.Unlock()
		return fmt.Errorf("round %s is %s: %w", id, status, ErrRoundClosed)
	}
	e.status = StatusAnswered
	if e.timer != nil {
		e.timer.Stop()
	}
	g.closeLocked(e)
	g.mu.Unlock()

	g.answered.Inc()
	g.pending.Dec()
	g.latency.Observe(time.Since(e.opened).Seconds())
	return e.round.Resume(update)
}

// closeLocked moves e out of the open set and trims the history. Caller holds g.mu.
func (g *Gateway) closeLocked(e *entry) {
	if g.open[e.round.Direction] == e {
		delete(g.open, e.round.Direction)
	}
	g.closed = append(g.closed, e.id)
	for len(g.closed) > g.cfg.History {
		delete(g.rounds, g.closed[0])
		g.closed = g.closed[1:]
	}
}

// Lookup returns the view of round id.
func (g *Gateway) Lookup(id string) (RoundView, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.rounds[id]
	if !ok {
		return RoundView{}, fmt.Errorf("round %s: %w", id, ErrUnknownRound)
	}
	return e.view(), nil
}

// Next returns the oldest pending round, restricted to dir when dir is non-nil. It waits
// up to wait for one to open; ok is false if none did.
func (g *Gateway) Next(ctx context.Context, dir *sim.Direction, wait time.Duration) (view RoundView, ok bool) {
	wait = min(wait, g.cfg.PollTimeout)
	timer := time.NewTimer(max(wait, 0))
	defer timer.Stop()
	for {
		g.mu.Lock()
		if e := g.nextLocked(dir); e != nil {
			v := e.view()
			g.mu.Unlock()
			return v, true
		}
		wake := g.wake
		g.mu.Unlock()

		select {
		case <-wake:
		case <-timer.C:
			return RoundView{}, false
		case <-ctx.Done():
			return RoundView{}, false
		}
	}
}

func (g *Gateway) nextLocked(dir *sim.Direction) *entry {
	if dir != nil {
		return g.open[*dir]
	}
	candidates := make([]*entry, 0, len(g.open))
	for _, e := range g.open {
		candidates = append(candidates, e)
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].round.Seq < candidates[j].round.Seq })
	return candidates[0]
}

// Pending returns the number of rounds waiting for an answer.
func (g *Gateway) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.open)
}

// RoundView is the JSON form of a round.
type RoundView struct {
	ID          string          `json:"id"`
	Seq         uint64          `json:"seq"`
	Direction   sim.Direction   `json:"direction"`
	Slot        int64           `json:"slot"`
	Status      Status          `json:"status"`
	Observation sim.Observation `json:"observation"`
	Vector      []float64       `json:"vector"`
	Reward      float64         `json:"reward"`
	Done        bool            `json:"done"`
	Info        string          `json:"info,omitempty"`
}

func (e *entry) view() RoundView {
	r := e.round
	return RoundView{
		ID:          e.id,
		Seq:         r.Seq,
		Direction:   r.Direction,
		Slot:        r.Slot,
		Status:      e.status,
		Observation: r.Observation,
		Vector:      r.Observation.Vector(),
		Reward:      r.Reward,
		Done:        r.Done,
		Info:        r.Info,
	}
}
