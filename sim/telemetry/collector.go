// Package telemetry exports simulator activity as Prometheus metrics.
//
// Collector implements sim.Observer, so it sees every finished scheduling pass, every
// applied agent round and every control message the simulator emits. All metrics carry
// a direction label; the control-message counter is labelled by message type instead.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aoi-sim/aoi-sim/sim"
	"github.com/aoi-sim/aoi-sim/sim/ctrl"
)

const namespace = "slotsched"

// Collector records simulator events into Prometheus collectors.
type Collector struct {
	slots         *prometheus.CounterVec
	grants        *prometheus.CounterVec
	partialGrants *prometheus.CounterVec
	skips         *prometheus.CounterVec
	unitsOffered  *prometheus.CounterVec
	unitsGranted  *prometheus.CounterVec
	bytesGranted  *prometheus.CounterVec
	backlog       *prometheus.GaugeVec
	attached      *prometheus.GaugeVec
	meanAge       *prometheus.GaugeVec
	maxAge        *prometheus.GaugeVec

	rounds       *prometheus.CounterVec
	carriedOver  *prometheus.CounterVec
	reward       *prometheus.GaugeVec
	roundLatency *prometheus.HistogramVec
	waitSlots    *prometheus.HistogramVec

	control *prometheus.CounterVec
}

// NewCollector creates the collectors and registers them with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	dir := []string{"direction"}
	counter := func(name, help string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, dir)
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return f.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, dir)
	}
	return &Collector{
		slots:         counter("slots_total", "Scheduling passes run."),
		grants:        counter("grants_total", "Grants issued."),
		partialGrants: counter("partial_grants_total", "Grants cut short by the resource pool."),
		skips:         counter("skips_total", "UEs reached but not served."),
		unitsOffered:  counter("units_offered_total", "Resource units offered to the assigner."),
		unitsGranted:  counter("units_granted_total", "Resource units granted."),
		bytesGranted:  counter("bytes_granted_total", "Transport block bytes granted."),
		backlog:       gauge("backlog_ues", "UEs with pending data after the last pass."),
		attached:      gauge("attached_ues", "UEs attached at the last pass."),
		meanAge:       gauge("mean_age_slots", "Mean age of information over attached UEs."),
		maxAge:        gauge("max_age_slots", "Largest age of information over attached UEs."),
		rounds:        counter("agent_rounds_total", "Agent rounds applied."),
		carriedOver:   counter("agent_carried_over_total", "Rounds answered with an empty update."),
		reward:        gauge("agent_reward", "Reward sent with the last round."),
		roundLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_round_seconds",
			Help:      "Wall time from a round opening to its answer being applied.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, dir),
		waitSlots: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_wait_slots",
			Help:      "Slots the timeline advanced while a round was open.",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
		}, dir),
		control: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_messages_total",
			Help:      "Control messages emitted by the simulator.",
		}, []string{"type"}),
	}
}

// OnSlot implements sim.Observer.
func (c *Collector) OnSlot(r sim.SlotReport) {
	d := r.Direction.String()
	var units, bytes float64
	partial := 0
	for _, a := range r.Result.Assignments {
		units += float64(a.Units)
		bytes += float64(a.Bytes)
		if a.Partial {
			partial++
		}
	}
	c.slots.WithLabelValues(d).Inc()
	c.grants.WithLabelValues(d).Add(float64(len(r.Result.Assignments)))
	c.partialGrants.WithLabelValues(d).Add(float64(partial))
	c.skips.WithLabelValues(d).Add(float64(len(r.Result.Skipped)))
	c.unitsOffered.WithLabelValues(d).Add(float64(r.Result.UnitsOffered))
	c.unitsGranted.WithLabelValues(d).Add(units)
	c.bytesGranted.WithLabelValues(d).Add(bytes)
	c.backlog.WithLabelValues(d).Set(float64(r.Backlog))
	c.attached.WithLabelValues(d).Set(float64(r.Attached))
	c.meanAge.WithLabelValues(d).Set(r.MeanAge)
	c.maxAge.WithLabelValues(d).Set(float64(r.MaxAge))
}

// OnRound implements sim.Observer.
func (c *Collector) OnRound(r sim.RoundReport) {
	d := r.Direction.String()
	c.rounds.WithLabelValues(d).Inc()
	if r.Stats.CarriedOver {
		c.carriedOver.WithLabelValues(d).Inc()
	}
	c.reward.WithLabelValues(d).Set(r.Reward)
	c.roundLatency.WithLabelValues(d).Observe(r.Latency.Seconds())
	c.waitSlots.WithLabelValues(d).Observe(float64(r.WaitSlots))
}

// OnControl implements sim.Observer.
func (c *Collector) OnControl(msg ctrl.Message) {
	c.control.WithLabelValues(msg.Type().String()).Inc()
}
