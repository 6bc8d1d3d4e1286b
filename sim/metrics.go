package sim

import (
	"fmt"
	"time"
)

// Metrics aggregates statistics about the simulation for final reporting.
// Counters indexed by Direction.
type Metrics struct {
	Slots          [numDirections]int64
	UnitsOffered   [numDirections]int64
	UnitsGranted   [numDirections]int64
	Grants         [numDirections]int64
	PartialGrants  [numDirections]int64
	Skips          [numDirections]int64
	BytesArrived   [numDirections]int64
	BytesDelivered [numDirections]int64 // acknowledged
	Acks           [numDirections]int64
	Nacks          [numDirections]int64

	Rounds          int64
	CarriedOver     int64 // rounds answered with an empty update
	DroppedUpdates  int64 // update entries addressed to detached UEs
	ClampedWeights  int64
	StalledWaits    int64 // times the loop stopped to wait for an agent
	MaxRoundLatency time.Duration

	MeanAges [numDirections][]float64 // per-slot mean age across attached UEs
	PeakAge  [numDirections]uint64
	Rewards  []float64 // reward of every round, in order
}

// NewMetrics creates an empty Metrics.
func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) recordSlot(r SlotReport) {
	d := r.Direction
	m.Slots[d]++
	m.UnitsOffered[d] += r.Result.UnitsOffered
	m.UnitsGranted[d] += r.Result.UnitsAssigned()
	m.Grants[d] += int64(len(r.Result.Assignments))
	m.Skips[d] += int64(len(r.Result.Skipped))
	for _, a := range r.Result.Assignments {
		if a.Partial {
			m.PartialGrants[d]++
		}
	}
	if r.Attached > 0 {
		m.MeanAges[d] = append(m.MeanAges[d], r.MeanAge)
	}
	m.PeakAge[d] = max(m.PeakAge[d], r.MaxAge)
}

func (m *Metrics) recordRound(r RoundReport) {
	m.Rounds++
	if r.Stats.CarriedOver {
		m.CarriedOver++
	}
	m.DroppedUpdates += int64(r.Stats.DroppedUes)
	m.ClampedWeights += int64(r.Stats.Clamped)
	m.Rewards = append(m.Rewards, r.Reward)
	m.MaxRoundLatency = max(m.MaxRoundLatency, r.Latency)
}

func (m *Metrics) recordHarq(dir Direction, ack bool, bytes int64) {
	if ack {
		m.Acks[dir]++
		m.BytesDelivered[dir] += bytes
		return
	}
	m.Nacks[dir]++
}

// AgeSummary summarizes the per-slot mean age of a direction.
func (m *Metrics) AgeSummary(dir Direction) Distribution {
	return Summarize(m.MeanAges[dir])
}

// RewardSummary summarizes the round rewards.
func (m *Metrics) RewardSummary() Distribution {
	return Summarize(m.Rewards)
}

// Utilization is the fraction of offered units that were granted in a direction.
func (m *Metrics) Utilization(dir Direction) float64 {
	if m.UnitsOffered[dir] == 0 {
		return 0
	}
	return float64(m.UnitsGranted[dir]) / float64(m.UnitsOffered[dir])
}

// Print displays aggregated metrics at the end of the simulation.
func (m *Metrics) Print(startTime time.Time) {
	fmt.Println("=== Simulation Metrics ===")
	for _, d := range Directions {
		if m.Slots[d] == 0 {
			continue
		}
		ages := m.AgeSummary(d)
		fmt.Printf("--- %s ---\n", d)
		fmt.Printf("Slots                : %d\n", m.Slots[d])
		fmt.Printf("Grants               : %d (%d partial, %d skipped)\n", m.Grants[d], m.PartialGrants[d], m.Skips[d])
		fmt.Printf("Utilization          : %.2f%%\n", 100*m.Utilization(d))
		fmt.Printf("Bytes arrived        : %d\n", m.BytesArrived[d])
		fmt.Printf("Bytes delivered      : %d\n", m.BytesDelivered[d])
		fmt.Printf("HARQ ack/nack        : %d/%d\n", m.Acks[d], m.Nacks[d])
		fmt.Printf("Mean age             : %.2f slots (p50 %.2f, p90 %.2f, p99 %.2f)\n", ages.Mean, ages.P50, ages.P90, ages.P99)
		fmt.Printf("Peak age             : %d slots\n", m.PeakAge[d])
	}
	if m.Rounds > 0 {
		rewards := m.RewardSummary()
		fmt.Println("--- agent ---")
		fmt.Printf("Rounds               : %d (%d carried over)\n", m.Rounds, m.CarriedOver)
		fmt.Printf("Mean reward          : %.4f (p50 %.4f, max %.4f)\n", rewards.Mean, rewards.P50, rewards.Max)
		fmt.Printf("Stalled waits        : %d\n", m.StalledWaits)
		fmt.Printf("Dropped / clamped    : %d / %d\n", m.DroppedUpdates, m.ClampedWeights)
		fmt.Printf("Max round latency    : %s\n", m.MaxRoundLatency)
	}
	fmt.Printf("Wall time            : %s\n", time.Since(startTime).Round(time.Millisecond))
}

// DirectionSummary is the per-direction part of a MetricsSummary.
type DirectionSummary struct {
	Slots          int64        `yaml:"slots"`
	Grants         int64        `yaml:"grants"`
	PartialGrants  int64        `yaml:"partial_grants"`
	Skips          int64        `yaml:"skips"`
	Utilization    float64      `yaml:"utilization"`
	BytesArrived   int64        `yaml:"bytes_arrived"`
	BytesDelivered int64        `yaml:"bytes_delivered"`
	Acks           int64        `yaml:"acks"`
	Nacks          int64        `yaml:"nacks"`
	Age            Distribution `yaml:"age"`
	PeakAge        uint64       `yaml:"peak_age"`
}

// MetricsSummary is the serializable end-of-run view of Metrics.
type MetricsSummary struct {
	Directions     map[string]DirectionSummary `yaml:"directions"`
	Rounds         int64                       `yaml:"rounds"`
	CarriedOver    int64                       `yaml:"carried_over"`
	DroppedUpdates int64                       `yaml:"dropped_updates"`
	ClampedWeights int64                       `yaml:"clamped_weights"`
	StalledWaits   int64                       `yaml:"stalled_waits"`
	Reward         Distribution                `yaml:"reward"`
}

// Summary builds a MetricsSummary. Directions that never ran a slot are omitted.
func (m *Metrics) Summary() MetricsSummary {
	out := MetricsSummary{
		Directions:     make(map[string]DirectionSummary),
		Rounds:         m.Rounds,
		CarriedOver:    m.CarriedOver,
		DroppedUpdates: m.DroppedUpdates,
		ClampedWeights: m.ClampedWeights,
		StalledWaits:   m.StalledWaits,
		Reward:         m.RewardSummary(),
	}
	for _, d := range Directions {
		if m.Slots[d] == 0 {
			continue
		}
		out.Directions[d.String()] = DirectionSummary{
			Slots:          m.Slots[d],
			Grants:         m.Grants[d],
			PartialGrants:  m.PartialGrants[d],
			Skips:          m.Skips[d],
			Utilization:    m.Utilization(d),
			BytesArrived:   m.BytesArrived[d],
			BytesDelivered: m.BytesDelivered[d],
			Acks:           m.Acks[d],
			Nacks:          m.Nacks[d],
			Age:            m.AgeSummary(d),
			PeakAge:        m.PeakAge[d],
		}
	}
	return out
}
