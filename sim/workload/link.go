package workload

import (
	"math/rand"

	"github.com/aoi-sim/aoi-sim/sim"
)

// DefaultBler is the first-transmission block error rate at good channel quality.
const DefaultBler = 0.1

// goodCqi is the lowest CQI decoded at the target error rate. Below it the error rate
// rises linearly to 1 at CQI 0.
const goodCqi = 7

type linkKey struct {
	ue  sim.UeID
	dir sim.Direction
}

// StochasticLink is a sim.LinkModel driven by PartitionedRNG subsystems: CQI follows a
// bounded ±1 random walk per report, decode failures follow a CQI-dependent error rate.
//
// Unregistered UEs report sim.MaxCqi and see the target error rate.
type StochasticLink struct {
	bler     float64
	profiles map[sim.UeID]CqiSpec
	cqi      map[linkKey]uint8
	channel  *rand.Rand
	harq     *rand.Rand
}

// NewStochasticLink creates a link drawing from the channel and harq subsystems of rng.
func NewStochasticLink(spec LinkSpec, rng *sim.PartitionedRNG) *StochasticLink {
	bler := DefaultBler
	if spec.Bler != nil {
		bler = *spec.Bler
	}
	return &StochasticLink{
		bler:     bler,
		profiles: make(map[sim.UeID]CqiSpec),
		cqi:      make(map[linkKey]uint8),
		channel:  rng.ForSubsystem(sim.SubsystemChannel),
		harq:     rng.ForSubsystem(sim.SubsystemHarq),
	}
}

// Register sets the CQI walk of a UE.
func (l *StochasticLink) Register(ue sim.UeID, profile CqiSpec) {
	l.profiles[ue] = profile
}

// RegisterPlan registers every UE of a plan.
func (l *StochasticLink) RegisterPlan(p *Plan) {
	for _, ue := range p.Ues {
		l.Register(ue.Spec.ID, ue.Cqi)
	}
}

// ChannelQuality returns the next CQI of the walk. The first call for a UE and direction
// returns the initial value.
func (l *StochasticLink) ChannelQuality(ue sim.UeID, dir sim.Direction, _ int64) uint8 {
	p, ok := l.profiles[ue]
	if !ok {
		return sim.MaxCqi
	}
	key := linkKey{ue, dir}
	cur, seen := l.cqi[key]
	if !seen {
		cur = p.Initial
		if cur == 0 {
			cur = p.Min + uint8(l.channel.Intn(int(p.Max-p.Min)+1))
		}
	} else if p.Step > 0 && l.channel.Float64() < p.Step {
		if l.channel.Intn(2) == 0 {
			if cur > p.Min {
				cur--
			}
		} else if cur < p.Max {
			cur++
		}
	}
	l.cqi[key] = cur
	return cur
}

// Decode draws the outcome of a transmission at the reported CQI.
func (l *StochasticLink) Decode(_ sim.UeID, _ sim.Direction, cqi uint8, _ int64) bool {
	return l.harq.Float64() >= l.ErrorRate(cqi)
}

// ErrorRate is the probability that a transmission at cqi fails.
func (l *StochasticLink) ErrorRate(cqi uint8) float64 {
	switch {
	case cqi == 0:
		return 1
	case cqi >= goodCqi:
		return l.bler
	default:
		return l.bler + (1-l.bler)*float64(goodCqi-cqi)/goodCqi
	}
}
