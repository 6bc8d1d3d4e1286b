package workload

import (
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/aoi-sim/aoi-sim/sim"
)

// MaxArrivals bounds the size of a generated plan.
const MaxArrivals = 10_000_000

// PlannedUe is one UE of a generated plan.
type PlannedUe struct {
	Spec     sim.UeSpec
	Group    string
	Mobility string
	Cqi      CqiSpec
	Attach   int64 // slot
	Detach   int64 // slot; -1 = stays attached
}

// Plan is the deterministic timeline a TrafficSpec expands to.
type Plan struct {
	SlotUs   int64
	Ues      []PlannedUe
	Arrivals []sim.Arrival // sorted by slot, then UE, direction and channel
}

func msToSlot(ms float64, slotUs int64) int64 {
	return int64(math.Round(ms * 1000 / float64(slotUs)))
}

type channelSamplers struct {
	arrival ArrivalSampler
	size    ValueSampler
}

// GenerateTraffic expands a spec into attaches, detaches and packet arrivals up to
// horizon (exclusive). UE IDs are assigned from 1 in group order.
//
// Deterministic given the same spec and rng seed: start offsets come from the traffic
// subsystem, and each UE's packets from its own subsystem, so adding a group does not
// change the packets of the UEs before it.
func GenerateTraffic(spec *TrafficSpec, horizon int64, rng *sim.PartitionedRNG) (*Plan, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid traffic spec: %w", err)
	}
	slotUs := spec.SlotDurationUs()
	plan := &Plan{SlotUs: slotUs}
	if horizon <= 0 {
		return plan, nil
	}
	trafficRNG := rng.ForSubsystem(sim.SubsystemTraffic)

	var id sim.UeID
	for gi := range spec.Groups {
		g := &spec.Groups[gi]
		var start ValueSampler
		if g.Start != nil {
			s, err := NewValueSampler(*g.Start)
			if err != nil {
				return nil, fmt.Errorf("group %q start: %w", g.ID, err)
			}
			start = s
		}
		samplers := make([]channelSamplers, len(g.Channels))
		for ci, c := range g.Channels {
			arrival, err := NewArrivalSampler(c.Arrival)
			if err != nil {
				return nil, fmt.Errorf("group %q channel %d arrival: %w", g.ID, c.ID, err)
			}
			size, err := NewValueSampler(c.Size)
			if err != nil {
				return nil, fmt.Errorf("group %q channel %d size: %w", g.ID, c.ID, err)
			}
			samplers[ci] = channelSamplers{arrival: arrival, size: size}
		}

		for k := 0; k < g.Count; k++ {
			id++
			ue := PlannedUe{
				Group:    g.ID,
				Mobility: g.Mobility,
				Cqi:      g.CqiFor(),
				Attach:   msToSlot(g.AttachMs, slotUs),
				Detach:   -1,
			}
			ue.Spec = sim.UeSpec{ID: id, Cqi: ue.Cqi.Initial}
			if g.DetachMs > 0 {
				ue.Detach = msToSlot(g.DetachMs, slotUs)
			}
			for _, c := range g.Channels {
				lc := sim.LogicalChannel{ID: sim.ChannelID(c.ID), Group: c.Group, TrafficClass: c.TrafficClass, Priority: c.Priority}
				if dir, _ := sim.ParseDirection(c.Direction); dir == sim.Downlink {
					ue.Spec.Downlink = append(ue.Spec.Downlink, lc)
				} else {
					ue.Spec.Uplink = append(ue.Spec.Uplink, lc)
				}
			}
			plan.Ues = append(plan.Ues, ue)

			var offsetUs int64
			if start != nil {
				offsetUs = positiveMicros(start.Sample(trafficRNG) * 1000)
			}
			end := horizon
			if ue.Detach >= 0 {
				end = min(end, ue.Detach)
			}
			ueRNG := rng.ForSubsystem(sim.SubsystemUe(id))
			for ci, c := range g.Channels {
				dir, _ := sim.ParseDirection(c.Direction)
				t := ue.Attach*slotUs + offsetUs
				for n := 0; g.Packets == 0 || n < g.Packets; n++ {
					slot := t / slotUs
					if slot >= end {
						break
					}
					size := int64(math.Round(samplers[ci].size.Sample(ueRNG)))
					plan.Arrivals = append(plan.Arrivals, sim.Arrival{
						Slot: slot, Ue: id, Direction: dir, Channel: sim.ChannelID(c.ID), Bytes: max(size, 1),
					})
					if len(plan.Arrivals) > MaxArrivals {
						return nil, fmt.Errorf("traffic plan exceeds %d arrivals; lower the rate or the horizon", MaxArrivals)
					}
					t += samplers[ci].arrival.SampleIAT(ueRNG)
				}
			}
		}
	}

	sort.SliceStable(plan.Arrivals, func(i, j int) bool {
		a, b := plan.Arrivals[i], plan.Arrivals[j]
		if a.Slot != b.Slot {
			return a.Slot < b.Slot
		}
		if a.Ue != b.Ue {
			return a.Ue < b.Ue
		}
		if a.Direction != b.Direction {
			return a.Direction < b.Direction
		}
		return a.Channel < b.Channel
	})
	logrus.Infof("traffic plan: %d ues, %d arrivals (%d B uplink, %d B downlink) over %d slots",
		len(plan.Ues), len(plan.Arrivals), plan.Bytes(sim.Uplink), plan.Bytes(sim.Downlink), horizon)
	return plan, nil
}

// Bytes totals the planned arrivals of one direction.
func (p *Plan) Bytes(dir sim.Direction) int64 {
	var total int64
	for _, a := range p.Arrivals {
		if a.Direction == dir {
			total += a.Bytes
		}
	}
	return total
}

// Load schedules the plan on a simulator that has not started yet.
func (p *Plan) Load(s *sim.Simulator) {
	for _, ue := range p.Ues {
		s.ScheduleAttach(ue.Attach, ue.Spec)
		if ue.Detach >= 0 {
			s.ScheduleDetach(ue.Detach, ue.Spec.ID)
		}
	}
	for _, a := range p.Arrivals {
		s.InjectArrival(a)
	}
}
