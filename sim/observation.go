package sim

import (
	"fmt"
	"sort"
)

// ObservationFields is the number of values each flow contributes to Observation.Vector.
const ObservationFields = 6

// ChannelObservation is the snapshot of one active logical channel.
type ChannelObservation struct {
	Ue             UeID      `json:"ue"`
	Channel        ChannelID `json:"channel"`
	TrafficClass   uint8     `json:"traffic_class"`
	Priority       uint8     `json:"priority"`
	QueueDelay     int64     `json:"queue_delay"`
	Age            uint64    `json:"age"`
	ChannelQuality uint8     `json:"channel_quality"`
}

// Observation is the per-round snapshot sent to the agent, ordered by UE ID then channel ID.
type Observation struct {
	Direction Direction            `json:"direction"`
	Slot      int64                `json:"slot"`
	Flows     []ChannelObservation `json:"flows"`
}

// BuildObservation snapshots every active channel of ues in dir.
func BuildObservation(dir Direction, slot int64, ues []*UeRecord) Observation {
	obs := Observation{Direction: dir, Slot: slot, Flows: make([]ChannelObservation, 0, len(ues))}
	for _, ue := range ues {
		for _, lc := range ue.ActiveChannels(dir) {
			obs.Flows = append(obs.Flows, ChannelObservation{
				Ue:             ue.ID,
				Channel:        lc.ID,
				TrafficClass:   lc.TrafficClass,
				Priority:       lc.Priority,
				QueueDelay:     lc.QueueDelay,
				Age:            ue.Age(dir),
				ChannelQuality: ue.ChannelQuality(dir),
			})
		}
	}
	sort.SliceStable(obs.Flows, func(i, j int) bool {
		if obs.Flows[i].Ue != obs.Flows[j].Ue {
			return obs.Flows[i].Ue < obs.Flows[j].Ue
		}
		return obs.Flows[i].Channel < obs.Flows[j].Channel
	})
	return obs
}

// Vector flattens the observation into ObservationFields values per flow:
// ue, channel, priority, queue delay, age, channel quality.
func (o Observation) Vector() []float64 {
	v := make([]float64, 0, len(o.Flows)*ObservationFields)
	for _, f := range o.Flows {
		v = append(v, float64(f.Ue), float64(f.Channel), float64(f.Priority),
			float64(f.QueueDelay), float64(f.Age), float64(f.ChannelQuality))
	}
	return v
}

// WeightUpdate maps UE -> channel -> weight in [0,1]. A nil or empty update means
// "keep the previous weights".
type WeightUpdate map[UeID]map[ChannelID]float64

// Set stores one weight, allocating the inner map as needed.
func (w WeightUpdate) Set(ue UeID, ch ChannelID, weight float64) {
	inner, ok := w[ue]
	if !ok {
		inner = make(map[ChannelID]float64)
		w[ue] = inner
	}
	inner[ch] = weight
}

// Len counts the channel entries of the update.
func (w WeightUpdate) Len() int {
	n := 0
	for _, inner := range w {
		n += len(inner)
	}
	return n
}

// ActionsToUpdate maps a flat action vector onto the observation it answers:
// actions[i] is the weight of obs.Flows[i].
func ActionsToUpdate(obs Observation, actions []float64) (WeightUpdate, error) {
	if len(actions) != len(obs.Flows) {
		return nil, fmt.Errorf("got %d actions for %d observed flows", len(actions), len(obs.Flows))
	}
	update := make(WeightUpdate, len(actions))
	for i, f := range obs.Flows {
		update.Set(f.Ue, f.Channel, actions[i])
	}
	return update, nil
}
