package sim

import (
	"fmt"
	"sort"
)

// LogicalChannel is the scheduler's view of one logical channel of a UE in one direction.
// PendingBytes and QueueDelay are refreshed from buffer-status reports; the rest is
// fixed at attach time.
type LogicalChannel struct {
	ID           ChannelID
	Group        uint8 // logical channel group, the granularity of buffer-status reports
	TrafficClass uint8 // QCI
	Priority     uint8 // lower value = more important; 0 is treated as 1 by rewards
	PendingBytes int64
	QueueDelay   int64 // slots the head-of-line packet has been waiting
}

// Active reports whether the channel has data waiting.
func (lc *LogicalChannel) Active() bool {
	return lc.PendingBytes > 0
}

// directionState is the part of a UeRecord owned by one direction's scheduling pass.
type directionState struct {
	channels  map[ChannelID]*LogicalChannel
	cqi       uint8
	age       uint64
	smoothing float64 // weighted moving average of granted kilobits per slot
	metric    float64
	weights   map[ChannelID]float64
	harqAck   bool
	harqSeen  bool // an outcome arrived since the last round scored it
}

// UeRecord is the per-UE scheduling state.
//
// Lifecycle: created on attach, dropped on detach. Every field of a direction is
// mutated only by the scheduling pass that owns that direction, so uplink and downlink
// passes never contend for the same data.
//
// A UeRecord is tagged with the PolicyKind it was built for; policies assert the tag
// before touching policy-specific state (smoothing counter, weight map).
type UeRecord struct {
	ID   UeID
	kind PolicyKind
	dirs [numDirections]directionState
}

// NewUeRecord creates a record for the given policy kind with age and smoothing at their
// initial value of 1 and no channels.
func NewUeRecord(id UeID, kind PolicyKind) *UeRecord {
	if !IsValidPolicyKind(string(kind)) {
		panic(fmt.Sprintf("ue %d: unknown policy kind %q", id, kind))
	}
	if kind == "" {
		kind = PolicyAgeGreedy
	}
	ue := &UeRecord{ID: id, kind: kind}
	for d := range ue.dirs {
		ue.dirs[d] = directionState{
			channels:  make(map[ChannelID]*LogicalChannel),
			age:       MinAge,
			smoothing: 1,
			weights:   make(map[ChannelID]float64),
		}
	}
	return ue
}

// Kind returns the policy kind this record was built for.
func (u *UeRecord) Kind() PolicyKind {
	return u.kind
}

func (u *UeRecord) state(dir Direction) *directionState {
	checkDirection(dir)
	return &u.dirs[dir]
}

// AddChannel registers a logical channel, replacing any channel with the same ID.
func (u *UeRecord) AddChannel(dir Direction, lc LogicalChannel) {
	ch := lc
	u.state(dir).channels[lc.ID] = &ch
}

// RemoveChannel drops a logical channel and any weight held for it.
func (u *UeRecord) RemoveChannel(dir Direction, id ChannelID) {
	st := u.state(dir)
	delete(st.channels, id)
	delete(st.weights, id)
}

// Channel returns the channel with the given ID, or nil.
func (u *UeRecord) Channel(dir Direction, id ChannelID) *LogicalChannel {
	return u.state(dir).channels[id]
}

// Channels returns all channels of a direction ordered by channel ID.
func (u *UeRecord) Channels(dir Direction) []*LogicalChannel {
	st := u.state(dir)
	out := make([]*LogicalChannel, 0, len(st.channels))
	for _, lc := range st.channels {
		out = append(out, lc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActiveChannels returns the channels with pending data, ordered by channel ID.
func (u *UeRecord) ActiveChannels(dir Direction) []*LogicalChannel {
	all := u.Channels(dir)
	out := all[:0]
	for _, lc := range all {
		if lc.Active() {
			out = append(out, lc)
		}
	}
	return out
}

// PendingBytes sums the buffered bytes over all channels of a direction.
func (u *UeRecord) PendingBytes(dir Direction) int64 {
	var total int64
	for _, lc := range u.state(dir).channels {
		total += lc.PendingBytes
	}
	return total
}

// HasPendingData reports whether any channel of the direction has data waiting.
func (u *UeRecord) HasPendingData(dir Direction) bool {
	return u.PendingBytes(dir) > 0
}

// Consume removes granted bytes from the scheduler's view of the buffers, serving
// channels by priority value then channel ID. Returns the bytes actually removed.
func (u *UeRecord) Consume(dir Direction, bytes int64) int64 {
	if bytes <= 0 {
		return 0
	}
	chans := u.ActiveChannels(dir)
	sort.SliceStable(chans, func(i, j int) bool {
		if chans[i].Priority != chans[j].Priority {
			return chans[i].Priority < chans[j].Priority
		}
		return chans[i].ID < chans[j].ID
	})
	var taken int64
	for _, lc := range chans {
		if taken == bytes {
			break
		}
		n := min(lc.PendingBytes, bytes-taken)
		lc.PendingBytes -= n
		taken += n
		if lc.PendingBytes == 0 {
			lc.QueueDelay = 0
		}
	}
	return taken
}

// ChannelQuality returns the last reported wideband CQI (0 if never reported).
func (u *UeRecord) ChannelQuality(dir Direction) uint8 {
	return u.state(dir).cqi
}

// SetChannelQuality records a wideband CQI report.
func (u *UeRecord) SetChannelQuality(dir Direction, cqi uint8) {
	u.state(dir).cqi = cqi
}

// Age returns the staleness counter: slots since the UE was last granted resources.
func (u *UeRecord) Age(dir Direction) uint64 {
	return u.state(dir).age
}

func (u *UeRecord) setAge(dir Direction, age uint64) {
	if age < MinAge {
		age = MinAge
	}
	u.state(dir).age = age
}

// Smoothing returns the weighted moving average of past allocations, in kilobits.
func (u *UeRecord) Smoothing(dir Direction) float64 {
	return u.state(dir).smoothing
}

// Metric returns the metric cached by the last ranking pass.
func (u *UeRecord) Metric(dir Direction) float64 {
	return u.state(dir).metric
}

// Weight returns the externally supplied weight of a channel; channels never weighted return 0.
func (u *UeRecord) Weight(dir Direction, ch ChannelID) float64 {
	return u.state(dir).weights[ch]
}

// Weights returns a copy of the direction's weight map.
func (u *UeRecord) Weights(dir Direction) map[ChannelID]float64 {
	src := u.state(dir).weights
	out := make(map[ChannelID]float64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func (u *UeRecord) setWeights(dir Direction, w map[ChannelID]float64) {
	u.state(dir).weights = w
}

// SetHarqResult stores the outcome of the UE's most recent transmission in a direction.
func (u *UeRecord) SetHarqResult(dir Direction, ack bool) {
	st := u.state(dir)
	st.harqAck = ack
	st.harqSeen = true
}

// LastHarq returns the most recent HARQ outcome and whether one arrived since the
// last agent round.
func (u *UeRecord) LastHarq(dir Direction) (ack bool, ok bool) {
	st := u.state(dir)
	return st.harqAck, st.harqSeen
}

// clearHarq marks the pending HARQ outcome as scored.
func (u *UeRecord) clearHarq(dir Direction) {
	st := u.state(dir)
	st.harqAck = false
	st.harqSeen = false
}

// SortUes orders UEs by ascending ID in place.
func SortUes(ues []*UeRecord) {
	sort.Slice(ues, func(i, j int) bool { return ues[i].ID < ues[j].ID })
}
