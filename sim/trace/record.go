// Package trace provides decision-trace recording for scheduling and agent-round analysis.
// This package has no dependencies on sim/; it stores pure data types.
package trace

// GrantRecord captures one candidate outcome of a scheduling pass: a grant, or a skip
// when Skipped is set.
type GrantRecord struct {
	Slot      int64
	Direction string
	Ue        uint16
	Rank      int     // position in the ranked candidate list
	Metric    float64 // metric the UE was ranked by
	Units     int64
	Bytes     int64
	Partial   bool
	Skipped   bool
}

// RoundRecord captures one agent round and what its response did to the weight maps.
type RoundRecord struct {
	Seq             uint64
	Slot            int64
	Direction       string
	Flows           int
	Reward          float64
	Done            bool
	CarriedOver     bool  // empty response, previous weights kept
	Applied         int   // weights written
	Clamped         int   // weights clamped into [0,1]
	DroppedUes      int   // updates for detached UEs
	DroppedChannels int   // weights for channels outside the observation
	WaitSlots       int64 // slots the timeline advanced while the round was open
}
