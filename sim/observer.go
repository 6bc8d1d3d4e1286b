package sim

import (
	"time"

	"github.com/aoi-sim/aoi-sim/sim/ctrl"
)

// SlotReport describes one finished scheduling pass.
type SlotReport struct {
	Direction Direction
	Slot      int64
	Result    CommittedAssignments
	Attached  int     // UEs attached when the pass ran
	Backlog   int     // UEs with pending data in the direction
	MeanAge   float64 // mean age over attached UEs, in slots
	MaxAge    uint64
}

// RoundReport describes one applied agent round.
type RoundReport struct {
	Direction Direction
	Slot      int64
	Seq       uint64
	Flows     int
	Reward    float64
	Done      bool
	Stats     ApplyStats
	WaitSlots int64         // slots the timeline moved while the round was open
	Blocked   bool          // the loop had to stop and wait for the answer
	Latency   time.Duration // wall time from Notify to the response being applied
}

// Observer is notified by the simulator loop. Calls happen on the loop goroutine.
type Observer interface {
	OnSlot(report SlotReport)
	OnRound(report RoundReport)
	OnControl(msg ctrl.Message)
}

// LinkModel stands in for the radio: it produces channel-quality reports and decides
// whether a transmission gets through.
type LinkModel interface {
	ChannelQuality(ue UeID, dir Direction, slot int64) uint8
	Decode(ue UeID, dir Direction, cqi uint8, units int64) bool
}

// IdealLink reports a fixed CQI and acknowledges everything.
type IdealLink struct {
	Cqi uint8
}

func (l IdealLink) ChannelQuality(UeID, Direction, int64) uint8 { return l.Cqi }

func (l IdealLink) Decode(UeID, Direction, uint8, int64) bool { return true }
