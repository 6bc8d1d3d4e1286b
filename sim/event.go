package sim

// EventType names a simulation event kind.
type EventType string

const (
	EventTypeAttach       EventType = "Attach"
	EventTypeDetach       EventType = "Detach"
	EventTypeCqiReport    EventType = "CqiReport"
	EventTypeArrival      EventType = "Arrival"
	EventTypeHarqFeedback EventType = "HarqFeedback"
	EventTypeBufferStatus EventType = "BufferStatus"
	EventTypeSlot         EventType = "Slot"
)

// EventTypePriority defines ordering for simultaneous events.
// Everything that changes UE state within a slot runs before the slot's scheduling pass.
var EventTypePriority = map[EventType]int{
	EventTypeAttach:       1,
	EventTypeDetach:       2,
	EventTypeCqiReport:    3,
	EventTypeArrival:      4,
	EventTypeHarqFeedback: 5,
	EventTypeBufferStatus: 6,
	EventTypeSlot:         7,
}

// Event is one scheduled occurrence on the slot timeline.
type Event interface {
	Timestamp() int64 // slot
	EventID() uint64
	Type() EventType
	Execute(sim *Simulator)
}

// BaseEvent provides common event fields
type BaseEvent struct {
	timestamp int64
	eventID   uint64
	eventType EventType
}

func newBaseEvent(timestamp int64, eventType EventType, id uint64) BaseEvent {
	return BaseEvent{timestamp: timestamp, eventID: id, eventType: eventType}
}

func (e *BaseEvent) Timestamp() int64 { return e.timestamp }

func (e *BaseEvent) EventID() uint64 { return e.eventID }

func (e *BaseEvent) Type() EventType { return e.eventType }

// UeSpec describes a UE at attach time.
type UeSpec struct {
	ID       UeID
	Uplink   []LogicalChannel
	Downlink []LogicalChannel
	Cqi      uint8 // initial wideband CQI in both directions
}

// AttachEvent creates a UeRecord.
type AttachEvent struct {
	BaseEvent
	Spec UeSpec
}

func NewAttachEvent(slot int64, spec UeSpec, id uint64) *AttachEvent {
	return &AttachEvent{BaseEvent: newBaseEvent(slot, EventTypeAttach, id), Spec: spec}
}

func (e *AttachEvent) Execute(sim *Simulator) { sim.handleAttach(e) }

// DetachEvent drops a UeRecord. Later events for the UE are ignored.
type DetachEvent struct {
	BaseEvent
	Ue UeID
}

func NewDetachEvent(slot int64, ue UeID, id uint64) *DetachEvent {
	return &DetachEvent{BaseEvent: newBaseEvent(slot, EventTypeDetach, id), Ue: ue}
}

func (e *DetachEvent) Execute(sim *Simulator) { sim.handleDetach(e) }

// CqiReportEvent samples the link model and delivers CQI reports for every scheduled direction.
type CqiReportEvent struct {
	BaseEvent
	Ue UeID
}

func NewCqiReportEvent(slot int64, ue UeID, id uint64) *CqiReportEvent {
	return &CqiReportEvent{BaseEvent: newBaseEvent(slot, EventTypeCqiReport, id), Ue: ue}
}

func (e *CqiReportEvent) Execute(sim *Simulator) { sim.handleCqiReport(e) }

// Arrival is a packet entering a UE's transmit buffer.
type Arrival struct {
	Slot      int64
	Ue        UeID
	Direction Direction
	Channel   ChannelID
	Bytes     int64
}

// ArrivalEvent enqueues a packet. Uplink arrivals trigger a buffer-status report.
type ArrivalEvent struct {
	BaseEvent
	Arrival Arrival
}

func NewArrivalEvent(a Arrival, id uint64) *ArrivalEvent {
	return &ArrivalEvent{BaseEvent: newBaseEvent(a.Slot, EventTypeArrival, id), Arrival: a}
}

func (e *ArrivalEvent) Execute(sim *Simulator) { sim.handleArrival(e) }

// HarqFeedbackEvent delivers the decode outcome of a grant. On NACK the packets go back
// to the head of the buffer.
type HarqFeedbackEvent struct {
	BaseEvent
	Ue        UeID
	Direction Direction
	ProcessID uint8
	Ack       bool
	Packets   []Packet
}

func NewHarqFeedbackEvent(slot int64, ue UeID, dir Direction, process uint8, ack bool, packets []Packet, id uint64) *HarqFeedbackEvent {
	return &HarqFeedbackEvent{
		BaseEvent: newBaseEvent(slot, EventTypeHarqFeedback, id),
		Ue:        ue,
		Direction: dir,
		ProcessID: process,
		Ack:       ack,
		Packets:   packets,
	}
}

func (e *HarqFeedbackEvent) Execute(sim *Simulator) { sim.handleHarqFeedback(e) }

// BufferStatusEvent has a UE report its uplink buffer.
type BufferStatusEvent struct {
	BaseEvent
	Ue UeID
}

func NewBufferStatusEvent(slot int64, ue UeID, id uint64) *BufferStatusEvent {
	return &BufferStatusEvent{BaseEvent: newBaseEvent(slot, EventTypeBufferStatus, id), Ue: ue}
}

func (e *BufferStatusEvent) Execute(sim *Simulator) { sim.handleBufferStatus(e) }

// SlotEvent runs one direction's scheduling pass.
type SlotEvent struct {
	BaseEvent
	Direction Direction
}

func NewSlotEvent(slot int64, dir Direction, id uint64) *SlotEvent {
	return &SlotEvent{BaseEvent: newBaseEvent(slot, EventTypeSlot, id), Direction: dir}
}

func (e *SlotEvent) Execute(sim *Simulator) { sim.handleSlot(e) }
