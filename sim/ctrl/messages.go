// Package ctrl defines the control messages exchanged between the scheduler and the
// lower layers: grants going out, buffer status, scheduling requests, HARQ feedback and
// channel-quality reports coming in, plus the broadcast system information.
//
// Only the field contract lives here. Messages are plain values with no wire encoding;
// a transport that needs one supplies it.
package ctrl

import (
	"errors"
	"fmt"
)

// MaxCqi is the highest wideband CQI value.
const MaxCqi = 15

// MessageType enumerates the control messages.
type MessageType int

const (
	TypeUlGrant MessageType = iota
	TypeDlGrant
	TypeBufferStatusReport
	TypeSchedulingRequest
	TypeHarqFeedback
	TypeDlCqi
	TypeMib
	TypeSib1
)

var messageTypeNames = map[MessageType]string{
	TypeUlGrant:            "UL_DCI",
	TypeDlGrant:            "DL_DCI",
	TypeBufferStatusReport: "BSR",
	TypeSchedulingRequest:  "SR",
	TypeHarqFeedback:       "HARQ",
	TypeDlCqi:              "DL_CQI",
	TypeMib:                "MIB",
	TypeSib1:               "SIB1",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MessageType(%d)", int(t))
}

// Link is the direction a message refers to.
type Link int

const (
	LinkUplink Link = iota
	LinkDownlink
)

func (l Link) String() string {
	if l == LinkDownlink {
		return "downlink"
	}
	return "uplink"
}

// Message is implemented by every control message.
type Message interface {
	Type() MessageType
	SourceBwp() uint16
	Validate() error
}

// Header carries the fields common to all messages.
type Header struct {
	Bwp uint16 // bandwidth part the message was sent on
}

// SourceBwp returns the bandwidth part the message was sent on.
func (h Header) SourceBwp() uint16 { return h.Bwp }

// ResourceSpan is a contiguous run of resource units within one slot.
type ResourceSpan struct {
	Start  int64
	Length int64
}

func (s ResourceSpan) validate() error {
	if s.Start < 0 || s.Length <= 0 {
		return fmt.Errorf("invalid resource span start=%d length=%d", s.Start, s.Length)
	}
	return nil
}

// UlGrant (UL DCI) tells a UE which units to transmit on, K2 slots after the grant.
type UlGrant struct {
	Header
	Rnti     uint16
	Slot     int64
	Span     ResourceSpan
	K2       uint8
	TbsBytes int64
}

func (UlGrant) Type() MessageType { return TypeUlGrant }

func (m UlGrant) Validate() error {
	if m.TbsBytes < 0 {
		return fmt.Errorf("ul grant for %d: negative transport block %d", m.Rnti, m.TbsBytes)
	}
	return m.Span.validate()
}

// DlGrant (DL DCI) announces downlink data K0 slots after the grant, acknowledged K1
// slots after the data.
type DlGrant struct {
	Header
	Rnti     uint16
	Slot     int64
	Span     ResourceSpan
	K0       uint8
	K1       uint8
	TbsBytes int64
}

func (DlGrant) Type() MessageType { return TypeDlGrant }

func (m DlGrant) Validate() error {
	if m.TbsBytes < 0 {
		return fmt.Errorf("dl grant for %d: negative transport block %d", m.Rnti, m.TbsBytes)
	}
	return m.Span.validate()
}

// GroupBuffer is the buffer of one logical channel group.
type GroupBuffer struct {
	Group uint8
	Bytes int64
	// AgeQueue holds the creation slot of every buffered packet, oldest first. Optional.
	AgeQueue []int64
}

// BufferStatusReport carries a UE's per-group buffer sizes. Downlink reports are
// produced by the base station's own queues.
type BufferStatusReport struct {
	Header
	Rnti   uint16
	Link   Link
	Groups []GroupBuffer
}

func (BufferStatusReport) Type() MessageType { return TypeBufferStatusReport }

func (m BufferStatusReport) Validate() error {
	seen := make(map[uint8]bool, len(m.Groups))
	for _, g := range m.Groups {
		if g.Bytes < 0 {
			return fmt.Errorf("bsr from %d: group %d has negative size %d", m.Rnti, g.Group, g.Bytes)
		}
		if seen[g.Group] {
			return fmt.Errorf("bsr from %d: group %d reported twice", m.Rnti, g.Group)
		}
		seen[g.Group] = true
		if err := validateAgeQueue(g.AgeQueue); err != nil {
			return fmt.Errorf("bsr from %d group %d: %w", m.Rnti, g.Group, err)
		}
	}
	return nil
}

// TotalBytes sums the reported group sizes.
func (m BufferStatusReport) TotalBytes() int64 {
	var total int64
	for _, g := range m.Groups {
		total += g.Bytes
	}
	return total
}

// SchedulingRequest signals that a UE has uplink data and no grant.
type SchedulingRequest struct {
	Header
	Rnti     uint16
	AgeQueue []int64 // creation slots of the waiting packets, oldest first; optional
}

func (SchedulingRequest) Type() MessageType { return TypeSchedulingRequest }

func (m SchedulingRequest) Validate() error {
	if err := validateAgeQueue(m.AgeQueue); err != nil {
		return fmt.Errorf("sr from %d: %w", m.Rnti, err)
	}
	return nil
}

// HarqFeedback reports whether a transmission was decoded.
type HarqFeedback struct {
	Header
	Rnti      uint16
	Link      Link
	ProcessID uint8
	Ack       bool
}

func (HarqFeedback) Type() MessageType { return TypeHarqFeedback }

func (HarqFeedback) Validate() error { return nil }

// DlCqiReport carries a wideband channel-quality indicator.
type DlCqiReport struct {
	Header
	Rnti        uint16
	Link        Link // link the measurement describes; uplink quality comes from sounding
	WidebandCqi uint8
}

func (DlCqiReport) Type() MessageType { return TypeDlCqi }

func (m DlCqiReport) Validate() error {
	if m.WidebandCqi > MaxCqi {
		return fmt.Errorf("cqi from %d out of range: %d", m.Rnti, m.WidebandCqi)
	}
	return nil
}

// MasterInformationBlock is the broadcast MIB.
type MasterInformationBlock struct {
	Header
	SystemFrame          uint16
	SubcarrierSpacingKHz uint16
}

func (MasterInformationBlock) Type() MessageType { return TypeMib }

func (m MasterInformationBlock) Validate() error {
	if m.SystemFrame > 1023 {
		return fmt.Errorf("mib: system frame %d out of range", m.SystemFrame)
	}
	return nil
}

// SystemInformationBlock1 is the broadcast SIB1.
type SystemInformationBlock1 struct {
	Header
	CellID uint64
	Plmn   string
}

func (SystemInformationBlock1) Type() MessageType { return TypeSib1 }

func (m SystemInformationBlock1) Validate() error {
	if m.Plmn == "" {
		return errors.New("sib1: empty plmn")
	}
	return nil
}

// HeadOfLineDelay returns now minus the oldest creation slot in queue, or 0 for an
// empty queue. Never negative.
func HeadOfLineDelay(queue []int64, now int64) int64 {
	if len(queue) == 0 || queue[0] >= now {
		return 0
	}
	return now - queue[0]
}

func validateAgeQueue(q []int64) error {
	for i := 1; i < len(q); i++ {
		if q[i] < q[i-1] {
			return fmt.Errorf("age queue not oldest-first at index %d", i)
		}
	}
	return nil
}
