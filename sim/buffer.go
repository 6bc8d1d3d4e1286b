package sim

import (
	"sort"

	"github.com/aoi-sim/aoi-sim/sim/ctrl"
)

// Packet is a chunk of data waiting in a transmit buffer.
type Packet struct {
	Channel ChannelID
	Created int64 // slot the packet entered the buffer
	Bytes   int64
}

// TxBuffer holds the real per-channel FIFO queues of one UE in one direction. The
// scheduler never reads it directly; it only sees what buffer-status reports say.
type TxBuffer struct {
	queues map[ChannelID][]Packet
}

// NewTxBuffer creates an empty buffer.
func NewTxBuffer() *TxBuffer {
	return &TxBuffer{queues: make(map[ChannelID][]Packet)}
}

// Push appends a packet to its channel's queue.
func (b *TxBuffer) Push(p Packet) {
	if p.Bytes <= 0 {
		return
	}
	b.queues[p.Channel] = append(b.queues[p.Channel], p)
}

// Bytes returns the bytes queued on a channel.
func (b *TxBuffer) Bytes(ch ChannelID) int64 {
	var total int64
	for _, p := range b.queues[ch] {
		total += p.Bytes
	}
	return total
}

// Drain removes up to bytes from the channels in order, splitting the last packet if
// needed, and returns what was removed.
func (b *TxBuffer) Drain(bytes int64, order []ChannelID) []Packet {
	var out []Packet
	for _, ch := range order {
		q := b.queues[ch]
		for len(q) > 0 && bytes > 0 {
			head := q[0]
			if head.Bytes <= bytes {
				out = append(out, head)
				bytes -= head.Bytes
				q = q[1:]
				continue
			}
			out = append(out, Packet{Channel: ch, Created: head.Created, Bytes: bytes})
			q[0].Bytes -= bytes
			bytes = 0
		}
		b.queues[ch] = q
		if bytes == 0 {
			break
		}
	}
	return out
}

// Requeue puts packets back at the head of their queues, keeping their original order.
func (b *TxBuffer) Requeue(packets []Packet) {
	byChannel := make(map[ChannelID][]Packet)
	for _, p := range packets {
		byChannel[p.Channel] = append(byChannel[p.Channel], p)
	}
	for ch, pkts := range byChannel {
		b.queues[ch] = append(pkts, b.queues[ch]...)
	}
}

// Report builds a buffer-status report grouping channels by their logical channel group.
func (b *TxBuffer) Report(rnti UeID, link ctrl.Link, channels []*LogicalChannel) ctrl.BufferStatusReport {
	groups := make(map[uint8]*ctrl.GroupBuffer)
	for _, lc := range channels {
		g, ok := groups[lc.Group]
		if !ok {
			g = &ctrl.GroupBuffer{Group: lc.Group}
			groups[lc.Group] = g
		}
		for _, p := range b.queues[lc.ID] {
			g.Bytes += p.Bytes
			g.AgeQueue = append(g.AgeQueue, p.Created)
		}
	}
	report := ctrl.BufferStatusReport{Rnti: uint16(rnti), Link: link}
	for _, g := range groups {
		sort.Slice(g.AgeQueue, func(i, j int) bool { return g.AgeQueue[i] < g.AgeQueue[j] })
		report.Groups = append(report.Groups, *g)
	}
	sort.Slice(report.Groups, func(i, j int) bool { return report.Groups[i].Group < report.Groups[j].Group })
	return report
}
