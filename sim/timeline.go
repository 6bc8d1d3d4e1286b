package sim

import "container/heap"

// Timeline is the queue of pending simulator events.
//
// Events pop in slot order. Within one slot, state changes (attach, detach, CQI,
// arrivals, HARQ feedback, buffer status) pop before the slot passes that read them,
// following EventTypePriority; ties keep scheduling order. An event derived while a slot
// executes and scheduled for that same slot still lands ahead of the slot's pass.
type Timeline struct {
	pending eventOrder
}

// NewTimeline returns an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{}
}

// Len is the number of pending events.
func (t *Timeline) Len() int {
	return len(t.pending)
}

// Schedule queues e.
func (t *Timeline) Schedule(e Event) {
	heap.Push(&t.pending, e)
}

// Peek returns the next event without removing it, or nil when nothing is pending.
func (t *Timeline) Peek() Event {
	if len(t.pending) == 0 {
		return nil
	}
	return t.pending[0]
}

// PopNext removes and returns the next event, or nil when nothing is pending.
func (t *Timeline) PopNext() Event {
	if len(t.pending) == 0 {
		return nil
	}
	return heap.Pop(&t.pending).(Event)
}

// NextSlot returns the slot of the next event; ok is false when nothing is pending.
func (t *Timeline) NextSlot() (slot int64, ok bool) {
	if len(t.pending) == 0 {
		return 0, false
	}
	return t.pending[0].Timestamp(), true
}

// eventOrder is the heap behind Timeline.
type eventOrder []Event

func (q eventOrder) Len() int           { return len(q) }
func (q eventOrder) Less(i, j int) bool { return precedes(q[i], q[j]) }
func (q eventOrder) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *eventOrder) Push(x any) {
	*q = append(*q, x.(Event))
}

func (q *eventOrder) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}

// precedes orders by slot, then EventTypePriority, then event ID.
func precedes(a, b Event) bool {
	if a.Timestamp() != b.Timestamp() {
		return a.Timestamp() < b.Timestamp()
	}
	if pa, pb := EventTypePriority[a.Type()], EventTypePriority[b.Type()]; pa != pb {
		return pa < pb
	}
	return a.EventID() < b.EventID()
}
