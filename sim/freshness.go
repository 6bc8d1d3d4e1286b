package sim

import "fmt"

// MinAge is the age of a UE that was served in the previous slot (or just attached).
const MinAge uint64 = 1

// FreshnessSource supplies per-UE age and is told when a UE has been served.
// Age is measured in slots since the last grant and is never below MinAge.
type FreshnessSource interface {
	Age(ue UeID, dir Direction) uint64
	MarkServed(ue UeID, dir Direction)
}

type freshnessKey struct {
	ue  UeID
	dir Direction
}

// AgeTracker is the slot-clock FreshnessSource used by the simulator.
// Age = max(MinAge, now - lastServed). Untracked UEs report MinAge.
//
// Thread-safety: NOT thread-safe. Owned by the simulator loop.
type AgeTracker struct {
	now        int64
	lastServed map[freshnessKey]int64
}

// NewAgeTracker creates a tracker with its clock at slot 0.
func NewAgeTracker() *AgeTracker {
	return &AgeTracker{lastServed: make(map[freshnessKey]int64)}
}

// Advance moves the tracker clock to slot. The clock never moves backwards.
func (a *AgeTracker) Advance(slot int64) {
	if slot < a.now {
		panic(fmt.Sprintf("age tracker clock moved backwards: %d -> %d", a.now, slot))
	}
	a.now = slot
}

// Now returns the current slot.
func (a *AgeTracker) Now() int64 {
	return a.now
}

// Track starts age accounting for a UE in both directions as if it was served at slot.
func (a *AgeTracker) Track(ue UeID, slot int64) {
	for _, dir := range Directions {
		a.lastServed[freshnessKey{ue, dir}] = slot
	}
}

// Forget drops a detached UE.
func (a *AgeTracker) Forget(ue UeID) {
	for _, dir := range Directions {
		delete(a.lastServed, freshnessKey{ue, dir})
	}
}

// Age implements FreshnessSource.
func (a *AgeTracker) Age(ue UeID, dir Direction) uint64 {
	last, ok := a.lastServed[freshnessKey{ue, dir}]
	if !ok || a.now-last < int64(MinAge) {
		return MinAge
	}
	return uint64(a.now - last)
}

// MarkServed implements FreshnessSource.
func (a *AgeTracker) MarkServed(ue UeID, dir Direction) {
	a.lastServed[freshnessKey{ue, dir}] = a.now
}
