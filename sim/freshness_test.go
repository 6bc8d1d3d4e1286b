package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAgeTracker_AgeGrowsWithClock(t *testing.T) {
	a := NewAgeTracker()
	a.Track(1, 0)

	assert.Equal(t, MinAge, a.Age(1, Uplink), "just attached")
	a.Advance(5)
	assert.Equal(t, uint64(5), a.Age(1, Uplink))
	assert.Equal(t, uint64(5), a.Age(1, Downlink))

	a.MarkServed(1, Uplink)
	assert.Equal(t, MinAge, a.Age(1, Uplink))
	assert.Equal(t, uint64(5), a.Age(1, Downlink), "directions age independently")

	a.Advance(8)
	assert.Equal(t, uint64(3), a.Age(1, Uplink))
}

func TestAgeTracker_UntrackedAndForgotten(t *testing.T) {
	a := NewAgeTracker()
	a.Track(2, 0)
	a.Advance(100)

	assert.Equal(t, MinAge, a.Age(9, Uplink))
	a.Forget(2)
	assert.Equal(t, MinAge, a.Age(2, Uplink))
}

func TestAgeTracker_Backwards_Panics(t *testing.T) {
	a := NewAgeTracker()
	a.Advance(10)
	assert.Panics(t, func() { a.Advance(9) })
	assert.Equal(t, int64(10), a.Now())
}

func TestCqiThroughputEstimator(t *testing.T) {
	est := NewCqiThroughputEstimator(0)
	assert.Equal(t, 144, est.ResourceElementsPerUnit)

	tests := []struct {
		cqi  uint8
		want int64
	}{
		{0, 21},   // served at the CQI 1 rate
		{1, 21},   // floor(0.1523*144)
		{7, 212},  // floor(1.4766*144)
		{15, 799}, // floor(5.5547*144)
		{20, 799}, // clamped
	}
	for _, tt := range tests {
		if got := est.EstimateThroughput(nil, tt.cqi); got != tt.want {
			t.Errorf("EstimateThroughput(cqi=%d): got %d, want %d", tt.cqi, got, tt.want)
		}
	}
}

func TestCqiThroughputEstimator_Monotonic(t *testing.T) {
	est := NewCqiThroughputEstimator(144)
	prev := int64(0)
	for cqi := uint8(1); cqi <= MaxCqi; cqi++ {
		got := est.EstimateThroughput(nil, cqi)
		assert.GreaterOrEqual(t, got, prev)
		prev = got
	}
}

func TestUnitsFor(t *testing.T) {
	assert.Equal(t, int64(0), unitsFor(0, 100))
	assert.Equal(t, int64(1), unitsFor(1, 100))
	assert.Equal(t, int64(1), unitsFor(12, 96))
	assert.Equal(t, int64(2), unitsFor(13, 96))
	assert.Equal(t, int64(12), bytesFor(1, 96))
}
