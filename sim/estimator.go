package sim

import "math"

// ThroughputEstimator returns how many bits one resource unit carries for a UE at a
// given channel quality. Implementations must return a positive value for every CQI so
// the assigner can always size a grant.
type ThroughputEstimator interface {
	EstimateThroughput(ue *UeRecord, cqi uint8) int64
}

// cqiEfficiency is the spectral efficiency (bits per resource element) of the 4-bit
// CQI table, indexed by CQI 0..15. CQI 0 ("out of range") is served at the CQI 1 rate.
var cqiEfficiency = [16]float64{
	0.1523, 0.1523, 0.2344, 0.3770, 0.6016, 0.8770, 1.1758, 1.4766,
	1.9141, 2.4063, 2.7305, 3.3223, 3.9023, 4.5234, 5.1152, 5.5547,
}

// MaxCqi is the highest wideband CQI value.
const MaxCqi = 15

// CqiThroughputEstimator maps CQI to bits per unit through the CQI efficiency table.
type CqiThroughputEstimator struct {
	ResourceElementsPerUnit int // e.g. 12 subcarriers x 12 data symbols = 144
}

// NewCqiThroughputEstimator creates an estimator; non-positive resourceElements defaults to 144.
func NewCqiThroughputEstimator(resourceElements int) *CqiThroughputEstimator {
	if resourceElements <= 0 {
		resourceElements = 144
	}
	return &CqiThroughputEstimator{ResourceElementsPerUnit: resourceElements}
}

// EstimateThroughput implements ThroughputEstimator. CQI above 15 is clamped to 15.
func (c *CqiThroughputEstimator) EstimateThroughput(_ *UeRecord, cqi uint8) int64 {
	if cqi > MaxCqi {
		cqi = MaxCqi
	}
	bits := int64(math.Floor(cqiEfficiency[cqi] * float64(c.ResourceElementsPerUnit)))
	if bits < 1 {
		bits = 1
	}
	return bits
}

// unitsFor returns the number of units needed to carry pendingBytes at bitsPerUnit.
func unitsFor(pendingBytes, bitsPerUnit int64) int64 {
	if pendingBytes <= 0 {
		return 0
	}
	bits := pendingBytes * 8
	return (bits + bitsPerUnit - 1) / bitsPerUnit
}

// bytesFor returns how many bytes units carry at bitsPerUnit.
func bytesFor(units, bitsPerUnit int64) int64 {
	return units * bitsPerUnit / 8
}
