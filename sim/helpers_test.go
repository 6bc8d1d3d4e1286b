package sim

// fixedEstimator carries the same number of bits per unit at every CQI.
type fixedEstimator struct {
	bits int64
}

func (f fixedEstimator) EstimateThroughput(*UeRecord, uint8) int64 { return f.bits }

// byteEstimator makes one unit carry exactly one byte, so pending bytes equal units needed.
var byteEstimator = fixedEstimator{bits: 8}

// staticFreshness reports preset ages and records which UEs were served.
type staticFreshness struct {
	ages   map[UeID]uint64
	served []UeID
}

func newStaticFreshness(ages map[UeID]uint64) *staticFreshness {
	if ages == nil {
		ages = map[UeID]uint64{}
	}
	return &staticFreshness{ages: ages}
}

func (f *staticFreshness) Age(ue UeID, _ Direction) uint64 {
	if a, ok := f.ages[ue]; ok {
		return a
	}
	return MinAge
}

func (f *staticFreshness) MarkServed(ue UeID, _ Direction) {
	f.ages[ue] = MinAge
	f.served = append(f.served, ue)
}

// newTestUe builds a record with one uplink channel holding pending bytes.
func newTestUe(id UeID, kind PolicyKind, pending int64) *UeRecord {
	ue := NewUeRecord(id, kind)
	ue.AddChannel(Uplink, LogicalChannel{ID: 1, Group: 1, Priority: 1, PendingBytes: pending})
	ue.SetChannelQuality(Uplink, MaxCqi)
	return ue
}

func greedyConfig() Config {
	cfg := DefaultConfig()
	cfg.Policy = PolicyAgeGreedy
	return cfg
}

func externalConfig() Config {
	cfg := DefaultConfig()
	cfg.Policy = PolicyExternalWeight
	return cfg
}
