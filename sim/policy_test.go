package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewMetricPolicy_ValidKinds(t *testing.T) {
	deps := PolicyDeps{Freshness: newStaticFreshness(nil), Estimator: byteEstimator}
	tests := []struct {
		kind PolicyKind
		want PolicyKind
	}{
		{"", PolicyAgeGreedy},
		{PolicyAgeGreedy, PolicyAgeGreedy},
		{PolicyExternalWeight, PolicyExternalWeight},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Policy = tt.kind
			p := NewMetricPolicy(cfg, deps)
			if p.Kind() != tt.want {
				t.Errorf("Kind: got %q, want %q", p.Kind(), tt.want)
			}
		})
	}
}

func TestNewMetricPolicy_UnknownKind_Panics(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy = "proportional-fair"
	assert.Panics(t, func() {
		NewMetricPolicy(cfg, PolicyDeps{Freshness: newStaticFreshness(nil), Estimator: byteEstimator})
	})
}

func TestNewMetricPolicy_MissingDeps_Panics(t *testing.T) {
	assert.Panics(t, func() { NewMetricPolicy(greedyConfig(), PolicyDeps{Estimator: byteEstimator}) })
	assert.Panics(t, func() { NewMetricPolicy(greedyConfig(), PolicyDeps{Freshness: newStaticFreshness(nil)}) })
}

func TestAgeGreedy_RanksStalestFirst(t *testing.T) {
	// GIVEN three UEs with pending data, ages 5, 1, 9 and equal smoothing
	fresh := newStaticFreshness(map[UeID]uint64{1: 5, 2: 1, 3: 9})
	policy := NewMetricPolicy(greedyConfig(), PolicyDeps{Freshness: fresh, Estimator: byteEstimator})
	ues := []*UeRecord{
		newTestUe(1, PolicyAgeGreedy, 100),
		newTestUe(2, PolicyAgeGreedy, 100),
		newTestUe(3, PolicyAgeGreedy, 100),
	}

	// WHEN candidates are built
	cl := NewRanker(policy).BuildCandidates(Uplink, ues)

	// THEN the oldest UE comes first
	assert.Equal(t, []UeID{3, 1, 2}, cl.IDs())
	// 0.5*age + 0.5*smoothing(1)
	assert.Equal(t, 5.0, cl[0].Metric)
	assert.Equal(t, 3.0, cl[1].Metric)
	assert.Equal(t, 1.0, cl[2].Metric)
	assert.Equal(t, 5.0, ues[2].Metric(Uplink), "metric is cached on the record")
}

func TestAgeGreedy_NoActiveChannels_MetricZero(t *testing.T) {
	policy := NewMetricPolicy(greedyConfig(), PolicyDeps{Freshness: newStaticFreshness(nil), Estimator: byteEstimator})
	ue := newTestUe(1, PolicyAgeGreedy, 0)
	ue.setAge(Uplink, 40)
	assert.Equal(t, 0.0, policy.ComputeMetric(ue, Uplink))
}

func TestAgeGreedy_OnAssigned_ResetsAgeAndUpdatesSmoothing(t *testing.T) {
	// GIVEN a UE aged 7
	fresh := newStaticFreshness(map[UeID]uint64{1: 7})
	policy := NewMetricPolicy(greedyConfig(), PolicyDeps{Freshness: fresh, Estimator: byteEstimator})
	ue := newTestUe(1, PolicyAgeGreedy, 100)
	policy.OnBeforeSchedule(ue, Uplink)
	assert.Equal(t, uint64(7), ue.Age(Uplink))

	// WHEN it receives 4 units (32 bits = 0.032 kbit)
	policy.OnAssigned(ue, Uplink, 4, 4)

	// THEN age drops to the minimum and the source is told
	assert.Equal(t, MinAge, ue.Age(Uplink))
	assert.Equal(t, []UeID{1}, fresh.served)
	// smoothing = 0.5*1 + 0.5*0.032
	assert.InDelta(t, 0.516, ue.Smoothing(Uplink), 1e-12)
	assert.InDelta(t, 0.5*1+0.5*0.516, ue.Metric(Uplink), 1e-12)
}

func TestAgeGreedy_OnNotAssigned_KeepsAge(t *testing.T) {
	fresh := newStaticFreshness(map[UeID]uint64{1: 7})
	policy := NewMetricPolicy(greedyConfig(), PolicyDeps{Freshness: fresh, Estimator: byteEstimator})
	ue := newTestUe(1, PolicyAgeGreedy, 100)
	policy.OnBeforeSchedule(ue, Uplink)

	policy.OnNotAssigned(ue, Uplink, 100, 0)

	assert.Equal(t, uint64(7), ue.Age(Uplink))
	assert.Empty(t, fresh.served)
	assert.Equal(t, 1.0, ue.Smoothing(Uplink))
}

func TestExternalWeight_SumsActiveChannelWeights(t *testing.T) {
	// GIVEN UE 1 with weights 0.2 + 0.3 and UE 2 with a single 0.6
	policy := NewMetricPolicy(externalConfig(), PolicyDeps{Freshness: newStaticFreshness(nil), Estimator: byteEstimator})
	a := newTestUe(1, PolicyExternalWeight, 10)
	a.AddChannel(Uplink, LogicalChannel{ID: 2, PendingBytes: 10})
	a.AddChannel(Uplink, LogicalChannel{ID: 3, PendingBytes: 0})
	a.setWeights(Uplink, map[ChannelID]float64{1: 0.2, 2: 0.3, 3: 0.9})
	b := newTestUe(2, PolicyExternalWeight, 10)
	b.setWeights(Uplink, map[ChannelID]float64{1: 0.6})

	// WHEN ranked
	cl := NewRanker(policy).BuildCandidates(Uplink, []*UeRecord{a, b})

	// THEN the idle channel 3 does not count and UE 2 wins
	assert.Equal(t, []UeID{2, 1}, cl.IDs())
	assert.InDelta(t, 0.5, cl[1].Metric, 1e-12)
	assert.Equal(t, 0.6, cl[0].Metric)
}

func TestExternalWeight_NoWeights_FallsBackToID(t *testing.T) {
	policy := NewMetricPolicy(externalConfig(), PolicyDeps{Freshness: newStaticFreshness(nil), Estimator: byteEstimator})
	ues := []*UeRecord{
		newTestUe(9, PolicyExternalWeight, 10),
		newTestUe(4, PolicyExternalWeight, 10),
		newTestUe(6, PolicyExternalWeight, 10),
	}
	cl := NewRanker(policy).BuildCandidates(Uplink, ues)
	assert.Equal(t, []UeID{4, 6, 9}, cl.IDs())
}

func TestExternalWeight_OnAssigned_KeepsWeights(t *testing.T) {
	policy := NewMetricPolicy(externalConfig(), PolicyDeps{Freshness: newStaticFreshness(nil), Estimator: byteEstimator})
	ue := newTestUe(1, PolicyExternalWeight, 10)
	ue.setWeights(Uplink, map[ChannelID]float64{1: 0.7})

	policy.OnAssigned(ue, Uplink, 10, 10)

	assert.Equal(t, 0.7, ue.Weight(Uplink, 1))
	assert.Equal(t, MinAge, ue.Age(Uplink))
}

func TestPolicy_KindMismatch_Panics(t *testing.T) {
	greedy := NewMetricPolicy(greedyConfig(), PolicyDeps{Freshness: newStaticFreshness(nil), Estimator: byteEstimator})
	external := NewMetricPolicy(externalConfig(), PolicyDeps{Freshness: newStaticFreshness(nil), Estimator: byteEstimator})

	assert.Panics(t, func() { greedy.ComputeMetric(newTestUe(1, PolicyExternalWeight, 10), Uplink) })
	assert.Panics(t, func() { external.OnAssigned(newTestUe(1, PolicyAgeGreedy, 10), Uplink, 1, 1) })
}
