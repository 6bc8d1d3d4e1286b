package workload

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aoi-sim/aoi-sim/sim"
)

func newRNG(seed int64) *sim.PartitionedRNG {
	return sim.NewPartitionedRNG(sim.NewSimulationKey(seed))
}

func fixedSpec() *TrafficSpec {
	interval := Constant(100)
	start := Constant(20)
	return &TrafficSpec{
		Groups: []GroupSpec{{
			ID: "fixed", Count: 1, AttachMs: 10, Start: &start,
			Cqi: &CqiSpec{Initial: 11, Min: 11, Max: 11},
			Channels: []ChannelSpec{{
				ID: 1, Direction: "uplink", Group: 1, Priority: 1,
				Arrival: ArrivalSpec{Process: "interval", Interval: &interval},
				Size:    Constant(100),
			}},
		}},
	}
}

func TestGenerateTraffic_FixedIntervals(t *testing.T) {
	// GIVEN one UE attached at 10 ms, first packet 20 ms later, then every 100 ms
	plan, err := GenerateTraffic(fixedSpec(), 300, newRNG(1))
	require.NoError(t, err)

	// THEN packets land at slots 30, 130, 230 and the UE is planned with its CQI
	var slots []int64
	for _, a := range plan.Arrivals {
		slots = append(slots, a.Slot)
		assert.Equal(t, int64(100), a.Bytes)
		assert.Equal(t, sim.Uplink, a.Direction)
	}
	assert.Equal(t, []int64{30, 130, 230}, slots)
	require.Len(t, plan.Ues, 1)
	ue := plan.Ues[0]
	assert.Equal(t, sim.UeID(1), ue.Spec.ID)
	assert.Equal(t, int64(10), ue.Attach)
	assert.Equal(t, int64(-1), ue.Detach)
	assert.Equal(t, uint8(11), ue.Spec.Cqi)
	assert.Equal(t, []sim.LogicalChannel{{ID: 1, Group: 1, Priority: 1}}, ue.Spec.Uplink)
	assert.Empty(t, ue.Spec.Downlink)
	assert.Equal(t, int64(300), plan.Bytes(sim.Uplink))
}

func TestGenerateTraffic_Deterministic(t *testing.T) {
	spec := ScenarioBidirectional(3, 10)
	a, err := GenerateTraffic(spec, 20000, newRNG(3))
	require.NoError(t, err)
	b, err := GenerateTraffic(spec, 20000, newRNG(3))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := GenerateTraffic(spec, 20000, newRNG(4))
	require.NoError(t, err)
	assert.NotEqual(t, a.Arrivals, c.Arrivals, "a different seed changes the packets")
}

func TestGenerateTraffic_AddingGroupKeepsEarlierUes(t *testing.T) {
	// GIVEN a spec and the same spec with an extra group appended
	base := ScenarioReference(5, 5)
	extended := ScenarioReference(5, 5)
	extended.Groups = append(extended.Groups, GroupSpec{
		ID: "extra", Count: 2, Channels: []ChannelSpec{sensorChannel(50, 500)},
	})

	p1, err := GenerateTraffic(base, 30000, newRNG(5))
	require.NoError(t, err)
	p2, err := GenerateTraffic(extended, 30000, newRNG(5))
	require.NoError(t, err)

	// THEN the packets of the original UEs are unchanged
	var kept []sim.Arrival
	for _, a := range p2.Arrivals {
		if a.Ue <= 5 {
			kept = append(kept, a)
		}
	}
	assert.Equal(t, p1.Arrivals, kept)
	assert.Len(t, p2.Ues, 7)
}

func TestGenerateTraffic_PacketLimitAndDetach(t *testing.T) {
	spec := validSpec()
	spec.Groups[0].Packets = 3
	spec.Groups[0].Channels[0].Arrival = ArrivalSpec{Process: "poisson", MeanMs: 1}
	spec.Groups = append(spec.Groups, GroupSpec{
		ID: "leaver", Count: 1, DetachMs: 50,
		Channels: []ChannelSpec{{
			ID: 1, Direction: "downlink", Group: 1, Priority: 1,
			Arrival: ArrivalSpec{Process: "poisson", MeanMs: 1},
			Size:    Constant(10),
		}},
	})

	plan, err := GenerateTraffic(spec, 1000, newRNG(9))
	require.NoError(t, err)

	perUe := map[sim.UeID]int{}
	for _, a := range plan.Arrivals {
		perUe[a.Ue]++
		if a.Ue == 3 {
			assert.Less(t, a.Slot, int64(50), "no traffic after detach")
			assert.Equal(t, sim.Downlink, a.Direction)
		}
	}
	assert.Equal(t, 3, perUe[1])
	assert.Equal(t, 3, perUe[2])
	assert.Greater(t, perUe[3], 3, "unlimited until detach")
	assert.Equal(t, int64(50), plan.Ues[2].Detach)
}

func TestGenerateTraffic_SortedArrivals(t *testing.T) {
	plan, err := GenerateTraffic(ScenarioBidirectional(11, 8), 20000, newRNG(11))
	require.NoError(t, err)
	require.NotEmpty(t, plan.Arrivals)
	assert.True(t, sort.SliceIsSorted(plan.Arrivals, func(i, j int) bool {
		a, b := plan.Arrivals[i], plan.Arrivals[j]
		if a.Slot != b.Slot {
			return a.Slot < b.Slot
		}
		return a.Ue < b.Ue
	}))
}

func TestGenerateTraffic_ZeroHorizon_EmptyPlan(t *testing.T) {
	plan, err := GenerateTraffic(validSpec(), 0, newRNG(1))
	require.NoError(t, err)
	assert.Empty(t, plan.Arrivals)
	assert.Empty(t, plan.Ues)
}

func TestGenerateTraffic_InvalidSpec(t *testing.T) {
	spec := validSpec()
	spec.Groups[0].Count = -1
	_, err := GenerateTraffic(spec, 100, newRNG(1))
	assert.Error(t, err)
}

func TestPlan_Load_DeliversEveryArrival(t *testing.T) {
	// GIVEN a plan whose UEs attach at slot 0
	rng := newRNG(21)
	spec := ScenarioReference(21, 4)
	cfg := sim.DefaultSimConfig()
	cfg.Horizon = 6000
	plan, err := GenerateTraffic(spec, cfg.Horizon, rng)
	require.NoError(t, err)
	require.NotEmpty(t, plan.Arrivals)

	link := NewStochasticLink(spec.Link, rng)
	link.RegisterPlan(plan)
	s, err := sim.NewSimulator(cfg, sim.DefaultConfig(), sim.SimulatorOptions{Link: link})
	require.NoError(t, err)

	// WHEN the plan is loaded and run
	plan.Load(s)
	require.NoError(t, s.Run(context.Background()))

	// THEN every planned byte reached a transmit buffer and most of it was delivered
	assert.Equal(t, plan.Bytes(sim.Uplink), s.Metrics.BytesArrived[sim.Uplink])
	assert.Greater(t, s.Metrics.BytesDelivered[sim.Uplink], int64(0))
	assert.Len(t, s.Ues(), 4)
}

func TestGenerateTraffic_IndependentOfAgentAndLinkDraws(t *testing.T) {
	// GIVEN the same seed, once with the agent and link streams already consumed
	spec := ScenarioReference(5, 6)
	used := newRNG(5)
	for _, name := range []string{sim.SubsystemAgent + "_uplink", sim.SubsystemChannel, sim.SubsystemHarq} {
		for range 500 {
			used.ForSubsystem(name).Float64()
		}
	}

	// WHEN the plan is generated from each
	want, err := GenerateTraffic(spec, 20000, newRNG(5))
	require.NoError(t, err)
	got, err := GenerateTraffic(spec, 20000, used)
	require.NoError(t, err)

	// THEN switching agents or link models never changes the offered traffic
	require.NotEmpty(t, want.Arrivals)
	assert.Equal(t, want.Arrivals, got.Arrivals)
}
