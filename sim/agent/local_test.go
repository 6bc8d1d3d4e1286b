package agent

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aoi-sim/aoi-sim/sim"
)

// scriptedPolicy records calls and returns fixed actions.
type scriptedPolicy struct {
	calls   []string
	rewards []float64
	actions func(n int) []float64
}

func (s *scriptedPolicy) Act(obs []float64) []float64 {
	s.calls = append(s.calls, "act")
	return s.actions(len(obs) / sim.ObservationFields)
}

func (s *scriptedPolicy) Learn(r float64) {
	s.calls = append(s.calls, "learn")
	s.rewards = append(s.rewards, r)
}

func constant(w float64) func(int) []float64 {
	return func(n int) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = w
		}
		return out
	}
}

func ueWithData(id sim.UeID) *sim.UeRecord {
	ue := sim.NewUeRecord(id, sim.PolicyExternalWeight)
	ue.AddChannel(sim.Uplink, sim.LogicalChannel{ID: 1, Group: 1, Priority: 1, PendingBytes: 100})
	ue.SetChannelQuality(sim.Uplink, 12)
	return ue
}

type rewardConst float64

func (r rewardConst) Reward(sim.Direction, []*sim.UeRecord) float64 { return float64(r) }

func TestLocal_LearnsFromSecondRoundOn(t *testing.T) {
	// GIVEN a local agent behind a bridge with a constant reward
	policy := &scriptedPolicy{actions: constant(0.7)}
	local := NewLocal(func(sim.Direction) Policy { return policy })
	bridge := sim.NewAgentBridge(local).SetReward(sim.Uplink, rewardConst(0.25))
	ues := []*sim.UeRecord{ueWithData(1), ueWithData(2)}

	// WHEN two rounds run
	for slot := int64(0); slot < 2; slot++ {
		_, err := bridge.Begin(sim.Uplink, slot, ues, false, "")
		require.NoError(t, err)
		resp, ok := bridge.Poll(sim.Uplink)
		require.True(t, ok, "local agents answer inside Notify")
		assert.Equal(t, sim.WeightUpdate{1: {1: 0.7}, 2: {1: 0.7}}, resp.Update)
	}

	// THEN the first round only acts and the second learns first
	assert.Equal(t, []string{"act", "learn", "act"}, policy.calls)
	assert.Equal(t, []float64{0.25}, policy.rewards)
	assert.Equal(t, int64(2), local.Rounds)
	assert.InDelta(t, 0.5, local.TotalReward, 1e-12)
}

func TestLocal_WrongActionCount_KeepsWeights(t *testing.T) {
	local := NewLocal(func(sim.Direction) Policy {
		return &scriptedPolicy{actions: func(int) []float64 { return []float64{0.1, 0.2, 0.3} }}
	})
	bridge := sim.NewAgentBridge(local)

	_, err := bridge.Begin(sim.Uplink, 0, []*sim.UeRecord{ueWithData(1)}, false, "")
	require.NoError(t, err)
	resp, ok := bridge.Poll(sim.Uplink)

	require.True(t, ok)
	assert.Nil(t, resp.Update)
	assert.Equal(t, int64(1), local.Mismatches)
}

func TestLocal_PolicyPerDirection(t *testing.T) {
	made := map[sim.Direction]int{}
	local := NewLocal(func(dir sim.Direction) Policy {
		made[dir]++
		return NewRandom(rand.New(rand.NewSource(int64(dir))))
	})
	assert.NotSame(t, local.Policy(sim.Uplink), local.Policy(sim.Downlink))
	local.Policy(sim.Uplink)
	assert.Equal(t, map[sim.Direction]int{sim.Uplink: 1, sim.Downlink: 1}, made)
	assert.Empty(t, local.QLearners(), "random policies are not q-learners")
}

func TestLocal_DrivesSimulator(t *testing.T) {
	// GIVEN an external-weight simulator with a q-learning agent and two busy UEs
	rng := sim.NewPartitionedRNG(sim.NewSimulationKey(5))
	local := NewLocal(func(sim.Direction) Policy {
		return NewPolicy(KindQLearning, DefaultQConfig(), rng.ForSubsystem(sim.SubsystemAgent))
	})
	cfg := sim.DefaultSimConfig()
	cfg.Horizon = 50
	cfg.CqiPeriod = 0
	engine := sim.DefaultConfig()
	engine.Policy = sim.PolicyExternalWeight
	s, err := sim.NewSimulator(cfg, engine, sim.SimulatorOptions{Agent: local})
	require.NoError(t, err)
	for id := sim.UeID(1); id <= 2; id++ {
		s.ScheduleAttach(0, sim.UeSpec{ID: id, Uplink: []sim.LogicalChannel{{ID: 1, Group: 1, Priority: 1}}, Cqi: 15})
		for slot := int64(0); slot < 50; slot += 5 {
			s.InjectArrival(sim.Arrival{Slot: slot, Ue: id, Direction: sim.Uplink, Channel: 1, Bytes: 200})
		}
	}

	// WHEN it runs to the horizon
	require.NoError(t, s.Run(context.Background()))

	// THEN every slot was a round, answered without stalling, and the agent learned
	assert.Equal(t, int64(50), s.Metrics.Rounds)
	assert.Equal(t, int64(50), local.Rounds)
	assert.Equal(t, int64(0), s.Metrics.StalledWaits)
	require.Contains(t, local.QLearners(), sim.Uplink)
	assert.Greater(t, local.QLearners()[sim.Uplink].Updates(), int64(0))
}

func TestNewPolicy_UnknownKind_Panics(t *testing.T) {
	assert.Panics(t, func() { NewPolicy("sarsa", DefaultQConfig(), rand.New(rand.NewSource(1))) })
}

func TestKinds(t *testing.T) {
	assert.Equal(t, []string{"qlearning", "random"}, Kinds())
	assert.True(t, IsValidKind("random"))
	assert.False(t, IsValidKind(""))
}

func TestRandom_OneWeightPerFlow(t *testing.T) {
	r := NewRandom(rand.New(rand.NewSource(9)))
	got := r.Act(make([]float64, 3*sim.ObservationFields))
	require.Len(t, got, 3)
	for _, w := range got {
		assert.GreaterOrEqual(t, w, 0.0)
		assert.Less(t, w, 1.0)
	}
}
