package agent

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aoi-sim/aoi-sim/sim"
)

// flows builds an observation vector with one flow per (age, cqi) pair.
func flows(pairs ...[2]float64) []float64 {
	var v []float64
	for i, p := range pairs {
		v = append(v, float64(i+1), 1, 1, 0, p[0], p[1])
	}
	return v
}

func greedyQ(t *testing.T) *QLearning {
	t.Helper()
	cfg := DefaultQConfig()
	cfg.Epsilon = 0
	q, err := NewQLearning(cfg, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	return q
}

func TestQLearning_Discretize(t *testing.T) {
	q := greedyQ(t)
	tests := []struct {
		age, cqi float64
		want     qState
	}{
		{0, 0, qState{0, 0}},
		{999, 2, qState{0, 0}},
		{1000, 3, qState{1, 1}},
		{9999, 15, qState{9, 4}},
		{50000, 20, qState{9, 4}}, // saturates
	}
	for _, tt := range tests {
		if got := q.discretize(tt.age, tt.cqi); got != tt.want {
			t.Errorf("discretize(%v, %v): got %+v, want %+v", tt.age, tt.cqi, got, tt.want)
		}
	}
}

func TestQLearning_ZeroTable_ActsWithLowestWeight(t *testing.T) {
	q := greedyQ(t)
	got := q.Act(flows([2]float64{1, 15}, [2]float64{5000, 3}))
	assert.Equal(t, []float64{0, 0}, got, "argmax of an all-zero row is the first bin")
}

func TestQLearning_LearnUpdatesActedBin(t *testing.T) {
	// GIVEN a greedy agent acting on one flow in state (0, 4)
	q := greedyQ(t)
	obs := flows([2]float64{1, 15})
	q.Act(obs)

	// WHEN the action is rewarded with 1
	q.Learn(1)

	// THEN Q[0][4][0] = 0 + 0.5*(1 + 0.99*0 - 0)
	assert.InDelta(t, 0.5, q.Q(0, 4, 0), 1e-12)
	assert.Equal(t, int64(1), q.Updates())

	// WHEN the same action is punished with -1
	assert.Equal(t, []float64{0}, q.Act(obs))
	q.Learn(-1)

	// THEN Q = 0.5 + 0.5*(-1 + 0.99*0.5 - 0.5) and the greedy choice moves to bin 1
	assert.InDelta(t, -0.0025, q.Q(0, 4, 0), 1e-12)
	assert.Equal(t, []float64{0.1}, q.Act(obs))
}

func TestQLearning_ExplorationStaysInRange(t *testing.T) {
	cfg := DefaultQConfig()
	cfg.Epsilon = 1
	q, err := NewQLearning(cfg, rand.New(rand.NewSource(3)))
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		for _, a := range q.Act(flows([2]float64{1, 15}, [2]float64{20, 7})) {
			if a < 0 || a >= 1 {
				t.Fatalf("explored action %f outside [0,1)", a)
			}
		}
		q.Learn(0.5)
	}
	assert.Equal(t, int64(400), q.Updates())
}

func TestQLearning_InferenceIsGreedyAndFrozen(t *testing.T) {
	cfg := DefaultQConfig()
	cfg.Epsilon = 1
	cfg.Inference = true
	q, err := NewQLearning(cfg, rand.New(rand.NewSource(4)))
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		assert.Equal(t, []float64{0}, q.Act(flows([2]float64{1, 15})))
		q.Learn(10)
	}
	assert.Equal(t, int64(0), q.Updates())
	assert.Equal(t, 0.0, q.Q(0, 4, 0))
}

func TestQLearning_LearnBeforeAct_NoOp(t *testing.T) {
	q := greedyQ(t)
	q.Learn(3)
	assert.Equal(t, int64(0), q.Updates())
}

func TestQConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultQConfig().Validate())
	tests := []struct {
		name   string
		mutate func(c *QConfig)
	}{
		{"max age", func(c *QConfig) { c.MaxAge = 0 }},
		{"age bins", func(c *QConfig) { c.AgeBins = 0 }},
		{"weight bins", func(c *QConfig) { c.WeightBins = 1 }},
		{"epsilon", func(c *QConfig) { c.Epsilon = 1.5 }},
		{"gamma", func(c *QConfig) { c.Gamma = -0.1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultQConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	_, err := NewQLearning(DefaultQConfig(), nil)
	assert.Error(t, err, "nil rng")
}

func TestQTables_SaveLoadRoundTrip(t *testing.T) {
	// GIVEN a trained uplink agent
	trained := greedyQ(t)
	trained.Act(flows([2]float64{1, 15}))
	trained.Learn(1)
	path := filepath.Join(t.TempDir(), "q.yaml")
	require.NoError(t, SaveQTables(path, map[sim.Direction]*QLearning{sim.Uplink: trained}))

	// WHEN a fresh pair of agents loads the file
	up, down := greedyQ(t), greedyQ(t)
	require.NoError(t, LoadQTables(path, map[sim.Direction]*QLearning{sim.Uplink: up, sim.Downlink: down}))

	// THEN uplink gets the trained values and downlink keeps its zero table
	assert.Equal(t, trained.table, up.table)
	assert.Equal(t, 0.0, down.Q(0, 4, 0))
}

func TestQTables_ShapeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.yaml")
	require.NoError(t, SaveQTables(path, map[sim.Direction]*QLearning{sim.Uplink: greedyQ(t)}))

	cfg := DefaultQConfig()
	cfg.WeightBins = 5
	other, err := NewQLearning(cfg, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	err = LoadQTables(path, map[sim.Direction]*QLearning{sim.Uplink: other})
	assert.ErrorContains(t, err, "10x5x11")
}
