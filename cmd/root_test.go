package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/aoi-sim/aoi-sim/sim"
	"github.com/aoi-sim/aoi-sim/sim/agent"
	"github.com/aoi-sim/aoi-sim/sim/gateway"
	"github.com/aoi-sim/aoi-sim/sim/trace"
	"github.com/aoi-sim/aoi-sim/sim/workload"
)

const smallCell = "../testdata/scenarios/small-cell.yaml"

func smallCellOptions(t *testing.T) runOptions {
	t.Helper()
	spec, err := resolveScenario(smallCell, 0, 0)
	require.NoError(t, err)
	return runOptions{Scenario: spec, Engine: sim.DefaultConfig(), Agent: agentNone, QConfig: agent.DefaultQConfig()}
}

func TestRunSimulation_ScenarioFileWithoutAgent(t *testing.T) {
	// GIVEN the small-cell scenario with its own horizon and both directions
	opts := smallCellOptions(t)

	// WHEN it runs with the age-greedy policy
	s, err := runSimulation(context.Background(), opts)

	// THEN every slot of both directions ran and uplink traffic was served
	require.NoError(t, err)
	assert.Equal(t, int64(2000), s.Metrics.Slots[sim.Uplink])
	assert.Equal(t, int64(2000), s.Metrics.Slots[sim.Downlink])
	assert.Greater(t, s.Metrics.BytesArrived[sim.Uplink], int64(0))
	assert.Greater(t, s.Metrics.Grants[sim.Uplink], int64(0))
	assert.Equal(t, int64(0), s.Metrics.Rounds, "no agent, no rounds")
}

func TestRunSimulation_OverridesCell(t *testing.T) {
	opts := smallCellOptions(t)
	h, units := int64(100), int64(8)
	opts.Horizon = &h
	opts.ResourceUnits = &units
	opts.Directions = []sim.Direction{sim.Uplink}

	s, err := runSimulation(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, int64(100), s.Config.Horizon)
	assert.Equal(t, int64(8), s.Config.ResourceUnits)
	assert.Equal(t, int64(0), s.Metrics.Slots[sim.Downlink])
}

func TestRunSimulation_QLearningSavesTables(t *testing.T) {
	// GIVEN a short run with an in-process q-learning agent
	opts := smallCellOptions(t)
	h := int64(200)
	opts.Horizon = &h
	opts.Agent = string(agent.KindQLearning)
	opts.QTablesOut = filepath.Join(t.TempDir(), "q.yaml")

	// WHEN it runs
	s, err := runSimulation(context.Background(), opts)

	// THEN the policy switched to external weights, every decision slot was a round
	require.NoError(t, err)
	assert.Equal(t, sim.PolicyExternalWeight, s.Engine.Policy)
	assert.Equal(t, int64(2*200/4), s.Metrics.Rounds)

	// AND the saved tables load back into fresh agents for both directions
	learners := map[sim.Direction]*agent.QLearning{}
	for _, d := range sim.Directions {
		q, err := agent.NewQLearning(agent.DefaultQConfig(), newTestRand())
		require.NoError(t, err)
		learners[d] = q
	}
	require.NoError(t, agent.LoadQTables(opts.QTablesOut, learners))

	// AND a second run can start from them
	opts.QTablesIn = opts.QTablesOut
	opts.QTablesOut = ""
	_, err = runSimulation(context.Background(), opts)
	require.NoError(t, err)
}

func TestRunSimulation_SameSeedSameResults(t *testing.T) {
	run := func() sim.MetricsSummary {
		opts := smallCellOptions(t)
		h := int64(400)
		opts.Horizon = &h
		opts.Agent = string(agent.KindRandom)
		s, err := runSimulation(context.Background(), opts)
		require.NoError(t, err)
		return s.Metrics.Summary()
	}
	assert.Equal(t, run(), run())
}

func TestRunSimulation_RemoteAgentTimesOut(t *testing.T) {
	// GIVEN a gateway nobody polls and a short answer timeout
	opts := smallCellOptions(t)
	h := int64(20)
	opts.Horizon = &h
	opts.Agent = agentRemote
	opts.GatewayAddr = "127.0.0.1:0"
	gw := gateway.DefaultConfig()
	gw.Timeout = time.Millisecond
	opts.Gateway = &gw

	// WHEN the run proceeds
	s, err := runSimulation(context.Background(), opts)

	// THEN every round expired and kept the previous weights
	require.NoError(t, err)
	assert.Equal(t, int64(2*20/4), s.Metrics.Rounds)
	assert.Equal(t, s.Metrics.Rounds, s.Metrics.CarriedOver)
}

func TestRunSimulation_TraceDecisions(t *testing.T) {
	opts := smallCellOptions(t)
	h := int64(500)
	opts.Horizon = &h
	opts.TraceLevel = trace.TraceLevelDecisions

	s, err := runSimulation(context.Background(), opts)
	require.NoError(t, err)
	require.True(t, s.Trace.Enabled())
	assert.Equal(t, int(s.Metrics.Grants[sim.Uplink]+s.Metrics.Grants[sim.Downlink]), trace.Summarize(s.Trace).TotalGrants)
}

func TestRunSimulation_InvalidOptions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(o *runOptions)
	}{
		{"no scenario", func(o *runOptions) { o.Scenario = nil }},
		{"unknown agent", func(o *runOptions) { o.Agent = "sarsa" }},
		{"unknown trace level", func(o *runOptions) { o.TraceLevel = "everything" }},
		{"invalid engine", func(o *runOptions) { o.Engine.AoIWeight = 2 }},
		{"missing q-tables", func(o *runOptions) {
			o.Agent = string(agent.KindQLearning)
			o.QTablesIn = "does-not-exist.yaml"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := smallCellOptions(t)
			h := int64(10)
			opts.Horizon = &h
			tt.mutate(&opts)
			_, err := runSimulation(context.Background(), opts)
			assert.Error(t, err)
		})
	}
}

func TestWriteResults_YAML(t *testing.T) {
	opts := smallCellOptions(t)
	h := int64(100)
	opts.Horizon = &h
	s, err := runSimulation(context.Background(), opts)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "results.yaml")
	require.NoError(t, writeResults(path, s.Metrics.Summary()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, yaml.Unmarshal(data, &got))
	assert.Contains(t, got, "directions")
	assert.Contains(t, got["directions"], "uplink")
}

func TestMetricsPrint_WritesToStdout(t *testing.T) {
	// GIVEN metrics of a finished run
	opts := smallCellOptions(t)
	h := int64(50)
	opts.Horizon = &h
	s, err := runSimulation(context.Background(), opts)
	require.NoError(t, err)

	// Capture stdout
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	// WHEN Print is called
	s.Metrics.Print(time.Now())

	_ = w.Close()
	os.Stdout = old
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	output := buf.String()

	// THEN the report is on stdout
	assert.Contains(t, output, "Simulation Metrics")
	assert.Contains(t, output, "--- uplink ---")
}

func TestSeedOverride_ChangesTraffic(t *testing.T) {
	// GIVEN the same preset under two seeds and a repeat of the first
	plan := func(seed int64) *workload.Plan {
		spec, err := resolveScenario("reference", seed, 8)
		require.NoError(t, err)
		p, err := workload.GenerateTraffic(spec, 20000, sim.NewPartitionedRNG(sim.NewSimulationKey(seed)))
		require.NoError(t, err)
		return p
	}
	a, b, again := plan(100), plan(200), plan(100)

	// THEN different seeds give different arrivals and equal seeds identical ones
	require.NotEmpty(t, a.Arrivals)
	assert.NotEqual(t, a.Arrivals, b.Arrivals)
	assert.Equal(t, a.Arrivals, again.Arrivals)
}

func TestWriteSeries_AgeAndRewards(t *testing.T) {
	// GIVEN an uplink-only run with a random agent
	opts := smallCellOptions(t)
	h := int64(40)
	opts.Horizon = &h
	opts.Directions = []sim.Direction{sim.Uplink}
	opts.Agent = string(agent.KindRandom)
	s, err := runSimulation(context.Background(), opts)
	require.NoError(t, err)

	// WHEN the series are written
	dir := filepath.Join(t.TempDir(), "series")
	require.NoError(t, writeSeries(dir, s.Metrics))

	// THEN one age file for uplink and one reward per round exist
	_, err = os.Stat(filepath.Join(dir, "age_uplink.txt"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "age_downlink.txt"))
	assert.True(t, os.IsNotExist(err))
	data, err := os.ReadFile(filepath.Join(dir, "rewards.txt"))
	require.NoError(t, err)
	assert.Len(t, bytes.Fields(data), int(s.Metrics.Rounds))
}
