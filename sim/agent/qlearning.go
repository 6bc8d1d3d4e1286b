package agent

import (
	"fmt"
	"math"
	"math/rand"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/aoi-sim/aoi-sim/sim"
)

// Offsets of the fields the Q-learning state uses within one flow of the vector.
const (
	ageField = 4
	cqiField = 5
)

// QConfig holds the tabular Q-learning parameters.
type QConfig struct {
	MaxAge     float64 `yaml:"max_age"`     // age mapped to the last age bin
	MaxCqi     float64 `yaml:"max_cqi"`     // CQI mapped to the last CQI bin
	AgeBins    int     `yaml:"age_bins"`    // state resolution over age
	CqiBins    int     `yaml:"cqi_bins"`    // state resolution over CQI
	WeightBins int     `yaml:"weight_bins"` // actions: weights k/(WeightBins-1)
	Epsilon    float64 `yaml:"epsilon"`     // exploration probability
	Alpha      float64 `yaml:"alpha"`       // learning rate
	Gamma      float64 `yaml:"gamma"`       // discount factor
	Inference  bool    `yaml:"inference"`   // greedy only, no exploration
}

// DefaultQConfig returns 10 age bins over 10000 slots, 5 CQI bins, 11 weight bins,
// ε=0.1, α=0.5, γ=0.99.
func DefaultQConfig() QConfig {
	return QConfig{
		MaxAge:     10000,
		MaxCqi:     sim.MaxCqi,
		AgeBins:    10,
		CqiBins:    5,
		WeightBins: 11,
		Epsilon:    0.1,
		Alpha:      0.5,
		Gamma:      0.99,
	}
}

// Validate checks bin counts and parameter ranges.
func (c QConfig) Validate() error {
	if !(c.MaxAge > 0) || !(c.MaxCqi > 0) {
		return fmt.Errorf("max_age and max_cqi must be positive, got %f and %f", c.MaxAge, c.MaxCqi)
	}
	if c.AgeBins < 1 || c.CqiBins < 1 {
		return fmt.Errorf("age_bins and cqi_bins must be at least 1, got %d and %d", c.AgeBins, c.CqiBins)
	}
	if c.WeightBins < 2 {
		return fmt.Errorf("weight_bins must be at least 2, got %d", c.WeightBins)
	}
	for name, v := range map[string]float64{"epsilon": c.Epsilon, "alpha": c.Alpha, "gamma": c.Gamma} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1], got %f", name, v)
		}
	}
	return nil
}

type qState struct {
	age, cqi int
}

// QLearning is a tabular Q-learning agent over (age bin, CQI bin) states with one
// discretized weight per action.
//
// Every flow of a round is an independent sample: Act picks a weight per flow, and Learn
// applies the round's single reward to each (state, action) pair it picked. The update
// bootstraps from the state the action was taken in:
//
//	Q[s][a] += α·(r + γ·max(Q[s]) − Q[s][a])
type QLearning struct {
	cfg   QConfig
	table [][][]float64 // [age bin][cqi bin][weight bin]
	rng   *rand.Rand

	lastStates  []qState
	lastActions []float64
	updates     int64
}

// NewQLearning creates an agent with a zeroed table.
func NewQLearning(cfg QConfig, rng *rand.Rand) (*QLearning, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid q-learning config: %w", err)
	}
	if rng == nil {
		return nil, fmt.Errorf("q-learning agent needs an rng")
	}
	return &QLearning{cfg: cfg, table: newTable(cfg.AgeBins, cfg.CqiBins, cfg.WeightBins), rng: rng}, nil
}

func newTable(ageBins, cqiBins, weightBins int) [][][]float64 {
	t := make([][][]float64, ageBins)
	for i := range t {
		t[i] = make([][]float64, cqiBins)
		for j := range t[i] {
			t[i][j] = make([]float64, weightBins)
		}
	}
	return t
}

// Config returns the agent's parameters.
func (q *QLearning) Config() QConfig { return q.cfg }

// SetInference switches exploration off (true) or back on.
func (q *QLearning) SetInference(on bool) { q.cfg.Inference = on }

// Updates counts the Q-value updates applied so far.
func (q *QLearning) Updates() int64 { return q.updates }

// Q returns one table entry.
func (q *QLearning) Q(ageBin, cqiBin, weightBin int) float64 {
	return q.table[ageBin][cqiBin][weightBin]
}

// discretize maps an (age, cqi) pair to its state; values at or above the maximum land
// in the last bin.
func (q *QLearning) discretize(age, cqi float64) qState {
	bin := func(v, maxV float64, bins int) int {
		b := int(v / maxV * float64(bins))
		return max(0, min(b, bins-1))
	}
	return qState{age: bin(age, q.cfg.MaxAge, q.cfg.AgeBins), cqi: bin(cqi, q.cfg.MaxCqi, q.cfg.CqiBins)}
}

func argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

func (q *QLearning) Act(obs []float64) []float64 {
	n := len(obs) / sim.ObservationFields
	q.lastStates = make([]qState, n)
	q.lastActions = make([]float64, n)
	for i := 0; i < n; i++ {
		base := i * sim.ObservationFields
		s := q.discretize(obs[base+ageField], obs[base+cqiField])
		var action float64
		if !q.cfg.Inference && q.rng.Float64() < q.cfg.Epsilon {
			action = q.rng.Float64()
		} else {
			action = float64(argmax(q.table[s.age][s.cqi])) / float64(q.cfg.WeightBins-1)
		}
		q.lastStates[i] = s
		q.lastActions[i] = action
	}
	return append([]float64(nil), q.lastActions...)
}

func (q *QLearning) Learn(reward float64) {
	if q.cfg.Inference || q.lastStates == nil {
		return
	}
	for i, s := range q.lastStates {
		a := int(math.Round(q.lastActions[i] * float64(q.cfg.WeightBins-1)))
		row := q.table[s.age][s.cqi]
		maxNext := row[argmax(row)]
		row[a] += q.cfg.Alpha * (reward + q.cfg.Gamma*maxNext - row[a])
		q.updates++
	}
	if n := len(q.lastStates); n > 0 {
		last := q.lastStates[n-1]
		logrus.Debugf("q-learning: %d updates with reward %.4f, last state (age=%d, cqi=%d)", n, reward, last.age, last.cqi)
	}
}

// qTableDoc is the on-disk form of one agent's table.
type qTableDoc struct {
	MaxAge     float64       `yaml:"max_age"`
	MaxCqi     float64       `yaml:"max_cqi"`
	AgeBins    int           `yaml:"age_bins"`
	CqiBins    int           `yaml:"cqi_bins"`
	WeightBins int           `yaml:"weight_bins"`
	Values     [][][]float64 `yaml:"values"`
}

// QTableFile holds the tables of both directions, keyed by direction name.
type QTableFile struct {
	Tables map[string]qTableDoc `yaml:"tables"`
}

// SaveQTables writes the tables of agents to a YAML file.
func SaveQTables(path string, agents map[sim.Direction]*QLearning) error {
	file := QTableFile{Tables: make(map[string]qTableDoc, len(agents))}
	for dir, q := range agents {
		file.Tables[dir.String()] = qTableDoc{
			MaxAge: q.cfg.MaxAge, MaxCqi: q.cfg.MaxCqi,
			AgeBins: q.cfg.AgeBins, CqiBins: q.cfg.CqiBins, WeightBins: q.cfg.WeightBins,
			Values: q.table,
		}
	}
	data, err := yaml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encoding q-tables: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing q-tables: %w", err)
	}
	logrus.Infof("q-tables saved to %s", path)
	return nil
}

// LoadQTables reads a file written by SaveQTables into agents. Table shapes must match
// the agents' configuration. Agents without a table in the file keep theirs.
func LoadQTables(path string, agents map[sim.Direction]*QLearning) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading q-tables: %w", err)
	}
	var file QTableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing q-tables: %w", err)
	}
	for dir, q := range agents {
		doc, ok := file.Tables[dir.String()]
		if !ok {
			logrus.Warnf("q-tables %s: no %s table, starting from zero", path, dir)
			continue
		}
		if err := doc.check(q.cfg); err != nil {
			return fmt.Errorf("q-tables %s, %s: %w", path, dir, err)
		}
		q.table = doc.Values
	}
	logrus.Infof("q-tables loaded from %s", path)
	return nil
}

func (d qTableDoc) check(cfg QConfig) error {
	if d.AgeBins != cfg.AgeBins || d.CqiBins != cfg.CqiBins || d.WeightBins != cfg.WeightBins {
		return fmt.Errorf("table is %dx%dx%d, agent expects %dx%dx%d",
			d.AgeBins, d.CqiBins, d.WeightBins, cfg.AgeBins, cfg.CqiBins, cfg.WeightBins)
	}
	if len(d.Values) != d.AgeBins {
		return fmt.Errorf("values have %d age rows, want %d", len(d.Values), d.AgeBins)
	}
	for i, row := range d.Values {
		if len(row) != d.CqiBins {
			return fmt.Errorf("age row %d has %d cqi rows, want %d", i, len(row), d.CqiBins)
		}
		for j, cell := range row {
			if len(cell) != d.WeightBins {
				return fmt.Errorf("entry (%d,%d) has %d weights, want %d", i, j, len(cell), d.WeightBins)
			}
		}
	}
	return nil
}
