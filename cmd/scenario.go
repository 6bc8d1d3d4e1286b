package cmd

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aoi-sim/aoi-sim/sim"
	"github.com/aoi-sim/aoi-sim/sim/agent"
	"github.com/aoi-sim/aoi-sim/sim/workload"
)

// resolveScenario returns the traffic spec named by arg: a preset name from
// workload.Scenarios or the path of a YAML/TOML scenario file.
func resolveScenario(arg string, seed int64, ues int) (*workload.TrafficSpec, error) {
	if preset, ok := workload.Scenarios[arg]; ok {
		if ues <= 0 {
			return nil, fmt.Errorf("--ues must be positive for preset %q, got %d", arg, ues)
		}
		return preset(seed, ues), nil
	}
	if _, err := os.Stat(arg); err != nil {
		return nil, fmt.Errorf("scenario %q is neither a preset (%s) nor a readable file: %w",
			arg, strings.Join(workload.ScenarioNames(), ", "), err)
	}
	return workload.LoadTrafficSpec(arg)
}

// parseDirections converts CLI direction names, dropping duplicates.
func parseDirections(names []string) ([]sim.Direction, error) {
	var out []sim.Direction
	seen := map[sim.Direction]bool{}
	for _, name := range names {
		d, err := sim.ParseDirection(name)
		if err != nil {
			return nil, err
		}
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out, nil
}

// qConfigFile is the on-disk form of the Q-learning parameters. Pointer fields left
// unset keep the defaults.
type qConfigFile struct {
	MaxAge     *float64 `yaml:"max_age"`
	MaxCqi     *float64 `yaml:"max_cqi"`
	AgeBins    *int     `yaml:"age_bins"`
	CqiBins    *int     `yaml:"cqi_bins"`
	WeightBins *int     `yaml:"weight_bins"`
	Epsilon    *float64 `yaml:"epsilon"`
	Alpha      *float64 `yaml:"alpha"`
	Gamma      *float64 `yaml:"gamma"`
	Inference  *bool    `yaml:"inference"`
}

// loadQConfig reads Q-learning parameters over agent.DefaultQConfig. Unknown keys are
// rejected so that typos do not silently fall back to defaults.
func loadQConfig(path string) (agent.QConfig, error) {
	cfg := agent.DefaultQConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading q-learning config: %w", err)
	}
	var file qConfigFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return cfg, fmt.Errorf("parsing q-learning config %s: %w", path, err)
	}
	setIf(&cfg.MaxAge, file.MaxAge)
	setIf(&cfg.MaxCqi, file.MaxCqi)
	setIf(&cfg.AgeBins, file.AgeBins)
	setIf(&cfg.CqiBins, file.CqiBins)
	setIf(&cfg.WeightBins, file.WeightBins)
	setIf(&cfg.Epsilon, file.Epsilon)
	setIf(&cfg.Alpha, file.Alpha)
	setIf(&cfg.Gamma, file.Gamma)
	setIf(&cfg.Inference, file.Inference)
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("q-learning config %s: %w", path, err)
	}
	return cfg, nil
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// policyFactory builds one in-process policy per direction, each drawing from its own
// RNG subsystem so that enabling a direction does not shift the other's exploration.
func policyFactory(kind agent.Kind, qcfg agent.QConfig, rng *sim.PartitionedRNG) func(sim.Direction) agent.Policy {
	return func(dir sim.Direction) agent.Policy {
		return agent.NewPolicy(kind, qcfg, rng.ForSubsystem(sim.SubsystemAgent+"_"+dir.String()))
	}
}
