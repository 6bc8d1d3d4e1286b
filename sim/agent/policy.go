// Package agent provides in-process decision agents for the external-weight policy.
//
// A Policy works on the flat gym-style view of a round: Act maps the observation vector
// (sim.ObservationFields values per flow) to one weight per flow, and Learn receives the
// reward that followed the previous Act. Local adapts a Policy to sim.Agent.
package agent

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/aoi-sim/aoi-sim/sim"
)

// Policy decides per-flow weights from a flat observation vector.
type Policy interface {
	// Act returns one weight in [0,1] per flow of obs.
	Act(obs []float64) []float64
	// Learn scores the actions returned by the previous Act.
	Learn(reward float64)
}

// Kind names an agent implementation.
type Kind string

const (
	KindQLearning Kind = "qlearning"
	KindRandom    Kind = "random"
)

// validKinds is the set of recognized in-process agents.
var validKinds = map[string]bool{string(KindQLearning): true, string(KindRandom): true}

// IsValidKind returns true if name is a recognized in-process agent.
func IsValidKind(name string) bool { return validKinds[name] }

// Kinds returns the recognized agent names in sorted order.
func Kinds() []string {
	out := make([]string, 0, len(validKinds))
	for k := range validKinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// NewPolicy creates a policy by name. Panics on an unknown name.
func NewPolicy(kind Kind, cfg QConfig, rng *rand.Rand) Policy {
	switch kind {
	case KindQLearning:
		q, err := NewQLearning(cfg, rng)
		if err != nil {
			panic(fmt.Sprintf("NewPolicy: %v", err))
		}
		return q
	case KindRandom:
		return NewRandom(rng)
	default:
		panic(fmt.Sprintf("unknown agent %q", kind))
	}
}

// Random samples every weight uniformly from [0,1), like sampling a gym Box action space.
type Random struct {
	rng *rand.Rand
}

// NewRandom creates a Random policy drawing from rng.
func NewRandom(rng *rand.Rand) *Random {
	if rng == nil {
		panic("NewRandom: nil rng")
	}
	return &Random{rng: rng}
}

func (r *Random) Act(obs []float64) []float64 {
	out := make([]float64, len(obs)/sim.ObservationFields)
	for i := range out {
		out[i] = r.rng.Float64()
	}
	return out
}

func (r *Random) Learn(float64) {}
