package workload

import (
	"fmt"
	"math"
	"math/rand"
)

// ValueSampler draws packet sizes and gaps from a configured distribution.
type ValueSampler interface {
	// Sample returns a non-negative value.
	Sample(rng *rand.Rand) float64
}

// UniformSampler draws from [min, max]. The generator of the reference scenario uses it
// for both packet sizes and sensor periods.
type UniformSampler struct {
	min, max float64
}

func (s *UniformSampler) Sample(rng *rand.Rand) float64 {
	if s.min == s.max {
		return s.min
	}
	return s.min + rng.Float64()*(s.max-s.min)
}

// GaussianSampler produces clamped Gaussian values.
type GaussianSampler struct {
	mean, stdDev float64
	min, max     float64
}

func (s *GaussianSampler) Sample(rng *rand.Rand) float64 {
	if s.min == s.max {
		return s.min
	}
	val := rng.NormFloat64()*s.stdDev + s.mean
	return math.Min(s.max, math.Max(s.min, val))
}

// ExponentialSampler produces exponentially-distributed values.
type ExponentialSampler struct {
	mean float64
}

func (s *ExponentialSampler) Sample(rng *rand.Rand) float64 {
	return rng.ExpFloat64() * s.mean
}

// ConstantSampler always returns the same fixed value.
type ConstantSampler struct {
	value float64
}

func (s *ConstantSampler) Sample(_ *rand.Rand) float64 {
	return s.value
}

// requireParam checks that all required keys exist in a params map.
func requireParam(params map[string]float64, keys ...string) error {
	for _, k := range keys {
		if _, ok := params[k]; !ok {
			return fmt.Errorf("distribution requires parameter %q", k)
		}
	}
	return nil
}

// NewValueSampler creates a ValueSampler from a DistSpec.
func NewValueSampler(spec DistSpec) (ValueSampler, error) {
	p := spec.Params
	switch spec.Type {
	case "uniform":
		if err := requireParam(p, "min", "max"); err != nil {
			return nil, err
		}
		if p["min"] < 0 || p["min"] > p["max"] {
			return nil, fmt.Errorf("uniform needs 0 <= min <= max, got [%g,%g]", p["min"], p["max"])
		}
		return &UniformSampler{min: p["min"], max: p["max"]}, nil

	case "gaussian":
		if err := requireParam(p, "mean", "std_dev", "min", "max"); err != nil {
			return nil, err
		}
		if p["min"] < 0 || p["min"] > p["max"] || p["std_dev"] < 0 {
			return nil, fmt.Errorf("gaussian needs 0 <= min <= max and std_dev >= 0")
		}
		return &GaussianSampler{mean: p["mean"], stdDev: p["std_dev"], min: p["min"], max: p["max"]}, nil

	case "exponential":
		if err := requireParam(p, "mean"); err != nil {
			return nil, err
		}
		if p["mean"] <= 0 {
			return nil, fmt.Errorf("exponential mean must be positive, got %g", p["mean"])
		}
		return &ExponentialSampler{mean: p["mean"]}, nil

	case "constant":
		if err := requireParam(p, "value"); err != nil {
			return nil, err
		}
		if p["value"] < 0 {
			return nil, fmt.Errorf("constant value must be non-negative, got %g", p["value"])
		}
		return &ConstantSampler{value: p["value"]}, nil

	default:
		return nil, fmt.Errorf("unknown distribution type %q", spec.Type)
	}
}

// Uniform is shorthand for a uniform DistSpec.
func Uniform(min, max float64) DistSpec {
	return DistSpec{Type: "uniform", Params: map[string]float64{"min": min, "max": max}}
}

// Constant is shorthand for a constant DistSpec.
func Constant(value float64) DistSpec {
	return DistSpec{Type: "constant", Params: map[string]float64{"value": value}}
}
