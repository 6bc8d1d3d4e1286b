package sim

import (
	"fmt"
	"math"
)

// Config groups the decision-engine parameters supplied once at construction.
type Config struct {
	Policy          PolicyKind       // "age-greedy" (default) or "external-weight"
	AoIWeight       float64          // age weight of the age-greedy metric, in [0,1]
	SmoothWeight    float64          // smoothing weight of the age-greedy metric, in [0,1]
	SmoothingFactor float64          // weight of the newest allocation in the smoothing average, in (0,1]
	PartialGrant    PartialGrantRule // what to do when the pool cannot cover a UE's need
	MaxUnitsPerUe   int64            // cap on units per UE per slot (0 = no cap)
	Reward          RewardConfig
}

// DefaultConfig returns the engine defaults: age-greedy with 0.5/0.5 weights, skip rule.
func DefaultConfig() Config {
	return Config{
		Policy:          PolicyAgeGreedy,
		AoIWeight:       0.5,
		SmoothWeight:    0.5,
		SmoothingFactor: 0.5,
		PartialGrant:    PartialGrantSkip,
		MaxUnitsPerUe:   0,
		Reward:          DefaultRewardConfig(),
	}
}

// Validate checks policy names and parameter ranges.
func (c Config) Validate() error {
	if !IsValidPolicyKind(string(c.Policy)) {
		return fmt.Errorf("unknown policy %q", c.Policy)
	}
	if err := checkUnitInterval("aoi_weight", c.AoIWeight); err != nil {
		return err
	}
	if err := checkUnitInterval("smooth_weight", c.SmoothWeight); err != nil {
		return err
	}
	if math.IsNaN(c.SmoothingFactor) || c.SmoothingFactor <= 0 || c.SmoothingFactor > 1 {
		return fmt.Errorf("smoothing_factor must be in (0,1], got %f", c.SmoothingFactor)
	}
	if !IsValidPartialGrantRule(string(c.PartialGrant)) {
		return fmt.Errorf("unknown partial grant rule %q", c.PartialGrant)
	}
	if c.MaxUnitsPerUe < 0 {
		return fmt.Errorf("max_units_per_ue must be non-negative, got %d", c.MaxUnitsPerUe)
	}
	return c.Reward.Validate()
}

func checkUnitInterval(name string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%s must be in [0,1], got %f", name, v)
	}
	return nil
}

// SimConfig groups the slot-simulation parameters.
type SimConfig struct {
	Horizon        int64       // number of slots to simulate (must be > 0)
	Seed           int64       // master seed for the partitioned RNG
	ResourceUnits  int64       // units in each slot's pool, per direction (must be > 0)
	Directions     []Direction // directions to schedule; empty means uplink only
	DecisionPeriod int64       // slots between agent rounds (external-weight only, must be > 0)
	CqiPeriod      int64       // slots between CQI reports per UE (0 disables periodic reports)
	BsrDelay       int64       // slots from an uplink arrival to the buffer-status report
	K1             int64       // downlink data to HARQ feedback delay, in slots
	K2             int64       // uplink grant to data delay, in slots
}

// DefaultSimConfig returns a 10 000-slot uplink run with a 52-unit pool.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		Horizon:        10000,
		Seed:           42,
		ResourceUnits:  52,
		Directions:     []Direction{Uplink},
		DecisionPeriod: 1,
		CqiPeriod:      40,
		BsrDelay:       1,
		K1:             1,
		K2:             2,
	}
}

// Validate checks the simulation parameters.
func (c SimConfig) Validate() error {
	if c.Horizon <= 0 {
		return fmt.Errorf("horizon must be positive, got %d", c.Horizon)
	}
	if c.ResourceUnits <= 0 {
		return fmt.Errorf("resource_units must be positive, got %d", c.ResourceUnits)
	}
	if c.DecisionPeriod <= 0 {
		return fmt.Errorf("decision_period must be positive, got %d", c.DecisionPeriod)
	}
	if c.CqiPeriod < 0 || c.BsrDelay < 0 || c.K1 < 0 || c.K2 < 0 {
		return fmt.Errorf("cqi_period, bsr_delay, k1 and k2 must be non-negative")
	}
	seen := map[Direction]bool{}
	for _, d := range c.Directions {
		if d != Uplink && d != Downlink {
			return fmt.Errorf("invalid direction %d", int(d))
		}
		if seen[d] {
			return fmt.Errorf("direction %s listed twice", d)
		}
		seen[d] = true
	}
	return nil
}

func (c SimConfig) directions() []Direction {
	if len(c.Directions) == 0 {
		return []Direction{Uplink}
	}
	out := make([]Direction, 0, len(c.Directions))
	for _, d := range Directions {
		for _, want := range c.Directions {
			if d == want {
				out = append(out, d)
			}
		}
	}
	return out
}
