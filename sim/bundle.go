package sim

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// PolicyBundle holds the decision-engine configuration, loadable from a YAML file.
// Nil pointer fields mean "not set in YAML" and do not override the Config they are
// applied to. String fields use empty string for "not set".
type PolicyBundle struct {
	Scheduler SchedulerBundle `yaml:"scheduler"`
	Assigner  AssignerBundle  `yaml:"assigner"`
	Reward    RewardBundle    `yaml:"reward"`
}

// SchedulerBundle holds metric policy configuration.
type SchedulerBundle struct {
	Policy          string   `yaml:"policy"`
	AoIWeight       *float64 `yaml:"aoi_weight"`
	SmoothWeight    *float64 `yaml:"smooth_weight"`
	SmoothingFactor *float64 `yaml:"smoothing_factor"`
}

// AssignerBundle holds resource assigner configuration.
type AssignerBundle struct {
	PartialGrant  string `yaml:"partial_grant"`
	MaxUnitsPerUe *int64 `yaml:"max_units_per_ue"`
}

// RewardBundle holds reward configuration.
type RewardBundle struct {
	Kind        string   `yaml:"kind"`
	AgeWeight   *float64 `yaml:"age_weight"`
	CqiWeight   *float64 `yaml:"cqi_weight"`
	AckBonus    *float64 `yaml:"ack_bonus"`
	NackPenalty *float64 `yaml:"nack_penalty"`
	DelayWeight *float64 `yaml:"delay_weight"`
	MaxAge      *float64 `yaml:"max_age"`
	MaxDelay    *float64 `yaml:"max_delay"`
	Alpha       *float64 `yaml:"alpha"`
}

// LoadPolicyBundle reads and parses a YAML policy configuration file.
// Unknown keys are rejected so that typos do not silently fall back to defaults.
func LoadPolicyBundle(path string) (*PolicyBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy config: %w", err)
	}
	return ParsePolicyBundle(data)
}

// ParsePolicyBundle parses YAML bytes into a PolicyBundle.
func ParsePolicyBundle(data []byte) (*PolicyBundle, error) {
	var bundle PolicyBundle
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&bundle); err != nil {
		return nil, fmt.Errorf("parsing policy config: %w", err)
	}
	return &bundle, nil
}

// ValidPolicyKinds is the set of recognized metric policy names.
// Shared by Validate() and NewMetricPolicy() to avoid duplication.
var ValidPolicyKinds = map[string]bool{"": true, string(PolicyAgeGreedy): true, string(PolicyExternalWeight): true}

// IsValidPolicyKind returns true if name is a recognized metric policy.
func IsValidPolicyKind(name string) bool { return ValidPolicyKinds[name] }

// ValidPartialGrantRules is the set of recognized partial grant rule names.
var ValidPartialGrantRules = map[string]bool{"": true, string(PartialGrantSkip): true, string(PartialGrantPartial): true}

// IsValidPartialGrantRule returns true if name is a recognized partial grant rule.
func IsValidPartialGrantRule(name string) bool { return ValidPartialGrantRules[name] }

// Validate checks that all policy names and parameter ranges in the bundle are valid.
func (b *PolicyBundle) Validate() error {
	if !IsValidPolicyKind(b.Scheduler.Policy) {
		return fmt.Errorf("unknown scheduler policy %q", b.Scheduler.Policy)
	}
	if !IsValidPartialGrantRule(b.Assigner.PartialGrant) {
		return fmt.Errorf("unknown partial grant rule %q", b.Assigner.PartialGrant)
	}
	if !ValidRewardKinds[b.Reward.Kind] {
		return fmt.Errorf("unknown reward %q", b.Reward.Kind)
	}
	// Parameter range validation
	for name, v := range map[string]*float64{"aoi_weight": b.Scheduler.AoIWeight, "smooth_weight": b.Scheduler.SmoothWeight} {
		if v != nil {
			if err := checkUnitInterval(name, *v); err != nil {
				return err
			}
		}
	}
	if f := b.Scheduler.SmoothingFactor; f != nil && (math.IsNaN(*f) || *f <= 0 || *f > 1) {
		return fmt.Errorf("smoothing_factor must be in (0,1], got %f", *f)
	}
	if m := b.Assigner.MaxUnitsPerUe; m != nil && *m < 0 {
		return fmt.Errorf("max_units_per_ue must be non-negative, got %d", *m)
	}
	if v := b.Reward.MaxAge; v != nil && !(*v > 0) {
		return fmt.Errorf("max_age must be positive, got %f", *v)
	}
	if v := b.Reward.MaxDelay; v != nil && !(*v > 0) {
		return fmt.Errorf("max_delay must be positive, got %f", *v)
	}
	return nil
}

// ApplyTo overrides the fields of cfg that the bundle sets.
func (b *PolicyBundle) ApplyTo(cfg *Config) {
	if b.Scheduler.Policy != "" {
		cfg.Policy = PolicyKind(b.Scheduler.Policy)
	}
	setFloat(&cfg.AoIWeight, b.Scheduler.AoIWeight)
	setFloat(&cfg.SmoothWeight, b.Scheduler.SmoothWeight)
	setFloat(&cfg.SmoothingFactor, b.Scheduler.SmoothingFactor)

	if b.Assigner.PartialGrant != "" {
		cfg.PartialGrant = PartialGrantRule(b.Assigner.PartialGrant)
	}
	if b.Assigner.MaxUnitsPerUe != nil {
		cfg.MaxUnitsPerUe = *b.Assigner.MaxUnitsPerUe
	}

	r := &cfg.Reward
	if b.Reward.Kind != "" {
		r.Kind = RewardKind(b.Reward.Kind)
	}
	setFloat(&r.AgeWeight, b.Reward.AgeWeight)
	setFloat(&r.CqiWeight, b.Reward.CqiWeight)
	setFloat(&r.AckBonus, b.Reward.AckBonus)
	setFloat(&r.NackPenalty, b.Reward.NackPenalty)
	setFloat(&r.DelayWeight, b.Reward.DelayWeight)
	setFloat(&r.MaxAge, b.Reward.MaxAge)
	setFloat(&r.MaxDelay, b.Reward.MaxDelay)
	setFloat(&r.Alpha, b.Reward.Alpha)
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}
