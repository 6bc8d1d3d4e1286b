package sim

import (
	"fmt"
)

// PolicyKind names a MetricPolicy variant.
type PolicyKind string

const (
	// PolicyAgeGreedy ranks by a weighted sum of age and allocation smoothing.
	PolicyAgeGreedy PolicyKind = "age-greedy"
	// PolicyExternalWeight ranks by the sum of per-channel weights supplied by an agent.
	PolicyExternalWeight PolicyKind = "external-weight"
)

// MetricPolicy computes the ranking metric of a UE and reacts to assignment outcomes.
//
// Hooks are called by a single scheduling pass, in order: OnBeforeSchedule for every UE
// with pending data, ComputeMetric while ranking, then OnAssigned or OnNotAssigned for
// every candidate the assigner reached.
type MetricPolicy interface {
	Kind() PolicyKind

	// ComputeMetric returns the UE's metric for the direction. Deterministic and
	// non-negative; 0 for a UE without active channels.
	ComputeMetric(ue *UeRecord, dir Direction) float64

	// OnBeforeSchedule refreshes state that depends on the outside world (age).
	OnBeforeSchedule(ue *UeRecord, dir Direction)

	// OnAssigned is called once per slot for a UE that received units.
	OnAssigned(ue *UeRecord, dir Direction, units, totalAssigned int64)

	// OnNotAssigned is called once per slot for a candidate that received nothing.
	OnNotAssigned(ue *UeRecord, dir Direction, unitsNeeded, totalAssigned int64)

	// Less orders candidates: true when a must be served before b.
	Less(a, b Candidate) bool
}

// PolicyDeps are the external collaborators a policy may consult.
type PolicyDeps struct {
	Freshness FreshnessSource
	Estimator ThroughputEstimator
}

// NewMetricPolicy creates the MetricPolicy selected by cfg.Policy.
// Valid kinds are defined in ValidPolicyKinds (bundle.go).
// Empty kind defaults to age-greedy. Panics on unrecognized kinds or missing deps.
func NewMetricPolicy(cfg Config, deps PolicyDeps) MetricPolicy {
	if !IsValidPolicyKind(string(cfg.Policy)) {
		panic(fmt.Sprintf("unknown policy %q", cfg.Policy))
	}
	if deps.Freshness == nil {
		panic("NewMetricPolicy: nil FreshnessSource")
	}
	switch cfg.Policy {
	case "", PolicyAgeGreedy:
		if deps.Estimator == nil {
			panic("NewMetricPolicy: age-greedy requires a ThroughputEstimator")
		}
		return &AgeGreedyPolicy{
			AoIWeight:       cfg.AoIWeight,
			SmoothWeight:    cfg.SmoothWeight,
			SmoothingFactor: cfg.SmoothingFactor,
			freshness:       deps.Freshness,
			estimator:       deps.Estimator,
		}
	case PolicyExternalWeight:
		return &ExternalWeightPolicy{
			SmoothingFactor: cfg.SmoothingFactor,
			freshness:       deps.Freshness,
			estimator:       deps.Estimator,
		}
	default:
		panic(fmt.Sprintf("unhandled policy %q", cfg.Policy))
	}
}

// byMetricThenID is the shared comparator: higher metric first, ties by ascending UE ID.
func byMetricThenID(a, b Candidate) bool {
	// Exact float comparison is intended: equal metrics must fall through to the ID
	// tie-break so repeated passes over the same state yield the same order.
	if a.Metric != b.Metric {
		return a.Metric > b.Metric
	}
	return a.Ue.ID < b.Ue.ID
}

// assertKind panics when a record built for another policy is handed to p.
func assertKind(p MetricPolicy, ue *UeRecord) {
	if ue.Kind() != p.Kind() {
		panic(fmt.Sprintf("ue %d was built for policy %q but used with %q", ue.ID, ue.Kind(), p.Kind()))
	}
}

// refreshAge pulls the UE's age from the freshness source.
func refreshAge(f FreshnessSource, ue *UeRecord, dir Direction) {
	ue.setAge(dir, f.Age(ue.ID, dir))
}

// markServed resets age to the minimum and tells the freshness source.
func markServed(f FreshnessSource, ue *UeRecord, dir Direction) {
	ue.setAge(dir, MinAge)
	f.MarkServed(ue.ID, dir)
}

// updateSmoothing folds this slot's allocation (in kilobits) into the moving average.
func updateSmoothing(est ThroughputEstimator, factor float64, ue *UeRecord, dir Direction, units int64) {
	if est == nil {
		return
	}
	kbits := float64(units*est.EstimateThroughput(ue, ue.ChannelQuality(dir))) / 1000.0
	st := ue.state(dir)
	st.smoothing = (1-factor)*st.smoothing + factor*kbits
}
