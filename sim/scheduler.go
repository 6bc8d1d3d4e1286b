package sim

import (
	"fmt"
)

// Scheduler is the per-slot decision engine: rank the active UEs with the configured
// MetricPolicy, then hand out the slot's pool in rank order.
//
// Not safe for concurrent use. Uplink and downlink passes may share a Scheduler as long
// as they run on the same goroutine; their UeRecord state never overlaps.
type Scheduler struct {
	cfg       Config
	policy    MetricPolicy
	ranker    *Ranker
	assigner  *ResourceAssigner
	estimator ThroughputEstimator
}

// NewScheduler builds a Scheduler from cfg. Panics if cfg does not validate; callers
// reading configuration from users should call cfg.Validate first.
func NewScheduler(cfg Config, freshness FreshnessSource, estimator ThroughputEstimator) *Scheduler {
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("NewScheduler: %v", err))
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyAgeGreedy
	}
	policy := NewMetricPolicy(cfg, PolicyDeps{Freshness: freshness, Estimator: estimator})
	return &Scheduler{
		cfg:       cfg,
		policy:    policy,
		ranker:    NewRanker(policy),
		assigner:  NewResourceAssigner(policy, estimator, cfg.PartialGrant, cfg.MaxUnitsPerUe),
		estimator: estimator,
	}
}

// Config returns the configuration the scheduler was built with.
func (s *Scheduler) Config() Config { return s.cfg }

// Policy returns the active MetricPolicy.
func (s *Scheduler) Policy() MetricPolicy { return s.policy }

// Estimator returns the throughput estimator used to size grants.
func (s *Scheduler) Estimator() ThroughputEstimator { return s.estimator }

// Assigner exposes the assigner, mainly so callers can inspect its state.
func (s *Scheduler) Assigner() *ResourceAssigner { return s.assigner }

// NewUe creates a UeRecord tagged for this scheduler's policy.
func (s *Scheduler) NewUe(id UeID) *UeRecord {
	return NewUeRecord(id, s.policy.Kind())
}

// Rank builds the slot's candidate list without assigning anything.
func (s *Scheduler) Rank(dir Direction, activeUes []*UeRecord) CandidateList {
	checkDirection(dir)
	return s.ranker.BuildCandidates(dir, activeUes)
}

// BuildAndAssign ranks activeUes and assigns pool.Units in rank order.
// Deterministic: the same UE state and pool always produce the same assignments.
func (s *Scheduler) BuildAndAssign(dir Direction, activeUes []*UeRecord, pool ResourcePool) CommittedAssignments {
	checkDirection(dir)
	if pool.Units < 0 {
		panic(fmt.Sprintf("slot %d: negative resource pool %d", pool.Slot, pool.Units))
	}
	candidates := s.ranker.BuildCandidates(dir, activeUes)
	return s.assigner.Assign(dir, candidates, pool)
}
