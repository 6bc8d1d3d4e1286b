package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// PartialGrantRule decides what happens when the remaining pool is smaller than a
// candidate's need.
type PartialGrantRule string

const (
	// PartialGrantSkip leaves the UE unserved and moves on to the next candidate,
	// which may need fewer units.
	PartialGrantSkip PartialGrantRule = "skip"
	// PartialGrantPartial hands the UE whatever is left, emptying the pool.
	PartialGrantPartial PartialGrantRule = "partial"
)

// ResourcePool is the finite set of units assignable in one slot. Units only go down.
type ResourcePool struct {
	Slot  int64
	Units int64
}

func (p *ResourcePool) take(n int64, ue UeID) {
	if n < 0 || n > p.Units {
		panic(fmt.Sprintf("slot %d: assigning %d units to ue %d would leave pool at %d", p.Slot, n, ue, p.Units-n))
	}
	p.Units -= n
}

// AssignerState is the state of a ResourceAssigner within one pass.
type AssignerState int

const (
	AssignerIdle AssignerState = iota
	AssignerAssigning
	AssignerDone
)

func (s AssignerState) String() string {
	switch s {
	case AssignerIdle:
		return "idle"
	case AssignerAssigning:
		return "assigning"
	case AssignerDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Assignment is one committed grant.
type Assignment struct {
	Ue        UeID
	Rank      int   // position in the candidate list
	SpanStart int64 // first unit of the grant within the slot's pool
	Units     int64
	Bytes     int64 // bytes the grant carries, capped at the UE's pending bytes
	Metric    float64
	Partial   bool // fewer units than the UE needed because the pool ran out
}

// CommittedAssignments is the outcome of one scheduling pass.
type CommittedAssignments struct {
	Direction      Direction
	Slot           int64
	Assignments    []Assignment
	Skipped        []UeID // reached but not served
	Unreached      []UeID // not reached because the pool ran out
	UnitsOffered   int64
	UnitsRemaining int64
}

// UnitsAssigned returns the number of units handed out.
func (c CommittedAssignments) UnitsAssigned() int64 {
	return c.UnitsOffered - c.UnitsRemaining
}

// ResourceAssigner walks a CandidateList in order and hands out units from a pool.
// It invokes the policy hooks but does NOT touch buffers, schedule events or record
// metrics; those are kernel concerns handled after Assign returns.
//
// The assigner never revisits a UE and never backtracks.
type ResourceAssigner struct {
	policy    MetricPolicy
	estimator ThroughputEstimator
	rule      PartialGrantRule
	maxUnits  int64
	state     AssignerState
}

// NewResourceAssigner creates an assigner. maxUnitsPerUe of 0 disables the per-UE cap.
func NewResourceAssigner(policy MetricPolicy, estimator ThroughputEstimator, rule PartialGrantRule, maxUnitsPerUe int64) *ResourceAssigner {
	if !IsValidPartialGrantRule(string(rule)) {
		panic(fmt.Sprintf("unknown partial grant rule %q", rule))
	}
	if rule == "" {
		rule = PartialGrantSkip
	}
	if estimator == nil {
		panic("NewResourceAssigner: nil ThroughputEstimator")
	}
	return &ResourceAssigner{policy: policy, estimator: estimator, rule: rule, maxUnits: maxUnitsPerUe}
}

// State returns where the assigner is in its current (or last) pass.
func (a *ResourceAssigner) State() AssignerState {
	return a.state
}

// UnitsNeeded returns how many units a UE needs this slot, after the per-UE cap.
func (a *ResourceAssigner) UnitsNeeded(ue *UeRecord, dir Direction, pendingBytes int64) int64 {
	need := unitsFor(pendingBytes, a.estimator.EstimateThroughput(ue, ue.ChannelQuality(dir)))
	if a.maxUnits > 0 && need > a.maxUnits {
		need = a.maxUnits
	}
	return need
}

// Assign runs one pass: Idle -> Assigning -> Done.
func (a *ResourceAssigner) Assign(dir Direction, candidates CandidateList, pool ResourcePool) CommittedAssignments {
	a.state = AssignerIdle
	out := CommittedAssignments{Direction: dir, Slot: pool.Slot, UnitsOffered: pool.Units}
	visited := make(map[UeID]bool, len(candidates))

	a.state = AssignerAssigning
	var total int64
	for i, c := range candidates {
		if pool.Units == 0 {
			for _, rest := range candidates[i:] {
				out.Unreached = append(out.Unreached, rest.Ue.ID)
			}
			break
		}
		if visited[c.Ue.ID] {
			panic(fmt.Sprintf("slot %d: ue %d appears twice in the %s candidate list", pool.Slot, c.Ue.ID, dir))
		}
		visited[c.Ue.ID] = true

		need := a.UnitsNeeded(c.Ue, dir, c.PendingBytes)
		units := need
		partial := false
		if need > pool.Units {
			if a.rule == PartialGrantSkip {
				a.policy.OnNotAssigned(c.Ue, dir, need, total)
				out.Skipped = append(out.Skipped, c.Ue.ID)
				continue
			}
			units = pool.Units
			partial = true
		}

		start := pool.Units
		pool.take(units, c.Ue.ID)
		total += units
		bpu := a.estimator.EstimateThroughput(c.Ue, c.Ue.ChannelQuality(dir))
		out.Assignments = append(out.Assignments, Assignment{
			Ue:        c.Ue.ID,
			Rank:      i,
			SpanStart: out.UnitsOffered - start,
			Units:     units,
			Bytes:     min(bytesFor(units, bpu), c.PendingBytes),
			Metric:    c.Metric,
			Partial:   partial,
		})
		a.policy.OnAssigned(c.Ue, dir, units, total)
	}
	out.UnitsRemaining = pool.Units
	a.state = AssignerDone

	logrus.Debugf("[slot %07d] %s: %d assigned, %d skipped, %d unreached, %d/%d units left",
		pool.Slot, dir, len(out.Assignments), len(out.Skipped), len(out.Unreached), out.UnitsRemaining, out.UnitsOffered)
	return out
}
