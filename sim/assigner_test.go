package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// threeNeedingFour ranks three UEs needing 4 units each, in order 1, 2, 3.
func threeNeedingFour(t *testing.T, rule PartialGrantRule) (*ResourceAssigner, CandidateList, *staticFreshness) {
	t.Helper()
	fresh := newStaticFreshness(map[UeID]uint64{1: 30, 2: 20, 3: 10})
	cfg := greedyConfig()
	cfg.PartialGrant = rule
	policy := NewMetricPolicy(cfg, PolicyDeps{Freshness: fresh, Estimator: byteEstimator})
	ues := []*UeRecord{
		newTestUe(1, PolicyAgeGreedy, 4),
		newTestUe(2, PolicyAgeGreedy, 4),
		newTestUe(3, PolicyAgeGreedy, 4),
	}
	cl := NewRanker(policy).BuildCandidates(Uplink, ues)
	require.Equal(t, []UeID{1, 2, 3}, cl.IDs())
	return NewResourceAssigner(policy, byteEstimator, rule, 0), cl, fresh
}

func TestAssign_SkipRule_LeavesRemainder(t *testing.T) {
	// GIVEN a pool of 10 and three UEs needing 4 each
	a, cl, fresh := threeNeedingFour(t, PartialGrantSkip)

	// WHEN assigned under the skip rule
	out := a.Assign(Uplink, cl, ResourcePool{Slot: 3, Units: 10})

	// THEN the first two get 4 each and the third is skipped with 2 units left over
	require.Len(t, out.Assignments, 2)
	assert.Equal(t, int64(4), out.Assignments[0].Units)
	assert.Equal(t, int64(4), out.Assignments[1].Units)
	assert.Equal(t, []UeID{3}, out.Skipped)
	assert.Empty(t, out.Unreached)
	assert.Equal(t, int64(2), out.UnitsRemaining)
	assert.Equal(t, int64(8), out.UnitsAssigned())
	assert.Equal(t, []UeID{1, 2}, fresh.served)
	assert.Equal(t, AssignerDone, a.State())
}

func TestAssign_PartialRule_EmptiesPool(t *testing.T) {
	a, cl, _ := threeNeedingFour(t, PartialGrantPartial)

	out := a.Assign(Uplink, cl, ResourcePool{Slot: 3, Units: 10})

	require.Len(t, out.Assignments, 3)
	last := out.Assignments[2]
	assert.Equal(t, UeID(3), last.Ue)
	assert.Equal(t, int64(2), last.Units)
	assert.Equal(t, int64(2), last.Bytes)
	assert.True(t, last.Partial)
	assert.Equal(t, int64(0), out.UnitsRemaining)
}

func TestAssign_SpansAreContiguous(t *testing.T) {
	a, cl, _ := threeNeedingFour(t, PartialGrantPartial)

	out := a.Assign(Uplink, cl, ResourcePool{Units: 10})

	var next int64
	for _, g := range out.Assignments {
		assert.Equal(t, next, g.SpanStart)
		next += g.Units
	}
}

func TestAssign_Conservation(t *testing.T) {
	// Units handed out plus units left always equal the pool.
	for _, pool := range []int64{0, 1, 3, 4, 7, 8, 11, 12, 50} {
		for _, rule := range []PartialGrantRule{PartialGrantSkip, PartialGrantPartial} {
			a, cl, _ := threeNeedingFour(t, rule)
			out := a.Assign(Uplink, cl, ResourcePool{Units: pool})

			var sum int64
			for _, g := range out.Assignments {
				assert.Positive(t, g.Units)
				sum += g.Units
			}
			if sum+out.UnitsRemaining != pool {
				t.Errorf("pool %d rule %s: assigned %d + remaining %d != pool", pool, rule, sum, out.UnitsRemaining)
			}
			assert.GreaterOrEqual(t, out.UnitsRemaining, int64(0))
		}
	}
}

func TestAssign_EmptyPool_AllUnreached(t *testing.T) {
	a, cl, fresh := threeNeedingFour(t, PartialGrantSkip)

	out := a.Assign(Uplink, cl, ResourcePool{Units: 0})

	assert.Empty(t, out.Assignments)
	assert.Equal(t, []UeID{1, 2, 3}, out.Unreached)
	assert.Empty(t, fresh.served)
}

func TestAssign_DuplicateCandidate_Panics(t *testing.T) {
	a, cl, _ := threeNeedingFour(t, PartialGrantSkip)
	dup := append(cl, cl[0])
	assert.Panics(t, func() { a.Assign(Uplink, dup, ResourcePool{Units: 100}) })
}

func TestAssign_MaxUnitsPerUe_CapsGrant(t *testing.T) {
	fresh := newStaticFreshness(nil)
	policy := NewMetricPolicy(greedyConfig(), PolicyDeps{Freshness: fresh, Estimator: byteEstimator})
	cl := NewRanker(policy).BuildCandidates(Uplink, []*UeRecord{newTestUe(1, PolicyAgeGreedy, 100)})
	a := NewResourceAssigner(policy, byteEstimator, PartialGrantSkip, 6)

	out := a.Assign(Uplink, cl, ResourcePool{Units: 50})

	require.Len(t, out.Assignments, 1)
	assert.Equal(t, int64(6), out.Assignments[0].Units)
	assert.Equal(t, int64(6), out.Assignments[0].Bytes)
	assert.False(t, out.Assignments[0].Partial)
}

func TestAssign_BytesCappedAtPending(t *testing.T) {
	// 100 bits per unit: 3 pending bytes (24 bits) need one unit that could carry 12 bytes
	fresh := newStaticFreshness(nil)
	est := fixedEstimator{bits: 100}
	policy := NewMetricPolicy(greedyConfig(), PolicyDeps{Freshness: fresh, Estimator: est})
	cl := NewRanker(policy).BuildCandidates(Uplink, []*UeRecord{newTestUe(1, PolicyAgeGreedy, 3)})

	out := NewResourceAssigner(policy, est, PartialGrantSkip, 0).Assign(Uplink, cl, ResourcePool{Units: 5})

	require.Len(t, out.Assignments, 1)
	assert.Equal(t, int64(1), out.Assignments[0].Units)
	assert.Equal(t, int64(3), out.Assignments[0].Bytes)
}

func TestNewResourceAssigner_Invalid_Panics(t *testing.T) {
	policy := NewMetricPolicy(greedyConfig(), PolicyDeps{Freshness: newStaticFreshness(nil), Estimator: byteEstimator})
	assert.Panics(t, func() { NewResourceAssigner(policy, byteEstimator, "greedy", 0) })
	assert.Panics(t, func() { NewResourceAssigner(policy, nil, PartialGrantSkip, 0) })
}

func TestResourcePool_TakeBeyondRemaining_Panics(t *testing.T) {
	p := ResourcePool{Slot: 1, Units: 3}
	assert.Panics(t, func() { p.take(4, 1) })
	assert.Panics(t, func() { p.take(-1, 1) })
	p.take(3, 1)
	assert.Equal(t, int64(0), p.Units)
}

func TestAssignerState_String(t *testing.T) {
	assert.Equal(t, "idle", AssignerIdle.String())
	assert.Equal(t, "assigning", AssignerAssigning.String())
	assert.Equal(t, "done", AssignerDone.String())
}
