package sim

import "sort"

// Candidate is one entry of a CandidateList: a UE with data waiting and the metric it
// was ranked by.
type Candidate struct {
	Ue           *UeRecord
	PendingBytes int64
	Metric       float64
}

// CandidateList is the ranked list of UEs for one slot and direction. Rebuilt every
// pass and never kept across slots.
type CandidateList []Candidate

// IDs returns the UE IDs in ranked order.
func (cl CandidateList) IDs() []UeID {
	ids := make([]UeID, len(cl))
	for i, c := range cl {
		ids[i] = c.Ue.ID
	}
	return ids
}

// Ranker builds candidate lists ordered by a MetricPolicy.
type Ranker struct {
	policy MetricPolicy
}

// NewRanker creates a Ranker for policy.
func NewRanker(policy MetricPolicy) *Ranker {
	return &Ranker{policy: policy}
}

// BuildCandidates keeps the UEs with pending data in dir, refreshes them through
// OnBeforeSchedule, caches their metric and sorts them with the policy comparator.
// The input slice is not modified. Identical state yields identical order.
func (r *Ranker) BuildCandidates(dir Direction, activeUes []*UeRecord) CandidateList {
	cl := make(CandidateList, 0, len(activeUes))
	for _, ue := range activeUes {
		pending := ue.PendingBytes(dir)
		if pending <= 0 {
			continue
		}
		r.policy.OnBeforeSchedule(ue, dir)
		metric := r.policy.ComputeMetric(ue, dir)
		ue.state(dir).metric = metric
		cl = append(cl, Candidate{Ue: ue, PendingBytes: pending, Metric: metric})
	}
	sort.SliceStable(cl, func(i, j int) bool {
		return r.policy.Less(cl[i], cl[j])
	})
	return cl
}
