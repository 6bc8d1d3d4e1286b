package sim

import "github.com/sirupsen/logrus"

// AgeGreedyPolicy ranks UEs by staleness blended with their allocation history.
// Formula: AoIWeight * age + SmoothWeight * smoothing
//
// Age comes from the FreshnessSource at the start of every pass and drops to MinAge as
// soon as the UE receives units. The smoothing counter is a weighted moving average of
// the kilobits granted per slot, updated on assignment.
type AgeGreedyPolicy struct {
	AoIWeight       float64
	SmoothWeight    float64
	SmoothingFactor float64

	freshness FreshnessSource
	estimator ThroughputEstimator
}

func (p *AgeGreedyPolicy) Kind() PolicyKind { return PolicyAgeGreedy }

func (p *AgeGreedyPolicy) ComputeMetric(ue *UeRecord, dir Direction) float64 {
	assertKind(p, ue)
	if len(ue.ActiveChannels(dir)) == 0 {
		return 0
	}
	return p.AoIWeight*float64(ue.Age(dir)) + p.SmoothWeight*ue.Smoothing(dir)
}

func (p *AgeGreedyPolicy) OnBeforeSchedule(ue *UeRecord, dir Direction) {
	assertKind(p, ue)
	refreshAge(p.freshness, ue, dir)
}

func (p *AgeGreedyPolicy) OnAssigned(ue *UeRecord, dir Direction, units, totalAssigned int64) {
	assertKind(p, ue)
	markServed(p.freshness, ue, dir)
	updateSmoothing(p.estimator, p.SmoothingFactor, ue, dir, units)
	st := ue.state(dir)
	st.metric = p.AoIWeight*float64(st.age) + p.SmoothWeight*st.smoothing
	logrus.WithFields(logrus.Fields{
		"ue": ue.ID, "dir": dir, "units": units, "slot_total": totalAssigned, "smoothing": st.smoothing,
	}).Debug("age-greedy: assigned")
}

func (p *AgeGreedyPolicy) OnNotAssigned(ue *UeRecord, dir Direction, unitsNeeded, totalAssigned int64) {
	assertKind(p, ue)
	logrus.WithFields(logrus.Fields{
		"ue": ue.ID, "dir": dir, "needed": unitsNeeded, "slot_total": totalAssigned,
	}).Debug("age-greedy: not assigned")
}

func (p *AgeGreedyPolicy) Less(a, b Candidate) bool {
	return byMetricThenID(a, b)
}
