package sim

import "github.com/sirupsen/logrus"

// ExternalWeightPolicy ranks UEs by the sum of the weights an external agent assigned
// to their active channels. A channel without a weight contributes 0.
//
// The policy never writes weights itself; AgentBridge.Apply does, between passes.
// Age and the smoothing counter are still maintained because observations and rewards
// read them.
type ExternalWeightPolicy struct {
	SmoothingFactor float64

	freshness FreshnessSource
	estimator ThroughputEstimator
}

func (p *ExternalWeightPolicy) Kind() PolicyKind { return PolicyExternalWeight }

func (p *ExternalWeightPolicy) ComputeMetric(ue *UeRecord, dir Direction) float64 {
	assertKind(p, ue)
	sum := 0.0
	for _, lc := range ue.ActiveChannels(dir) {
		sum += ue.Weight(dir, lc.ID)
	}
	return sum
}

func (p *ExternalWeightPolicy) OnBeforeSchedule(ue *UeRecord, dir Direction) {
	assertKind(p, ue)
	refreshAge(p.freshness, ue, dir)
}

func (p *ExternalWeightPolicy) OnAssigned(ue *UeRecord, dir Direction, units, totalAssigned int64) {
	assertKind(p, ue)
	markServed(p.freshness, ue, dir)
	updateSmoothing(p.estimator, p.SmoothingFactor, ue, dir, units)
	logrus.WithFields(logrus.Fields{
		"ue": ue.ID, "dir": dir, "units": units, "slot_total": totalAssigned,
	}).Debug("external-weight: assigned")
}

func (p *ExternalWeightPolicy) OnNotAssigned(ue *UeRecord, dir Direction, unitsNeeded, _ int64) {
	assertKind(p, ue)
	logrus.WithFields(logrus.Fields{"ue": ue.ID, "dir": dir, "needed": unitsNeeded}).
		Debug("external-weight: not assigned")
}

func (p *ExternalWeightPolicy) Less(a, b Candidate) bool {
	return byMetricThenID(a, b)
}
