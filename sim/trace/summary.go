package trace

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalGrants    int
	PartialGrants  int
	Skips          int
	TotalUnits     int64
	UniqueUes      int
	UnitsPerUe     map[uint16]int64 // UE → units granted over the run
	Rounds         int
	CarriedOver    int
	MeanReward     float64
	MaxWaitSlots   int64
	DroppedUpdates int
	ClampedWeights int
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		UnitsPerUe: make(map[uint16]int64),
	}
	if st == nil {
		return summary
	}

	for _, g := range st.Grants {
		if g.Skipped {
			summary.Skips++
			continue
		}
		summary.TotalGrants++
		if g.Partial {
			summary.PartialGrants++
		}
		summary.TotalUnits += g.Units
		summary.UnitsPerUe[g.Ue] += g.Units
	}
	summary.UniqueUes = len(summary.UnitsPerUe)

	summary.Rounds = len(st.Rounds)
	if len(st.Rounds) > 0 {
		totalReward := 0.0
		for _, r := range st.Rounds {
			totalReward += r.Reward
			if r.CarriedOver {
				summary.CarriedOver++
			}
			if r.WaitSlots > summary.MaxWaitSlots {
				summary.MaxWaitSlots = r.WaitSlots
			}
			summary.DroppedUpdates += r.DroppedUes
			summary.ClampedWeights += r.Clamped
		}
		summary.MeanReward = totalReward / float64(len(st.Rounds))
	}

	return summary
}
