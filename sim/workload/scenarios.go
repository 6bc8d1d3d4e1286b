package workload

import "sort"

// Built-in scenario presets. Each returns a valid TrafficSpec ready for GenerateTraffic.

// sensorChannel is the uplink channel of a periodic IoT sensor: one packet every
// 500..5000 ms with the given size range.
func sensorChannel(minBytes, maxBytes float64) ChannelSpec {
	return ChannelSpec{
		ID: 1, Direction: "uplink", Group: 1, Priority: 1,
		Arrival: ArrivalSpec{Process: "interval", Interval: ptrDist(Uniform(500, 5000))},
		Size:    Uniform(minBytes, maxBytes),
	}
}

func ptrDist(d DistSpec) *DistSpec { return &d }

// mobilityGroups splits ues the way the reference cell does: the first 20% vehicular,
// the next 40% pedestrian, the rest static. Empty groups are left out.
func mobilityGroups(ues int, channels func(mobility string) []ChannelSpec) []GroupSpec {
	vehicular := ues * 2 / 10
	pedestrian := ues*6/10 - vehicular
	counts := []struct {
		mobility string
		n        int
	}{{"vehicular", vehicular}, {"pedestrian", pedestrian}, {"static", ues - vehicular - pedestrian}}

	var groups []GroupSpec
	for _, c := range counts {
		if c.n <= 0 {
			continue
		}
		groups = append(groups, GroupSpec{
			ID: c.mobility, Count: c.n, Mobility: c.mobility,
			Start:    ptrDist(Uniform(50, 200)),
			Packets:  1000,
			Channels: channels(c.mobility),
		})
	}
	return groups
}

// ScenarioReference is the single-cell uplink IoT cell: small non-full-buffer packets of
// 50..500 B (200..500 B for vehicular UEs) every 500..5000 ms, first packet 50..200 ms
// after attach.
func ScenarioReference(seed int64, ues int) *TrafficSpec {
	return &TrafficSpec{
		Version: "1", Seed: seed,
		Groups: mobilityGroups(ues, func(mobility string) []ChannelSpec {
			if mobility == "vehicular" {
				return []ChannelSpec{sensorChannel(200, 500)}
			}
			return []ChannelSpec{sensorChannel(50, 500)}
		}),
	}
}

// ScenarioBidirectional adds a Poisson downlink control flow to every sensor and
// schedules both directions.
func ScenarioBidirectional(seed int64, ues int) *TrafficSpec {
	spec := ScenarioReference(seed, ues)
	spec.Cell.Directions = []string{"uplink", "downlink"}
	for i := range spec.Groups {
		spec.Groups[i].Channels = append(spec.Groups[i].Channels, ChannelSpec{
			ID: 2, Direction: "downlink", Group: 1, Priority: 2,
			Arrival: ArrivalSpec{Process: "poisson", MeanMs: 2000},
			Size:    Uniform(20, 120),
		})
	}
	return spec
}

// ScenarioBursty replaces the jittered periods with Gamma arrivals (CV 3) at the same
// mean gap, so reports cluster into bursts.
func ScenarioBursty(seed int64, ues int) *TrafficSpec {
	spec := ScenarioReference(seed, ues)
	cv := 3.0
	for i := range spec.Groups {
		for j := range spec.Groups[i].Channels {
			spec.Groups[i].Channels[j].Arrival = ArrivalSpec{Process: "gamma", MeanMs: 2750, CV: &cv}
		}
	}
	return spec
}

// Scenarios maps preset names to their constructors.
var Scenarios = map[string]func(seed int64, ues int) *TrafficSpec{
	"reference":     ScenarioReference,
	"bidirectional": ScenarioBidirectional,
	"bursty":        ScenarioBursty,
}

// ScenarioNames returns the preset names in sorted order.
func ScenarioNames() []string {
	names := make([]string, 0, len(Scenarios))
	for name := range Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
