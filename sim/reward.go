package sim

import (
	"fmt"
	"math"
)

// RewardKind names a reward function.
type RewardKind string

const (
	// RewardAoI scores freshness, link quality and HARQ outcome per active channel.
	RewardAoI RewardKind = "aoi"
	// RewardQoS is the proportional-fair QoS score: potential^alpha / (avg * priority * delay).
	RewardQoS RewardKind = "qos"
)

// RewardConfig holds the reward constants. All of them are tunable; the defaults are
// the ones the age-of-information agent was trained with.
type RewardConfig struct {
	Kind        RewardKind
	AgeWeight   float64 // weight of (1 - normalized age)
	CqiWeight   float64 // weight of normalized CQI
	AckBonus    float64 // added when the UE's last transmission was acknowledged
	NackPenalty float64 // added (usually negative) when it was not
	DelayWeight float64 // weight of normalized queue delay, subtracted
	MaxAge      float64 // age normalizer
	MaxDelay    float64 // queue-delay normalizer
	Alpha       float64 // exponent of the potential throughput in the QoS reward
}

// DefaultRewardConfig returns the AoI reward with weights 0.5/0.5, +1 on ACK, -2 on NACK.
func DefaultRewardConfig() RewardConfig {
	return RewardConfig{
		Kind:        RewardAoI,
		AgeWeight:   0.5,
		CqiWeight:   0.5,
		AckBonus:    1.0,
		NackPenalty: -2.0,
		DelayWeight: 0,
		MaxAge:      10000,
		MaxDelay:    1000,
		Alpha:       1.0,
	}
}

// ValidRewardKinds is the set of recognized reward names.
var ValidRewardKinds = map[string]bool{"": true, string(RewardAoI): true, string(RewardQoS): true}

// Validate checks reward names and normalizers.
func (c RewardConfig) Validate() error {
	if !ValidRewardKinds[string(c.Kind)] {
		return fmt.Errorf("unknown reward %q", c.Kind)
	}
	for name, v := range map[string]float64{
		"age_weight": c.AgeWeight, "cqi_weight": c.CqiWeight, "ack_bonus": c.AckBonus,
		"nack_penalty": c.NackPenalty, "delay_weight": c.DelayWeight, "alpha": c.Alpha,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s must be finite, got %f", name, v)
		}
	}
	if !(c.MaxAge > 0) {
		return fmt.Errorf("max_age must be positive, got %f", c.MaxAge)
	}
	if !(c.MaxDelay > 0) {
		return fmt.Errorf("max_delay must be positive, got %f", c.MaxDelay)
	}
	return nil
}

// RewardFunc scores the state left by the just-completed slot. Computed once per round
// and never accumulated.
type RewardFunc interface {
	Reward(dir Direction, ues []*UeRecord) float64
}

// NewRewardFunc creates the RewardFunc selected by cfg.Kind. Empty kind defaults to aoi.
// unitsPerSlot sizes the potential throughput of the QoS reward.
// Panics on unrecognized kinds.
func NewRewardFunc(cfg RewardConfig, estimator ThroughputEstimator, unitsPerSlot int64) RewardFunc {
	if !ValidRewardKinds[string(cfg.Kind)] {
		panic(fmt.Sprintf("unknown reward %q", cfg.Kind))
	}
	switch cfg.Kind {
	case "", RewardAoI:
		return &AoIReward{cfg: cfg}
	case RewardQoS:
		if estimator == nil {
			panic("NewRewardFunc: qos reward requires a ThroughputEstimator")
		}
		return &QoSReward{Alpha: cfg.Alpha, estimator: estimator, unitsPerSlot: unitsPerSlot}
	default:
		panic(fmt.Sprintf("unhandled reward %q", cfg.Kind))
	}
}

// AoIReward sums, over every active channel:
//
//	AgeWeight*(1 - min(1, age/MaxAge)) + CqiWeight*cqi/15
//	+ (AckBonus | NackPenalty if a HARQ outcome arrived since the last round)
//	- DelayWeight*min(1, queueDelay/MaxDelay)
type AoIReward struct {
	cfg RewardConfig
}

func (r *AoIReward) Reward(dir Direction, ues []*UeRecord) float64 {
	total := 0.0
	for _, ue := range ues {
		active := ue.ActiveChannels(dir)
		if len(active) == 0 {
			continue
		}
		normAge := math.Min(1, float64(ue.Age(dir))/r.cfg.MaxAge)
		normCqi := float64(ue.ChannelQuality(dir)) / MaxCqi
		harq := 0.0
		if ack, ok := ue.LastHarq(dir); ok {
			if ack {
				harq = r.cfg.AckBonus
			} else {
				harq = r.cfg.NackPenalty
			}
		}
		for _, lc := range active {
			normDelay := math.Min(1, float64(lc.QueueDelay)/r.cfg.MaxDelay)
			total += r.cfg.AgeWeight*(1-normAge) + r.cfg.CqiWeight*normCqi + harq - r.cfg.DelayWeight*normDelay
		}
	}
	return total
}

// QoSReward sums potential^Alpha / (max(1e-9, avg) * priority * queueDelay) over active
// channels, where potential is the kilobits the UE could carry with the whole pool and
// avg is its smoothing counter. Channels with zero average or zero delay are skipped.
type QoSReward struct {
	Alpha        float64
	estimator    ThroughputEstimator
	unitsPerSlot int64
}

func (r *QoSReward) Reward(dir Direction, ues []*UeRecord) float64 {
	total := 0.0
	for _, ue := range ues {
		avg := ue.Smoothing(dir)
		if avg == 0 {
			continue
		}
		potential := float64(r.unitsPerSlot*r.estimator.EstimateThroughput(ue, ue.ChannelQuality(dir))) / 1000.0
		for _, lc := range ue.ActiveChannels(dir) {
			if lc.QueueDelay == 0 {
				continue
			}
			prio := float64(max(lc.Priority, 1))
			total += math.Pow(potential, r.Alpha) / (math.Max(1e-9, avg) * prio * float64(lc.QueueDelay))
		}
	}
	return total
}
