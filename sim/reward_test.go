package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAoIReward_FreshHighQualityChannel(t *testing.T) {
	// GIVEN one active channel at age 1, CQI 15, no HARQ outcome yet
	ue := newTestUe(1, PolicyExternalWeight, 10)
	r := NewRewardFunc(DefaultRewardConfig(), nil, 52)

	// THEN reward = 0.5*(1 - 1/10000) + 0.5*15/15
	assert.InDelta(t, 0.5*(1-1.0/10000)+0.5, r.Reward(Uplink, []*UeRecord{ue}), 1e-12)
}

func TestAoIReward_HarqTerm(t *testing.T) {
	r := NewRewardFunc(DefaultRewardConfig(), nil, 52)
	base := r.Reward(Uplink, []*UeRecord{newTestUe(1, PolicyExternalWeight, 10)})

	acked := newTestUe(1, PolicyExternalWeight, 10)
	acked.SetHarqResult(Uplink, true)
	nacked := newTestUe(1, PolicyExternalWeight, 10)
	nacked.SetHarqResult(Uplink, false)

	assert.InDelta(t, base+1, r.Reward(Uplink, []*UeRecord{acked}), 1e-12)
	assert.InDelta(t, base-2, r.Reward(Uplink, []*UeRecord{nacked}), 1e-12)
}

func TestAoIReward_StaleUeScoresLower(t *testing.T) {
	r := NewRewardFunc(DefaultRewardConfig(), nil, 52)
	fresh := newTestUe(1, PolicyExternalWeight, 10)
	stale := newTestUe(1, PolicyExternalWeight, 10)
	stale.setAge(Uplink, 20000)

	assert.Greater(t, r.Reward(Uplink, []*UeRecord{fresh}), r.Reward(Uplink, []*UeRecord{stale}))
	assert.InDelta(t, 0.5, r.Reward(Uplink, []*UeRecord{stale}), 1e-12, "age term saturates at MaxAge")
}

func TestAoIReward_IdleUesContributeNothing(t *testing.T) {
	r := NewRewardFunc(DefaultRewardConfig(), nil, 52)
	assert.Equal(t, 0.0, r.Reward(Uplink, []*UeRecord{newTestUe(1, PolicyExternalWeight, 0)}))
	assert.Equal(t, 0.0, r.Reward(Uplink, nil))
}

func TestQoSReward(t *testing.T) {
	// GIVEN potential = 10 units * 8 bits / 1000 = 0.08 kbit, smoothing 1, priority 1
	cfg := DefaultRewardConfig()
	cfg.Kind = RewardQoS
	r := NewRewardFunc(cfg, byteEstimator, 10)
	ue := newTestUe(1, PolicyExternalWeight, 10)
	ue.Channel(Uplink, 1).QueueDelay = 4
	ue.AddChannel(Uplink, LogicalChannel{ID: 2, Priority: 1, PendingBytes: 5}) // no delay: skipped

	// THEN reward = 0.08 / (1 * 1 * 4)
	assert.InDelta(t, 0.02, r.Reward(Uplink, []*UeRecord{ue}), 1e-12)
}

func TestNewRewardFunc_Invalid_Panics(t *testing.T) {
	cfg := DefaultRewardConfig()
	cfg.Kind = "latency"
	assert.Panics(t, func() { NewRewardFunc(cfg, byteEstimator, 1) })

	cfg.Kind = RewardQoS
	assert.Panics(t, func() { NewRewardFunc(cfg, nil, 1) })
}

func TestRewardConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultRewardConfig().Validate())

	cfg := DefaultRewardConfig()
	cfg.MaxAge = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultRewardConfig()
	cfg.Kind = "latency"
	assert.Error(t, cfg.Validate())
}
