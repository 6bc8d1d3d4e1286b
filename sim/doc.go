// Package sim provides the slot-scheduler decision engine and the discrete-event
// simulator that drives it.
//
// # Reading Guide
//
// Start with these files to understand the decision engine:
//   - ue.go: UeRecord, the per-UE state the scheduler sees (per direction, per channel)
//   - policy.go: MetricPolicy, the pluggable metric (age-greedy, external-weight)
//   - ranker.go / assigner.go: one scheduling pass (rank candidates, hand out units)
//   - bridge.go: the observe/decide/apply handshake with an external agent
//
// Then simulator.go for the event loop that feeds slots, arrivals, buffer-status
// reports, HARQ feedback and CQI reports into the engine.
//
// # Architecture
//
// The sim package defines the engine and its interfaces; supporting pieces live in
// sub-packages:
//   - sim/ctrl/: control messages exchanged with the radio (grants, BSR, HARQ, CQI)
//   - sim/agent/: in-process agents (Q-learning, random)
//   - sim/gateway/: HTTP gateway exposing rounds to remote agents
//   - sim/telemetry/: Prometheus collectors fed by the simulator's Observer hook
//   - sim/workload/: traffic plans and the stochastic link model
//   - sim/trace/: grant and round trace recording
//
// # Key Interfaces
//
//   - MetricPolicy: compute a UE's metric, order candidates, react to grants
//   - FreshnessSource: per-UE age of information
//   - ThroughputEstimator: bits one resource unit carries at a given CQI
//   - RewardFunc: score the state handed to the agent
//   - Agent: receive a Round and answer it with Round.Resume
//   - LinkModel: CQI reports and decode outcomes
//   - Observer: slot, round and control-message notifications
package sim
