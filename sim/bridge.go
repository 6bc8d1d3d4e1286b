package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

var (
	// ErrRoundInFlight is returned when a round is started for a direction whose previous
	// round has not been answered yet.
	ErrRoundInFlight = errors.New("agent round already in flight")
	// ErrRoundAnswered is returned by Round.Resume after the first call.
	ErrRoundAnswered = errors.New("agent round already answered")
	// ErrNoRound is returned when waiting on a direction with nothing in flight.
	ErrNoRound = errors.New("no agent round in flight")
)

// Agent receives rounds. Notify must not block for long: it hands the round to whatever
// makes the decision and returns. The decision comes back through Round.Resume, from
// any goroutine, at most once.
type Agent interface {
	Notify(round *Round)
}

// AgentFunc adapts a function to Agent.
type AgentFunc func(round *Round)

func (f AgentFunc) Notify(round *Round) { f(round) }

// Round is one observe/decide/apply exchange.
type Round struct {
	Seq         uint64
	Direction   Direction
	Slot        int64
	Observation Observation
	Done        bool
	Reward      float64
	Info        string

	reply    chan WeightUpdate
	answered atomic.Bool
}

// Resume delivers the agent's decision. A nil or empty update keeps the current
// weights. Only the first call has an effect; later calls return ErrRoundAnswered.
// Safe to call from any goroutine.
func (r *Round) Resume(update WeightUpdate) error {
	if !r.answered.CompareAndSwap(false, true) {
		return ErrRoundAnswered
	}
	r.reply <- update
	return nil
}

// Answered reports whether Resume has been called.
func (r *Round) Answered() bool {
	return r.answered.Load()
}

// Response pairs a finished round with its decision.
type Response struct {
	Round  *Round
	Update WeightUpdate
}

// ApplyStats describes what Apply did with a response.
type ApplyStats struct {
	CarriedOver     bool // empty update, previous weights kept
	Applied         int  // channel weights written
	Clamped         int  // weights outside [0,1] that were clamped
	DroppedUes      int  // updates addressed to detached UEs
	DroppedChannels int  // weights for channels outside the round's observation
}

// AgentBridge runs the synchronous handshake with an Agent. At most one round per
// direction is in flight; the scheduling pass of that direction stays suspended until
// the round's response has been applied.
//
// The response channel is owned by the bridge: Round.Resume is the send end, Poll and
// Await are the receive end. Apart from Round.Resume, the bridge is used from the
// simulator goroutine only.
type AgentBridge struct {
	agent    Agent
	rewards  [numDirections]RewardFunc
	inflight [numDirections]*Round
	seq      uint64
}

// NewAgentBridge creates a bridge that notifies agent. Rewards default to 0 until set.
func NewAgentBridge(agent Agent) *AgentBridge {
	if agent == nil {
		panic("NewAgentBridge: nil agent")
	}
	return &AgentBridge{agent: agent}
}

// SetReward installs the reward function for a direction.
func (b *AgentBridge) SetReward(dir Direction, fn RewardFunc) *AgentBridge {
	checkDirection(dir)
	b.rewards[dir] = fn
	return b
}

// InFlight reports whether dir has an unanswered or unapplied round.
func (b *AgentBridge) InFlight(dir Direction) bool {
	checkDirection(dir)
	return b.inflight[dir] != nil
}

// Begin starts a round: it snapshots the active channels of ues, scores the last slot,
// and notifies the agent. The agent may answer synchronously from inside Notify.
//
// Ages are read from the records as they are, so callers refresh them first. HARQ
// outcomes are scored by this round only and cleared afterwards.
func (b *AgentBridge) Begin(dir Direction, slot int64, ues []*UeRecord, done bool, info string) (*Round, error) {
	checkDirection(dir)
	if b.inflight[dir] != nil {
		return nil, fmt.Errorf("%s round %d: %w", dir, b.inflight[dir].Seq, ErrRoundInFlight)
	}
	sorted := make([]*UeRecord, len(ues))
	copy(sorted, ues)
	SortUes(sorted)

	reward := 0.0
	if fn := b.rewards[dir]; fn != nil {
		reward = fn.Reward(dir, sorted)
	}
	for _, ue := range sorted {
		ue.clearHarq(dir)
	}
	b.seq++
	round := &Round{
		Seq:         b.seq,
		Direction:   dir,
		Slot:        slot,
		Observation: BuildObservation(dir, slot, sorted),
		Done:        done,
		Reward:      reward,
		Info:        info,
		reply:       make(chan WeightUpdate, 1),
	}
	b.inflight[dir] = round
	logrus.Debugf("[slot %07d] %s round %d: %d flows, reward %.4f", slot, dir, round.Seq, len(round.Observation.Flows), reward)
	b.agent.Notify(round)
	return round, nil
}

// Poll returns the response of dir's round if it has arrived, without blocking.
func (b *AgentBridge) Poll(dir Direction) (Response, bool) {
	checkDirection(dir)
	round := b.inflight[dir]
	if round == nil {
		return Response{}, false
	}
	select {
	case update := <-round.reply:
		b.inflight[dir] = nil
		return Response{Round: round, Update: update}, true
	default:
		return Response{}, false
	}
}

// Await blocks until dir's round is answered or ctx is done.
func (b *AgentBridge) Await(ctx context.Context, dir Direction) (Response, error) {
	checkDirection(dir)
	round := b.inflight[dir]
	if round == nil {
		return Response{}, fmt.Errorf("%s: %w", dir, ErrNoRound)
	}
	select {
	case update := <-round.reply:
		b.inflight[dir] = nil
		return Response{Round: round, Update: update}, nil
	case <-ctx.Done():
		return Response{}, fmt.Errorf("waiting for %s round %d: %w", dir, round.Seq, ctx.Err())
	}
}

// Apply writes a response into the UE records in one step.
//
// For every UE in the round's observation that is still attached, weights of channels
// outside the snapshot are pruned and the update's weights are written. Entries for
// detached UEs (lookup returns nil) and for channels that were not observed are dropped.
// Values are clamped to [0,1]; NaN becomes 0. An empty update changes nothing.
//
// UEs absent from the snapshot (idle in this round) keep the weights of the last round
// that observed them; they are pruned the next time they show up with an update.
func (b *AgentBridge) Apply(resp Response, lookup func(UeID) *UeRecord) ApplyStats {
	var stats ApplyStats
	if resp.Round == nil {
		return stats
	}
	dir := resp.Round.Direction
	if len(resp.Update) == 0 {
		stats.CarriedOver = true
		return stats
	}

	observed := make(map[UeID]map[ChannelID]bool)
	for _, f := range resp.Round.Observation.Flows {
		if observed[f.Ue] == nil {
			observed[f.Ue] = make(map[ChannelID]bool)
		}
		observed[f.Ue][f.Channel] = true
	}

	// Stage every new map first so the write below is all-or-nothing.
	staged := make(map[UeID]map[ChannelID]float64, len(observed))
	records := make(map[UeID]*UeRecord, len(observed))
	for id, chans := range observed {
		ue := lookup(id)
		if ue == nil {
			continue
		}
		records[id] = ue
		next := make(map[ChannelID]float64)
		for ch, w := range ue.Weights(dir) {
			if chans[ch] {
				next[ch] = w
			}
		}
		staged[id] = next
	}

	ids := make([]UeID, 0, len(resp.Update))
	for id := range resp.Update {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		next, ok := staged[id]
		if !ok {
			if lookup(id) == nil {
				stats.DroppedUes++
				logrus.Warnf("[slot %07d] %s round %d: dropping weights for detached ue %d", resp.Round.Slot, dir, resp.Round.Seq, id)
			} else {
				stats.DroppedChannels += len(resp.Update[id])
			}
			continue
		}
		for ch, w := range resp.Update[id] {
			if !observed[id][ch] {
				stats.DroppedChannels++
				continue
			}
			clamped := clampWeight(w)
			if clamped != w {
				stats.Clamped++
			}
			next[ch] = clamped
			stats.Applied++
		}
	}

	for id, next := range staged {
		records[id].setWeights(dir, next)
	}
	if stats.Clamped > 0 {
		logrus.Warnf("[slot %07d] %s round %d: clamped %d weights into [0,1]", resp.Round.Slot, dir, resp.Round.Seq, stats.Clamped)
	}
	return stats
}

func clampWeight(w float64) float64 {
	switch {
	case math.IsNaN(w):
		return 0
	case w < 0:
		return 0
	case w > 1:
		return 1
	default:
		return w
	}
}
