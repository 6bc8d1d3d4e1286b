package agent

import (
	"github.com/sirupsen/logrus"

	"github.com/aoi-sim/aoi-sim/sim"
)

// Local runs a Policy per direction inside the simulator process. It answers every round
// synchronously from Notify, so a run with a Local agent is reproducible from its seed.
//
// Per round, the policy first learns from the round's reward (which scores the previous
// decision) and then acts on the round's observation.
type Local struct {
	newPolicy func(dir sim.Direction) Policy
	policies  map[sim.Direction]Policy
	acted     map[sim.Direction]bool

	Rounds      int64
	Mismatches  int64 // rounds answered with an action vector of the wrong length
	TotalReward float64
}

// NewLocal creates an adapter that builds each direction's policy on first use.
func NewLocal(newPolicy func(dir sim.Direction) Policy) *Local {
	if newPolicy == nil {
		panic("NewLocal: nil policy factory")
	}
	return &Local{
		newPolicy: newPolicy,
		policies:  make(map[sim.Direction]Policy),
		acted:     make(map[sim.Direction]bool),
	}
}

// Policy returns the policy of dir, creating it if needed.
func (l *Local) Policy(dir sim.Direction) Policy {
	p, ok := l.policies[dir]
	if !ok {
		p = l.newPolicy(dir)
		l.policies[dir] = p
	}
	return p
}

// Notify implements sim.Agent.
func (l *Local) Notify(round *sim.Round) {
	dir := round.Direction
	p := l.Policy(dir)
	l.Rounds++
	l.TotalReward += round.Reward
	if l.acted[dir] {
		p.Learn(round.Reward)
	}

	actions := p.Act(round.Observation.Vector())
	l.acted[dir] = true
	update, err := sim.ActionsToUpdate(round.Observation, actions)
	if err != nil {
		l.Mismatches++
		logrus.Warnf("[slot %07d] %s round %d: %v; keeping previous weights", round.Slot, dir, round.Seq, err)
		update = nil
	}
	if err := round.Resume(update); err != nil {
		logrus.Warnf("[slot %07d] %s round %d: %v", round.Slot, dir, round.Seq, err)
	}
	if round.Done {
		logrus.Infof("[slot %07d] %s episode done after %d rounds, total reward %.4f", round.Slot, dir, l.Rounds, l.TotalReward)
	}
}

// QLearners returns the Q-learning policies created so far, keyed by direction.
func (l *Local) QLearners() map[sim.Direction]*QLearning {
	out := make(map[sim.Direction]*QLearning)
	for dir, p := range l.policies {
		if q, ok := p.(*QLearning); ok {
			out[dir] = q
		}
	}
	return out
}
