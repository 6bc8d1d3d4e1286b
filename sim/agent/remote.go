package agent

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aoi-sim/aoi-sim/sim"
	"github.com/aoi-sim/aoi-sim/sim/gateway"
)

// Remote drives policies against a gateway from another process. It follows the same
// learn-then-act order as Local.
type Remote struct {
	client    *gateway.Client
	newPolicy func(dir sim.Direction) Policy
	policies  map[sim.Direction]Policy
	acted     map[sim.Direction]bool

	// Directions whose final round ends Run. Empty runs until the context is done.
	Directions []sim.Direction
	// Wait is the long-poll duration per request.
	Wait time.Duration

	Rounds      int64
	Conflicts   int64 // answers rejected because the round had already closed
	TotalReward float64
}

// NewRemote creates a remote driver for client.
func NewRemote(client *gateway.Client, newPolicy func(dir sim.Direction) Policy) *Remote {
	if client == nil || newPolicy == nil {
		panic("NewRemote: nil client or policy factory")
	}
	return &Remote{
		client:    client,
		newPolicy: newPolicy,
		policies:  make(map[sim.Direction]Policy),
		acted:     make(map[sim.Direction]bool),
		Wait:      10 * time.Second,
	}
}

// Policy returns the policy of dir, creating it if needed.
func (a *Remote) Policy(dir sim.Direction) Policy {
	p, ok := a.policies[dir]
	if !ok {
		p = a.newPolicy(dir)
		a.policies[dir] = p
	}
	return p
}

// QLearners returns the Q-learning policies created so far, keyed by direction.
func (a *Remote) QLearners() map[sim.Direction]*QLearning {
	out := make(map[sim.Direction]*QLearning)
	for dir, p := range a.policies {
		if q, ok := p.(*QLearning); ok {
			out[dir] = q
		}
	}
	return out
}

// Run fetches and answers rounds until every direction in Directions has answered its
// final round, or ctx is done.
func (a *Remote) Run(ctx context.Context) error {
	finished := make(map[sim.Direction]bool)
	for {
		if len(a.Directions) > 0 && len(finished) == len(a.Directions) {
			logrus.Infof("remote agent: episode done after %d rounds, total reward %.4f", a.Rounds, a.TotalReward)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		view, err := a.client.Next(ctx, nil, a.Wait)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if view == nil {
			continue
		}
		if err := a.answer(ctx, view); err != nil {
			return err
		}
		if view.Done && a.wants(view.Direction) {
			finished[view.Direction] = true
		}
	}
}

func (a *Remote) wants(dir sim.Direction) bool {
	for _, d := range a.Directions {
		if d == dir {
			return true
		}
	}
	return false
}

func (a *Remote) answer(ctx context.Context, view *gateway.RoundView) error {
	dir := view.Direction
	p := a.Policy(dir)
	a.Rounds++
	a.TotalReward += view.Reward
	if a.acted[dir] {
		p.Learn(view.Reward)
	}
	actions := p.Act(view.Vector)
	a.acted[dir] = true
	if actions == nil {
		actions = []float64{}
	}

	_, err := a.client.Act(ctx, view.ID, gateway.ActionRequest{Actions: actions})
	var se *gateway.StatusError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &se) && se.StatusCode == http.StatusConflict:
		a.Conflicts++
		logrus.Warnf("[slot %07d] %s round %d closed before the answer arrived", view.Slot, dir, view.Seq)
		return nil
	case errors.As(err, &se) && se.StatusCode == http.StatusUnprocessableEntity:
		logrus.Warnf("[slot %07d] %s round %d: %s", view.Slot, dir, view.Seq, se.Message)
		return nil
	default:
		return err
	}
}
