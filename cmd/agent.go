package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/aoi-sim/aoi-sim/sim"
	"github.com/aoi-sim/aoi-sim/sim/agent"
	"github.com/aoi-sim/aoi-sim/sim/gateway"
)

var (
	// CLI flags for the remote agent
	gatewayURL      string        // Base URL of the gateway
	agentToken      string        // Bearer token for the gateway
	remoteKind      string        // In-process policy to drive remotely
	remoteSeed      int64         // Seed of the policy RNG
	remoteWait      time.Duration // Long-poll duration
	remoteDirs      []string      // Directions whose final round ends the agent
	remoteQConfig   string        // Q-learning parameters YAML
	remoteTablesIn  string        // Q-tables to start from
	remoteTablesOut string        // Q-tables to write at the end
)

// agentCmd answers rounds of a running simulation through its gateway
var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run a decision agent against a simulation gateway",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		remote, err := runRemoteAgent(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logrus.Fatalf("agent failed: %v", err)
		}
		fmt.Printf("Rounds answered      : %d (%d conflicts)\n", remote.Rounds, remote.Conflicts)
		fmt.Printf("Total reward         : %.4f\n", remote.TotalReward)
	},
}

func runRemoteAgent(ctx context.Context) (*agent.Remote, error) {
	if !agent.IsValidKind(remoteKind) {
		return nil, fmt.Errorf("unknown agent %q (%v)", remoteKind, agent.Kinds())
	}
	dirs, err := parseDirections(remoteDirs)
	if err != nil {
		return nil, err
	}
	qcfg, err := loadQConfig(remoteQConfig)
	if err != nil {
		return nil, err
	}

	rng := sim.NewPartitionedRNG(sim.NewSimulationKey(remoteSeed))
	remote := agent.NewRemote(gateway.NewClient(gatewayURL, agentToken), policyFactory(agent.Kind(remoteKind), qcfg, rng))
	remote.Directions = dirs
	remote.Wait = remoteWait

	if agent.Kind(remoteKind) == agent.KindQLearning && remoteTablesIn != "" {
		learners := map[sim.Direction]*agent.QLearning{}
		for _, d := range dirs {
			learners[d] = remote.Policy(d).(*agent.QLearning)
		}
		if err := agent.LoadQTables(remoteTablesIn, learners); err != nil {
			return nil, err
		}
	}

	logrus.Infof("remote %s agent polling %s for %v", remoteKind, gatewayURL, dirs)
	runErr := remote.Run(ctx)
	if remoteTablesOut != "" && len(remote.QLearners()) > 0 {
		if err := agent.SaveQTables(remoteTablesOut, remote.QLearners()); err != nil {
			return remote, err
		}
	}
	return remote, runErr
}

func init() {
	agentCmd.Flags().StringVar(&gatewayURL, "gateway", "http://127.0.0.1:8080", "Gateway base URL")
	agentCmd.Flags().StringVar(&agentToken, "token", os.Getenv("AOI_SIM_AGENT_TOKEN"), "Bearer token for the gateway")
	agentCmd.Flags().StringVar(&remoteKind, "kind", string(agent.KindQLearning), "Policy to run (qlearning, random)")
	agentCmd.Flags().Int64Var(&remoteSeed, "seed", 42, "Seed of the policy RNG")
	agentCmd.Flags().DurationVar(&remoteWait, "wait", 10*time.Second, "Long-poll duration per request")
	agentCmd.Flags().StringSliceVar(&remoteDirs, "directions", []string{"ul"}, "Stop after the final round of these directions")
	agentCmd.Flags().StringVar(&remoteQConfig, "q-config", "", "Q-learning parameters YAML")
	agentCmd.Flags().StringVar(&remoteTablesIn, "q-tables-in", "", "Q-tables to start from")
	agentCmd.Flags().StringVar(&remoteTablesOut, "q-tables-out", "", "Write the learned Q-tables here")

	rootCmd.AddCommand(agentCmd)
}
