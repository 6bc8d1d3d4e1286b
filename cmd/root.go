package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aoi-sim/aoi-sim/sim"
	"github.com/aoi-sim/aoi-sim/sim/agent"
	"github.com/aoi-sim/aoi-sim/sim/gateway"
	"github.com/aoi-sim/aoi-sim/sim/telemetry"
	"github.com/aoi-sim/aoi-sim/sim/trace"
	"github.com/aoi-sim/aoi-sim/sim/workload"
)

// Agent selections of the run command besides the in-process kinds.
const (
	agentNone   = "none"
	agentRemote = "remote"
)

var (
	// CLI flags for the simulation
	seed           int64    // Master seed; overrides the scenario seed when set
	horizon        int64    // Slots to simulate; overrides the scenario cell when set
	logLevel       string   // Log verbosity level
	scenario       string   // Preset name or scenario file
	numUes         int      // UE count for presets
	directions     []string // Directions to schedule; overrides the scenario cell when set
	resourceUnits  int64    // Units per slot pool; overrides the scenario cell when set
	decisionPeriod int64    // Slots between agent rounds; overrides the scenario cell when set
	policyConfig   string   // Policy bundle YAML
	traceLevel     string   // Decision trace level
	resultsPath    string   // Metrics summary YAML output
	seriesDir      string   // Per-slot age and per-round reward series

	// CLI flags for the decision agent
	agentKind    string        // none, qlearning, random or remote
	qConfigPath  string        // Q-learning parameters YAML
	qTablesIn    string        // Q-tables to start from
	qTablesOut   string        // Q-tables to write at the end
	inference    bool          // Greedy, frozen Q-learning
	gatewayAddr  string        // Listen address of the remote-agent gateway
	jwtSecret    string        // Gateway bearer-token secret
	roundTimeout time.Duration // Gateway answer timeout
	metricsAddr  string        // Prometheus listen address when no gateway runs
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "aoi-sim",
	Short: "Slot-level uplink/downlink scheduler simulator with an external decision agent",
}

// runOptions is everything the run command needs, resolved from flags.
type runOptions struct {
	Scenario       *workload.TrafficSpec
	Horizon        *int64
	Directions     []sim.Direction
	ResourceUnits  *int64
	DecisionPeriod *int64
	Engine         sim.Config
	Agent          string
	QConfig        agent.QConfig
	QTablesIn      string
	QTablesOut     string
	Gateway        *gateway.Config
	GatewayAddr    string
	MetricsAddr    string
	TraceLevel     trace.TraceLevel
}

// runCmd executes the simulation using parameters from CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler simulation",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()

		opts, err := optionsFromFlags(cmd)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		startTime := time.Now()
		s, err := runSimulation(ctx, opts)
		if err != nil {
			logrus.Fatalf("simulation failed: %v", err)
		}
		s.Metrics.Print(startTime)
		if s.Trace.Enabled() {
			printTraceSummary(trace.Summarize(s.Trace))
		}
		if resultsPath != "" {
			if err := writeResults(resultsPath, s.Metrics.Summary()); err != nil {
				logrus.Fatalf("%v", err)
			}
		}
		if seriesDir != "" {
			if err := writeSeries(seriesDir, s.Metrics); err != nil {
				logrus.Fatalf("%v", err)
			}
		}
		logrus.Info("Simulation complete.")
	},
}

func setLogLevel() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// optionsFromFlags resolves the run flags. Cell flags only override the scenario when
// given explicitly.
func optionsFromFlags(cmd *cobra.Command) (runOptions, error) {
	opts := runOptions{Agent: agentKind, QTablesIn: qTablesIn, QTablesOut: qTablesOut,
		GatewayAddr: gatewayAddr, MetricsAddr: metricsAddr, TraceLevel: trace.TraceLevel(traceLevel)}
	flags := cmd.Flags()

	spec, err := resolveScenario(scenario, seed, numUes)
	if err != nil {
		return opts, err
	}
	if flags.Changed("seed") {
		spec.Seed = seed
	}
	opts.Scenario = spec
	if flags.Changed("horizon") {
		opts.Horizon = &horizon
	}
	if flags.Changed("resource-units") {
		opts.ResourceUnits = &resourceUnits
	}
	if flags.Changed("decision-period") {
		opts.DecisionPeriod = &decisionPeriod
	}
	if flags.Changed("directions") {
		if opts.Directions, err = parseDirections(directions); err != nil {
			return opts, err
		}
	}

	opts.Engine = sim.DefaultConfig()
	if policyConfig != "" {
		bundle, err := sim.LoadPolicyBundle(policyConfig)
		if err != nil {
			return opts, err
		}
		if err := bundle.Validate(); err != nil {
			return opts, fmt.Errorf("policy config %s: %w", policyConfig, err)
		}
		bundle.ApplyTo(&opts.Engine)
	}

	if opts.QConfig, err = loadQConfig(qConfigPath); err != nil {
		return opts, err
	}
	if flags.Changed("inference") {
		opts.QConfig.Inference = inference
	}
	if agentKind == agentRemote {
		gw := gateway.DefaultConfig()
		gw.Timeout = roundTimeout
		gw.Secret = []byte(jwtSecret)
		opts.Gateway = &gw
	}
	return opts, nil
}

// runSimulation builds the simulator from opts, runs it and tears down any servers it
// started.
func runSimulation(ctx context.Context, opts runOptions) (*sim.Simulator, error) {
	if opts.Scenario == nil {
		return nil, errors.New("no scenario")
	}
	if !trace.IsValidTraceLevel(string(opts.TraceLevel)) {
		return nil, fmt.Errorf("unknown trace level %q", opts.TraceLevel)
	}
	spec := opts.Scenario
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	cfg := sim.DefaultSimConfig()
	if err := spec.Cell.ApplyTo(&cfg); err != nil {
		return nil, fmt.Errorf("invalid scenario cell: %w", err)
	}
	cfg.Seed = spec.Seed
	if opts.Horizon != nil {
		cfg.Horizon = *opts.Horizon
	}
	if opts.ResourceUnits != nil {
		cfg.ResourceUnits = *opts.ResourceUnits
	}
	if opts.DecisionPeriod != nil {
		cfg.DecisionPeriod = *opts.DecisionPeriod
	}
	if len(opts.Directions) > 0 {
		cfg.Directions = opts.Directions
	}

	engine := opts.Engine
	if opts.Agent == "" {
		opts.Agent = agentNone
	}
	if opts.Agent != agentNone && engine.Policy != sim.PolicyExternalWeight {
		logrus.Infof("agent %q selected: switching policy from %q to %q", opts.Agent, engine.Policy, sim.PolicyExternalWeight)
		engine.Policy = sim.PolicyExternalWeight
	}

	rng := sim.NewPartitionedRNG(sim.NewSimulationKey(cfg.Seed))
	plan, err := workload.GenerateTraffic(spec, cfg.Horizon, rng)
	if err != nil {
		return nil, err
	}
	link := workload.NewStochasticLink(spec.Link, rng)
	link.RegisterPlan(plan)

	registry := prometheus.NewRegistry()
	collector := telemetry.NewCollector(registry)

	var (
		decider sim.Agent
		local   *agent.Local
		servers []*http.Server
	)
	defer func() {
		for _, srv := range servers {
			shutdown(srv)
		}
	}()
	switch opts.Agent {
	case agentNone:
	case agentRemote:
		gwCfg := gateway.DefaultConfig()
		if opts.Gateway != nil {
			gwCfg = *opts.Gateway
		}
		gwCfg.Registry = registry
		gw := gateway.New(gwCfg)
		srv, err := listen(opts.GatewayAddr, gw)
		if err != nil {
			return nil, fmt.Errorf("starting gateway: %w", err)
		}
		servers = append(servers, srv)
		logrus.Infof("gateway listening on %s (auth %v, timeout %s)", opts.GatewayAddr, len(gwCfg.Secret) > 0, gwCfg.Timeout)
		decider = gw
	default:
		if !agent.IsValidKind(opts.Agent) {
			return nil, fmt.Errorf("unknown agent %q (none, %s, %s, remote)", opts.Agent, agent.KindQLearning, agent.KindRandom)
		}
		local = agent.NewLocal(policyFactory(agent.Kind(opts.Agent), opts.QConfig, rng))
		if opts.Agent == string(agent.KindQLearning) && opts.QTablesIn != "" {
			learners := map[sim.Direction]*agent.QLearning{}
			for _, d := range scheduledDirections(cfg) {
				learners[d] = local.Policy(d).(*agent.QLearning)
			}
			if err := agent.LoadQTables(opts.QTablesIn, learners); err != nil {
				return nil, err
			}
		}
		decider = local
	}
	if opts.MetricsAddr != "" && opts.Agent != agentRemote {
		srv, err := listen(opts.MetricsAddr, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		if err != nil {
			return nil, fmt.Errorf("starting metrics endpoint: %w", err)
		}
		servers = append(servers, srv)
	}

	var st *trace.SimulationTrace
	if opts.TraceLevel == trace.TraceLevelDecisions {
		st = trace.NewSimulationTrace(trace.TraceConfig{Level: opts.TraceLevel})
	}

	s, err := sim.NewSimulator(cfg, engine, sim.SimulatorOptions{
		Agent:     decider,
		Link:      link,
		Trace:     st,
		Observers: []sim.Observer{collector},
	})
	if err != nil {
		return nil, err
	}
	plan.Load(s)
	logrus.Infof("Starting simulation: %d ues, horizon=%d slots, %d units/slot, policy=%s, agent=%s, seed=%d",
		len(plan.Ues), cfg.Horizon, cfg.ResourceUnits, engine.Policy, opts.Agent, cfg.Seed)

	if err := s.Run(ctx); err != nil {
		return s, err
	}
	if local != nil && opts.QTablesOut != "" {
		if err := agent.SaveQTables(opts.QTablesOut, local.QLearners()); err != nil {
			return s, err
		}
	}
	return s, nil
}

func scheduledDirections(cfg sim.SimConfig) []sim.Direction {
	if len(cfg.Directions) == 0 {
		return []sim.Direction{sim.Uplink}
	}
	return cfg.Directions
}

// listen serves h on addr in the background once the address is bound.
func listen(addr string, h http.Handler) (*http.Server, error) {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("server on %s: %v", addr, err)
		}
	}()
	return srv, nil
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.Warnf("shutting down %s: %v", srv.Addr, err)
	}
}

func writeResults(path string, summary sim.MetricsSummary) error {
	data, err := yaml.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing results: %w", err)
	}
	logrus.Infof("results written to %s", path)
	return nil
}

// writeSeries dumps the mean-age series of every scheduled direction and, when an
// agent ran, the reward series into dir.
func writeSeries(dir string, m *sim.Metrics) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating series dir: %w", err)
	}
	for _, d := range sim.Directions {
		if m.Slots[d] == 0 {
			continue
		}
		sim.SaveSeries(m.MeanAges[d], filepath.Join(dir, "age_"+d.String()+".txt"))
	}
	if m.Rounds > 0 {
		sim.SaveSeries(m.Rewards, filepath.Join(dir, "rewards.txt"))
	}
	logrus.Infof("series written to %s", dir)
	return nil
}

func printTraceSummary(ts *trace.TraceSummary) {
	fmt.Println("=== Decision Trace ===")
	fmt.Printf("Grants               : %d (%d partial, %d skipped)\n", ts.TotalGrants, ts.PartialGrants, ts.Skips)
	fmt.Printf("Units                : %d over %d ues\n", ts.TotalUnits, ts.UniqueUes)
	fmt.Printf("Rounds               : %d (%d carried over)\n", ts.Rounds, ts.CarriedOver)
	fmt.Printf("Mean reward          : %.4f\n", ts.MeanReward)
	fmt.Printf("Max wait             : %d slots\n", ts.MaxWaitSlots)
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Master seed (overrides the scenario seed)")
	runCmd.Flags().Int64Var(&horizon, "horizon", 10000, "Slots to simulate (overrides the scenario)")
	runCmd.Flags().StringVar(&scenario, "scenario", "reference", "Preset name or scenario file (.yaml, .yml, .toml)")
	runCmd.Flags().IntVar(&numUes, "ues", 10, "Number of UEs for preset scenarios")
	runCmd.Flags().StringSliceVar(&directions, "directions", []string{"ul"}, "Directions to schedule (ul, dl)")
	runCmd.Flags().Int64Var(&resourceUnits, "resource-units", 52, "Resource units per slot pool")
	runCmd.Flags().Int64Var(&decisionPeriod, "decision-period", 1, "Slots between agent rounds")
	runCmd.Flags().StringVar(&policyConfig, "policy-config", "", "Policy bundle YAML")
	runCmd.Flags().StringVar(&traceLevel, "trace", "none", "Decision trace level (none, decisions)")
	runCmd.Flags().StringVar(&resultsPath, "results", "", "Write the metrics summary to this YAML file")
	runCmd.Flags().StringVar(&seriesDir, "series-dir", "", "Write per-slot mean age and per-round reward series into this directory")

	runCmd.Flags().StringVar(&agentKind, "agent", agentNone, "Decision agent (none, qlearning, random, remote)")
	runCmd.Flags().StringVar(&qConfigPath, "q-config", "", "Q-learning parameters YAML")
	runCmd.Flags().StringVar(&qTablesIn, "q-tables-in", "", "Q-tables to start from")
	runCmd.Flags().StringVar(&qTablesOut, "q-tables-out", "", "Write the learned Q-tables here")
	runCmd.Flags().BoolVar(&inference, "inference", false, "Greedy Q-learning without updates")
	runCmd.Flags().StringVar(&gatewayAddr, "gateway-addr", "127.0.0.1:8080", "Listen address of the remote-agent gateway")
	runCmd.Flags().StringVar(&jwtSecret, "jwt-secret", os.Getenv("AOI_SIM_JWT_SECRET"), "Require gateway bearer tokens signed with this secret")
	runCmd.Flags().DurationVar(&roundTimeout, "round-timeout", 0, "Keep previous weights when the remote agent does not answer in time (0 waits)")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (the gateway serves them itself)")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.AddCommand(runCmd)
}
