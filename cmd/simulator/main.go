package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/watershed-simulator/core"
	"github.com/signalsfoundry/watershed-simulator/internal/config"
	"github.com/signalsfoundry/watershed-simulator/internal/logging"
	"github.com/signalsfoundry/watershed-simulator/internal/observability"
	"github.com/signalsfoundry/watershed-simulator/model"
	"github.com/signalsfoundry/watershed-simulator/nodes"
	"github.com/signalsfoundry/watershed-simulator/timectrl"
)

func main() {
	root, err := newRootCmd(os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) (*cobra.Command, error) {
	v := config.New()

	root := &cobra.Command{
		Use:   "watersim",
		Short: "Flow routing and mass conservation over a water network.",
		Long: `watersim loads a network scenario and steps it through time, moving
water and its constituents along the network's links and checking that
every node and link conserves mass.

Configuration comes from flags, WATERSIM_* environment variables or a
config file given with --config, in that order of precedence.`,
		SilenceUsage: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	run := &cobra.Command{
		Use:   "run",
		Short: "Run a scenario for a number of steps.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.ReadFile(v); err != nil {
				return err
			}
			cfg, err := config.Resolve(v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runSimulation(ctx, cfg, stdout, stderr)
		},
	}
	if err := config.BindFlags(v, run.Flags()); err != nil {
		return nil, err
	}
	root.AddCommand(run)

	root.AddCommand(&cobra.Command{
		Use:   "types",
		Short: "List the node and link types scenarios can use.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listTypes(stdout)
		},
	})
	return root, nil
}

// runSummary is what a finished run reports.
type runSummary struct {
	Steps         int
	Discrepancies int
	Outlets       map[string]model.Parcel
}

// outlet is implemented by nodes that accumulate water leaving the network.
type outlet interface {
	Total() model.Parcel
}

func runSimulation(ctx context.Context, cfg config.Run, stdout, stderr io.Writer) error {
	logCfg := cfg.Log
	logCfg.Output = stderr
	ctx, log := logging.WithRunLogger(ctx, logging.New(logCfg))

	tracingCfg := cfg.Tracing
	tracingCfg.Writer = stderr
	shutdown, err := observability.InitTracing(ctx, tracingCfg, log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

	summary, err := simulate(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "simulation failed", logging.Err(err))
		return err
	}
	printSummary(stdout, summary)
	return nil
}

func simulate(ctx context.Context, cfg config.Run, log logging.Logger) (runSummary, error) {
	reg, err := nodes.NewRegistry()
	if err != nil {
		return runSummary{}, err
	}
	net := core.NewKnowledgeBase()
	sc, err := core.LoadScenarioFile(net, cfg.Scenario, core.LoadOptions{Registry: reg, Logger: log})
	if err != nil {
		return runSummary{}, err
	}
	log.Info(ctx, "loaded network scenario",
		logging.String("path", cfg.Scenario),
		logging.Int("nodes", len(sc.NodeNames)),
		logging.Int("links", len(sc.LinkNames)),
		logging.Any("constituents", sc.Config.Names()),
	)

	opts := []core.EngineOption{
		core.WithLogger(log),
		core.WithMassBalanceCheck(cfg.CheckMassBalance),
	}
	if cfg.MetricsAddr != "" {
		collector, err := observability.NewSimCollector(prometheus.NewRegistry())
		if err != nil {
			return runSummary{}, err
		}
		srv := serveMetrics(ctx, cfg.MetricsAddr, collector, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		opts = append(opts, core.WithMetrics(collector))
	}

	engine, err := core.NewSimulationEngine(net, sc.Config, timectrl.NewTimeController(cfg.Start, cfg.Tick), opts...)
	if err != nil {
		return runSummary{}, err
	}

	summary := runSummary{Outlets: make(map[string]model.Parcel)}
	engine.RegisterTickListener(func(r core.StepReport) {
		summary.Discrepancies += len(r.Discrepancies)
		log.Debug(ctx, "step complete",
			logging.Int("step", r.Index),
			logging.Time("sim_time", r.Time),
			logging.Float("system_in", r.SystemIn.Volume),
			logging.Float("system_out", r.SystemOut.Volume),
		)
	})

	runErr := engine.Run(ctx, cfg.Steps)
	summary.Steps = engine.StepIndex()
	for _, n := range net.Nodes() {
		if o, ok := n.(outlet); ok {
			summary.Outlets[n.Name()] = o.Total()
		}
	}
	if runErr != nil {
		return summary, runErr
	}
	log.Info(ctx, "simulation complete",
		logging.Int("steps", summary.Steps),
		logging.Int("discrepancies", summary.Discrepancies),
	)
	return summary, nil
}

func serveMetrics(ctx context.Context, addr string, collector *observability.SimCollector, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(ctx, "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(ctx, "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func printSummary(w io.Writer, s runSummary) {
	fmt.Fprintf(w, "steps: %d\nmass balance discrepancies: %d\n", s.Steps, s.Discrepancies)
	if len(s.Outlets) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "outlet\tvolume")
	for _, name := range sortedNames(s.Outlets) {
		fmt.Fprintf(tw, "%s\t%.6g\n", name, s.Outlets[name].Volume)
	}
	tw.Flush()
}

func sortedNames(m map[string]model.Parcel) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func listTypes(w io.Writer) error {
	reg, err := nodes.NewRegistry()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "node types:")
	for _, t := range reg.NodeTypes() {
		fmt.Fprintf(w, "  %s\n", t)
	}
	fmt.Fprintln(w, "link types:")
	for _, t := range reg.LinkTypes() {
		fmt.Fprintf(w, "  %s\n", t)
	}
	return nil
}
