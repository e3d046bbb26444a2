package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/signalsfoundry/tasking-simulator/internal/logging"
	"github.com/signalsfoundry/tasking-simulator/internal/mission"
	"github.com/signalsfoundry/tasking-simulator/internal/observability"
	"github.com/signalsfoundry/tasking-simulator/internal/sim"
	"github.com/signalsfoundry/tasking-simulator/timectrl"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "simulator: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("simulator", flag.ContinueOnError)
	missionPath := fs.String("mission", "configs/mission.json", "path to the mission document")
	tuningPath := fs.String("tuning", "", "path to an optional planner tuning file (YAML)")
	outDir := fs.String("out", "", "results directory (overrides the mission's outDir)")
	metricsAddr := fs.String("metrics-addr", ":9090", "HTTP address for Prometheus /metrics, empty to disable")
	accelerated := fs.Bool("accelerated", true, "run in accelerated mode (vs real-time)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, log = logging.WithRunLogger(ctx, log)

	tracingCfg := observability.TracingConfigFromEnv()
	tracingCfg.MissionID = missionID(*missionPath)
	shutdownTracing, err := observability.InitTracing(ctx, tracingCfg, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewSimCollector(nil)
	if err != nil {
		return fmt.Errorf("init metrics collector: %w", err)
	}
	plannerCollector, err := observability.NewPlannerCollector(nil)
	if err != nil {
		return fmt.Errorf("init planner collector: %w", err)
	}
	metricsSrv := serveMetrics(*metricsAddr, collector, log)
	defer func() {
		if metricsSrv == nil {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	doc, err := mission.LoadFile(*missionPath)
	if err != nil {
		return err
	}
	tuning, err := sim.LoadTuning(*tuningPath)
	if err != nil {
		return err
	}

	mode := timectrl.RealTime
	if *accelerated {
		mode = timectrl.Accelerated
	}
	sc, err := sim.BuildScenario(ctx, doc, tuning, sim.ScenarioOptions{
		Logger:         log,
		Metrics:        collector,
		PlannerMetrics: plannerCollector,
		ClockMode:      mode,
	})
	if err != nil {
		return fmt.Errorf("build scenario: %w", err)
	}
	if *outDir != "" {
		sc.OutDir = *outDir
	}

	log.Info(ctx, "starting run",
		logging.String("mission", *missionPath),
		logging.Int("spacecraft", len(sc.Planners)),
		logging.Int("tasks", len(sc.KB.ListTasks())),
	)

	result, err := sim.NewEngine(sc).Run(ctx)
	var timeout *sim.ConvergenceTimeout
	switch {
	case errors.As(err, &timeout):
		// The horizon ended before the auction settled. The best-known
		// assignment is still worth writing out.
		log.Warn(ctx, "run ended without convergence", logging.Int("rounds", timeout.Rounds))
	case err != nil:
		return err
	}

	if err := sim.WriteResults(sc.OutDir, sc, result); err != nil {
		return err
	}
	log.Info(ctx, "run complete",
		logging.Int("rounds", result.Rounds),
		logging.Int("assigned", len(result.Assignments)),
		logging.Int("completed", result.Completed),
		logging.Int("dropped", result.Dropped),
		logging.String("out", sc.OutDir),
	)
	return nil
}

// missionID derives a stable mission identifier from the document path.
func missionID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func serveMetrics(addr string, collector *observability.SimCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
