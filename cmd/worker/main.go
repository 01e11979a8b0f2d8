// Command worker drains the work queue, computing one phase of one
// symbol's nightly work per message. Scale by running more worker
// processes; each one's internal concurrency is also configurable.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sentinel-quant/nightly-compute/internal/bootstrap"
	"github.com/sentinel-quant/nightly-compute/internal/config"
	"github.com/sentinel-quant/nightly-compute/internal/controller"
	"github.com/sentinel-quant/nightly-compute/internal/metrics"
	"github.com/sentinel-quant/nightly-compute/internal/worker"
)

func main() {
	var healthPort int

	root := &cobra.Command{
		Use:   "worker",
		Short: "Run a precompute worker process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(healthPort)
		},
	}
	flags := pflag.NewFlagSet("worker", pflag.ExitOnError)
	flags.IntVar(&healthPort, "health-port", 9090, "port serving /health and /metrics for this worker process")
	root.Flags().AddFlagSet(flags)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(healthPort int) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	svc, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap services: %w", err)
	}
	defer svc.Close()

	ctrl := controller.New(svc.Repo, svc.Queue, svc.Clock, svc.Log).WithMetrics(svc.Metrics)

	pool := worker.New(svc.Queue, svc.Repo, svc.Fetcher, svc.Clock, ctrl, worker.Config{
		Concurrency:       cfg.WorkerConcurrency,
		Budget:            cfg.WorkerBudget,
		VisibilityTimeout: cfg.VisibilityTimeout,
	}, svc.Log).WithMetrics(svc.Metrics)

	healthSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", healthPort),
		Handler: healthMux(pool, svc.MetricsReg),
	}
	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			svc.Log.Error().Err(err).Msg("health server failed")
		}
	}()

	go pool.Run(ctx)
	svc.Log.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("worker pool running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	svc.Log.Info().Msg("shutting down worker")
	cancel()
	return healthSrv.Shutdown(context.Background())
}

func healthMux(pool *worker.Pool, reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		snap := pool.Health()
		fmt.Fprintf(w, "cpu=%.1f mem=%.1f queue_depth=%d\n", snap.CPUPercent, snap.MemoryPercent, snap.QueueDepth)
	})
	mux.Handle("/metrics", metrics.Handler(reg))
	return mux
}
