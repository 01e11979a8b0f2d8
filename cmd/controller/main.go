// Command controller runs the nightly scheduler: it registers the cron
// trigger that starts one run per business day and exposes no other
// surface. The worker and api processes run separately.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sentinel-quant/nightly-compute/internal/bootstrap"
	"github.com/sentinel-quant/nightly-compute/internal/config"
	"github.com/sentinel-quant/nightly-compute/internal/controller"
	"github.com/sentinel-quant/nightly-compute/internal/refdata"
)

func main() {
	var cronExpr string
	var runOnce bool

	root := &cobra.Command{
		Use:   "controller",
		Short: "Run the nightly precompute controller",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cronExpr, runOnce)
		},
	}
	flags := pflag.NewFlagSet("controller", pflag.ExitOnError)
	flags.StringVar(&cronExpr, "cron", "0 20 * * 1-5", "cron expression for the nightly trigger, in the pipeline timezone")
	flags.BoolVar(&runOnce, "run-once", false, "start a single run immediately and exit without scheduling")
	root.Flags().AddFlagSet(flags)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cronExpr string, runOnce bool) error {
	ctx := context.Background()
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

	if svc.ObjectStore != nil {
		ingester := refdata.New(svc.ObjectStore, svc.Repo, "reference/", cfg.ReferenceDataURL, time.Hour, svc.Log)
		go ingester.Run(ctx)
	} else {
		svc.Log.Warn().Msg("no object store configured, reference-data ingest disabled")
	}

	if runOnce {
		svc.Log.Info().Msg("starting single on-demand run")
		return ctrl.StartRun(ctx)
	}

	sched, err := ctrl.Schedule(cronExpr)
	if err != nil {
		return fmt.Errorf("schedule nightly trigger: %w", err)
	}
	svc.Log.Info().Str("cron", cronExpr).Str("timezone", cfg.Timezone).Msg("controller scheduled")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	svc.Log.Info().Msg("shutting down controller")
	stopCtx := sched.Stop()
	<-stopCtx.Done()
	return nil
}
