// Command api serves the read surface: precomputed artifacts, search,
// rankings, watchlists, and the run-progress stream. It never computes
// anything — see internal/api.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sentinel-quant/nightly-compute/internal/api"
	"github.com/sentinel-quant/nightly-compute/internal/bootstrap"
	"github.com/sentinel-quant/nightly-compute/internal/config"
	"github.com/sentinel-quant/nightly-compute/internal/controller"
)

func main() {
	root := &cobra.Command{
		Use:   "api",
		Short: "Run the precompute read API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
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

	srv := api.New(api.Config{
		Port:        cfg.APIPort,
		Log:         svc.Log,
		Repo:        svc.Repo,
		Controller:  ctrl,
		MetricsReg:  svc.MetricsReg,
		CORSOrigins: cfg.CORSOrigins,
		DevMode:     cfg.DevMode,
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil {
			svc.Log.Error().Err(err).Msg("api server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	svc.Log.Info().Msg("shutting down api")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
