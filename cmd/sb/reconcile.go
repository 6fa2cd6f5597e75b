package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/worker"
)

func newReconcileCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Recover stuck reviews once and exit",
		Long: `Runs a single reconciler pass. Stale processing reviews are resumed in this
process, or failed once they reach review.max_attempts. Pending reviews older
than the stale window are run again. Relay events past retention are pruned.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	return cmd
}

func runReconcile(cmd *cobra.Command, configPath string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	h, _, err := buildHub(cfg.Hub, gormDB)
	if err != nil {
		return err
	}
	pool := worker.New(cfg.Review.Workers, localQueueSize(cfg))
	p, err := buildPipeline(cfg, gormDB, h, pool)
	if err != nil {
		return err
	}

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- pool.Run(runCtx) }()

	summary, err := p.Reconcile(ctx)
	stop()
	if waitErr := <-done; waitErr != nil && err == nil {
		err = waitErr
	}
	if err != nil {
		return err
	}

	stats := pool.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "Reclaimed %d, expired %d, resubmitted %d, pruned %d relay events\n",
		summary.Reclaimed, summary.Expired, summary.Resubmitted, summary.Pruned)
	fmt.Fprintf(cmd.OutOrStdout(), "Jobs: %d succeeded, %d failed\n", stats.Succeeded, stats.Failed)
	return nil
}
