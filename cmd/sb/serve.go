package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/hub"
	"github.com/zulandar/switchboard/internal/server"
	"github.com/zulandar/switchboard/internal/worker"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Switchboard server",
		Long: `Starts the HTTP ingress, the review worker pool, the notification hub and
the reconciler. Runs until interrupted; queued reviews finish before exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	logOut, closeLog, err := config.InitLogging(cfg.LogFile)
	if err != nil {
		return err
	}
	defer closeLog()

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	h, relay, err := buildHub(cfg.Hub, gormDB)
	if err != nil {
		return err
	}
	pool := worker.New(cfg.Review.Workers, cfg.Review.QueueSize)
	p, err := buildPipeline(cfg, gormDB, h, pool)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}
	g.Go(func() error { return p.RunReconciler(gctx, cfg.Review.ReconcileCron) })
	g.Go(func() error {
		return server.Start(gctx, server.StartOpts{
			DB:       gormDB,
			Pipeline: p,
			Hub:      h,
			Health: func() gin.H {
				stats := pool.Stats()
				return gin.H{
					"queued":    stats.Queued,
					"succeeded": stats.Succeeded,
					"failed":    stats.Failed,
					"hub":       cfg.Hub.Backend,
				}
			},
			InternalSecret:     cfg.Auth.InternalSecret,
			OperatorSigningKey: cfg.Auth.OperatorSigningKey,
			Port:               cfg.Server.Port,
			GinMode:            cfg.Server.GinMode,
			Keepalive:          cfg.Keepalive(),
			SinkBuffer:         cfg.Hub.SinkBuffer,
			Out:                logOut,
		})
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// buildHub selects the hub backend. relay is nil for the memory backend.
func buildHub(cfg config.HubConfig, gormDB *gorm.DB) (h hub.Hub, relay *hub.Relay, err error) {
	switch cfg.Backend {
	case "relay":
		relay, err = hub.NewRelay(hub.RelayOpts{
			DB:           gormDB,
			PollInterval: time.Duration(cfg.PollIntervalSec) * time.Second,
		})
		if err != nil {
			return nil, nil, err
		}
		return relay, relay, nil
	default:
		return hub.NewMemory(), nil, nil
	}
}
