package main

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/seantiz/calcops/internal/api"
	"github.com/seantiz/calcops/internal/refresh"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the snapshot scheduler",
		RunE:  runServe,
	}
	cmd.Flags().String("listen-addr", "", "HTTP listen address (overrides CALCOPS_LISTEN_ADDR)")
	cmd.Flags().Duration("snapshot-interval", 0, "Scheduled full refresh interval, 0 disables")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("listen-addr") {
		cfg.ListenAddr, _ = cmd.Flags().GetString("listen-addr")
	}
	if cmd.Flags().Changed("snapshot-interval") {
		cfg.SnapshotInterval, _ = cmd.Flags().GetDuration("snapshot-interval")
	}

	a, err := newApp(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer a.Close()

	a.logger.Info("calcops: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"refresh_concurrency", cfg.RefreshConcurrency,
		"snapshot_interval", cfg.SnapshotInterval.String(),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	sched := refresh.NewScheduler(a.refresher, cfg.SnapshotInterval, a.logger)
	wg.Go(func() { sched.Run(ctx) })

	srv := api.NewServer(cfg.ListenAddr, a.store, a.sources, a.refresher, a.logger)
	err = srv.Run(ctx)

	// Stop the scheduler if the server failed on its own.
	stop()
	wg.Wait()
	return err
}
