package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/seantiz/calcops/internal/config"
	"github.com/seantiz/calcops/internal/refresh"
	"github.com/seantiz/calcops/internal/source"
	"github.com/seantiz/calcops/internal/source/ebay"
	"github.com/seantiz/calcops/internal/store"
)

// app bundles the components shared by every subcommand.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	store     store.Store
	sources   *source.Registry
	refresher *refresh.Refresher
}

// loadConfig reads the configuration and applies the persistent flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DBPath, _ = flags.GetString("db")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("concurrency") {
		cfg.RefreshConcurrency, _ = flags.GetInt("concurrency")
	}
	return cfg, cfg.Validate()
}

// newApp opens the store and registers the configured sources.
func newApp(cfg config.Config, logOut io.Writer) (*app, error) {
	logger := config.NewLogger(logOut, cfg.Level())

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	reg := source.NewRegistry()
	if cfg.Ebay.Enabled() {
		reg.Register(ebay.SourceName, ebay.NewClient(cfg.Ebay, logger))
	} else {
		logger.Warn("ebay credentials not configured, source disabled")
	}

	ref := refresh.NewRefresher(db, reg, logger, refresh.Options{
		Concurrency: cfg.RefreshConcurrency,
		ItemTimeout: cfg.ItemTimeout,
	})

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     db,
		sources:   reg,
		refresher: ref,
	}, nil
}

func (a *app) Close() error {
	a.refresher.Wait()
	return a.store.Close()
}
