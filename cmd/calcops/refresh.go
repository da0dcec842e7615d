package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/seantiz/calcops/internal/model"
	"github.com/seantiz/calcops/internal/refresh"
)

func newRefreshCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Refresh watched listings once and print a summary",
		Long: `Refresh every watched listing (or one user's) in a single batch.

The command exits non-zero when the run fails, which makes it suitable as a
cron entry point.`,
		Args: cobra.NoArgs,
		RunE: runRefresh,
	}
	cmd.Flags().String("user", "", "Only refresh this user's watchlist")
	cmd.Flags().String("mode", model.ModeCollect, "Failure mode: collect or failfast")
	return cmd
}

func runRefresh(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	userID, _ := cmd.Flags().GetString("user")
	mode, _ := cmd.Flags().GetString("mode")
	if !model.ValidMode(mode) {
		return fmt.Errorf("invalid mode %q: want %s or %s", mode, model.ModeCollect, model.ModeFailFast)
	}

	a, err := newApp(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	run := a.refresher.NewRun(userID, model.TriggerManual, mode, 0)
	finished, err := a.refresher.Refresh(cmd.Context(), run)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), refresh.Summary(finished))
	if finished.Status == model.RunFailed {
		return fmt.Errorf("refresh run %s failed", finished.ID)
	}
	return nil
}
