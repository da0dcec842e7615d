// calcops serves the watchlist API and refreshes watched marketplace
// listings, either on demand, on a schedule, or as a one-shot batch.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Flags override the config file and
// environment.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "calcops",
		Short: "Watchlist refresh service for marketplace listings",
		Long: `calcops keeps a watchlist of marketplace listings up to date.

Available subcommands:
  serve   - Run the HTTP API and the snapshot scheduler
  refresh - Refresh watched listings once and print a summary`,
		SilenceUsage: true,
	}

	root.PersistentFlags().String("db", "", "SQLite database path (overrides CALCOPS_DB_PATH)")
	root.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().Int("concurrency", 0, "Default number of parallel lookups per refresh")

	root.AddCommand(newServeCmd())
	root.AddCommand(newRefreshCmd())
	return root
}
