package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live view of desktop sessions",
	Long: `Opens a terminal view of the sessions of a running relay, refreshed
from its admin API. Press r to refresh immediately and q to quit.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var watchInterval time.Duration

func init() {
	addAdminFlag(watchCmd)
	watchCmd.Flags().DurationVar(&watchInterval, "interval", tui.DefaultWatchInterval, "Refresh interval")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if err := tui.RunWatch(adminClient(adminAddr), watchInterval); err != nil {
		return fmt.Errorf("watch error: %w", err)
	}
	return nil
}
