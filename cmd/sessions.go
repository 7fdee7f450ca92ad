package cmd

import (
	"github.com/spf13/cobra"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/tui"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List desktop sessions of a running relay",
	Long: `Lists the sessions known to a running relay through its admin API,
grouped by state, with viewer counts and desktop health.`,
	Args: cobra.NoArgs,
	RunE: runSessions,
}

var (
	adminAddr      string
	sessionsOutput string
)

func addAdminFlag(c *cobra.Command) {
	c.Flags().StringVar(&adminAddr, "admin", "", "Admin API address (default: listen.admin from the config)")
}

func init() {
	addAdminFlag(sessionsCmd)
	sessionsCmd.Flags().StringVarP(&sessionsOutput, "output", "o", outputText, "Output format (text or json)")
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	if err := checkOutput(sessionsOutput); err != nil {
		return err
	}

	sessions, err := adminClient(adminAddr).Sessions(cmd.Context())
	if err != nil {
		return err
	}

	if sessionsOutput == outputJSON {
		return printJSON(cmd.OutOrStdout(), sessions)
	}
	tui.RenderSessions(cmd.OutOrStdout(), sessions)
	return nil
}
