package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/audit"
)

var auditLogCmd = &cobra.Command{
	Use:   "audit-log <key>",
	Short: "Display the audit trail for a session",
	Long: `Prints the audit events recorded for a provisioning key, read from
the state directory. Direct-routed connections are recorded under _direct.`,
	Args: cobra.ExactArgs(1),
	RunE: runAuditLog,
}

var auditLogOutput string

func init() {
	auditLogCmd.Flags().StringVarP(&auditLogOutput, "output", "o", outputText, "Output format (text or json)")
	rootCmd.AddCommand(auditLogCmd)
}

func runAuditLog(cmd *cobra.Command, args []string) error {
	if err := checkOutput(auditLogOutput); err != nil {
		return err
	}
	key := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	auditLogger := audit.NewLogger(cfg.AuditDir())
	events, err := auditLogger.Events(key)
	if err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}

	if auditLogOutput == outputJSON {
		if events == nil {
			events = []audit.Event{}
		}
		return printJSON(cmd.OutOrStdout(), events)
	}
	printEvents(cmd.OutOrStdout(), key, events)
	return nil
}
