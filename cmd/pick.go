package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/audit"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/logging"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/tui"
)

var pickCmd = &cobra.Command{
	Use:   "pick",
	Short: "Pick a session to inspect",
	Long: `Opens an interactive picker over the sessions of a running relay.
Enter prints the session's audit events; p probes its desktop.`,
	Args: cobra.NoArgs,
	RunE: runPick,
}

func init() {
	addAdminFlag(pickCmd)
	rootCmd.AddCommand(pickCmd)
}

func runPick(cmd *cobra.Command, args []string) error {
	client := adminClient(adminAddr)
	ctx := cmd.Context()

	sessions, err := client.Sessions(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		logInfo("No sessions. Sessions appear once a viewer connects.")
		return nil
	}

	result, err := tui.RunPicker(sessions)
	if err != nil {
		return fmt.Errorf("picker error: %w", err)
	}

	logging.Debug("picker result", "action", result.Action)

	out := cmd.OutOrStdout()
	switch result.Action {
	case tui.ActionEvents:
		events, err := client.Events(ctx, result.Session.Key)
		if err != nil {
			return err
		}
		printEvents(out, result.Session.Key, events)

	case tui.ActionProbe:
		res, err := client.Probe(ctx, result.Session.Target, true)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: %q %dx%d (%s)\n", res.Target, res.Name, res.Width, res.Height, res.Version)

	case tui.ActionQuit:
	}

	return nil
}

func printEvents(w io.Writer, key string, events []audit.Event) {
	if len(events) == 0 {
		logInfo("No events found for %s", key)
		return
	}
	for _, e := range events {
		ts := e.Timestamp.Local().Format("2006-01-02 15:04:05")
		line := fmt.Sprintf("[%s] %-10s %s", ts, e.Type, e.Key)
		if e.Subject != "" {
			line += " subject=" + e.Subject
		}
		if e.BytesIn > 0 || e.BytesOut > 0 {
			line += fmt.Sprintf(" in=%d out=%d", e.BytesIn, e.BytesOut)
		}
		if e.Details != "" {
			line += " (" + e.Details + ")"
		}
		fmt.Fprintln(w, line)
	}
}
