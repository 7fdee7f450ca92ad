package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the WebSocket relay and admin API",
	Long: `Runs the relay until interrupted.

The relay listens on listen.relay for viewer connections. The read-only
admin API listens on listen.admin; leave it empty to disable it. A health
monitor probes ready desktops every probe.monitor_interval.

On SIGINT or SIGTERM the listeners stop accepting, relayed connections are
closed with a going-away frame and the command exits. Desktops are left
running.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.Config
	logging.Info("vncgate starting",
		"config", cfg.Path,
		"relay", cfg.Listen.Relay,
		"admin", cfg.Listen.Admin,
		"backend", a.Backend.Name(),
		"meetings", a.Meetings != nil,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		return err
	}
	logInfo("vncgate stopped")
	return nil
}
