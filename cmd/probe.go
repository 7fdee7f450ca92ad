package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/errors"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/health"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/rfb"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/target"
)

var probeCmd = &cobra.Command{
	Use:   "probe <target>...",
	Short: "Read the name and geometry of VNC desktops",
	Long: `Performs the RFB handshake against each target and prints the desktop
name, size and protocol version. Targets are host:port, tcp://host:port,
unix:///path or an absolute socket path. Probes run in parallel and never
disturb viewers already connected.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProbe,
}

var (
	probeTimeout time.Duration
	probeOutput  string
)

// probeRow is one line of probe output.
type probeRow struct {
	Target   string      `json:"target"`
	Status   string      `json:"status"`
	Geometry *rfb.Result `json:"geometry,omitempty"`
	Error    string      `json:"error,omitempty"`
}

func init() {
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 5*time.Second, "Timeout for each probe")
	probeCmd.Flags().StringVarP(&probeOutput, "output", "o", outputText, "Output format (text or json)")
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	if err := checkOutput(probeOutput); err != nil {
		return err
	}

	targets := make([]target.Target, len(args))
	for i, arg := range args {
		t, err := target.Parse(arg)
		if err != nil {
			return errors.ValidationError(fmt.Sprintf("invalid target %q: %v", arg, err))
		}
		targets[i] = t
	}

	prober := rfb.NewProber(probeTimeout, nil)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	pending := make([]<-chan rfb.Outcome, len(targets))
	for i, t := range targets {
		pending[i] = prober.ProbeAsync(ctx, t)
	}

	rows := make([]probeRow, len(targets))
	var firstErr error
	for i, ch := range pending {
		o := <-ch
		rows[i] = probeRow{Target: targets[i].String(), Status: string(health.StatusOf(o.Err))}
		if o.Err != nil {
			rows[i].Error = o.Err.Error()
			if firstErr == nil {
				firstErr = o.Err
			}
			continue
		}
		res := o.Result
		rows[i].Geometry = &res
	}

	out := cmd.OutOrStdout()
	if probeOutput == outputJSON {
		if err := printJSON(out, rows); err != nil {
			return err
		}
		return firstErr
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tSTATUS\tNAME\tGEOMETRY\tVERSION")
	fmt.Fprintln(w, "------\t------\t----\t--------\t-------")
	for _, r := range rows {
		if r.Geometry == nil {
			fmt.Fprintf(w, "%s\t%s\t-\t-\t-\n", r.Target, formatStatus(health.Status(r.Status)))
			continue
		}
		g := r.Geometry
		fmt.Fprintf(w, "%s\t%s\t%s\t%dx%d\t%s\n",
			r.Target, formatStatus(health.Status(r.Status)), g.Name, g.Width, g.Height, g.Version)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return firstErr
}

func formatStatus(status health.Status) string {
	switch status {
	case health.StatusHealthy:
		return "✓ healthy"
	case health.StatusProtocolError:
		return "⚠ protocol-error"
	case health.StatusUnreachable:
		return "✗ unreachable"
	default:
		return "● " + string(status)
	}
}
