package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var viewersCmd = &cobra.Command{
	Use:   "viewers <meeting-id>",
	Short: "List meeting attendees and their desktops",
	Long: `Reads the attendees of a running meeting from the meeting directory,
resolves each one to a route and probes the desktops that are already
running. No desktop is started.`,
	Args: cobra.ExactArgs(1),
	RunE: runViewers,
}

var viewersOutput string

func init() {
	viewersCmd.Flags().StringVarP(&viewersOutput, "output", "o", outputText, "Output format (text or json)")
	rootCmd.AddCommand(viewersCmd)
}

func runViewers(cmd *cobra.Command, args []string) error {
	if err := checkOutput(viewersOutput); err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	viewers, err := a.Viewers(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if viewersOutput == outputJSON {
		return printJSON(out, viewers)
	}

	if len(viewers) == 0 {
		logInfo("No attendees in meeting %s", args[0])
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tROLE\tROUTE\tTARGET\tGEOMETRY")
	fmt.Fprintln(w, "----\t----\t-----\t------\t--------")
	for _, v := range viewers {
		route := v.Route
		if v.Key != "" {
			route += " " + v.Key
			if v.ViewOnly {
				route += " (view-only)"
			}
		}
		if route == "" {
			route = "-"
		}

		tgt := "-"
		if v.Target != nil {
			tgt = v.Target.String()
		}

		geometry := "-"
		switch {
		case v.Geometry != nil:
			geometry = fmt.Sprintf("%dx%d %q", v.Geometry.Width, v.Geometry.Height, v.Geometry.Name)
		case v.Error != "":
			geometry = "✗ " + v.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", v.Name, v.Role, route, tgt, geometry)
	}
	return w.Flush()
}
