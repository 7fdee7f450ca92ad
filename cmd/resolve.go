package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/resolver"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <token>",
	Short: "Show the route a token resolves to",
	Long: `Verifies a token and prints the route the relay would take for it,
without provisioning or connecting. Useful for checking identity mappings
and the meeting fallback, which only uses the token's meetingID claim.`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

var resolveOutput string

// routeView is the printed form of a route.
type routeView struct {
	Subject  string `json:"subject"`
	Kind     string `json:"kind"`
	Reason   string `json:"reason"`
	Target   string `json:"target,omitempty"`
	Key      string `json:"key,omitempty"`
	ViewOnly bool   `json:"viewOnly,omitempty"`
}

func init() {
	resolveCmd.Flags().StringVarP(&resolveOutput, "output", "o", outputText, "Output format (text or json)")
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	if err := checkOutput(resolveOutput); err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	route, err := a.Resolver.Resolve(cmd.Context(), resolver.Request{Token: args[0]})
	if err != nil {
		return err
	}

	view := routeView{
		Subject:  route.Subject,
		Kind:     route.Kind.String(),
		Reason:   route.Reason,
		Key:      route.Key,
		ViewOnly: route.ViewOnly,
	}
	if route.IsDirect() {
		view.Target = route.Target.String()
	}

	out := cmd.OutOrStdout()
	if resolveOutput == outputJSON {
		return printJSON(out, view)
	}

	fmt.Fprintf(out, "Subject: %s\n", view.Subject)
	fmt.Fprintf(out, "Route: %s (%s)\n", view.Kind, view.Reason)
	if view.Target != "" {
		fmt.Fprintf(out, "Target: %s\n", view.Target)
	}
	if view.Key != "" {
		fmt.Fprintf(out, "Key: %s\n", view.Key)
		fmt.Fprintf(out, "View only: %t\n", view.ViewOnly)
	}
	return nil
}
