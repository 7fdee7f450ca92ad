package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/errors"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/token"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/tui"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a signed viewer token",
	Long: `Signs a token with the configured secret. The token is printed on its
own line so it can be appended to the relay URL:

  wss://host:6080/$(vncgate token --sub alice)

With --interactive, missing claims are prompted for.`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

var (
	tokenSubject     string
	tokenMeeting     string
	tokenTTL         time.Duration
	tokenAlgorithm   string
	tokenInteractive bool
)

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "sub", "", "Subject (display name) of the viewer")
	tokenCmd.Flags().StringVar(&tokenMeeting, "meeting", "", "Meeting ID claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "Token lifetime")
	tokenCmd.Flags().StringVar(&tokenAlgorithm, "alg", "HS256", "Signing algorithm (HS256, HS384 or HS512)")
	tokenCmd.Flags().BoolVarP(&tokenInteractive, "interactive", "i", false, "Prompt for the claims")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	req := tui.TokenRequest{Subject: tokenSubject, MeetingID: tokenMeeting, TTL: tokenTTL}
	if tokenInteractive {
		result, err := tui.RunTokenWizard(req)
		if err != nil {
			return fmt.Errorf("token wizard: %w", err)
		}
		if result == nil {
			logInfo("Cancelled")
			return nil
		}
		req = *result
	}
	if req.Subject == "" {
		return errors.ValidationError("--sub is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	secret, err := cfg.TokenSecret()
	if err != nil {
		return err
	}

	issuer, err := token.NewIssuer(secret).WithMethod(tokenAlgorithm)
	if err != nil {
		return err
	}
	raw, err := issuer.Issue(req.Subject, req.MeetingID, req.TTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), raw)
	return nil
}
