package cmd

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/errors"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/lookup"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/provision"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage the SQLite identity table",
	Long: `Lists and edits the VNCusers table at lookup.sqlite_path. Each row maps
a subject either to a fixed desktop port or to an account whose desktop is
started on demand.`,
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List identity mappings",
	Args:  cobra.NoArgs,
	RunE:  runUsersList,
}

var usersSetCmd = &cobra.Command{
	Use:   "set <subject>",
	Short: "Add or replace an identity mapping",
	Args:  cobra.ExactArgs(1),
	RunE:  runUsersSet,
}

var usersDeleteCmd = &cobra.Command{
	Use:   "delete <subject>",
	Short: "Remove an identity mapping",
	Args:  cobra.ExactArgs(1),
	RunE:  runUsersDelete,
}

var (
	usersAccount string
	usersPort    int
)

func init() {
	usersSetCmd.Flags().StringVar(&usersAccount, "account", "", "Account whose desktop the subject reaches")
	usersSetCmd.Flags().IntVar(&usersPort, "port", 0, "Fixed desktop port for the subject")
	usersCmd.AddCommand(usersListCmd, usersSetCmd, usersDeleteCmd)
	rootCmd.AddCommand(usersCmd)
}

func openUserDB() (*lookup.SQLite, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Lookup.SQLitePath == "" {
		return nil, errors.ConfigError("lookup.sqlite_path is not set", nil)
	}
	return lookup.OpenSQLite(lookup.SQLiteConfig{
		Path:         cfg.Lookup.SQLitePath,
		PoolSize:     1,
		CreateSchema: true,
	})
}

func runUsersList(cmd *cobra.Command, args []string) error {
	db, err := openUserDB()
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		logInfo("No identity mappings")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SUBJECT\tACCOUNT\tPORT")
	fmt.Fprintln(w, "-------\t-------\t----")
	for _, r := range rows {
		account, port := "-", "-"
		if r.Account != "" {
			account = r.Account
		}
		if r.Port > 0 {
			port = strconv.Itoa(r.Port)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Subject, account, port)
	}
	return w.Flush()
}

func runUsersSet(cmd *cobra.Command, args []string) error {
	if usersAccount == "" && usersPort == 0 {
		return errors.ValidationError("one of --account or --port is required")
	}
	if usersPort < 0 || usersPort > 65535 {
		return errors.ValidationError(fmt.Sprintf("invalid port %d", usersPort))
	}
	if usersAccount != "" {
		if err := provision.ValidateKey(usersAccount); err != nil {
			return errors.ValidationError(fmt.Sprintf("invalid account: %v", err))
		}
	}

	db, err := openUserDB()
	if err != nil {
		return err
	}
	defer db.Close()

	row := lookup.Row{Subject: args[0], Account: usersAccount, Port: usersPort}
	if err := db.Upsert(cmd.Context(), row); err != nil {
		return err
	}
	logSuccess("Mapped %s", args[0])
	return nil
}

func runUsersDelete(cmd *cobra.Command, args []string) error {
	db, err := openUserDB()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	logSuccess("Removed %s", args[0])
	return nil
}
