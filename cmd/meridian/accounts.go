package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List signed-in accounts",
	RunE:  runAccounts,
}

var logoutCmd = &cobra.Command{
	Use:   "logout <account>",
	Short: "Sign an account out",
	Long: `Remove every cached token for the account identified by home account
id or username.`,
	Args: cobra.ExactArgs(1),
	RunE: runLogout,
}

func init() {
	rootCmd.AddCommand(accountsCmd)
	rootCmd.AddCommand(logoutCmd)
}

func runAccounts(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.close(ctx)

	accounts, err := app.client.Accounts(ctx)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No signed-in accounts.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USERNAME\tHOME ACCOUNT\tREALM")
	for _, account := range accounts {
		fmt.Fprintf(w, "%s\t%s\t%s\n", account.Username, account.HomeAccountID, account.Realm)
	}
	return w.Flush()
}

func runLogout(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.close(ctx)

	account, err := findAccount(ctx, app.client, args[0])
	if err != nil {
		return err
	}
	if err := app.client.RemoveAccount(ctx, account); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Signed out %s\n", account.Username)
	return nil
}
