package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	meridian "github.com/meridianid/meridian-go"
)

var (
	tokenScopes       []string
	tokenForceRefresh bool
	tokenAccount      string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print an access token",
	Long: `Acquire an access token and print it to stdout.

With --account the token is acquired silently for that signed-in account
(run "meridian accounts" to list them). Without it the client credentials
grant is used, which requires MERIDIAN_CLIENT_SECRET.`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringSliceVar(&tokenScopes, "scopes", nil, "scopes to request (defaults to the profile's)")
	tokenCmd.Flags().BoolVar(&tokenForceRefresh, "force-refresh", false, "bypass the token cache")
	tokenCmd.Flags().StringVar(&tokenAccount, "account", "", "home account id to acquire silently for")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.close(ctx)

	scopes := app.scopesOrDefault(tokenScopes)

	var opts []meridian.AcquireOption
	if tokenForceRefresh {
		opts = append(opts, meridian.WithForceRefresh())
	}

	var result meridian.AuthResult
	if tokenAccount != "" {
		account, err := findAccount(ctx, app.client, tokenAccount)
		if err != nil {
			return err
		}
		result, err = app.client.AcquireTokenSilent(ctx, scopes, account, opts...)
		if err != nil {
			return err
		}
	} else {
		result, err = app.client.AcquireTokenForClient(ctx, scopes, opts...)
		if err != nil {
			return err
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), result.AccessToken)
	return nil
}

// findAccount matches a cached account by home account id or username.
func findAccount(ctx context.Context, client *meridian.Client, key string) (meridian.Account, error) {
	accounts, err := client.Accounts(ctx)
	if err != nil {
		return meridian.Account{}, err
	}
	for _, account := range accounts {
		if account.HomeAccountID == key || account.Username == key {
			return account, nil
		}
	}
	return meridian.Account{}, fmt.Errorf("no cached account matches %q", key)
}
