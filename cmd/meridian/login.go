package main

import (
	"fmt"

	"github.com/spf13/cobra"

	meridian "github.com/meridianid/meridian-go"
)

var loginScopes []string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with the device code flow",
	Long: `Sign in interactively using the device authorization flow.

The command prints a short code and a verification URL, then waits while
you complete sign-in in any browser. The resulting tokens land in the
cache file, so later "meridian token --account" calls work silently.`,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringSliceVar(&loginScopes, "scopes", nil, "scopes to request (defaults to the profile's)")
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.close(ctx)

	scopes := app.scopesOrDefault(loginScopes)

	result, err := app.client.AcquireTokenByDeviceCode(ctx, scopes, func(code meridian.DeviceCode) {
		if code.Message != "" {
			fmt.Fprintln(cmd.OutOrStdout(), code.Message)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "To sign in, visit %s and enter the code %s\n",
			code.VerificationURL, code.UserCode)
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n",
		result.Account.Username, result.Account.HomeAccountID)
	return nil
}
