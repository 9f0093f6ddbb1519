package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/meridianid/meridian-go/internal/config"
	"github.com/meridianid/meridian-go/internal/profile"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List configured connection profiles",
	RunE:  runProfiles,
}

func init() {
	rootCmd.AddCommand(profilesCmd)
}

func runProfiles(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd.Context())
	if err != nil {
		return err
	}
	if cfg.App.ProfilesFile == "" {
		return fmt.Errorf("no profiles file configured (set MERIDIAN_PROFILES_FILE)")
	}

	store, err := profile.Load(cfg.App.ProfilesFile)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROFILE\tAUTHORITY\tCLIENT\tSCOPES")
	for _, name := range store.Names() {
		conn, err := store.Get(name)
		if err != nil {
			fmt.Fprintf(w, "%s\t(unavailable: %v)\t\t\n", name, err)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			name, conn.Authority, conn.ClientID, strings.Join(conn.Scopes, " "))
	}
	return w.Flush()
}
