package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	meridian "github.com/meridianid/meridian-go"
	"github.com/meridianid/meridian-go/internal/config"
	"github.com/meridianid/meridian-go/internal/observe"
	"github.com/meridianid/meridian-go/internal/profile"
)

var flagProfile string

var rootCmd = &cobra.Command{
	Use:   "meridian",
	Short: "Acquire and inspect identity provider tokens",
	Long: `meridian acquires OAuth2/OIDC tokens from an identity provider and
maintains a persistent token cache, so repeated invocations reuse cached
tokens and refresh silently instead of prompting again.

Configuration comes from MERIDIAN_* environment variables, optionally
layered with named connection profiles from a YAML file
(MERIDIAN_PROFILES_FILE).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagProfile, "profile", "", "named connection profile to use")
}

// Execute runs the root command. Errors are logged by the commands
// themselves; the caller only needs the exit status.
func Execute() error {
	return rootCmd.Execute()
}

// app wires one CLI invocation: configuration, telemetry, the client and
// the persistent cache file.
type app struct {
	cfg      config.Config
	conn     profile.Connection
	client   *meridian.Client
	shutdown func(context.Context) error
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("configuration load failed: %w", err)
	}
	if flagProfile != "" {
		cfg.App.Profile = flagProfile
	}
	if err := cfg.App.Validate(); err != nil {
		return nil, err
	}

	shutdown, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return nil, fmt.Errorf("telemetry bootstrap failed: %w", err)
	}

	conn, err := resolveConnection(cfg.App)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{
		Transport: observe.HTTPTransport(http.DefaultTransport, cfg.Observe),
	}

	opts := []meridian.Option{meridian.WithHTTPClient(httpClient)}
	if cfg.App.ClientSecret != "" {
		opts = append(opts, meridian.WithClientSecret(cfg.App.ClientSecret))
	}

	client, err := meridian.New(conn.ClientID, conn.Authority, opts...)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, conn: conn, client: client, shutdown: shutdown}
	if err := a.loadCache(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// resolveConnection merges the profile file (if any) over the direct
// environment settings.
func resolveConnection(cfg config.AppConfig) (profile.Connection, error) {
	if cfg.ProfilesFile == "" {
		return profile.Connection{
			Authority: cfg.Authority,
			ClientID:  cfg.ClientID,
		}, nil
	}

	store, err := profile.Load(cfg.ProfilesFile)
	if err != nil {
		return profile.Connection{}, fmt.Errorf("profiles file %s: %w", cfg.ProfilesFile, err)
	}
	return store.Get(cfg.Profile)
}

func (a *app) loadCache(ctx context.Context) error {
	if a.cfg.Cache.File == "" {
		return nil
	}

	data, err := os.ReadFile(a.cfg.Cache.File)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cache file %s: %w", a.cfg.Cache.File, err)
	}
	return a.client.DeserializeCache(ctx, data, true)
}

// close persists the cache and flushes telemetry. Failures are logged, not
// returned: the acquisition already succeeded or failed on its own terms.
func (a *app) close(ctx context.Context) {
	if a.cfg.Cache.File != "" {
		data, err := a.client.SerializeCache(ctx)
		if err == nil {
			err = os.WriteFile(a.cfg.Cache.File, data, 0o600)
		}
		if err != nil {
			log.Warn().Err(err).Str("file", a.cfg.Cache.File).Msg("token cache not persisted")
		}
	}

	if err := a.shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("telemetry shutdown failed")
	}
}

// scopesOrDefault prefers explicit flag scopes over the profile's.
func (a *app) scopesOrDefault(flagScopes []string) []string {
	if len(flagScopes) > 0 {
		return flagScopes
	}
	return a.conn.Scopes
}
