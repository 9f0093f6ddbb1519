package config

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	App     AppConfig
	Cache   CacheConfig
	Observe ObserveConfig
}

type AppConfig struct {
	ClientID  string `env:"MERIDIAN_CLIENT_ID"`
	Authority string `env:"MERIDIAN_AUTHORITY, default=https://login.microsoftonline.com/common"`

	// ClientSecret makes the CLI act as a confidential client; leave it
	// unset for public-client flows (device code).
	ClientSecret string `env:"MERIDIAN_CLIENT_SECRET"`

	// ProfilesFile points at an optional YAML file of named connection
	// profiles; Profile selects one, overriding the settings above.
	ProfilesFile string `env:"MERIDIAN_PROFILES_FILE"`
	Profile      string `env:"MERIDIAN_PROFILE"`
}

// CacheConfig specifies token cache persistence.
type CacheConfig struct {
	// File is the path of the serialized token cache. Empty means the
	// cache lives only in memory for the process lifetime.
	File string `env:"MERIDIAN_CACHE_FILE"`
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=meridian"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.App.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid application configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the application configuration. A client id must come
// from the environment or from a selected profile.
func (c *AppConfig) Validate() error {
	if c.Profile != "" && c.ProfilesFile == "" {
		return fmt.Errorf("MERIDIAN_PROFILES_FILE required when MERIDIAN_PROFILE is set")
	}

	if c.ClientID == "" && c.Profile == "" {
		return fmt.Errorf("MERIDIAN_CLIENT_ID or MERIDIAN_PROFILE required")
	}

	return nil
}
