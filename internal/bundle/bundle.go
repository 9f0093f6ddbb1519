// Package bundle is the composition root: it wires the transport, token
// endpoint client, authority resolution, token cache, throttling manager
// and pipeline into one application-scoped unit. Nothing here is a process
// singleton; independent bundles are fully isolated.
package bundle

import (
	"net/http"
	"time"

	"github.com/meridianid/meridian-go/internal/authority"
	"github.com/meridianid/meridian-go/internal/cache"
	"github.com/meridianid/meridian-go/internal/credential"
	"github.com/meridianid/meridian-go/internal/oauth"
	"github.com/meridianid/meridian-go/internal/oauth/throttle"
	"github.com/meridianid/meridian-go/internal/request"
	"github.com/meridianid/meridian-go/internal/transport"
)

// discoveryTTL bounds how long a resolved authority discovery document is
// reused before a fresh fetch.
const discoveryTTL = 4 * time.Hour

// Config describes one application instance.
type Config struct {
	ClientID  string
	Authority string

	// Credential authenticates the application itself; nil for public
	// clients.
	Credential credential.Credential

	// HTTPClient overrides the default instrumented client.
	HTTPClient *http.Client

	// Accessor overrides the default in-memory token store, for hosts
	// with persistent or distributed caches.
	Accessor cache.Accessor
}

// Bundle owns the shared components for one application instance.
type Bundle struct {
	clientID  string
	authority authority.Info

	sender   transport.Sender
	accessor cache.Accessor
	throttle *throttle.Manager
	pipeline *request.Pipeline

	serializer *cache.Serializer
	legacy     *cache.LegacySerializer
}

// New wires a bundle. The authority is parsed eagerly so misconfiguration
// fails at construction, not first use.
func New(cfg Config) (*Bundle, error) {
	auth, err := authority.Parse(cfg.Authority)
	if err != nil {
		return nil, err
	}

	var opts []transport.Option
	if cfg.HTTPClient != nil {
		opts = append(opts, transport.WithClient(cfg.HTTPClient))
	}
	sender := transport.New(opts...)

	accessor := cfg.Accessor
	if accessor == nil {
		accessor = cache.NewInstrumented(cache.NewInMemory())
	}

	resolver := authority.NewCachedResolver(authority.NewDiscoveryResolver(sender), discoveryTTL)
	throttler := throttle.NewManager()

	pipeline := request.New(request.Dependencies{
		Resolver:   resolver,
		Client:     oauth.NewClient(sender),
		Throttle:   throttler,
		Accessor:   accessor,
		Credential: cfg.Credential,
	})

	return &Bundle{
		clientID:   cfg.ClientID,
		authority:  auth,
		sender:     sender,
		accessor:   accessor,
		throttle:   throttler,
		pipeline:   pipeline,
		serializer: cache.NewSerializer(accessor),
		legacy:     cache.NewLegacySerializer(accessor),
	}, nil
}

// ClientID returns the application's client id.
func (b *Bundle) ClientID() string { return b.clientID }

// Authority returns the parsed default authority.
func (b *Bundle) Authority() authority.Info { return b.authority }

// Pipeline returns the shared request pipeline.
func (b *Bundle) Pipeline() *request.Pipeline { return b.pipeline }

// Accessor returns the token cache store.
func (b *Bundle) Accessor() cache.Accessor { return b.accessor }

// Serializer returns the current-format cache serializer.
func (b *Bundle) Serializer() *cache.Serializer { return b.serializer }

// LegacySerializer returns the read-only legacy-format cache reader.
func (b *Bundle) LegacySerializer() *cache.LegacySerializer { return b.legacy }

// Parameters builds validated request parameters against the bundle's
// client and authority. authorityOverride, when non-empty, replaces the
// default authority for this call only.
func (b *Bundle) Parameters(authorityOverride string, scopes []string) (request.Parameters, error) {
	raw := b.authority.CanonicalURL
	if authorityOverride != "" {
		raw = authorityOverride
	}
	return request.NewParameters(b.clientID, raw, scopes)
}
