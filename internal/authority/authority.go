// Package authority models the identity provider instance a request is
// issued against, and resolves its protocol endpoints through the
// discovery collaborator.
package authority

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/meridianid/meridian-go/internal/transport"
	"github.com/meridianid/meridian-go/pkg/identerr"
)

// Tenant aliases that mean "no fixed realm": tokens acquired against these
// are cached under the realm the provider reports back.
var tenantlessTenants = map[string]bool{
	"common":        true,
	"organizations": true,
	"consumers":     true,
}

// Info is a parsed, canonicalized authority.
type Info struct {
	// CanonicalURL is the normalized authority, always with a trailing slash.
	CanonicalURL string
	// Host is the environment portion used for cache partitioning.
	Host string
	// Tenant is the realm (directory) segment; may be a tenantless alias.
	Tenant string
}

// Parse validates and canonicalizes an authority string of the form
// https://host/tenant.
func Parse(raw string) (Info, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Info{}, identerr.NewValidation("authority", fmt.Sprintf("not a valid URL: %v", err))
	}

	if u.Scheme != "https" {
		return Info{}, identerr.NewValidation("authority", "must use the https scheme")
	}

	segments := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	if len(segments) < 1 {
		return Info{}, identerr.NewValidation("authority", "must include a tenant segment, e.g. https://login.example.com/common")
	}

	tenant := segments[0]

	return Info{
		CanonicalURL: fmt.Sprintf("https://%s/%s/", u.Host, tenant),
		Host:         u.Host,
		Tenant:       tenant,
	}, nil
}

// IsTenantless reports whether the authority carries a placeholder tenant
// that the token response will replace with a concrete realm.
func (i Info) IsTenantless() bool {
	return tenantlessTenants[strings.ToLower(i.Tenant)]
}

// WithTenant returns a copy of the authority pointing at the given tenant.
// Used to pin a tenantless authority once the response reveals the realm.
func (i Info) WithTenant(tenant string) Info {
	if tenant == "" || !i.IsTenantless() {
		return i
	}
	return Info{
		CanonicalURL: fmt.Sprintf("https://%s/%s/", i.Host, tenant),
		Host:         i.Host,
		Tenant:       tenant,
	}
}

// Endpoints holds the resolved protocol endpoints for one authority.
type Endpoints struct {
	AuthorizationEndpoint string
	TokenEndpoint         string
	DeviceCodeEndpoint    string
}

// Resolver resolves protocol endpoints for an authority. Results are
// cacheable; the caching policy belongs to the caller (see CachedResolver).
type Resolver interface {
	Resolve(ctx context.Context, auth Info) (Endpoints, error)
}

// openidConfiguration is the subset of the OIDC discovery document the
// resolver consumes. Unknown fields are ignored.
type openidConfiguration struct {
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	DeviceCodeEndpoint    string `json:"device_authorization_endpoint"`
}

// DiscoveryResolver resolves endpoints by fetching the authority's OIDC
// discovery document through the transport collaborator.
type DiscoveryResolver struct {
	sender transport.Sender
}

// NewDiscoveryResolver creates a resolver over the given transport.
func NewDiscoveryResolver(sender transport.Sender) *DiscoveryResolver {
	return &DiscoveryResolver{sender: sender}
}

func (r *DiscoveryResolver) Resolve(ctx context.Context, auth Info) (Endpoints, error) {
	endpoint := auth.CanonicalURL + ".well-known/openid-configuration"

	resp, err := r.sender.SendGet(ctx, endpoint, nil)
	if err != nil {
		return Endpoints{}, fmt.Errorf("authority discovery request failed: %w", err)
	}

	if resp.StatusCode != 200 {
		return Endpoints{}, &identerr.ProtocolError{
			StatusCode:  resp.StatusCode,
			Description: fmt.Sprintf("authority discovery for %s failed", auth.CanonicalURL),
		}
	}

	var doc openidConfiguration
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		return Endpoints{}, fmt.Errorf("authority discovery document is not valid JSON: %w", err)
	}

	if doc.TokenEndpoint == "" {
		return Endpoints{}, fmt.Errorf("authority discovery document for %s is missing token_endpoint", auth.CanonicalURL)
	}

	return Endpoints{
		AuthorizationEndpoint: doc.AuthorizationEndpoint,
		TokenEndpoint:         doc.TokenEndpoint,
		DeviceCodeEndpoint:    doc.DeviceCodeEndpoint,
	}, nil
}
