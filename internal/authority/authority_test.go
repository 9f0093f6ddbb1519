package authority_test

import (
	"context"
	"fmt"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/meridianid/meridian-go/internal/authority"
	"github.com/meridianid/meridian-go/internal/transport"
	"github.com/meridianid/meridian-go/pkg/identerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    authority.Info
		wantErr bool
	}{
		{
			name: "standard tenant",
			raw:  "https://login.example.com/contoso.example",
			want: authority.Info{
				CanonicalURL: "https://login.example.com/contoso.example/",
				Host:         "login.example.com",
				Tenant:       "contoso.example",
			},
		},
		{
			name: "trailing slash is normalized",
			raw:  "https://login.example.com/common/",
			want: authority.Info{
				CanonicalURL: "https://login.example.com/common/",
				Host:         "login.example.com",
				Tenant:       "common",
			},
		},
		{
			name:    "http scheme rejected",
			raw:     "http://login.example.com/common",
			wantErr: true,
		},
		{
			name:    "missing tenant rejected",
			raw:     "https://login.example.com",
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := authority.Parse(tc.raw)
			if tc.wantErr {
				assert.True(t, identerr.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTenantlessReplacement(t *testing.T) {
	common, err := authority.Parse("https://login.example.com/common")
	require.NoError(t, err)
	assert.True(t, common.IsTenantless())

	pinned := common.WithTenant("tid-1234")
	assert.Equal(t, "https://login.example.com/tid-1234/", pinned.CanonicalURL)
	assert.False(t, pinned.IsTenantless())

	// a concrete tenant is never replaced
	fixed, err := authority.Parse("https://login.example.com/tid-9999")
	require.NoError(t, err)
	assert.Equal(t, fixed, fixed.WithTenant("tid-1234"))
}

// fakeSender returns canned discovery documents and counts calls.
type fakeSender struct {
	calls  atomic.Int64
	status int
	body   string
}

func (f *fakeSender) SendGet(ctx context.Context, endpoint string, headers map[string]string) (*transport.Response, error) {
	f.calls.Add(1)
	return &transport.Response{StatusCode: f.status, Body: []byte(f.body)}, nil
}

func (f *fakeSender) SendPost(ctx context.Context, endpoint string, headers map[string]string, body url.Values) (*transport.Response, error) {
	return nil, fmt.Errorf("unexpected POST to %s", endpoint)
}

func discoveryDoc() string {
	return `{
		"authorization_endpoint": "https://login.example.com/contoso/oauth2/v2.0/authorize",
		"token_endpoint": "https://login.example.com/contoso/oauth2/v2.0/token",
		"device_authorization_endpoint": "https://login.example.com/contoso/oauth2/v2.0/devicecode",
		"issuer": "https://login.example.com/contoso/v2.0"
	}`
}

func TestDiscoveryResolver(t *testing.T) {
	sender := &fakeSender{status: 200, body: discoveryDoc()}
	resolver := authority.NewDiscoveryResolver(sender)

	auth, err := authority.Parse("https://login.example.com/contoso")
	require.NoError(t, err)

	endpoints, err := resolver.Resolve(context.Background(), auth)
	require.NoError(t, err)

	assert.Equal(t, "https://login.example.com/contoso/oauth2/v2.0/token", endpoints.TokenEndpoint)
	assert.Equal(t, "https://login.example.com/contoso/oauth2/v2.0/devicecode", endpoints.DeviceCodeEndpoint)
}

func TestDiscoveryResolverMissingTokenEndpoint(t *testing.T) {
	sender := &fakeSender{status: 200, body: `{"issuer": "x"}`}
	resolver := authority.NewDiscoveryResolver(sender)

	auth, err := authority.Parse("https://login.example.com/contoso")
	require.NoError(t, err)

	_, err = resolver.Resolve(context.Background(), auth)
	assert.ErrorContains(t, err, "token_endpoint")
}

func TestCachedResolverResolvesOnce(t *testing.T) {
	sender := &fakeSender{status: 200, body: discoveryDoc()}
	resolver := authority.NewCachedResolver(authority.NewDiscoveryResolver(sender), time.Minute)

	auth, err := authority.Parse("https://login.example.com/contoso")
	require.NoError(t, err)

	for range 3 {
		endpoints, err := resolver.Resolve(context.Background(), auth)
		require.NoError(t, err)
		assert.Equal(t, "https://login.example.com/contoso/oauth2/v2.0/token", endpoints.TokenEndpoint)
	}

	assert.Equal(t, int64(1), sender.calls.Load())
}

func TestCachedResolverDoesNotCacheFailures(t *testing.T) {
	sender := &fakeSender{status: 500, body: "boom"}
	resolver := authority.NewCachedResolver(authority.NewDiscoveryResolver(sender), time.Minute)

	auth, err := authority.Parse("https://login.example.com/contoso")
	require.NoError(t, err)

	_, err = resolver.Resolve(context.Background(), auth)
	require.Error(t, err)
	_, err = resolver.Resolve(context.Background(), auth)
	require.Error(t, err)

	assert.Equal(t, int64(2), sender.calls.Load())
}
