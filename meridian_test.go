package meridian

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianid/meridian-go/internal/broker"
	"github.com/meridianid/meridian-go/internal/oauth"
	"github.com/meridianid/meridian-go/pkg/identerr"
)

// testIDP is an in-process identity provider serving the discovery document
// and a scriptable token endpoint.
type testIDP struct {
	server *httptest.Server

	tokenCalls  atomic.Int64
	tokenBodies chan url.Values
	tokenFunc   func(w http.ResponseWriter, body url.Values)
}

func newTestIDP(t *testing.T) *testIDP {
	t.Helper()

	idp := &testIDP{tokenBodies: make(chan url.Values, 16)}

	mux := http.NewServeMux()
	mux.HandleFunc("/tenant-1/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		base := idp.server.URL + "/tenant-1"
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"authorization_endpoint": %q,
			"token_endpoint": %q,
			"device_authorization_endpoint": %q
		}`, base+"/authorize", base+"/token", base+"/devicecode")
	})
	mux.HandleFunc("/tenant-1/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		idp.tokenCalls.Add(1)
		idp.tokenBodies <- r.PostForm
		w.Header().Set("Content-Type", "application/json")
		idp.tokenFunc(w, r.PostForm)
	})

	idp.server = httptest.NewTLSServer(mux)
	t.Cleanup(idp.server.Close)
	return idp
}

func (i *testIDP) authority() string { return i.server.URL + "/tenant-1" }

func (i *testIDP) lastBody(t *testing.T) url.Values {
	t.Helper()
	select {
	case body := <-i.tokenBodies:
		return body
	default:
		t.Fatal("no token request was recorded")
		return nil
	}
}

func b64url(v any) string {
	raw, _ := json.Marshal(v)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func userTokenJSON(scope string) string {
	idToken := b64url(map[string]string{"alg": "none", "typ": "JWT"}) + "." + b64url(map[string]string{
		"preferred_username": "ada@contoso.example",
		"name":               "Ada Lovelace",
		"oid":                "oid-1",
		"tid":                "tenant-1",
	}) + ".sig"
	clientInfo := b64url(map[string]string{"uid": "uid-1", "utid": "tenant-1"})

	resp := map[string]any{
		"access_token":  "at-secret",
		"refresh_token": "rt-secret",
		"id_token":      idToken,
		"client_info":   clientInfo,
		"token_type":    "Bearer",
		"expires_in":    3600,
		"scope":         scope,
	}
	raw, _ := json.Marshal(resp)
	return string(raw)
}

func appTokenJSON(scope string) string {
	resp := map[string]any{
		"access_token": "app-at-secret",
		"token_type":   "Bearer",
		"expires_in":   3600,
		"scope":        scope,
	}
	raw, _ := json.Marshal(resp)
	return string(raw)
}

func TestAcquireTokenForClient(t *testing.T) {
	idp := newTestIDP(t)
	idp.tokenFunc = func(w http.ResponseWriter, body url.Values) {
		fmt.Fprint(w, appTokenJSON(body.Get("scope")))
	}

	client, err := New("client-1", idp.authority(),
		WithClientSecret("s3cret"),
		WithHTTPClient(idp.server.Client()))
	require.NoError(t, err)

	ctx := context.Background()
	result, err := client.AcquireTokenForClient(ctx, []string{"https://graph.example/.default"})
	require.NoError(t, err)

	assert.Equal(t, "app-at-secret", result.AccessToken)
	assert.Equal(t, "Bearer", result.TokenType)
	assert.False(t, result.FromCache)
	assert.Empty(t, result.Account.HomeAccountID)

	body := idp.lastBody(t)
	assert.Equal(t, "client_credentials", body.Get("grant_type"))
	assert.Equal(t, "s3cret", body.Get("client_secret"))
	assert.Equal(t, "client-1", body.Get("client_id"))

	// second acquisition is served from cache without a network call
	cached, err := client.AcquireTokenForClient(ctx, []string{"https://graph.example/.default"})
	require.NoError(t, err)
	assert.True(t, cached.FromCache)
	assert.Equal(t, "app-at-secret", cached.AccessToken)
	assert.Equal(t, int64(1), idp.tokenCalls.Load())
}

func TestAcquireTokenForClientForceRefresh(t *testing.T) {
	idp := newTestIDP(t)
	idp.tokenFunc = func(w http.ResponseWriter, body url.Values) {
		fmt.Fprint(w, appTokenJSON(body.Get("scope")))
	}

	client, err := New("client-1", idp.authority(),
		WithClientSecret("s3cret"),
		WithHTTPClient(idp.server.Client()))
	require.NoError(t, err)

	ctx := context.Background()
	scopes := []string{"https://graph.example/.default"}

	_, err = client.AcquireTokenForClient(ctx, scopes)
	require.NoError(t, err)
	_, err = client.AcquireTokenForClient(ctx, scopes, WithForceRefresh())
	require.NoError(t, err)

	assert.Equal(t, int64(2), idp.tokenCalls.Load())
}

func TestUsernamePasswordThenSilent(t *testing.T) {
	idp := newTestIDP(t)
	idp.tokenFunc = func(w http.ResponseWriter, body url.Values) {
		fmt.Fprint(w, userTokenJSON(body.Get("scope")))
	}

	client, err := New("client-1", idp.authority(),
		WithHTTPClient(idp.server.Client()))
	require.NoError(t, err)

	ctx := context.Background()
	result, err := client.AcquireTokenByUsernamePassword(ctx, []string{"user.read"}, "ada@contoso.example", "hunter2")
	require.NoError(t, err)

	assert.Equal(t, "at-secret", result.AccessToken)
	assert.Equal(t, "uid-1.tenant-1", result.Account.HomeAccountID)
	assert.Equal(t, "ada@contoso.example", result.Account.Username)
	assert.NotEmpty(t, result.IDToken)

	body := idp.lastBody(t)
	assert.Equal(t, "password", body.Get("grant_type"))
	assert.Equal(t, "hunter2", body.Get("password"))

	accounts, err := client.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)

	silent, err := client.AcquireTokenSilent(ctx, []string{"user.read"}, accounts[0])
	require.NoError(t, err)
	assert.True(t, silent.FromCache)
	assert.Equal(t, "at-secret", silent.AccessToken)
	assert.Equal(t, int64(1), idp.tokenCalls.Load())
}

func TestRemoveAccountSignsOut(t *testing.T) {
	idp := newTestIDP(t)
	idp.tokenFunc = func(w http.ResponseWriter, body url.Values) {
		fmt.Fprint(w, userTokenJSON(body.Get("scope")))
	}

	client, err := New("client-1", idp.authority(),
		WithHTTPClient(idp.server.Client()))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = client.AcquireTokenByUsernamePassword(ctx, []string{"user.read"}, "ada@contoso.example", "hunter2")
	require.NoError(t, err)

	accounts, err := client.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)

	require.NoError(t, client.RemoveAccount(ctx, accounts[0]))

	remaining, err := client.Accounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	_, err = client.AcquireTokenSilent(ctx, []string{"user.read"}, accounts[0])
	assert.True(t, identerr.IsInteractionRequired(err))
}

func TestSilentRedeemsRefreshToken(t *testing.T) {
	idp := newTestIDP(t)
	idp.tokenFunc = func(w http.ResponseWriter, body url.Values) {
		fmt.Fprint(w, userTokenJSON(body.Get("scope")))
	}

	client, err := New("client-1", idp.authority(),
		WithHTTPClient(idp.server.Client()))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = client.AcquireTokenByUsernamePassword(ctx, []string{"user.read"}, "ada@contoso.example", "hunter2")
	require.NoError(t, err)
	idp.lastBody(t)

	accounts, err := client.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)

	// a scope the cached access token does not cover forces refresh token
	// redemption
	result, err := client.AcquireTokenSilent(ctx, []string{"mail.read"}, accounts[0])
	require.NoError(t, err)
	assert.False(t, result.FromCache)

	body := idp.lastBody(t)
	assert.Equal(t, "refresh_token", body.Get("grant_type"))
	assert.Equal(t, "rt-secret", body.Get("refresh_token"))
}

func TestCacheSerializationRoundTrip(t *testing.T) {
	idp := newTestIDP(t)
	idp.tokenFunc = func(w http.ResponseWriter, body url.Values) {
		fmt.Fprint(w, userTokenJSON(body.Get("scope")))
	}

	first, err := New("client-1", idp.authority(),
		WithHTTPClient(idp.server.Client()))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = first.AcquireTokenByUsernamePassword(ctx, []string{"user.read"}, "ada@contoso.example", "hunter2")
	require.NoError(t, err)

	blob, err := first.SerializeCache(ctx)
	require.NoError(t, err)

	second, err := New("client-1", idp.authority(),
		WithHTTPClient(idp.server.Client()))
	require.NoError(t, err)
	require.NoError(t, second.DeserializeCache(ctx, blob, true))

	accounts, err := second.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)

	silent, err := second.AcquireTokenSilent(ctx, []string{"user.read"}, accounts[0])
	require.NoError(t, err)
	assert.True(t, silent.FromCache)
	assert.Equal(t, "at-secret", silent.AccessToken)
}

func TestDeserializeCacheCorruptBlob(t *testing.T) {
	idp := newTestIDP(t)
	idp.tokenFunc = func(w http.ResponseWriter, body url.Values) {
		fmt.Fprint(w, userTokenJSON(body.Get("scope")))
	}

	client, err := New("client-1", idp.authority(),
		WithHTTPClient(idp.server.Client()))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = client.AcquireTokenByUsernamePassword(ctx, []string{"user.read"}, "ada@contoso.example", "hunter2")
	require.NoError(t, err)

	// unreadable persisted state degrades to the current cache, not an error
	require.NoError(t, client.DeserializeCache(ctx, []byte("{not json"), true))

	accounts, err := client.Accounts(ctx)
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}

func TestAuthCodeURL(t *testing.T) {
	idp := newTestIDP(t)

	client, err := New("client-1", idp.authority(),
		WithHTTPClient(idp.server.Client()))
	require.NoError(t, err)

	raw, err := client.AuthCodeURL(context.Background(),
		"https://app.example/callback", "state-1", "challenge-1", []string{"user.read"})
	require.NoError(t, err)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	query := parsed.Query()
	assert.Equal(t, "code", query.Get("response_type"))
	assert.Equal(t, "client-1", query.Get("client_id"))
	assert.Equal(t, "state-1", query.Get("state"))
	assert.Equal(t, "challenge-1", query.Get("code_challenge"))
	assert.Equal(t, "S256", query.Get("code_challenge_method"))
	assert.Contains(t, query.Get("scope"), "user.read")
}

func TestAcquireTokenInteractiveWithoutBroker(t *testing.T) {
	idp := newTestIDP(t)

	client, err := New("client-1", idp.authority(),
		WithHTTPClient(idp.server.Client()))
	require.NoError(t, err)

	_, err = client.AcquireTokenInteractive(context.Background(), []string{"user.read"})
	var unavailable *identerr.BrokerUnavailableError
	assert.ErrorAs(t, err, &unavailable)
}

// fakeBroker serves a canned response for interactive acquisition.
type fakeBroker struct {
	response oauth.TokenResponse
	requests []broker.Request
}

func (f *fakeBroker) IsAvailable() bool { return true }

func (f *fakeBroker) AcquireSilent(ctx context.Context, req broker.Request) (oauth.TokenResponse, error) {
	return oauth.TokenResponse{}, &identerr.BrokerUnavailableError{Operation: "AcquireSilent"}
}

func (f *fakeBroker) AcquireInteractive(ctx context.Context, req broker.Request) (oauth.TokenResponse, error) {
	f.requests = append(f.requests, req)
	return f.response, nil
}

func (f *fakeBroker) RemoveAccount(ctx context.Context, homeAccountID string) error {
	return nil
}

func TestAcquireTokenInteractiveViaBroker(t *testing.T) {
	idp := newTestIDP(t)

	var resp oauth.TokenResponse
	require.NoError(t, json.Unmarshal([]byte(userTokenJSON("user.read")), &resp))
	resp.ReceivedAt = time.Now().UTC()

	brk := &fakeBroker{response: resp}
	client, err := New("client-1", idp.authority(),
		WithHTTPClient(idp.server.Client()),
		WithBroker(brk))
	require.NoError(t, err)

	ctx := context.Background()
	result, err := client.AcquireTokenInteractive(ctx, []string{"user.read"})
	require.NoError(t, err)

	assert.Equal(t, "at-secret", result.AccessToken)
	assert.Equal(t, "uid-1.tenant-1", result.Account.HomeAccountID)
	require.Len(t, brk.requests, 1)
	assert.Equal(t, "client-1", brk.requests[0].ClientID)

	// the broker response landed in the cache: silent acquisition works
	// without consulting the broker again
	silent, err := client.AcquireTokenSilent(ctx, []string{"user.read"}, result.Account)
	require.NoError(t, err)
	assert.True(t, silent.FromCache)
	assert.Equal(t, int64(0), idp.tokenCalls.Load())
}

func TestNewValidation(t *testing.T) {
	_, err := New("", "https://login.example.com/common")
	assert.True(t, identerr.IsValidation(err))

	_, err = New("client-1", "ftp://login.example.com/common")
	assert.True(t, identerr.IsValidation(err))
}
