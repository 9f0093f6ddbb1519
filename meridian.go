// Package meridian acquires and caches OAuth2/OIDC tokens from an
// identity provider: silent acquisition from the token cache with
// refresh and family-token fallback, the confidential and public client
// grant flows, and serialization of the cache in current and legacy
// formats.
package meridian

import (
	"context"
	"crypto"
	"crypto/x509"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridianid/meridian-go/internal/broker"
	"github.com/meridianid/meridian-go/internal/bundle"
	"github.com/meridianid/meridian-go/internal/cache"
	"github.com/meridianid/meridian-go/internal/credential"
	"github.com/meridianid/meridian-go/internal/oauth"
	"github.com/meridianid/meridian-go/internal/request"
	"github.com/meridianid/meridian-go/pkg/identerr"
)

// Client is an application instance. It owns the token cache, the
// throttling state and the HTTP transport; create one per application and
// reuse it. All methods are safe for concurrent use.
type Client struct {
	bundle *bundle.Bundle
	broker broker.Broker
}

type clientOptions struct {
	credential credential.Credential
	httpClient *http.Client
	broker     broker.Broker
}

// Option configures a Client.
type Option func(*clientOptions) error

// WithClientSecret makes the client confidential, authenticating with a
// shared secret.
func WithClientSecret(secret string) Option {
	return func(o *clientOptions) error {
		o.credential = credential.Secret(secret)
		return nil
	}
}

// WithCertificate makes the client confidential, authenticating with
// assertions signed by the certificate's private key.
func WithCertificate(cert *x509.Certificate, key crypto.PrivateKey) Option {
	return func(o *clientOptions) error {
		cred, err := credential.NewCertificate(cert, key)
		if err != nil {
			return err
		}
		o.credential = cred
		return nil
	}
}

// WithClientAssertion makes the client confidential using assertions
// signed outside this library (for keys held in an HSM or token service).
func WithClientAssertion(sign func(tokenEndpoint, clientID string) (string, error)) Option {
	return func(o *clientOptions) error {
		o.credential = credential.Assertion(sign)
		return nil
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *clientOptions) error {
		o.httpClient = client
		return nil
	}
}

// WithBroker routes interactive and silent acquisition through a platform
// authentication broker.
func WithBroker(b broker.Broker) Option {
	return func(o *clientOptions) error {
		o.broker = b
		return nil
	}
}

// New creates a Client for the application identified by clientID against
// the given authority (e.g. "https://login.microsoftonline.com/common").
func New(clientID, authority string, opts ...Option) (*Client, error) {
	if clientID == "" {
		return nil, identerr.NewValidation("clientID", "is required")
	}

	var options clientOptions
	for _, opt := range opts {
		if err := opt(&options); err != nil {
			return nil, err
		}
	}

	b, err := bundle.New(bundle.Config{
		ClientID:   clientID,
		Authority:  authority,
		Credential: options.credential,
		HTTPClient: options.httpClient,
	})
	if err != nil {
		return nil, err
	}

	brk := options.broker
	if brk == nil {
		brk = broker.Unavailable{}
	}

	return &Client{bundle: b, broker: brk}, nil
}

type acquireOptions struct {
	authority      string
	claims         string
	extraParams    map[string]string
	forceRefresh   bool
	extendedExpiry bool
}

// AcquireOption adjusts a single acquisition.
type AcquireOption func(*acquireOptions)

// WithAuthority overrides the client's authority for this call.
func WithAuthority(authority string) AcquireOption {
	return func(o *acquireOptions) { o.authority = authority }
}

// WithClaims forwards a claims challenge to the provider. A claims
// challenge always bypasses the access token cache.
func WithClaims(claims string) AcquireOption {
	return func(o *acquireOptions) { o.claims = claims }
}

// WithExtraQueryParameters adds provider-specific parameters to the token
// request.
func WithExtraQueryParameters(params map[string]string) AcquireOption {
	return func(o *acquireOptions) { o.extraParams = params }
}

// WithForceRefresh skips the access token cache for this call.
func WithForceRefresh() AcquireOption {
	return func(o *acquireOptions) { o.forceRefresh = true }
}

// WithExtendedExpiry allows serving a token inside its extended
// (resilience) window during a provider outage. Never on by default.
func WithExtendedExpiry() AcquireOption {
	return func(o *acquireOptions) { o.extendedExpiry = true }
}

func (c *Client) parameters(scopes []string, homeAccountID string, opts []AcquireOption) (request.Parameters, error) {
	var options acquireOptions
	for _, opt := range opts {
		opt(&options)
	}

	params, err := c.bundle.Parameters(options.authority, scopes)
	if err != nil {
		return request.Parameters{}, err
	}

	params.HomeAccountID = homeAccountID
	params.Claims = options.claims
	params.ExtraQueryParams = options.extraParams
	params.ForceRefresh = options.forceRefresh
	params.ExtendedExpiry = options.extendedExpiry
	return params, nil
}

// AcquireTokenSilent returns a token for the account without user
// interaction: from the cache when live, otherwise by redeeming a cached
// refresh token (the application's own, or a family token the application
// is entitled to). An interaction-required error means the host must run
// an interactive flow.
func (c *Client) AcquireTokenSilent(ctx context.Context, scopes []string, account Account, opts ...AcquireOption) (AuthResult, error) {
	params, err := c.parameters(scopes, account.HomeAccountID, opts)
	if err != nil {
		return AuthResult{}, err
	}

	// an available broker holds tokens this process cannot see; try it
	// first and fall back to the local cache and refresh chain
	if c.broker.IsAvailable() {
		resp, err := c.broker.AcquireSilent(ctx, broker.Request{
			ClientID:      params.ClientID,
			Authority:     params.Authority.CanonicalURL,
			Scopes:        params.Scopes,
			HomeAccountID: params.HomeAccountID,
			CorrelationID: params.CorrelationID,
		})
		if err == nil {
			return c.saveBrokerResponse(ctx, params, resp)
		}
		zerolog.Ctx(ctx).Debug().Err(err).Msg("broker silent acquisition failed, using local cache")
	}

	result, err := c.bundle.Pipeline().RunSilent(ctx, params)
	if err != nil {
		return AuthResult{}, err
	}
	return resultFrom(result), nil
}

// AcquireTokenForClient acquires an app-only token with the client's own
// credential (client credentials grant). Requires a confidential client.
func (c *Client) AcquireTokenForClient(ctx context.Context, scopes []string, opts ...AcquireOption) (AuthResult, error) {
	return c.run(ctx, scopes, "", opts, request.ClientCredentials{})
}

// AcquireTokenOnBehalfOf exchanges an inbound user assertion for a token
// to a downstream service, acting as that user.
func (c *Client) AcquireTokenOnBehalfOf(ctx context.Context, userAssertion string, scopes []string, opts ...AcquireOption) (AuthResult, error) {
	return c.run(ctx, scopes, "", opts, request.OnBehalfOf{Assertion: userAssertion})
}

// AcquireTokenByUsernamePassword acquires a token with the resource owner
// password grant. Legacy scenarios only; fails where MFA applies.
func (c *Client) AcquireTokenByUsernamePassword(ctx context.Context, scopes []string, username, password string, opts ...AcquireOption) (AuthResult, error) {
	return c.run(ctx, scopes, "", opts, request.UsernamePassword{Username: username, Password: password})
}

// AcquireTokenByAuthCode redeems an authorization code produced by an
// interactive sign-in. codeVerifier is the PKCE verifier, empty if PKCE
// was not used.
func (c *Client) AcquireTokenByAuthCode(ctx context.Context, code, redirectURI, codeVerifier string, scopes []string, opts ...AcquireOption) (AuthResult, error) {
	grant := request.AuthorizationCode{Code: code, RedirectURI: redirectURI, CodeVerifier: codeVerifier}
	return c.run(ctx, scopes, "", opts, grant)
}

// AcquireTokenByIntegratedAuth redeems a SAML assertion obtained from the
// enterprise authentication environment.
func (c *Client) AcquireTokenByIntegratedAuth(ctx context.Context, samlAssertion string, version SAMLVersion, scopes []string, opts ...AcquireOption) (AuthResult, error) {
	grant := request.IntegratedAuth{Assertion: samlAssertion, Version: request.SAMLVersion(version)}
	return c.run(ctx, scopes, "", opts, grant)
}

// SAMLVersion selects the assertion grant for integrated authentication.
type SAMLVersion = request.SAMLVersion

// SAML assertion versions.
const (
	SAMLv1 = request.SAMLv1
	SAMLv2 = request.SAMLv2
)

// AcquireTokenByDeviceCode runs a device authorization flow. prompt
// receives the user code for display; the call then blocks, polling the
// provider, until the user completes sign-in, the code expires, or ctx is
// canceled.
func (c *Client) AcquireTokenByDeviceCode(ctx context.Context, scopes []string, prompt func(DeviceCode), opts ...AcquireOption) (AuthResult, error) {
	params, err := c.parameters(scopes, "", opts)
	if err != nil {
		return AuthResult{}, err
	}

	var wrapped func(oauth.DeviceCodeResult)
	if prompt != nil {
		wrapped = func(d oauth.DeviceCodeResult) {
			prompt(deviceCodeFrom(d, time.Now().UTC()))
		}
	}

	result, err := c.bundle.Pipeline().RunDeviceCode(ctx, params, wrapped)
	if err != nil {
		return AuthResult{}, err
	}
	return resultFrom(result), nil
}

// AcquireTokenInteractive delegates acquisition to the configured platform
// broker. Without a broker this fails with a broker-unavailable error; use
// AuthCodeURL and AcquireTokenByAuthCode to drive a browser flow directly.
func (c *Client) AcquireTokenInteractive(ctx context.Context, scopes []string, opts ...AcquireOption) (AuthResult, error) {
	params, err := c.parameters(scopes, "", opts)
	if err != nil {
		return AuthResult{}, err
	}

	resp, err := c.broker.AcquireInteractive(ctx, broker.Request{
		ClientID:      params.ClientID,
		Authority:     params.Authority.CanonicalURL,
		Scopes:        params.Scopes,
		CorrelationID: params.CorrelationID,
	})
	if err != nil {
		return AuthResult{}, err
	}

	return c.saveBrokerResponse(ctx, params, resp)
}

// saveBrokerResponse writes a broker-acquired response through the cache
// so later silent calls can use it.
func (c *Client) saveBrokerResponse(ctx context.Context, params request.Parameters, resp oauth.TokenResponse) (AuthResult, error) {
	session := cache.NewSession(c.bundle.Accessor(), cache.SessionConfig{
		ClientID:        params.ClientID,
		Environment:     params.Authority.Host,
		Realm:           params.Authority.Tenant,
		RequestedScopes: params.Scopes,
	})

	accessToken, idToken, err := session.SaveTokenResponse(ctx, resp)
	if err != nil {
		return AuthResult{}, err
	}

	account, err := c.accountByID(ctx, accessToken.HomeAccountID)
	if err != nil {
		return AuthResult{}, err
	}

	return AuthResult{
		AccessToken:   accessToken.Secret,
		TokenType:     accessToken.TokenType,
		ExpiresOn:     accessToken.ExpiresOn.Time(),
		GrantedScopes: strings.Fields(accessToken.Target),
		IDToken:       idToken.Secret,
		Account:       account,
	}, nil
}

// AuthCodeURL builds the authorization URL for a host-driven interactive
// sign-in. codeChallenge is the PKCE S256 challenge, empty to skip PKCE.
func (c *Client) AuthCodeURL(ctx context.Context, redirectURI, state, codeChallenge string, scopes []string, opts ...AcquireOption) (string, error) {
	params, err := c.parameters(scopes, "", opts)
	if err != nil {
		return "", err
	}
	return c.bundle.Pipeline().AuthCodeURL(ctx, params, redirectURI, state, codeChallenge)
}

func (c *Client) run(ctx context.Context, scopes []string, homeAccountID string, opts []AcquireOption, grant request.Grant) (AuthResult, error) {
	params, err := c.parameters(scopes, homeAccountID, opts)
	if err != nil {
		return AuthResult{}, err
	}

	result, err := c.bundle.Pipeline().Run(ctx, params, grant)
	if err != nil {
		return AuthResult{}, err
	}
	return resultFrom(result), nil
}

// Accounts lists the signed-in accounts known to the token cache.
func (c *Client) Accounts(ctx context.Context) ([]Account, error) {
	items, err := c.bundle.Accessor().Accounts(ctx)
	if err != nil {
		return nil, err
	}

	accounts := make([]Account, 0, len(items))
	for _, item := range items {
		accounts = append(accounts, accountFrom(item))
	}
	return accounts, nil
}

// RemoveAccount signs the account out: every cached token and record for
// it is deleted.
func (c *Client) RemoveAccount(ctx context.Context, account Account) error {
	if account.HomeAccountID == "" {
		return identerr.NewValidation("account", "has no home account id")
	}

	if c.broker.IsAvailable() {
		if err := c.broker.RemoveAccount(ctx, account.HomeAccountID); err != nil {
			return err
		}
	}

	session := cache.NewSession(c.bundle.Accessor(), cache.SessionConfig{
		ClientID:    c.bundle.ClientID(),
		Environment: account.Environment,
	})
	return session.RemoveAccount(ctx, account.HomeAccountID)
}

func (c *Client) accountByID(ctx context.Context, homeAccountID string) (Account, error) {
	if homeAccountID == "" {
		return Account{}, nil
	}

	items, err := c.bundle.Accessor().Accounts(ctx)
	if err != nil {
		return Account{}, err
	}
	for _, item := range items {
		if strings.EqualFold(item.HomeAccountID, homeAccountID) {
			return accountFrom(item), nil
		}
	}
	return Account{}, nil
}
