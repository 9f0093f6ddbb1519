package request

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/meridianid/meridian-go/internal/authority"
	"github.com/meridianid/meridian-go/internal/cache"
	"github.com/meridianid/meridian-go/internal/credential"
	"github.com/meridianid/meridian-go/internal/oauth"
	"github.com/meridianid/meridian-go/internal/oauth/throttle"
	"github.com/meridianid/meridian-go/pkg/identerr"
	"github.com/rs/zerolog"
)

// State names a stage in the acquisition lifecycle. Completed and Failed
// are terminal; Failed is reachable from every stage.
type State int

const (
	Created State = iota
	AuthorityResolved
	CacheChecked
	CacheHit
	TokenRequestSent
	ResponseCached
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case AuthorityResolved:
		return "authority_resolved"
	case CacheChecked:
		return "cache_checked"
	case CacheHit:
		return "cache_hit"
	case TokenRequestSent:
		return "token_request_sent"
	case ResponseCached:
		return "response_cached"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Grant supplies the variant-specific pieces of an acquisition: its
// preconditions and the grant body. Everything else is shared.
type Grant interface {
	// Name identifies the grant in logs.
	Name() string

	// Validate checks grant preconditions. It runs before any cache or
	// network I/O.
	Validate(p Parameters) error

	// Body produces the grant-specific token request parameters. Shared
	// parameters (client_id, scope, client authentication) are added by
	// the pipeline.
	Body(p Parameters) (url.Values, error)

	// UsesCache reports whether a live cached access token satisfies the
	// grant without a network call.
	UsesCache() bool
}

// assertionScoped is implemented by grants whose cached tokens are
// partitioned by an inbound assertion.
type assertionScoped interface {
	AssertionHash() string
}

// Result is a completed acquisition.
type Result struct {
	AccessToken cache.AccessToken
	IDToken     cache.IDToken
	Account     cache.Account

	// FromCache marks results served without a network call.
	FromCache bool
}

// Dependencies are the shared collaborators a pipeline runs against, owned
// by the service bundle and reused across requests.
type Dependencies struct {
	Resolver authority.Resolver
	Client   *oauth.Client
	Throttle *throttle.Manager
	Accessor cache.Accessor

	// Credential authenticates the client application; nil for public
	// clients.
	Credential credential.Credential

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Pipeline executes acquisitions over a fixed set of collaborators. One
// Run per call; the pipeline itself holds no per-request state and is safe
// for concurrent use.
type Pipeline struct {
	deps Dependencies
	now  func() time.Time
}

// New creates a pipeline over the given collaborators.
func New(deps Dependencies) *Pipeline {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Pipeline{deps: deps, now: now}
}

// Run executes the shared lifecycle for one grant.
func (p *Pipeline) Run(ctx context.Context, params Parameters, grant Grant) (Result, error) {
	run := p.newRun(ctx, params, grant.Name())

	if err := grant.Validate(params); err != nil {
		return run.fail(err)
	}

	endpoints, err := run.resolveAuthority(ctx)
	if err != nil {
		return run.fail(err)
	}

	session := p.session(ctx, params, grant)

	if grant.UsesCache() && !params.ForceRefresh && params.Claims == "" {
		result, found, err := run.checkCache(ctx, session)
		if err != nil {
			return run.fail(err)
		}
		if found {
			return result, nil
		}
	} else {
		run.advance(CacheChecked)
	}

	body, err := grant.Body(params)
	if err != nil {
		return run.fail(err)
	}

	return run.sendAndCache(ctx, session, endpoints, body)
}

// run is the per-call state of one lifecycle execution.
type run struct {
	p      *Pipeline
	params Parameters
	state  State
	log    zerolog.Logger
}

func (p *Pipeline) newRun(ctx context.Context, params Parameters, grantName string) *run {
	log := zerolog.Ctx(ctx).With().
		Str("grant", grantName).
		Str("correlationId", params.CorrelationID).
		Logger()

	return &run{p: p, params: params, state: Created, log: log}
}

func (r *run) advance(to State) {
	r.log.Trace().Stringer("from", r.state).Stringer("to", to).Msg("request state transition")
	r.state = to
}

func (r *run) fail(err error) (Result, error) {
	r.advance(Failed)
	if !identerr.IsValidation(err) {
		r.log.Debug().Err(err).Msg("token acquisition failed")
	}
	return Result{}, err
}

func (r *run) resolveAuthority(ctx context.Context) (authority.Endpoints, error) {
	endpoints, err := r.p.deps.Resolver.Resolve(ctx, r.params.Authority)
	if err != nil {
		return authority.Endpoints{}, err
	}
	r.advance(AuthorityResolved)
	return endpoints, nil
}

func (r *run) checkCache(ctx context.Context, session *cache.Session) (Result, bool, error) {
	item, found, err := session.FindAccessToken(ctx, r.params.Scopes)
	r.advance(CacheChecked)
	if err != nil || !found {
		return Result{}, false, err
	}

	idToken, _, err := session.IDTokenFor(ctx, item)
	if err != nil {
		return Result{}, false, err
	}
	account, err := r.p.account(ctx, item.HomeAccountID)
	if err != nil {
		return Result{}, false, err
	}

	r.advance(CacheHit)
	r.advance(Completed)
	r.log.Debug().Str("realm", item.Realm).Msg("token served from cache")

	return Result{
		AccessToken: item,
		IDToken:     idToken,
		Account:     account,
		FromCache:   true,
	}, true, nil
}

// sendAndCache drives the network half of the lifecycle: decorate the
// body, consult the throttle, call the token endpoint, write the response.
func (r *run) sendAndCache(ctx context.Context, session *cache.Session, endpoints authority.Endpoints, body url.Values) (Result, error) {
	if err := r.decorate(body, endpoints.TokenEndpoint); err != nil {
		return r.fail(err)
	}

	thumbprint := throttle.Thumbprint(body, r.params.Authority.CanonicalURL, r.params.HomeAccountID)
	if err := r.p.deps.Throttle.CheckAndRaise(thumbprint); err != nil {
		return r.fail(err)
	}

	r.advance(TokenRequestSent)
	resp, err := r.p.deps.Client.Token(ctx, endpoints.TokenEndpoint, r.params.CorrelationID, body)
	if err != nil {
		r.recordThrottle(thumbprint, err)
		return r.fail(err)
	}

	accessToken, idToken, err := session.SaveTokenResponse(ctx, resp)
	if err != nil {
		return r.fail(err)
	}
	r.advance(ResponseCached)

	account, err := r.p.account(ctx, accessToken.HomeAccountID)
	if err != nil {
		return r.fail(err)
	}

	r.advance(Completed)
	return Result{
		AccessToken: accessToken,
		IDToken:     idToken,
		Account:     account,
	}, nil
}

func (r *run) decorate(body url.Values, tokenEndpoint string) error {
	body.Set(oauth.ParamClientID, r.params.ClientID)
	if body.Get(oauth.ParamScope) == "" {
		body.Set(oauth.ParamScope, r.params.scopeParam())
	}
	body.Set(oauth.ParamClientInfo, "1")

	if r.params.Claims != "" {
		body.Set(oauth.ParamClaims, r.params.Claims)
	}

	for key, value := range r.params.ExtraQueryParams {
		if body.Get(key) == "" {
			body.Set(key, value)
		}
	}

	if r.p.deps.Credential != nil {
		return r.p.deps.Credential.Authenticate(body, tokenEndpoint, r.params.ClientID)
	}
	return nil
}

func (r *run) recordThrottle(thumbprint string, err error) {
	var retryAfter time.Duration
	if perr, ok := err.(*identerr.ProtocolError); ok {
		retryAfter = perr.RetryAfter
	}
	r.p.deps.Throttle.Record(thumbprint, err, retryAfter)
}

// session builds the cache view for this request's identity.
func (p *Pipeline) session(ctx context.Context, params Parameters, grant Grant) *cache.Session {
	cfg := cache.SessionConfig{
		ClientID:        params.ClientID,
		Environment:     params.Authority.Host,
		Realm:           p.lookupRealm(ctx, params),
		RealmAlias:      params.Authority.IsTenantless(),
		HomeAccountID:   params.HomeAccountID,
		RequestedScopes: params.Scopes,
		ExtendedExpiry:  params.ExtendedExpiry,
		Now:             p.now,
	}

	if scoped, ok := grant.(assertionScoped); ok {
		cfg.UserAssertionHash = scoped.AssertionHash()
	}

	return cache.NewSession(p.deps.Accessor, cfg)
}

// lookupRealm maps a tenantless authority to the account's home realm so
// cached tokens written under the concrete tenant are found again.
func (p *Pipeline) lookupRealm(ctx context.Context, params Parameters) string {
	if !params.Authority.IsTenantless() {
		return params.Authority.Tenant
	}
	if params.HomeAccountID == "" {
		return params.Authority.Tenant
	}

	accounts, err := p.deps.Accessor.Accounts(ctx)
	if err != nil {
		return params.Authority.Tenant
	}
	for _, account := range accounts {
		if strings.EqualFold(account.HomeAccountID, params.HomeAccountID) &&
			strings.EqualFold(account.Environment, params.Authority.Host) {
			return account.Realm
		}
	}
	return params.Authority.Tenant
}

func (p *Pipeline) account(ctx context.Context, homeAccountID string) (cache.Account, error) {
	if homeAccountID == "" {
		return cache.Account{}, nil
	}

	accounts, err := p.deps.Accessor.Accounts(ctx)
	if err != nil {
		return cache.Account{}, err
	}
	for _, account := range accounts {
		if strings.EqualFold(account.HomeAccountID, homeAccountID) {
			return account, nil
		}
	}
	return cache.Account{}, nil
}
