package request

import (
	"context"
	"net/url"

	"github.com/meridianid/meridian-go/internal/oauth"
	"github.com/meridianid/meridian-go/pkg/identerr"
)

// AuthorizationCode redeems a code produced by an interactive
// authorization flow. Driving the browser or broker that produces the code
// is the host's concern; this grant only performs the redemption.
type AuthorizationCode struct {
	Code        string
	RedirectURI string

	// CodeVerifier is the PKCE verifier matching the challenge sent on
	// the authorization request.
	CodeVerifier string
}

func (AuthorizationCode) Name() string { return "authorization_code" }

func (AuthorizationCode) UsesCache() bool { return false }

func (g AuthorizationCode) Validate(p Parameters) error {
	if g.Code == "" {
		return identerr.NewValidation("code", "an authorization code is required")
	}
	if g.RedirectURI == "" {
		return identerr.NewValidation("redirectURI", "is required to redeem an authorization code")
	}
	return nil
}

func (g AuthorizationCode) Body(p Parameters) (url.Values, error) {
	body := url.Values{}
	body.Set(oauth.ParamGrantType, oauth.GrantAuthorizationCode)
	body.Set(oauth.ParamCode, g.Code)
	body.Set(oauth.ParamRedirectURI, g.RedirectURI)
	if g.CodeVerifier != "" {
		body.Set(oauth.ParamCodeVerifier, g.CodeVerifier)
	}
	return body, nil
}

// AuthCodeURL builds the authorization endpoint URL the host should send
// the user to for an interactive sign-in.
func (p *Pipeline) AuthCodeURL(ctx context.Context, params Parameters, redirectURI, state, codeChallenge string) (string, error) {
	if redirectURI == "" {
		return "", identerr.NewValidation("redirectURI", "is required")
	}

	endpoints, err := p.deps.Resolver.Resolve(ctx, params.Authority)
	if err != nil {
		return "", err
	}

	query := url.Values{}
	query.Set(oauth.ParamClientID, params.ClientID)
	query.Set("response_type", "code")
	query.Set(oauth.ParamRedirectURI, redirectURI)
	query.Set(oauth.ParamScope, params.scopeParam())
	if state != "" {
		query.Set("state", state)
	}
	if codeChallenge != "" {
		query.Set("code_challenge", codeChallenge)
		query.Set("code_challenge_method", "S256")
	}

	return endpoints.AuthorizationEndpoint + "?" + query.Encode(), nil
}
