package meridian

import (
	"strings"
	"time"

	"github.com/meridianid/meridian-go/internal/cache"
	"github.com/meridianid/meridian-go/internal/oauth"
	"github.com/meridianid/meridian-go/internal/request"
)

// AuthResult is a completed token acquisition.
type AuthResult struct {
	// AccessToken is the credential to present to the resource server.
	AccessToken string

	// TokenType is the authentication scheme, normally "Bearer".
	TokenType string

	// ExpiresOn is the access token's absolute UTC expiry.
	ExpiresOn time.Time

	// GrantedScopes are the scopes the provider actually granted, which
	// may differ from the scopes requested.
	GrantedScopes []string

	// IDToken is the raw OIDC ID token, empty for app-only flows. It
	// carries identity claims and is never presented to resource servers.
	IDToken string

	// Account identifies the signed-in user; zero for app-only flows.
	Account Account

	// FromCache marks results served without a network call.
	FromCache bool
}

// Account is a signed-in user known to the token cache.
type Account struct {
	// HomeAccountID is the stable per-user identifier, the handle for
	// silent acquisition and sign-out.
	HomeAccountID string

	// Username is the displayable account name (UPN or preferred
	// username).
	Username string

	// Environment is the identity provider host the account came from.
	Environment string

	// Realm is the tenant the account belongs to.
	Realm string

	Name           string
	LocalAccountID string
}

// DeviceCode is the user-facing half of a device authorization flow.
type DeviceCode struct {
	// UserCode is the short code the user types at the verification URL.
	UserCode string

	// VerificationURL is where the user completes sign-in.
	VerificationURL string

	// Message is the provider's ready-to-display instruction text.
	Message string

	// ExpiresAt is when the code stops being redeemable.
	ExpiresAt time.Time
}

func resultFrom(r request.Result) AuthResult {
	return AuthResult{
		AccessToken:   r.AccessToken.Secret,
		TokenType:     r.AccessToken.TokenType,
		ExpiresOn:     r.AccessToken.ExpiresOn.Time(),
		GrantedScopes: strings.Fields(r.AccessToken.Target),
		IDToken:       r.IDToken.Secret,
		Account:       accountFrom(r.Account),
		FromCache:     r.FromCache,
	}
}

func accountFrom(a cache.Account) Account {
	return Account{
		HomeAccountID:  a.HomeAccountID,
		Username:       a.Username,
		Environment:    a.Environment,
		Realm:          a.Realm,
		Name:           a.Name,
		LocalAccountID: a.LocalAccountID,
	}
}

func deviceCodeFrom(d oauth.DeviceCodeResult, now time.Time) DeviceCode {
	return DeviceCode{
		UserCode:        d.UserCode,
		VerificationURL: d.VerificationURL,
		Message:         d.Message,
		ExpiresAt:       now.Add(time.Duration(d.ExpiresIn) * time.Second),
	}
}
