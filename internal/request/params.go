// Package request orchestrates single token acquisitions: a shared
// lifecycle over authority resolution, cache lookup, grant body
// construction, the throttled token endpoint call, and the cache write.
// Each OAuth2 grant variant supplies only its preconditions and body.
package request

import (
	"strings"

	"github.com/google/uuid"
	"github.com/meridianid/meridian-go/internal/authority"
	"github.com/meridianid/meridian-go/pkg/identerr"
)

// reservedScopes are decorated onto every outgoing request and must never
// be supplied by callers, so cached Target strings stay comparable.
var reservedScopes = []string{"openid", "profile", "offline_access"}

// Parameters is the immutable per-call aggregate threaded through one
// pipeline run. Construct it with NewParameters and do not mutate it
// afterwards.
type Parameters struct {
	ClientID  string
	Authority authority.Info
	Scopes    []string

	// HomeAccountID selects the account for user flows; empty for
	// app-only flows.
	HomeAccountID string

	// Claims is an additional claims challenge forwarded verbatim to the
	// token endpoint. A non-empty challenge also bypasses the access
	// token cache, since cached tokens cannot carry new claims.
	Claims string

	// ExtraQueryParams are appended to the token request body untouched.
	ExtraQueryParams map[string]string

	// ForceRefresh skips the access token cache lookup.
	ForceRefresh bool

	// ExtendedExpiry opts in to serving tokens inside the extended
	// (resilience) window during provider outages.
	ExtendedExpiry bool

	// CorrelationID identifies this call in logs and outgoing headers.
	// Generated when the caller supplies none.
	CorrelationID string
}

// NewParameters validates and completes a parameter set. It fails before
// any I/O when the input is malformed.
func NewParameters(clientID, rawAuthority string, scopes []string) (Parameters, error) {
	if clientID == "" {
		return Parameters{}, identerr.NewValidation("clientID", "is required")
	}

	auth, err := authority.Parse(rawAuthority)
	if err != nil {
		return Parameters{}, err
	}

	for _, scope := range scopes {
		if strings.TrimSpace(scope) == "" {
			return Parameters{}, identerr.NewValidation("scopes", "must not contain empty entries")
		}
		for _, reserved := range reservedScopes {
			if strings.EqualFold(scope, reserved) {
				return Parameters{}, identerr.NewValidation("scopes", "reserved scope "+reserved+" is added automatically and must not be requested")
			}
		}
	}

	return Parameters{
		ClientID:      clientID,
		Authority:     auth,
		Scopes:        scopes,
		CorrelationID: uuid.NewString(),
	}, nil
}

// scopeParam is the wire value for the scope parameter: the requested
// scopes plus the reserved OIDC scopes.
func (p Parameters) scopeParam() string {
	all := make([]string, 0, len(p.Scopes)+len(reservedScopes))
	all = append(all, p.Scopes...)
	all = append(all, reservedScopes...)
	return strings.Join(all, " ")
}
