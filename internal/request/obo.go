package request

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"

	"github.com/meridianid/meridian-go/internal/oauth"
	"github.com/meridianid/meridian-go/pkg/identerr"
)

// OnBehalfOf exchanges an inbound user assertion for a token to a
// downstream service, acting as that user. Cached tokens are partitioned
// by the assertion hash so a token obtained for one inbound caller is
// never served for another.
type OnBehalfOf struct {
	// Assertion is the raw inbound access token presented by the caller.
	Assertion string
}

func (OnBehalfOf) Name() string { return "on_behalf_of" }

func (OnBehalfOf) UsesCache() bool { return true }

func (g OnBehalfOf) Validate(p Parameters) error {
	if g.Assertion == "" {
		return identerr.NewValidation("assertion", "is required for on-behalf-of")
	}
	if len(p.Scopes) == 0 {
		return identerr.NewValidation("scopes", "at least one scope is required for on-behalf-of")
	}
	return nil
}

func (g OnBehalfOf) Body(p Parameters) (url.Values, error) {
	body := url.Values{}
	body.Set(oauth.ParamGrantType, oauth.GrantJWTBearer)
	body.Set(oauth.ParamAssertion, g.Assertion)
	body.Set(oauth.ParamRequestedTokenUse, oauth.RequestedTokenUseOnBehalfOf)
	return body, nil
}

func (g OnBehalfOf) AssertionHash() string {
	sum := sha256.Sum256([]byte(g.Assertion))
	return hex.EncodeToString(sum[:])
}
