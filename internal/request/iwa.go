package request

import (
	"encoding/base64"
	"net/url"

	"github.com/meridianid/meridian-go/internal/oauth"
	"github.com/meridianid/meridian-go/pkg/identerr"
)

// SAMLVersion selects the assertion grant for integrated authentication.
type SAMLVersion int

const (
	SAMLv1 SAMLVersion = iota + 1
	SAMLv2
)

// IntegratedAuth redeems a SAML assertion obtained from the enterprise
// authentication environment for OAuth tokens. The assertion acquisition
// itself happens outside this library.
type IntegratedAuth struct {
	// Assertion is the raw SAML assertion XML.
	Assertion string
	Version   SAMLVersion
}

func (IntegratedAuth) Name() string { return "integrated_auth" }

func (IntegratedAuth) UsesCache() bool { return false }

func (g IntegratedAuth) Validate(p Parameters) error {
	if g.Assertion == "" {
		return identerr.NewValidation("assertion", "a SAML assertion is required")
	}
	if g.Version != SAMLv1 && g.Version != SAMLv2 {
		return identerr.NewValidation("version", "must be SAMLv1 or SAMLv2")
	}
	return nil
}

func (g IntegratedAuth) Body(p Parameters) (url.Values, error) {
	grantType := oauth.GrantSAML1Bearer
	if g.Version == SAMLv2 {
		grantType = oauth.GrantSAML2Bearer
	}

	body := url.Values{}
	body.Set(oauth.ParamGrantType, grantType)
	body.Set(oauth.ParamAssertion, base64.StdEncoding.EncodeToString([]byte(g.Assertion)))
	return body, nil
}
