package request

import (
	"net/url"

	"github.com/meridianid/meridian-go/internal/oauth"
	"github.com/meridianid/meridian-go/pkg/identerr"
)

// ClientCredentials acquires an app-only token using the application's own
// credential. No account is involved; tokens cache under an empty home
// account id.
type ClientCredentials struct{}

func (ClientCredentials) Name() string { return "client_credentials" }

func (ClientCredentials) UsesCache() bool { return true }

func (ClientCredentials) Validate(p Parameters) error {
	if len(p.Scopes) == 0 {
		return identerr.NewValidation("scopes", "at least one scope is required")
	}
	return nil
}

func (ClientCredentials) Body(p Parameters) (url.Values, error) {
	body := url.Values{}
	body.Set(oauth.ParamGrantType, oauth.GrantClientCredentials)
	return body, nil
}
