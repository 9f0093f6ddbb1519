package request

import (
	"net/url"

	"github.com/meridianid/meridian-go/internal/oauth"
	"github.com/meridianid/meridian-go/pkg/identerr"
)

// UsernamePassword acquires a token with the resource-owner password
// grant. Only suitable for legacy scenarios without MFA; the provider may
// reject it with an interaction-required error.
type UsernamePassword struct {
	Username string
	Password string
}

func (UsernamePassword) Name() string { return "password" }

func (UsernamePassword) UsesCache() bool { return false }

func (g UsernamePassword) Validate(p Parameters) error {
	if g.Username == "" {
		return identerr.NewValidation("username", "is required")
	}
	if g.Password == "" {
		return identerr.NewValidation("password", "is required")
	}
	return nil
}

func (g UsernamePassword) Body(p Parameters) (url.Values, error) {
	body := url.Values{}
	body.Set(oauth.ParamGrantType, oauth.GrantPassword)
	body.Set(oauth.ParamUsername, g.Username)
	body.Set(oauth.ParamPassword, g.Password)
	return body, nil
}
