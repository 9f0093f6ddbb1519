// Package oauth implements the wire protocol against the identity
// provider's token endpoint: request construction, response decoding, and
// classification of structured error bodies.
package oauth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// TokenResponse is a decoded success body from the token endpoint.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`

	ExpiresIn    int64 `json:"expires_in"`
	ExtExpiresIn int64 `json:"ext_expires_in"`
	RefreshIn    int64 `json:"refresh_in"`

	// ClientInfo is the raw base64url client_info blob identifying the
	// user/tenant pair.
	ClientInfo string `json:"client_info"`

	// FamilyID is non-empty when the refresh token belongs to a family of
	// client applications ("foci" on the wire).
	FamilyID string `json:"foci"`

	// ReceivedAt anchors the relative expiries; set by the client when the
	// response is decoded.
	ReceivedAt time.Time `json:"-"`
}

// ExpiresOn converts the relative expiry to an absolute UTC instant.
func (t TokenResponse) ExpiresOn() time.Time {
	return t.ReceivedAt.Add(time.Duration(t.ExpiresIn) * time.Second).UTC()
}

// ExtendedExpiresOn converts the extended (resilience) expiry to an
// absolute UTC instant. Zero when the provider sent none.
func (t TokenResponse) ExtendedExpiresOn() time.Time {
	if t.ExtExpiresIn == 0 {
		return time.Time{}
	}
	return t.ReceivedAt.Add(time.Duration(t.ExtExpiresIn) * time.Second).UTC()
}

// RefreshOn is the provider's proactive-refresh hint as an absolute
// instant, zero when absent.
func (t TokenResponse) RefreshOn() time.Time {
	if t.RefreshIn == 0 {
		return time.Time{}
	}
	return t.ReceivedAt.Add(time.Duration(t.RefreshIn) * time.Second).UTC()
}

// GrantedScopes splits the response scope string.
func (t TokenResponse) GrantedScopes() []string {
	return strings.Fields(t.Scope)
}

// ClientInfo identifies a user/tenant pair, decoded from the client_info
// response field.
type ClientInfo struct {
	UID  string `json:"uid"`
	UTID string `json:"utid"`
}

// DecodeClientInfo parses the raw base64url client_info blob. An empty
// blob (app-only flows) yields a zero ClientInfo without error.
func DecodeClientInfo(raw string) (ClientInfo, error) {
	if raw == "" {
		return ClientInfo{}, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "="))
	if err != nil {
		return ClientInfo{}, fmt.Errorf("client_info is not valid base64url: %w", err)
	}

	var info ClientInfo
	if err := json.Unmarshal(decoded, &info); err != nil {
		return ClientInfo{}, fmt.Errorf("client_info is not valid JSON: %w", err)
	}

	return info, nil
}

// HomeAccountID builds the stable per-user identifier used as the cache
// partition key. Empty for app-only responses.
func (c ClientInfo) HomeAccountID() string {
	if c.UID == "" && c.UTID == "" {
		return ""
	}
	return c.UID + "." + c.UTID
}

// IDTokenClaims is the subset of ID token claims the cache needs to
// materialize accounts.
type IDTokenClaims struct {
	jwt.RegisteredClaims

	TenantID          string `json:"tid,omitempty"`
	ObjectID          string `json:"oid,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	Name              string `json:"name,omitempty"`
	UPN               string `json:"upn,omitempty"`
}

// ParseIDTokenClaims extracts claims from a raw ID token without verifying
// the signature. The ID token arrived over the provider's TLS channel in
// direct response to our credential; signature verification belongs to
// resource servers, not the cache.
func ParseIDTokenClaims(raw string) (IDTokenClaims, error) {
	if raw == "" {
		return IDTokenClaims{}, nil
	}

	var claims IDTokenClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, &claims); err != nil {
		return IDTokenClaims{}, fmt.Errorf("ID token could not be parsed: %w", err)
	}

	return claims, nil
}

// Username returns the best displayable identifier the claims carry.
func (c IDTokenClaims) Username() string {
	if c.PreferredUsername != "" {
		return c.PreferredUsername
	}
	return c.UPN
}

// DeviceCodeResult is a decoded device authorization response.
type DeviceCodeResult struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURL string `json:"verification_uri"`
	Message         string `json:"message"`
	ExpiresIn       int64  `json:"expires_in"`
	Interval        int64  `json:"interval"`
}

// PollInterval is the server-directed polling cadence, defaulting to 5s
// when the response carries none.
func (d DeviceCodeResult) PollInterval() time.Duration {
	if d.Interval <= 0 {
		return 5 * time.Second
	}
	return time.Duration(d.Interval) * time.Second
}
