package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/meridianid/meridian-go/internal/transport"
	"github.com/meridianid/meridian-go/pkg/identerr"
	"github.com/rs/zerolog"
)

// Standard body parameter names.
const (
	ParamClientID          = "client_id"
	ParamClientSecret      = "client_secret"
	ParamClientAssertion   = "client_assertion"
	ParamClientAssertionT  = "client_assertion_type"
	ParamScope             = "scope"
	ParamGrantType         = "grant_type"
	ParamUsername          = "username"
	ParamPassword          = "password"
	ParamRefreshToken      = "refresh_token"
	ParamAssertion         = "assertion"
	ParamRequestedTokenUse = "requested_token_use"
	ParamDeviceCode        = "device_code"
	ParamCode              = "code"
	ParamRedirectURI       = "redirect_uri"
	ParamCodeVerifier      = "code_verifier"
	ParamClaims            = "claims"
	ParamClientInfo        = "client_info"
)

// Grant type values.
const (
	GrantClientCredentials = "client_credentials"
	GrantPassword          = "password"
	GrantRefreshToken      = "refresh_token"
	GrantAuthorizationCode = "authorization_code"
	GrantDeviceCode        = "urn:ietf:params:oauth:grant-type:device_code"
	GrantJWTBearer         = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	GrantSAML1Bearer       = "urn:ietf:params:oauth:grant-type:saml1_1-bearer"
	GrantSAML2Bearer       = "urn:ietf:params:oauth:grant-type:saml2-bearer"
)

// RequestedTokenUseOnBehalfOf marks a jwt-bearer exchange as on-behalf-of.
const RequestedTokenUseOnBehalfOf = "on_behalf_of"

// ClientAssertionTypeJWT is the assertion type for private_key_jwt client
// authentication.
const ClientAssertionTypeJWT = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// CorrelationIDHeader carries the caller-visible request identifier to the
// provider.
const CorrelationIDHeader = "client-request-id"

// errAuthorizationPending matches the device-code polling "keep waiting"
// protocol errors; not a terminal failure.
const (
	errAuthorizationPending = "authorization_pending"
	errSlowDown             = "slow_down"
)

// errorResponse is the provider's structured error body.
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	CorrelationID    string `json:"correlation_id"`
}

// Client performs calls against a provider's protocol endpoints through
// the transport collaborator. It holds no per-request state.
type Client struct {
	sender transport.Sender
	now    func() time.Time
}

// NewClient creates a protocol client over the given transport.
func NewClient(sender transport.Sender) *Client {
	return &Client{
		sender: sender,
		now:    time.Now,
	}
}

// Token posts the grant body to the token endpoint and decodes the result.
// Failures are returned as *identerr.ProtocolError carrying the structured
// error body; context cancellation is returned untouched.
func (c *Client) Token(ctx context.Context, endpoint, correlationID string, body url.Values) (TokenResponse, error) {
	headers := map[string]string{
		CorrelationIDHeader: correlationID,
	}

	resp, err := c.sender.SendPost(ctx, endpoint, headers, body)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return TokenResponse{}, err
		}
		return TokenResponse{}, &identerr.ProtocolError{
			CorrelationID: correlationID,
			Err:           err,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return TokenResponse{}, c.protocolError(resp, correlationID)
	}

	var tokenResponse TokenResponse
	if err := json.Unmarshal(resp.Body, &tokenResponse); err != nil {
		return TokenResponse{}, &identerr.ProtocolError{
			StatusCode:    resp.StatusCode,
			CorrelationID: correlationID,
			Err:           err,
		}
	}
	tokenResponse.ReceivedAt = c.now().UTC()

	if tokenResponse.AccessToken == "" {
		return TokenResponse{}, &identerr.ProtocolError{
			StatusCode:    resp.StatusCode,
			CorrelationID: correlationID,
			Description:   "token endpoint returned success without an access token",
		}
	}

	zerolog.Ctx(ctx).Debug().
		Str("correlationId", correlationID).
		Int64("expiresIn", tokenResponse.ExpiresIn).
		Bool("refreshToken", tokenResponse.RefreshToken != "").
		Msg("token endpoint call succeeded")

	return tokenResponse, nil
}

// DeviceCode initiates a device authorization flow.
func (c *Client) DeviceCode(ctx context.Context, endpoint, correlationID string, body url.Values) (DeviceCodeResult, error) {
	headers := map[string]string{
		CorrelationIDHeader: correlationID,
	}

	resp, err := c.sender.SendPost(ctx, endpoint, headers, body)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return DeviceCodeResult{}, err
		}
		return DeviceCodeResult{}, &identerr.ProtocolError{
			CorrelationID: correlationID,
			Err:           err,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return DeviceCodeResult{}, c.protocolError(resp, correlationID)
	}

	var result DeviceCodeResult
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return DeviceCodeResult{}, &identerr.ProtocolError{
			StatusCode:    resp.StatusCode,
			CorrelationID: correlationID,
			Err:           err,
		}
	}

	if result.DeviceCode == "" {
		return DeviceCodeResult{}, &identerr.ProtocolError{
			StatusCode:    resp.StatusCode,
			CorrelationID: correlationID,
			Description:   "device authorization response is missing device_code",
		}
	}

	return result, nil
}

// AuthorizationPending reports whether err is a device-code polling status
// meaning "the user hasn't finished yet".
func AuthorizationPending(err error) (slowDown bool, pending bool) {
	var p *identerr.ProtocolError
	if !errors.As(err, &p) {
		return false, false
	}
	switch p.OAuthError {
	case errAuthorizationPending:
		return false, true
	case errSlowDown:
		return true, true
	}
	return false, false
}

func (c *Client) protocolError(resp *transport.Response, correlationID string) *identerr.ProtocolError {
	perr := &identerr.ProtocolError{
		StatusCode:    resp.StatusCode,
		CorrelationID: correlationID,
		RetryAfter:    c.parseRetryAfter(resp.Header.Get("Retry-After")),
	}

	var body errorResponse
	if err := json.Unmarshal(resp.Body, &body); err == nil {
		perr.OAuthError = body.Error
		perr.Description = body.ErrorDescription
		if body.CorrelationID != "" {
			perr.CorrelationID = body.CorrelationID
		}
	} else {
		perr.Description = string(resp.Body)
	}

	return perr
}

// parseRetryAfter accepts both Retry-After forms: delta-seconds and an
// HTTP-date, which is converted to a delta against the current clock.
func (c *Client) parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if delta := at.Sub(c.now()); delta > 0 {
			return delta
		}
	}
	return 0
}
