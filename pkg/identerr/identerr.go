// Package identerr defines the error taxonomy shared by the token
// acquisition pipeline and its callers. Every terminal failure surfaced by
// the library is one of the kinds below, so hosts can distinguish "fix your
// input" from "re-authenticate interactively" from "the cache file is
// corrupt" without string matching.
package identerr

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError reports malformed caller input. It is always returned
// before any cache or network I/O has happened.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid request: %s", e.Message)
	}
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Message)
}

// NewValidation creates a ValidationError for the named input field.
func NewValidation(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// CacheParseError reports that persisted cache bytes could not be decoded.
// The store recovers by treating the cache as empty; the host decides
// whether that is acceptable or fatal.
type CacheParseError struct {
	Format string // "current" or "legacy"
	Err    error
}

func (e *CacheParseError) Error() string {
	return fmt.Sprintf("token cache payload (%s format) could not be parsed: %v", e.Format, e.Err)
}

func (e *CacheParseError) Unwrap() error { return e.Err }

// IsCacheParse reports whether err is (or wraps) a CacheParseError.
func IsCacheParse(err error) bool {
	var c *CacheParseError
	return errors.As(err, &c)
}

// ProtocolError is a structured error returned by the token endpoint, or a
// transport-level failure reaching it. OAuthError/Description carry the
// server's error body verbatim when one was present.
type ProtocolError struct {
	// OAuthError is the server "error" field, e.g. "invalid_grant".
	OAuthError string
	// Description is the server "error_description" field.
	Description string
	// StatusCode is the HTTP status of the response, 0 for transport
	// failures that produced no response.
	StatusCode int
	// CorrelationID identifies the request for log correlation.
	CorrelationID string
	// RetryAfter is the server-supplied backoff, zero when absent.
	RetryAfter time.Duration
	// Err is the underlying transport error, if any.
	Err error
}

func (e *ProtocolError) Error() string {
	switch {
	case e.OAuthError != "":
		return fmt.Sprintf("token endpoint error %q (HTTP %d): %s", e.OAuthError, e.StatusCode, e.Description)
	case e.Err != nil:
		return fmt.Sprintf("token request failed: %v", e.Err)
	default:
		return fmt.Sprintf("token endpoint returned HTTP %d", e.StatusCode)
	}
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// InteractionRequired reports whether the error can only be resolved by
// interactive re-authentication. These errors are never throttled or
// retried silently; the host should start an interactive flow.
func (e *ProtocolError) InteractionRequired() bool {
	switch e.OAuthError {
	case "invalid_grant", "interaction_required", "consent_required", "login_required":
		return true
	}
	return false
}

// Transient reports whether the failure may succeed on a later attempt
// (server errors, throttling responses, transport failures).
func (e *ProtocolError) Transient() bool {
	if e.StatusCode >= 500 || e.StatusCode == 429 {
		return true
	}
	return e.StatusCode == 0 && e.Err != nil
}

// IsInteractionRequired reports whether err is a ProtocolError demanding
// interactive re-authentication.
func IsInteractionRequired(err error) bool {
	var p *ProtocolError
	return errors.As(err, &p) && p.InteractionRequired()
}

// ThrottledError wraps a previously-recorded failure that is being served
// from the throttling cache instead of a live network call.
type ThrottledError struct {
	Err error
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("request suppressed by throttling, original failure: %v", e.Err)
}

func (e *ThrottledError) Unwrap() error { return e.Err }

// IsThrottled reports whether err was served from the throttling cache.
func IsThrottled(err error) bool {
	var t *ThrottledError
	return errors.As(err, &t)
}

// BrokerUnavailableError reports an attempt to use the broker collaborator
// on a platform where none is configured.
type BrokerUnavailableError struct {
	Operation string
}

func (e *BrokerUnavailableError) Error() string {
	return fmt.Sprintf("broker operation %q invoked but no broker is available on this platform", e.Operation)
}
