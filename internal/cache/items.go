// Package cache implements the token cache: the item model and composite
// keys, the key-addressed accessor, the on-disk serializers, and the
// per-request session manager that is the pipeline's only route to stored
// tokens.
package cache

import (
	"slices"
	"strconv"
	"strings"
	"time"
)

// Credential type discriminators, part of the on-disk contract.
const (
	CredentialTypeAccessToken  = "AccessToken"
	CredentialTypeRefreshToken = "RefreshToken"
	CredentialTypeIDToken      = "IdToken"
)

// TokenTypeBearer is the default token type for access tokens without a
// binding key.
const TokenTypeBearer = "Bearer"

const keyDelimiter = "-"

// UnixString is a unix-seconds instant stored as a decimal string, the
// representation shared with other writers of the cache file.
type UnixString string

// UnixNow converts t to the on-disk representation.
func UnixNow(t time.Time) UnixString {
	return UnixString(strconv.FormatInt(t.UTC().Unix(), 10))
}

// Time converts the on-disk representation back to a UTC instant. Absent
// or malformed values yield the zero time, which always compares as
// expired.
func (u UnixString) Time() time.Time {
	seconds, err := strconv.ParseInt(string(u), 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(seconds, 0).UTC()
}

// NormalizeScopes lowercases, sorts and joins a scope set into the single
// normalized string stored as an access token's target. Order of the input
// never affects the result.
func NormalizeScopes(scopes []string) string {
	normalized := make([]string, 0, len(scopes))
	for _, s := range scopes {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			normalized = append(normalized, s)
		}
	}
	// sort for deterministic keys; duplicates collapse
	slices.Sort(normalized)
	normalized = slices.Compact(normalized)
	return strings.Join(normalized, " ")
}

// ScopesSatisfiedBy reports whether every requested scope is contained in
// the cached target string, case-insensitively. An empty request is
// trivially satisfied.
func ScopesSatisfiedBy(target string, requested []string) bool {
	have := map[string]bool{}
	for _, s := range strings.Fields(strings.ToLower(target)) {
		have[s] = true
	}
	for _, s := range requested {
		if !have[strings.ToLower(strings.TrimSpace(s))] {
			return false
		}
	}
	return true
}

func buildKey(parts ...string) string {
	return strings.ToLower(strings.Join(parts, keyDelimiter))
}

// AccessToken is a cached access token record. Field names and their JSON
// tags are part of the external cache format and must not change.
type AccessToken struct {
	HomeAccountID     string     `json:"home_account_id,omitempty"`
	Environment       string     `json:"environment,omitempty"`
	CredentialType    string     `json:"credential_type,omitempty"`
	ClientID          string     `json:"client_id,omitempty"`
	Realm             string     `json:"realm,omitempty"`
	Secret            string     `json:"secret,omitempty"`
	Target            string     `json:"target,omitempty"`
	CachedAt          UnixString `json:"cached_at,omitempty"`
	ExpiresOn         UnixString `json:"expires_on,omitempty"`
	ExtendedExpiresOn UnixString `json:"extended_expires_on,omitempty"`
	// ExtExpiresOnCompat duplicates ExtendedExpiresOn under the key older
	// writers used. Populated on write, consulted on read when the
	// canonical key is absent.
	ExtExpiresOnCompat UnixString `json:"ext_expires_on,omitempty"`
	RefreshOn          UnixString `json:"refresh_on,omitempty"`
	TokenType          string     `json:"token_type,omitempty"`
	KeyID              string     `json:"key_id,omitempty"`
	UserAssertionHash  string     `json:"user_assertion_hash,omitempty"`
}

// Key returns the composite cache key. Two access tokens with equal keys
// are the same logical record.
func (a AccessToken) Key() string {
	key := buildKey(a.HomeAccountID, a.Environment, a.CredentialType, a.ClientID, a.Realm, a.Target)
	// binding key and non-bearer scheme participate in identity so a PoP
	// token never overwrites a bearer token for the same scopes
	if a.TokenType != "" && !strings.EqualFold(a.TokenType, TokenTypeBearer) {
		key = buildKey(key, a.TokenType, a.KeyID)
	}
	return key
}

// Usable reports whether the token is live at the given instant, treating
// tokens within expirySkew of their expiry as already expired. The
// extended window is only honored when extendedExpiry opt-in is set.
func (a AccessToken) Usable(now time.Time, expirySkew time.Duration, extendedExpiry bool) bool {
	cutoff := now.Add(expirySkew)
	if cutoff.Before(a.ExpiresOn.Time()) {
		return true
	}
	if extendedExpiry {
		ext := a.ExtendedExpiresOn.Time()
		if ext.IsZero() {
			ext = a.ExtExpiresOnCompat.Time()
		}
		return cutoff.Before(ext)
	}
	return false
}

// RefreshToken is a cached refresh token record.
type RefreshToken struct {
	HomeAccountID  string `json:"home_account_id,omitempty"`
	Environment    string `json:"environment,omitempty"`
	CredentialType string `json:"credential_type,omitempty"`
	ClientID       string `json:"client_id,omitempty"`
	Secret         string `json:"secret,omitempty"`
	// FamilyID marks a family refresh token usable by every client in the
	// family. Empty for single-application tokens.
	FamilyID string `json:"family_id,omitempty"`
}

// Key returns the composite cache key. Family tokens are keyed by family
// rather than client so one record serves the whole family.
func (r RefreshToken) Key() string {
	clientPart := r.ClientID
	if r.FamilyID != "" {
		clientPart = r.FamilyID
	}
	return buildKey(r.HomeAccountID, r.Environment, r.CredentialType, clientPart, "", "")
}

// IDToken is a cached raw ID token, kept per realm to materialize account
// claims. Never presented to resource servers.
type IDToken struct {
	HomeAccountID  string `json:"home_account_id,omitempty"`
	Environment    string `json:"environment,omitempty"`
	CredentialType string `json:"credential_type,omitempty"`
	ClientID       string `json:"client_id,omitempty"`
	Realm          string `json:"realm,omitempty"`
	Secret         string `json:"secret,omitempty"`
}

func (i IDToken) Key() string {
	return buildKey(i.HomeAccountID, i.Environment, i.CredentialType, i.ClientID, i.Realm, "")
}

// Account aggregates the identifiers for a signed-in user. Accounts are
// derived data: the ground truth is the token records they are computed
// from.
type Account struct {
	HomeAccountID  string `json:"home_account_id,omitempty"`
	Environment    string `json:"environment,omitempty"`
	Realm          string `json:"realm,omitempty"`
	LocalAccountID string `json:"local_account_id,omitempty"`
	Username       string `json:"username,omitempty"`
	AuthorityType  string `json:"authority_type,omitempty"`
	Name           string `json:"name,omitempty"`
	ClientInfo     string `json:"client_info,omitempty"`
}

func (a Account) Key() string {
	return buildKey(a.HomeAccountID, a.Environment, a.Realm)
}

// AppMetadata records per-client provider metadata, currently the family
// membership used for cross-application refresh token fallback.
type AppMetadata struct {
	Environment string `json:"environment,omitempty"`
	ClientID    string `json:"client_id,omitempty"`
	FamilyID    string `json:"family_id,omitempty"`
}

func (m AppMetadata) Key() string {
	return buildKey("appmetadata", m.Environment, m.ClientID)
}
