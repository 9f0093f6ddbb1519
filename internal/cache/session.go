package cache

import (
	"context"
	"strings"
	"time"

	"github.com/meridianid/meridian-go/internal/oauth"
	"github.com/rs/zerolog"
)

// ExpirySkew is subtracted from token lifetimes when judging usability, so
// a token that would expire mid-request is treated as already expired.
const ExpirySkew = 5 * time.Minute

// FociState is the tri-state answer to family membership. Unknown means
// no token response for this client has been cached yet; the pipeline
// resolves it with a speculative family token redemption, not the cache.
type FociState int

const (
	FociUnknown FociState = iota
	FociMember
	FociNotMember
)

// Session is the per-request view of the cache: the only component that
// touches the accessor while a request runs. It answers lookups without
// any network I/O and derives cache items from token responses.
type Session struct {
	accessor Accessor

	clientID      string
	environment   string
	realm         string
	realmAlias    bool
	homeAccountID string

	// userAssertionHash scopes lookups for on-behalf-of requests, so a
	// token cached under a different inbound assertion is never served.
	userAssertionHash string

	requestedScopes []string

	// tokenType/keyID select the authentication scheme partition; empty
	// means bearer.
	tokenType string
	keyID     string

	// extendedExpiry opts in to serving tokens inside the extended
	// (resilience) window. Never enabled by default.
	extendedExpiry bool

	now func() time.Time
}

// SessionConfig carries the request identity a Session answers for.
type SessionConfig struct {
	ClientID    string
	Environment string
	Realm       string

	// RealmAlias marks Realm as a tenantless placeholder (common,
	// organizations, consumers) that saved tokens will not carry: the
	// provider reports the concrete realm back and items are written
	// under that.
	RealmAlias    bool
	HomeAccountID string

	// RequestedScopes are assumed granted when a token response omits the
	// scope field (RFC 6749 §5.1: omitted means identical to requested).
	RequestedScopes []string

	UserAssertionHash string
	TokenType         string
	KeyID             string
	ExtendedExpiry    bool

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewSession creates a session over the accessor for one request.
func NewSession(accessor Accessor, cfg SessionConfig) *Session {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Session{
		accessor:          accessor,
		clientID:          cfg.ClientID,
		environment:       cfg.Environment,
		realm:             cfg.Realm,
		realmAlias:        cfg.RealmAlias,
		homeAccountID:     cfg.HomeAccountID,
		userAssertionHash: cfg.UserAssertionHash,
		requestedScopes:   cfg.RequestedScopes,
		tokenType:         cfg.TokenType,
		keyID:             cfg.KeyID,
		extendedExpiry:    cfg.ExtendedExpiry,
		now:               now,
	}
}

// FindAccessToken returns the newest live access token whose identity
// matches the session and whose granted scopes cover every requested
// scope. Not finding one is a normal outcome, not an error.
func (s *Session) FindAccessToken(ctx context.Context, scopes []string) (AccessToken, bool, error) {
	items, err := s.accessor.AccessTokens(ctx)
	if err != nil {
		return AccessToken{}, false, err
	}

	var best AccessToken
	found := false
	for _, item := range items {
		if !s.accessTokenMatches(item, scopes) {
			continue
		}
		if !found || item.CachedAt.Time().After(best.CachedAt.Time()) {
			best = item
			found = true
		}
	}

	return best, found, nil
}

func (s *Session) accessTokenMatches(item AccessToken, scopes []string) bool {
	if !strings.EqualFold(item.ClientID, s.clientID) ||
		!strings.EqualFold(item.Environment, s.environment) {
		return false
	}

	// assertion-scoped lookups against an alias authority run before the
	// concrete realm is known; the assertion hash partitions those, so the
	// realm written from the provider's response must not exclude them
	if !strings.EqualFold(item.Realm, s.realm) &&
		!(s.realmAlias && s.userAssertionHash != "") {
		return false
	}

	// on-behalf-of lookups run before the home account is known; there the
	// assertion hash is the partition, not the account
	if s.userAssertionHash != "" {
		if item.UserAssertionHash != s.userAssertionHash {
			return false
		}
	} else if !strings.EqualFold(item.HomeAccountID, s.homeAccountID) {
		return false
	}

	wantType := s.tokenType
	if wantType == "" {
		wantType = TokenTypeBearer
	}
	haveType := item.TokenType
	if haveType == "" {
		haveType = TokenTypeBearer
	}
	if !strings.EqualFold(haveType, wantType) || item.KeyID != s.keyID {
		return false
	}

	if !ScopesSatisfiedBy(item.Target, scopes) {
		return false
	}

	return item.Usable(s.now(), ExpirySkew, s.extendedExpiry)
}

// FindRefreshToken returns the refresh token for this exact client,
// environment and account.
func (s *Session) FindRefreshToken(ctx context.Context) (RefreshToken, bool, error) {
	return s.findRefreshToken(ctx, func(item RefreshToken) bool {
		return strings.EqualFold(item.ClientID, s.clientID) && item.FamilyID == ""
	})
}

// FindFamilyRefreshToken returns a refresh token belonging to the given
// family, even when issued to a different client application. Callers
// consult FOCI membership first.
func (s *Session) FindFamilyRefreshToken(ctx context.Context, familyID string) (RefreshToken, bool, error) {
	return s.findRefreshToken(ctx, func(item RefreshToken) bool {
		return item.FamilyID == familyID
	})
}

func (s *Session) findRefreshToken(ctx context.Context, match func(RefreshToken) bool) (RefreshToken, bool, error) {
	items, err := s.accessor.RefreshTokens(ctx)
	if err != nil {
		return RefreshToken{}, false, err
	}

	for _, item := range items {
		if strings.EqualFold(item.Environment, s.environment) &&
			strings.EqualFold(item.HomeAccountID, s.homeAccountID) &&
			match(item) {
			return item, true, nil
		}
	}

	return RefreshToken{}, false, nil
}

// IsAppFociMember answers family membership from cached app metadata.
// Unknown is returned when no metadata for this client has been recorded,
// and triggers a one-time discovery attempt elsewhere in the pipeline.
func (s *Session) IsAppFociMember(ctx context.Context, familyID string) (FociState, error) {
	entries, err := s.accessor.AppMetadataEntries(ctx)
	if err != nil {
		return FociUnknown, err
	}

	for _, entry := range entries {
		if strings.EqualFold(entry.ClientID, s.clientID) &&
			strings.EqualFold(entry.Environment, s.environment) {
			if entry.FamilyID == familyID {
				return FociMember, nil
			}
			return FociNotMember, nil
		}
	}

	return FociUnknown, nil
}

// IDTokenFor returns the cached ID token paired with an access token.
func (s *Session) IDTokenFor(ctx context.Context, at AccessToken) (IDToken, bool, error) {
	items, err := s.accessor.IDTokens(ctx)
	if err != nil {
		return IDToken{}, false, err
	}

	want := IDToken{
		HomeAccountID:  at.HomeAccountID,
		Environment:    at.Environment,
		CredentialType: CredentialTypeIDToken,
		ClientID:       at.ClientID,
		Realm:          at.Realm,
	}.Key()

	for _, item := range items {
		if item.Key() == want {
			return item, true, nil
		}
	}

	return IDToken{}, false, nil
}

// SaveTokenResponse derives cache items from a successful token endpoint
// response, replaces them by key through the accessor, and returns the
// freshly written access and ID token pair so the caller avoids a
// read-after-write.
func (s *Session) SaveTokenResponse(ctx context.Context, resp oauth.TokenResponse) (AccessToken, IDToken, error) {
	clientInfo, err := oauth.DecodeClientInfo(resp.ClientInfo)
	if err != nil {
		return AccessToken{}, IDToken{}, err
	}

	claims, err := oauth.ParseIDTokenClaims(resp.IDToken)
	if err != nil {
		return AccessToken{}, IDToken{}, err
	}

	homeAccountID := clientInfo.HomeAccountID()
	if homeAccountID == "" {
		// app-only flows have no client_info
		homeAccountID = s.homeAccountID
	}

	realm := s.realm
	if claims.TenantID != "" {
		realm = claims.TenantID
	}

	tokenType := resp.TokenType
	if tokenType == "" {
		tokenType = TokenTypeBearer
	}

	now := s.now().UTC()

	target := NormalizeScopes(resp.GrantedScopes())
	if target == "" {
		// an omitted scope field means the request was granted as asked
		target = NormalizeScopes(s.requestedScopes)
	}

	accessToken := AccessToken{
		HomeAccountID:     homeAccountID,
		Environment:       s.environment,
		CredentialType:    CredentialTypeAccessToken,
		ClientID:          s.clientID,
		Realm:             realm,
		Secret:            resp.AccessToken,
		Target:            target,
		CachedAt:          UnixNow(now),
		ExpiresOn:         UnixNow(resp.ExpiresOn()),
		TokenType:         tokenType,
		KeyID:             s.keyID,
		UserAssertionHash: s.userAssertionHash,
	}
	if ext := resp.ExtendedExpiresOn(); !ext.IsZero() {
		accessToken.ExtendedExpiresOn = UnixNow(ext)
		accessToken.ExtExpiresOnCompat = accessToken.ExtendedExpiresOn
	}
	if refreshOn := resp.RefreshOn(); !refreshOn.IsZero() {
		accessToken.RefreshOn = UnixNow(refreshOn)
	}

	if err := s.accessor.SaveAccessToken(ctx, accessToken); err != nil {
		return AccessToken{}, IDToken{}, err
	}

	if resp.RefreshToken != "" {
		refreshToken := RefreshToken{
			HomeAccountID:  homeAccountID,
			Environment:    s.environment,
			CredentialType: CredentialTypeRefreshToken,
			ClientID:       s.clientID,
			Secret:         resp.RefreshToken,
			FamilyID:       resp.FamilyID,
		}
		if err := s.accessor.SaveRefreshToken(ctx, refreshToken); err != nil {
			return AccessToken{}, IDToken{}, err
		}

		// record family membership (or confirmed non-membership) so later
		// silent requests know whether family fallback is worth trying
		metadata := AppMetadata{
			Environment: s.environment,
			ClientID:    s.clientID,
			FamilyID:    resp.FamilyID,
		}
		if err := s.accessor.SaveAppMetadata(ctx, metadata); err != nil {
			return AccessToken{}, IDToken{}, err
		}
	}

	var idToken IDToken
	if resp.IDToken != "" {
		idToken = IDToken{
			HomeAccountID:  homeAccountID,
			Environment:    s.environment,
			CredentialType: CredentialTypeIDToken,
			ClientID:       s.clientID,
			Realm:          realm,
			Secret:         resp.IDToken,
		}
		if err := s.accessor.SaveIDToken(ctx, idToken); err != nil {
			return AccessToken{}, IDToken{}, err
		}
	}

	if homeAccountID != "" && resp.IDToken != "" {
		account := Account{
			HomeAccountID:  homeAccountID,
			Environment:    s.environment,
			Realm:          realm,
			LocalAccountID: claims.ObjectID,
			Username:       claims.Username(),
			Name:           claims.Name,
			ClientInfo:     resp.ClientInfo,
			AuthorityType:  "MSSTS",
		}
		if err := s.accessor.SaveAccount(ctx, account); err != nil {
			return AccessToken{}, IDToken{}, err
		}
	}

	zerolog.Ctx(ctx).Debug().
		Str("realm", realm).
		Bool("refreshToken", resp.RefreshToken != "").
		Bool("familyToken", resp.FamilyID != "").
		Msg("token response saved to cache")

	return accessToken, idToken, nil
}

// RemoveAccount deletes every cache record belonging to the account:
// sign-out.
func (s *Session) RemoveAccount(ctx context.Context, homeAccountID string) error {
	accessTokens, err := s.accessor.AccessTokens(ctx)
	if err != nil {
		return err
	}
	for _, item := range accessTokens {
		if strings.EqualFold(item.HomeAccountID, homeAccountID) {
			if err := s.accessor.DeleteAccessToken(ctx, item.Key()); err != nil {
				return err
			}
		}
	}

	refreshTokens, err := s.accessor.RefreshTokens(ctx)
	if err != nil {
		return err
	}
	for _, item := range refreshTokens {
		if strings.EqualFold(item.HomeAccountID, homeAccountID) {
			if err := s.accessor.DeleteRefreshToken(ctx, item.Key()); err != nil {
				return err
			}
		}
	}

	idTokens, err := s.accessor.IDTokens(ctx)
	if err != nil {
		return err
	}
	for _, item := range idTokens {
		if strings.EqualFold(item.HomeAccountID, homeAccountID) {
			if err := s.accessor.DeleteIDToken(ctx, item.Key()); err != nil {
				return err
			}
		}
	}

	accounts, err := s.accessor.Accounts(ctx)
	if err != nil {
		return err
	}
	for _, item := range accounts {
		if strings.EqualFold(item.HomeAccountID, homeAccountID) {
			if err := s.accessor.DeleteAccount(ctx, item.Key()); err != nil {
				return err
			}
		}
	}

	return nil
}
