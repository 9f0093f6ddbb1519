package cache_test

import (
	"testing"
	"time"

	"github.com/meridianid/meridian-go/internal/cache"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeScopes(t *testing.T) {
	tests := []struct {
		name   string
		scopes []string
		want   string
	}{
		{name: "lowercased and sorted", scopes: []string{"User.Read", "Mail.Read"}, want: "mail.read user.read"},
		{name: "order irrelevant", scopes: []string{"b", "a", "c"}, want: "a b c"},
		{name: "duplicates collapse", scopes: []string{"a", "A", "a"}, want: "a"},
		{name: "whitespace trimmed", scopes: []string{" a ", "", "b"}, want: "a b"},
		{name: "empty input", scopes: nil, want: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, cache.NormalizeScopes(tc.scopes))
		})
	}
}

func TestScopesSatisfiedBy(t *testing.T) {
	target := "user.read mail.read"

	assert.True(t, cache.ScopesSatisfiedBy(target, []string{"Mail.Read"}))
	assert.True(t, cache.ScopesSatisfiedBy(target, []string{"mail.read", "user.read"}))
	assert.False(t, cache.ScopesSatisfiedBy(target, []string{"Mail.Read", "Calendars.Read"}))

	// an empty requested set is trivially satisfied
	assert.True(t, cache.ScopesSatisfiedBy(target, nil))
}

func TestAccessTokenKeyIsCaseInsensitive(t *testing.T) {
	a := cache.AccessToken{
		HomeAccountID:  "UID.utid",
		Environment:    "Login.Example.COM",
		CredentialType: cache.CredentialTypeAccessToken,
		ClientID:       "Client-1",
		Realm:          "Tenant",
		Target:         "user.read",
	}
	b := a
	b.HomeAccountID = "uid.UTID"
	b.Environment = "login.example.com"
	b.ClientID = "client-1"

	assert.Equal(t, a.Key(), b.Key())
}

func TestAccessTokenKeySeparatesTokenTypes(t *testing.T) {
	bearer := cache.AccessToken{
		ClientID:       "c",
		Environment:    "env",
		CredentialType: cache.CredentialTypeAccessToken,
		Target:         "s",
		TokenType:      cache.TokenTypeBearer,
	}
	pop := bearer
	pop.TokenType = "pop"
	pop.KeyID = "kid-1"

	assert.NotEqual(t, bearer.Key(), pop.Key())
}

func TestRefreshTokenFamilyKey(t *testing.T) {
	own := cache.RefreshToken{
		HomeAccountID:  "uid.utid",
		Environment:    "env",
		CredentialType: cache.CredentialTypeRefreshToken,
		ClientID:       "client-a",
	}
	family := own
	family.ClientID = "client-b"
	family.FamilyID = "1"

	// family tokens key by family, not client, so one record serves all
	// family members
	otherFamilyMember := family
	otherFamilyMember.ClientID = "client-c"
	assert.Equal(t, family.Key(), otherFamilyMember.Key())
	assert.NotEqual(t, own.Key(), family.Key())
}

func TestAccessTokenUsable(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	skew := 5 * time.Minute

	fresh := cache.AccessToken{ExpiresOn: cache.UnixNow(now.Add(time.Hour))}
	assert.True(t, fresh.Usable(now, skew, false))

	// inside the skew window counts as expired
	nearExpiry := cache.AccessToken{ExpiresOn: cache.UnixNow(now.Add(2 * time.Minute))}
	assert.False(t, nearExpiry.Usable(now, skew, false))

	expired := cache.AccessToken{
		ExpiresOn:         cache.UnixNow(now.Add(-time.Minute)),
		ExtendedExpiresOn: cache.UnixNow(now.Add(time.Hour)),
	}
	assert.False(t, expired.Usable(now, skew, false), "extended window requires opt-in")
	assert.True(t, expired.Usable(now, skew, true))

	// malformed expiry is always expired
	broken := cache.AccessToken{ExpiresOn: "not-a-number"}
	assert.False(t, broken.Usable(now, skew, false))
}

func TestUnixStringRoundTrip(t *testing.T) {
	now := time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, now, cache.UnixNow(now).Time())
	assert.True(t, cache.UnixString("").Time().IsZero())
}
