package cache

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/meridianid/meridian-go/pkg/identerr"
	"github.com/rs/zerolog"
)

// legacyEntry is one record of the pre-envelope cache format: a flat JSON
// array of per-authority token rows with its own field names and no
// versioning. Read-only compatibility; this process never writes it.
type legacyEntry struct {
	Authority     string `json:"Authority"`
	ClientID      string `json:"ClientId"`
	UserUniqueID  string `json:"UserUniqueId"`
	DisplayableID string `json:"DisplayableId"`
	AccessToken   string `json:"AccessToken"`
	RefreshToken  string `json:"RefreshToken"`
	IDToken       string `json:"IdToken"`
	Resource      string `json:"Resource"`
	ExpiresOn     int64  `json:"ExpiresOn"`
	FamilyID      string `json:"FamilyId"`
}

// LegacySerializer reads the legacy flat cache schema and translates its
// rows into the current item model. Fields the legacy format does not
// carry are defaulted, never inferred.
type LegacySerializer struct {
	accessor Accessor
}

// NewLegacySerializer creates a legacy-format reader over the accessor.
func NewLegacySerializer(accessor Accessor) *LegacySerializer {
	return &LegacySerializer{accessor: accessor}
}

// Deserialize merges legacy cache bytes into the store. Legacy loads are
// always additive: the old format has no notion of an authoritative
// snapshot.
func (l *LegacySerializer) Deserialize(ctx context.Context, data []byte) error {
	var entries []legacyEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return &identerr.CacheParseError{Format: "legacy", Err: err}
	}

	imported := 0
	for _, entry := range entries {
		environment, realm := splitLegacyAuthority(entry.Authority)

		if entry.RefreshToken != "" {
			rt := RefreshToken{
				HomeAccountID:  entry.UserUniqueID,
				Environment:    environment,
				CredentialType: CredentialTypeRefreshToken,
				ClientID:       entry.ClientID,
				Secret:         entry.RefreshToken,
				FamilyID:       entry.FamilyID,
			}
			if err := l.accessor.SaveRefreshToken(ctx, rt); err != nil {
				return err
			}
			imported++
		}

		if entry.AccessToken != "" {
			at := AccessToken{
				HomeAccountID:  entry.UserUniqueID,
				Environment:    environment,
				CredentialType: CredentialTypeAccessToken,
				ClientID:       entry.ClientID,
				Realm:          realm,
				Secret:         entry.AccessToken,
				Target:         NormalizeScopes(strings.Fields(entry.Resource)),
				ExpiresOn:      formatLegacyExpiry(entry.ExpiresOn),
				TokenType:      TokenTypeBearer,
			}
			if err := l.accessor.SaveAccessToken(ctx, at); err != nil {
				return err
			}
			imported++
		}

		if entry.IDToken != "" {
			idt := IDToken{
				HomeAccountID:  entry.UserUniqueID,
				Environment:    environment,
				CredentialType: CredentialTypeIDToken,
				ClientID:       entry.ClientID,
				Realm:          realm,
				Secret:         entry.IDToken,
			}
			if err := l.accessor.SaveIDToken(ctx, idt); err != nil {
				return err
			}
			imported++
		}

		if entry.UserUniqueID != "" {
			account := Account{
				HomeAccountID: entry.UserUniqueID,
				Environment:   environment,
				Realm:         realm,
				Username:      entry.DisplayableID,
			}
			if err := l.accessor.SaveAccount(ctx, account); err != nil {
				return err
			}
		}
	}

	zerolog.Ctx(ctx).Debug().
		Int("entries", len(entries)).
		Int("imported", imported).
		Msg("legacy token cache imported")

	return nil
}

// splitLegacyAuthority extracts environment and realm from a legacy
// authority URL. Malformed authorities default both rather than failing
// the whole import.
func splitLegacyAuthority(authority string) (environment, realm string) {
	u, err := url.Parse(authority)
	if err != nil || u.Host == "" {
		return "", ""
	}

	segments := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	if len(segments) > 0 {
		realm = segments[0]
	}
	return u.Host, realm
}

func formatLegacyExpiry(expiresOn int64) UnixString {
	if expiresOn <= 0 {
		return ""
	}
	return UnixString(strconv.FormatInt(expiresOn, 10))
}
