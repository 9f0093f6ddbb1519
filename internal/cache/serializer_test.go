package cache_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/meridianid/meridian-go/internal/cache"
	"github.com/meridianid/meridian-go/pkg/identerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func populatedAccessor(t *testing.T) *cache.InMemory {
	t.Helper()
	ctx := context.Background()
	accessor := cache.NewInMemory()

	now := time.Now()
	require.NoError(t, accessor.SaveAccessToken(ctx, cache.AccessToken{
		HomeAccountID:  "uid.utid",
		Environment:    "login.example.com",
		CredentialType: cache.CredentialTypeAccessToken,
		ClientID:       "client-1",
		Realm:          "tenant-1",
		Secret:         "at-secret",
		Target:         "mail.read user.read",
		CachedAt:       cache.UnixNow(now),
		ExpiresOn:      cache.UnixNow(now.Add(time.Hour)),
		TokenType:      cache.TokenTypeBearer,
	}))
	require.NoError(t, accessor.SaveRefreshToken(ctx, cache.RefreshToken{
		HomeAccountID:  "uid.utid",
		Environment:    "login.example.com",
		CredentialType: cache.CredentialTypeRefreshToken,
		ClientID:       "client-1",
		Secret:         "rt-secret",
		FamilyID:       "1",
	}))
	require.NoError(t, accessor.SaveIDToken(ctx, cache.IDToken{
		HomeAccountID:  "uid.utid",
		Environment:    "login.example.com",
		CredentialType: cache.CredentialTypeIDToken,
		ClientID:       "client-1",
		Realm:          "tenant-1",
		Secret:         "raw-id-token",
	}))
	require.NoError(t, accessor.SaveAccount(ctx, cache.Account{
		HomeAccountID: "uid.utid",
		Environment:   "login.example.com",
		Realm:         "tenant-1",
		Username:      "user@example.com",
	}))

	return accessor
}

func TestSerializeEnvelopeKeys(t *testing.T) {
	ctx := context.Background()
	serializer := cache.NewSerializer(populatedAccessor(t))

	data, err := serializer.Serialize(ctx)
	require.NoError(t, err)

	var envelope map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &envelope))

	// the four key names are the external on-disk contract
	assert.Contains(t, envelope, "access_tokens")
	assert.Contains(t, envelope, "refresh_tokens")
	assert.Contains(t, envelope, "id_tokens")
	assert.Contains(t, envelope, "accounts")

	// entries are self-describing JSON record strings
	var records []string
	require.NoError(t, json.Unmarshal(envelope["access_tokens"], &records))
	require.Len(t, records, 1)
	var item cache.AccessToken
	require.NoError(t, json.Unmarshal([]byte(records[0]), &item))
	assert.Equal(t, "at-secret", item.Secret)
	assert.Equal(t, cache.CredentialTypeAccessToken, item.CredentialType)
}

func TestDeserializeRoundTrip(t *testing.T) {
	ctx := context.Background()
	source := populatedAccessor(t)

	data, err := cache.NewSerializer(source).Serialize(ctx)
	require.NoError(t, err)

	restored := cache.NewInMemory()
	require.NoError(t, cache.NewSerializer(restored).Deserialize(ctx, data, true))

	wantATs, _ := source.AccessTokens(ctx)
	gotATs, _ := restored.AccessTokens(ctx)
	assert.ElementsMatch(t, wantATs, gotATs)

	wantRTs, _ := source.RefreshTokens(ctx)
	gotRTs, _ := restored.RefreshTokens(ctx)
	assert.ElementsMatch(t, wantRTs, gotRTs)

	wantIDs, _ := source.IDTokens(ctx)
	gotIDs, _ := restored.IDTokens(ctx)
	assert.ElementsMatch(t, wantIDs, gotIDs)

	wantAccounts, _ := source.Accounts(ctx)
	gotAccounts, _ := restored.Accounts(ctx)
	assert.ElementsMatch(t, wantAccounts, gotAccounts)
}

func TestSerializeDeserializeConcurrent(t *testing.T) {
	ctx := context.Background()
	serializer := cache.NewSerializer(populatedAccessor(t))

	data, err := serializer.Serialize(ctx)
	require.NoError(t, err)

	// both paths touch the retained foreign-key state; run them together
	// so the race detector can see any unguarded access
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := serializer.Serialize(ctx)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, serializer.Deserialize(ctx, data, false))
		}()
	}
	wg.Wait()
}

func TestDeserializeIdempotent(t *testing.T) {
	ctx := context.Background()

	data, err := cache.NewSerializer(populatedAccessor(t)).Serialize(ctx)
	require.NoError(t, err)

	accessor := cache.NewInMemory()
	serializer := cache.NewSerializer(accessor)
	require.NoError(t, serializer.Deserialize(ctx, data, true))
	require.NoError(t, serializer.Deserialize(ctx, data, true))

	items, err := accessor.AccessTokens(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestDeserializeClearExisting(t *testing.T) {
	ctx := context.Background()

	data, err := cache.NewSerializer(populatedAccessor(t)).Serialize(ctx)
	require.NoError(t, err)

	accessor := cache.NewInMemory()
	local := cache.AccessToken{
		ClientID:       "other-client",
		Environment:    "login.example.com",
		CredentialType: cache.CredentialTypeAccessToken,
		Target:         "other.scope",
		Secret:         "local",
	}
	require.NoError(t, accessor.SaveAccessToken(ctx, local))

	// merge: local data survives
	require.NoError(t, cache.NewSerializer(accessor).Deserialize(ctx, data, false))
	items, _ := accessor.AccessTokens(ctx)
	assert.Len(t, items, 2)

	// authoritative load: local data is dropped
	require.NoError(t, cache.NewSerializer(accessor).Deserialize(ctx, data, true))
	items, _ = accessor.AccessTokens(ctx)
	require.Len(t, items, 1)
	assert.Equal(t, "at-secret", items[0].Secret)
}

func TestDeserializeMalformedPayload(t *testing.T) {
	ctx := context.Background()
	accessor := populatedAccessor(t)

	err := cache.NewSerializer(accessor).Deserialize(ctx, []byte("{not json"), true)
	assert.True(t, identerr.IsCacheParse(err))

	// a parse failure never leaves a partially-cleared cache
	items, _ := accessor.AccessTokens(ctx)
	assert.Len(t, items, 1)
}

func TestDeserializePreservesUnknownKeys(t *testing.T) {
	ctx := context.Background()

	blob := []byte(`{
		"access_tokens": [],
		"refresh_tokens": [],
		"id_tokens": [],
		"accounts": [],
		"future_extension": {"version": 9}
	}`)

	serializer := cache.NewSerializer(cache.NewInMemory())
	require.NoError(t, serializer.Deserialize(ctx, blob, true))

	out, err := serializer.Serialize(ctx)
	require.NoError(t, err)

	var envelope map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &envelope))
	assert.JSONEq(t, `{"version": 9}`, string(envelope["future_extension"]))
}

func TestReplaceByKey(t *testing.T) {
	ctx := context.Background()
	accessor := cache.NewInMemory()

	first := cache.AccessToken{
		HomeAccountID:  "uid.utid",
		Environment:    "login.example.com",
		CredentialType: cache.CredentialTypeAccessToken,
		ClientID:       "client-1",
		Realm:          "tenant-1",
		Target:         "user.read",
		Secret:         "first",
		ExpiresOn:      cache.UnixNow(time.Now().Add(time.Hour)),
	}
	second := first
	second.Secret = "second"
	second.ExpiresOn = cache.UnixNow(time.Now().Add(2 * time.Hour))

	require.NoError(t, accessor.SaveAccessToken(ctx, first))
	require.NoError(t, accessor.SaveAccessToken(ctx, second))

	items, err := accessor.AccessTokens(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "second", items[0].Secret)
	assert.Equal(t, second.ExpiresOn, items[0].ExpiresOn)
}
