package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/meridianid/meridian-go/pkg/identerr"
	"github.com/rs/zerolog"
)

// On-disk envelope keys. Byte-for-byte part of the external contract.
const (
	envelopeAccessTokens  = "access_tokens"
	envelopeRefreshTokens = "refresh_tokens"
	envelopeIDTokens      = "id_tokens"
	envelopeAccounts      = "accounts"
	envelopeAppMetadata   = "app_metadata"
)

// Serializer converts an accessor's contents to and from the current
// on-disk format: a JSON object of array-valued keys, each entry a
// self-describing JSON-encoded record string. Top-level keys written by
// newer producers are preserved across a deserialize/serialize round-trip.
type Serializer struct {
	accessor Accessor

	// mu guards unknown: Serialize and Deserialize may run concurrently.
	mu sync.RWMutex

	// unknown holds foreign top-level keys captured during Deserialize so
	// Serialize can re-emit them.
	unknown map[string]json.RawMessage
}

// NewSerializer creates a serializer over the given accessor.
func NewSerializer(accessor Accessor) *Serializer {
	return &Serializer{accessor: accessor}
}

// Serialize dumps every item into the keyed envelope.
func (s *Serializer) Serialize(ctx context.Context) ([]byte, error) {
	envelope := map[string]json.RawMessage{}
	s.mu.RLock()
	for k, v := range s.unknown {
		envelope[k] = v
	}
	s.mu.RUnlock()

	accessTokens, err := s.accessor.AccessTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading access tokens for serialization: %w", err)
	}
	refreshTokens, err := s.accessor.RefreshTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading refresh tokens for serialization: %w", err)
	}
	idTokens, err := s.accessor.IDTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading ID tokens for serialization: %w", err)
	}
	accounts, err := s.accessor.Accounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading accounts for serialization: %w", err)
	}
	appMetadata, err := s.accessor.AppMetadataEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading app metadata for serialization: %w", err)
	}

	if envelope[envelopeAccessTokens], err = encodeRecords(accessTokens); err != nil {
		return nil, err
	}
	if envelope[envelopeRefreshTokens], err = encodeRecords(refreshTokens); err != nil {
		return nil, err
	}
	if envelope[envelopeIDTokens], err = encodeRecords(idTokens); err != nil {
		return nil, err
	}
	if envelope[envelopeAccounts], err = encodeRecords(accounts); err != nil {
		return nil, err
	}
	if envelope[envelopeAppMetadata], err = encodeRecords(appMetadata); err != nil {
		return nil, err
	}

	return json.Marshal(envelope)
}

// Deserialize loads raw cache bytes into the accessor. With clearExisting
// set the load is authoritative: the store is emptied first. Without it,
// foreign content merges over local records by key. The payload is decoded
// in full before any store mutation, so a malformed payload never leaves a
// partially-cleared cache.
func (s *Serializer) Deserialize(ctx context.Context, data []byte, clearExisting bool) error {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return &identerr.CacheParseError{Format: "current", Err: err}
	}

	accessTokens, err := decodeRecords[AccessToken](envelope, envelopeAccessTokens)
	if err != nil {
		return err
	}
	refreshTokens, err := decodeRecords[RefreshToken](envelope, envelopeRefreshTokens)
	if err != nil {
		return err
	}
	idTokens, err := decodeRecords[IDToken](envelope, envelopeIDTokens)
	if err != nil {
		return err
	}
	accounts, err := decodeRecords[Account](envelope, envelopeAccounts)
	if err != nil {
		return err
	}
	appMetadata, err := decodeRecords[AppMetadata](envelope, envelopeAppMetadata)
	if err != nil {
		return err
	}

	// foreign keys are carried, not dropped, so a round-trip through this
	// process preserves newer writers' data
	unknown := map[string]json.RawMessage{}
	for k, v := range envelope {
		switch k {
		case envelopeAccessTokens, envelopeRefreshTokens, envelopeIDTokens, envelopeAccounts, envelopeAppMetadata:
		default:
			unknown[k] = v
		}
	}
	s.mu.Lock()
	s.unknown = unknown
	s.mu.Unlock()

	if clearExisting {
		if err := s.accessor.Clear(ctx); err != nil {
			return fmt.Errorf("clearing cache before authoritative load: %w", err)
		}
	}

	for _, item := range accessTokens {
		if err := s.accessor.SaveAccessToken(ctx, item); err != nil {
			return err
		}
	}
	for _, item := range refreshTokens {
		if err := s.accessor.SaveRefreshToken(ctx, item); err != nil {
			return err
		}
	}
	for _, item := range idTokens {
		if err := s.accessor.SaveIDToken(ctx, item); err != nil {
			return err
		}
	}
	for _, item := range accounts {
		if err := s.accessor.SaveAccount(ctx, item); err != nil {
			return err
		}
	}
	for _, item := range appMetadata {
		if err := s.accessor.SaveAppMetadata(ctx, item); err != nil {
			return err
		}
	}

	zerolog.Ctx(ctx).Debug().
		Int("accessTokens", len(accessTokens)).
		Int("refreshTokens", len(refreshTokens)).
		Int("idTokens", len(idTokens)).
		Int("accounts", len(accounts)).
		Bool("cleared", clearExisting).
		Msg("token cache deserialized")

	return nil
}

// encodeRecords renders items as an array of per-item JSON record strings.
func encodeRecords[T any](items []T) (json.RawMessage, error) {
	records := make([]string, 0, len(items))
	for _, item := range items {
		blob, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("encoding cache record: %w", err)
		}
		records = append(records, string(blob))
	}
	return json.Marshal(records)
}

func decodeRecords[T any](envelope map[string]json.RawMessage, key string) ([]T, error) {
	raw, ok := envelope[key]
	if !ok {
		return nil, nil
	}

	var records []string
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, &identerr.CacheParseError{Format: "current", Err: fmt.Errorf("%s: %w", key, err)}
	}

	items := make([]T, 0, len(records))
	for _, record := range records {
		var item T
		if err := json.Unmarshal([]byte(record), &item); err != nil {
			return nil, &identerr.CacheParseError{Format: "current", Err: fmt.Errorf("%s record: %w", key, err)}
		}
		items = append(items, item)
	}
	return items, nil
}
