package cache

import (
	"context"
	"sync"
)

// Accessor is the key-addressed store behind the token cache. All
// implementations serialize their own mutations; callers never take
// external locks. Reads return copies, never aliased internal state.
//
// The in-memory accessor is the default; hosts supply alternatives for
// persistent or distributed storage.
type Accessor interface {
	SaveAccessToken(ctx context.Context, item AccessToken) error
	AccessTokens(ctx context.Context) ([]AccessToken, error)
	DeleteAccessToken(ctx context.Context, key string) error

	SaveRefreshToken(ctx context.Context, item RefreshToken) error
	RefreshTokens(ctx context.Context) ([]RefreshToken, error)
	DeleteRefreshToken(ctx context.Context, key string) error

	SaveIDToken(ctx context.Context, item IDToken) error
	IDTokens(ctx context.Context) ([]IDToken, error)
	DeleteIDToken(ctx context.Context, key string) error

	SaveAccount(ctx context.Context, item Account) error
	Accounts(ctx context.Context) ([]Account, error)
	DeleteAccount(ctx context.Context, key string) error

	SaveAppMetadata(ctx context.Context, item AppMetadata) error
	AppMetadataEntries(ctx context.Context) ([]AppMetadata, error)

	Clear(ctx context.Context) error
}

// InMemory is the default accessor: four keyed collections (plus app
// metadata) behind a single RWMutex scoped to this cache instance.
type InMemory struct {
	mu            sync.RWMutex
	accessTokens  map[string]AccessToken
	refreshTokens map[string]RefreshToken
	idTokens      map[string]IDToken
	accounts      map[string]Account
	appMetadata   map[string]AppMetadata
}

// NewInMemory creates an empty in-memory accessor.
func NewInMemory() *InMemory {
	return &InMemory{
		accessTokens:  map[string]AccessToken{},
		refreshTokens: map[string]RefreshToken{},
		idTokens:      map[string]IDToken{},
		accounts:      map[string]Account{},
		appMetadata:   map[string]AppMetadata{},
	}
}

func (m *InMemory) SaveAccessToken(ctx context.Context, item AccessToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accessTokens[item.Key()] = item
	return nil
}

func (m *InMemory) AccessTokens(ctx context.Context) ([]AccessToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return mapValues(m.accessTokens), nil
}

func (m *InMemory) DeleteAccessToken(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accessTokens, key)
	return nil
}

func (m *InMemory) SaveRefreshToken(ctx context.Context, item RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshTokens[item.Key()] = item
	return nil
}

func (m *InMemory) RefreshTokens(ctx context.Context) ([]RefreshToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return mapValues(m.refreshTokens), nil
}

func (m *InMemory) DeleteRefreshToken(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.refreshTokens, key)
	return nil
}

func (m *InMemory) SaveIDToken(ctx context.Context, item IDToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idTokens[item.Key()] = item
	return nil
}

func (m *InMemory) IDTokens(ctx context.Context) ([]IDToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return mapValues(m.idTokens), nil
}

func (m *InMemory) DeleteIDToken(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.idTokens, key)
	return nil
}

func (m *InMemory) SaveAccount(ctx context.Context, item Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[item.Key()] = item
	return nil
}

func (m *InMemory) Accounts(ctx context.Context) ([]Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return mapValues(m.accounts), nil
}

func (m *InMemory) DeleteAccount(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accounts, key)
	return nil
}

func (m *InMemory) SaveAppMetadata(ctx context.Context, item AppMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appMetadata[item.Key()] = item
	return nil
}

func (m *InMemory) AppMetadataEntries(ctx context.Context) ([]AppMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return mapValues(m.appMetadata), nil
}

func (m *InMemory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.accessTokens)
	clear(m.refreshTokens)
	clear(m.idTokens)
	clear(m.accounts)
	clear(m.appMetadata)
	return nil
}

func mapValues[V any](m map[string]V) []V {
	values := make([]V, 0, len(m))
	for _, v := range m {
		values = append(values, v)
	}
	return values
}
