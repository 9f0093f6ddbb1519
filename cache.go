package meridian

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/meridianid/meridian-go/pkg/identerr"
)

// SerializeCache exports the token cache in the current interchange
// format, suitable for persisting between process runs or sharing with
// other clients of the same cache schema.
func (c *Client) SerializeCache(ctx context.Context) ([]byte, error) {
	return c.bundle.Serializer().Serialize(ctx)
}

// DeserializeCache imports a cache previously produced by SerializeCache.
// When clearExisting is true the in-memory cache is replaced; otherwise
// imported records merge over it, imported records winning by key.
//
// A corrupt or unreadable blob is not fatal: the client logs the failure
// and continues with whatever state it had, since the cache is always
// rebuildable from the provider.
func (c *Client) DeserializeCache(ctx context.Context, data []byte, clearExisting bool) error {
	if len(data) == 0 {
		return nil
	}
	err := c.bundle.Serializer().Deserialize(ctx, data, clearExisting)
	return discardParseError(ctx, err)
}

// LoadLegacyCache imports a cache written in the legacy single-list
// format, merging its tokens into the current cache. Like
// DeserializeCache, unreadable input is logged and skipped rather than
// surfaced.
func (c *Client) LoadLegacyCache(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	err := c.bundle.LegacySerializer().Deserialize(ctx, data)
	return discardParseError(ctx, err)
}

// discardParseError absorbs cache-parse failures: the cache is always
// rebuildable from the provider, so unreadable persisted state degrades to
// a cold cache instead of a startup failure. Store errors still surface.
func discardParseError(ctx context.Context, err error) error {
	var parseErr *identerr.CacheParseError
	if errors.As(err, &parseErr) {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("token cache unreadable, continuing with current state")
		return nil
	}
	return err
}
