package authority

import (
	"context"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/rs/zerolog"
)

// CachedResolver memoizes endpoint resolution per canonical authority URL.
// One instance is owned by the service bundle; there is no process-wide
// discovery cache.
type CachedResolver struct {
	wrapped Resolver
	cache   *otter.Cache[string, Endpoints]
}

// NewCachedResolver wraps a resolver with a TTL'd in-memory cache.
func NewCachedResolver(wrapped Resolver, ttl time.Duration) *CachedResolver {
	cache := otter.Must(&otter.Options[string, Endpoints]{
		MaximumSize:      100,
		ExpiryCalculator: otter.ExpiryCreating[string, Endpoints](ttl),
	})

	return &CachedResolver{
		wrapped: wrapped,
		cache:   cache,
	}
}

func (r *CachedResolver) Resolve(ctx context.Context, auth Info) (Endpoints, error) {
	if entry, ok := r.cache.GetEntry(auth.CanonicalURL); ok {
		return entry.Value, nil
	}

	endpoints, err := r.wrapped.Resolve(ctx, auth)
	if err != nil {
		return Endpoints{}, err
	}

	zerolog.Ctx(ctx).Debug().
		Str("authority", auth.CanonicalURL).
		Str("tokenEndpoint", endpoints.TokenEndpoint).
		Msg("authority endpoints resolved")

	r.cache.Set(auth.CanonicalURL, endpoints)

	return endpoints, nil
}
