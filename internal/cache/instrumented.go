package cache

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce     sync.Once
	cacheOperations metric.Int64Counter
	cacheDuration   metric.Float64Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/meridianid/meridian-go/internal/cache")

		var err error
		cacheOperations, err = meter.Int64Counter(
			"tokencache.operations",
			metric.WithDescription("Total token cache operations"),
		)
		if err != nil {
			otel.Handle(err)
		}

		cacheDuration, err = meter.Float64Histogram(
			"tokencache.operation.duration",
			metric.WithDescription("Token cache operation duration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

// Instrumented wraps an Accessor with metrics instrumentation, recording
// operation counts and durations per collection.
type Instrumented struct {
	wrapped Accessor
}

// NewInstrumented creates an instrumented accessor wrapper.
func NewInstrumented(accessor Accessor) *Instrumented {
	initMetrics()
	return &Instrumented{wrapped: accessor}
}

func (i *Instrumented) SaveAccessToken(ctx context.Context, item AccessToken) error {
	return i.record(ctx, "save", "access_token", func() error {
		return i.wrapped.SaveAccessToken(ctx, item)
	})
}

func (i *Instrumented) AccessTokens(ctx context.Context) (items []AccessToken, err error) {
	err = i.record(ctx, "get_all", "access_token", func() error {
		items, err = i.wrapped.AccessTokens(ctx)
		return err
	})
	return items, err
}

func (i *Instrumented) DeleteAccessToken(ctx context.Context, key string) error {
	return i.record(ctx, "delete", "access_token", func() error {
		return i.wrapped.DeleteAccessToken(ctx, key)
	})
}

func (i *Instrumented) SaveRefreshToken(ctx context.Context, item RefreshToken) error {
	return i.record(ctx, "save", "refresh_token", func() error {
		return i.wrapped.SaveRefreshToken(ctx, item)
	})
}

func (i *Instrumented) RefreshTokens(ctx context.Context) (items []RefreshToken, err error) {
	err = i.record(ctx, "get_all", "refresh_token", func() error {
		items, err = i.wrapped.RefreshTokens(ctx)
		return err
	})
	return items, err
}

func (i *Instrumented) DeleteRefreshToken(ctx context.Context, key string) error {
	return i.record(ctx, "delete", "refresh_token", func() error {
		return i.wrapped.DeleteRefreshToken(ctx, key)
	})
}

func (i *Instrumented) SaveIDToken(ctx context.Context, item IDToken) error {
	return i.record(ctx, "save", "id_token", func() error {
		return i.wrapped.SaveIDToken(ctx, item)
	})
}

func (i *Instrumented) IDTokens(ctx context.Context) (items []IDToken, err error) {
	err = i.record(ctx, "get_all", "id_token", func() error {
		items, err = i.wrapped.IDTokens(ctx)
		return err
	})
	return items, err
}

func (i *Instrumented) DeleteIDToken(ctx context.Context, key string) error {
	return i.record(ctx, "delete", "id_token", func() error {
		return i.wrapped.DeleteIDToken(ctx, key)
	})
}

func (i *Instrumented) SaveAccount(ctx context.Context, item Account) error {
	return i.record(ctx, "save", "account", func() error {
		return i.wrapped.SaveAccount(ctx, item)
	})
}

func (i *Instrumented) Accounts(ctx context.Context) (items []Account, err error) {
	err = i.record(ctx, "get_all", "account", func() error {
		items, err = i.wrapped.Accounts(ctx)
		return err
	})
	return items, err
}

func (i *Instrumented) DeleteAccount(ctx context.Context, key string) error {
	return i.record(ctx, "delete", "account", func() error {
		return i.wrapped.DeleteAccount(ctx, key)
	})
}

func (i *Instrumented) SaveAppMetadata(ctx context.Context, item AppMetadata) error {
	return i.record(ctx, "save", "app_metadata", func() error {
		return i.wrapped.SaveAppMetadata(ctx, item)
	})
}

func (i *Instrumented) AppMetadataEntries(ctx context.Context) (items []AppMetadata, err error) {
	err = i.record(ctx, "get_all", "app_metadata", func() error {
		items, err = i.wrapped.AppMetadataEntries(ctx)
		return err
	})
	return items, err
}

func (i *Instrumented) Clear(ctx context.Context) error {
	return i.record(ctx, "clear", "all", func() error {
		return i.wrapped.Clear(ctx)
	})
}

func (i *Instrumented) record(ctx context.Context, operation, collection string, fn func() error) error {
	start := time.Now()
	err := fn()
	duration := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
	}

	attrs := metric.WithAttributes(
		attribute.String("cache.operation", operation),
		attribute.String("cache.collection", collection),
		attribute.String("cache.status", status),
	)
	cacheOperations.Add(ctx, 1, attrs)
	cacheDuration.Record(ctx, duration.Seconds(), attrs)

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(
			attribute.String("cache.operation", operation),
			attribute.String("cache.collection", collection),
			attribute.String("cache.status", status),
		)
	}

	return err
}
