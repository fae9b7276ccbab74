// Package requestcontext provides transport-independent context accessors
// for request-scoped values. Middleware sets them; the command handler and
// services read them. Keeping this package free of net/http lets domain
// code import only what it needs.
//
// Usage in services (read values):
//
//	correlation := requestcontext.CorrelationID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in middleware (set values):
//
//	ctx = requestcontext.WithCorrelationID(ctx, id)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"

	"clinicore/pkg/domain"
)

// Context key types (unexported for encapsulation).
type (
	correlationIDKey struct{}
	deviceIDKey      struct{}
	requestTimeKey   struct{}
)

// CorrelationID retrieves the request-scoped correlation ID, minted by
// transport middleware when the caller did not supply one. Returns the
// zero value if unset.
func CorrelationID(ctx context.Context) domain.CorrelationID {
	if id, ok := ctx.Value(correlationIDKey{}).(domain.CorrelationID); ok {
		return id
	}
	return domain.CorrelationID{}
}

// WithCorrelationID injects a correlation ID into the context.
func WithCorrelationID(ctx context.Context, id domain.CorrelationID) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// DeviceID retrieves the calling device identifier from the context.
func DeviceID(ctx context.Context) string {
	if id, ok := ctx.Value(deviceIDKey{}).(string); ok {
		return id
	}
	return ""
}

// WithDeviceID injects a device identifier into a context. Useful for
// service unit tests that don't run the full middleware chain.
func WithDeviceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, deviceIDKey{}, id)
}

// Now retrieves the request-scoped time from context. Falls back to
// time.Now() when no time was injected with WithTime; the HTTP
// middleware injects only the correlation ID.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context. Useful for tests and
// for workers that need consistent time within a batch.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}
