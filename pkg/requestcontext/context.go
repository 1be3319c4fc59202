// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// Values are set by middleware (or tests) and consumed by services. Keeping
// this package free of net/http lets services import only what they need.
//
// Usage in services (read values):
//
//	actor := requestcontext.ActorID(ctx)
//	requestID := requestcontext.RequestID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Context key types (unexported for encapsulation).
type (
	actorIDKey        struct{}
	requestIDKey      struct{}
	requestTimeKey    struct{}
	idempotencyKeyKey struct{}
)

// Exported context keys for tests that need raw context.WithValue.
var (
	ContextKeyActorID        = actorIDKey{}
	ContextKeyRequestID      = requestIDKey{}
	ContextKeyRequestTime    = requestTimeKey{}
	ContextKeyIdempotencyKey = idempotencyKeyKey{}
)

// ActorID retrieves the authenticated caller identity (a signatory id or the
// product backend's service account) from the context. Empty when unset.
func ActorID(ctx context.Context) string {
	if v, ok := ctx.Value(ContextKeyActorID).(string); ok {
		return v
	}
	return ""
}

// WithActorID injects a caller identity into the context.
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, ContextKeyActorID, actorID)
}

// RequestID retrieves the request correlation ID from the context.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return v
	}
	return ""
}

// Nonce returns the request correlation ID when middleware assigned one, and
// a fresh unique value otherwise. Idempotency keys that must differ per call
// derive from it; without the fallback, two calls made outside the HTTP
// middleware would collide on the empty string and the second would silently
// replay the first's ledger receipt.
func Nonce(ctx context.Context) string {
	if rid := RequestID(ctx); rid != "" {
		return rid
	}
	return uuid.NewString()
}

// WithRequestID injects a request correlation ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// IdempotencyKey retrieves the caller-supplied envelope idempotency key.
func IdempotencyKey(ctx context.Context) string {
	if v, ok := ctx.Value(ContextKeyIdempotencyKey).(string); ok {
		return v
	}
	return ""
}

// WithIdempotencyKey injects the envelope idempotency key into the context.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ContextKeyIdempotencyKey, key)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (workers, CLI, tests that don't care).
//
// The escrow sweeper and proposal-expiry tests rely on this as a virtual
// clock: inject a time with WithTime and every deadline check observes it.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
// Useful for:
//   - Service unit tests that don't run the full HTTP middleware chain
//   - The expiry sweeper, which needs one consistent time per pass
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
