package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Binding is the resolved association between a host name and the tenant
// that owns it. It is immutable once attached to a request context.
type Binding struct {
	TenantID   uuid.UUID
	DomainID   uuid.UUID
	DomainName string
	IsPrimary  bool
}

// CacheEntry is an ephemeral projection of a resolvable domain, or a
// short-lived negative marker. It is never authoritative; the record
// store can always re-derive it.
type CacheEntry struct {
	Binding  Binding
	Negative bool
	CachedAt time.Time
}

// bindingKey is a private context key type to prevent collisions.
type bindingKey struct{}

// WithBinding attaches a tenant binding to the context. The middleware
// is the only writer; downstream handlers read the binding through
// BindingFromContext rather than any ambient state.
func WithBinding(ctx context.Context, b Binding) context.Context {
	return context.WithValue(ctx, bindingKey{}, b)
}

// BindingFromContext retrieves the tenant binding from the context.
func BindingFromContext(ctx context.Context) (Binding, bool) {
	b, ok := ctx.Value(bindingKey{}).(Binding)
	return b, ok
}
