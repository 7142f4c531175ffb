package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DomainRepository defines the persistence contract for domain records.
type DomainRepository interface {
	Create(ctx context.Context, d Domain) error
	GetByID(ctx context.Context, id uuid.UUID) (Domain, error)
	// GetByName looks up a domain by its normalized name. Names are
	// unique across all tenants, case-insensitively.
	GetByName(ctx context.Context, name string) (Domain, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]Domain, error)
	// ListPendingVerification returns custom domains still awaiting
	// proof whose tokens have not expired. Consumed by the sweep job.
	ListPendingVerification(ctx context.Context) ([]Domain, error)
	Update(ctx context.Context, d Domain) error
	Delete(ctx context.Context, id uuid.UUID) error
	// SetPrimary atomically clears the tenant's previous primary flag
	// and sets it on the given domain, in a single transaction.
	SetPrimary(ctx context.Context, tenantID, domainID uuid.UUID) error
}

// TransitionValidator checks verification state transitions.
type TransitionValidator interface {
	// Apply returns the destination status if the event is valid from
	// the current status, or a TransitionError.
	Apply(ctx context.Context, current Status, event Event) (Status, error)
}

// EventPublisher defines the contract for emitting domain lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, event Event, d Domain) error
}

// BindingCache maps normalized domain names to cache entries. Entries
// for unverified or inactive domains must never be stored as resolvable.
type BindingCache interface {
	Get(ctx context.Context, name string) (CacheEntry, bool)
	Set(ctx context.Context, name string, entry CacheEntry, ttl time.Duration)
	Delete(ctx context.Context, name string)
	// DeleteTenant removes all entries bound to the tenant, used on bulk
	// tenant suspension.
	DeleteTenant(ctx context.Context, tenantID uuid.UUID)
	Close() error
}

// TxtResult classifies the outcome of a TXT ownership check.
type TxtResult string

const (
	TxtMatch       TxtResult = "match"
	TxtMismatch    TxtResult = "mismatch"
	TxtNotFound    TxtResult = "not_found"
	TxtLookupError TxtResult = "lookup_error"
)

// TxtCheck is the outcome of a single TXT lookup. Resolver failures are
// values, never faults: this sits on an operator-invoked synchronous path.
type TxtCheck struct {
	Result TxtResult
	Detail string
}

// TxtVerifier performs DNS TXT lookups to prove domain ownership.
// Retries are the caller's responsibility.
type TxtVerifier interface {
	CheckTxt(ctx context.Context, recordName, expected string) TxtCheck
}
