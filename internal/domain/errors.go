package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for simple conditions without extra context.
var (
	ErrDomainNotFound    = errors.New("domain not found")
	ErrInvalidDomainName = errors.New("invalid domain name")

	// ErrStoreUnavailable signals that the record store could not answer
	// in time. Lookup callers must fail closed on it: denying resolution
	// is always safer than serving a possibly stale tenant binding.
	ErrStoreUnavailable = errors.New("domain record store unavailable")
)

// AlreadyClaimedError is returned when a domain name is already bound to
// a tenant. It deliberately carries no information about who owns it.
type AlreadyClaimedError struct {
	DomainName string
}

func (e *AlreadyClaimedError) Error() string {
	return fmt.Sprintf("domain %q is already in use", e.DomainName)
}

// TokenExpiredError is returned when a verification is attempted with an
// expired token. Distinct from a DNS mismatch so the tenant knows to
// request fresh DNS instructions instead of debugging their records.
type TokenExpiredError struct {
	ExpiredAt time.Time
}

func (e *TokenExpiredError) Error() string {
	return fmt.Sprintf("verification token expired at %s; request new DNS instructions", e.ExpiredAt.UTC().Format(time.RFC3339))
}

// DnsMismatchError is returned when the TXT record exists but does not
// carry the expected token, or no record was published at all. The
// tenant must fix DNS; retrying without a change will not help.
type DnsMismatchError struct {
	RecordName string
	Detail     string
}

func (e *DnsMismatchError) Error() string {
	return fmt.Sprintf("TXT record %s does not prove ownership: %s", e.RecordName, e.Detail)
}

// DnsLookupError is returned when the resolver itself failed. Transient;
// the operator may retry.
type DnsLookupError struct {
	Detail string
}

func (e *DnsLookupError) Error() string {
	return "dns lookup failed: " + e.Detail
}

// PrimaryInvariantError is returned when an operation would violate the
// one-primary-per-tenant invariant, e.g. promoting an unverified domain
// or removing the sole primary.
type PrimaryInvariantError struct {
	Reason string
}

func (e *PrimaryInvariantError) Error() string {
	return "primary domain invariant: " + e.Reason
}

// TransitionError is returned when a verification state transition is
// not allowed.
type TransitionError struct {
	Event   Event
	Current Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("event %q is not valid from state %q", e.Event, e.Current)
}
