package domain

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents the verification state of a domain.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusFailed   Status = "failed"
)

// SslStatus tracks certificate provisioning. It is driven externally
// and stored for observability only.
type SslStatus string

const (
	SslNone         SslStatus = "none"
	SslProvisioning SslStatus = "provisioning"
	SslActive       SslStatus = "active"
	SslFailed       SslStatus = "failed"
)

// Type distinguishes platform-issued domains from customer-owned ones.
type Type string

const (
	// TypePrimary is a platform-issued subdomain under the base domain.
	// It is covered by the wildcard certificate and needs no ownership proof.
	TypePrimary Type = "primary"
	// TypeCustom is a customer-owned domain that must pass TXT verification
	// before any traffic resolves under the tenant's identity.
	TypeCustom Type = "custom"
)

// Event represents an action that changes a domain's verification state
// or notifies downstream consumers of a lifecycle change.
type Event string

const (
	EventVerificationPassed Event = "verification_passed"
	EventVerificationFailed Event = "verification_failed"
	EventRetryVerification  Event = "retry_verification"
	EventReverify           Event = "reverify"

	// Lifecycle notifications. These are published but are not part of
	// the verification state machine.
	EventDomainAdded    Event = "domain_added"
	EventDomainRemoved  Event = "domain_removed"
	EventPrimaryChanged Event = "primary_changed"
)

// Transition defines a valid state change: an event moves a domain from Src to Dst.
type Transition struct {
	Event Event
	Src   Status
	Dst   Status
}

// Transitions defines all valid verification state changes.
// This is domain knowledge consumed by the FSM adapter.
var Transitions = []Transition{
	{Event: EventVerificationPassed, Src: StatusPending, Dst: StatusVerified},
	{Event: EventVerificationFailed, Src: StatusPending, Dst: StatusFailed},
	{Event: EventRetryVerification, Src: StatusFailed, Dst: StatusPending},
	{Event: EventReverify, Src: StatusVerified, Dst: StatusPending},
}

// TxtRecordPrefix is the label under which tenants publish their
// ownership proof, e.g. _b2x-verify.shop.example.com.
const TxtRecordPrefix = "_b2x-verify"

// TxtRecordName returns the fully-qualified TXT record name for a domain.
func TxtRecordName(domainName string) string {
	return TxtRecordPrefix + "." + domainName
}

// Domain binds a host name to the tenant that owns it.
type Domain struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	DomainName string
	Type       Type
	IsPrimary  bool
	IsActive   bool

	VerificationStatus    Status
	VerificationToken     string
	VerificationExpiresAt *time.Time
	VerificationAttempts  int
	LastVerificationCheck *time.Time
	FailureReason         string

	SslStatus  SslStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
	VerifiedAt *time.Time
}

// NewDomain creates a domain in the initial "pending" state.
// The name must already be normalized.
func NewDomain(id, tenantID uuid.UUID, name string, typ Type) Domain {
	now := time.Now().UTC()
	return Domain{
		ID:                 id,
		TenantID:           tenantID,
		DomainName:         name,
		Type:               typ,
		IsActive:           true,
		VerificationStatus: StatusPending,
		SslStatus:          SslNone,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// MarkVerified records a successful ownership proof. The token is
// consumed: it is cleared together with its expiry so stale DNS records
// cannot be replayed against a future re-verification.
func (d *Domain) MarkVerified(now time.Time) {
	d.VerificationStatus = StatusVerified
	d.VerifiedAt = &now
	d.LastVerificationCheck = &now
	d.VerificationToken = ""
	d.VerificationExpiresAt = nil
	d.VerificationAttempts = 0
	d.FailureReason = ""
	if d.SslStatus == SslNone {
		d.SslStatus = SslProvisioning
	}
}

// MarkVerificationFailed records a failed proof attempt with a
// human-readable reason the tenant can act on.
func (d *Domain) MarkVerificationFailed(now time.Time, reason string) {
	d.VerificationStatus = StatusFailed
	d.VerificationAttempts++
	d.LastVerificationCheck = &now
	d.FailureReason = reason
}

// TokenExpired reports whether the verification token can no longer be used.
func (d *Domain) TokenExpired(now time.Time) bool {
	return d.VerificationExpiresAt != nil && d.VerificationExpiresAt.Before(now)
}

// Resolvable reports whether traffic may be routed under this domain's
// tenant identity. This is the core security predicate of the system:
// only verified, active domains ever resolve.
func (d *Domain) Resolvable() bool {
	return d.VerificationStatus == StatusVerified && d.IsActive
}

// NormalizeName canonicalizes a host name for lookup and storage:
// lowercase, surrounding whitespace trimmed, trailing dot stripped.
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.TrimSuffix(name, ".")
}

// hostnamePattern enforces RFC 1035 label rules. Rejecting malformed
// hosts up front keeps attacker-controlled Host headers out of cache
// keys and log lines.
var hostnamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)*$`)

// ValidHostname reports whether a normalized name is a well-formed DNS name.
func ValidHostname(name string) bool {
	if name == "" || len(name) > 253 {
		return false
	}
	return hostnamePattern.MatchString(name)
}
