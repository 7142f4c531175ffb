package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/b2xlabs/tenantgate/internal/domain"
)

// Invalidator is the slice of the lookup service the verification engine
// needs: synchronous cache invalidation on every state change, applied
// before the operation returns to its caller.
type Invalidator interface {
	Invalidate(ctx context.Context, domainName string)
	InvalidateTenant(ctx context.Context, tenantID uuid.UUID)
}

// DnsInstructions is the payload tenants copy into their DNS console.
// Field values must stay stable across calls for the same token.
type DnsInstructions struct {
	RecordType     string
	RecordName     string
	RecordValue    string
	TokenExpiresAt *time.Time
}

// AddDomainResult is the outcome of registering a domain.
type AddDomainResult struct {
	Domain          domain.Domain
	DnsInstructions *DnsInstructions
}

// VerifyResult reports a verification attempt to the operator.
type VerifyResult struct {
	Success bool
	Status  domain.Status
	Message string
}

// VerificationService owns the domain verification state machine: it
// issues tokens, proves ownership through DNS, and maintains the
// one-primary-per-tenant invariant.
type VerificationService struct {
	repo      domain.DomainRepository
	verifier  domain.TxtVerifier
	validator domain.TransitionValidator
	publisher domain.EventPublisher
	cache     Invalidator

	baseDomain string
	tokenTTL   time.Duration
}

// DefaultTokenTTL bounds how long a verification token stays usable.
const DefaultTokenTTL = 72 * time.Hour

// NewVerificationService creates the engine with the given adapters.
// baseDomain is the platform suffix under which subdomains are issued
// pre-verified (covered by the wildcard certificate).
func NewVerificationService(
	repo domain.DomainRepository,
	verifier domain.TxtVerifier,
	validator domain.TransitionValidator,
	publisher domain.EventPublisher,
	cache Invalidator,
	baseDomain string,
	tokenTTL time.Duration,
) *VerificationService {
	if tokenTTL <= 0 {
		tokenTTL = DefaultTokenTTL
	}
	return &VerificationService{
		repo:       repo,
		verifier:   verifier,
		validator:  validator,
		publisher:  publisher,
		cache:      cache,
		baseDomain: domain.NormalizeName(baseDomain),
		tokenTTL:   tokenTTL,
	}
}

// AddDomain registers a domain for a tenant. Custom domains start
// pending with DNS instructions; platform subdomains are verified on
// creation. A tenant's first domain may become primary without
// verification (bootstrap); additional domains must be verified first.
func (s *VerificationService) AddDomain(ctx context.Context, tenantID uuid.UUID, domainName string, setPrimary bool) (AddDomainResult, error) {
	name := domain.NormalizeName(domainName)
	if !domain.ValidHostname(name) {
		return AddDomainResult{}, fmt.Errorf("%w: %q", domain.ErrInvalidDomainName, domainName)
	}

	// Uniqueness guard. The unique index backs this up under races; the
	// early check gives the common case a clean error without burning an ID.
	if _, err := s.repo.GetByName(ctx, name); err == nil {
		return AddDomainResult{}, &domain.AlreadyClaimedError{DomainName: name}
	} else if !errors.Is(err, domain.ErrDomainNotFound) {
		return AddDomainResult{}, fmt.Errorf("checking domain uniqueness: %w", err)
	}

	existing, err := s.repo.ListByTenant(ctx, tenantID)
	if err != nil {
		return AddDomainResult{}, fmt.Errorf("listing tenant domains: %w", err)
	}

	typ := domain.TypeCustom
	if s.baseDomain != "" && strings.HasSuffix(name, "."+s.baseDomain) {
		typ = domain.TypePrimary
	}

	d := domain.NewDomain(uuid.New(), tenantID, name, typ)
	now := time.Now().UTC()

	if typ == domain.TypePrimary {
		// Platform subdomain: ownership is ours by construction, and the
		// wildcard certificate already covers it.
		d.MarkVerified(now)
		d.SslStatus = domain.SslActive
	} else {
		token, err := newVerificationToken()
		if err != nil {
			return AddDomainResult{}, fmt.Errorf("generating verification token: %w", err)
		}
		expires := now.Add(s.tokenTTL)
		d.VerificationToken = token
		d.VerificationExpiresAt = &expires
	}

	// Bootstrap rule: the tenant's very first domain may become primary
	// unverified, otherwise there would be no domain to serve under at all.
	bootstrap := setPrimary && len(existing) == 0
	if bootstrap {
		d.IsPrimary = true
	} else if setPrimary && !d.Resolvable() {
		return AddDomainResult{}, &domain.PrimaryInvariantError{
			Reason: "only verified, active domains can become primary",
		}
	}

	if err := s.repo.Create(ctx, d); err != nil {
		return AddDomainResult{}, err
	}

	if setPrimary && !bootstrap {
		if err := s.repo.SetPrimary(ctx, tenantID, d.ID); err != nil {
			return AddDomainResult{}, fmt.Errorf("setting primary domain: %w", err)
		}
		d.IsPrimary = true
	}

	// Drops any negative cache entry so the new binding propagates.
	s.cache.Invalidate(ctx, name)

	if err := s.publisher.Publish(ctx, domain.EventDomainAdded, d); err != nil {
		return AddDomainResult{}, fmt.Errorf("publishing domain added event: %w", err)
	}

	return AddDomainResult{Domain: d, DnsInstructions: s.DnsInstructions(d)}, nil
}

// VerifyDomain runs a single ownership check for a domain. It is
// idempotent on already-verified domains and performs no retries of its
// own: every attempt and its outcome stays operator-visible.
func (s *VerificationService) VerifyDomain(ctx context.Context, domainID uuid.UUID) (VerifyResult, error) {
	d, err := s.repo.GetByID(ctx, domainID)
	if err != nil {
		return VerifyResult{}, err
	}

	if d.VerificationStatus == domain.StatusVerified {
		return VerifyResult{Success: true, Status: domain.StatusVerified, Message: "domain is already verified"}, nil
	}

	// A failed domain re-enters pending before the next attempt.
	if d.VerificationStatus == domain.StatusFailed {
		next, err := s.validator.Apply(ctx, d.VerificationStatus, domain.EventRetryVerification)
		if err != nil {
			return VerifyResult{}, err
		}
		d.VerificationStatus = next
	}

	now := time.Now().UTC()

	// Expiry is checked before the DNS lookup so the tenant gets a
	// distinct signal: fix the token, not the DNS record. The token is
	// rotated in place so the next GetDomain shows usable instructions.
	if d.TokenExpired(now) {
		expiredAt := *d.VerificationExpiresAt
		token, err := newVerificationToken()
		if err != nil {
			return VerifyResult{}, fmt.Errorf("rotating verification token: %w", err)
		}
		expires := now.Add(s.tokenTTL)
		d.VerificationToken = token
		d.VerificationExpiresAt = &expires
		return s.concludeFailure(ctx, d, now, (&domain.TokenExpiredError{ExpiredAt: expiredAt}).Error())
	}

	recordName := domain.TxtRecordName(d.DomainName)
	check := s.verifier.CheckTxt(ctx, recordName, d.VerificationToken)

	switch check.Result {
	case domain.TxtMatch:
		return s.concludeSuccess(ctx, d, now)

	case domain.TxtMismatch, domain.TxtNotFound:
		reason := (&domain.DnsMismatchError{RecordName: recordName, Detail: check.Detail}).Error()
		return s.concludeFailure(ctx, d, now, reason)

	default: // domain.TxtLookupError
		reason := (&domain.DnsLookupError{Detail: check.Detail}).Error() + " (transient; retry verification)"
		return s.concludeFailure(ctx, d, now, reason)
	}
}

// RecheckDomain runs one background ownership check for a pending
// domain. Unlike VerifyDomain it never concludes failure: a miss stamps
// the attempt and leaves the domain pending, so the next sweep retries.
// DNS propagation routinely lags the tenant's console change, and a
// single slow resolver must not knock a domain out of the retry pool.
func (s *VerificationService) RecheckDomain(ctx context.Context, domainID uuid.UUID) (VerifyResult, error) {
	d, err := s.repo.GetByID(ctx, domainID)
	if err != nil {
		return VerifyResult{}, err
	}

	if d.VerificationStatus == domain.StatusVerified {
		return VerifyResult{Success: true, Status: domain.StatusVerified, Message: "domain is already verified"}, nil
	}
	if d.VerificationStatus != domain.StatusPending {
		return VerifyResult{Success: false, Status: d.VerificationStatus, Message: "domain is not awaiting verification"}, nil
	}

	now := time.Now().UTC()

	// The sweep pool excludes expired tokens; hitting one here is a race
	// with expiry. The operator path owns rotation.
	if d.TokenExpired(now) {
		return VerifyResult{Success: false, Status: d.VerificationStatus, Message: "verification token expired"}, nil
	}

	check := s.verifier.CheckTxt(ctx, domain.TxtRecordName(d.DomainName), d.VerificationToken)
	if check.Result == domain.TxtMatch {
		return s.concludeSuccess(ctx, d, now)
	}

	d.VerificationAttempts++
	d.LastVerificationCheck = &now
	d.FailureReason = check.Detail
	if err := s.repo.Update(ctx, d); err != nil {
		return VerifyResult{}, fmt.Errorf("updating rechecked domain: %w", err)
	}
	return VerifyResult{Success: false, Status: domain.StatusPending, Message: check.Detail}, nil
}

// concludeSuccess transitions a domain to verified, consumes the token,
// and notifies downstream consumers. Shared by the operator-invoked
// check and the background recheck.
func (s *VerificationService) concludeSuccess(ctx context.Context, d domain.Domain, now time.Time) (VerifyResult, error) {
	next, err := s.validator.Apply(ctx, d.VerificationStatus, domain.EventVerificationPassed)
	if err != nil {
		return VerifyResult{}, err
	}
	d.VerificationStatus = next
	d.MarkVerified(now)
	if err := s.repo.Update(ctx, d); err != nil {
		return VerifyResult{}, fmt.Errorf("updating verified domain: %w", err)
	}
	s.cache.Invalidate(ctx, d.DomainName)
	if err := s.publisher.Publish(ctx, domain.EventVerificationPassed, d); err != nil {
		return VerifyResult{}, fmt.Errorf("publishing verification event: %w", err)
	}
	return VerifyResult{
		Success: true,
		Status:  domain.StatusVerified,
		Message: "domain verified; certificate provisioning started",
	}, nil
}

// concludeFailure transitions a pending domain to failed, persists the
// reason, and invalidates the cache before returning.
func (s *VerificationService) concludeFailure(ctx context.Context, d domain.Domain, now time.Time, reason string) (VerifyResult, error) {
	next, err := s.validator.Apply(ctx, d.VerificationStatus, domain.EventVerificationFailed)
	if err != nil {
		return VerifyResult{}, err
	}
	d.VerificationStatus = next
	d.MarkVerificationFailed(now, reason)

	if err := s.repo.Update(ctx, d); err != nil {
		return VerifyResult{}, fmt.Errorf("updating failed domain: %w", err)
	}
	s.cache.Invalidate(ctx, d.DomainName)
	if err := s.publisher.Publish(ctx, domain.EventVerificationFailed, d); err != nil {
		return VerifyResult{}, fmt.Errorf("publishing verification event: %w", err)
	}
	return VerifyResult{Success: false, Status: domain.StatusFailed, Message: reason}, nil
}

// ReverifyDomain demotes a verified custom domain back to pending with a
// fresh token, forcing the tenant to prove ownership again. Meant for
// operator response to ownership disputes or registrant changes. The
// domain stops resolving until the new proof succeeds.
func (s *VerificationService) ReverifyDomain(ctx context.Context, domainID uuid.UUID) (AddDomainResult, error) {
	d, err := s.repo.GetByID(ctx, domainID)
	if err != nil {
		return AddDomainResult{}, err
	}
	// Platform subdomains never carry an ownership proof; demoting one
	// would strand it with a token nobody can place in DNS.
	if d.Type != domain.TypeCustom {
		return AddDomainResult{}, fmt.Errorf("%w: platform subdomains do not carry ownership proofs", domain.ErrInvalidDomainName)
	}

	next, err := s.validator.Apply(ctx, d.VerificationStatus, domain.EventReverify)
	if err != nil {
		return AddDomainResult{}, err
	}

	now := time.Now().UTC()
	token, err := newVerificationToken()
	if err != nil {
		return AddDomainResult{}, fmt.Errorf("generating verification token: %w", err)
	}
	expires := now.Add(s.tokenTTL)

	d.VerificationStatus = next
	d.VerificationToken = token
	d.VerificationExpiresAt = &expires
	d.VerificationAttempts = 0
	d.FailureReason = ""
	d.VerifiedAt = nil

	if err := s.repo.Update(ctx, d); err != nil {
		return AddDomainResult{}, fmt.Errorf("updating re-verified domain: %w", err)
	}

	// A stale verified entry would keep routing traffic through the
	// re-verification window.
	s.cache.Invalidate(ctx, d.DomainName)

	if err := s.publisher.Publish(ctx, domain.EventReverify, d); err != nil {
		return AddDomainResult{}, fmt.Errorf("publishing reverify event: %w", err)
	}
	return AddDomainResult{Domain: d, DnsInstructions: s.DnsInstructions(d)}, nil
}

// SetPrimaryDomain promotes a verified, active domain to be the tenant's
// primary. The previous primary is cleared atomically in the store.
func (s *VerificationService) SetPrimaryDomain(ctx context.Context, tenantID, domainID uuid.UUID) error {
	d, err := s.repo.GetByID(ctx, domainID)
	if err != nil {
		return err
	}
	// Ownership is checked before any detail leaks to the caller.
	if d.TenantID != tenantID {
		return domain.ErrDomainNotFound
	}
	if !d.Resolvable() {
		return &domain.PrimaryInvariantError{Reason: "only verified, active domains can be primary"}
	}

	siblings, err := s.repo.ListByTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("listing tenant domains: %w", err)
	}

	if err := s.repo.SetPrimary(ctx, tenantID, domainID); err != nil {
		return err
	}

	// Both the new and the former primary binding change shape.
	s.cache.Invalidate(ctx, d.DomainName)
	for _, sib := range siblings {
		if sib.IsPrimary && sib.ID != domainID {
			s.cache.Invalidate(ctx, sib.DomainName)
		}
	}

	d.IsPrimary = true
	if err := s.publisher.Publish(ctx, domain.EventPrimaryChanged, d); err != nil {
		return fmt.Errorf("publishing primary change event: %w", err)
	}
	return nil
}

// RemoveDomain deletes a domain. Removing the tenant's only domain, or a
// primary with no resolvable fallback, requires force (tenant
// decommission). When a fallback exists it is promoted first.
func (s *VerificationService) RemoveDomain(ctx context.Context, tenantID, domainID uuid.UUID, force bool) error {
	d, err := s.repo.GetByID(ctx, domainID)
	if err != nil {
		return err
	}
	if d.TenantID != tenantID {
		return domain.ErrDomainNotFound
	}

	siblings, err := s.repo.ListByTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("listing tenant domains: %w", err)
	}

	if len(siblings) <= 1 && !force {
		return &domain.PrimaryInvariantError{Reason: "cannot remove the tenant's last domain"}
	}

	var promoted string
	if d.IsPrimary && !force {
		fallback, ok := pickFallback(siblings, domainID)
		if !ok {
			return &domain.PrimaryInvariantError{Reason: "no verified, active fallback for the primary domain"}
		}
		if err := s.repo.SetPrimary(ctx, tenantID, fallback.ID); err != nil {
			return fmt.Errorf("promoting fallback domain: %w", err)
		}
		promoted = fallback.DomainName
	}

	if err := s.repo.Delete(ctx, domainID); err != nil {
		return err
	}

	s.cache.Invalidate(ctx, d.DomainName)
	if promoted != "" {
		s.cache.Invalidate(ctx, promoted)
	}

	if err := s.publisher.Publish(ctx, domain.EventDomainRemoved, d); err != nil {
		return fmt.Errorf("publishing domain removed event: %w", err)
	}
	return nil
}

// pickFallback selects the first resolvable sibling to inherit the
// primary flag.
func pickFallback(siblings []domain.Domain, excluding uuid.UUID) (domain.Domain, bool) {
	for _, sib := range siblings {
		if sib.ID != excluding && sib.Resolvable() {
			return sib, true
		}
	}
	return domain.Domain{}, false
}

// GetDomain returns a single domain record.
func (s *VerificationService) GetDomain(ctx context.Context, domainID uuid.UUID) (domain.Domain, error) {
	return s.repo.GetByID(ctx, domainID)
}

// ListDomains returns all domains registered by a tenant.
func (s *VerificationService) ListDomains(ctx context.Context, tenantID uuid.UUID) ([]domain.Domain, error) {
	return s.repo.ListByTenant(ctx, tenantID)
}

// DnsInstructions renders the ownership-proof instructions for a domain,
// or nil when none apply (platform subdomains, verified domains).
func (s *VerificationService) DnsInstructions(d domain.Domain) *DnsInstructions {
	if d.Type != domain.TypeCustom || d.VerificationStatus == domain.StatusVerified || d.VerificationToken == "" {
		return nil
	}
	return &DnsInstructions{
		RecordType:     "TXT",
		RecordName:     domain.TxtRecordName(d.DomainName),
		RecordValue:    d.VerificationToken,
		TokenExpiresAt: d.VerificationExpiresAt,
	}
}
