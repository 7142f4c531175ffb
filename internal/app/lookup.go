package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/b2xlabs/tenantgate/internal/domain"
)

const meterName = "github.com/b2xlabs/tenantgate/internal/app"

// LookupConfig bounds the resolution hot path.
type LookupConfig struct {
	// TTL is the absolute expiry of positive cache entries. It is the
	// system's cross-instance staleness bound: a missed invalidation
	// message is repaired within at most this window.
	TTL time.Duration
	// NegativeTTL caches misses briefly so verification completion
	// still propagates quickly.
	NegativeTTL time.Duration
	// RevalidateAfter is the entry age past which a cache hit is
	// re-checked against the store before being served.
	RevalidateAfter time.Duration
	// StoreTimeout bounds store I/O on cache misses to protect tail
	// latency.
	StoreTimeout time.Duration
}

func (c *LookupConfig) applyDefaults() {
	if c.TTL <= 0 {
		c.TTL = time.Minute
	}
	if c.NegativeTTL <= 0 {
		c.NegativeTTL = 5 * time.Second
	}
	if c.RevalidateAfter <= 0 {
		c.RevalidateAfter = 30 * time.Second
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 200 * time.Millisecond
	}
}

// LookupService is the read path: it resolves host names to tenant
// bindings, cache first, store second, and never returns a binding for
// an unverified or inactive domain.
type LookupService struct {
	repo   domain.DomainRepository
	cache  domain.BindingCache
	logger *slog.Logger
	cfg    LookupConfig

	cacheHits      metric.Int64Counter
	cacheMisses    metric.Int64Counter
	storeFailures  metric.Int64Counter
	staleEvictions metric.Int64Counter
}

// NewLookupService creates the lookup service. Zero config fields get
// conservative defaults.
func NewLookupService(repo domain.DomainRepository, cache domain.BindingCache, logger *slog.Logger, cfg LookupConfig) (*LookupService, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	meter := otel.Meter(meterName)
	hits, err := meter.Int64Counter("resolve.cache.hits",
		metric.WithDescription("Host resolutions served from cache"))
	if err != nil {
		return nil, fmt.Errorf("creating cache hit counter: %w", err)
	}
	misses, err := meter.Int64Counter("resolve.cache.misses",
		metric.WithDescription("Host resolutions that consulted the store"))
	if err != nil {
		return nil, fmt.Errorf("creating cache miss counter: %w", err)
	}
	storeFailures, err := meter.Int64Counter("resolve.store.failures",
		metric.WithDescription("Resolutions failed closed due to store errors"))
	if err != nil {
		return nil, fmt.Errorf("creating store failure counter: %w", err)
	}
	staleEvictions, err := meter.Int64Counter("resolve.cache.stale_evictions",
		metric.WithDescription("Cache entries evicted because revalidation found a different binding"))
	if err != nil {
		return nil, fmt.Errorf("creating stale eviction counter: %w", err)
	}

	return &LookupService{
		repo:           repo,
		cache:          cache,
		logger:         logger,
		cfg:            cfg,
		cacheHits:      hits,
		cacheMisses:    misses,
		storeFailures:  storeFailures,
		staleEvictions: staleEvictions,
	}, nil
}

// StalenessBound returns the worst-case window during which a peer
// instance may still serve an invalidated binding.
func (s *LookupService) StalenessBound() time.Duration {
	return s.cfg.TTL
}

// Resolve maps a host name to the tenant binding that owns it.
// Returns domain.ErrDomainNotFound for unknown, pending, failed or
// inactive domains and domain.ErrStoreUnavailable when persistence
// cannot answer (fail closed, never a stale allow).
func (s *LookupService) Resolve(ctx context.Context, host string) (domain.Binding, error) {
	name := domain.NormalizeName(host)
	if !domain.ValidHostname(name) {
		return domain.Binding{}, domain.ErrDomainNotFound
	}

	if entry, ok := s.cache.Get(ctx, name); ok {
		if entry.Negative {
			s.cacheHits.Add(ctx, 1)
			return domain.Binding{}, domain.ErrDomainNotFound
		}
		if time.Since(entry.CachedAt) > s.cfg.RevalidateAfter {
			return s.revalidate(ctx, name, entry)
		}
		s.cacheHits.Add(ctx, 1)
		return entry.Binding, nil
	}

	s.cacheMisses.Add(ctx, 1)
	return s.resolveFromStore(ctx, name)
}

// resolveFromStore consults the record store under the lookup timeout
// and populates the cache according to the outcome.
func (s *LookupService) resolveFromStore(ctx context.Context, name string) (domain.Binding, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	d, err := s.repo.GetByName(storeCtx, name)
	switch {
	case errors.Is(err, domain.ErrDomainNotFound):
		s.cacheNegative(ctx, name)
		return domain.Binding{}, domain.ErrDomainNotFound
	case err != nil:
		s.storeFailures.Add(ctx, 1)
		s.logger.ErrorContext(ctx, "domain store lookup failed, resolution denied",
			"domain", name, "error", err)
		return domain.Binding{}, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}

	if !d.Resolvable() {
		// Pending, failed or deactivated domains must never resolve.
		// The negative entry is short so a completed verification
		// becomes visible almost immediately.
		s.cacheNegative(ctx, name)
		return domain.Binding{}, domain.ErrDomainNotFound
	}

	binding := bindingOf(d)
	s.cache.Set(ctx, name, domain.CacheEntry{Binding: binding, CachedAt: time.Now()}, s.cfg.TTL)
	return binding, nil
}

// revalidate re-checks an aged cache entry against the store. A binding
// that moved tenants is a security-relevant event: the entry is evicted
// immediately and the mismatch logged. If the store cannot answer, the
// entry is served as-is; it remains inside the absolute TTL bound.
func (s *LookupService) revalidate(ctx context.Context, name string, entry domain.CacheEntry) (domain.Binding, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	d, err := s.repo.GetByName(storeCtx, name)
	switch {
	case errors.Is(err, domain.ErrDomainNotFound):
		s.evictStale(ctx, name, entry, "domain no longer exists")
		return domain.Binding{}, domain.ErrDomainNotFound
	case err != nil:
		s.logger.WarnContext(ctx, "revalidation skipped, store unavailable",
			"domain", name, "error", err)
		s.cacheHits.Add(ctx, 1)
		return entry.Binding, nil
	}

	if !d.Resolvable() {
		s.evictStale(ctx, name, entry, "domain no longer resolvable")
		return domain.Binding{}, domain.ErrDomainNotFound
	}

	if d.TenantID != entry.Binding.TenantID {
		// Possible domain takeover or a missed invalidation: the cached
		// tenant no longer owns this name.
		s.evictStale(ctx, name, entry, "tenant binding mismatch")
	}

	binding := bindingOf(d)
	s.cache.Set(ctx, name, domain.CacheEntry{Binding: binding, CachedAt: time.Now()}, s.cfg.TTL)
	s.cacheHits.Add(ctx, 1)
	return binding, nil
}

func (s *LookupService) evictStale(ctx context.Context, name string, entry domain.CacheEntry, reason string) {
	s.cache.Delete(ctx, name)
	s.staleEvictions.Add(ctx, 1)
	s.logger.WarnContext(ctx, "evicted stale tenant binding",
		"domain", name,
		"cached_tenant_id", entry.Binding.TenantID.String(),
		"reason", reason,
	)
}

func (s *LookupService) cacheNegative(ctx context.Context, name string) {
	s.cache.Set(ctx, name, domain.CacheEntry{Negative: true, CachedAt: time.Now()}, s.cfg.NegativeTTL)
}

// Invalidate removes a single entry. Called synchronously by the
// verification engine before its state-changing operations return, so a
// verify-then-resolve sequence on the same process always sees fresh state.
func (s *LookupService) Invalidate(ctx context.Context, domainName string) {
	s.cache.Delete(ctx, domain.NormalizeName(domainName))
}

// InvalidateTenant removes every entry bound to the tenant, used on bulk
// tenant suspension.
func (s *LookupService) InvalidateTenant(ctx context.Context, tenantID uuid.UUID) {
	s.cache.DeleteTenant(ctx, tenantID)
}

func bindingOf(d domain.Domain) domain.Binding {
	return domain.Binding{
		TenantID:   d.TenantID,
		DomainID:   d.ID,
		DomainName: d.DomainName,
		IsPrimary:  d.IsPrimary,
	}
}
