package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/b2xlabs/tenantgate/internal/app"
	"github.com/b2xlabs/tenantgate/internal/domain"
)

// memCache is an unbounded in-memory BindingCache for lookup tests.
// Expiry is not simulated; tests steer behavior through CachedAt.
type memCache struct {
	entries map[string]domain.CacheEntry
	ttls    map[string]time.Duration
	deleted []string
}

func newMemCache() *memCache {
	return &memCache{
		entries: make(map[string]domain.CacheEntry),
		ttls:    make(map[string]time.Duration),
	}
}

func (c *memCache) Get(_ context.Context, name string) (domain.CacheEntry, bool) {
	e, ok := c.entries[name]
	return e, ok
}

func (c *memCache) Set(_ context.Context, name string, entry domain.CacheEntry, ttl time.Duration) {
	c.entries[name] = entry
	c.ttls[name] = ttl
}

func (c *memCache) Delete(_ context.Context, name string) {
	delete(c.entries, name)
	c.deleted = append(c.deleted, name)
}

func (c *memCache) DeleteTenant(_ context.Context, tenantID uuid.UUID) {
	for name, e := range c.entries {
		if !e.Negative && e.Binding.TenantID == tenantID {
			delete(c.entries, name)
			c.deleted = append(c.deleted, name)
		}
	}
}

func (c *memCache) Close() error { return nil }

// countingRepo wraps lookups with call counting and a switchable result.
type countingRepo struct {
	mockRepo
	getByNameCalls int
}

func (r *countingRepo) GetByName(ctx context.Context, name string) (domain.Domain, error) {
	r.getByNameCalls++
	return r.mockRepo.GetByName(ctx, name)
}

func newLookupFixture(t *testing.T) (*countingRepo, *memCache, *app.LookupService) {
	t.Helper()
	repo := &countingRepo{mockRepo: *newMockRepo()}
	cache := newMemCache()
	svc, err := app.NewLookupService(repo, cache, nil, app.LookupConfig{
		TTL:             time.Minute,
		NegativeTTL:     5 * time.Second,
		RevalidateAfter: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("creating lookup service: %v", err)
	}
	return repo, cache, svc
}

func seedResolvable(t *testing.T, repo *countingRepo, name string) domain.Domain {
	t.Helper()
	d := domain.NewDomain(uuid.New(), uuid.New(), name, domain.TypeCustom)
	d.MarkVerified(time.Now().UTC())
	d.IsPrimary = true
	if err := repo.Create(context.Background(), d); err != nil {
		t.Fatalf("seeding domain: %v", err)
	}
	return d
}

func TestResolve_MissThenStore(t *testing.T) {
	repo, cache, svc := newLookupFixture(t)
	d := seedResolvable(t, repo, "shop.example.com")

	binding, err := svc.Resolve(context.Background(), "shop.example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if binding.TenantID != d.TenantID {
		t.Errorf("TenantID = %v, want %v", binding.TenantID, d.TenantID)
	}
	if binding.DomainID != d.ID {
		t.Errorf("DomainID = %v, want %v", binding.DomainID, d.ID)
	}
	if !binding.IsPrimary {
		t.Error("binding should carry the primary flag")
	}

	entry, ok := cache.entries["shop.example.com"]
	if !ok || entry.Negative {
		t.Fatal("positive entry should be cached")
	}
	if cache.ttls["shop.example.com"] != time.Minute {
		t.Errorf("cached with ttl %v, want %v", cache.ttls["shop.example.com"], time.Minute)
	}
}

func TestResolve_HitSkipsStore(t *testing.T) {
	repo, _, svc := newLookupFixture(t)
	seedResolvable(t, repo, "shop.example.com")

	if _, err := svc.Resolve(context.Background(), "shop.example.com"); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	calls := repo.getByNameCalls

	if _, err := svc.Resolve(context.Background(), "shop.example.com"); err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if repo.getByNameCalls != calls {
		t.Errorf("fresh cache hit should not consult the store, calls went %d -> %d", calls, repo.getByNameCalls)
	}
}

func TestResolve_NormalizesHost(t *testing.T) {
	repo, _, svc := newLookupFixture(t)
	d := seedResolvable(t, repo, "shop.example.com")

	binding, err := svc.Resolve(context.Background(), "SHOP.Example.COM.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if binding.TenantID != d.TenantID {
		t.Error("normalized host should resolve to the same tenant")
	}
}

func TestResolve_UnknownCachedNegative(t *testing.T) {
	repo, cache, svc := newLookupFixture(t)

	_, err := svc.Resolve(context.Background(), "unknown.example.com")
	if !errors.Is(err, domain.ErrDomainNotFound) {
		t.Fatalf("error = %v, want ErrDomainNotFound", err)
	}

	entry, ok := cache.entries["unknown.example.com"]
	if !ok || !entry.Negative {
		t.Fatal("miss should leave a negative entry")
	}
	if cache.ttls["unknown.example.com"] != 5*time.Second {
		t.Errorf("negative ttl = %v, want 5s", cache.ttls["unknown.example.com"])
	}

	calls := repo.getByNameCalls
	if _, err := svc.Resolve(context.Background(), "unknown.example.com"); !errors.Is(err, domain.ErrDomainNotFound) {
		t.Fatalf("second resolve error = %v", err)
	}
	if repo.getByNameCalls != calls {
		t.Error("negative hit should not consult the store")
	}
}

func TestResolve_PendingNeverResolves(t *testing.T) {
	repo, cache, svc := newLookupFixture(t)
	d := domain.NewDomain(uuid.New(), uuid.New(), "pending.example.com", domain.TypeCustom)
	if err := repo.Create(context.Background(), d); err != nil {
		t.Fatal(err)
	}

	_, err := svc.Resolve(context.Background(), "pending.example.com")
	if !errors.Is(err, domain.ErrDomainNotFound) {
		t.Errorf("error = %v, want ErrDomainNotFound", err)
	}
	if entry := cache.entries["pending.example.com"]; !entry.Negative {
		t.Error("pending domain should be cached negatively")
	}
}

func TestResolve_InactiveNeverResolves(t *testing.T) {
	repo, _, svc := newLookupFixture(t)
	d := seedResolvable(t, repo, "suspended.example.com")
	d.IsActive = false
	if err := repo.Update(context.Background(), d); err != nil {
		t.Fatal(err)
	}

	_, err := svc.Resolve(context.Background(), "suspended.example.com")
	if !errors.Is(err, domain.ErrDomainNotFound) {
		t.Errorf("error = %v, want ErrDomainNotFound", err)
	}
}

func TestResolve_StoreErrorFailsClosed(t *testing.T) {
	repo, cache, svc := newLookupFixture(t)
	repo.getByNameErr = errors.New("disk on fire")

	_, err := svc.Resolve(context.Background(), "shop.example.com")
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("error = %v, want ErrStoreUnavailable", err)
	}
	if len(cache.entries) != 0 {
		t.Error("store failures must not poison the cache")
	}
}

func TestResolve_MalformedHost(t *testing.T) {
	repo, _, svc := newLookupFixture(t)

	for _, host := range []string{"", "not a host!", "shop..example.com"} {
		_, err := svc.Resolve(context.Background(), host)
		if !errors.Is(err, domain.ErrDomainNotFound) {
			t.Errorf("Resolve(%q) error = %v, want ErrDomainNotFound", host, err)
		}
	}
	if repo.getByNameCalls != 0 {
		t.Error("malformed hosts must never reach the store")
	}
}

func TestResolve_RevalidationEvictsOnTenantMismatch(t *testing.T) {
	repo, cache, svc := newLookupFixture(t)
	d := seedResolvable(t, repo, "shop.example.com")

	// Seed an aged entry bound to a different tenant, as if the domain
	// moved and the invalidation message was lost.
	staleTenant := uuid.New()
	cache.entries["shop.example.com"] = domain.CacheEntry{
		Binding: domain.Binding{
			TenantID:   staleTenant,
			DomainID:   uuid.New(),
			DomainName: "shop.example.com",
		},
		CachedAt: time.Now().Add(-45 * time.Second),
	}

	binding, err := svc.Resolve(context.Background(), "shop.example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if binding.TenantID != d.TenantID {
		t.Errorf("TenantID = %v, want fresh owner %v", binding.TenantID, d.TenantID)
	}

	// The stale entry was evicted and the fresh binding re-cached.
	if len(cache.deleted) == 0 {
		t.Error("mismatched entry should be evicted")
	}
	if cache.entries["shop.example.com"].Binding.TenantID != d.TenantID {
		t.Error("fresh binding should be re-cached")
	}
}

func TestResolve_RevalidationRemovesGoneDomain(t *testing.T) {
	_, cache, svc := newLookupFixture(t)

	cache.entries["gone.example.com"] = domain.CacheEntry{
		Binding:  domain.Binding{TenantID: uuid.New(), DomainName: "gone.example.com"},
		CachedAt: time.Now().Add(-45 * time.Second),
	}

	_, err := svc.Resolve(context.Background(), "gone.example.com")
	if !errors.Is(err, domain.ErrDomainNotFound) {
		t.Fatalf("error = %v, want ErrDomainNotFound", err)
	}
	if _, ok := cache.entries["gone.example.com"]; ok {
		t.Error("entry for a deleted domain should be evicted")
	}
}

func TestResolve_RevalidationServesCachedOnStoreError(t *testing.T) {
	repo, cache, svc := newLookupFixture(t)
	repo.getByNameErr = errors.New("store down")

	cachedTenant := uuid.New()
	cache.entries["shop.example.com"] = domain.CacheEntry{
		Binding:  domain.Binding{TenantID: cachedTenant, DomainName: "shop.example.com"},
		CachedAt: time.Now().Add(-45 * time.Second),
	}

	binding, err := svc.Resolve(context.Background(), "shop.example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The entry is still inside the absolute TTL bound, so serving it is
	// allowed even though it could not be re-checked.
	if binding.TenantID != cachedTenant {
		t.Errorf("TenantID = %v, want cached %v", binding.TenantID, cachedTenant)
	}
}

func TestInvalidate_Normalizes(t *testing.T) {
	_, cache, svc := newLookupFixture(t)
	cache.entries["shop.example.com"] = domain.CacheEntry{CachedAt: time.Now()}

	svc.Invalidate(context.Background(), "SHOP.Example.COM.")

	if _, ok := cache.entries["shop.example.com"]; ok {
		t.Error("invalidation should normalize the name first")
	}
}

func TestInvalidateTenant(t *testing.T) {
	_, cache, svc := newLookupFixture(t)
	tenantID := uuid.New()
	cache.entries["a.example.com"] = domain.CacheEntry{
		Binding:  domain.Binding{TenantID: tenantID, DomainName: "a.example.com"},
		CachedAt: time.Now(),
	}
	cache.entries["b.example.com"] = domain.CacheEntry{
		Binding:  domain.Binding{TenantID: uuid.New(), DomainName: "b.example.com"},
		CachedAt: time.Now(),
	}

	svc.InvalidateTenant(context.Background(), tenantID)

	if _, ok := cache.entries["a.example.com"]; ok {
		t.Error("tenant's entry should be removed")
	}
	if _, ok := cache.entries["b.example.com"]; !ok {
		t.Error("other tenants' entries should survive")
	}
}

func TestStalenessBound(t *testing.T) {
	_, _, svc := newLookupFixture(t)
	if got := svc.StalenessBound(); got != time.Minute {
		t.Errorf("StalenessBound() = %v, want %v", got, time.Minute)
	}
}
