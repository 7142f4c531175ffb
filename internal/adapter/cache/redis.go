package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/b2xlabs/tenantgate/internal/domain"
)

// Compile-time check: TwoTier implements domain.BindingCache.
var _ domain.BindingCache = (*TwoTier)(nil)

const (
	entryKeyPrefix  = "tenantgate:domain:"
	tenantKeyPrefix = "tenantgate:tenant:"
	// invalidationChannel carries domain names whose local entries peer
	// instances must drop. Propagation is best-effort; the local tier's
	// absolute TTL bounds the staleness of a lost message.
	invalidationChannel = "tenantgate:invalidate"
)

// Connect establishes a Redis connection from a URL and verifies it with
// a ping before the cache is built on top of it.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// wireEntry is the Redis JSON representation of a cache entry.
type wireEntry struct {
	TenantID   uuid.UUID `json:"tenant_id"`
	DomainID   uuid.UUID `json:"domain_id"`
	DomainName string    `json:"domain_name"`
	IsPrimary  bool      `json:"is_primary"`
	Negative   bool      `json:"negative"`
	CachedAt   time.Time `json:"cached_at"`
}

func toWire(e domain.CacheEntry) wireEntry {
	return wireEntry{
		TenantID:   e.Binding.TenantID,
		DomainID:   e.Binding.DomainID,
		DomainName: e.Binding.DomainName,
		IsPrimary:  e.Binding.IsPrimary,
		Negative:   e.Negative,
		CachedAt:   e.CachedAt,
	}
}

func (w wireEntry) toEntry() domain.CacheEntry {
	return domain.CacheEntry{
		Binding: domain.Binding{
			TenantID:   w.TenantID,
			DomainID:   w.DomainID,
			DomainName: w.DomainName,
			IsPrimary:  w.IsPrimary,
		},
		Negative: w.Negative,
		CachedAt: w.CachedAt,
	}
}

// TwoTier layers the local tier over a shared Redis tier. Reads hit the
// local map first; writes go through to Redis so sibling instances warm
// from it, and deletions are broadcast so siblings converge well before
// their TTLs expire. Redis failures are logged and absorbed: the local
// tier keeps the hot path alive and the TTL bounds divergence.
type TwoTier struct {
	local  *Local
	client *redis.Client
	logger *slog.Logger

	cancelSub context.CancelFunc
	subDone   chan struct{}
}

// NewTwoTier builds the composite cache and starts the invalidation
// subscriber. Close must be called to release it.
func NewTwoTier(local *Local, client *redis.Client, logger *slog.Logger) *TwoTier {
	if logger == nil {
		logger = slog.Default()
	}

	subCtx, cancel := context.WithCancel(context.Background())
	t := &TwoTier{
		local:     local,
		client:    client,
		logger:    logger,
		cancelSub: cancel,
		subDone:   make(chan struct{}),
	}

	go t.subscribe(subCtx)

	return t
}

// Get checks the local tier, then Redis. A Redis hit back-fills the
// local tier with the key's remaining lifetime.
func (t *TwoTier) Get(ctx context.Context, name string) (domain.CacheEntry, bool) {
	if entry, ok := t.local.Get(ctx, name); ok {
		return entry, true
	}

	raw, err := t.client.Get(ctx, entryKeyPrefix+name).Bytes()
	if err != nil {
		if err != redis.Nil {
			t.logger.WarnContext(ctx, "shared cache read failed", "domain", name, "error", err)
		}
		return domain.CacheEntry{}, false
	}

	var w wireEntry
	if err := json.Unmarshal(raw, &w); err != nil {
		t.logger.WarnContext(ctx, "shared cache entry corrupt, dropping", "domain", name, "error", err)
		t.client.Del(ctx, entryKeyPrefix+name)
		return domain.CacheEntry{}, false
	}

	entry := w.toEntry()
	if remaining, err := t.client.PTTL(ctx, entryKeyPrefix+name).Result(); err == nil && remaining > 0 {
		t.local.Set(ctx, name, entry, remaining)
	}
	return entry, true
}

// Set writes both tiers and indexes positive entries by tenant so
// DeleteTenant can find them.
func (t *TwoTier) Set(ctx context.Context, name string, entry domain.CacheEntry, ttl time.Duration) {
	t.local.Set(ctx, name, entry, ttl)

	raw, err := json.Marshal(toWire(entry))
	if err != nil {
		t.logger.WarnContext(ctx, "marshaling cache entry failed", "domain", name, "error", err)
		return
	}

	pipe := t.client.Pipeline()
	pipe.Set(ctx, entryKeyPrefix+name, raw, ttl)
	if !entry.Negative {
		tenantKey := tenantKeyPrefix + entry.Binding.TenantID.String()
		pipe.SAdd(ctx, tenantKey, name)
		pipe.Expire(ctx, tenantKey, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		t.logger.WarnContext(ctx, "shared cache write failed", "domain", name, "error", err)
	}
}

// Delete removes the entry from both tiers and broadcasts the
// invalidation to peers. The local delete happens first so the calling
// process never sees its own stale entry.
func (t *TwoTier) Delete(ctx context.Context, name string) {
	t.local.Delete(ctx, name)

	pipe := t.client.Pipeline()
	pipe.Del(ctx, entryKeyPrefix+name)
	pipe.Publish(ctx, invalidationChannel, name)
	if _, err := pipe.Exec(ctx); err != nil {
		t.logger.WarnContext(ctx, "shared cache invalidation failed", "domain", name, "error", err)
	}
}

// DeleteTenant drops every entry indexed under the tenant, locally, in
// Redis, and on every peer.
func (t *TwoTier) DeleteTenant(ctx context.Context, tenantID uuid.UUID) {
	t.local.DeleteTenant(ctx, tenantID)

	tenantKey := tenantKeyPrefix + tenantID.String()
	names, err := t.client.SMembers(ctx, tenantKey).Result()
	if err != nil {
		t.logger.WarnContext(ctx, "listing tenant cache entries failed",
			"tenant_id", tenantID.String(), "error", err)
		return
	}

	pipe := t.client.Pipeline()
	for _, name := range names {
		pipe.Del(ctx, entryKeyPrefix+name)
		pipe.Publish(ctx, invalidationChannel, name)
	}
	pipe.Del(ctx, tenantKey)
	if _, err := pipe.Exec(ctx); err != nil {
		t.logger.WarnContext(ctx, "tenant cache invalidation failed",
			"tenant_id", tenantID.String(), "error", err)
	}
}

// subscribe applies peer invalidations to the local tier until Close.
func (t *TwoTier) subscribe(ctx context.Context) {
	defer close(t.subDone)

	sub := t.client.Subscribe(ctx, invalidationChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			t.local.Delete(ctx, msg.Payload)
		case <-ctx.Done():
			return
		}
	}
}

// Close stops the subscriber and closes the local tier. The Redis client
// is owned by the caller.
func (t *TwoTier) Close() error {
	t.cancelSub()
	<-t.subDone
	return t.local.Close()
}
