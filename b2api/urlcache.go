package b2api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"blazefetch/internal"
)

// DefaultURLLifetime is how long an issued upload URL stays reusable
const DefaultURLLifetime = time.Hour

// FetchFunc obtains a fresh upload URL for a key (bucketId or fileId)
type FetchFunc func(ctx context.Context, key string) (*internal.UploadURL, error)

// urlPool is a bounded stack of leased upload URLs for one key. An entry is
// held by exactly one uploader between Checkout and Return; concurrent
// uploaders past the pooled entries fetch fresh URLs.
type urlPool struct {
	mu   sync.Mutex
	urls []*internal.UploadURL
}

func (p *urlPool) pop(lifetime time.Duration) *internal.UploadURL {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for len(p.urls) > 0 {
		u := p.urls[len(p.urls)-1]
		p.urls = p.urls[:len(p.urls)-1]
		if now.Sub(u.IssuedAt) < lifetime {
			return u
		}
		// expired entries are silently discarded
	}
	return nil
}

func (p *urlPool) push(u *internal.UploadURL, max int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.urls) < max {
		p.urls = append(p.urls, u)
	}
}

// URLCache caches short-lived upload URLs keyed by bucketId (single-shot
// uploads) or fileId (large-file parts). Entries are exclusive leases:
// Checkout hands an entry to one uploader, Return either recycles it or
// drops it after a failure. Idle pools expire through the TTL cache.
type URLCache struct {
	pools    *ttlcache.Cache[string, *urlPool]
	fetch    FetchFunc
	lifetime time.Duration
	max      int
}

// NewURLCache creates a cache whose misses are resolved through fetch and
// whose per-key pools hold at most max entries.
func NewURLCache(fetch FetchFunc, lifetime time.Duration, max int) *URLCache {
	if max < 1 {
		max = 1
	}
	c := &URLCache{
		pools: ttlcache.New(
			ttlcache.WithTTL[string, *urlPool](lifetime),
		),
		fetch:    fetch,
		lifetime: lifetime,
		max:      max,
	}
	go c.pools.Start()
	return c
}

// Checkout returns an exclusive lease on an upload URL for key, reusing an
// unexpired cached entry when one is free and fetching a fresh one
// otherwise.
func (c *URLCache) Checkout(ctx context.Context, key string) (*internal.UploadURL, error) {
	if u := c.pool(key).pop(c.lifetime); u != nil {
		slog.Debug("reusing cached upload URL", "key", key)
		return u, nil
	}

	u, err := c.fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	u.Key = key
	if u.IssuedAt.IsZero() {
		u.IssuedAt = time.Now()
	}
	return u, nil
}

// Return ends a lease. A successfully used URL goes back into the pool for
// reuse until its lifetime runs out; a URL that saw any transport or
// service error is discarded.
func (c *URLCache) Return(u *internal.UploadURL, ok bool) {
	if u == nil || !ok {
		return
	}
	c.pool(u.Key).push(u, c.max)
}

// Evict drops every cached URL for key
func (c *URLCache) Evict(key string) {
	c.pools.Delete(key)
}

// Clear drops every cached URL; called when the session re-authenticates
func (c *URLCache) Clear() {
	c.pools.DeleteAll()
}

// Stop shuts down the cache's expiry loop
func (c *URLCache) Stop() {
	c.pools.Stop()
}

func (c *URLCache) pool(key string) *urlPool {
	item, _ := c.pools.GetOrSet(key, &urlPool{})
	return item.Value()
}
