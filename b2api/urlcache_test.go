package b2api

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"blazefetch/internal"
)

func newCountingFetch(fetches *int32) FetchFunc {
	return func(ctx context.Context, key string) (*internal.UploadURL, error) {
		n := atomic.AddInt32(fetches, 1)
		return &internal.UploadURL{
			URL:       fmt.Sprintf("https://pod.example/upload/%s/%d", key, n),
			AuthToken: fmt.Sprintf("token-%d", n),
			Key:       key,
			IssuedAt:  time.Now(),
		}, nil
	}
}

// TestURLCache_ReuseAfterReturn verifies that a successfully returned URL
// is handed out again instead of fetching a fresh one
func TestURLCache_ReuseAfterReturn(t *testing.T) {
	var fetches int32
	cache := NewURLCache(newCountingFetch(&fetches), time.Hour, 4)
	defer cache.Stop()

	ctx := context.Background()

	u1, err := cache.Checkout(ctx, "bucket-1")
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	cache.Return(u1, true)

	u2, err := cache.Checkout(ctx, "bucket-1")
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if u2.URL != u1.URL {
		t.Errorf("expected reused URL %s, got %s", u1.URL, u2.URL)
	}
	if got := atomic.LoadInt32(&fetches); got != 1 {
		t.Errorf("fetched %d URLs, want 1", got)
	}
}

// TestURLCache_DiscardAfterFailure verifies the eviction invariant: after
// an upload-URL error the next checkout issues a fresh fetch
func TestURLCache_DiscardAfterFailure(t *testing.T) {
	var fetches int32
	cache := NewURLCache(newCountingFetch(&fetches), time.Hour, 4)
	defer cache.Stop()

	ctx := context.Background()

	u1, err := cache.Checkout(ctx, "bucket-1")
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	cache.Return(u1, false)

	u2, err := cache.Checkout(ctx, "bucket-1")
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if u2.URL == u1.URL {
		t.Errorf("failed URL %s was handed out again", u1.URL)
	}
	if got := atomic.LoadInt32(&fetches); got != 2 {
		t.Errorf("fetched %d URLs, want 2", got)
	}
}

// TestURLCache_ExclusiveLeases verifies that two concurrent checkouts never
// share one URL
func TestURLCache_ExclusiveLeases(t *testing.T) {
	var fetches int32
	cache := NewURLCache(newCountingFetch(&fetches), time.Hour, 4)
	defer cache.Stop()

	ctx := context.Background()

	u1, err := cache.Checkout(ctx, "bucket-1")
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	u2, err := cache.Checkout(ctx, "bucket-1")
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if u1.URL == u2.URL {
		t.Errorf("concurrent checkouts shared URL %s", u1.URL)
	}

	cache.Return(u1, true)
	cache.Return(u2, true)
}

// TestURLCache_ExpiredEntriesSkipped verifies stale entries are discarded
// at checkout rather than leased out
func TestURLCache_ExpiredEntriesSkipped(t *testing.T) {
	var fetches int32
	cache := NewURLCache(newCountingFetch(&fetches), 50*time.Millisecond, 4)
	defer cache.Stop()

	ctx := context.Background()

	u1, err := cache.Checkout(ctx, "bucket-1")
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	cache.Return(u1, true)

	time.Sleep(80 * time.Millisecond)

	u2, err := cache.Checkout(ctx, "bucket-1")
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if u2.URL == u1.URL {
		t.Errorf("expired URL %s was handed out", u1.URL)
	}
}

// TestURLCache_PoolBound verifies the per-key pool keeps at most the
// configured number of idle entries
func TestURLCache_PoolBound(t *testing.T) {
	var fetches int32
	cache := NewURLCache(newCountingFetch(&fetches), time.Hour, 2)
	defer cache.Stop()

	ctx := context.Background()

	var leased []*internal.UploadURL
	for i := 0; i < 4; i++ {
		u, err := cache.Checkout(ctx, "bucket-1")
		if err != nil {
			t.Fatalf("checkout failed: %v", err)
		}
		leased = append(leased, u)
	}
	for _, u := range leased {
		cache.Return(u, true)
	}

	pool := cache.pool("bucket-1")
	pool.mu.Lock()
	idle := len(pool.urls)
	pool.mu.Unlock()

	if idle > 2 {
		t.Errorf("pool holds %d idle entries, want at most 2", idle)
	}
}

// TestURLCache_EvictAndClear verifies explicit eviction empties the pools
func TestURLCache_EvictAndClear(t *testing.T) {
	var fetches int32
	cache := NewURLCache(newCountingFetch(&fetches), time.Hour, 4)
	defer cache.Stop()

	ctx := context.Background()

	u, _ := cache.Checkout(ctx, "bucket-1")
	cache.Return(u, true)
	cache.Evict("bucket-1")

	u2, err := cache.Checkout(ctx, "bucket-1")
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if u2.URL == u.URL {
		t.Errorf("evicted URL %s was handed out", u.URL)
	}

	cache.Return(u2, true)
	cache.Clear()

	u3, err := cache.Checkout(ctx, "bucket-1")
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if u3.URL == u2.URL {
		t.Errorf("cleared URL %s was handed out", u2.URL)
	}
}
