package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		err := cache.Set(ctx, domain.CacheProfiles, "alice@upi", []byte(`{"identifier":"alice@upi"}`), time.Minute)
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, domain.CacheProfiles, "alice@upi")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != `{"identifier":"alice@upi"}` {
			t.Errorf("unexpected value %q", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, domain.CacheProfiles, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, domain.CacheProfiles, "bob@upi", []byte("v"), time.Minute)

		if err := cache.Delete(ctx, domain.CacheProfiles, "bob@upi"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, domain.CacheProfiles, "bob@upi")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		c := NewLRUCache(10)
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		c.now = func() time.Time { return now }

		_ = c.Set(ctx, domain.CacheReputation, "tok", []byte("x"), time.Minute)
		if val, _ := c.Get(ctx, domain.CacheReputation, "tok"); val == nil {
			t.Error("expected value before expiration")
		}

		now = now.Add(2 * time.Minute)
		if val, _ := c.Get(ctx, domain.CacheReputation, "tok"); val != nil {
			t.Error("expected nil after expiration")
		}
		if size, _ := c.Stats(); size != 0 {
			t.Errorf("expired entry should be removed, size %d", size)
		}
	})

	t.Run("ZeroTTLNeverExpires", func(t *testing.T) {
		c := NewLRUCache(10)
		now := time.Now()
		c.now = func() time.Time { return now }

		_ = c.Set(ctx, domain.CacheReputation, "tok", []byte("x"), 0)
		now = now.Add(24 * time.Hour)
		if val, _ := c.Get(ctx, domain.CacheReputation, "tok"); val == nil {
			t.Error("expected entry without ttl to survive")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		small := NewLRUCache(3)

		_ = small.Set(ctx, domain.CacheProfiles, "a", []byte("1"), time.Minute)
		_ = small.Set(ctx, domain.CacheProfiles, "b", []byte("2"), time.Minute)
		_ = small.Set(ctx, domain.CacheProfiles, "c", []byte("3"), time.Minute)

		// Touch 'a' so 'b' becomes the oldest.
		_, _ = small.Get(ctx, domain.CacheProfiles, "a")
		_ = small.Set(ctx, domain.CacheProfiles, "d", []byte("4"), time.Minute)

		if val, _ := small.Get(ctx, domain.CacheProfiles, "b"); val != nil {
			t.Error("expected 'b' to be evicted")
		}
		if val, _ := small.Get(ctx, domain.CacheProfiles, "a"); val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("NamespaceIsolation", func(t *testing.T) {
		_ = cache.Set(ctx, domain.CacheProfiles, "shared", []byte("profile"), time.Minute)
		_ = cache.Set(ctx, domain.CacheReputation, "shared", []byte("reputation"), time.Minute)

		p, _ := cache.Get(ctx, domain.CacheProfiles, "shared")
		r, _ := cache.Get(ctx, domain.CacheReputation, "shared")

		if string(p) != "profile" || string(r) != "reputation" {
			t.Errorf("namespaces collided: %q %q", p, r)
		}
	})

	t.Run("RequiresNamespace", func(t *testing.T) {
		if err := cache.Set(ctx, "", "key", []byte("value"), time.Minute); !errors.Is(err, ErrNamespaceRequired) {
			t.Errorf("expected ErrNamespaceRequired, got %v", err)
		}
		if _, err := cache.Get(ctx, "", "key"); !errors.Is(err, ErrNamespaceRequired) {
			t.Errorf("expected ErrNamespaceRequired, got %v", err)
		}
		if err := cache.Delete(ctx, "", "key"); !errors.Is(err, ErrNamespaceRequired) {
			t.Errorf("expected ErrNamespaceRequired, got %v", err)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(50)
		_ = statsCache.Set(ctx, domain.CacheProfiles, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, domain.CacheProfiles, "k2", []byte("v2"), time.Minute)

		size, capacity := statsCache.Stats()
		if size != 2 {
			t.Errorf("expected size 2, got %d", size)
		}
		if capacity != 50 {
			t.Errorf("expected capacity 50, got %d", capacity)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10)
		_ = testCache.Set(ctx, domain.CacheProfiles, "k", []byte("v"), time.Minute)

		if err := testCache.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}

		if val, _ := testCache.Get(ctx, domain.CacheProfiles, "k"); val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestRedisKey(t *testing.T) {
	if got := redisKey(domain.CacheProfiles, "alice@upi"); got != "kestrel:profile:alice@upi" {
		t.Errorf("unexpected key %q", got)
	}
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cache, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		if _, ok := cache.(*LRUCache); !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
