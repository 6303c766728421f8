package schema

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCacheHitAvoidsFetch(t *testing.T) {
	var fetches atomic.Int32
	cache := NewCache(10, time.Minute, func(ctx context.Context, key Key) (Settings, error) {
		fetches.Add(1)
		return Settings{Exists: true}, nil
	})

	key := Key{Namespace: "ks", Collection: "c"}
	for i := 0; i < 3; i++ {
		s, err := cache.Get(context.Background(), key)
		if err != nil {
			t.Fatal(err)
		}
		if !s.Exists {
			t.Fatalf("settings = %+v", s)
		}
	}
	if got := fetches.Load(); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}
}

func TestCacheExpiryRefetches(t *testing.T) {
	var fetches atomic.Int32
	cache := NewCache(10, 10*time.Millisecond, func(ctx context.Context, key Key) (Settings, error) {
		fetches.Add(1)
		return Settings{Exists: true}, nil
	})

	key := Key{Namespace: "ks", Collection: "c"}
	cache.Get(context.Background(), key)
	time.Sleep(20 * time.Millisecond)
	cache.Get(context.Background(), key)

	if got := fetches.Load(); got != 2 {
		t.Errorf("fetches = %d, want 2", got)
	}
}

func TestCacheBoundEvictsLRU(t *testing.T) {
	cache := NewCache(2, time.Minute, func(ctx context.Context, key Key) (Settings, error) {
		return Settings{Exists: true}, nil
	})
	cache.Put(Key{Collection: "a"}, Settings{})
	cache.Put(Key{Collection: "b"}, Settings{})
	cache.Put(Key{Collection: "c"}, Settings{})

	if got := cache.Len(); got != 2 {
		t.Errorf("len = %d, want 2", got)
	}
	// A hit returns the stored zero settings; a miss fetches Exists: true.
	if s, _ := cache.Get(context.Background(), Key{Collection: "c"}); s.Exists {
		t.Errorf("most recently added entry was evicted")
	}
	if s, _ := cache.Get(context.Background(), Key{Collection: "a"}); !s.Exists {
		t.Errorf("least recently used entry was not evicted")
	}
}

// TestCacheCollapsesConcurrentMisses: many goroutines missing the same key
// trigger exactly one metadata fetch.
func TestCacheCollapsesConcurrentMisses(t *testing.T) {
	var fetches atomic.Int32
	release := make(chan struct{})
	cache := NewCache(10, time.Minute, func(ctx context.Context, key Key) (Settings, error) {
		fetches.Add(1)
		<-release
		return Settings{Exists: true}, nil
	})

	key := Key{Namespace: "ks", Collection: "c"}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cache.Get(context.Background(), key)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := fetches.Load(); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}
}

func TestInvalidateForcesFetch(t *testing.T) {
	var fetches atomic.Int32
	cache := NewCache(10, time.Minute, func(ctx context.Context, key Key) (Settings, error) {
		fetches.Add(1)
		return Settings{Exists: true}, nil
	})

	key := Key{Namespace: "ks", Collection: "c"}
	cache.Get(context.Background(), key)
	cache.Invalidate(key)
	cache.Get(context.Background(), key)

	if got := fetches.Load(); got != 2 {
		t.Errorf("fetches = %d, want 2", got)
	}
}

func TestSettingsMatches(t *testing.T) {
	base := Settings{Exists: true, VectorEnabled: true, VectorSize: 128, SimilarityFunction: "cosine", Comment: "{}"}

	same := base
	same.IsJSONAPI = true // identity ignores shape flags
	if !base.Matches(same) {
		t.Errorf("identical settings should match")
	}

	diff := base
	diff.VectorSize = 256
	if base.Matches(diff) {
		t.Errorf("different vector size should not match")
	}
}

func TestVectorDimension(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"vector<float, 1536>", 1536},
		{"vector<float,8>", 8},
		{"text", 0},
	}
	for _, tt := range tests {
		if got := vectorDimension(tt.in); got != tt.want {
			t.Errorf("vectorDimension(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestIndexesPerCollectionDerivedFromShape(t *testing.T) {
	indexed := 0
	for _, c := range TableColumns {
		if c.Indexed {
			indexed++
		}
	}
	if got := IndexesPerCollection(); got != indexed {
		t.Errorf("IndexesPerCollection() = %d, want %d", got, indexed)
	}
}
