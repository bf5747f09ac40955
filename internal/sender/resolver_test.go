package sender

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/franciszver/cohort3-challenge2/internal/cache"
	"github.com/franciszver/cohort3-challenge2/internal/kv"
	"github.com/franciszver/cohort3-challenge2/internal/model"
	"github.com/franciszver/cohort3-challenge2/internal/remote"
	"github.com/franciszver/cohort3-challenge2/internal/remote/remotetest"
)

func newTestResolver(t *testing.T) (*Resolver, *remotetest.Fake, *cache.Manager) {
	t.Helper()
	fake := remotetest.New()
	mgr := cache.NewManager(kv.NewMemory(), cache.DefaultOptions(), zap.NewNop())
	return NewResolver(fake, mgr, zap.NewNop()), fake, mgr
}

func TestResolveFetchesAndMemoizes(t *testing.T) {
	r, fake, _ := newTestResolver(t)
	fake.Users["u1"] = model.User{ID: "u1", Username: "alice", DisplayName: "Alice"}

	info := r.Resolve(context.Background(), "u1")
	if info.DisplayName != "Alice" || info.Username != "alice" {
		t.Fatalf("info = %+v", info)
	}

	r.Resolve(context.Background(), "u1")
	r.Resolve(context.Background(), "u1")
	if n := fake.Calls("UserByID"); n != 1 {
		t.Errorf("UserByID called %d times, want 1 (memoized)", n)
	}
}

func TestResolvePrefersPersistentCache(t *testing.T) {
	r, fake, mgr := newTestResolver(t)
	if err := mgr.CacheUserProfile(context.Background(), model.User{ID: "u1", DisplayName: "Cached Alice"}); err != nil {
		t.Fatal(err)
	}

	info := r.Resolve(context.Background(), "u1")
	if info.DisplayName != "Cached Alice" {
		t.Errorf("info = %+v, want cached profile", info)
	}
	if n := fake.Calls("UserByID"); n != 0 {
		t.Errorf("UserByID called %d times, want 0", n)
	}
}

func TestResolveFallsBackToDisplayName(t *testing.T) {
	r, fake, _ := newTestResolver(t)
	fake.Users["u1"] = model.User{ID: "u1", Username: "alice"}

	if info := r.Resolve(context.Background(), "u1"); info.DisplayName != "alice" {
		t.Errorf("DisplayName = %q, want username fallback", info.DisplayName)
	}
}

func TestResolveFailureYieldsExpiringPlaceholder(t *testing.T) {
	r, fake, _ := newTestResolver(t)
	fake.UserByIDFn = func(ctx context.Context, id string) (*model.User, error) {
		return nil, &remote.Error{Kind: remote.KindNetwork, Op: "getUser", Message: "offline"}
	}
	r.placeholderTTL = 10 * time.Millisecond

	info := r.Resolve(context.Background(), "abcdefgh-1234")
	if info.DisplayName != "User abcdefgh" {
		t.Errorf("placeholder name = %q", info.DisplayName)
	}
	if n := fake.Calls("UserByID"); n != 1 {
		t.Fatalf("UserByID called %d times", n)
	}

	// Within the TTL the placeholder is served from memo.
	r.Resolve(context.Background(), "abcdefgh-1234")
	if n := fake.Calls("UserByID"); n != 1 {
		t.Errorf("placeholder should suppress refetch inside TTL, calls = %d", n)
	}

	// After expiry the resolver retries and picks up the real profile.
	time.Sleep(20 * time.Millisecond)
	fake.UserByIDFn = nil
	fake.Users["abcdefgh-1234"] = model.User{ID: "abcdefgh-1234", DisplayName: "Alice"}
	if info := r.Resolve(context.Background(), "abcdefgh-1234"); info.DisplayName != "Alice" {
		t.Errorf("after TTL expiry info = %+v, want real profile", info)
	}
}

func TestConcurrentResolvesCollapse(t *testing.T) {
	r, fake, _ := newTestResolver(t)
	release := make(chan struct{})
	fake.UserByIDFn = func(ctx context.Context, id string) (*model.User, error) {
		<-release
		return &model.User{ID: id, DisplayName: "Alice"}, nil
	}

	var wg sync.WaitGroup
	results := make([]model.SenderInfo, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Resolve(context.Background(), "u1")
		}(i)
	}
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := fake.Calls("UserByID"); n != 1 {
		t.Errorf("UserByID called %d times, want 1 (single flight)", n)
	}
	for i, info := range results {
		if info.DisplayName != "Alice" {
			t.Errorf("results[%d] = %+v", i, info)
		}
	}
}

func TestMemoEvictsOldestPastBound(t *testing.T) {
	r, fake, _ := newTestResolver(t)
	r.maxEntries = 3
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("u%d", i)
		fake.Users[id] = model.User{ID: id, DisplayName: id}
		r.Resolve(context.Background(), id)
	}

	if n := r.Len(); n != 3 {
		t.Fatalf("memo size = %d, want 3", n)
	}
	// u0 and u1 were evicted; resolving u0 again hits the persistent cache
	// (profile was stored on first resolve), not the memo.
	before := fake.Calls("UserByID")
	r.Resolve(context.Background(), "u0")
	if n := fake.Calls("UserByID"); n != before {
		t.Errorf("evicted entry should be served from the persistent cache")
	}
}

func TestExpiredPlaceholderDoesNotSkewEviction(t *testing.T) {
	r, fake, _ := newTestResolver(t)
	r.maxEntries = 2
	r.placeholderTTL = -time.Second // placeholders expire immediately

	fake.UserByIDFn = func(ctx context.Context, id string) (*model.User, error) {
		return nil, &remote.Error{Kind: remote.KindNetwork, Op: "getUser", Message: "offline"}
	}
	r.Resolve(context.Background(), "a") // expired placeholder

	fake.UserByIDFn = nil
	fake.Users["a"] = model.User{ID: "a", DisplayName: "Alice"}
	fake.Users["b"] = model.User{ID: "b", DisplayName: "Bob"}
	r.Resolve(context.Background(), "a") // replaces the placeholder
	r.Resolve(context.Background(), "b")

	// Replacing the expired placeholder must not leave a stale id in the
	// eviction order; two live entries fit the bound with no eviction.
	if n := len(r.memo); n != 2 {
		t.Errorf("memo size = %d, want 2", n)
	}
	if _, ok := r.memo["a"]; !ok {
		t.Error("live entry evicted after placeholder replacement")
	}
	if n := len(r.order); n != 2 {
		t.Errorf("eviction order has %d ids, want 2", n)
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	r, fake, mgr := newTestResolver(t)
	fake.Users["u1"] = model.User{ID: "u1", DisplayName: "Alice"}
	r.Resolve(context.Background(), "u1")

	fake.Users["u1"] = model.User{ID: "u1", DisplayName: "Alicia"}
	r.Invalidate("u1")
	// Drop the persistent copy too so the backend is consulted.
	if err := mgr.ClearAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	if info := r.Resolve(context.Background(), "u1"); info.DisplayName != "Alicia" {
		t.Errorf("after invalidate info = %+v, want refetched profile", info)
	}
}

func TestBatchDeduplicates(t *testing.T) {
	r, fake, _ := newTestResolver(t)
	fake.Users["u1"] = model.User{ID: "u1", DisplayName: "Alice"}
	fake.Users["u2"] = model.User{ID: "u2", DisplayName: "Bob"}

	out := r.Batch(context.Background(), []string{"u1", "u2", "u1", "u2", "u1"})
	if len(out) != 2 {
		t.Fatalf("batch result size = %d, want 2", len(out))
	}
	if out["u1"].DisplayName != "Alice" || out["u2"].DisplayName != "Bob" {
		t.Errorf("batch = %+v", out)
	}
	if n := fake.Calls("UserByID"); n != 2 {
		t.Errorf("UserByID called %d times, want 2", n)
	}
}

func TestClear(t *testing.T) {
	r, fake, _ := newTestResolver(t)
	fake.Users["u1"] = model.User{ID: "u1", DisplayName: "Alice"}
	r.Resolve(context.Background(), "u1")
	r.Clear()
	if n := r.Len(); n != 0 {
		t.Errorf("memo size after Clear = %d", n)
	}
}
