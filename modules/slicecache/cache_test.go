package slicecache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/uplo-tech/graphvault/modules"
	"github.com/uplo-tech/graphvault/modules/kvstore"
	"github.com/uplo-tech/graphvault/modules/storageengine"
)

func setupCache(t *testing.T, sliceSize, maxSlices, accountCount int) (*Cache, string) {
	t.Helper()
	store, err := kvstore.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	se := storageengine.New(store)
	accounts := make([]modules.Account, accountCount)
	for i := range accounts {
		accounts[i] = modules.Account{
			Username: string(rune('a'+i%26)) + "-" + string(rune('0'+i%10)),
			Badges:   map[modules.Badge]int64{modules.BadgeFollowing: modules.TimestampTrue},
		}
	}
	const fp = "fp1"
	if err := se.StoreAll(fp, "export.zip", 1024, accounts); err != nil {
		t.Fatalf("StoreAll: %v", err)
	}

	c := NewSized(se, sliceSize, maxSlices)
	t.Cleanup(func() { c.Close() })
	c.SetFingerprint(fp, accountCount)
	return c, fp
}

func waitFor(t *testing.T, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition never became true")
}

func TestGetAccountTriggersLoadThenHits(t *testing.T) {
	c, _ := setupCache(t, 10, 5, 30)
	if _, ok := c.GetAccount(3); ok {
		t.Fatalf("expected miss on cold cache")
	}
	waitFor(t, func() bool {
		_, ok := c.GetAccount(3)
		return ok
	})
}

func TestGetAccountOutOfRange(t *testing.T) {
	c, _ := setupCache(t, 10, 5, 30)
	if _, ok := c.GetAccount(-1); ok {
		t.Fatalf("expected false for negative index")
	}
	if _, ok := c.GetAccount(30); ok {
		t.Fatalf("expected false for out-of-range index")
	}
}

func TestClearCacheResetsSize(t *testing.T) {
	c, _ := setupCache(t, 10, 5, 30)
	c.GetAccount(3)
	waitFor(t, func() bool {
		size, _ := c.CacheStats()
		return size > 0
	})
	c.ClearCache()
	size, _ := c.CacheStats()
	if size != 0 {
		t.Fatalf("expected size 0 after ClearCache, got %d", size)
	}
}

func TestSetFingerprintFlushesCache(t *testing.T) {
	c, _ := setupCache(t, 10, 5, 30)
	c.GetAccount(3)
	waitFor(t, func() bool {
		size, _ := c.CacheStats()
		return size > 0
	})
	c.SetFingerprint("different-fp", 10)
	size, _ := c.CacheStats()
	if size != 0 {
		t.Fatalf("expected size 0 after fingerprint change, got %d", size)
	}
}

func TestHysteresisEviction(t *testing.T) {
	// 5 slices of size 10 over 50 accounts, maxCachedSlices=2: hysteresis
	// ceiling is 3 (2*1.5). The 4th load takes the count to 4 > 3 and the
	// sweep trims it to 2; the 5th load brings it back to 3, within the
	// ceiling, so all 5 loads settle at 3.
	c, _ := setupCache(t, 10, 2, 50)
	for _, i := range []int{0, 10, 20, 30, 40} {
		c.GetAccount(i)
	}
	waitFor(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.inFlight) == 0
	})
	size, _ := c.CacheStats()
	if size != 3 {
		t.Fatalf("expected 3 cached slices after all loads, got %d", size)
	}
}
