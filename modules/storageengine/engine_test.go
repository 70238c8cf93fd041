package storageengine

import (
	"path/filepath"
	"testing"

	"github.com/uplo-tech/graphvault/modules"
	"github.com/uplo-tech/graphvault/modules/kvstore"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	store, err := kvstore.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store)
}

func sampleAccounts() []modules.Account {
	return []modules.Account{
		{Username: "alice", Badges: map[modules.Badge]int64{modules.BadgeFollowing: 1000, modules.BadgeMutuals: modules.TimestampTrue}},
		{Username: "Bob", Badges: map[modules.Badge]int64{modules.BadgeNotFollowingBack: modules.TimestampTrue}},
		{Username: "carol", Badges: map[modules.Badge]int64{modules.BadgeNotFollowedBack: modules.TimestampTrue}},
	}
}

func TestStoreAllAndGetFile(t *testing.T) {
	e := openTestEngine(t)
	const fp = "fp1"
	if err := e.StoreAll(fp, "export.zip", 1024, sampleAccounts()); err != nil {
		t.Fatalf("StoreAll: %v", err)
	}
	rec, err := e.GetFile(fp)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if rec == nil {
		t.Fatalf("expected FileRecord, got nil")
	}
	if rec.AccountCount != 3 {
		t.Fatalf("expected accountCount 3, got %d", rec.AccountCount)
	}
}

func TestGetFileMissReturnsNil(t *testing.T) {
	e := openTestEngine(t)
	rec, err := e.GetFile("unknown")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil for unknown fingerprint")
	}
}

func TestGetBadgeBitsetAndStats(t *testing.T) {
	e := openTestEngine(t)
	const fp = "fp2"
	if err := e.StoreAll(fp, "export.zip", 1024, sampleAccounts()); err != nil {
		t.Fatalf("StoreAll: %v", err)
	}
	bs, err := e.GetBadgeBitset(fp, modules.BadgeFollowing)
	if err != nil {
		t.Fatalf("GetBadgeBitset: %v", err)
	}
	if bs == nil || !bs.Has(0) {
		t.Fatalf("expected alice (index 0) to carry Following")
	}
	stats, err := e.GetBadgeStats(fp)
	if err != nil {
		t.Fatalf("GetBadgeStats: %v", err)
	}
	if stats[modules.BadgeFollowing] != 1 {
		t.Fatalf("expected Following setCount 1, got %d", stats[modules.BadgeFollowing])
	}
}

func TestGetAccountsByRangeRecoversTimestampsAndOrder(t *testing.T) {
	e := openTestEngine(t)
	const fp = "fp3"
	if err := e.StoreAll(fp, "export.zip", 1024, sampleAccounts()); err != nil {
		t.Fatalf("StoreAll: %v", err)
	}
	accounts, err := e.GetAccountsByRange(fp, 0, 10)
	if err != nil {
		t.Fatalf("GetAccountsByRange: %v", err)
	}
	if len(accounts) != 3 {
		t.Fatalf("expected 3 accounts, got %d", len(accounts))
	}
	if accounts[0].Username != "alice" {
		t.Fatalf("expected alice first, got %s", accounts[0].Username)
	}
	if ts := accounts[0].Badges[modules.BadgeFollowing]; ts != 1000 {
		t.Fatalf("expected recovered following timestamp 1000, got %d", ts)
	}
	if accounts[1].Username != "Bob" {
		t.Fatalf("expected original case preserved, got %s", accounts[1].Username)
	}
}

func TestClearFileRemovesEverything(t *testing.T) {
	e := openTestEngine(t)
	const fp = "fp4"
	if err := e.StoreAll(fp, "export.zip", 1024, sampleAccounts()); err != nil {
		t.Fatalf("StoreAll: %v", err)
	}
	if err := e.ClearFile(fp); err != nil {
		t.Fatalf("ClearFile: %v", err)
	}
	rec, err := e.GetFile(fp)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected fingerprint to be gone after ClearFile")
	}
	accounts, err := e.GetAccountsByRange(fp, 0, 10)
	if err != nil {
		t.Fatalf("GetAccountsByRange: %v", err)
	}
	if len(accounts) != 0 {
		t.Fatalf("expected no accounts after clear")
	}
}

