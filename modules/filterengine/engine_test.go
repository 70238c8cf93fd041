package filterengine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/uplo-tech/graphvault/modules"
	"github.com/uplo-tech/graphvault/modules/kvstore"
	"github.com/uplo-tech/graphvault/modules/searchindex"
	"github.com/uplo-tech/graphvault/modules/storageengine"
)

func setup(t *testing.T) (*Engine, *storageengine.Engine, string) {
	t.Helper()
	store, err := kvstore.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	se := storageengine.New(store)
	accounts := []modules.Account{
		{Username: "alice", Badges: map[modules.Badge]int64{modules.BadgeFollowing: 1000, modules.BadgeMutuals: modules.TimestampTrue}},
		{Username: "bob", Badges: map[modules.Badge]int64{modules.BadgeNotFollowingBack: modules.TimestampTrue, modules.BadgeFollowers: 2000}},
		{Username: "carol", Badges: map[modules.Badge]int64{modules.BadgeNotFollowedBack: modules.TimestampTrue, modules.BadgeFollowing: 3000}},
	}
	const fp = "fp1"
	if err := se.StoreAll(fp, "export.zip", 1024, accounts); err != nil {
		t.Fatalf("StoreAll: %v", err)
	}
	si := searchindex.New(store)
	fe := New(se, si)
	return fe, se, fp
}

func TestFilterToIndicesBeforeInitFails(t *testing.T) {
	fe, _, _ := setup(t)
	if _, err := fe.FilterToIndices(context.Background(), "", nil); err != ErrNotInitialized {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestFilterToIndicesNoFiltersNoQuery(t *testing.T) {
	fe, _, fp := setup(t)
	if err := fe.Init(context.Background(), fp, 0); err != nil {
		t.Fatalf("Init: %v", err)
	}
	got, err := fe.FilterToIndices(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("FilterToIndices: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected all 3 indices, got %v", got)
	}
}

func TestFilterToIndicesMutualsBadge(t *testing.T) {
	fe, _, fp := setup(t)
	if err := fe.Init(context.Background(), fp, 0); err != nil {
		t.Fatalf("Init: %v", err)
	}
	got, err := fe.FilterToIndices(context.Background(), "", []modules.Badge{modules.BadgeMutuals})
	if err != nil {
		t.Fatalf("FilterToIndices: %v", err)
	}
	if len(got) != 1 || got[0] != 0 {
		t.Fatalf("expected only alice (index 0), got %v", got)
	}
}

func TestFilterToIndicesLinearSubstringFallback(t *testing.T) {
	fe, _, fp := setup(t)
	if err := fe.Init(context.Background(), fp, 0); err != nil {
		t.Fatalf("Init: %v", err)
	}
	// No search indexes have been built for fp, so this exercises the
	// linear substring fallback path.
	got, err := fe.FilterToIndices(context.Background(), "bo", nil)
	if err != nil {
		t.Fatalf("FilterToIndices: %v", err)
	}
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected only bob (index 1), got %v", got)
	}
}

func TestLoadAccountsByIndicesPreservesOrder(t *testing.T) {
	fe, _, fp := setup(t)
	if err := fe.Init(context.Background(), fp, 0); err != nil {
		t.Fatalf("Init: %v", err)
	}
	accounts, err := fe.LoadAccountsByIndices(context.Background(), []uint32{2, 0})
	if err != nil {
		t.Fatalf("LoadAccountsByIndices: %v", err)
	}
	if len(accounts) != 2 || accounts[0].Username != "carol" || accounts[1].Username != "alice" {
		t.Fatalf("expected [carol, alice] preserving request order, got %v", accounts)
	}
}

func TestCoalesceMergesCloseIndices(t *testing.T) {
	got := coalesce([]uint32{0, 5, 8, 50}, 10)
	want := []indexRange{{start: 0, end: 9}, {start: 50, end: 51}}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: got %v, want %v", i, got[i], want[i])
		}
	}
}
