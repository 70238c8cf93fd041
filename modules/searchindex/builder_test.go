package searchindex

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/uplo-tech/bolt"

	"github.com/uplo-tech/graphvault/modules"
	"github.com/uplo-tech/graphvault/modules/bitset"
	"github.com/uplo-tech/graphvault/modules/kvstore"
)

func openTestStore(t *testing.T) *kvstore.Store {
	t.Helper()
	store, err := kvstore.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPrefixesOf(t *testing.T) {
	cases := map[string][]string{
		"a":     nil,
		"ab":    {"ab"},
		"abc":   {"ab", "abc"},
		"abcd":  {"ab", "abc", "abcd"},
		"abcde": {"ab", "abc", "abcd"},
	}
	for input, want := range cases {
		got := prefixesOf(input)
		if len(got) != len(want) {
			t.Fatalf("%s: got %v, want %v", input, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("%s: got %v, want %v", input, got, want)
			}
		}
	}
}

func TestTrigramsOfPadding(t *testing.T) {
	got := trigramsOf("ab")
	want := []string{"__a", "_ab", "ab_", "b__"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestBuildAndProbe(t *testing.T) {
	store := openTestStore(t)
	b := New(store)
	accounts := []modules.Account{
		{Username: "alice"},
		{Username: "bob"},
		{Username: "alpha"},
	}
	if err := b.Build(context.Background(), "fp1", accounts); err != nil {
		t.Fatalf("Build: %v", err)
	}

	ok, err := b.HasSearchIndexes("fp1")
	if err != nil {
		t.Fatalf("HasSearchIndexes: %v", err)
	}
	if !ok {
		t.Fatalf("expected search indexes present")
	}

	notPresent, err := b.HasSearchIndexes("unknown-fp")
	if err != nil {
		t.Fatalf("HasSearchIndexes: %v", err)
	}
	if notPresent {
		t.Fatalf("expected no search indexes for unknown fingerprint")
	}

	var rec *modules.SearchIndexRecord
	err = store.View(func(tx *bolt.Tx) error {
		var err error
		rec, err = store.GetSearchIndex(tx, "fp1", modules.SearchIndexPrefix, "al")
		return err
	})
	if err != nil {
		t.Fatalf("GetSearchIndex: %v", err)
	}
	if rec == nil {
		t.Fatalf("expected a posting for shared prefix 'al'")
	}
	bs, err := bitset.FromBytes(rec.Data, len(accounts))
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if !bs.Has(0) || !bs.Has(2) {
		t.Fatalf("expected alice (0) and alpha (2) in prefix 'al'")
	}
	if bs.Has(1) {
		t.Fatalf("did not expect bob (1) in prefix 'al'")
	}
}
