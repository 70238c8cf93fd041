package sampledata

import (
	"path/filepath"
	"testing"

	"github.com/uplo-tech/graphvault/modules"
	"github.com/uplo-tech/graphvault/modules/kvstore"
	"github.com/uplo-tech/graphvault/modules/storageengine"
)

func openTestStorage(t *testing.T) *storageengine.Engine {
	t.Helper()
	store, err := kvstore.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return storageengine.New(store)
}

const sampleJSON = `{
	"version": 1,
	"generatedAt": "2026-01-15T00:00:00Z",
	"accountCount": 2,
	"accounts": [
		{"username": "alice", "badges": {"Following": 1000, "Mutuals": true}},
		{"username": "bob", "badges": {"NotFollowingBack": true}}
	]
}`

func TestLoadStoresAccountsUnderSampleFingerprint(t *testing.T) {
	se := openTestStorage(t)
	result, err := Load([]byte(sampleJSON), se)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if result.AccountCount != 2 {
		t.Fatalf("expected accountCount 2, got %d", result.AccountCount)
	}
	if result.GeneratedAt.Year() != 2026 {
		t.Fatalf("expected generatedAt year 2026, got %v", result.GeneratedAt)
	}

	rec, err := se.GetFile(modules.SampleDemoFingerprint)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if rec == nil || rec.AccountCount != 2 {
		t.Fatalf("expected a FileRecord with accountCount 2, got %+v", rec)
	}

	accounts, err := se.GetAccountsByRange(modules.SampleDemoFingerprint, 0, 2)
	if err != nil {
		t.Fatalf("GetAccountsByRange: %v", err)
	}
	if len(accounts) != 2 || accounts[0].Username != "alice" || accounts[1].Username != "bob" {
		t.Fatalf("expected [alice, bob], got %v", accounts)
	}
	if ts := accounts[0].Badges[modules.BadgeFollowing]; ts != 1000 {
		t.Fatalf("expected alice's Following timestamp 1000, got %d", ts)
	}
	if ts := accounts[0].Badges[modules.BadgeMutuals]; ts != modules.TimestampTrue {
		t.Fatalf("expected alice's Mutuals to be TimestampTrue, got %d", ts)
	}
}

func TestLoadRejectsUnsupportedVersion(t *testing.T) {
	se := openTestStorage(t)
	_, err := Load([]byte(`{"version": 2, "generatedAt": "2026-01-15T00:00:00Z", "accounts": []}`), se)
	if err == nil {
		t.Fatalf("expected an error for unsupported version")
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	se := openTestStorage(t)
	_, err := Load([]byte(`not json`), se)
	if err == nil {
		t.Fatalf("expected an error for malformed JSON")
	}
}
