package orchestrator

import (
	"archive/zip"
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/uplo-tech/graphvault/modules"
	"github.com/uplo-tech/graphvault/modules/archiveparser"
	"github.com/uplo-tech/graphvault/modules/badgeindex"
	"github.com/uplo-tech/graphvault/modules/filterengine"
	"github.com/uplo-tech/graphvault/modules/kvstore"
	"github.com/uplo-tech/graphvault/modules/searchindex"
	"github.com/uplo-tech/graphvault/modules/slicecache"
	"github.com/uplo-tech/graphvault/modules/storageengine"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zw.Create: %v", err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("write entry: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zw.Close: %v", err)
	}
	return buf.Bytes()
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	store, err := kvstore.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	se := storageengine.New(store)
	si := searchindex.New(store)
	fe := filterengine.New(se, si)
	sc := slicecache.New(se)
	o := New(archiveparser.New(), badgeindex.New(), se, si, fe, sc, nil)
	t.Cleanup(func() { o.Close() })
	return o
}

// s1Archive builds the spec.md §8 S1 scenario archive: following.json =
// [alice@1000, carol@3000], followers.json = [bob@2000, alice@1500].
func s1Archive(t *testing.T) []byte {
	return buildZip(t, map[string]string{
		"connections/followers_and_following/following.json": `{"relationships_following":[
			{"string_list_data":[{"value":"alice","timestamp":1000}]},
			{"string_list_data":[{"value":"carol","timestamp":3000}]}
		]}`,
		"connections/followers_and_following/followers.json": `{"relationships_followers":[
			{"string_list_data":[{"value":"bob","timestamp":2000}]},
			{"string_list_data":[{"value":"alice","timestamp":1500}]}
		]}`,
	})
}

func TestIngestS1Scenario(t *testing.T) {
	o := newTestOrchestrator(t)
	archive := s1Archive(t)

	var progress []modules.IngestProgress
	result, err := o.Ingest(context.Background(), archive, "export.zip", func(p modules.IngestProgress) {
		progress = append(progress, p)
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.AccountCount != 3 {
		t.Fatalf("expected accountCount 3, got %d", result.AccountCount)
	}
	if len(progress) == 0 {
		t.Fatalf("expected at least one progress event")
	}
	if o.State() != modules.StateSuccess {
		t.Fatalf("expected state Success, got %v", o.State())
	}

	stats, err := o.Stats(context.Background(), result.Fingerprint)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	want := map[modules.Badge]int{
		modules.BadgeFollowing:        2,
		modules.BadgeFollowers:        2,
		modules.BadgeMutuals:          1,
		modules.BadgeNotFollowingBack: 1,
		modules.BadgeNotFollowedBack:  1,
	}
	for badge, count := range want {
		if stats[badge] != count {
			t.Fatalf("badge %v: expected count %d, got %d", badge, count, stats[badge])
		}
	}

	all, err := o.Filter(context.Background(), result.Fingerprint, "", nil)
	if err != nil {
		t.Fatalf("Filter all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 indices, got %v", all)
	}

	mutuals, err := o.Filter(context.Background(), result.Fingerprint, "", []modules.Badge{modules.BadgeMutuals})
	if err != nil {
		t.Fatalf("Filter mutuals: %v", err)
	}
	if len(mutuals) != 1 || mutuals[0] != 0 {
		t.Fatalf("expected [0] (alice), got %v", mutuals)
	}

	bob, err := o.Filter(context.Background(), result.Fingerprint, "bo", []modules.Badge{modules.BadgeFollowers})
	if err != nil {
		t.Fatalf("Filter followers+bo: %v", err)
	}
	if len(bob) != 1 || bob[0] != 1 {
		t.Fatalf("expected [1] (bob), got %v", bob)
	}

	accounts, err := o.Hydrate(context.Background(), result.Fingerprint, all)
	if err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	if len(accounts) != 3 || accounts[0].Username != "alice" || accounts[1].Username != "bob" || accounts[2].Username != "carol" {
		t.Fatalf("expected [alice, bob, carol], got %v", accounts)
	}
}

func TestIngestEmptyFileFails(t *testing.T) {
	o := newTestOrchestrator(t)
	_, err := o.Ingest(context.Background(), []byte{}, "empty.zip", nil)
	if err == nil {
		t.Fatalf("expected error for empty archive")
	}
	coded, ok := err.(*modules.CodedError)
	if !ok || coded.Code != modules.ErrCodeEmptyFile {
		t.Fatalf("expected ErrCodeEmptyFile, got %v", err)
	}
	if o.State() != modules.StateError {
		t.Fatalf("expected state Error, got %v", o.State())
	}
}

func TestIngestCacheHitSkipsReparse(t *testing.T) {
	o := newTestOrchestrator(t)
	archive := s1Archive(t)

	first, err := o.Ingest(context.Background(), archive, "export.zip", nil)
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	second, err := o.Ingest(context.Background(), archive, "export.zip", nil)
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if second.Fingerprint != first.Fingerprint || second.AccountCount != first.AccountCount {
		t.Fatalf("expected identical cache-hit result, got %+v vs %+v", first, second)
	}
}

func TestClearRemovesFile(t *testing.T) {
	o := newTestOrchestrator(t)
	archive := s1Archive(t)

	result, err := o.Ingest(context.Background(), archive, "export.zip", nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if err := o.Clear(result.Fingerprint); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	rec, err := o.storage.GetFile(result.Fingerprint)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected file to be gone after Clear, got %+v", rec)
	}
}

func TestClearAllRemovesEveryFile(t *testing.T) {
	o := newTestOrchestrator(t)
	a1, err := o.Ingest(context.Background(), s1Archive(t), "a.zip", nil)
	if err != nil {
		t.Fatalf("Ingest a: %v", err)
	}
	a2, err := o.Ingest(context.Background(), buildZip(t, map[string]string{
		"following.json": `{"relationships_following":[{"string_list_data":[{"value":"zeke"}]}]}`,
	}), "b.zip", nil)
	if err != nil {
		t.Fatalf("Ingest b: %v", err)
	}
	if err := o.ClearAll(); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	files, err := o.storage.GetAllFiles()
	if err != nil {
		t.Fatalf("GetAllFiles: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("expected no files after ClearAll, got %v", files)
	}
	_ = a1
	_ = a2
}

func TestNewIngestCancelsPriorJobSilently(t *testing.T) {
	o := newTestOrchestrator(t)
	gen := o.beginJob()
	// Simulate a superseded job: its failure must be a silent no-op.
	o.beginJob()
	result, err := o.fail(gen, "stale-job", modules.ErrCodeWorkerCrashed, "stale failure")
	if err != nil {
		t.Fatalf("expected nil error for superseded job, got %v", err)
	}
	if result.Fingerprint != "" {
		t.Fatalf("expected zero-value result for superseded job, got %+v", result)
	}
}
