// Package searchindex implements the search index builder of spec.md §4.H:
// prefix (2-4 char) and trigram inverted indexes over lowercased usernames,
// keyed by string and valued by a bitset of account indices.
//
// Postings are accumulated in github.com/RoaringBitmap/roaring/v2 bitmaps
// while a batch is being built — a sparse, growable representation that is
// far cheaper to mutate one index at a time than a dense bit vector sized
// to the full account count, especially for a rare trigram that only ever
// gets a handful of bits set. Each key's roaring bitmap is only converted
// to the dense, wire-format bitset.Bitset once, at the very end, when it is
// serialized into a SearchIndexRecord — satisfying the fixed little-endian
// layout spec.md §3/§4.A requires for BitsetRecord-shaped storage without
// paying dense-bitset mutation cost during accumulation.
package searchindex

import (
	"context"
	"time"

	roaring "github.com/RoaringBitmap/roaring/v2"
	"github.com/uplo-tech/bolt"

	"github.com/uplo-tech/graphvault/modules"
	"github.com/uplo-tech/graphvault/modules/bitset"
	"github.com/uplo-tech/graphvault/modules/kvstore"
)

// BatchSize is the number of accounts processed per cooperative batch
// (spec.md §4.H: "implementation-defined, ~100-500").
const BatchSize = 250

// representativeKey is the well-known prefix key hasSearchIndexes probes
// for (spec.md §4.H "'us' by convention").
const representativeKey = "us"

// Builder implements modules.SearchIndexBuilder.
type Builder struct {
	store *kvstore.Store
}

// New wraps store as a modules.SearchIndexBuilder.
func New(store *kvstore.Store) *Builder {
	return &Builder{store: store}
}

// Build constructs the prefix and trigram indexes for fingerprint over
// accounts, writing SearchIndexRecords into the indexes namespace. It
// processes accounts in BatchSize batches so ctx cancellation (orchestrator
// deadline or user cancel) is observed between batches rather than only at
// the end.
func (b *Builder) Build(ctx context.Context, fingerprint string, accounts []modules.Account) error {
	prefixPostings := make(map[string]*roaring.Bitmap)
	trigramPostings := make(map[string]*roaring.Bitmap)

	for start := 0; start < len(accounts); start += BatchSize {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		end := start + BatchSize
		if end > len(accounts) {
			end = len(accounts)
		}
		for i := start; i < end; i++ {
			lower := modules.LowerUsername(accounts[i].Username)
			for _, p := range prefixesOf(lower) {
				postingFor(prefixPostings, p).Add(uint32(i))
			}
			for _, tri := range trigramsOf(lower) {
				postingFor(trigramPostings, tri).Add(uint32(i))
			}
		}
	}

	now := time.Now().UTC()
	expires := now.Add(modules.SearchIndexTTL)

	return b.store.Update(func(tx *bolt.Tx) error {
		if err := writePostings(tx, b.store, fingerprint, modules.SearchIndexPrefix, prefixPostings, len(accounts), now, expires); err != nil {
			return err
		}
		return writePostings(tx, b.store, fingerprint, modules.SearchIndexTrigram, trigramPostings, len(accounts), now, expires)
	})
}

func writePostings(tx *bolt.Tx, store *kvstore.Store, fingerprint string, typ modules.SearchIndexType, postings map[string]*roaring.Bitmap, accountCount int, now, expires time.Time) error {
	for key, rb := range postings {
		dense := bitset.New(accountCount)
		it := rb.Iterator()
		for it.HasNext() {
			dense.Set(int(it.Next()))
		}
		if err := store.PutSearchIndex(tx, modules.SearchIndexRecord{
			Fingerprint: fingerprint,
			Type:        typ,
			Key:         key,
			Data:        dense.ToBytes(),
			CreatedAt:   now,
			ExpiresAt:   expires,
		}); err != nil {
			return err
		}
	}
	return nil
}

func postingFor(m map[string]*roaring.Bitmap, key string) *roaring.Bitmap {
	rb, ok := m[key]
	if !ok {
		rb = roaring.New()
		m[key] = rb
	}
	return rb
}

// prefixesOf returns the distinct prefixes of length 2 through min(4, len)
// of a lowercased username. A single-character username yields none
// (spec.md §4.H).
func prefixesOf(lower string) []string {
	if len(lower) < 2 {
		return nil
	}
	maxLen := 4
	if len(lower) < maxLen {
		maxLen = len(lower)
	}
	out := make([]string, 0, maxLen-1)
	for n := 2; n <= maxLen; n++ {
		out = append(out, lower[:n])
	}
	return out
}

// trigramsOf returns every length-3 window of "__" + lower + "__" (spec.md
// §4.H); the padding lets boundary trigrams encode starts-with/ends-with
// membership through the same lookup mechanism as interior trigrams.
func trigramsOf(lower string) []string {
	padded := "__" + lower + "__"
	if len(padded) < 3 {
		return nil
	}
	out := make([]string, 0, len(padded)-2)
	for i := 0; i+3 <= len(padded); i++ {
		out = append(out, padded[i:i+3])
	}
	return out
}

// HasSearchIndexes reports whether fingerprint has at least one prefix
// posting for the representative key "us" (spec.md §4.H availability
// probe).
func (b *Builder) HasSearchIndexes(fingerprint string) (bool, error) {
	var found bool
	err := b.store.View(func(tx *bolt.Tx) error {
		rec, err := b.store.GetSearchIndex(tx, fingerprint, modules.SearchIndexPrefix, representativeKey)
		if err != nil {
			return err
		}
		found = rec != nil
		return nil
	})
	return found, err
}

// Lookup returns the posting bitset for (fingerprint, type, key). A missing
// or TTL-expired record reports ok=false; an expired record is also
// deleted lazily (spec.md §3 "expired entries are deleted lazily on
// read").
func (b *Builder) Lookup(fingerprint string, typ modules.SearchIndexType, key string) (modules.BitsetHandle, bool, error) {
	fileRec, err := b.fileRecord(fingerprint)
	if err != nil || fileRec == nil {
		return nil, false, err
	}

	var rec *modules.SearchIndexRecord
	err = b.store.Update(func(tx *bolt.Tx) error {
		r, err := b.store.GetSearchIndex(tx, fingerprint, typ, key)
		if err != nil || r == nil {
			return err
		}
		if r.Expired(time.Now().UTC()) {
			return b.store.DeleteSearchIndex(tx, *r)
		}
		rec = r
		return nil
	})
	if err != nil || rec == nil {
		return nil, false, err
	}
	bs, err := bitset.FromBytes(rec.Data, fileRec.AccountCount)
	if err != nil {
		return nil, false, err
	}
	return bs, true, nil
}

func (b *Builder) fileRecord(fingerprint string) (*modules.FileRecord, error) {
	var rec *modules.FileRecord
	err := b.store.View(func(tx *bolt.Tx) error {
		var err error
		rec, err = b.store.GetFile(tx, fingerprint)
		return err
	})
	return rec, err
}

// EstimateSize reports the estimated storage footprint of building indexes
// over accountCount accounts as a fixed representative key count (2000
// prefix + trigram keys, since the real count depends on the username
// distribution) times ceil(accountCount/8) bytes per key, so the estimate
// grows linearly with accountCount (spec.md §4.H "used by the orchestrator
// to decide whether to build indexes at all").
func (b *Builder) EstimateSize(accountCount int) int64 {
	averageBitsetBytes := int64((accountCount + 7) / 8)
	const estimatedKeyCount = 2000 // representative prefix+trigram key cardinality
	return estimatedKeyCount * averageBitsetBytes
}
