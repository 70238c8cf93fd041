// Package filterengine implements the filter engine of spec.md §4.I: it
// answers (query, badges) filter requests over an initialized fingerprint,
// returning account indices, and hydrates indices back into Accounts via
// range-coalesced storage-engine reads.
package filterengine

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/uplo-tech/errors"

	"github.com/uplo-tech/graphvault/modules"
	"github.com/uplo-tech/graphvault/modules/bitset"
)

// ErrNotInitialized is returned by every operation attempted before Init
// (spec.md §4.I "Any operation before init fails with NotInitialized").
var ErrNotInitialized = errors.New("filterengine: not initialized")

// preloadBadges are warmed eagerly on Init (spec.md §4.I).
var preloadBadges = []modules.Badge{modules.BadgeFollowing, modules.BadgeFollowers, modules.BadgeMutuals}

// linearFallbackBatchSize bounds the range-read batches of the
// no-search-index linear substring fallback (spec.md §4.I step 4).
const linearFallbackBatchSize = 1000

// rangeCoalesceGap is the maximum gap between consecutive sorted indices
// that still merges them into a single range read (spec.md §4.I
// loadAccountsByIndices step 2).
const rangeCoalesceGap = 10

// Engine implements modules.FilterEngine.
type Engine struct {
	storage    modules.StorageEngine
	searchIdx  modules.SearchIndexBuilder

	mu           sync.RWMutex
	fingerprint  string
	accountCount int
}

// New wires storage and searchIdx into a ready-to-Init Engine.
func New(storage modules.StorageEngine, searchIdx modules.SearchIndexBuilder) *Engine {
	return &Engine{storage: storage, searchIdx: searchIdx}
}

// Init sets the active fingerprint and, if accountCount is 0, fetches it
// from the FileRecord. It then warms the Following/Followers/Mutuals
// bitsets so the first real filter call doesn't pay their cold-load cost.
func (e *Engine) Init(ctx context.Context, fingerprint string, accountCount int) error {
	if accountCount == 0 {
		rec, err := e.storage.GetFile(fingerprint)
		if err != nil {
			return err
		}
		if rec != nil {
			accountCount = rec.AccountCount
		}
	}

	e.mu.Lock()
	e.fingerprint = fingerprint
	e.accountCount = accountCount
	e.mu.Unlock()

	for _, b := range preloadBadges {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if _, err := e.storage.GetBadgeBitset(fingerprint, b); err != nil {
			return err
		}
	}
	return nil
}

// Clear invalidates the active fingerprint; subsequent operations fail
// with ErrNotInitialized until Init is called again.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fingerprint = ""
	e.accountCount = 0
}

func (e *Engine) snapshot() (fingerprint string, accountCount int, ok bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fingerprint, e.accountCount, e.fingerprint != ""
}

// FilterToIndices implements the central filtering algorithm of spec.md
// §4.I.
func (e *Engine) FilterToIndices(ctx context.Context, query string, filters []modules.Badge) ([]uint32, error) {
	fingerprint, accountCount, ok := e.snapshot()
	if !ok {
		return nil, ErrNotInitialized
	}

	var result *bitset.Bitset
	if len(filters) > 0 {
		var loaded []*bitset.Bitset
		for _, b := range filters {
			handle, err := e.storage.GetBadgeBitset(fingerprint, b)
			if err != nil {
				return nil, err
			}
			if handle == nil {
				continue
			}
			bs, ok := handle.(*bitset.Bitset)
			if !ok {
				continue
			}
			loaded = append(loaded, bs)
		}
		if len(loaded) == 0 {
			return []uint32{}, nil
		}
		result = loaded[0].Clone()
		for _, bs := range loaded[1:] {
			result.IntersectInPlace(bs)
		}
	}

	var indices []uint32
	if result == nil {
		indices = allIndices(accountCount)
	} else {
		indices = result.ToIndices()
	}

	q := strings.TrimSpace(strings.ToLower(query))
	if q == "" {
		return indices, nil
	}

	hasIdx, err := e.searchIdx.HasSearchIndexes(fingerprint)
	if err != nil {
		return nil, err
	}
	if hasIdx {
		searchBits, err := e.smartSearch(fingerprint, q, accountCount)
		if err != nil {
			return nil, err
		}
		if searchBits == nil {
			return []uint32{}, nil
		}
		candidate := bitset.FromIndices(indices, accountCount)
		candidate.IntersectInPlace(searchBits)
		return candidate.ToIndices(), nil
	}

	return e.linearSubstringFilter(ctx, fingerprint, indices, q)
}

func allIndices(n int) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = uint32(i)
	}
	return out
}

// smartSearch implements spec.md §4.I's smartSearch helper.
func (e *Engine) smartSearch(fingerprint, q string, accountCount int) (*bitset.Bitset, error) {
	if len(q) <= 3 {
		keyLen := len(q)
		if keyLen > 4 {
			keyLen = 4
		}
		if keyLen < 2 {
			return nil, nil
		}
		key := q[:keyLen]
		handle, ok, err := e.searchIdx.Lookup(fingerprint, modules.SearchIndexPrefix, key)
		if err != nil || !ok {
			return nil, err
		}
		return asBitset(handle), nil
	}

	trigrams := trigramsOf(q)
	type posting struct {
		bs    *bitset.Bitset
		count int
	}
	var postings []posting
	for _, tri := range trigrams {
		handle, ok, err := e.searchIdx.Lookup(fingerprint, modules.SearchIndexTrigram, tri)
		if err != nil {
			return nil, err
		}
		if !ok {
			// A missing trigram posting ends the trigram path; the prefix
			// index on the query's first (up to) four characters answers
			// instead, so the result can include accounts that share only
			// that prefix.
			return e.prefixFallback(fingerprint, q)
		}
		bs := asBitset(handle)
		postings = append(postings, posting{bs: bs, count: bs.Count()})
	}
	if len(postings) == 0 {
		return e.prefixFallback(fingerprint, q)
	}
	sort.Slice(postings, func(i, j int) bool { return postings[i].count < postings[j].count })

	result := postings[0].bs.Clone()
	for _, p := range postings[1:] {
		result.IntersectInPlace(p.bs)
	}
	return result, nil
}

func (e *Engine) prefixFallback(fingerprint, q string) (*bitset.Bitset, error) {
	keyLen := len(q)
	if keyLen > 4 {
		keyLen = 4
	}
	if keyLen < 2 {
		return nil, nil
	}
	handle, ok, err := e.searchIdx.Lookup(fingerprint, modules.SearchIndexPrefix, q[:keyLen])
	if err != nil || !ok {
		return nil, err
	}
	return asBitset(handle), nil
}

func asBitset(handle modules.BitsetHandle) *bitset.Bitset {
	if bs, ok := handle.(*bitset.Bitset); ok {
		return bs
	}
	return nil
}

// trigramsOf mirrors searchindex.trigramsOf without importing that package
// (filterengine reaches the index only through modules.SearchIndexBuilder;
// this copy keeps its only dependency on the indexing scheme to the shared
// padding convention documented in spec.md §4.H).
func trigramsOf(q string) []string {
	padded := "__" + q + "__"
	if len(padded) < 3 {
		return nil
	}
	out := make([]string, 0, len(padded)-2)
	for i := 0; i+3 <= len(padded); i++ {
		out = append(out, padded[i:i+3])
	}
	return out
}

// linearSubstringFilter implements spec.md §4.I step 4's no-search-index
// fallback: batch the candidate indices, range-read usernames once per
// batch, and keep indices whose username contains q.
func (e *Engine) linearSubstringFilter(ctx context.Context, fingerprint string, indices []uint32, q string) ([]uint32, error) {
	var out []uint32
	for start := 0; start < len(indices); start += linearFallbackBatchSize {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		end := start + linearFallbackBatchSize
		if end > len(indices) {
			end = len(indices)
		}
		batch := indices[start:end]

		min, max := batch[0], batch[0]
		for _, idx := range batch {
			if idx < min {
				min = idx
			}
			if idx > max {
				max = idx
			}
		}
		accounts, err := e.storage.GetAccountsByRange(fingerprint, int(min), int(max)+1)
		if err != nil {
			return nil, err
		}
		for _, idx := range batch {
			offset := int(idx) - int(min)
			if offset < 0 || offset >= len(accounts) {
				continue
			}
			if strings.Contains(strings.ToLower(accounts[offset].Username), q) {
				out = append(out, idx)
			}
		}
	}
	if out == nil {
		out = []uint32{}
	}
	return out, nil
}

// LoadAccountsByIndices implements spec.md §4.I's loadAccountsByIndices,
// preserving the exact order of indices.
func (e *Engine) LoadAccountsByIndices(ctx context.Context, indices []uint32) ([]modules.Account, error) {
	fingerprint, _, ok := e.snapshot()
	if !ok {
		return nil, ErrNotInitialized
	}
	if len(indices) == 0 {
		return []modules.Account{}, nil
	}

	positionOf := make(map[uint32]int, len(indices))
	for pos, idx := range indices {
		positionOf[idx] = pos
	}

	sorted := append([]uint32(nil), indices...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	ranges := coalesce(sorted, rangeCoalesceGap)

	collected := make([]modules.Account, len(indices))
	filled := make([]bool, len(indices))
	for _, r := range ranges {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		accounts, err := e.storage.GetAccountsByRange(fingerprint, r.start, r.end)
		if err != nil {
			return nil, err
		}
		for i := r.start; i < r.end; i++ {
			pos, wanted := positionOf[uint32(i)]
			if !wanted {
				continue
			}
			offset := i - r.start
			if offset < 0 || offset >= len(accounts) {
				continue
			}
			collected[pos] = accounts[offset]
			filled[pos] = true
		}
	}

	out := make([]modules.Account, 0, len(indices))
	for i, ok := range filled {
		if ok {
			out = append(out, collected[i])
		}
	}
	return out, nil
}

type indexRange struct {
	start, end int // half-open
}

// coalesce merges sorted, ascending indices into half-open ranges where
// consecutive indices differ by at most maxGap (spec.md §4.I step 2).
func coalesce(sorted []uint32, maxGap int) []indexRange {
	if len(sorted) == 0 {
		return nil
	}
	var out []indexRange
	start := int(sorted[0])
	prev := start
	for _, v := range sorted[1:] {
		idx := int(v)
		if idx-prev <= maxGap {
			prev = idx
			continue
		}
		out = append(out, indexRange{start: start, end: prev + 1})
		start = idx
		prev = idx
	}
	out = append(out, indexRange{start: start, end: prev + 1})
	return out
}
