package modules

import "time"

// FileRecord is the per-fingerprint metadata row stored in NamespaceFiles.
// It is the last thing storageengine.StoreAll writes, and its presence is
// what GetFile uses to decide whether a fingerprint is known at all (spec.md
// §3 FileRecord, §4.G "readers never see a FileRecord without its
// companions").
type FileRecord struct {
	Fingerprint       string
	Name              string
	SizeBytes         int64
	UploadInstant     time.Time
	AccountCount      int
	LastAccessed      time.Time
	SchemaVersion     int
	ProcessingTimeMs  int64 // 0 if not recorded
}

// ColumnRecord is a single columnar string block: packed UTF-8 bytes plus a
// monotone offsets table delimiting each entry (spec.md §3 ColumnRecord,
// §4.B).
type ColumnRecord struct {
	Fingerprint string
	Column      Column
	Data        []byte
	Offsets     []uint32
	Length      int
}

// BitsetRecord is a single badge's compressed membership bitset over the
// canonical account positions of a fingerprint (spec.md §3 BitsetRecord).
type BitsetRecord struct {
	Fingerprint string
	Badge       Badge
	Data        []byte
	SetCount    int
}

// TimestampRecord is a sparse per-account row of time-valued badge
// timestamps (spec.md §3 TimestampRecord). Only accounts with at least one
// timestamped badge have a row; the map is keyed by Badge.
type TimestampRecord struct {
	Fingerprint string
	Username    string
	Timestamps  map[Badge]int64
}

// SearchIndexRecord is one posting list of an inverted index: all account
// positions whose username produced the given prefix/trigram key (spec.md
// §3 SearchIndexRecord, §4.H).
type SearchIndexRecord struct {
	Fingerprint string
	Type        SearchIndexType
	Key         string
	Data        []byte
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the record's TTL has elapsed as of now (spec.md
// §3: "Expires after 3 days; expired entries are deleted lazily on read.").
func (r SearchIndexRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
