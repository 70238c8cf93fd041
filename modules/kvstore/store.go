// Package kvstore implements the transactional, namespaced KV store adapter
// of spec.md §4.C on top of github.com/uplo-tech/bolt, the same embedded
// database the teacher uses for its consensus set
// (modules/consensus/consensusdb.go).
//
// Bolt has no native secondary indexes, so this package builds the two
// kinds spec.md §4.C requires directly on Bolt's own sorted-byte-string
// keys:
//
//   - The "fingerprint" index (columns, bitsets, timestamps, indexes) comes
//     for free: every primary key in those namespaces is encoded
//     fingerprint-first (fingerprint + 0x00 + suffix), so Bolt's own key
//     ordering makes a fingerprint's records a contiguous range. Listing or
//     deleting them is a single prefix scan, the same trick erigon's own kv
//     layer documents (kv.NextSubtree) for its own Prefix reads.
//   - The "lastAccessed" (files) and "expiresAt" (indexes) indexes are real
//     secondary buckets: key = big-endian nanosecond timestamp + primary
//     key, value = primary key. They're maintained by hand on every write
//     that touches the indexed field, the standard boltdb secondary-index
//     idiom.
package kvstore

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/uplo-tech/bolt"
	"github.com/uplo-tech/encoding"
	"github.com/uplo-tech/errors"

	"github.com/uplo-tech/graphvault/modules"
)

// bucket names. Primary namespaces match modules.Namespace values; the two
// secondary-index buckets are private to this package.
var (
	bucketFiles      = []byte(modules.NamespaceFiles)
	bucketColumns    = []byte(modules.NamespaceColumns)
	bucketBitsets    = []byte(modules.NamespaceBitsets)
	bucketTimestamps = []byte(modules.NamespaceTimestamps)
	bucketIndexes    = []byte(modules.NamespaceIndexes)

	bucketFilesByLastAccessed = []byte("idx_files_by_lastAccessed")
	bucketIndexesByExpiresAt  = []byte("idx_indexes_by_expiresAt")

	allBuckets = [][]byte{
		bucketFiles, bucketColumns, bucketBitsets, bucketTimestamps, bucketIndexes,
		bucketFilesByLastAccessed, bucketIndexesByExpiresAt,
	}
)

// keySep separates the fingerprint prefix from a namespace-specific suffix
// in every composite primary key. 0x00 never appears in a fingerprint (a
// lowercase hex string, or the sample-data fingerprint), so fingerprint +
// 0x00 is an unambiguous prefix. SearchIndexKey also uses it inside its
// suffix, between the index type and the key.
const keySep = 0x00

// Store is the KV store adapter. It is safe for concurrent use: Bolt
// serializes writers internally and never blocks readers against a writer
// (spec.md §5 "readers observe either the full pre-write state or the full
// post-write state").
type Store struct {
	db *bolt.DB
}

// Open creates or opens the Bolt database at path and provisions every
// namespace bucket required by spec.md §4.C.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.AddContext(err, "kvstore: unable to open database")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Compose(errors.AddContext(err, "kvstore: unable to provision buckets"), db.Close())
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// FileKey is the primary key for a FileRecord: the bare fingerprint.
func FileKey(fingerprint string) []byte {
	return []byte(fingerprint)
}

// ColumnKey is the primary key for a ColumnRecord.
func ColumnKey(fingerprint string, column modules.Column) []byte {
	return compositeKey(fingerprint, string(column))
}

// BitsetKey is the primary key for a BitsetRecord.
func BitsetKey(fingerprint string, badge modules.Badge) []byte {
	return compositeKey(fingerprint, badge.String())
}

// TimestampKey is the primary key for a TimestampRecord.
func TimestampKey(fingerprint, username string) []byte {
	return compositeKey(fingerprint, username)
}

// SearchIndexKey is the primary key for a SearchIndexRecord.
func SearchIndexKey(fingerprint string, typ modules.SearchIndexType, key string) []byte {
	suffix := make([]byte, 0, len(typ)+1+len(key))
	suffix = append(suffix, typ...)
	suffix = append(suffix, keySep)
	suffix = append(suffix, key...)
	return compositeKey(fingerprint, string(suffix))
}

func compositeKey(fingerprint, suffix string) []byte {
	buf := make([]byte, 0, len(fingerprint)+1+len(suffix))
	buf = append(buf, fingerprint...)
	buf = append(buf, keySep)
	buf = append(buf, suffix...)
	return buf
}

func fingerprintPrefix(fingerprint string) []byte {
	buf := make([]byte, 0, len(fingerprint)+1)
	buf = append(buf, fingerprint...)
	buf = append(buf, keySep)
	return buf
}

// ---- wire records ----
//
// uplo-tech/encoding marshals via reflection over exported fields; it has
// no notion of time.Time, so every on-disk record mirrors its modules.*
// counterpart with timestamps flattened to UnixNano int64s.

type wireFileRecord struct {
	Fingerprint      string
	Name             string
	SizeBytes        int64
	UploadInstant    int64
	AccountCount     uint64
	LastAccessed     int64
	SchemaVersion    uint64
	ProcessingTimeMs int64
}

func toWireFile(r modules.FileRecord) wireFileRecord {
	return wireFileRecord{
		Fingerprint:      r.Fingerprint,
		Name:             r.Name,
		SizeBytes:        r.SizeBytes,
		UploadInstant:    r.UploadInstant.UnixNano(),
		AccountCount:     uint64(r.AccountCount),
		LastAccessed:     r.LastAccessed.UnixNano(),
		SchemaVersion:    uint64(r.SchemaVersion),
		ProcessingTimeMs: r.ProcessingTimeMs,
	}
}

func fromWireFile(w wireFileRecord) modules.FileRecord {
	return modules.FileRecord{
		Fingerprint:      w.Fingerprint,
		Name:             w.Name,
		SizeBytes:        w.SizeBytes,
		UploadInstant:    time.Unix(0, w.UploadInstant).UTC(),
		AccountCount:     int(w.AccountCount),
		LastAccessed:     time.Unix(0, w.LastAccessed).UTC(),
		SchemaVersion:    int(w.SchemaVersion),
		ProcessingTimeMs: w.ProcessingTimeMs,
	}
}

type wireColumnRecord struct {
	Fingerprint string
	Column      string
	Data        []byte
	Offsets     []uint32
	Length      uint64
}

func toWireColumn(r modules.ColumnRecord) wireColumnRecord {
	return wireColumnRecord{
		Fingerprint: r.Fingerprint,
		Column:      string(r.Column),
		Data:        r.Data,
		Offsets:     r.Offsets,
		Length:      uint64(r.Length),
	}
}

func fromWireColumn(w wireColumnRecord) modules.ColumnRecord {
	return modules.ColumnRecord{
		Fingerprint: w.Fingerprint,
		Column:      modules.Column(w.Column),
		Data:        w.Data,
		Offsets:     w.Offsets,
		Length:      int(w.Length),
	}
}

type wireBitsetRecord struct {
	Fingerprint string
	Badge       uint64
	Data        []byte
	SetCount    uint64
}

func toWireBitset(r modules.BitsetRecord) wireBitsetRecord {
	return wireBitsetRecord{
		Fingerprint: r.Fingerprint,
		Badge:       uint64(r.Badge),
		Data:        r.Data,
		SetCount:    uint64(r.SetCount),
	}
}

func fromWireBitset(w wireBitsetRecord) modules.BitsetRecord {
	return modules.BitsetRecord{
		Fingerprint: w.Fingerprint,
		Badge:       modules.Badge(w.Badge),
		Data:        w.Data,
		SetCount:    int(w.SetCount),
	}
}

type wireTimestampEntry struct {
	Badge     uint64
	Timestamp int64
}

type wireTimestampRecord struct {
	Fingerprint string
	Username    string
	Entries     []wireTimestampEntry
}

func toWireTimestamp(r modules.TimestampRecord) wireTimestampRecord {
	w := wireTimestampRecord{Fingerprint: r.Fingerprint, Username: r.Username}
	for b, ts := range r.Timestamps {
		w.Entries = append(w.Entries, wireTimestampEntry{Badge: uint64(b), Timestamp: ts})
	}
	return w
}

func fromWireTimestamp(w wireTimestampRecord) modules.TimestampRecord {
	r := modules.TimestampRecord{
		Fingerprint: w.Fingerprint,
		Username:    w.Username,
		Timestamps:  make(map[modules.Badge]int64, len(w.Entries)),
	}
	for _, e := range w.Entries {
		r.Timestamps[modules.Badge(e.Badge)] = e.Timestamp
	}
	return r
}

type wireSearchIndexRecord struct {
	Fingerprint string
	Type        string
	Key         string
	Data        []byte
	CreatedAt   int64
	ExpiresAt   int64
}

func toWireSearchIndex(r modules.SearchIndexRecord) wireSearchIndexRecord {
	return wireSearchIndexRecord{
		Fingerprint: r.Fingerprint,
		Type:        string(r.Type),
		Key:         r.Key,
		Data:        r.Data,
		CreatedAt:   r.CreatedAt.UnixNano(),
		ExpiresAt:   r.ExpiresAt.UnixNano(),
	}
}

func fromWireSearchIndex(w wireSearchIndexRecord) modules.SearchIndexRecord {
	return modules.SearchIndexRecord{
		Fingerprint: w.Fingerprint,
		Type:        modules.SearchIndexType(w.Type),
		Key:         w.Key,
		Data:        w.Data,
		CreatedAt:   time.Unix(0, w.CreatedAt).UTC(),
		ExpiresAt:   time.Unix(0, w.ExpiresAt).UTC(),
	}
}

// ---- writes ----

// PutFile writes (or overwrites) a FileRecord and keeps the lastAccessed
// secondary index consistent, removing any stale index entry first.
func (s *Store) PutFile(tx *bolt.Tx, r modules.FileRecord) error {
	b := tx.Bucket(bucketFiles)
	key := FileKey(r.Fingerprint)
	if old := b.Get(key); old != nil {
		var oldWire wireFileRecord
		if err := encoding.Unmarshal(old, &oldWire); err == nil {
			if err := tx.Bucket(bucketFilesByLastAccessed).Delete(lastAccessedIndexKey(oldWire.LastAccessed, key)); err != nil {
				return err
			}
		}
	}
	data := encoding.Marshal(toWireFile(r))
	if err := b.Put(key, data); err != nil {
		return err
	}
	return tx.Bucket(bucketFilesByLastAccessed).Put(lastAccessedIndexKey(r.LastAccessed.UnixNano(), key), key)
}

func lastAccessedIndexKey(unixNano int64, primary []byte) []byte {
	buf := make([]byte, 8+len(primary))
	binary.BigEndian.PutUint64(buf, uint64(unixNano))
	copy(buf[8:], primary)
	return buf
}

// PutColumn writes a ColumnRecord.
func (s *Store) PutColumn(tx *bolt.Tx, r modules.ColumnRecord) error {
	return tx.Bucket(bucketColumns).Put(ColumnKey(r.Fingerprint, r.Column), encoding.Marshal(toWireColumn(r)))
}

// PutBitset writes a BitsetRecord.
func (s *Store) PutBitset(tx *bolt.Tx, r modules.BitsetRecord) error {
	return tx.Bucket(bucketBitsets).Put(BitsetKey(r.Fingerprint, r.Badge), encoding.Marshal(toWireBitset(r)))
}

// PutTimestamp writes a TimestampRecord.
func (s *Store) PutTimestamp(tx *bolt.Tx, r modules.TimestampRecord) error {
	return tx.Bucket(bucketTimestamps).Put(TimestampKey(r.Fingerprint, r.Username), encoding.Marshal(toWireTimestamp(r)))
}

// PutSearchIndex writes a SearchIndexRecord and its expiresAt index entry.
func (s *Store) PutSearchIndex(tx *bolt.Tx, r modules.SearchIndexRecord) error {
	key := SearchIndexKey(r.Fingerprint, r.Type, r.Key)
	if old := tx.Bucket(bucketIndexes).Get(key); old != nil {
		var oldWire wireSearchIndexRecord
		if err := encoding.Unmarshal(old, &oldWire); err == nil {
			if err := tx.Bucket(bucketIndexesByExpiresAt).Delete(expiresAtIndexKey(oldWire.ExpiresAt, key)); err != nil {
				return err
			}
		}
	}
	if err := tx.Bucket(bucketIndexes).Put(key, encoding.Marshal(toWireSearchIndex(r))); err != nil {
		return err
	}
	return tx.Bucket(bucketIndexesByExpiresAt).Put(expiresAtIndexKey(r.ExpiresAt.UnixNano(), key), key)
}

func expiresAtIndexKey(unixNano int64, primary []byte) []byte {
	buf := make([]byte, 8+len(primary))
	binary.BigEndian.PutUint64(buf, uint64(unixNano))
	copy(buf[8:], primary)
	return buf
}

// ---- reads ----

// GetFile returns the FileRecord for fingerprint, or nil if absent.
func (s *Store) GetFile(tx *bolt.Tx, fingerprint string) (*modules.FileRecord, error) {
	raw := tx.Bucket(bucketFiles).Get(FileKey(fingerprint))
	if raw == nil {
		return nil, nil
	}
	var w wireFileRecord
	if err := encoding.Unmarshal(raw, &w); err != nil {
		return nil, errors.AddContext(err, "kvstore: corrupt file record")
	}
	r := fromWireFile(w)
	return &r, nil
}

// GetAllFiles returns every FileRecord in the store.
func (s *Store) GetAllFiles(tx *bolt.Tx) ([]modules.FileRecord, error) {
	var out []modules.FileRecord
	c := tx.Bucket(bucketFiles).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var w wireFileRecord
		if err := encoding.Unmarshal(v, &w); err != nil {
			return nil, errors.AddContext(err, "kvstore: corrupt file record")
		}
		out = append(out, fromWireFile(w))
	}
	return out, nil
}

// FilesOrderedByLastAccessed returns every fingerprint ordered ascending by
// lastAccessed, using the secondary index (spec.md §4.C "files by
// lastAccessed").
func (s *Store) FilesOrderedByLastAccessed(tx *bolt.Tx) ([]string, error) {
	var out []string
	c := tx.Bucket(bucketFilesByLastAccessed).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		out = append(out, string(v))
	}
	return out, nil
}

// GetColumn returns the ColumnRecord for (fingerprint, column), or nil.
func (s *Store) GetColumn(tx *bolt.Tx, fingerprint string, column modules.Column) (*modules.ColumnRecord, error) {
	raw := tx.Bucket(bucketColumns).Get(ColumnKey(fingerprint, column))
	if raw == nil {
		return nil, nil
	}
	var w wireColumnRecord
	if err := encoding.Unmarshal(raw, &w); err != nil {
		return nil, errors.AddContext(err, "kvstore: corrupt column record")
	}
	r := fromWireColumn(w)
	return &r, nil
}

// GetBitset returns the BitsetRecord for (fingerprint, badge), or nil.
func (s *Store) GetBitset(tx *bolt.Tx, fingerprint string, badge modules.Badge) (*modules.BitsetRecord, error) {
	raw := tx.Bucket(bucketBitsets).Get(BitsetKey(fingerprint, badge))
	if raw == nil {
		return nil, nil
	}
	var w wireBitsetRecord
	if err := encoding.Unmarshal(raw, &w); err != nil {
		return nil, errors.AddContext(err, "kvstore: corrupt bitset record")
	}
	r := fromWireBitset(w)
	return &r, nil
}

// GetBitsetsByFingerprint returns every BitsetRecord for fingerprint via the
// free fingerprint-prefix index.
func (s *Store) GetBitsetsByFingerprint(tx *bolt.Tx, fingerprint string) ([]modules.BitsetRecord, error) {
	var out []modules.BitsetRecord
	prefix := fingerprintPrefix(fingerprint)
	c := tx.Bucket(bucketBitsets).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var w wireBitsetRecord
		if err := encoding.Unmarshal(v, &w); err != nil {
			return nil, errors.AddContext(err, "kvstore: corrupt bitset record")
		}
		out = append(out, fromWireBitset(w))
	}
	return out, nil
}

// GetTimestampsByFingerprint returns every TimestampRecord for fingerprint
// via the free fingerprint-prefix index.
func (s *Store) GetTimestampsByFingerprint(tx *bolt.Tx, fingerprint string) ([]modules.TimestampRecord, error) {
	var out []modules.TimestampRecord
	prefix := fingerprintPrefix(fingerprint)
	c := tx.Bucket(bucketTimestamps).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var w wireTimestampRecord
		if err := encoding.Unmarshal(v, &w); err != nil {
			return nil, errors.AddContext(err, "kvstore: corrupt timestamp record")
		}
		out = append(out, fromWireTimestamp(w))
	}
	return out, nil
}

// GetSearchIndex returns the SearchIndexRecord for (fingerprint, type, key),
// or nil. It does not apply TTL expiry; callers check Expired themselves
// (spec.md §3: "expired entries are deleted lazily on read").
func (s *Store) GetSearchIndex(tx *bolt.Tx, fingerprint string, typ modules.SearchIndexType, key string) (*modules.SearchIndexRecord, error) {
	raw := tx.Bucket(bucketIndexes).Get(SearchIndexKey(fingerprint, typ, key))
	if raw == nil {
		return nil, nil
	}
	var w wireSearchIndexRecord
	if err := encoding.Unmarshal(raw, &w); err != nil {
		return nil, errors.AddContext(err, "kvstore: corrupt search index record")
	}
	r := fromWireSearchIndex(w)
	return &r, nil
}

// DeleteSearchIndex removes a SearchIndexRecord and its expiresAt index
// entry.
func (s *Store) DeleteSearchIndex(tx *bolt.Tx, r modules.SearchIndexRecord) error {
	key := SearchIndexKey(r.Fingerprint, r.Type, r.Key)
	if err := tx.Bucket(bucketIndexes).Delete(key); err != nil {
		return err
	}
	return tx.Bucket(bucketIndexesByExpiresAt).Delete(expiresAtIndexKey(r.ExpiresAt.UnixNano(), key))
}

// ---- deletion across namespaces ----

// ClearFingerprint deletes every record across every namespace for
// fingerprint, using the fingerprint-prefix index for columns, bitsets,
// timestamps and indexes, plus a direct key delete for files (spec.md
// §4.G clearFile).
func (s *Store) ClearFingerprint(tx *bolt.Tx, fingerprint string) error {
	if old, err := s.GetFile(tx, fingerprint); err != nil {
		return err
	} else if old != nil {
		if err := tx.Bucket(bucketFilesByLastAccessed).Delete(lastAccessedIndexKey(old.LastAccessed.UnixNano(), FileKey(fingerprint))); err != nil {
			return err
		}
	}
	if err := tx.Bucket(bucketFiles).Delete(FileKey(fingerprint)); err != nil {
		return err
	}

	prefix := fingerprintPrefix(fingerprint)
	if err := deletePrefix(tx.Bucket(bucketColumns), prefix); err != nil {
		return err
	}
	if err := deletePrefix(tx.Bucket(bucketBitsets), prefix); err != nil {
		return err
	}
	if err := deletePrefix(tx.Bucket(bucketTimestamps), prefix); err != nil {
		return err
	}

	// indexes also needs its expiresAt secondary entries removed.
	idxBucket := tx.Bucket(bucketIndexes)
	expBucket := tx.Bucket(bucketIndexesByExpiresAt)
	c := idxBucket.Cursor()
	var toDelete [][]byte
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var w wireSearchIndexRecord
		if err := encoding.Unmarshal(v, &w); err == nil {
			toDelete = append(toDelete, expiresAtIndexKey(w.ExpiresAt, append([]byte(nil), k...)))
		}
	}
	for _, k := range toDelete {
		if err := expBucket.Delete(k); err != nil {
			return err
		}
	}
	return deletePrefix(idxBucket, prefix)
}

func deletePrefix(b *bolt.Bucket, prefix []byte) error {
	c := b.Cursor()
	var keys [][]byte
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// ---- transaction helpers ----

// Update runs fn inside a single read-write transaction, matching the
// "single logical transaction" contract of spec.md §4.G/§5.
func (s *Store) Update(fn func(tx *bolt.Tx) error) error {
	return s.db.Update(fn)
}

// View runs fn inside a read-only transaction.
func (s *Store) View(fn func(tx *bolt.Tx) error) error {
	return s.db.View(fn)
}
