package modules

import "time"

// SchemaVersion is the current on-disk layout version of every FileRecord.
// It corresponds to spec.md §6's DB_CONFIG.version. A FileRecord persisted
// under an older version is treated as a miss by the storage engine (see
// storageengine.Engine.GetFile) rather than migrated in place — the
// implementation choice spec.md §4.G leaves open.
const SchemaVersion = 2

// Namespace names the five Bolt buckets the storage engine persists into.
// These map one-to-one onto spec.md §3's record types.
type Namespace string

const (
	NamespaceFiles      Namespace = "files"
	NamespaceColumns    Namespace = "columns"
	NamespaceBitsets    Namespace = "bitsets"
	NamespaceTimestamps Namespace = "timestamps"
	NamespaceIndexes    Namespace = "indexes"
)

// Namespaces lists every namespace the KV store must provision on open.
func Namespaces() []Namespace {
	return []Namespace{
		NamespaceFiles,
		NamespaceColumns,
		NamespaceBitsets,
		NamespaceTimestamps,
		NamespaceIndexes,
	}
}

// TTLs for cache/record lifetime (spec.md §6 "Cache TTLs"). SearchIndexTTL
// sets every search-index record's expiresAt. FileRecordTTL is not read
// anywhere: FileRecords are never expired, and GetFile only refreshes
// lastAccessed.
const (
	FileRecordTTL      = 7 * 24 * time.Hour
	SearchIndexTTL      = 3 * 24 * time.Hour
)

// SampleDemoFingerprint is the well-known fingerprint used to store the
// bundled sample-data snapshot without running it through the archive
// parser (spec.md §6).
const SampleDemoFingerprint = "sample-demo-data-v1"

// Column identifies which columnar string block a ColumnRecord holds.
type Column string

const (
	ColumnUsernames    Column = "usernames"
	ColumnDisplayNames Column = "display_names"
	ColumnHrefs        Column = "hrefs"
)

// SearchIndexType distinguishes the two inverted-index families built by
// the search index builder.
type SearchIndexType string

const (
	SearchIndexPrefix  SearchIndexType = "prefix"
	SearchIndexTrigram SearchIndexType = "trigram"
)
