package modules

import (
	"context"
	"time"
)

// FileDiscovery describes what the archive parser found before it decoded
// anything (spec.md §4.E).
type FileDiscovery struct {
	Format             ArchiveFormat
	IsRecognizedExport bool
	BasePath           string
	Files              []DiscoveredFile
}

// ArchiveFormat classifies the shape of the relation files an archive
// contains.
type ArchiveFormat string

const (
	FormatJSON    ArchiveFormat = "json"
	FormatHTML    ArchiveFormat = "html"
	FormatUnknown ArchiveFormat = "unknown"
)

// DiscoveredFile is one archive entry classified against the known relation
// filename table.
type DiscoveredFile struct {
	Path string
	Kind Badge
}

// ParsedAll is the decoded, per-badge relation data produced by the archive
// parser: for each time-valued badge, a username -> timestamp map (absent
// timestamps are recorded as TimestampTrue).
type ParsedAll map[Badge]map[string]int64

// ParseResult is the archive parser's full output (spec.md §4.E).
type ParseResult struct {
	Data            ParsedAll
	Warnings        []ParseWarning
	Discovery       FileDiscovery
	HasMinimalData  bool
}

// ArchiveParser extracts and normalizes relation files from an archive.
type ArchiveParser interface {
	Parse(archiveBytes []byte) (ParseResult, error)
}

// BadgeIndexBuilder combines parsed relation data into the canonical,
// ordered Account sequence (spec.md §4.F).
type BadgeIndexBuilder interface {
	Build(data ParsedAll) []Account
}

// StorageEngine persists and serves the account set identified by a
// fingerprint (spec.md §4.G).
type StorageEngine interface {
	StoreAll(fingerprint string, name string, sizeBytes int64, accounts []Account) error
	GetFile(fingerprint string) (*FileRecord, error)
	GetAllFiles() ([]FileRecord, error)
	GetBadgeBitset(fingerprint string, badge Badge) (BitsetHandle, error)
	GetBadgeStats(fingerprint string) (map[Badge]int, error)
	GetAccountsByRange(fingerprint string, start, end int) ([]Account, error)
	ClearFile(fingerprint string) error
}

// BitsetHandle is the storage engine's return type for GetBadgeBitset; it is
// declared here as an interface (so this package does not import
// modules/bitset) carrying the minimal contract filterengine and
// storageengine both need. The concrete type satisfying it is
// *bitset.Bitset.
type BitsetHandle interface {
	Has(i int) bool
	Count() int
	ToIndices() []uint32
}

// SearchIndexBuilder builds the prefix/trigram inverted indexes for a
// fingerprint (spec.md §4.H).
type SearchIndexBuilder interface {
	Build(ctx context.Context, fingerprint string, accounts []Account) error
	HasSearchIndexes(fingerprint string) (bool, error)
	EstimateSize(accountCount int) int64
	// Lookup returns the posting bitset for (fingerprint, type, key), or
	// ok=false if no such posting exists or it has expired.
	Lookup(fingerprint string, typ SearchIndexType, key string) (bitset BitsetHandle, ok bool, err error)
}

// FilterEngine answers (badges, query) filter requests over an initialized
// fingerprint (spec.md §4.I).
type FilterEngine interface {
	Init(ctx context.Context, fingerprint string, accountCount int) error
	FilterToIndices(ctx context.Context, query string, filters []Badge) ([]uint32, error)
	LoadAccountsByIndices(ctx context.Context, indices []uint32) ([]Account, error)
	Clear()
}

// SliceCache is a bounded, LRU cache of hydrated account ranges (spec.md
// §4.J).
type SliceCache interface {
	SetFingerprint(fingerprint string, accountCount int)
	GetAccount(i int) (Account, bool)
	GetRange(start, end int) []Account
	GetByIndices(indices []uint32) []Account
	PreloadAdjacent(visibleStart, visibleEnd int)
	ClearCache()
	CacheStats() (size, maxSize int)
	Close() error
}

// IngestProgress is one progress event emitted by the orchestrator (spec.md
// §4.K, §5).
type IngestProgress struct {
	Fraction       float64
	ProcessedCount int
	TotalCount     int
}

// IngestState is one state of the ingest job state machine (spec.md §4.K).
type IngestState string

const (
	StateIdle      IngestState = "Idle"
	StateLoading   IngestState = "Loading"
	StateParsing   IngestState = "Parsing"
	StateStoring   IngestState = "Storing"
	StateIndexing  IngestState = "Indexing"
	StateSuccess   IngestState = "Success"
	StateError     IngestState = "Error"
)

// IngestResult is the orchestrator's terminal success payload.
type IngestResult struct {
	Fingerprint  string
	AccountCount int
	Warnings     []ParseWarning
	Discovery    FileDiscovery
}

// Orchestrator drives the full ingest pipeline (spec.md §4.K).
type Orchestrator interface {
	Ingest(ctx context.Context, archiveBytes []byte, name string, onProgress func(IngestProgress)) (IngestResult, error)
	Filter(ctx context.Context, fingerprint, query string, badges []Badge) ([]uint32, error)
	Hydrate(ctx context.Context, fingerprint string, indices []uint32) ([]Account, error)
	Stats(ctx context.Context, fingerprint string) (map[Badge]int, error)
	Clear(fingerprint string) error
	ClearAll() error
	Close() error
}

// IngestDeadline is the background parse/store/index processing budget (spec.md
// §4.K, §5).
const IngestDeadline = 60 * time.Second
