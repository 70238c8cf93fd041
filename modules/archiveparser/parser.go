// Package archiveparser implements the archive parser of spec.md §4.E: it
// opens a user-supplied zip archive, locates the relation export files it
// recognizes, and decodes them into per-badge username sets.
//
// Zip handling uses the standard library's archive/zip, the same as the
// teacher uses for flat-file container formats elsewhere; JSON decoding
// uses github.com/goccy/go-json for the throughput its faster encoder/
// decoder gives over encoding/json on the account-scale inputs spec.md §1
// targets (up to ~1,000,000 accounts).
package archiveparser

import (
	"archive/zip"
	"bytes"
	"io"

	json "github.com/goccy/go-json"
	"github.com/uplo-tech/errors"

	"github.com/uplo-tech/graphvault/modules"
)

// MaxArchiveBytes bounds the accepted archive size (spec.md §6
// FileTooLarge). 200 MiB comfortably covers a full Instagram export at the
// ~1,000,000-account scale spec.md §1 targets.
const MaxArchiveBytes = 200 << 20

// MaxEntryBytes bounds any single decoded relation file, guarding against a
// zip bomb disguised as a relation export.
const MaxEntryBytes = 64 << 20

// Parser implements modules.ArchiveParser.
type Parser struct{}

// New returns a ready-to-use Parser. Parser carries no state: every Parse
// call is independent.
func New() *Parser {
	return &Parser{}
}

// Parse implements modules.ArchiveParser.
func (p *Parser) Parse(archiveBytes []byte) (modules.ParseResult, error) {
	if len(archiveBytes) == 0 {
		return failureResult(modules.ErrCodeEmptyFile, "archive is empty"), nil
	}
	if len(archiveBytes) > MaxArchiveBytes {
		return failureResult(modules.ErrCodeFileTooLarge, "archive exceeds the maximum accepted size"), nil
	}

	zr, err := zip.NewReader(bytes.NewReader(archiveBytes), int64(len(archiveBytes)))
	if err != nil {
		return failureResult(classifyZipError(err), err.Error()), nil
	}
	if isEncrypted(zr) {
		return failureResult(modules.ErrCodeZipEncrypted, "archive entries are password-protected"), nil
	}

	discovery := modules.FileDiscovery{Format: modules.FormatUnknown, Files: nil}
	data := make(modules.ParsedAll)
	var warnings []modules.ParseWarning
	sawJSON, sawHTML := false, false

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		badge, format, recognized := classify(f.Name)
		if !recognized {
			continue
		}
		discovery.Files = append(discovery.Files, modules.DiscoveredFile{Path: f.Name, Kind: badge})
		discovery.IsRecognizedExport = true
		if discovery.BasePath == "" {
			discovery.BasePath = topLevelDir(f.Name)
		}

		switch format {
		case modules.FormatHTML:
			sawHTML = true
			warnings = append(warnings, modules.ParseWarning{
				Severity: modules.SeverityWarning,
				Code:     modules.ErrCodeHTMLFormat,
				Message:  "skipped HTML-format relation file: " + f.Name,
			})
			continue
		case modules.FormatJSON:
			sawJSON = true
		}

		entries, werr := decodeRelationFile(f)
		if werr != nil {
			warnings = append(warnings, modules.ParseWarning{
				Severity: modules.SeverityWarning,
				Code:     modules.ErrCodeJSONParseError,
				Message:  werr.Error() + ": " + f.Name,
			})
			continue
		}
		merge(data, badge, entries)
	}

	switch {
	case sawJSON:
		discovery.Format = modules.FormatJSON
	case sawHTML:
		discovery.Format = modules.FormatHTML
	}

	if !discovery.IsRecognizedExport {
		return failureResult(modules.ErrCodeNotInstagramExport, "no recognized relation files found in archive"), nil
	}
	if discovery.Format == modules.FormatHTML && !sawJSON {
		return modules.ParseResult{
			Data:           data,
			Warnings:       warnings,
			Discovery:      discovery,
			HasMinimalData: false,
		}, nil
	}

	if len(data) == 0 {
		warnings = append(warnings, modules.ParseWarning{
			Severity: modules.SeverityError,
			Code:     modules.ErrCodeNoDataFiles,
			Message:  "archive contained recognized paths but no decodable relation data",
		})
	}

	hasMinimal := hasMinimalData(data)
	if !hasMinimal {
		warnings = append(warnings, modules.ParseWarning{
			Severity: modules.SeverityError,
			Code:     modules.ErrCodeIncompleteExport,
			Message:  "neither following nor followers data is present",
		})
		warnings = append(warnings, missingFollowWarnings(data)...)
	}

	return modules.ParseResult{
		Data:           data,
		Warnings:       warnings,
		Discovery:      discovery,
		HasMinimalData: hasMinimal,
	}, nil
}

// hasMinimalData reports whether at least one of Following or Followers
// produced >= 1 entry (spec.md §4.E).
func hasMinimalData(data modules.ParsedAll) bool {
	return len(data[modules.BadgeFollowing]) > 0 || len(data[modules.BadgeFollowers]) > 0
}

func missingFollowWarnings(data modules.ParsedAll) []modules.ParseWarning {
	var out []modules.ParseWarning
	if len(data[modules.BadgeFollowing]) == 0 {
		out = append(out, modules.ParseWarning{Severity: modules.SeverityWarning, Code: modules.ErrCodeMissingFollowing, Message: "no following entries found"})
	}
	if len(data[modules.BadgeFollowers]) == 0 {
		out = append(out, modules.ParseWarning{Severity: modules.SeverityWarning, Code: modules.ErrCodeMissingFollowers, Message: "no followers entries found"})
	}
	return out
}

// merge folds decoded entries for badge into data, with "duplicate entries:
// last wins for timestamp" (spec.md §4.E).
func merge(data modules.ParsedAll, badge modules.Badge, entries map[string]int64) {
	set, ok := data[badge]
	if !ok {
		set = make(map[string]int64, len(entries))
		data[badge] = set
	}
	for username, ts := range entries {
		set[username] = ts
	}
}

func topLevelDir(entryName string) string {
	for i, c := range entryName {
		if c == '/' {
			return entryName[:i]
		}
	}
	return ""
}

func failureResult(code modules.ErrorCode, message string) modules.ParseResult {
	return modules.ParseResult{
		Warnings: []modules.ParseWarning{{
			Severity: modules.SeverityError,
			Code:     code,
			Message:  message,
		}},
		HasMinimalData: false,
	}
}

// isEncrypted reports whether any entry carries the traditional PKWARE
// encryption bit (general-purpose flag bit 0); archive/zip has no decryptor
// for these, so we surface ErrCodeZipEncrypted up front instead of letting
// every entry fail individually.
func isEncrypted(zr *zip.Reader) bool {
	for _, f := range zr.File {
		if f.Flags&0x1 != 0 {
			return true
		}
	}
	return false
}

func classifyZipError(err error) modules.ErrorCode {
	switch {
	case errors.Contains(err, zip.ErrFormat):
		return modules.ErrCodeNotZip
	case errors.Contains(err, zip.ErrAlgorithm):
		return modules.ErrCodeCorruptedZip
	case errors.Contains(err, zip.ErrChecksum):
		return modules.ErrCodeCorruptedZip
	default:
		return modules.ClassifyError(err)
	}
}

// ---- JSON decoding ----

// rawEntry is one element of a string_list_data array, or of a fully flat
// relation file (spec.md §6: "JSON files contain either
// {relationships_*: [{string_list_data: [...]}]} or an equivalent flat
// variant").
type rawEntry struct {
	Value     string `json:"value"`
	Timestamp *int64 `json:"timestamp"`
	Href      string `json:"href"`
}

type rawListWrapper struct {
	StringListData []rawEntry `json:"string_list_data"`
}

// decodeRelationFile reads and decodes a single relation file's entries,
// tolerating the several shapes Instagram's export has used over time.
func decodeRelationFile(f *zip.File) (map[string]int64, error) {
	if int64(f.UncompressedSize64) > MaxEntryBytes {
		return nil, errors.New("relation file too large")
	}
	rc, err := f.Open()
	if err != nil {
		return nil, errors.AddContext(err, "unable to open archive entry")
	}
	defer rc.Close()

	raw, err := io.ReadAll(io.LimitReader(rc, MaxEntryBytes+1))
	if err != nil {
		return nil, errors.AddContext(err, "unable to read archive entry")
	}
	if len(raw) == 0 {
		// An empty relation file is tolerated (spec.md §4.E "Tolerate:
		// missing files, empty files"); it simply contributes no entries.
		return map[string]int64{}, nil
	}

	entries, err := decodeEntries(raw)
	if err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(entries))
	for _, e := range entries {
		if e.Value == "" {
			continue
		}
		ts := modules.TimestampTrue
		if e.Timestamp != nil {
			ts = *e.Timestamp
		}
		out[e.Value] = ts
	}
	return out, nil
}

// decodeEntries tries, in order: the wrapped {relationships_*: [...]}
// shape, a bare array of wrapper objects, and a fully flat array of
// entries.
func decodeEntries(raw []byte) ([]rawEntry, error) {
	if wrapped, ok := tryWrappedObject(raw); ok {
		return wrapped, nil
	}
	if flatWrapped, ok := tryArrayOfWrappers(raw); ok {
		return flatWrapped, nil
	}
	if flat, ok := tryFlatArray(raw); ok {
		return flat, nil
	}
	return nil, errors.New("unrecognized relation file structure")
}

func tryWrappedObject(raw []byte) ([]rawEntry, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false
	}
	for key, val := range obj {
		if !hasRelationshipsPrefix(key) {
			continue
		}
		var wrappers []rawListWrapper
		if err := json.Unmarshal(val, &wrappers); err != nil {
			continue
		}
		return flattenWrappers(wrappers), true
	}
	return nil, false
}

func tryArrayOfWrappers(raw []byte) ([]rawEntry, bool) {
	var wrappers []rawListWrapper
	if err := json.Unmarshal(raw, &wrappers); err != nil {
		return nil, false
	}
	out := flattenWrappers(wrappers)
	if len(out) == 0 && len(wrappers) > 0 {
		// Objects without string_list_data: this is the fully flat shape.
		return nil, false
	}
	return out, true
}

func tryFlatArray(raw []byte) ([]rawEntry, bool) {
	var entries []rawEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false
	}
	return entries, true
}

func flattenWrappers(wrappers []rawListWrapper) []rawEntry {
	var out []rawEntry
	for _, w := range wrappers {
		out = append(out, w.StringListData...)
	}
	return out
}

func hasRelationshipsPrefix(key string) bool {
	const prefix = "relationships_"
	return len(key) >= len(prefix) && key[:len(prefix)] == prefix
}
