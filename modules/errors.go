package modules

import "github.com/uplo-tech/errors"

// ErrorCode is the closed sum of canonical error codes from spec.md §6.
// Every error this module returns to a consumer carries exactly one of
// these, either because the producing code constructed it directly or
// because ClassifyError mapped a lower-level error onto it.
type ErrorCode string

// Parser/ingest error codes.
const (
	ErrCodeNotZip              ErrorCode = "NotZip"
	ErrCodeHTMLFormat          ErrorCode = "HtmlFormat"
	ErrCodeNotInstagramExport  ErrorCode = "NotInstagramExport"
	ErrCodeIncompleteExport    ErrorCode = "IncompleteExport"
	ErrCodeNoDataFiles         ErrorCode = "NoDataFiles"
	ErrCodeMissingFollowing    ErrorCode = "MissingFollowing"
	ErrCodeMissingFollowers    ErrorCode = "MissingFollowers"
	ErrCodeCorruptedZip        ErrorCode = "CorruptedZip"
	ErrCodeZipEncrypted        ErrorCode = "ZipEncrypted"
	ErrCodeEmptyFile           ErrorCode = "EmptyFile"
	ErrCodeFileTooLarge        ErrorCode = "FileTooLarge"
	ErrCodeJSONParseError      ErrorCode = "JsonParseError"
	ErrCodeInvalidDataStruct   ErrorCode = "InvalidDataStructure"
)

// Runtime error codes.
const (
	ErrCodeWorkerTimeout        ErrorCode = "WorkerTimeout"
	ErrCodeWorkerInitError      ErrorCode = "WorkerInitError"
	ErrCodeWorkerCrashed        ErrorCode = "WorkerCrashed"
	ErrCodeIndexedDBError       ErrorCode = "IndexedDBError"
	ErrCodeQuotaExceeded        ErrorCode = "QuotaExceeded"
	ErrCodeIDBNotSupported      ErrorCode = "IDBNotSupported"
	ErrCodeIDBPermissionDenied  ErrorCode = "IDBPermissionDenied"
	ErrCodeUploadCancelled      ErrorCode = "UploadCancelled"
	ErrCodeCryptoNotAvailable   ErrorCode = "CryptoNotAvailable"
	ErrCodeNetworkError         ErrorCode = "NetworkError"
	ErrCodeUnknown              ErrorCode = "Unknown"
)

// CodedError pairs a canonical error code with a human-readable message and
// an optional wrapped cause. Consumer-facing error responses (spec.md §7
// "a structured error with an explicit code field bypasses classification")
// are always a *CodedError.
type CodedError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// Unwrap lets errors.Is/errors.As (and uplo-tech/errors.Contains) see
// through to the underlying cause.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// NewCodedError builds a CodedError with no wrapped cause.
func NewCodedError(code ErrorCode, message string) *CodedError {
	return &CodedError{Code: code, Message: message}
}

// WrapCodedError builds a CodedError that wraps a lower-level cause.
func WrapCodedError(code ErrorCode, message string, cause error) *CodedError {
	return &CodedError{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the canonical code from err if it is (or wraps) a
// *CodedError, classifying it via the keyword ruleset otherwise.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ClassifyError(err)
}

// keywordRule is one row of the table-driven classifier (spec.md §7): every
// listed keyword (case-insensitive) must appear in the error's message for
// the rule to match.
type keywordRule struct {
	code     ErrorCode
	keywords []string
}

// classifierTable is checked in order; the first fully-matching rule wins.
// Ordering matters where keyword sets overlap (e.g. "zip"+"encrypt" must be
// checked before a bare "zip" rule, were one to exist).
var classifierTable = []keywordRule{
	{ErrCodeZipEncrypted, []string{"zip", "encrypt"}},
	{ErrCodeCorruptedZip, []string{"zip", "corrupt"}},
	{ErrCodeCorruptedZip, []string{"zip", "invalid"}},
	{ErrCodeNotZip, []string{"not a valid zip"}},
	{ErrCodeNotZip, []string{"illegal file header"}},
	{ErrCodeEmptyFile, []string{"empty file"}},
	{ErrCodeFileTooLarge, []string{"too large"}},
	{ErrCodeJSONParseError, []string{"json"}},
	{ErrCodeQuotaExceeded, []string{"quota"}},
	{ErrCodeQuotaExceeded, []string{"disk", "full"}},
	{ErrCodeWorkerTimeout, []string{"timeout"}},
	{ErrCodeWorkerTimeout, []string{"deadline", "exceeded"}},
	{ErrCodeNetworkError, []string{"network"}},
	{ErrCodeNetworkError, []string{"connection", "refused"}},
	{ErrCodeCryptoNotAvailable, []string{"crypto", "unavailable"}},
}

// ClassifyError maps a free-text error from an underlying system (the zip
// reader, Bolt, the OS) onto a canonical ErrorCode using the keyword
// ruleset of spec.md §7. For a non-nil error it never returns an empty
// code: unmatched errors classify as ErrCodeUnknown. A nil error yields "".
func ClassifyError(err error) ErrorCode {
	if err == nil {
		return ""
	}
	msg := toLowerASCII(err.Error())
	for _, rule := range classifierTable {
		if allKeywordsPresent(msg, rule.keywords) {
			return rule.code
		}
	}
	return ErrCodeUnknown
}

func allKeywordsPresent(msg string, keywords []string) bool {
	for _, kw := range keywords {
		if !containsASCII(msg, kw) {
			return false
		}
	}
	return true
}

func toLowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func containsASCII(haystack, needle string) bool {
	if len(needle) == 0 {
		return true
	}
	if len(needle) > len(haystack) {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

// ParseWarningSeverity distinguishes a fatal parse problem from one that is
// merely surfaced to the consumer alongside a successful ingest.
type ParseWarningSeverity string

const (
	SeverityError   ParseWarningSeverity = "error"
	SeverityWarning ParseWarningSeverity = "warning"
)

// ParseWarning is one entry of ParseResult.Warnings (spec.md §4.E).
type ParseWarning struct {
	Severity ParseWarningSeverity
	Code     ErrorCode
	Message  string
}
