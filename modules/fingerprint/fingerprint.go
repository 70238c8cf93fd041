// Package fingerprint computes the content fingerprint of spec.md §4.D: a
// lowercase hex SHA-256 digest taken over the first MiB of a file's bytes,
// used as the archive's content-addressed identity across the module.
//
// The hash itself is computed with github.com/minio/sha256-simd, a
// drop-in, AVX2/SHA-NI accelerated implementation of the standard
// crypto/sha256 API — the same reach-for-the-faster-library-over-stdlib
// instinct the teacher applies to its own crypto package.
package fingerprint

import (
	"encoding/hex"
	"io"

	"github.com/minio/sha256-simd"
	"github.com/uplo-tech/errors"
)

// SampleBytes is the number of leading bytes hashed (spec.md §4.D: "first
// 1 MiB"). Files shorter than this are hashed in full.
const SampleBytes = 1 << 20

// ErrEmptyFile is returned when the input has zero bytes; an empty file has
// no meaningful fingerprint (spec.md §6 EMPTY_FILE).
var ErrEmptyFile = errors.New("fingerprint: file is empty")

// Compute returns the lowercase hex SHA-256 fingerprint of the first
// SampleBytes of data.
func Compute(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyFile
	}
	sample := data
	if len(sample) > SampleBytes {
		sample = sample[:SampleBytes]
	}
	sum := sha256.Sum256(sample)
	return hex.EncodeToString(sum[:]), nil
}

// ComputeReader streams at most SampleBytes from r, allowing the caller to
// fingerprint content without holding the full file in memory. It reports
// ErrEmptyFile if r yields no bytes at all.
func ComputeReader(r io.Reader) (string, error) {
	h := sha256.New()
	n, err := io.CopyN(h, r, SampleBytes)
	if err != nil && err != io.EOF {
		return "", errors.AddContext(err, "fingerprint: unable to read input")
	}
	if n == 0 {
		return "", ErrEmptyFile
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
