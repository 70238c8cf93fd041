// Package columnar implements the packed-bytes-plus-offsets string block of
// spec.md §4.B, used to store the username and display-name columns of a
// fingerprint without per-string allocation overhead.
package columnar

import "github.com/uplo-tech/errors"

// Builder accumulates strings and produces a Block.
type Builder struct {
	data    []byte
	offsets []uint32
}

// NewBuilder returns an empty Builder. capacityHint sizes the initial data
// buffer to reduce reallocation for large account counts; it is not a
// correctness contract.
func NewBuilder(capacityHint int) *Builder {
	return &Builder{
		data:    make([]byte, 0, capacityHint),
		offsets: []uint32{0},
	}
}

// Push appends s as the next entry.
func (b *Builder) Push(s string) {
	b.data = append(b.data, s...)
	b.offsets = append(b.offsets, uint32(len(b.data)))
}

// Block is the built, immutable packed string column (spec.md §3
// ColumnRecord's data/offsets/length triple).
type Block struct {
	Data    []byte
	Offsets []uint32
	Length  int
}

// Build finalizes the Builder into a Block. The offsets table satisfies the
// invariant of spec.md §3: offsets[0] == 0, offsets[n] == len(data), and is
// monotone non-decreasing by construction (Push only appends).
func (b *Builder) Build() Block {
	return Block{
		Data:    b.data,
		Offsets: b.offsets,
		Length:  len(b.offsets) - 1,
	}
}

// Reader provides random and ranged access over a built Block without
// materializing every string up front.
type Reader struct {
	block Block
}

// NewReader wraps a Block for reading. It validates the offsets invariant
// once at construction so every subsequent Get/GetRange can index without
// re-checking bounds on each call.
func NewReader(block Block) (*Reader, error) {
	if len(block.Offsets) != block.Length+1 {
		return nil, errors.New("columnar: offsets length does not match declared length")
	}
	if block.Length > 0 {
		if block.Offsets[0] != 0 {
			return nil, errors.New("columnar: offsets[0] must be 0")
		}
		if int(block.Offsets[block.Length]) != len(block.Data) {
			return nil, errors.New("columnar: offsets[n] must equal len(data)")
		}
		for i := 1; i <= block.Length; i++ {
			if block.Offsets[i] < block.Offsets[i-1] {
				return nil, errors.New("columnar: offsets must be non-decreasing")
			}
		}
	}
	return &Reader{block: block}, nil
}

// Len returns the number of strings in the column.
func (r *Reader) Len() int {
	return r.block.Length
}

// Get returns the i'th string. It panics on an out-of-range i, matching the
// teacher's convention that internal storage-layer accessors trust their
// caller (the public Storage Engine API is the bounds-checking boundary).
func (r *Reader) Get(i int) string {
	return string(r.block.Data[r.block.Offsets[i]:r.block.Offsets[i+1]])
}

// GetRange returns the half-open range [start, end) as a freshly allocated
// slice of strings.
func (r *Reader) GetRange(start, end int) []string {
	if start < 0 {
		start = 0
	}
	if end > r.block.Length {
		end = r.block.Length
	}
	if start >= end {
		return nil
	}
	out := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, r.Get(i))
	}
	return out
}
