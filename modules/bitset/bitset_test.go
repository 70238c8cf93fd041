package bitset

import (
	"reflect"
	"testing"
)

func TestSetHasClear(t *testing.T) {
	b := New(100)
	b.Set(0)
	b.Set(63)
	b.Set(64)
	b.Set(99)
	for _, i := range []int{0, 63, 64, 99} {
		if !b.Has(i) {
			t.Fatalf("expected bit %d set", i)
		}
	}
	if b.Has(1) || b.Has(65) {
		t.Fatalf("unexpected bit set")
	}
	b.Clear(64)
	if b.Has(64) {
		t.Fatalf("expected bit 64 cleared")
	}
	if b.Count() != 3 {
		t.Fatalf("expected count 3, got %d", b.Count())
	}
}

func TestOutOfRangeIsNoop(t *testing.T) {
	b := New(10)
	b.Set(-1)
	b.Set(10)
	b.Set(1000)
	if b.Count() != 0 {
		t.Fatalf("expected 0 count, got %d", b.Count())
	}
	if b.Has(-1) || b.Has(10) {
		t.Fatalf("expected out-of-range Has to be false")
	}
}

func TestIntersectUnshared(t *testing.T) {
	a := New(200)
	a.Set(5)
	a.Set(150)
	b := New(10) // shorter capacity, treated as zero-extended
	b.Set(5)

	got := a.Intersect(b)
	if !got.Has(5) {
		t.Fatalf("expected bit 5 to survive intersect")
	}
	if got.Has(150) {
		t.Fatalf("expected bit 150 to be zeroed by shorter operand")
	}
}

func TestUnion(t *testing.T) {
	a := New(10)
	a.Set(1)
	b := New(20)
	b.Set(15)
	u := a.Union(b)
	if !u.Has(1) || !u.Has(15) {
		t.Fatalf("expected union of both operands")
	}
	if u.Len() != 20 {
		t.Fatalf("expected union capacity 20, got %d", u.Len())
	}
}

func TestToIndicesAscending(t *testing.T) {
	b := New(200)
	for _, i := range []int{199, 0, 64, 63, 128, 1} {
		b.Set(i)
	}
	got := b.ToIndices()
	want := []uint32{0, 1, 63, 64, 128, 199}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestFromIndices(t *testing.T) {
	idx := []uint32{2, 4, 6, 1000}
	b := FromIndices(idx, 10)
	if b.Count() != 3 {
		t.Fatalf("expected out-of-range index dropped, count=%d", b.Count())
	}
	for _, i := range []uint32{2, 4, 6} {
		if !b.Has(int(i)) {
			t.Fatalf("expected bit %d set", i)
		}
	}
}

func TestRoundTripBytes(t *testing.T) {
	b := New(130)
	for _, i := range []int{0, 1, 63, 64, 65, 129} {
		b.Set(i)
	}
	raw := b.ToBytes()
	if len(raw)%8 != 0 {
		t.Fatalf("expected word-aligned byte length, got %d", len(raw))
	}
	got, err := FromBytes(raw, 130)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if !reflect.DeepEqual(got.words, b.words) {
		t.Fatalf("round trip mismatch")
	}
}

func TestFromBytesMasksHighBits(t *testing.T) {
	// 10 bits -> 1 word. Poison the high bits, then confirm FromBytes masks
	// them off so Count only reports bits below n.
	raw := make([]byte, 8)
	raw[0] = 0xFF
	raw[1] = 0xFF
	b, err := FromBytes(raw, 10)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if b.Count() != 10 {
		t.Fatalf("expected count 10 after masking, got %d", b.Count())
	}
}

func TestFromBytesTruncated(t *testing.T) {
	_, err := FromBytes([]byte{0, 0, 0}, 100)
	if err == nil {
		t.Fatalf("expected error for truncated input")
	}
}

func TestCloneIndependence(t *testing.T) {
	a := New(10)
	a.Set(1)
	c := a.Clone()
	c.Set(2)
	if a.Has(2) {
		t.Fatalf("mutating clone should not affect original")
	}
}
