package columnar

import "testing"

func TestPushBuildReadRoundTrip(t *testing.T) {
	in := []string{"alice", "bob", "", "carol-unicode-é"}
	b := NewBuilder(16)
	for _, s := range in {
		b.Push(s)
	}
	block := b.Build()
	if block.Offsets[0] != 0 {
		t.Fatalf("offsets[0] must be 0")
	}
	if int(block.Offsets[len(block.Offsets)-1]) != len(block.Data) {
		t.Fatalf("offsets[n] must equal len(data)")
	}

	r, err := NewReader(block)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if r.Len() != len(in) {
		t.Fatalf("expected len %d, got %d", len(in), r.Len())
	}
	for i, want := range in {
		if got := r.Get(i); got != want {
			t.Fatalf("index %d: got %q, want %q", i, got, want)
		}
	}
}

func TestGetRangeHalfOpen(t *testing.T) {
	b := NewBuilder(0)
	for _, s := range []string{"a", "b", "c", "d"} {
		b.Push(s)
	}
	r, err := NewReader(b.Build())
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	got := r.GetRange(1, 3)
	want := []string{"b", "c"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got := r.GetRange(3, 3); got != nil {
		t.Fatalf("expected nil for empty range, got %v", got)
	}
	if got := r.GetRange(2, 100); len(got) != 2 {
		t.Fatalf("expected range clamp to length, got %v", got)
	}
}

func TestNewReaderRejectsBadOffsets(t *testing.T) {
	bad := Block{Data: []byte("ab"), Offsets: []uint32{0, 1, 1}, Length: 1}
	if _, err := NewReader(bad); err == nil {
		t.Fatalf("expected error for length/offsets mismatch")
	}

	bad2 := Block{Data: []byte("ab"), Offsets: []uint32{1, 2}, Length: 1}
	if _, err := NewReader(bad2); err == nil {
		t.Fatalf("expected error for offsets[0] != 0")
	}
}

func TestEmptyBlock(t *testing.T) {
	b := NewBuilder(0)
	r, err := NewReader(b.Build())
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty block")
	}
}
