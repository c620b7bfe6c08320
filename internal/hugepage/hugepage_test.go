package hugepage

import "testing"

func TestRoundUp(t *testing.T) {
	cases := map[uint64]uint64{
		0:          0,
		1:          Size,
		Size:       Size,
		Size + 1:   2 * Size,
		2 * Size:   2 * Size,
	}
	for in, want := range cases {
		if got := roundUp(in); got != want {
			t.Fatalf("roundUp(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestLeUint64(t *testing.T) {
	b := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	want := uint64(0x0807060504030201)
	if got := leUint64(b); got != want {
		t.Fatalf("leUint64(%v) = %#x, want %#x", b, got, want)
	}
}
