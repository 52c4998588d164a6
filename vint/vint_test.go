package vint

import (
	"math"
	"testing"

	"github.com/cqlite-db/cqlite/cqlerr"
)

func TestRoundTrip(t *testing.T) {
	cases := []int64{
		0, 1, -1, 63, -64, 64, -65, 127, -128, 1000, -1000,
		16383, -16384, 16384, 1 << 20, -(1 << 20),
		math.MaxInt64, math.MinInt64, math.MaxInt32, math.MinInt32,
	}
	for _, n := range cases {
		enc := Encode(nil, n)
		got, rest, err := Decode(enc)
		if err != nil {
			t.Fatalf("Decode(%d): %v", n, err)
		}
		if len(rest) != 0 {
			t.Fatalf("Decode(%d): leftover bytes %v", n, rest)
		}
		if got != n {
			t.Fatalf("round trip mismatch: encoded %d, decoded %d (bytes=%x)", n, got, enc)
		}
	}
}

func TestZeroIsOneByteAllClear(t *testing.T) {
	enc := Encode(nil, 0)
	if len(enc) != 1 {
		t.Fatalf("expected 1 byte, got %d: %x", len(enc), enc)
	}
	if enc[0]&0x80 != 0 {
		t.Fatalf("expected high bit clear, got %x", enc[0])
	}
}

func TestLengthGrowsWithMagnitude(t *testing.T) {
	prevLen := 0
	for _, n := range []int64{0, 100, 10000, 1000000, 100000000, 1e10, 1e14, math.MaxInt64} {
		enc := Encode(nil, n)
		if len(enc) < prevLen {
			t.Fatalf("encoding shrank for larger magnitude %d: %d < %d", n, len(enc), prevLen)
		}
		prevLen = len(enc)
	}
}

func TestDecodeTruncated(t *testing.T) {
	enc := Encode(nil, 1<<40)
	_, _, err := Decode(enc[:1])
	if !cqlerr.Is(err, cqlerr.Truncated) {
		t.Fatalf("expected Truncated, got %v", err)
	}
	_, _, err = Decode(nil)
	if !cqlerr.Is(err, cqlerr.Truncated) {
		t.Fatalf("expected Truncated for empty input, got %v", err)
	}
}

func TestDecodeLengthRejectsNegative(t *testing.T) {
	enc := Encode(nil, -5)
	_, _, err := DecodeLength(enc)
	if !cqlerr.Is(err, cqlerr.NegativeLength) {
		t.Fatalf("expected NegativeLength, got %v", err)
	}
}

func TestSequentialDecode(t *testing.T) {
	var buf []byte
	buf = Encode(buf, 1)
	buf = Encode(buf, -12345)
	buf = Encode(buf, math.MaxInt64)

	var got []int64
	rest := buf
	for len(rest) > 0 {
		var n int64
		var err error
		n, rest, err = Decode(rest)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		got = append(got, n)
	}
	want := []int64{1, -12345, math.MaxInt64}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: got %d want %d", i, got[i], want[i])
		}
	}
}
