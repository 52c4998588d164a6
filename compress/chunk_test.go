package compress

import (
	"bytes"
	"strings"
	"testing"

	"github.com/cqlite-db/cqlite/cqlerr"
)

func TestChunkRoundTripAllAlgorithms(t *testing.T) {
	src := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog ", 200))

	for _, algo := range []Algorithm{None, LZ4, Snappy, Deflate} {
		enc, err := CompressChunk(nil, algo, src)
		if err != nil {
			t.Fatalf("%v: CompressChunk: %v", algo, err)
		}
		plain, rest, err := DecompressChunk(enc)
		if err != nil {
			t.Fatalf("%v: DecompressChunk: %v", algo, err)
		}
		if len(rest) != 0 {
			t.Fatalf("%v: leftover bytes %x", algo, rest)
		}
		if !bytes.Equal(plain, src) {
			t.Fatalf("%v: round trip mismatch", algo)
		}
	}
}

func TestChunkRoundTripEmptyInput(t *testing.T) {
	enc, err := CompressChunk(nil, LZ4, nil)
	if err != nil {
		t.Fatalf("CompressChunk: %v", err)
	}
	plain, _, err := DecompressChunk(enc)
	if err != nil {
		t.Fatalf("DecompressChunk: %v", err)
	}
	if len(plain) != 0 {
		t.Fatalf("expected empty plaintext, got %d bytes", len(plain))
	}
}

func TestSequentialChunks(t *testing.T) {
	var buf []byte
	buf, _ = CompressChunk(buf, Snappy, []byte("first chunk"))
	buf, _ = CompressChunk(buf, Deflate, []byte("second chunk, a bit longer than the first"))

	first, rest, err := DecompressChunk(buf)
	if err != nil {
		t.Fatalf("first chunk: %v", err)
	}
	if string(first) != "first chunk" {
		t.Fatalf("first chunk: got %q", first)
	}
	second, rest, err := DecompressChunk(rest)
	if err != nil {
		t.Fatalf("second chunk: %v", err)
	}
	if string(second) != "second chunk, a bit longer than the first" {
		t.Fatalf("second chunk: got %q", second)
	}
	if len(rest) != 0 {
		t.Fatalf("leftover after both chunks: %x", rest)
	}
}

func TestDecompressChunkDetectsCorruption(t *testing.T) {
	enc, _ := CompressChunk(nil, None, []byte("hello world"))
	corrupted := append([]byte{}, enc...)
	corrupted[len(corrupted)-1] ^= 0xFF // flip a bit in the trailing CRC

	_, _, err := DecompressChunk(corrupted)
	if !cqlerr.Is(err, cqlerr.Corrupt) {
		t.Fatalf("expected Corrupt, got %v", err)
	}
}

func TestDecompressChunkDetectsTruncation(t *testing.T) {
	enc, _ := CompressChunk(nil, Snappy, []byte("hello world"))
	_, _, err := DecompressChunk(enc[:len(enc)-2])
	if !cqlerr.Is(err, cqlerr.Truncated) {
		t.Fatalf("expected Truncated, got %v", err)
	}
}

func TestAlgorithmFromNameMapsCompressionClasses(t *testing.T) {
	cases := map[string]Algorithm{
		"LZ4Compressor":     LZ4,
		"SnappyCompressor":  Snappy,
		"DeflateCompressor": Deflate,
		"":                  None,
	}
	for name, want := range cases {
		got, ok := AlgorithmFromName(name)
		if !ok || got != want {
			t.Fatalf("AlgorithmFromName(%q): got %v, %v", name, got, ok)
		}
	}
}
