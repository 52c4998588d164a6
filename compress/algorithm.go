// Package compress implements the chunked data-block compression framing
// of spec 4.4: each chunk is
//
//	uncompressed_len:u32 || compressed_len:u32 || algorithm_tag:u8
//	    || payload:bytes[compressed_len] || crc32c:u32
//
// over None, LZ4 (block mode), Snappy, or Deflate payloads.
package compress

import (
	"fmt"

	"github.com/cqlite-db/cqlite/cqlerr"
)

// Algorithm identifies a chunk payload codec.
type Algorithm uint8

const (
	None Algorithm = iota
	LZ4
	Snappy
	Deflate
)

// Tag returns the single-byte algorithm_tag this algorithm writes to disk.
func (a Algorithm) Tag() byte { return byte(a) }

func (a Algorithm) String() string {
	switch a {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Snappy:
		return "snappy"
	case Deflate:
		return "deflate"
	default:
		return "unknown"
	}
}

// AlgorithmFromTag resolves an on-disk algorithm_tag byte.
func AlgorithmFromTag(tag byte) (Algorithm, error) {
	switch Algorithm(tag) {
	case None, LZ4, Snappy, Deflate:
		return Algorithm(tag), nil
	default:
		return 0, cqlerr.New(cqlerr.UnsupportedVersion, "compress.AlgorithmFromTag", fmt.Errorf("unknown algorithm tag %d", tag))
	}
}

// AlgorithmFromName resolves a schema WITH-option compression class name
// (e.g. "LZ4Compressor") to an Algorithm.
func AlgorithmFromName(name string) (Algorithm, bool) {
	switch name {
	case "LZ4Compressor", "lz4":
		return LZ4, true
	case "SnappyCompressor", "snappy":
		return Snappy, true
	case "DeflateCompressor", "deflate":
		return Deflate, true
	case "", "none", "NoCompression":
		return None, true
	default:
		return 0, false
	}
}
