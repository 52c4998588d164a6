package compress

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/cqlite-db/cqlite/cqlerr"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// headerLen is uncompressed_len:u32 || compressed_len:u32 || algorithm_tag:u8.
const headerLen = 4 + 4 + 1

// trailerLen is crc32c:u32.
const trailerLen = 4

// CompressChunk compresses src with algo and frames it as a single chunk.
func CompressChunk(dst []byte, algo Algorithm, src []byte) ([]byte, error) {
	payload, usedAlgo, err := compressPayload(algo, src)
	if err != nil {
		return nil, err
	}

	start := len(dst)
	dst = appendU32(dst, uint32(len(src)))
	dst = appendU32(dst, uint32(len(payload)))
	dst = append(dst, usedAlgo.Tag())
	dst = append(dst, payload...)

	crc := crc32.Checksum(dst[start:], castagnoli)
	dst = appendU32(dst, crc)
	return dst, nil
}

// DecompressChunk reads one chunk from the front of data, validates its
// CRC, decompresses the payload, and returns the plaintext plus the
// unconsumed remainder. Fails with cqlerr.Corrupt on CRC mismatch, size
// disagreement, or truncation; a reader recovering from Corrupt may
// advance past the whole chunk to try the next one but must not serve
// data from this one (spec 4.4).
func DecompressChunk(data []byte) (plain []byte, rest []byte, err error) {
	if len(data) < headerLen {
		return nil, nil, cqlerr.New(cqlerr.Truncated, "compress.DecompressChunk", nil)
	}
	uncompressedLen := binary.BigEndian.Uint32(data[0:4])
	compressedLen := binary.BigEndian.Uint32(data[4:8])
	algo, err := AlgorithmFromTag(data[8])
	if err != nil {
		return nil, nil, err
	}

	total := headerLen + int(compressedLen) + trailerLen
	if len(data) < total {
		return nil, nil, cqlerr.New(cqlerr.Truncated, "compress.DecompressChunk", nil)
	}

	payload := data[headerLen : headerLen+int(compressedLen)]
	wantCRC := binary.BigEndian.Uint32(data[headerLen+int(compressedLen) : total])
	gotCRC := crc32.Checksum(data[:headerLen+int(compressedLen)], castagnoli)
	if gotCRC != wantCRC {
		return nil, nil, cqlerr.New(cqlerr.Corrupt, "compress.DecompressChunk", fmt.Errorf("crc32c mismatch"))
	}

	plain, err = decompressPayload(algo, payload, int(uncompressedLen))
	if err != nil {
		return nil, nil, cqlerr.New(cqlerr.Corrupt, "compress.DecompressChunk", err)
	}
	if len(plain) != int(uncompressedLen) {
		return nil, nil, cqlerr.New(cqlerr.Corrupt, "compress.DecompressChunk", fmt.Errorf("uncompressed size disagreement: got %d want %d", len(plain), uncompressedLen))
	}

	return plain, data[total:], nil
}

func appendU32(dst []byte, v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return append(dst, buf[:]...)
}
