package compress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/flate"
	"github.com/pierrec/lz4/v4"
)

// compressPayload compresses src with algo and returns the payload plus
// the algorithm actually used to produce it — LZ4 reports back None for
// input it cannot shrink, since pierrec's block compressor signals that
// case by writing nothing rather than an expanded block.
func compressPayload(algo Algorithm, src []byte) ([]byte, Algorithm, error) {
	switch algo {
	case None:
		out := make([]byte, len(src))
		copy(out, src)
		return out, None, nil

	case LZ4:
		bound := lz4.CompressBlockBound(len(src))
		dst := make([]byte, bound)
		var ht [1 << 16]int
		n, err := lz4.CompressBlock(src, dst, ht[:])
		if err != nil {
			return nil, 0, err
		}
		if n == 0 {
			out := make([]byte, len(src))
			copy(out, src)
			return out, None, nil
		}
		return dst[:n], LZ4, nil

	case Snappy:
		return snappy.Encode(nil, src), Snappy, nil

	case Deflate:
		var buf bytes.Buffer
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, 0, err
		}
		if _, err := w.Write(src); err != nil {
			return nil, 0, err
		}
		if err := w.Close(); err != nil {
			return nil, 0, err
		}
		return buf.Bytes(), Deflate, nil

	default:
		return nil, 0, fmt.Errorf("compress: unsupported algorithm %v", algo)
	}
}

func decompressPayload(algo Algorithm, payload []byte, uncompressedLen int) ([]byte, error) {
	switch algo {
	case None:
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil

	case LZ4:
		dst := make([]byte, uncompressedLen)
		n, err := lz4.UncompressBlock(payload, dst)
		if err != nil {
			return nil, err
		}
		return dst[:n], nil

	case Snappy:
		return snappy.Decode(make([]byte, 0, uncompressedLen), payload)

	case Deflate:
		r := flate.NewReader(bytes.NewReader(payload))
		defer r.Close()
		out := make([]byte, 0, uncompressedLen)
		buf := bytes.NewBuffer(out)
		if _, err := io.Copy(buf, r); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil

	default:
		return nil, fmt.Errorf("compress: unsupported algorithm %v", algo)
	}
}
