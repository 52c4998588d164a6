package sstable

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"syscall"
	"time"

	"github.com/cqlite-db/cqlite/bloom"
	"github.com/cqlite-db/cqlite/compress"
	"github.com/cqlite-db/cqlite/cqlerr"
)

type writerState int

const (
	stateOpen writerState = iota
	stateBuffering
	stateFlushed
)

// WriterConfig is everything Finish needs to know beyond the rows
// themselves: identity, schema shape (for the header's column
// descriptors), and the knobs spec 4.4/4.5/4.7 expose.
type WriterConfig struct {
	TableUUID        [16]byte
	Generation       uint32
	Keyspace         string
	Table            string
	Columns          []ColumnDescriptor
	Properties       map[string]string
	Compression      compress.Algorithm
	BlockTargetBytes int // uncompressed bytes per data block; DefaultBlockTargetBytes if 0
	BloomFPRate      float64
}

// Writer implements the spec 4.7 Open -> Buffering -> Flushed state
// machine. Rows may be Add-ed in arbitrary order; Finish sorts them,
// chunks them into target-sized blocks, compresses each block,
// maintains the bloom filter and partition index as it goes, and
// writes the full file (header, data, index, bloom, footer) to a
// temporary name before atomically renaming it into place.
//
// Unlike the teacher's SSTable, which appends one page per key-value
// pair as Put is called, this writer buffers every row in memory
// until Finish: a flush's input is bounded by the memtable's flush
// threshold (a few MiB by default), so buffering the whole input is
// simpler and still small relative to the resulting file.
type Writer struct {
	cfg   WriterConfig
	state writerState
	rows  []Row
}

// NewWriter begins buffering rows for one output table.
func NewWriter(cfg WriterConfig) *Writer {
	if cfg.BlockTargetBytes <= 0 {
		cfg.BlockTargetBytes = DefaultBlockTargetBytes
	}
	if cfg.BloomFPRate <= 0 {
		cfg.BloomFPRate = bloom.DefaultFalsePositiveRate
	}
	return &Writer{cfg: cfg, state: stateOpen}
}

// Add buffers one row. May be called in any key order; Finish sorts.
func (w *Writer) Add(r Row) error {
	if w.state == stateFlushed {
		return cqlerr.New(cqlerr.InvalidQuery, "sstable.Writer.Add", fmt.Errorf("writer already finished"))
	}
	w.state = stateBuffering
	w.rows = append(w.rows, r)
	return nil
}

// Finish sorts the buffered rows, serializes the table to path, and
// atomically renames it into place. path's directory must already
// exist. Finish may be called with zero rows (an empty table is
// legal, though callers should usually skip flushing an empty
// memtable instead).
func (w *Writer) Finish(path string) error {
	if w.state == stateFlushed {
		return cqlerr.New(cqlerr.InvalidQuery, "sstable.Writer.Finish", fmt.Errorf("writer already finished"))
	}

	sort.Slice(w.rows, func(i, j int) bool {
		return rowLess(w.rows[i], w.rows[j])
	})

	body, footer, err := w.buildFile()
	if err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := w.writeAtomically(path, tmpPath, body, footer); err != nil {
		return err
	}
	w.state = stateFlushed
	return nil
}

func rowLess(a, b Row) bool {
	if c := bytes.Compare(a.PartitionKey, b.PartitionKey); c != 0 {
		return c < 0
	}
	return bytes.Compare(a.ClusteringKey, b.ClusteringKey) < 0
}

// buildFile renders the header+data+index+bloom sections (in file
// order) and the footer that locates them, given the (already sorted)
// buffered rows.
func (w *Writer) buildFile() (body []byte, footer []byte, err error) {
	index := &Index{}
	data, keys, minTS, maxTS, uncompressedTotal := w.buildDataSection(index)

	filter := bloom.New(uint64(len(keys)), w.cfg.BloomFPRate)
	for _, k := range keys {
		filter.Add(k)
	}

	stats := Statistics{RowCount: uint64(len(w.rows)), MinTimestamp: minTS, MaxTimestamp: maxTS}
	if uncompressedTotal > 0 {
		stats.CompressionRatio = float64(len(data)) / float64(uncompressedTotal)
	}

	header := writeFileHeader(Header{
		TableUUID:   w.cfg.TableUUID,
		Generation:  w.cfg.Generation,
		Keyspace:    w.cfg.Keyspace,
		Table:       w.cfg.Table,
		Compression: CompressionDescriptor{Algorithm: w.cfg.Compression.String(), ChunkSize: uint32(w.cfg.BlockTargetBytes)},
		Stats:       stats,
		Columns:     w.cfg.Columns,
		Properties:  w.cfg.Properties,
	})

	// Block offsets recorded by buildDataSection are relative to the
	// start of the data section; shift them to be file-absolute now
	// that the header length (which precedes the data section) is
	// final.
	for i := range index.Entries {
		index.Entries[i].BlockOffset += uint64(len(header))
	}

	dataEnd := uint64(len(header) + len(data))
	indexBytes := index.Marshal(nil)
	indexOffset := dataEnd
	bloomOffset := indexOffset + uint64(len(indexBytes))
	bloomBytes := filter.Marshal(nil)

	body = make([]byte, 0, len(header)+len(data)+len(indexBytes)+len(bloomBytes))
	body = append(body, header...)
	body = append(body, data...)
	body = append(body, indexBytes...)
	body = append(body, bloomBytes...)

	footer = writeFooter(Footer{IndexOffset: indexOffset, BloomOffset: bloomOffset, DataEnd: dataEnd})
	return body, footer, nil
}

// buildDataSection chunks the sorted rows into BlockTargetBytes-sized
// blocks, compresses each, and appends an Index entry per block (with
// block offsets relative to the start of the data section — the
// caller shifts them to file-absolute once the header length is
// known). Returns the data section bytes, the distinct partition keys
// seen (for the bloom filter), and the min/max write times across all
// rows.
func (w *Writer) buildDataSection(index *Index) (data []byte, keys [][]byte, minTS, maxTS int64, uncompressedTotal int) {
	var block []byte
	var blockFirstKey []byte
	var lastPartitionKey []byte
	var dataOffset uint64

	flush := func() {
		if len(block) == 0 {
			return
		}
		chunk, cerr := compress.CompressChunk(nil, w.cfg.Compression, block)
		if cerr != nil {
			// CompressChunk only fails on an algorithm the writer
			// itself chose being unrecognized; that is a programmer
			// error, not a runtime one worth threading through
			// Finish's signature.
			panic(cerr)
		}
		index.Entries = append(index.Entries, IndexEntry{
			FirstKey:          blockFirstKey,
			BlockOffset:       dataOffset,
			BlockLen:          uint32(len(chunk)),
			WithinBlockOffset: 0,
		})
		uncompressedTotal += len(block)
		data = append(data, chunk...)
		dataOffset += uint64(len(chunk))
		block = block[:0]
		blockFirstKey = nil
	}

	for i, r := range w.rows {
		if i == 0 || !bytes.Equal(r.PartitionKey, lastPartitionKey) {
			keys = append(keys, r.PartitionKey)
			lastPartitionKey = r.PartitionKey
		}
		if i == 0 || r.WriteTime < minTS {
			minTS = r.WriteTime
		}
		if i == 0 || r.WriteTime > maxTS {
			maxTS = r.WriteTime
		}

		if blockFirstKey == nil {
			blockFirstKey = r.PartitionKey
		}
		block = encodeRow(block, r)
		if len(block) >= w.cfg.BlockTargetBytes {
			flush()
		}
	}
	flush()

	return data, keys, minTS, maxTS, uncompressedTotal
}

func (w *Writer) writeAtomically(finalPath, tmpPath string, body, footer []byte) (err error) {
	f, err := openFileWithRetry(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err = f.Write(body); err != nil {
		return cqlerr.New(cqlerr.Io, "sstable.Writer.Finish", err)
	}
	if _, err = f.Write(footer); err != nil {
		return cqlerr.New(cqlerr.Io, "sstable.Writer.Finish", err)
	}
	if err = f.Sync(); err != nil {
		return cqlerr.New(cqlerr.Io, "sstable.Writer.Finish", err)
	}
	if err = f.Close(); err != nil {
		return cqlerr.New(cqlerr.Io, "sstable.Writer.Finish", err)
	}
	if err = os.Rename(tmpPath, finalPath); err != nil {
		return cqlerr.New(cqlerr.Io, "sstable.Writer.Finish", err)
	}
	return nil
}

// openFileWithRetry retries os.OpenFile with bounded backoff when the
// platform reports it is out of file descriptors (spec 4.7's
// TooManyOpenFiles), since that condition is often transient under
// concurrent flush/compaction load; any other failure, or exhausting
// the retry budget, surfaces as Io.
func openFileWithRetry(path string, flag int, perm os.FileMode) (*os.File, error) {
	const maxAttempts = 5
	backoff := 10 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		f, err := os.OpenFile(path, flag, perm)
		if err == nil {
			return f, nil
		}
		lastErr = err
		if !errors.Is(err, syscall.EMFILE) && !errors.Is(err, syscall.ENFILE) {
			return nil, cqlerr.New(cqlerr.Io, "sstable.openFileWithRetry", err)
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	return nil, cqlerr.New(cqlerr.Io, "sstable.openFileWithRetry", fmt.Errorf("exhausted retries: %w", lastErr))
}
