package sstable

import (
	"bytes"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/edsrzf/mmap-go"

	"github.com/cqlite-db/cqlite/bloom"
	"github.com/cqlite-db/cqlite/compress"
	"github.com/cqlite-db/cqlite/cqlerr"
)

// DefaultMmapThreshold is the file size (bytes) at or above which Open
// memory-maps the file instead of reading blocks through the buffer
// pool (spec 4.8).
const DefaultMmapThreshold = 64 * 1024 * 1024

// ReaderConfig tunes how a Reader serves block bytes.
type ReaderConfig struct {
	MmapThreshold int64 // DefaultMmapThreshold if 0
}

// ReaderStats is the spec 4.8 stats() snapshot.
type ReaderStats struct {
	RowCount     uint64
	BlockCount   int
	BlocksServed uint64
	BytesMapped  int64
}

// Reader is an open, immutable handle on one SSTable file. A Reader is
// safe for concurrent Get/Scan calls; it is created once per file by
// the catalog and shared across in-flight queries until compaction
// retires it (spec 3 "Ownership / lifecycle").
type Reader struct {
	path   string
	file   *os.File
	size   int64
	header Header
	footer Footer
	index  *Index
	filter *bloom.Filter

	mapped mmap.MMap // non-nil when memory-mapped

	blocksServed atomic.Uint64
}

// Open parses and validates path's header and footer, loads the
// partition index and bloom filter into memory, and memory-maps the
// file if it is at or above the mmap threshold.
func Open(path string, cfg ReaderConfig) (*Reader, error) {
	threshold := cfg.MmapThreshold
	if threshold <= 0 {
		threshold = DefaultMmapThreshold
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, cqlerr.New(cqlerr.Io, "sstable.Open", err)
	}
	closeOnErr := true
	defer func() {
		if closeOnErr {
			f.Close()
		}
	}()

	fi, err := f.Stat()
	if err != nil {
		return nil, cqlerr.New(cqlerr.Io, "sstable.Open", err)
	}
	size := fi.Size()

	r := &Reader{path: path, file: f, size: size}

	var whole []byte
	if size >= threshold {
		m, err := mmap.Map(f, mmap.RDONLY, 0)
		if err != nil {
			return nil, cqlerr.New(cqlerr.Io, "sstable.Open", err)
		}
		r.mapped = m
		whole = m
	}

	footer, err := r.readFooterBytes(whole)
	if err != nil {
		return nil, err
	}
	r.footer = footer

	headerAndData, err := r.readRange(whole, 0, int64(footer.DataEnd))
	if err != nil {
		return nil, err
	}
	header, _, err := readFileHeader(headerAndData)
	if err != nil {
		return nil, err
	}
	r.header = header

	indexBytes, err := r.readRange(whole, int64(footer.IndexOffset), int64(footer.BloomOffset))
	if err != nil {
		return nil, err
	}
	index, rest, err := UnmarshalIndex(indexBytes)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, cqlerr.New(cqlerr.Corrupt, "sstable.Open", fmt.Errorf("%d trailing bytes after partition index", len(rest)))
	}
	r.index = index

	bloomBytes, err := r.readRange(whole, int64(footer.BloomOffset), size-footerTrailerLen)
	if err != nil {
		return nil, err
	}
	filter, rest, err := bloom.Unmarshal(bloomBytes)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, cqlerr.New(cqlerr.Corrupt, "sstable.Open", fmt.Errorf("%d trailing bytes after bloom filter", len(rest)))
	}
	r.filter = filter

	closeOnErr = false
	return r, nil
}

// HeaderInfo returns the table's parsed header (schema shape, generation,
// compression, and statistics), for callers like compaction that need to
// carry it forward into a new generation's writer.
func (r *Reader) HeaderInfo() Header { return r.header }

// footerTrailerLen is the 32-byte footer+magic trailer's length, used
// to compute where the bloom section ends.
const footerTrailerLen = footerLen + 8

func (r *Reader) readFooterBytes(whole []byte) (Footer, error) {
	if whole != nil {
		return readFooter(whole)
	}
	if r.size < footerTrailerLen {
		return Footer{}, cqlerr.New(cqlerr.Truncated, "sstable.Open", nil)
	}
	buf := make([]byte, footerTrailerLen)
	if _, err := r.file.ReadAt(buf, r.size-footerTrailerLen); err != nil {
		return Footer{}, cqlerr.New(cqlerr.Io, "sstable.Open", err)
	}
	return readFooter(buf)
}

// readRange returns file bytes [start, end), either by slicing the
// mmap (whole != nil) or by a direct ReadAt otherwise. It is only used
// for the header/index/bloom sections, which are always loaded fully
// into memory regardless of mmap vs streaming mode.
func (r *Reader) readRange(whole []byte, start, end int64) ([]byte, error) {
	if whole != nil {
		if end > int64(len(whole)) || start < 0 || start > end {
			return nil, cqlerr.New(cqlerr.Truncated, "sstable.Open", nil)
		}
		return whole[start:end], nil
	}
	buf := make([]byte, end-start)
	if _, err := r.file.ReadAt(buf, start); err != nil {
		return nil, cqlerr.New(cqlerr.Io, "sstable.Open", err)
	}
	return buf, nil
}

// fetchBlock returns the raw (compressed) bytes for one data block,
// via the mmap slice or a pooled streaming buffer.
func (r *Reader) fetchBlock(e IndexEntry) (block, error) {
	if r.mapped != nil {
		end := int64(e.BlockOffset) + int64(e.BlockLen)
		if end > int64(len(r.mapped)) {
			return nil, cqlerr.New(cqlerr.Corrupt, "sstable.fetchBlock", fmt.Errorf("block range exceeds file"))
		}
		return mmapBlock{b: r.mapped[e.BlockOffset:end]}, nil
	}
	buf := getStreamingBuffer(int(e.BlockLen))
	if _, err := r.file.ReadAt(buf.Bytes(), int64(e.BlockOffset)); err != nil {
		buf.Release()
		return nil, cqlerr.New(cqlerr.Io, "sstable.fetchBlock", err)
	}
	return buf, nil
}

// decodeBlock decompresses one data block and parses every row in it.
func (r *Reader) decodeBlock(e IndexEntry) ([]Row, error) {
	b, err := r.fetchBlock(e)
	if err != nil {
		return nil, err
	}
	defer b.Release()
	r.blocksServed.Add(1)

	plain, rest, err := compress.DecompressChunk(b.Bytes())
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, cqlerr.New(cqlerr.Corrupt, "sstable.decodeBlock", fmt.Errorf("%d trailing bytes after chunk", len(rest)))
	}

	var rows []Row
	for len(plain) != 0 {
		var row Row
		row, plain, err = decodeRow(plain)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Get performs a bloom -> index -> block -> linear-scan point lookup
// for the exact (partitionKey, clusteringKey) pair (spec 4.8).
func (r *Reader) Get(partitionKey, clusteringKey []byte) (Row, bool, error) {
	if !r.filter.Contains(partitionKey) {
		return Row{}, false, nil
	}
	entry, ok := r.index.Find(partitionKey)
	if !ok {
		return Row{}, false, nil
	}
	rows, err := r.decodeBlock(entry)
	if err != nil {
		return Row{}, false, err
	}
	for _, row := range rows {
		if bytes.Equal(row.PartitionKey, partitionKey) && bytes.Equal(row.ClusteringKey, clusteringKey) {
			return row, true, nil
		}
	}
	return Row{}, false, nil
}

// GetPartition returns every row sharing partitionKey, in ascending
// clustering-key order. Used by plans that need a whole partition
// (spec 4.12 RangeScan with every partition-key column equality-bound).
func (r *Reader) GetPartition(partitionKey []byte) ([]Row, error) {
	if !r.filter.Contains(partitionKey) {
		return nil, nil
	}
	entry, ok := r.index.Find(partitionKey)
	if !ok {
		return nil, nil
	}

	var out []Row
	for {
		rows, err := r.decodeBlock(entry)
		if err != nil {
			return nil, err
		}
		matched := false
		for _, row := range rows {
			if bytes.Equal(row.PartitionKey, partitionKey) {
				out = append(out, row)
				matched = true
			}
		}
		// A partition may span into the next block only if this
		// block's last row was still this partition; stop as soon as
		// a block contributes no matching rows past the first one we
		// found, or there is no next block.
		idx := r.blockIndexOf(entry)
		if idx < 0 || idx+1 >= len(r.index.Entries) {
			break
		}
		next := r.index.Entries[idx+1]
		if !matched || !bytes.Equal(next.FirstKey, partitionKey) {
			break
		}
		entry = next
	}
	return out, nil
}

func (r *Reader) blockIndexOf(e IndexEntry) int {
	for i, entry := range r.index.Entries {
		if entry.BlockOffset == e.BlockOffset {
			return i
		}
	}
	return -1
}

// Bound pins a (partition key, clustering key) scan boundary; either
// field may be nil for an open bound.
type Bound struct {
	PartitionKey  []byte
	ClusteringKey []byte
}

func compareRowToBound(r Row, b *Bound) int {
	if b == nil || b.PartitionKey == nil {
		return 0
	}
	if c := bytes.Compare(r.PartitionKey, b.PartitionKey); c != 0 {
		return c
	}
	if b.ClusteringKey == nil {
		return 0
	}
	return bytes.Compare(r.ClusteringKey, b.ClusteringKey)
}

// Iterator walks rows in ascending composite-key order, block by
// block, starting at the block containing start (or the first block
// if start is nil) and stopping once end is exceeded or limit rows
// have been produced. It is not safe to use once the Reader it came
// from has been closed (spec 4.8).
type Iterator struct {
	r       *Reader
	end     *Bound
	limit   int
	yielded int

	// skipTo, while non-nil, causes Next to silently skip rows
	// strictly before this bound; cleared once the first in-range row
	// is found.
	skipTo *Bound

	blockIdx int
	rows     []Row
	pos      int
	cur      Row
	err      error
	done     bool
}

// Scan returns a lazy iterator over [start, end] (either bound may be
// nil). limit <= 0 means unbounded.
func (r *Reader) Scan(start, end *Bound, limit int) *Iterator {
	it := &Iterator{r: r, end: end, limit: limit}

	if start != nil && start.PartitionKey != nil {
		if entry, ok := r.index.Find(start.PartitionKey); ok {
			it.blockIdx = r.blockIndexOf(entry)
		}
		it.skipTo = start
	}
	return it
}

func (it *Iterator) loadNextBlock() bool {
	if it.blockIdx >= len(it.r.index.Entries) {
		return false
	}
	entry := it.r.index.Entries[it.blockIdx]
	rows, err := it.r.decodeBlock(entry)
	if err != nil {
		it.err = err
		return false
	}
	it.rows = rows
	it.pos = 0
	it.blockIdx++
	return true
}

// Next advances to the next row, returning false once exhausted or an
// error occurred (check Err).
func (it *Iterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}
	if it.limit > 0 && it.yielded >= it.limit {
		it.done = true
		return false
	}

	for {
		if it.pos >= len(it.rows) {
			if !it.loadNextBlock() {
				it.done = true
				return false
			}
			continue
		}

		row := it.rows[it.pos]
		it.pos++

		if it.skipTo != nil {
			if compareRowToBound(row, it.skipTo) < 0 {
				continue
			}
			it.skipTo = nil
		}
		if it.end != nil && it.end.PartitionKey != nil && compareRowToBound(row, it.end) > 0 {
			it.done = true
			return false
		}

		it.cur = row
		it.yielded++
		return true
	}
}

// Row returns the row at the iterator's current position.
func (it *Iterator) Row() Row { return it.cur }

// Err returns any error Next encountered.
func (it *Iterator) Err() error { return it.err }

// Stats returns cached reader counters (spec 4.8 stats()).
func (r *Reader) Stats() ReaderStats {
	mapped := int64(0)
	if r.mapped != nil {
		mapped = r.size
	}
	return ReaderStats{
		RowCount:     r.header.Stats.RowCount,
		BlockCount:   len(r.index.Entries),
		BlocksServed: r.blocksServed.Load(),
		BytesMapped:  mapped,
	}
}

// Close releases the Reader's file handle and mmap, if any. Callers
// must not use any Iterator produced by this Reader afterward.
func (r *Reader) Close() error {
	if r.mapped != nil {
		if err := r.mapped.Unmap(); err != nil {
			return cqlerr.New(cqlerr.Io, "sstable.Reader.Close", err)
		}
	}
	if err := r.file.Close(); err != nil {
		return cqlerr.New(cqlerr.Io, "sstable.Reader.Close", err)
	}
	return nil
}
