// Package memtable is the per-table in-memory write buffer of spec 4.9:
// an ordered map keyed by (partition key, clustering key), with size
// accounting against a flush threshold and an atomic drain-and-replace
// so writers are never blocked by a flush in progress.
package memtable

// DefaultFlushThreshold is the spec's default should_flush() trigger.
const DefaultFlushThreshold = 4 * 1024 * 1024

// entryOverheadBytes approximates the fixed bookkeeping cost of one
// entry (skip list node pointers, struct headers) beyond its raw key and
// value bytes, so size accounting isn't just sum-of-byte-lengths.
const entryOverheadBytes = 48

// entryKey is the ordering key: partition key bytes, then clustering key
// bytes, both compared lexicographically as raw bytes — the same order
// the partition index and SSTable writer use.
type entryKey struct {
	partitionKey  string
	clusteringKey string
}

func compareKeys(a, b entryKey) bool {
	if a.partitionKey != b.partitionKey {
		return a.partitionKey < b.partitionKey
	}
	return a.clusteringKey < b.clusteringKey
}

// entry is one stored row: an already cell-encoded value or tombstone
// (types.EncodeCell output) plus the write timestamp that made it
// current.
type entry struct {
	partitionKey  []byte
	clusteringKey []byte
	cell          []byte
	writeTime     int64
}

func (e *entry) sizeBytes() int64 {
	return int64(len(e.partitionKey)+len(e.clusteringKey)+len(e.cell)) + entryOverheadBytes
}

// Row is a materialized entry returned by Get and by the drain iterator.
type Row struct {
	PartitionKey  []byte
	ClusteringKey []byte
	Cell          []byte
	WriteTime     int64
}

// Memtable is one table's ordered write buffer.
type Memtable struct {
	list      *skipList
	size      int64
	threshold int64
	sealed    bool
}

// New creates an empty memtable that should_flush()es once its size
// reaches threshold (DefaultFlushThreshold if threshold <= 0).
func New(threshold int64) *Memtable {
	if threshold <= 0 {
		threshold = DefaultFlushThreshold
	}
	return &Memtable{
		list:      newSkipList(compareKeys),
		threshold: threshold,
	}
}

// Put inserts or overwrites the row at (partitionKey, clusteringKey).
// Overwriting an existing key always takes the new value regardless of
// writeTime ordering — within one memtable there is exactly one writer
// applying operations in the order it decided to apply them (live
// traffic in arrival order, or WAL replay in log order), so "last write
// wins" reduces to "last Put call wins"; writeTime is carried through
// for the cross-generation tombstone merger, not compared here.
func (m *Memtable) Put(partitionKey, clusteringKey, cell []byte, writeTime int64) {
	if m.sealed {
		panic("memtable: Put after Drain")
	}

	key := entryKey{partitionKey: string(partitionKey), clusteringKey: string(clusteringKey)}
	e := &entry{
		partitionKey:  append([]byte(nil), partitionKey...),
		clusteringKey: append([]byte(nil), clusteringKey...),
		cell:          append([]byte(nil), cell...),
		writeTime:     writeTime,
	}

	old := m.list.put(key, e)
	m.size += e.sizeBytes()
	if old != nil {
		m.size -= old.sizeBytes()
	}
}

// Get returns the row at (partitionKey, clusteringKey), if present.
func (m *Memtable) Get(partitionKey, clusteringKey []byte) (Row, bool) {
	key := entryKey{partitionKey: string(partitionKey), clusteringKey: string(clusteringKey)}
	e, ok := m.list.get(key)
	if !ok {
		return Row{}, false
	}
	return Row{
		PartitionKey:  e.partitionKey,
		ClusteringKey: e.clusteringKey,
		Cell:          e.cell,
		WriteTime:     e.writeTime,
	}, true
}

// ShouldFlush reports whether the memtable has reached its flush
// threshold.
func (m *Memtable) ShouldFlush() bool {
	return m.size >= m.threshold
}

// Size returns the current accounted size in bytes.
func (m *Memtable) Size() int64 {
	return m.size
}

// Sealed reports whether Drain has already been called.
func (m *Memtable) Sealed() bool {
	return m.sealed
}

// Drain seals the memtable against further Puts and returns an iterator
// over its rows in ascending (partition key, clustering key) order,
// suitable for the SSTable writer to consume directly. The caller is
// responsible for atomically installing a fresh *Memtable in this one's
// place so concurrent writers are never blocked on the flush this feeds.
func (m *Memtable) Drain() *Iterator {
	m.sealed = true
	return &Iterator{node: m.list.firstNode()}
}

// Snapshot returns an iterator over the memtable's current rows in
// ascending key order without sealing it against further Puts, so a
// query can fold not-yet-flushed writes into a range or table scan
// while write traffic keeps landing in the same memtable. Rows added
// after Snapshot is called may or may not be observed, the same
// read-your-own-snapshot guarantee the skip list already gives Get.
func (m *Memtable) Snapshot() *Iterator {
	return &Iterator{node: m.list.firstNode()}
}

// Iterator walks a drained memtable's rows in ascending key order.
type Iterator struct {
	node *skipNode
	cur  Row
}

// Next advances to the next row, returning false once exhausted.
func (it *Iterator) Next() bool {
	if it.node == nil {
		return false
	}
	e := it.node.entry
	it.cur = Row{
		PartitionKey:  e.partitionKey,
		ClusteringKey: e.clusteringKey,
		Cell:          e.cell,
		WriteTime:     e.writeTime,
	}
	it.node = it.node.forward[0]
	return true
}

// Row returns the row at the iterator's current position.
func (it *Iterator) Row() Row {
	return it.cur
}
