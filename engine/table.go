package engine

import (
	"sync"

	"github.com/cqlite-db/cqlite/memtable"
	"github.com/cqlite-db/cqlite/query"
	"github.com/cqlite-db/cqlite/schema"
	"github.com/cqlite-db/cqlite/sstable"
)

// generationHandle pairs an open reader with the on-disk path and
// generation number the catalog needs to retire it after compaction.
type generationHandle struct {
	reader *sstable.Reader
	path   string
	number uint32
}

// tableState is one table's live catalog entry: schema, write buffer, and
// the generation list. Per spec 3 "Ownership / lifecycle" and spec 5's
// catalog rules, generations is behind a read-write lock: readers take a
// brief read-lock to snapshot the current slice of handles, and flush/
// compaction take the write side only to publish a new slice — in-flight
// queries keep using the handles from the snapshot they took, even if the
// catalog has since moved on.
type tableState struct {
	schema    *schema.TableSchema
	rowType   *sstable.TypeDescriptor // composed Tuple of every non-key column, in schema order
	tableUUID [16]byte                // stable identity stamped into every generation this table writes
	dir       string                  // this table's generation-file directory

	mu          sync.RWMutex
	memtable    *memtable.Memtable
	generations []*generationHandle
	nextGen     uint32
}

// snapshotGenerations returns the current generation list, newest last,
// for a reader that should not observe generations published after this
// call (spec 5 "reads see a snapshot of the generation list taken at read
// start").
func (t *tableState) snapshotGenerations() []*generationHandle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*generationHandle, len(t.generations))
	copy(out, t.generations)
	return out
}

func (t *tableState) queryGenerations() []query.Generation {
	handles := t.snapshotGenerations()
	out := make([]query.Generation, len(handles))
	for i, h := range handles {
		out[i] = query.Generation{Reader: h.reader, Number: uint64(h.number)}
	}
	return out
}

// snapshotForRead takes the read lock once and returns both a copy of the
// live memtable's current rows and the open generation list, so a caller
// folding memtable writes into a query never scans the memtable's skip
// list concurrently with a Put (which takes the write lock) — the whole
// scan happens inside this one critical section, not across a
// snapshot-then-read-later window.
func (t *tableState) snapshotForRead() (memtableRows []memtable.Row, generations []query.Generation) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	it := t.memtable.Snapshot()
	for it.Next() {
		memtableRows = append(memtableRows, it.Row())
	}

	generations = make([]query.Generation, len(t.generations))
	for i, h := range t.generations {
		generations[i] = query.Generation{Reader: h.reader, Number: uint64(h.number)}
	}
	return memtableRows, generations
}
