package engine

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/cqlite-db/cqlite/memtable"
	"github.com/cqlite-db/cqlite/schema"
	"github.com/cqlite-db/cqlite/sstable"
)

// runMaintenance is the single background loop driving both flush and
// compaction. The teacher runs these as two separate goroutines
// (backgroundFlusher, backgroundCompactor), each busy-polling with
// time.Sleep(BACKGROUND_OP_SLEEP) inside a select against its exit
// channel; here both are driven by time.Tickers instead. Flush and
// compaction are kept on
// one goroutine rather than two independently-ticking ones so the two
// never race to assign the same table a new generation number at the
// same time — flushTable and compactTable each allocate from the same
// ts.nextGen counter under ts.mu, but only one of them runs at a time.
func (e *Engine) runMaintenance() {
	defer e.wg.Done()
	flushTicker := time.NewTicker(e.opts.FlushPollInterval)
	defer flushTicker.Stop()
	compactTicker := time.NewTicker(e.opts.CompactionInterval)
	defer compactTicker.Stop()
	for {
		select {
		case <-e.exit:
			return
		case <-flushTicker.C:
			e.flushDueTables()
		case <-compactTicker.C:
			e.compactDueTables()
		}
	}
}

// flushDueTables flushes every table whose memtable has crossed its
// threshold, then resets the shared WAL if every table's memtable is now
// empty (see flushTable's doc comment for why that check is required).
func (e *Engine) flushDueTables() {
	e.catalogMu.RLock()
	tables := make([]*tableState, 0, len(e.catalog))
	for _, ts := range e.catalog {
		tables = append(tables, ts)
	}
	e.catalogMu.RUnlock()

	flushedAny := false
	for _, ts := range tables {
		ts.mu.RLock()
		due := ts.memtable.ShouldFlush()
		ts.mu.RUnlock()
		if !due {
			continue
		}
		if err := e.flushTable(ts); err != nil {
			e.opts.Logger.Printf("engine: flush %s.%s failed: %v", ts.schema.Keyspace, ts.schema.Table, err)
			continue
		}
		flushedAny = true
	}
	if flushedAny {
		e.resetWALIfIdle()
	}
}

// flushTable drains ts's memtable into a new SSTable generation and
// installs a fresh memtable in its place. It does not reset the WAL
// itself: the log is shared by every table (wal.go's doc comment), so a
// Reset is only safe once every table's memtable is simultaneously
// empty — the caller (flushDueTables) is responsible for that check
// after flushing whichever tables were actually due. Close flushes every
// table but does not reset the log.
func (e *Engine) flushTable(ts *tableState) error {
	ts.mu.Lock()
	if !ts.memtable.ShouldFlush() && ts.memtable.Size() == 0 {
		ts.mu.Unlock()
		return nil
	}
	drained := ts.memtable.Drain()
	gen := ts.nextGen
	ts.nextGen++
	ts.mu.Unlock()

	path := filepath.Join(ts.dir, fmt.Sprintf("generation-%d.db", gen))
	w := sstable.NewWriter(sstable.WriterConfig{
		TableUUID:        ts.tableUUID,
		Generation:       gen,
		Keyspace:         ts.schema.Keyspace,
		Table:            ts.schema.Table,
		Columns:          buildColumnDescriptors(ts.schema),
		Compression:      e.opts.Compression,
		BlockTargetBytes: e.opts.BlockTargetBytes,
		BloomFPRate:      e.opts.BloomFPRate,
	})

	rowCount := 0
	for drained.Next() {
		row := drained.Row()
		if err := w.Add(sstable.Row{
			PartitionKey:  row.PartitionKey,
			ClusteringKey: row.ClusteringKey,
			Cell:          row.Cell,
			WriteTime:     row.WriteTime,
		}); err != nil {
			return err
		}
		rowCount++
	}
	if rowCount == 0 {
		// nothing to flush; still need a fresh memtable since Drain
		// sealed this one
		ts.mu.Lock()
		ts.memtable = memtable.New(e.opts.MemtableFlushThreshold)
		ts.nextGen--
		ts.mu.Unlock()
		return nil
	}
	if err := w.Finish(path); err != nil {
		return err
	}

	reader, err := sstable.Open(path, sstable.ReaderConfig{MmapThreshold: e.opts.MmapThreshold})
	if err != nil {
		return err
	}

	ts.mu.Lock()
	ts.memtable = memtable.New(e.opts.MemtableFlushThreshold)
	ts.generations = append(append([]*generationHandle(nil), ts.generations...), &generationHandle{
		reader: reader,
		path:   path,
		number: gen,
	})
	ts.mu.Unlock()
	return nil
}

// resetWALIfIdle resets the shared WAL only when every table's memtable
// is currently empty. A table whose memtable still holds unflushed rows
// must keep its WAL records around to survive a crash before its own
// next flush, and since the log is one shared file (not per-table),
// resetting it while any table is non-empty would silently discard that
// table's durability.
func (e *Engine) resetWALIfIdle() {
	e.catalogMu.RLock()
	defer e.catalogMu.RUnlock()
	for _, ts := range e.catalog {
		ts.mu.RLock()
		empty := ts.memtable.Size() == 0
		ts.mu.RUnlock()
		if !empty {
			return
		}
	}
	if err := e.wal.Reset(); err != nil {
		e.opts.Logger.Printf("engine: wal reset failed: %v", err)
	}
}

// buildColumnDescriptors mirrors a schema's columns into the header shape
// sstable.Writer needs, in declaration order.
func buildColumnDescriptors(s *schema.TableSchema) []sstable.ColumnDescriptor {
	out := make([]sstable.ColumnDescriptor, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = sstable.ColumnDescriptor{
			Name:       c.Name,
			Type:       c.Type,
			PrimaryKey: c.Role == schema.RolePartitionKey || c.Role == schema.RoleClusteringKey,
			Position:   int32(i),
			Static:     c.Role == schema.RoleStatic,
			Clustering: c.Role == schema.RoleClusteringKey,
		}
	}
	return out
}
