package engine

import (
	"context"
	"os"

	"github.com/cqlite-db/cqlite/compaction"
	"github.com/cqlite-db/cqlite/sstable"
)

// compactDueTables considers every table's current generation set for
// size-tiered compaction. It runs on the same maintenance loop as
// flushDueTables (runMaintenance, in flush.go) rather than its own
// goroutine, so flush and compaction never allocate a new generation
// number for the same table concurrently.
func (e *Engine) compactDueTables() {
	e.catalogMu.RLock()
	tables := make([]*tableState, 0, len(e.catalog))
	for _, ts := range e.catalog {
		tables = append(tables, ts)
	}
	e.catalogMu.RUnlock()

	for _, ts := range tables {
		if err := e.compactTable(ts); err != nil {
			e.opts.Logger.Printf("engine: compact %s.%s failed: %v", ts.schema.Keyspace, ts.schema.Table, err)
		}
	}
}

// compactTable plans and runs size-tiered compaction for one table, then
// publishes the result by swapping the compacted inputs out of the
// generation list for the new output generation and closing/removing the
// retired files — the only place besides flushTable that mutates
// ts.generations.
func (e *Engine) compactTable(ts *tableState) error {
	handles := ts.snapshotGenerations()
	if len(handles) == 0 {
		return nil
	}

	cfg := e.opts.Compaction
	cfg.GCGraceSeconds = tableGCGrace(ts, e.opts)

	generations := make([]compaction.Generation, len(handles))
	byPath := make(map[string]*generationHandle, len(handles))
	for i, h := range handles {
		size, err := fileSize(h.path)
		if err != nil {
			return err
		}
		generations[i] = compaction.Generation{Path: h.path, Number: h.number, Size: size}
		byPath[h.path] = h
	}

	plans := compaction.PlanCompactions(generations, cfg, ts.dir)
	if len(plans) == 0 {
		return nil
	}

	results, err := compaction.Run(context.Background(), plans, cfg, func(path string) (*sstable.Reader, error) {
		return sstable.Open(path, sstable.ReaderConfig{MmapThreshold: e.opts.MmapThreshold})
	}, ts.rowType, nowMicros())
	if err != nil {
		return err
	}

	for _, res := range results {
		newReader, err := sstable.Open(res.Plan.OutputPath, sstable.ReaderConfig{MmapThreshold: e.opts.MmapThreshold})
		if err != nil {
			return err
		}
		retired := make(map[uint32]bool, len(res.Plan.Inputs))
		for _, in := range res.Plan.Inputs {
			retired[in.Number] = true
		}

		ts.mu.Lock()
		kept := ts.generations[:0:0]
		for _, h := range ts.generations {
			if retired[h.number] {
				continue
			}
			kept = append(kept, h)
		}
		kept = append(kept, &generationHandle{reader: newReader, path: res.Plan.OutputPath, number: res.Plan.OutputGen})
		ts.generations = kept
		if ts.nextGen <= res.Plan.OutputGen {
			ts.nextGen = res.Plan.OutputGen + 1
		}
		ts.mu.Unlock()

		for _, in := range res.Plan.Inputs {
			if h, ok := byPath[in.Path]; ok {
				h.reader.Close()
				os.Remove(h.path)
			}
		}
	}
	return nil
}

func tableGCGrace(ts *tableState, opts Options) int64 {
	if ts.schema.GCGraceSeconds > 0 {
		return ts.schema.GCGraceSeconds
	}
	return opts.GCGraceSeconds
}

func fileSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}
