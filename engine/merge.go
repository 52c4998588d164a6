package engine

import (
	"bytes"
	"sort"

	"github.com/cqlite-db/cqlite/memtable"
	"github.com/cqlite-db/cqlite/query"
	"github.com/cqlite-db/cqlite/tombstone"
	"github.com/cqlite-db/cqlite/types"
)

// queryTable runs req against ts: the query.Executor resolves every open
// SSTable generation (spec 4.12's plan/pipeline, unchanged), and the
// live memtable's current rows are resolved and merged in separately,
// since Executor explicitly stops at the generation boundary (see its
// doc comment in executor.go) and has no notion of the engine's
// in-memory write buffer.
//
// A key present in the memtable always shadows the same key's value
// from any SSTable generation: a flush drains the memtable into a new
// generation and installs a fresh one atomically (flush.go), so under
// this engine's single in-process-writer model a key live in the
// current memtable can only be newer than whatever already-flushed
// generations hold for it.
func (e *Engine) queryTable(ts *tableState, req *query.Request) ([]query.ResultRow, error) {
	memRows, generations := ts.snapshotForRead()

	now := nowMicros()
	limits := &types.DefaultLimits

	diskReq := *req
	diskReq.Limit = 0 // truncate once, after merging with the memtable below

	executor := &query.Executor{
		Generations:              generations,
		RowType:                  ts.rowType,
		Limits:                   limits,
		Now:                      now,
		SortMaterializationLimit: e.opts.SortMaterializationLimit,
	}
	diskRows, diskRanges, err := executor.ExecuteWithRangeTombstones(&diskReq)
	if err != nil {
		return nil, err
	}

	memResolved, memRanges, err := resolveMemtableRows(memRows, req, ts.rowType, limits, now)
	if err != nil {
		return nil, err
	}

	ranges := mergeRangeTombstones(diskRanges, memRanges)
	diskRows = filterByRangeTombstones(diskRows, ranges, now)
	memResolved = filterByRangeTombstones(memResolved, ranges, now)

	merged := mergeDiskAndMemtable(diskRows, memResolved)
	if req.Limit > 0 && len(merged) > req.Limit {
		merged = merged[:req.Limit]
	}
	return merged, nil
}

// resolveMemtableRows filters rows by req's key predicates, resolves
// each row's own tombstone/TTL state (a memtable row is always exactly
// one generation's candidate, so this is tombstone.Merge on a
// single-element Candidate slice), and applies req's non-key predicates.
// It also returns, keyed by partition key, every range tombstone found
// in the memtable for a partition req touches — collected against every
// row sharing that partition key regardless of req's clustering bounds,
// since the tombstone row itself need not fall inside the scanned range
// for its filtering effect on other rows to apply.
func resolveMemtableRows(rows []memtable.Row, req *query.Request, rowType *types.TypeDescriptor, limits *types.Limits, now int64) ([]query.ResultRow, map[string][]tombstone.RangeTombstone, error) {
	ranges := make(map[string][]tombstone.RangeTombstone)
	for _, row := range rows {
		if req.PartitionKey != nil && !bytes.Equal(row.PartitionKey, req.PartitionKey) {
			continue
		}
		v, _, err := types.DecodeCell(row.Cell, rowType, limits)
		if err != nil {
			return nil, nil, err
		}
		if tomb, ok := v.(types.TombstoneValue); ok && tomb.Kind == types.TombstoneRange {
			key := string(row.PartitionKey)
			ranges[key] = append(ranges[key], tombstone.RangeTombstone{Tombstone: tomb, WriteTime: row.WriteTime})
		}
	}

	var out []query.ResultRow
	for _, row := range rows {
		if !memtableKeyMatches(row, req) {
			continue
		}
		v, _, err := types.DecodeCell(row.Cell, rowType, limits)
		if err != nil {
			return nil, nil, err
		}
		resolved := tombstone.Merge([]tombstone.Candidate{{Value: v, WriteTime: row.WriteTime}}, now)
		if resolved == nil {
			continue
		}
		if _, isTomb := resolved.(types.TombstoneValue); isTomb {
			continue
		}
		out = append(out, query.ResultRow{
			PartitionKey:  row.PartitionKey,
			ClusteringKey: row.ClusteringKey,
			Value:         resolved,
			WriteTime:     row.WriteTime,
		})
	}
	return query.FilterRows(out, req.Predicates), ranges, nil
}

// mergeRangeTombstones unions two partition-keyed range tombstone maps
// collected from disk generations and the live memtable, since a range
// tombstone recorded in either source must shadow matching cells in
// both.
func mergeRangeTombstones(a, b map[string][]tombstone.RangeTombstone) map[string][]tombstone.RangeTombstone {
	out := make(map[string][]tombstone.RangeTombstone, len(a)+len(b))
	for k, v := range a {
		out[k] = append(out[k], v...)
	}
	for k, v := range b {
		out[k] = append(out[k], v...)
	}
	return out
}

// filterByRangeTombstones drops any row whose clustering key falls under
// an applicable range tombstone recorded for its partition.
func filterByRangeTombstones(rows []query.ResultRow, ranges map[string][]tombstone.RangeTombstone, now int64) []query.ResultRow {
	if len(ranges) == 0 {
		return rows
	}
	out := rows[:0]
	for _, row := range rows {
		shadowed := false
		for _, rt := range ranges[string(row.PartitionKey)] {
			if tombstone.RangeApplies(rt, row.ClusteringKey, row.WriteTime, now) {
				shadowed = true
				break
			}
		}
		if !shadowed {
			out = append(out, row)
		}
	}
	return out
}

func memtableKeyMatches(row memtable.Row, req *query.Request) bool {
	if req.PartitionKey != nil && !bytes.Equal(row.PartitionKey, req.PartitionKey) {
		return false
	}
	if req.ClusterLower != nil {
		c := bytes.Compare(row.ClusteringKey, req.ClusterLower)
		if c < 0 || (c == 0 && !req.ClusterLowerInclusive) {
			return false
		}
	}
	if req.ClusterUpper != nil {
		c := bytes.Compare(row.ClusteringKey, req.ClusterUpper)
		if c > 0 || (c == 0 && !req.ClusterUpperInclusive) {
			return false
		}
	}
	return true
}

// mergeDiskAndMemtable drops any disk row whose key also appears in the
// memtable results (the memtable copy wins) and returns the union in
// ascending (partition key, clustering key) order.
func mergeDiskAndMemtable(disk, mem []query.ResultRow) []query.ResultRow {
	memKeys := make(map[string]bool, len(mem))
	for _, r := range mem {
		memKeys[rowKeyString(r)] = true
	}

	out := make([]query.ResultRow, 0, len(disk)+len(mem))
	for _, r := range disk {
		if memKeys[rowKeyString(r)] {
			continue
		}
		out = append(out, r)
	}
	out = append(out, mem...)

	sort.SliceStable(out, func(i, j int) bool {
		if c := bytes.Compare(out[i].PartitionKey, out[j].PartitionKey); c != 0 {
			return c < 0
		}
		return bytes.Compare(out[i].ClusteringKey, out[j].ClusteringKey) < 0
	})
	return out
}

func rowKeyString(r query.ResultRow) string {
	return string(r.PartitionKey) + "\x00" + string(r.ClusteringKey)
}
