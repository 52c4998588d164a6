package compaction

import (
	"bytes"
	"sort"

	"github.com/cqlite-db/cqlite/sstable"
	"github.com/cqlite-db/cqlite/tombstone"
	"github.com/cqlite-db/cqlite/types"
)

// sourcedRow is one physical row plus which input generation it came
// from, needed by tombstone.Merge's (generation, write_time) ordering.
type sourcedRow struct {
	row        sstable.Row
	generation uint64
}

// mergeGenerations reads every input reader fully (a compaction bucket is
// bounded in size by MinThreshold, so this mirrors the writer's own
// buffer-then-sort simplification) and resolves, per (partition key,
// clustering key), the single visible row across all generations.
//
// Because this schema stores one opaque cell per row (the engine's
// composed non-key column tuple) rather than one cell per column, a row
// tombstone and a cell tombstone are the same thing here: there is only
// ever one Candidate per (row, generation), so tombstone.FilterRowTombstones
// has nothing to pre-filter and plain tombstone.Merge resolves each key
// directly. Range tombstones are collected per partition first and
// applied as a shadow check against every surviving row in that
// partition.
func mergeGenerations(readers []*sstable.Reader, plan Plan, rowType *types.TypeDescriptor, now int64, gcGraceSeconds int64) ([]sstable.Row, error) {
	var all []sourcedRow
	for i, r := range readers {
		it := r.Scan(nil, nil, 0)
		for it.Next() {
			all = append(all, sourcedRow{row: it.Row(), generation: uint64(plan.Inputs[i].Number)})
		}
		if err := it.Err(); err != nil {
			return nil, err
		}
	}
	if len(all) == 0 {
		return nil, nil
	}

	sort.SliceStable(all, func(i, j int) bool {
		if c := bytes.Compare(all[i].row.PartitionKey, all[j].row.PartitionKey); c != 0 {
			return c < 0
		}
		return bytes.Compare(all[i].row.ClusteringKey, all[j].row.ClusteringKey) < 0
	})

	var out []sstable.Row
	limits := types.DefaultLimits

	// Process one partition at a time: gather its range tombstones, then
	// resolve each distinct clustering key within it.
	start := 0
	for start < len(all) {
		end := start
		pk := all[start].row.PartitionKey
		for end < len(all) && bytes.Equal(all[end].row.PartitionKey, pk) {
			end++
		}
		partition := all[start:end]

		ranges, err := collectRangeTombstones(partition, rowType, &limits)
		if err != nil {
			return nil, err
		}

		rows, err := resolvePartition(partition, ranges, rowType, &limits, now, gcGraceSeconds, plan.Full)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
		start = end
	}

	return out, nil
}

func collectRangeTombstones(partition []sourcedRow, rowType *types.TypeDescriptor, limits *types.Limits) ([]tombstone.RangeTombstone, error) {
	var ranges []tombstone.RangeTombstone
	for _, sr := range partition {
		v, _, err := types.DecodeCell(sr.row.Cell, rowType, limits)
		if err != nil {
			return nil, err
		}
		if tomb, ok := v.(types.TombstoneValue); ok && tomb.Kind == types.TombstoneRange {
			ranges = append(ranges, tombstone.RangeTombstone{Tombstone: tomb, WriteTime: sr.row.WriteTime})
		}
	}
	return ranges, nil
}

func resolvePartition(partition []sourcedRow, ranges []tombstone.RangeTombstone, rowType *types.TypeDescriptor, limits *types.Limits, now, gcGraceSeconds int64, full bool) ([]sstable.Row, error) {
	var out []sstable.Row

	start := 0
	for start < len(partition) {
		end := start
		ck := partition[start].row.ClusteringKey
		for end < len(partition) && bytes.Equal(partition[end].row.ClusteringKey, ck) {
			end++
		}
		group := partition[start:end]

		candidates := make([]tombstone.Candidate, len(group))
		for i, sr := range group {
			v, _, err := types.DecodeCell(sr.row.Cell, rowType, limits)
			if err != nil {
				return nil, err
			}
			candidates[i] = tombstone.Candidate{
				Value:      v,
				WriteTime:  sr.row.WriteTime,
				Generation: sr.generation,
			}
		}

		resolved := tombstone.Merge(candidates, now)
		if resolved == nil {
			// Merge reports a deleted cell as nil; carry the newest active
			// tombstone forward so rebuildRow decides whether to purge it.
			for _, c := range candidates {
				tomb, ok := c.Value.(types.TombstoneValue)
				if !ok || (tomb.TTL != nil && now > tomb.DeletionTime+*tomb.TTL) {
					continue
				}
				if cur, ok := resolved.(types.TombstoneValue); !ok || tomb.DeletionTime > cur.DeletionTime {
					resolved = tomb
				}
			}
		}
		maxWriteTime := group[0].row.WriteTime
		for _, sr := range group[1:] {
			if sr.row.WriteTime > maxWriteTime {
				maxWriteTime = sr.row.WriteTime
			}
		}

		for _, rt := range ranges {
			if tombstone.RangeApplies(rt, ck, maxWriteTime, now) {
				resolved = rt.Tombstone
				break
			}
		}

		row, keep, err := rebuildRow(group[len(group)-1].row, resolved, rowType, now, gcGraceSeconds, full)
		if err != nil {
			return nil, err
		}
		if keep {
			out = append(out, row)
		}

		start = end
	}

	return out, nil
}

// rebuildRow re-encodes resolved (the value tombstone.Merge decided is
// visible, or nil if the cell is gone) back into a row using the
// latest-writing input row's key bytes. It reports keep=false when the
// row should be physically dropped: resolved is nil (fully shadowed with
// no replacement marker worth keeping), or resolved is a tombstone that
// is GC-eligible and this compaction is Full (spans every generation, so
// nothing older still needs the tombstone to shadow it).
func rebuildRow(src sstable.Row, resolved types.Value, rowType *types.TypeDescriptor, now, gcGraceSeconds int64, full bool) (sstable.Row, bool, error) {
	if resolved == nil {
		return sstable.Row{}, false, nil
	}
	if tomb, ok := resolved.(types.TombstoneValue); ok && full && tombstone.GCEligible(tomb, now, gcGraceSeconds) {
		return sstable.Row{}, false, nil
	}

	cell, err := types.EncodeCell(nil, resolved, rowType)
	if err != nil {
		return sstable.Row{}, false, err
	}
	out := src
	out.Cell = cell
	return out, true, nil
}
