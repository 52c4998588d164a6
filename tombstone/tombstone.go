// Package tombstone implements the multi-generation cell resolution
// algorithm of spec 4.10: given every generation's value or deletion
// marker for one cell, yield the single value that should be visible
// (or none, if the cell is deleted), plus row- and range-tombstone
// pre-filtering and garbage-collection eligibility.
package tombstone

import (
	"bytes"
	"sort"

	"github.com/cqlite-db/cqlite/types"
)

// Candidate is one generation's contribution to a cell: a live value or a
// tombstone, annotated with the (write_time, generation, ttl) triple the
// merge algorithm orders and expires by. This is the Go shape of the
// original engine's GenerationValue/EntryMetadata pair.
type Candidate struct {
	Value      types.Value
	WriteTime  int64
	Generation uint64
	TTL        *int64
}

func (c Candidate) tombstone() (types.TombstoneValue, bool) {
	tomb, ok := c.Value.(types.TombstoneValue)
	return tomb, ok
}

func isTombstoneExpired(tomb types.TombstoneValue, now int64) bool {
	if tomb.TTL == nil {
		return false
	}
	return now > tomb.DeletionTime+*tomb.TTL
}

func isValueExpired(c Candidate, now int64) bool {
	if c.TTL == nil {
		return false
	}
	return now > c.WriteTime+*c.TTL
}

// Merge resolves candidates for a single cell down to the value that
// should be visible at wall-clock time now (microseconds), or nil if the
// cell is deleted by a tombstone. A winning value whose TTL has expired
// comes back as a synthesized TombstoneTTL value rather than nil. It
// implements spec 4.10 steps 1-3 verbatim.
func Merge(candidates []Candidate, now int64) types.Value {
	if len(candidates) == 0 {
		return nil
	}

	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Generation != sorted[j].Generation {
			return sorted[i].Generation > sorted[j].Generation
		}
		return sorted[i].WriteTime > sorted[j].WriteTime
	})

	// Step 2: the maximum-time active (non-expired) tombstone.
	var (
		haveLatestTombstone bool
		latestTombstoneTime int64
	)
	for _, c := range sorted {
		tomb, ok := c.tombstone()
		if !ok || isTombstoneExpired(tomb, now) {
			continue
		}
		if !haveLatestTombstone || tomb.DeletionTime > latestTombstoneTime {
			haveLatestTombstone = true
			latestTombstoneTime = tomb.DeletionTime
		}
	}

	// Step 3: walk candidates newest-first, applying tombstone/TTL rules.
	for _, c := range sorted {
		if tomb, ok := c.tombstone(); ok {
			if isTombstoneExpired(tomb, now) {
				continue
			}
			if haveLatestTombstone && tomb.DeletionTime == latestTombstoneTime {
				return nil
			}
			continue
		}

		if haveLatestTombstone && c.WriteTime <= latestTombstoneTime {
			continue // shadowed by a later deletion
		}

		if isValueExpired(c, now) {
			expiry := c.WriteTime + *c.TTL
			return types.TombstoneValue{Kind: types.TombstoneTTL, DeletionTime: expiry, TTL: c.TTL}
		}

		return c.Value
	}

	return nil
}

// FilterRowTombstones removes candidates shadowed by the most recent
// active row tombstone among them (row tombstones act as a cell
// tombstone over every column), returning the surviving candidates and
// whether the row itself should be considered deleted (no candidate
// survives and a row tombstone was present).
func FilterRowTombstones(candidates []Candidate, now int64) (survivors []Candidate, rowDeleted bool) {
	var (
		haveRowTombstone bool
		rowTombstoneTime int64
	)
	var cellValues []Candidate

	for _, c := range candidates {
		if tomb, ok := c.tombstone(); ok && tomb.Kind == types.TombstoneRow {
			if isTombstoneExpired(tomb, now) {
				continue
			}
			if !haveRowTombstone || tomb.DeletionTime > rowTombstoneTime {
				haveRowTombstone = true
				rowTombstoneTime = tomb.DeletionTime
			}
			continue
		}
		cellValues = append(cellValues, c)
	}

	if !haveRowTombstone {
		return candidates, false
	}

	survivors = cellValues[:0]
	for _, c := range cellValues {
		if c.WriteTime > rowTombstoneTime {
			survivors = append(survivors, c)
		}
	}
	return survivors, len(survivors) == 0
}

// RangeTombstone pairs a types.TombstoneValue of Kind TombstoneRange with
// the write time of the row that carried it. RangeApplies below compares
// cell write times against Tombstone.DeletionTime, not against WriteTime.
type RangeTombstone struct {
	Tombstone types.TombstoneValue
	WriteTime int64
}

// RangeApplies reports whether the range tombstone deletes clusteringKey:
// the key falls within [RangeStart, RangeEnd] (either bound may be open),
// the tombstone is not expired, and the tombstone is newer than
// cellWriteTime (a range tombstone can only shadow writes that precede
// it).
func RangeApplies(rt RangeTombstone, clusteringKey []byte, cellWriteTime int64, now int64) bool {
	if rt.Tombstone.Kind != types.TombstoneRange {
		return false
	}
	if isTombstoneExpired(rt.Tombstone, now) {
		return false
	}
	if rt.Tombstone.DeletionTime <= cellWriteTime {
		return false
	}

	if rt.Tombstone.RangeStart != nil && bytes.Compare(clusteringKey, rt.Tombstone.RangeStart) < 0 {
		return false
	}
	if rt.Tombstone.RangeEnd != nil && bytes.Compare(clusteringKey, rt.Tombstone.RangeEnd) > 0 {
		return false
	}
	return true
}

// GCEligible reports whether a tombstone may be physically dropped during
// compaction: it has passed gc_grace and, per the caller's own check,
// no older generation holds a surviving value it would otherwise need to
// keep shadowing (that check requires scanning other generations and is
// the compaction package's responsibility; this function only evaluates
// the time half of the rule).
func GCEligible(tomb types.TombstoneValue, now int64, gcGraceSeconds int64) bool {
	gcGraceMicros := gcGraceSeconds * 1_000_000
	return now-tomb.DeletionTime >= gcGraceMicros
}

