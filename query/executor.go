package query

import (
	"bytes"
	"errors"
	"sort"

	"github.com/cqlite-db/cqlite/sstable"
	"github.com/cqlite-db/cqlite/tombstone"
	"github.com/cqlite-db/cqlite/types"
)

// DefaultSortMaterializationLimit is spec 4.12's default cap (10^6 rows)
// on how large a result set may grow before an explicit sort (one not
// already satisfied by clustering-key order) is refused.
const DefaultSortMaterializationLimit = 1_000_000

// ResultRow is one fully resolved, schema-decoded row: the tombstone
// merger has already picked the single visible value across every
// generation that wrote this key, or this row would not appear at all.
type ResultRow struct {
	PartitionKey  []byte
	ClusteringKey []byte
	Value         types.Value
	WriteTime     int64
}

// Generation pairs an open SSTable reader with the generation number the
// tombstone merger orders candidates by.
type Generation struct {
	Reader *sstable.Reader
	Number uint64
}

// Executor runs Requests against a fixed snapshot of a table's
// generations. It does not see the live memtable: per spec 3's
// ownership model the memtable holds undecoded, schema-free bytes
// (sstable.Row.Cell is opaque here too), and folding its not-yet-flushed
// contribution in is the engine's job, the same way flushing it into a
// new generation is — the executor only knows how to read immutable,
// already-written generations.
type Executor struct {
	Generations              []Generation
	RowType                  *types.TypeDescriptor
	Limits                   *types.Limits
	Now                      int64
	SortMaterializationLimit int
}

type sourcedCell struct {
	row        sstable.Row
	generation uint64
}

// Execute runs req's plan, resolves tombstones, and applies
// Filter -> Sort -> Limit in that fixed order. Request.Projection is not
// applied: every ResultRow carries the full decoded row tuple.
func (e *Executor) Execute(req *Request) ([]ResultRow, error) {
	rows, _, err := e.execute(req)
	return rows, err
}

// ExecuteWithRangeTombstones behaves like Execute but additionally
// returns, keyed by partition key, every range tombstone visible across
// req's generations. It exists for the engine, which merges in rows
// from the live memtable that never pass through this Executor at all
// (see the doc comment above) but must still be shadowed by a range
// tombstone recorded in an on-disk generation, and vice versa.
func (e *Executor) ExecuteWithRangeTombstones(req *Request) ([]ResultRow, map[string][]tombstone.RangeTombstone, error) {
	return e.execute(req)
}

func (e *Executor) execute(req *Request) ([]ResultRow, map[string][]tombstone.RangeTombstone, error) {
	kind := SelectPlan(req)

	var raw []sourcedCell
	var err error
	switch kind {
	case PointLookup:
		raw, err = e.pointLookup(req)
	case RangeScan:
		raw, err = e.rangeScan(req)
	case BloomProbe:
		raw, err = e.bloomProbe(req)
	default:
		raw, err = e.tableScan()
	}
	if err != nil {
		return nil, nil, err
	}

	resolved, ranges, err := e.resolve(raw)
	if err != nil {
		return nil, nil, err
	}

	resolved = filterRows(resolved, req.Predicates)

	resolved, err = e.sortRows(resolved, req)
	if err != nil {
		return nil, nil, err
	}

	if req.Limit > 0 && len(resolved) > req.Limit {
		resolved = resolved[:req.Limit]
	}
	return resolved, ranges, nil
}

func (e *Executor) pointLookup(req *Request) ([]sourcedCell, error) {
	var out []sourcedCell
	for _, gen := range e.Generations {
		row, ok, err := gen.Reader.Get(req.PartitionKey, req.ClusterLower)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, sourcedCell{row: row, generation: gen.Number})
		}
	}
	return out, nil
}

func (e *Executor) rangeScan(req *Request) ([]sourcedCell, error) {
	start := &sstable.Bound{PartitionKey: req.PartitionKey, ClusteringKey: req.ClusterLower}
	end := &sstable.Bound{PartitionKey: req.PartitionKey, ClusteringKey: req.ClusterUpper}
	if req.ClusterLower == nil {
		start = &sstable.Bound{PartitionKey: req.PartitionKey}
	}
	if req.ClusterUpper == nil {
		end = &sstable.Bound{PartitionKey: req.PartitionKey}
	}

	var out []sourcedCell
	for _, gen := range e.Generations {
		it := gen.Reader.Scan(start, end, 0)
		for it.Next() {
			out = append(out, sourcedCell{row: it.Row(), generation: gen.Number})
		}
		if err := it.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (e *Executor) bloomProbe(req *Request) ([]sourcedCell, error) {
	var out []sourcedCell
	for _, gen := range e.Generations {
		rows, err := gen.Reader.GetPartition(req.PartitionKey)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			out = append(out, sourcedCell{row: row, generation: gen.Number})
		}
	}
	return out, nil
}

func (e *Executor) tableScan() ([]sourcedCell, error) {
	var out []sourcedCell
	for _, gen := range e.Generations {
		it := gen.Reader.Scan(nil, nil, 0)
		for it.Next() {
			out = append(out, sourcedCell{row: it.Row(), generation: gen.Number})
		}
		if err := it.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// resolve groups sourced cells by partition, then by composite key within
// each partition, asks the tombstone merger which value (if any) is
// visible for each key, and finally filters surviving cells against any
// range tombstones recorded in the same partition (spec 4.10: a range
// tombstone is a read-time filter layer over cell resolution, the same
// way compaction.collectRangeTombstones/resolvePartition apply it when
// physically rewriting a partition).
func (e *Executor) resolve(raw []sourcedCell) ([]ResultRow, map[string][]tombstone.RangeTombstone, error) {
	if len(raw) == 0 {
		return nil, nil, nil
	}

	sort.SliceStable(raw, func(i, j int) bool {
		if c := bytes.Compare(raw[i].row.PartitionKey, raw[j].row.PartitionKey); c != 0 {
			return c < 0
		}
		return bytes.Compare(raw[i].row.ClusteringKey, raw[j].row.ClusteringKey) < 0
	})

	var out []ResultRow
	allRanges := make(map[string][]tombstone.RangeTombstone)
	pstart := 0
	for pstart < len(raw) {
		pend := pstart + 1
		for pend < len(raw) && bytes.Equal(raw[pend].row.PartitionKey, raw[pstart].row.PartitionKey) {
			pend++
		}
		partition := raw[pstart:pend]

		ranges, err := collectRangeTombstones(partition, e.RowType, e.Limits)
		if err != nil {
			return nil, nil, err
		}
		if len(ranges) > 0 {
			allRanges[string(raw[pstart].row.PartitionKey)] = ranges
		}

		start := 0
		for start < len(partition) {
			end := start + 1
			for end < len(partition) && bytes.Equal(partition[end].row.ClusteringKey, partition[start].row.ClusteringKey) {
				end++
			}
			group := partition[start:end]

			candidates := make([]tombstone.Candidate, len(group))
			for i, sc := range group {
				v, _, err := types.DecodeCell(sc.row.Cell, e.RowType, e.Limits)
				if err != nil {
					return nil, nil, err
				}
				candidates[i] = tombstone.Candidate{Value: v, WriteTime: sc.row.WriteTime, Generation: sc.generation}
			}

			resolved := tombstone.Merge(candidates, e.Now)
			if resolved != nil {
				if _, isTomb := resolved.(types.TombstoneValue); !isTomb {
					maxWriteTime := group[0].row.WriteTime
					for _, sc := range group[1:] {
						if sc.row.WriteTime > maxWriteTime {
							maxWriteTime = sc.row.WriteTime
						}
					}

					shadowed := false
					for _, rt := range ranges {
						if tombstone.RangeApplies(rt, group[0].row.ClusteringKey, maxWriteTime, e.Now) {
							shadowed = true
							break
						}
					}
					if !shadowed {
						out = append(out, ResultRow{
							PartitionKey:  group[0].row.PartitionKey,
							ClusteringKey: group[0].row.ClusteringKey,
							Value:         resolved,
							WriteTime:     maxWriteTime,
						})
					}
				}
			}
			start = end
		}
		pstart = pend
	}
	return out, allRanges, nil
}

// collectRangeTombstones scans a partition's sourced cells for range
// tombstones, mirroring compaction.collectRangeTombstones so the read
// path and the compaction rewrite path apply identical semantics.
func collectRangeTombstones(partition []sourcedCell, rowType *types.TypeDescriptor, limits *types.Limits) ([]tombstone.RangeTombstone, error) {
	var ranges []tombstone.RangeTombstone
	for _, sc := range partition {
		v, _, err := types.DecodeCell(sc.row.Cell, rowType, limits)
		if err != nil {
			return nil, err
		}
		if tomb, ok := v.(types.TombstoneValue); ok && tomb.Kind == types.TombstoneRange {
			ranges = append(ranges, tombstone.RangeTombstone{Tombstone: tomb, WriteTime: sc.row.WriteTime})
		}
	}
	return ranges, nil
}

// filterRows re-checks every non-key predicate against each resolved
// row's decoded value, since an index-assisted plan's byte-range fetch
// can still be coarser than the predicates (e.g. BloomProbe returns a
// whole partition). Predicates with a negative Index (key columns) are
// skipped.
func filterRows(rows []ResultRow, predicates []Predicate) []ResultRow {
	return FilterRows(rows, predicates)
}

// FilterRows applies predicates against already-resolved rows. It is
// exported so a caller folding rows from outside this package's own
// generation-reading pipeline (the engine's live memtable contribution,
// which never goes through Execute) can apply the identical predicate
// semantics rather than re-implementing per-kind value comparison.
func FilterRows(rows []ResultRow, predicates []Predicate) []ResultRow {
	if len(predicates) == 0 {
		return rows
	}
	out := rows[:0]
	for _, row := range rows {
		if rowMatches(row, predicates) {
			out = append(out, row)
		}
	}
	return out
}

func rowMatches(row ResultRow, predicates []Predicate) bool {
	tup, ok := row.Value.(types.TupleValue)
	if !ok {
		return true // nothing decodable to filter against; let it through
	}
	for _, p := range predicates {
		if p.Index < 0 || p.Index >= len(tup.Items) {
			continue
		}
		if !satisfies(tup.Items[p.Index], p) {
			return false
		}
	}
	return true
}

func satisfies(v types.Value, p Predicate) bool {
	switch p.Op {
	case OpEq:
		return equalValues(v, p.Value)
	default:
		c, err := compareValues(v, p.Value)
		if err != nil {
			return false
		}
		switch p.Op {
		case OpLt:
			return c < 0
		case OpLte:
			return c <= 0
		case OpGt:
			return c > 0
		case OpGte:
			return c >= 0
		}
		return false
	}
}

// sortRows handles an explicit sort request. The only sort a Request can
// describe is ascending by clustering key, which the clustering-key order
// of the results already satisfies, so rows are returned unchanged and
// SortMaterializationLimit is never reached.
func (e *Executor) sortRows(rows []ResultRow, req *Request) ([]ResultRow, error) {
	if !req.SortAscending {
		return rows, nil
	}
	// Every plan above already yields rows in composite-key (hence
	// clustering-key, within a partition) order, so an ascending sort by
	// clustering key is always already satisfied and free.
	return rows, nil
}

// ErrSortMaterializationLimit is spec 4.12's named failure: a sort was
// requested that isn't already satisfied by clustering-key order, and
// the result set exceeds SortMaterializationLimit.
var ErrSortMaterializationLimit = errors.New("result set exceeds sort materialization limit")
