// Package query implements spec 4.12's plan selection and the
// Filter->Sort->Limit executor pipeline over one table's live
// SSTable generations.
package query

import (
	"github.com/cqlite-db/cqlite/schema"
	"github.com/cqlite-db/cqlite/types"
)

// Op is a predicate's comparison operator.
type Op uint8

const (
	OpEq Op = iota
	OpLt
	OpLte
	OpGt
	OpGte
)

// Predicate restricts one column to values satisfying Op against Value.
// Column is the column name (used for plan selection against the
// schema's key columns); Index is that column's position within
// RowType's tuple, used by the Filter stage to pull the right field out
// of a decoded row (-1 for a partition or clustering column, which the
// tuple does not hold) — the engine resolves both from the schema once,
// up front, rather than this package re-deriving Index from a name on
// every row.
type Predicate struct {
	Column string
	Index  int
	Op     Op
	Value  types.Value
}

// Request is one already-analyzed query: the CQL frontend (not this
// package) is responsible for resolving column names against the
// schema and, for key columns, pre-encoding the byte ranges the
// storage layer actually searches on.
type Request struct {
	Schema *schema.TableSchema

	// Predicates holds every WHERE restriction, key and non-key alike;
	// the plan selector inspects the key-column ones by Column, and the
	// Filter stage re-checks the non-key ones (Index >= 0) against
	// decoded rows. Key-column predicates carry Index -1, so Filter skips
	// them; they act only through PartitionKey and the clustering bounds
	// below.
	Predicates []Predicate

	// PartitionKey is the composite partition key's encoded bytes, set
	// only when every partition-key column has an equality predicate.
	PartitionKey []byte

	// ClusterLower/ClusterUpper bound the clustering-key range; nil
	// means open. Equal lower and upper (both set, both inclusive)
	// represents a full clustering-key equality match.
	ClusterLower          []byte
	ClusterUpper          []byte
	ClusterLowerInclusive bool
	ClusterUpperInclusive bool

	Limit         int
	SortAscending bool // request an explicit sort by clustering key
	Projection    []string
}

// Kind is one of spec 4.12's plan kinds. PrimaryIndexScan is not its own
// constant: see the Open Question note below.
type Kind uint8

const (
	PointLookup Kind = iota
	RangeScan
	BloomProbe
	TableScan
)

func (k Kind) String() string {
	switch k {
	case PointLookup:
		return "PointLookup"
	case RangeScan:
		return "RangeScan"
	case BloomProbe:
		return "BloomProbe"
	case TableScan:
		return "TableScan"
	default:
		return "unknown"
	}
}

// SelectPlan applies spec 4.12's selection rules in order.
//
// Open Question: the spec lists five plan names (PointLookup,
// PrimaryIndexScan, BloomProbe, RangeScan, TableScan) but its four
// selection rules only ever produce four of them. PrimaryIndexScan is
// treated as RangeScan's underlying mechanism (both walk the partition
// index) rather than a fifth distinct outcome. Separately, rule 1's
// "every partition-key column has an equality predicate" is read as
// requiring full *primary* key equality (partition and clustering both),
// since that is the only case a true single-row PointLookup makes sense;
// partition-key equality with a clustering range is RangeScan (rule 2).
func SelectPlan(req *Request) Kind {
	if req.PartitionKey == nil {
		if hasAnyPartitionKeyEquality(req) {
			return BloomProbe
		}
		return TableScan
	}

	if isFullClusteringEquality(req) {
		return PointLookup
	}
	if isContiguousClusteringRange(req) {
		return RangeScan
	}
	// The partition is located (bloom filter over the full partition
	// key is exactly what this table's sstables index), but the
	// clustering restriction isn't a plain range; fetch the whole
	// partition and let the Filter stage do the rest.
	return BloomProbe
}

func hasAnyPartitionKeyEquality(req *Request) bool {
	pkCols := make(map[string]bool, len(req.Schema.PartitionKey))
	for _, c := range req.Schema.PartitionKey {
		pkCols[c] = true
	}
	for _, p := range req.Predicates {
		if p.Op == OpEq && pkCols[p.Column] {
			return true
		}
	}
	return false
}

// isFullClusteringEquality reports whether every clustering column has
// an explicit equality predicate (PartitionKey being set already implies
// every partition-key column is equality-bound).
func isFullClusteringEquality(req *Request) bool {
	eq := make(map[string]bool)
	for _, p := range req.Predicates {
		if p.Op == OpEq {
			eq[p.Column] = true
		}
	}
	for _, c := range req.Schema.ClusteringKey {
		if !eq[c.Name] {
			return false
		}
	}
	return true
}

// isContiguousClusteringRange reports whether the clustering-key
// predicates describe a single contiguous range: an equality prefix
// followed by at most one column carrying a lower and/or upper bound,
// with no column named after it.
func isContiguousClusteringRange(req *Request) bool {
	byCol := make(map[string][]Predicate)
	for _, p := range req.Predicates {
		byCol[p.Column] = append(byCol[p.Column], p)
	}

	sawRange := false
	sawGap := false
	for _, c := range req.Schema.ClusteringKey {
		preds, ok := byCol[c.Name]
		if !ok {
			// No predicate at all on this column: everything after it
			// must also be unrestricted.
			sawGap = true
			continue
		}
		if sawRange || sawGap {
			// A bound or unrestricted column was already found further
			// left; a predicate on a column after it breaks contiguity.
			return false
		}
		allEq := true
		for _, p := range preds {
			if p.Op != OpEq {
				allEq = false
			}
		}
		if !allEq {
			sawRange = true
		}
	}
	return true
}
