package query

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/cqlite-db/cqlite/compress"
	"github.com/cqlite-db/cqlite/schema"
	"github.com/cqlite-db/cqlite/sstable"
	"github.com/cqlite-db/cqlite/types"
)

var testRowType = types.TupleOf(types.Primitive(types.KindText), types.Primitive(types.KindInt))

func encodeRow(t *testing.T, text string, n int32) []byte {
	t.Helper()
	b, err := types.EncodeCell(nil, types.TupleValue{Items: []types.Value{types.TextValue(text), types.IntValue(n)}}, testRowType)
	if err != nil {
		t.Fatalf("EncodeCell: %v", err)
	}
	return b
}

func writeTestGeneration(t *testing.T, dir string, gen uint32, rows []sstable.Row) *sstable.Reader {
	t.Helper()
	w := sstable.NewWriter(sstable.WriterConfig{
		Generation:  gen,
		Keyspace:    "ks",
		Table:       "widgets",
		Compression: compress.LZ4,
		Columns: []sstable.ColumnDescriptor{
			{Name: "pk", PrimaryKey: true},
			{Name: "ck", Clustering: true},
			{Name: "name"},
			{Name: "count"},
		},
	})
	for _, r := range rows {
		if err := w.Add(r); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	path := filepath.Join(dir, fmt.Sprintf("g%d.db", gen))
	if err := w.Finish(path); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	r, err := sstable.Open(path, sstable.ReaderConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return r
}

func widgetsSchema() *schema.TableSchema {
	return &schema.TableSchema{
		Keyspace:      "ks",
		Table:         "widgets",
		PartitionKey:  []string{"pk"},
		ClusteringKey: []schema.ClusteringColumn{{Name: "ck"}},
	}
}

func TestSelectPlanRules(t *testing.T) {
	s := widgetsSchema()

	full := &Request{Schema: s, PartitionKey: []byte("p1"),
		Predicates: []Predicate{{Column: "pk", Op: OpEq}, {Column: "ck", Op: OpEq}}}
	if got := SelectPlan(full); got != PointLookup {
		t.Fatalf("full key equality: got %v, want PointLookup", got)
	}

	rangeReq := &Request{Schema: s, PartitionKey: []byte("p1"), ClusterLower: []byte("a"), ClusterUpper: []byte("z"),
		Predicates: []Predicate{{Column: "pk", Op: OpEq}, {Column: "ck", Op: OpGte}, {Column: "ck", Op: OpLte}}}
	if got := SelectPlan(rangeReq); got != RangeScan {
		t.Fatalf("partition eq + clustering range: got %v, want RangeScan", got)
	}

	noKey := &Request{Schema: s, Predicates: []Predicate{{Column: "name", Op: OpEq}}}
	if got := SelectPlan(noKey); got != TableScan {
		t.Fatalf("no key predicate: got %v, want TableScan", got)
	}
}

func TestExecutePointLookupAcrossGenerations(t *testing.T) {
	dir := t.TempDir()
	r1 := writeTestGeneration(t, dir, 1, []sstable.Row{
		{PartitionKey: []byte("p1"), ClusteringKey: []byte("c1"), Cell: encodeRow(t, "old", 1), WriteTime: 100},
	})
	defer r1.Close()
	r2 := writeTestGeneration(t, dir, 2, []sstable.Row{
		{PartitionKey: []byte("p1"), ClusteringKey: []byte("c1"), Cell: encodeRow(t, "new", 2), WriteTime: 200},
	})
	defer r2.Close()

	exec := &Executor{
		Generations: []Generation{{Reader: r1, Number: 1}, {Reader: r2, Number: 2}},
		RowType:     testRowType,
		Limits:      &types.DefaultLimits,
		Now:         1_000_000,
	}

	req := &Request{
		Schema:       widgetsSchema(),
		PartitionKey: []byte("p1"),
		ClusterLower: []byte("c1"),
		ClusterUpper: []byte("c1"),
		Predicates:   []Predicate{{Column: "pk", Index: -1, Op: OpEq}, {Column: "ck", Index: -1, Op: OpEq}},
	}

	rows, err := exec.Execute(req)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	tup := rows[0].Value.(types.TupleValue)
	if tup.Items[0].(types.TextValue) != "new" {
		t.Fatalf("expected newest write to win, got %#v", tup)
	}
}

func TestExecuteRangeScanOrdersAndFilters(t *testing.T) {
	dir := t.TempDir()
	r := writeTestGeneration(t, dir, 1, []sstable.Row{
		{PartitionKey: []byte("p1"), ClusteringKey: []byte("c1"), Cell: encodeRow(t, "a", 10), WriteTime: 1},
		{PartitionKey: []byte("p1"), ClusteringKey: []byte("c2"), Cell: encodeRow(t, "b", 20), WriteTime: 1},
		{PartitionKey: []byte("p1"), ClusteringKey: []byte("c3"), Cell: encodeRow(t, "c", 30), WriteTime: 1},
	})
	defer r.Close()

	exec := &Executor{
		Generations: []Generation{{Reader: r, Number: 1}},
		RowType:     testRowType,
		Limits:      &types.DefaultLimits,
		Now:         1000,
	}

	req := &Request{
		Schema:       widgetsSchema(),
		PartitionKey: []byte("p1"),
		ClusterLower: []byte("c1"),
		ClusterUpper: []byte("c2"),
		Predicates:   []Predicate{{Column: "pk", Index: -1, Op: OpEq}},
	}
	rows, err := exec.Execute(req)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows in range, got %d", len(rows))
	}
	if string(rows[0].ClusteringKey) != "c1" || string(rows[1].ClusteringKey) != "c2" {
		t.Fatalf("unexpected order: %q, %q", rows[0].ClusteringKey, rows[1].ClusteringKey)
	}
}

func TestExecuteAppliesRangeTombstoneAtReadTime(t *testing.T) {
	dir := t.TempDir()
	rows := []sstable.Row{}
	for i := 1; i <= 10; i++ {
		ck := fmt.Sprintf("c%02d", i)
		rows = append(rows, sstable.Row{
			PartitionKey: []byte("p1"), ClusteringKey: []byte(ck),
			Cell: encodeRow(t, ck, int32(i)), WriteTime: 100,
		})
	}
	rangeTomb := types.TombstoneValue{
		Kind: types.TombstoneRange, DeletionTime: 200,
		RangeStart: []byte("c04"), RangeEnd: []byte("c07"),
	}
	tombCell, err := types.EncodeCell(nil, rangeTomb, testRowType)
	if err != nil {
		t.Fatalf("EncodeCell: %v", err)
	}
	rows = append(rows, sstable.Row{
		PartitionKey: []byte("p1"), ClusteringKey: []byte("c04"),
		Cell: tombCell, WriteTime: 200,
	})

	r := writeTestGeneration(t, dir, 1, rows)
	defer r.Close()

	exec := &Executor{
		Generations: []Generation{{Reader: r, Number: 1}},
		RowType:     testRowType,
		Limits:      &types.DefaultLimits,
		Now:         1_000_000,
	}

	req := &Request{
		Schema:       widgetsSchema(),
		PartitionKey: []byte("p1"),
		Predicates:   []Predicate{{Column: "pk", Index: -1, Op: OpEq}},
	}
	got, err := exec.Execute(req)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var survivors []string
	for _, row := range got {
		survivors = append(survivors, string(row.ClusteringKey))
	}
	want := []string{"c01", "c02", "c03", "c08", "c09", "c10"}
	if len(survivors) != len(want) {
		t.Fatalf("survivors = %v, want %v", survivors, want)
	}
	for i, ck := range want {
		if survivors[i] != ck {
			t.Fatalf("survivors = %v, want %v", survivors, want)
		}
	}
}

func TestExecuteFilterByNonKeyColumn(t *testing.T) {
	dir := t.TempDir()
	r := writeTestGeneration(t, dir, 1, []sstable.Row{
		{PartitionKey: []byte("p1"), ClusteringKey: []byte("c1"), Cell: encodeRow(t, "a", 5), WriteTime: 1},
		{PartitionKey: []byte("p1"), ClusteringKey: []byte("c2"), Cell: encodeRow(t, "b", 50), WriteTime: 1},
	})
	defer r.Close()

	exec := &Executor{
		Generations: []Generation{{Reader: r, Number: 1}},
		RowType:     testRowType,
		Limits:      &types.DefaultLimits,
		Now:         1000,
	}

	req := &Request{
		Schema:       widgetsSchema(),
		PartitionKey: []byte("p1"),
		Predicates: []Predicate{
			{Column: "pk", Index: -1, Op: OpEq},
			{Column: "count", Index: 1, Op: OpGt, Value: types.IntValue(10)},
		},
	}
	rows, err := exec.Execute(req)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row after filter, got %d", len(rows))
	}
	if string(rows[0].ClusteringKey) != "c2" {
		t.Fatalf("expected c2 to survive the filter, got %q", rows[0].ClusteringKey)
	}
}
