package engine

import (
	"testing"
	"time"

	"github.com/cqlite-db/cqlite/types"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(Options{
		Directory:              t.TempDir(),
		MemtableFlushThreshold: 1 << 20,
		FlushPollInterval:      10 * time.Millisecond,
		CompactionInterval:     time.Hour,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func mustExec(t *testing.T, e *Engine, cql string) *ExecResult {
	t.Helper()
	res, err := e.Execute(cql)
	if err != nil {
		t.Fatalf("Execute(%q): %v", cql, err)
	}
	return res
}

func TestCreateInsertSelect(t *testing.T) {
	e := openTestEngine(t)
	mustExec(t, e, `CREATE TABLE widgets (id text, name text, count int, PRIMARY KEY (id))`)
	mustExec(t, e, `INSERT INTO widgets (id, name, count) VALUES ('w1', 'sprocket', 3)`)
	mustExec(t, e, `INSERT INTO widgets (id, name, count) VALUES ('w2', 'cog', 7)`)

	res := mustExec(t, e, `SELECT * FROM widgets WHERE id = 'w1'`)
	if len(res.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(res.Rows))
	}
}

func TestInsertSelectRoundTripValue(t *testing.T) {
	e := openTestEngine(t)
	mustExec(t, e, `CREATE TABLE widgets (id text, name text, count int, PRIMARY KEY (id))`)
	mustExec(t, e, `INSERT INTO widgets (id, name, count) VALUES ('w1', 'sprocket', 3)`)

	res := mustExec(t, e, `SELECT * FROM widgets WHERE id = 'w1'`)
	if len(res.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(res.Rows))
	}
	row := res.Rows[0]
	if _, ok := row["name"]; !ok {
		t.Fatalf("expected name column in result, got %v", row)
	}
	if _, ok := row["count"]; !ok {
		t.Fatalf("expected count column in result, got %v", row)
	}
}

func TestDeleteHidesRow(t *testing.T) {
	e := openTestEngine(t)
	mustExec(t, e, `CREATE TABLE widgets (id text, name text, PRIMARY KEY (id))`)
	mustExec(t, e, `INSERT INTO widgets (id, name) VALUES ('w1', 'sprocket')`)
	mustExec(t, e, `DELETE FROM widgets WHERE id = 'w1'`)

	res := mustExec(t, e, `SELECT * FROM widgets WHERE id = 'w1'`)
	if len(res.Rows) != 0 {
		t.Fatalf("expected row to be deleted, got %d rows", len(res.Rows))
	}
}

func TestClusteringRangeScan(t *testing.T) {
	e := openTestEngine(t)
	mustExec(t, e, `CREATE TABLE events (tenant text, seq int, payload text, PRIMARY KEY (tenant, seq))`)
	for i := 0; i < 5; i++ {
		mustExec(t, e, insertEventCQL("t1", i))
	}

	res := mustExec(t, e, `SELECT * FROM events WHERE tenant = 't1' AND seq >= 1 AND seq <= 3`)
	if len(res.Rows) != 3 {
		t.Fatalf("expected 3 rows in range, got %d", len(res.Rows))
	}
}

func insertEventCQL(tenant string, seq int) string {
	return `INSERT INTO events (tenant, seq, payload) VALUES ('` + tenant + `', ` + itoa(seq) + `, 'p` + itoa(seq) + `')`
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// TestRangeTombstoneHidesClusteringRowsAtReadTime mirrors the spec's
// range-tombstone scenario: clustering rows 0..9 written, then a range
// tombstone over seq 4..7 recorded directly in the memtable (no CQL
// range-delete statement exists yet), and a full partition scan must
// still hide 4..7 before any flush or compaction has run.
func TestRangeTombstoneHidesClusteringRowsAtReadTime(t *testing.T) {
	e := openTestEngine(t)
	mustExec(t, e, `CREATE TABLE events (tenant text, seq int, payload text, PRIMARY KEY (tenant, seq))`)
	for i := 0; i < 10; i++ {
		mustExec(t, e, insertEventCQL("t1", i))
	}

	ts, err := e.lookupTable("events")
	if err != nil {
		t.Fatalf("lookupTable: %v", err)
	}

	seqType := clusteringKeyColumns(ts.schema)[0].Type
	ckLow, err := encodeKeyComponent(nil, types.IntValue(4), seqType)
	if err != nil {
		t.Fatalf("encodeKeyComponent low: %v", err)
	}
	ckHigh, err := encodeKeyComponent(nil, types.IntValue(7), seqType)
	if err != nil {
		t.Fatalf("encodeKeyComponent high: %v", err)
	}
	pk, err := encodeCompositeKey(partitionKeyColumns(ts.schema), map[string]types.Value{"tenant": types.TextValue("t1")})
	if err != nil {
		t.Fatalf("encodeCompositeKey: %v", err)
	}

	tomb := types.TombstoneValue{Kind: types.TombstoneRange, DeletionTime: nowMicros() + 1, RangeStart: ckLow, RangeEnd: ckHigh}
	cell, err := types.EncodeCell(nil, tomb, ts.rowType)
	if err != nil {
		t.Fatalf("EncodeCell: %v", err)
	}
	ts.mu.Lock()
	ts.memtable.Put(pk, ckLow, cell, tomb.DeletionTime)
	ts.mu.Unlock()

	res := mustExec(t, e, `SELECT * FROM events WHERE tenant = 't1'`)
	var seen []int64
	for _, row := range res.Rows {
		seen = append(seen, int64(row["seq"].(types.IntValue)))
	}
	want := []int64{0, 1, 2, 3, 8, 9}
	if len(seen) != len(want) {
		t.Fatalf("seq values = %v, want %v", seen, want)
	}
	for i, s := range want {
		if seen[i] != s {
			t.Fatalf("seq values = %v, want %v", seen, want)
		}
	}
}

func TestFlushAndReopenSeesRows(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(Options{
		Directory:              dir,
		MemtableFlushThreshold: 1, // force every write to be flush-eligible
		FlushPollInterval:      5 * time.Millisecond,
		CompactionInterval:     time.Hour,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	mustExec(t, e, `CREATE TABLE widgets (id text, name text, PRIMARY KEY (id))`)
	mustExec(t, e, `INSERT INTO widgets (id, name) VALUES ('w1', 'sprocket')`)

	// give the maintenance loop a chance to flush.
	deadlineReached := false
	for i := 0; i < 50; i++ {
		time.Sleep(10 * time.Millisecond)
		ts, err := e.lookupTable("widgets")
		if err != nil {
			t.Fatalf("lookupTable: %v", err)
		}
		if len(ts.snapshotGenerations()) > 0 {
			deadlineReached = true
			break
		}
	}
	if !deadlineReached {
		t.Fatalf("expected a flush to have produced a generation file")
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	e2, err := Open(Options{Directory: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer e2.Close()

	res := mustExec(t, e2, `SELECT * FROM widgets WHERE id = 'w1'`)
	if len(res.Rows) != 1 {
		t.Fatalf("expected reopened engine to see flushed row, got %d rows", len(res.Rows))
	}
}

func TestCreateTableIfNotExistsIsIdempotent(t *testing.T) {
	e := openTestEngine(t)
	mustExec(t, e, `CREATE TABLE widgets (id text, PRIMARY KEY (id))`)
	if _, err := e.Execute(`CREATE TABLE IF NOT EXISTS widgets (id text, PRIMARY KEY (id))`); err != nil {
		t.Fatalf("expected idempotent create to succeed, got %v", err)
	}
}

func TestSelectUnknownTableErrors(t *testing.T) {
	e := openTestEngine(t)
	if _, err := e.Execute(`SELECT * FROM ghosts WHERE id = 'x'`); err == nil {
		t.Fatalf("expected an error selecting from a nonexistent table")
	}
}
