package wal

import (
	"bytes"
	"path/filepath"
	"testing"
)

func openTestWAL(t *testing.T) *WAL {
	t.Helper()
	w, err := Open(filepath.Join(t.TempDir(), "test.wal"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestAppendAndReplayPreservesOrder(t *testing.T) {
	w := openTestWAL(t)

	recs := []Record{
		{Op: OpMutate, Table: "users", PartitionKey: []byte("pk1"), ClusteringKey: []byte("ck1"), Cell: []byte("cell1"), WriteTimeMicro: 100},
		{Op: OpMutate, Table: "users", PartitionKey: []byte("pk2"), ClusteringKey: nil, Cell: []byte("cell2"), WriteTimeMicro: 200},
		{Op: OpDropTable, Table: "old_table", WriteTimeMicro: 300},
	}
	for _, r := range recs {
		if err := w.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	var got []Record
	if err := w.Replay(func(r Record) error {
		got = append(got, r)
		return nil
	}); err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if len(got) != len(recs) {
		t.Fatalf("got %d records, want %d", len(got), len(recs))
	}
	for i, want := range recs {
		g := got[i]
		if g.Op != want.Op || g.Table != want.Table || g.WriteTimeMicro != want.WriteTimeMicro {
			t.Fatalf("record %d: got %+v, want %+v", i, g, want)
		}
		if !bytes.Equal(g.PartitionKey, want.PartitionKey) || !bytes.Equal(g.ClusteringKey, want.ClusteringKey) || !bytes.Equal(g.Cell, want.Cell) {
			t.Fatalf("record %d: payload mismatch got %+v want %+v", i, g, want)
		}
	}
}

func TestAppendLargerThanOnePage(t *testing.T) {
	w := openTestWAL(t)

	big := bytes.Repeat([]byte("x"), int(3*w.pg.PageSize()))
	rec := Record{Op: OpMutate, Table: "t", PartitionKey: []byte("pk"), ClusteringKey: []byte("ck"), Cell: big, WriteTimeMicro: 1}
	if err := w.Append(rec); err != nil {
		t.Fatalf("Append: %v", err)
	}
	trailer := Record{Op: OpMutate, Table: "t", PartitionKey: []byte("pk2"), ClusteringKey: []byte("ck2"), Cell: []byte("small"), WriteTimeMicro: 2}
	if err := w.Append(trailer); err != nil {
		t.Fatalf("Append: %v", err)
	}

	var got []Record
	if err := w.Replay(func(r Record) error {
		got = append(got, r)
		return nil
	}); err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if !bytes.Equal(got[0].Cell, big) {
		t.Fatalf("multi-page record corrupted: len got %d want %d", len(got[0].Cell), len(big))
	}
	if !bytes.Equal(got[1].Cell, []byte("small")) {
		t.Fatalf("record after multi-page record misaligned: got %+v", got[1])
	}
}

func TestResetDiscardsPriorRecords(t *testing.T) {
	w := openTestWAL(t)

	if err := w.Append(Record{Op: OpMutate, Table: "t", PartitionKey: []byte("pk"), Cell: []byte("v")}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	var count int
	if err := w.Replay(func(Record) error {
		count++
		return nil
	}); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected empty log after Reset, got %d records", count)
	}

	// log is still usable after reset
	if err := w.Append(Record{Op: OpMutate, Table: "t", PartitionKey: []byte("pk2"), Cell: []byte("v2")}); err != nil {
		t.Fatalf("Append after reset: %v", err)
	}
}

func TestReplayStopsOnCallbackError(t *testing.T) {
	w := openTestWAL(t)
	for i := 0; i < 3; i++ {
		if err := w.Append(Record{Op: OpMutate, Table: "t", PartitionKey: []byte{byte(i)}, Cell: []byte("v")}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	wantErr := errDeliberate
	seen := 0
	err := w.Replay(func(r Record) error {
		seen++
		if seen == 2 {
			return wantErr
		}
		return nil
	})
	if err != wantErr {
		t.Fatalf("Replay: got %v, want %v", err, wantErr)
	}
	if seen != 2 {
		t.Fatalf("expected replay to stop after 2 records, processed %d", seen)
	}
}

var errDeliberate = errSentinel("deliberate stop")

type errSentinel string

func (e errSentinel) Error() string { return string(e) }
