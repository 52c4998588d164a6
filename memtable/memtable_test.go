package memtable

import (
	"bytes"
	"testing"
)

func TestPutGetRoundTrip(t *testing.T) {
	m := New(0)
	m.Put([]byte("pk1"), []byte("ck1"), []byte("cell-a"), 100)
	m.Put([]byte("pk1"), []byte("ck2"), []byte("cell-b"), 200)

	row, ok := m.Get([]byte("pk1"), []byte("ck1"))
	if !ok || !bytes.Equal(row.Cell, []byte("cell-a")) || row.WriteTime != 100 {
		t.Fatalf("unexpected row: %+v ok=%v", row, ok)
	}

	if _, ok := m.Get([]byte("pk1"), []byte("ck-missing")); ok {
		t.Fatal("expected miss for unknown clustering key")
	}
}

func TestPutOverwriteTakesLatestCall(t *testing.T) {
	m := New(0)
	m.Put([]byte("pk"), []byte("ck"), []byte("v1"), 10)
	m.Put([]byte("pk"), []byte("ck"), []byte("v2"), 5) // lower writeTime, still wins: last Put call wins

	row, ok := m.Get([]byte("pk"), []byte("ck"))
	if !ok || !bytes.Equal(row.Cell, []byte("v2")) || row.WriteTime != 5 {
		t.Fatalf("expected overwrite to take the latest Put call, got %+v", row)
	}
}

func TestSizeAccountingAndOverwriteDoesNotDoubleCount(t *testing.T) {
	m := New(0)
	m.Put([]byte("pk"), []byte("ck"), []byte("value"), 1)
	afterFirst := m.Size()
	if afterFirst <= 0 {
		t.Fatal("expected positive size after first put")
	}

	m.Put([]byte("pk"), []byte("ck"), []byte("value"), 2) // same key, same-length value
	if m.Size() != afterFirst {
		t.Fatalf("overwrite with same-size value should not change size: got %d want %d", m.Size(), afterFirst)
	}
}

func TestShouldFlushAtThresholdBoundary(t *testing.T) {
	m := New(100)
	// One entry whose key bytes plus the per-entry overhead come to
	// exactly threshold-1.
	pk := bytes.Repeat([]byte("k"), 99-entryOverheadBytes)
	m.Put(pk, nil, nil, 0)
	if m.Size() != 99 {
		t.Fatalf("expected size 99, got %d", m.Size())
	}
	if m.ShouldFlush() {
		t.Fatalf("memtable below threshold reported should flush, size=%d", m.Size())
	}

	m.Put(pk, nil, []byte("v"), 0) // overwrite with a one-byte cell: exactly threshold
	if m.Size() != 100 {
		t.Fatalf("expected size 100, got %d", m.Size())
	}
	if !m.ShouldFlush() {
		t.Fatalf("memtable at threshold did not report should flush: size=%d", m.Size())
	}
}

func TestDrainYieldsSortedOrderAndSeals(t *testing.T) {
	m := New(0)
	keys := []string{"c", "a", "b", "aa"}
	for _, k := range keys {
		m.Put([]byte(k), []byte("ck"), []byte("v"), 1)
	}

	it := m.Drain()
	var got []string
	for it.Next() {
		got = append(got, string(it.Row().PartitionKey))
	}

	want := []string{"a", "aa", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: got %q want %q (full: %v)", i, got[i], want[i], got)
		}
	}

	if !m.Sealed() {
		t.Fatal("expected memtable to be sealed after Drain")
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected Put after Drain to panic")
		}
	}()
	m.Put([]byte("x"), []byte("ck"), []byte("v"), 1)
}

func TestClusteringKeyOrderWithinPartition(t *testing.T) {
	m := New(0)
	m.Put([]byte("pk"), []byte("z"), []byte("v"), 1)
	m.Put([]byte("pk"), []byte("a"), []byte("v"), 1)
	m.Put([]byte("pk2"), []byte("m"), []byte("v"), 1)

	it := m.Drain()
	var got []string
	for it.Next() {
		r := it.Row()
		got = append(got, string(r.PartitionKey)+"/"+string(r.ClusteringKey))
	}
	want := []string{"pk/a", "pk/z", "pk2/m"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}
