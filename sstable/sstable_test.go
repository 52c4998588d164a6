package sstable

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/cqlite-db/cqlite/compress"
	"github.com/cqlite-db/cqlite/cqlerr"
)

func writeTestTable(t *testing.T, rows []Row, blockTarget int) string {
	t.Helper()
	w := NewWriter(WriterConfig{
		TableUUID:        [16]byte{1, 2, 3},
		Generation:       7,
		Keyspace:         "ks",
		Table:            "t",
		Compression:      compress.LZ4,
		BlockTargetBytes: blockTarget,
		Columns: []ColumnDescriptor{
			{Name: "pk", PrimaryKey: true, Position: 0},
			{Name: "ck", Clustering: true, Position: 1},
			{Name: "v", Position: 2},
		},
	})
	for _, r := range rows {
		if err := w.Add(r); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	path := filepath.Join(t.TempDir(), "t-7-Data.db")
	if err := w.Finish(path); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return path
}

func makeRows(n int) []Row {
	rows := make([]Row, n)
	for i := 0; i < n; i++ {
		rows[i] = Row{
			PartitionKey:  []byte(fmt.Sprintf("pk%03d", i/3)), // 3 clustering rows per partition
			ClusteringKey: []byte(fmt.Sprintf("ck%03d", i%3)),
			Cell:          []byte(fmt.Sprintf("value-%d", i)),
			WriteTime:     int64(1000 + i),
		}
	}
	return rows
}

func TestWriterReaderRoundTripSingleBlock(t *testing.T) {
	rows := makeRows(9) // 3 partitions x 3 clustering rows, one block
	path := writeTestTable(t, rows, DefaultBlockTargetBytes)

	r, err := Open(path, ReaderConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	row, ok, err := r.Get([]byte("pk001"), []byte("ck001"))
	if err != nil || !ok {
		t.Fatalf("Get: row=%+v ok=%v err=%v", row, ok, err)
	}
	if string(row.Cell) != "value-4" {
		t.Fatalf("got cell %q, want value-4", row.Cell)
	}

	if _, ok, err := r.Get([]byte("pk999"), []byte("ck000")); err != nil || ok {
		t.Fatalf("expected miss for unknown partition, got ok=%v err=%v", ok, err)
	}

	stats := r.Stats()
	if stats.RowCount != 9 {
		t.Fatalf("stats.RowCount = %d, want 9", stats.RowCount)
	}
}

func TestWriterReaderMultiBlock(t *testing.T) {
	rows := makeRows(300)
	// A tiny block target forces many blocks, exercising the index's
	// multi-entry binary search and the iterator's block-to-block
	// advance.
	path := writeTestTable(t, rows, 256)

	r, err := Open(path, ReaderConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	stats := r.Stats()
	if stats.BlockCount < 2 {
		t.Fatalf("expected multiple blocks, got %d", stats.BlockCount)
	}

	for _, want := range []int{0, 33, 99} {
		pk := []byte(fmt.Sprintf("pk%03d", want/3))
		ck := []byte(fmt.Sprintf("ck%03d", want%3))
		row, ok, err := r.Get(pk, ck)
		if err != nil || !ok {
			t.Fatalf("Get(%s,%s): ok=%v err=%v", pk, ck, ok, err)
		}
		wantCell := fmt.Sprintf("value-%d", want)
		if string(row.Cell) != wantCell {
			t.Fatalf("got %q want %q", row.Cell, wantCell)
		}
	}
}

func TestGetPartitionReturnsAllClusteringRows(t *testing.T) {
	rows := makeRows(30)
	path := writeTestTable(t, rows, 200)

	r, err := Open(path, ReaderConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	got, err := r.GetPartition([]byte("pk005"))
	if err != nil {
		t.Fatalf("GetPartition: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d rows, want 3: %+v", len(got), got)
	}
	for i, row := range got {
		wantCK := fmt.Sprintf("ck%03d", i)
		if string(row.ClusteringKey) != wantCK {
			t.Fatalf("position %d: got ck %q want %q", i, row.ClusteringKey, wantCK)
		}
	}
}

func TestScanRespectsBoundsAndLimit(t *testing.T) {
	rows := makeRows(60)
	path := writeTestTable(t, rows, 300)

	r, err := Open(path, ReaderConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	start := &Bound{PartitionKey: []byte("pk005")}
	end := &Bound{PartitionKey: []byte("pk010")}
	it := r.Scan(start, end, 0)

	var got []string
	for it.Next() {
		got = append(got, string(it.Row().PartitionKey))
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected at least one row in range")
	}
	if got[0] != "pk005" {
		t.Fatalf("first row partition = %q, want pk005", got[0])
	}
	for _, pk := range got {
		if pk < "pk005" || pk > "pk010" {
			t.Fatalf("row %q out of scan bounds", pk)
		}
	}

	it2 := r.Scan(nil, nil, 5)
	count := 0
	for it2.Next() {
		count++
	}
	if count != 5 {
		t.Fatalf("limit not respected: got %d rows, want 5", count)
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	path := writeTestTable(t, makeRows(3), DefaultBlockTargetBytes)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[0] ^= 0xFF
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	_, err = Open(path, ReaderConfig{})
	if !cqlerr.Is(err, cqlerr.Corrupt) {
		t.Fatalf("expected Corrupt for bad magic, got %v", err)
	}
}

func TestMmapAndStreamingModesAgree(t *testing.T) {
	rows := makeRows(60)
	path := writeTestTable(t, rows, 300)

	streamed, err := Open(path, ReaderConfig{MmapThreshold: DefaultMmapThreshold})
	if err != nil {
		t.Fatalf("Open streamed: %v", err)
	}
	defer streamed.Close()

	mapped, err := Open(path, ReaderConfig{MmapThreshold: 1})
	if err != nil {
		t.Fatalf("Open mmap: %v", err)
	}
	defer mapped.Close()

	for _, want := range []int{0, 15, 59} {
		pk := []byte(fmt.Sprintf("pk%03d", want/3))
		ck := []byte(fmt.Sprintf("ck%03d", want%3))

		gotStream, okStream, err := streamed.Get(pk, ck)
		if err != nil || !okStream {
			t.Fatalf("streamed Get: ok=%v err=%v", okStream, err)
		}
		gotMapped, okMapped, err := mapped.Get(pk, ck)
		if err != nil || !okMapped {
			t.Fatalf("mmap Get: ok=%v err=%v", okMapped, err)
		}
		if string(gotStream.Cell) != string(gotMapped.Cell) {
			t.Fatalf("mmap/stream disagree: %q vs %q", gotStream.Cell, gotMapped.Cell)
		}
	}
}
