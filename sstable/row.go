package sstable

import (
	"github.com/cqlite-db/cqlite/cqlerr"
	"github.com/cqlite-db/cqlite/vint"
)

// Row is one stored (partition_key, clustering_key) -> cell triple. Cell
// is an opaque, already-encoded payload (a types.EncodeCell value or
// tombstone, composed by the engine layer that knows the table's
// schema) — the same shape memtable.Row and wal.Record use, so a row
// flows from memtable through the WAL and into an SSTable without any
// storage-tier package needing to parse column structure.
type Row struct {
	PartitionKey  []byte
	ClusteringKey []byte
	Cell          []byte
	WriteTime     int64
}

// encodeRow appends pk_len:VInt||pk || ck_len:VInt||ck || write_time:VInt
// || cell_len:VInt||cell to dst.
func encodeRow(dst []byte, r Row) []byte {
	dst = appendBytes(dst, r.PartitionKey)
	dst = appendBytes(dst, r.ClusteringKey)
	dst = vint.Encode(dst, r.WriteTime)
	dst = appendBytes(dst, r.Cell)
	return dst
}

// decodeRow reads one Row from the front of data, returning the
// unconsumed remainder.
func decodeRow(data []byte) (Row, []byte, error) {
	var r Row
	var err error
	r.PartitionKey, data, err = readBytes(data)
	if err != nil {
		return Row{}, nil, err
	}
	r.ClusteringKey, data, err = readBytes(data)
	if err != nil {
		return Row{}, nil, err
	}
	r.WriteTime, data, err = vint.Decode(data)
	if err != nil {
		return Row{}, nil, err
	}
	r.Cell, data, err = readBytes(data)
	if err != nil {
		return Row{}, nil, err
	}
	return r, data, nil
}

func appendBytes(dst []byte, b []byte) []byte {
	dst = vint.Encode(dst, int64(len(b)))
	return append(dst, b...)
}

func readBytes(data []byte) ([]byte, []byte, error) {
	n, rest, err := vint.DecodeLength(data)
	if err != nil {
		return nil, nil, err
	}
	if int64(len(rest)) < n {
		return nil, nil, cqlerr.New(cqlerr.Truncated, "sstable.readBytes", nil)
	}
	out := make([]byte, n)
	copy(out, rest[:n])
	return out, rest[n:], nil
}
