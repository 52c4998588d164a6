package wal

import (
	"github.com/cqlite-db/cqlite/cqlerr"
	"github.com/cqlite-db/cqlite/vint"
)

// Op distinguishes a live mutation from an explicit tombstone append in the
// log; both carry an already cell-encoded payload (types.EncodeCell), so
// the WAL never needs to know a table's schema to replay it.
type Op uint8

const (
	OpMutate Op = iota
	OpDropTable
)

// Record is one durable entry: a single cell write (or tombstone) against
// (table, partition key, clustering key), or a drop-table marker. PartitionKey,
// ClusteringKey and Cell are already-encoded bytes exactly as the memtable
// and sstable writer would store them; the WAL is a byte-transparent log,
// not a second codec.
type Record struct {
	Op             Op
	Table          string
	PartitionKey   []byte
	ClusteringKey  []byte
	Cell           []byte
	WriteTimeMicro int64
}

// encode frames a record as op:u8 || table || pk || ck || write_time:vint ||
// cell, where table/pk/ck/cell are each a vint length prefix followed by
// their bytes. The whole thing is then wrapped in an outer vint length
// prefix by appendFramed so a reader that only has page-padded bytes back
// can find the exact end of the real payload.
func (r Record) encode() []byte {
	var buf []byte
	buf = append(buf, byte(r.Op))
	buf = appendBytes(buf, []byte(r.Table))
	buf = appendBytes(buf, r.PartitionKey)
	buf = appendBytes(buf, r.ClusteringKey)
	buf = vint.Encode(buf, r.WriteTimeMicro)
	buf = appendBytes(buf, r.Cell)
	return appendFramed(nil, buf)
}

// decodeRecord parses one record out of the front of a page-padded buffer
// (as returned by pager.GetPage) and reports how many bytes of it were the
// real, un-padded encoding — the caller uses that to compute how many
// physical pages the record spanned.
func decodeRecord(padded []byte) (Record, int, error) {
	payload, consumed, err := readFramed(padded)
	if err != nil {
		return Record{}, 0, err
	}

	if len(payload) < 1 {
		return Record{}, 0, cqlerr.New(cqlerr.Truncated, "wal.decodeRecord", nil)
	}
	op := Op(payload[0])
	rest := payload[1:]

	table, rest, err := readBytes(rest)
	if err != nil {
		return Record{}, 0, err
	}
	pk, rest, err := readBytes(rest)
	if err != nil {
		return Record{}, 0, err
	}
	ck, rest, err := readBytes(rest)
	if err != nil {
		return Record{}, 0, err
	}
	writeTime, rest, err := vint.Decode(rest)
	if err != nil {
		return Record{}, 0, err
	}
	cell, rest, err := readBytes(rest)
	if err != nil {
		return Record{}, 0, err
	}
	if len(rest) != 0 {
		return Record{}, 0, cqlerr.New(cqlerr.Corrupt, "wal.decodeRecord", nil)
	}

	return Record{
		Op:             op,
		Table:          string(table),
		PartitionKey:   pk,
		ClusteringKey:  ck,
		Cell:           cell,
		WriteTimeMicro: writeTime,
	}, consumed, nil
}

func appendBytes(dst []byte, b []byte) []byte {
	dst = vint.Encode(dst, int64(len(b)))
	return append(dst, b...)
}

func readBytes(src []byte) ([]byte, []byte, error) {
	n, rest, err := vint.DecodeLength(src)
	if err != nil {
		return nil, nil, err
	}
	if int64(len(rest)) < n {
		return nil, nil, cqlerr.New(cqlerr.Truncated, "wal.readBytes", nil)
	}
	return rest[:n], rest[n:], nil
}

// appendFramed wraps payload in an outer vint length prefix.
func appendFramed(dst []byte, payload []byte) []byte {
	dst = vint.Encode(dst, int64(len(payload)))
	return append(dst, payload...)
}

// readFramed reads the outer vint length prefix and returns the payload
// plus the total number of bytes (prefix + payload) that made up the real,
// un-padded encoding.
func readFramed(src []byte) (payload []byte, consumed int, err error) {
	n, rest, err := vint.DecodeLength(src)
	if err != nil {
		return nil, 0, err
	}
	prefixLen := len(src) - len(rest)
	if int64(len(rest)) < n {
		return nil, 0, cqlerr.New(cqlerr.Truncated, "wal.readFramed", nil)
	}
	return rest[:n], prefixLen + int(n), nil
}
