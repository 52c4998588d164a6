// Package sstable implements the spec 4.7/4.8/6 on-disk table format: an
// immutable, sorted (partition_key, clustering_key) -> cell store with a
// length-prefixed CRC'd header, a sequence of compressed data blocks, a
// sparse partition index, a bloom filter, and a fixed footer locating each
// section. All multibyte integers are big-endian; string fields are
// len:VInt || utf8_bytes, per spec 6.
//
// The four logical component files spec 6 describes (Data/Index/Filter/
// Statistics) are merged into one file here, which spec 6 explicitly
// permits provided the footer locates every section — the footer's
// absolute-offset design only makes sense relative to a single file.
package sstable

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"

	"github.com/cqlite-db/cqlite/cqlerr"
	"github.com/cqlite-db/cqlite/vint"
)

// Magic is the 4-byte file magic at offset 0.
const Magic uint32 = 0x5A5A5A5A

// FooterMagic is the 8-byte trailing magic at EOF-8.
const FooterMagic uint64 = 0x5A5A5A5A5A5A5A5A

// Version is the on-disk format version tag at offset 4.
const Version = "oa"

// footerLen is the fixed byte length of the three footer fields
// (index_offset, bloom_offset, data_end), each a u64.
const footerLen = 24

// DefaultBlockTargetBytes is the uncompressed size at which the writer
// emits a data block (spec 4.7).
const DefaultBlockTargetBytes = 64 * 1024

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// ColumnDescriptor mirrors one schema.Column for the purpose of the
// header: enough to reconstruct a TableSchema's shape without re-parsing
// the original CREATE TABLE DDL.
type ColumnDescriptor struct {
	Name       string
	Type       *TypeDescriptor
	PrimaryKey bool
	Position   int32
	Static     bool
	Clustering bool
}

// CompressionDescriptor names the chunk codec and its parameters.
type CompressionDescriptor struct {
	Algorithm string // e.g. "LZ4Compressor", "none"
	ChunkSize uint32
	Params    map[string]string
}

// Statistics summarizes the table's contents, filled in by the writer as
// rows are consumed.
type Statistics struct {
	RowCount         uint64
	MinTimestamp     int64
	MaxTimestamp     int64
	MaxDeletionTime  int64
	CompressionRatio float64
	RowSizeHistogram []uint64
}

// Header is the full spec 4.7 header, written length-prefixed and CRC'd
// at the front of the file.
type Header struct {
	TableUUID   [16]byte
	Generation  uint32
	Keyspace    string
	Table       string
	Compression CompressionDescriptor
	Stats       Statistics
	Columns     []ColumnDescriptor
	Properties  map[string]string
}

// Footer locates the three trailing sections of the file.
type Footer struct {
	IndexOffset uint64
	BloomOffset uint64
	DataEnd     uint64
}

func appendString(dst []byte, s string) []byte {
	dst = vint.Encode(dst, int64(len(s)))
	return append(dst, s...)
}

func readString(data []byte) (string, []byte, error) {
	n, rest, err := vint.DecodeLength(data)
	if err != nil {
		return "", nil, err
	}
	if int64(len(rest)) < n {
		return "", nil, cqlerr.New(cqlerr.Truncated, "sstable.readString", nil)
	}
	return string(rest[:n]), rest[n:], nil
}

func appendU32(dst []byte, v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return append(dst, buf[:]...)
}

func readU32(data []byte) (uint32, []byte, error) {
	if len(data) < 4 {
		return 0, nil, cqlerr.New(cqlerr.Truncated, "sstable.readU32", nil)
	}
	return binary.BigEndian.Uint32(data), data[4:], nil
}

func appendU64(dst []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(dst, buf[:]...)
}

func readU64(data []byte) (uint64, []byte, error) {
	if len(data) < 8 {
		return 0, nil, cqlerr.New(cqlerr.Truncated, "sstable.readU64", nil)
	}
	return binary.BigEndian.Uint64(data), data[8:], nil
}

func appendI64(dst []byte, v int64) []byte { return appendU64(dst, uint64(v)) }

func readI64(data []byte) (int64, []byte, error) {
	u, rest, err := readU64(data)
	return int64(u), rest, err
}

func appendStringMap(dst []byte, m map[string]string) []byte {
	dst = appendU32(dst, uint32(len(m)))
	for k, v := range m {
		dst = appendString(dst, k)
		dst = appendString(dst, v)
	}
	return dst
}

func readStringMap(data []byte) (map[string]string, []byte, error) {
	count, rest, err := readU32(data)
	if err != nil {
		return nil, nil, err
	}
	m := make(map[string]string, count)
	for i := uint32(0); i < count; i++ {
		var k, v string
		k, rest, err = readString(rest)
		if err != nil {
			return nil, nil, err
		}
		v, rest, err = readString(rest)
		if err != nil {
			return nil, nil, err
		}
		m[k] = v
	}
	return m, rest, nil
}

func appendCompression(dst []byte, c CompressionDescriptor) []byte {
	dst = appendString(dst, c.Algorithm)
	dst = appendU32(dst, c.ChunkSize)
	dst = appendStringMap(dst, c.Params)
	return dst
}

func readCompression(data []byte) (CompressionDescriptor, []byte, error) {
	var c CompressionDescriptor
	var err error
	c.Algorithm, data, err = readString(data)
	if err != nil {
		return c, nil, err
	}
	c.ChunkSize, data, err = readU32(data)
	if err != nil {
		return c, nil, err
	}
	c.Params, data, err = readStringMap(data)
	if err != nil {
		return c, nil, err
	}
	return c, data, nil
}

func appendStatistics(dst []byte, s Statistics) []byte {
	dst = appendU64(dst, s.RowCount)
	dst = appendI64(dst, s.MinTimestamp)
	dst = appendI64(dst, s.MaxTimestamp)
	dst = appendI64(dst, s.MaxDeletionTime)
	dst = appendU64(dst, math.Float64bits(s.CompressionRatio))
	dst = appendU32(dst, uint32(len(s.RowSizeHistogram)))
	for _, n := range s.RowSizeHistogram {
		dst = appendU64(dst, n)
	}
	return dst
}

func readStatistics(data []byte) (Statistics, []byte, error) {
	var s Statistics
	var err error
	s.RowCount, data, err = readU64(data)
	if err != nil {
		return s, nil, err
	}
	s.MinTimestamp, data, err = readI64(data)
	if err != nil {
		return s, nil, err
	}
	s.MaxTimestamp, data, err = readI64(data)
	if err != nil {
		return s, nil, err
	}
	s.MaxDeletionTime, data, err = readI64(data)
	if err != nil {
		return s, nil, err
	}
	var bits uint64
	bits, data, err = readU64(data)
	if err != nil {
		return s, nil, err
	}
	s.CompressionRatio = math.Float64frombits(bits)
	var count uint32
	count, data, err = readU32(data)
	if err != nil {
		return s, nil, err
	}
	s.RowSizeHistogram = make([]uint64, count)
	for i := range s.RowSizeHistogram {
		s.RowSizeHistogram[i], data, err = readU64(data)
		if err != nil {
			return s, nil, err
		}
	}
	return s, data, nil
}

func appendColumn(dst []byte, c ColumnDescriptor) []byte {
	dst = appendString(dst, c.Name)
	dst = appendTypeDescriptor(dst, c.Type)
	if c.PrimaryKey {
		dst = append(dst, 1)
	} else {
		dst = append(dst, 0)
	}
	dst = appendU32(dst, uint32(c.Position))
	flags := byte(0)
	if c.Static {
		flags |= 1
	}
	if c.Clustering {
		flags |= 2
	}
	dst = append(dst, flags)
	return dst
}

func readColumn(data []byte) (ColumnDescriptor, []byte, error) {
	var c ColumnDescriptor
	var err error
	c.Name, data, err = readString(data)
	if err != nil {
		return c, nil, err
	}
	c.Type, data, err = readTypeDescriptor(data)
	if err != nil {
		return c, nil, err
	}
	if len(data) < 1 {
		return c, nil, cqlerr.New(cqlerr.Truncated, "sstable.readColumn", nil)
	}
	c.PrimaryKey = data[0] != 0
	data = data[1:]
	var pos uint32
	pos, data, err = readU32(data)
	if err != nil {
		return c, nil, err
	}
	c.Position = int32(pos)
	if len(data) < 1 {
		return c, nil, cqlerr.New(cqlerr.Truncated, "sstable.readColumn", nil)
	}
	c.Static = data[0]&1 != 0
	c.Clustering = data[0]&2 != 0
	data = data[1:]
	return c, data, nil
}

// encodeHeader renders h as the header_bytes payload (everything after
// header_len in the spec 6 layout).
func encodeHeader(h Header) []byte {
	var dst []byte
	dst = append(dst, h.TableUUID[:]...)
	dst = appendU32(dst, h.Generation)
	dst = appendString(dst, h.Keyspace)
	dst = appendString(dst, h.Table)
	dst = appendCompression(dst, h.Compression)
	dst = appendStatistics(dst, h.Stats)
	dst = appendU32(dst, uint32(len(h.Columns)))
	for _, c := range h.Columns {
		dst = appendColumn(dst, c)
	}
	dst = appendStringMap(dst, h.Properties)
	return dst
}

func decodeHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < 16 {
		return h, cqlerr.New(cqlerr.Truncated, "sstable.decodeHeader", nil)
	}
	copy(h.TableUUID[:], data[:16])
	data = data[16:]

	var err error
	h.Generation, data, err = readU32(data)
	if err != nil {
		return h, err
	}
	h.Keyspace, data, err = readString(data)
	if err != nil {
		return h, err
	}
	h.Table, data, err = readString(data)
	if err != nil {
		return h, err
	}
	h.Compression, data, err = readCompression(data)
	if err != nil {
		return h, err
	}
	h.Stats, data, err = readStatistics(data)
	if err != nil {
		return h, err
	}
	var colCount uint32
	colCount, data, err = readU32(data)
	if err != nil {
		return h, err
	}
	h.Columns = make([]ColumnDescriptor, colCount)
	for i := range h.Columns {
		h.Columns[i], data, err = readColumn(data)
		if err != nil {
			return h, err
		}
	}
	h.Properties, data, err = readStringMap(data)
	if err != nil {
		return h, err
	}
	if len(data) != 0 {
		return h, cqlerr.New(cqlerr.Corrupt, "sstable.decodeHeader", fmt.Errorf("%d trailing bytes in header", len(data)))
	}
	return h, nil
}

// writeFileHeader renders the full on-disk header section: magic,
// version, header_crc, header_len, header_bytes.
func writeFileHeader(h Header) []byte {
	body := encodeHeader(h)
	crc := crc32.Checksum(body, crcTable)

	out := make([]byte, 0, 14+len(body))
	out = appendU32(out, Magic)
	out = append(out, Version...)
	out = appendU32(out, crc)
	out = appendU32(out, uint32(len(body)))
	out = append(out, body...)
	return out
}

// readFileHeader parses the header section from the front of data,
// returning the header and the unconsumed remainder (the start of the
// data section).
func readFileHeader(data []byte) (Header, []byte, error) {
	if len(data) < 14 {
		return Header{}, nil, cqlerr.New(cqlerr.Truncated, "sstable.readFileHeader", nil)
	}
	magic, rest, err := readU32(data)
	if err != nil {
		return Header{}, nil, err
	}
	if magic != Magic {
		return Header{}, nil, cqlerr.New(cqlerr.Corrupt, "sstable.readFileHeader", fmt.Errorf("bad magic %x", magic))
	}
	if string(rest[:2]) != Version {
		return Header{}, nil, cqlerr.New(cqlerr.UnsupportedVersion, "sstable.readFileHeader", fmt.Errorf("version %q", rest[:2]))
	}
	rest = rest[2:]

	wantCRC, rest, err := readU32(rest)
	if err != nil {
		return Header{}, nil, err
	}
	headerLen, rest, err := readU32(rest)
	if err != nil {
		return Header{}, nil, err
	}
	if uint32(len(rest)) < headerLen {
		return Header{}, nil, cqlerr.New(cqlerr.Truncated, "sstable.readFileHeader", nil)
	}
	body := rest[:headerLen]
	if crc32.Checksum(body, crcTable) != wantCRC {
		return Header{}, nil, cqlerr.New(cqlerr.Corrupt, "sstable.readFileHeader", fmt.Errorf("header crc mismatch"))
	}

	h, err := decodeHeader(body)
	if err != nil {
		return Header{}, nil, err
	}
	return h, rest[headerLen:], nil
}

// writeFooter renders the fixed 32-byte trailer: the three offset
// fields followed by the 8-byte magic.
func writeFooter(f Footer) []byte {
	out := make([]byte, 0, footerLen+8)
	out = appendU64(out, f.IndexOffset)
	out = appendU64(out, f.BloomOffset)
	out = appendU64(out, f.DataEnd)
	out = appendU64(out, FooterMagic)
	return out
}

// readFooter parses the trailing 32 bytes of file.
func readFooter(file []byte) (Footer, error) {
	if len(file) < footerLen+8 {
		return Footer{}, cqlerr.New(cqlerr.Truncated, "sstable.readFooter", nil)
	}
	trailer := file[len(file)-(footerLen+8):]
	magic, err := readFooterMagic(trailer[footerLen:])
	if err != nil {
		return Footer{}, err
	}
	if magic != FooterMagic {
		return Footer{}, cqlerr.New(cqlerr.Corrupt, "sstable.readFooter", fmt.Errorf("bad footer magic %x", magic))
	}

	var f Footer
	f.IndexOffset, _, err = readU64(trailer[0:8])
	if err != nil {
		return Footer{}, err
	}
	f.BloomOffset, _, err = readU64(trailer[8:16])
	if err != nil {
		return Footer{}, err
	}
	f.DataEnd, _, err = readU64(trailer[16:24])
	if err != nil {
		return Footer{}, err
	}
	return f, nil
}

func readFooterMagic(b []byte) (uint64, error) {
	v, _, err := readU64(b)
	return v, err
}
