package sstable

import (
	"bytes"
	"sort"

	"github.com/cqlite-db/cqlite/vint"
)

// IndexEntry is one sparse partition-index entry: the first partition
// key of a data block, the block's byte range in the file, and the
// byte offset of that first row within the decompressed block (spec
// 4.6).
type IndexEntry struct {
	FirstKey          []byte
	BlockOffset       uint64
	BlockLen          uint32
	WithinBlockOffset uint32
}

// Index is the in-memory, memory-resident form of the on-disk
// partition index: a slice binary-searched by FirstKey.
type Index struct {
	Entries []IndexEntry
}

// Marshal renders the index as count:VInt || (key_len:VInt || key_bytes
// || block_offset:u64 || block_len:u32 || within_block_offset:u32)...
func (idx *Index) Marshal(dst []byte) []byte {
	dst = vint.Encode(dst, int64(len(idx.Entries)))
	for _, e := range idx.Entries {
		dst = appendBytes(dst, e.FirstKey)
		dst = appendU64(dst, e.BlockOffset)
		dst = appendU32(dst, e.BlockLen)
		dst = appendU32(dst, e.WithinBlockOffset)
	}
	return dst
}

// UnmarshalIndex parses an Index from the front of data.
func UnmarshalIndex(data []byte) (*Index, []byte, error) {
	count, rest, err := vint.DecodeLength(data)
	if err != nil {
		return nil, nil, err
	}
	idx := &Index{Entries: make([]IndexEntry, count)}
	for i := range idx.Entries {
		e := &idx.Entries[i]
		e.FirstKey, rest, err = readBytes(rest)
		if err != nil {
			return nil, nil, err
		}
		e.BlockOffset, rest, err = readU64(rest)
		if err != nil {
			return nil, nil, err
		}
		e.BlockLen, rest, err = readU32(rest)
		if err != nil {
			return nil, nil, err
		}
		e.WithinBlockOffset, rest, err = readU32(rest)
		if err != nil {
			return nil, nil, err
		}
	}
	return idx, rest, nil
}

// Find returns the entry for the block whose first key is <= key and
// whose next block's first key is > key (i.e. the block that would
// contain key, if it is present at all), or false if key precedes
// every block's first key.
func (idx *Index) Find(key []byte) (IndexEntry, bool) {
	n := len(idx.Entries)
	i := sort.Search(n, func(i int) bool {
		return bytes.Compare(idx.Entries[i].FirstKey, key) > 0
	})
	// i is the first entry strictly greater than key; the containing
	// block is the one just before it.
	if i == 0 {
		return IndexEntry{}, false
	}
	return idx.Entries[i-1], true
}
