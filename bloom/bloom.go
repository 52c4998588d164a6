// Package bloom implements the partitioned Bloom filter of spec 4.5: bit
// count and hash count derived from expected cardinality and a target
// false-positive rate, two independent 64-bit murmur3 hashes combined via
// the double-hashing scheme h(i) = h1 + i*h2 mod m.
package bloom

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/bits-and-blooms/bitset"
	"github.com/spaolacci/murmur3"

	"github.com/cqlite-db/cqlite/cqlerr"
)

// DefaultFalsePositiveRate is the spec's default target p.
const DefaultFalsePositiveRate = 0.01

// maxHashCount caps k regardless of how the (n, p) formula works out.
const maxHashCount = 16

// Filter is a partitioned Bloom filter over partition-key byte strings.
type Filter struct {
	m    uint64 // bit count, a multiple of 64
	k    uint8  // hash function count
	bits *bitset.BitSet
}

// New builds an empty filter sized for expected cardinality n at target
// false-positive rate p.
func New(n uint64, p float64) *Filter {
	if p <= 0 || p >= 1 {
		p = DefaultFalsePositiveRate
	}
	if n == 0 {
		n = 1
	}

	m := uint64(math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)))
	if rem := m % 64; rem != 0 {
		m += 64 - rem
	}
	if m == 0 {
		m = 64
	}

	k := uint64(math.Ceil(float64(m) / float64(n) * math.Ln2))
	if k < 1 {
		k = 1
	}
	if k > maxHashCount {
		k = maxHashCount
	}

	return &Filter{m: m, k: uint8(k), bits: bitset.New(uint(m))}
}

// Add inserts key into the filter.
func (f *Filter) Add(key []byte) {
	h1, h2 := seedHashes(key)
	for i := uint64(0); i < uint64(f.k); i++ {
		f.bits.Set(uint(f.index(h1, h2, i)))
	}
}

// Contains reports whether key may have been added. False positives are
// possible; false negatives are not (spec 4.5 invariant).
func (f *Filter) Contains(key []byte) bool {
	h1, h2 := seedHashes(key)
	for i := uint64(0); i < uint64(f.k); i++ {
		if !f.bits.Test(uint(f.index(h1, h2, i))) {
			return false
		}
	}
	return true
}

func (f *Filter) index(h1, h2, i uint64) uint64 {
	return (h1 + i*h2) % f.m
}

func seedHashes(key []byte) (uint64, uint64) {
	h1, _ := murmur3.Sum128WithSeed(key, 0)
	h2, _ := murmur3.Sum128WithSeed(key, 1)
	return h1, h2
}

// M returns the bit count.
func (f *Filter) M() uint64 { return f.m }

// K returns the hash function count.
func (f *Filter) K() uint8 { return f.k }

// Marshal serializes the filter as m:u32 || k:u8 || bits:bytes[m/8],
// appending to dst.
func (f *Filter) Marshal(dst []byte) []byte {
	var hdr [5]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(f.m))
	hdr[4] = f.k
	dst = append(dst, hdr[:]...)

	packed := make([]byte, f.m/8)
	for i := uint64(0); i < f.m; i++ {
		if f.bits.Test(uint(i)) {
			packed[i/8] |= 1 << (i % 8)
		}
	}
	return append(dst, packed...)
}

// Unmarshal parses a filter from the front of data, returning it and the
// unconsumed remainder.
func Unmarshal(data []byte) (*Filter, []byte, error) {
	if len(data) < 5 {
		return nil, nil, cqlerr.New(cqlerr.Truncated, "bloom.Unmarshal", nil)
	}
	m := uint64(binary.BigEndian.Uint32(data[0:4]))
	k := data[4]
	rest := data[5:]

	nBytes := m / 8
	if uint64(len(rest)) < nBytes {
		return nil, nil, cqlerr.New(cqlerr.Truncated, "bloom.Unmarshal", nil)
	}
	if m == 0 || m%64 != 0 {
		return nil, nil, cqlerr.New(cqlerr.Corrupt, "bloom.Unmarshal", fmt.Errorf("bit count %d not a positive multiple of 64", m))
	}

	bs := bitset.New(uint(m))
	packed := rest[:nBytes]
	for i := uint64(0); i < m; i++ {
		if packed[i/8]&(1<<(i%8)) != 0 {
			bs.Set(uint(i))
		}
	}

	return &Filter{m: m, k: k, bits: bs}, rest[nBytes:], nil
}
