// Package vint implements Cassandra-compatible signed variable-length
// integer encoding: 1-9 bytes, the leading one-bits of the first byte give
// the total encoded length, and the value is zigzag-encoded so small
// negative numbers stay short.
package vint

import (
	"github.com/cqlite-db/cqlite/cqlerr"
)

// MaxLen is the longest an encoded VInt can be (a full 64-bit magnitude).
const MaxLen = 9

// Encode appends the VInt encoding of n to dst and returns the result.
func Encode(dst []byte, n int64) []byte {
	zz := zigzag(n)
	extra := extraBytesFor(zz)

	if extra == 0 {
		return append(dst, byte(zz))
	}

	firstByte := firstByteFlag(extra) | byte(zz>>(8*uint(extra)))
	dst = append(dst, firstByte)
	for i := extra - 1; i >= 0; i-- {
		dst = append(dst, byte(zz>>(8*uint(i))))
	}
	return dst
}

// Decode reads a VInt from the front of src, returning the value and the
// unconsumed remainder. It fails with cqlerr.Truncated if src is shorter
// than the length the first byte indicates.
func Decode(src []byte) (int64, []byte, error) {
	if len(src) == 0 {
		return 0, nil, cqlerr.New(cqlerr.Truncated, "vint.Decode", nil)
	}

	first := src[0]
	extra := leadingOnes(first)
	total := 1 + extra
	if len(src) < total {
		return 0, nil, cqlerr.New(cqlerr.Truncated, "vint.Decode", nil)
	}

	mask := byte(0xFF >> uint(extra+1))
	magnitude := uint64(first & mask)
	for i := 1; i <= extra; i++ {
		magnitude = (magnitude << 8) | uint64(src[i])
	}

	return unzigzag(magnitude), src[total:], nil
}

// DecodeLength decodes a VInt used as a length prefix, rejecting negative
// values with cqlerr.NegativeLength.
func DecodeLength(src []byte) (int64, []byte, error) {
	n, rest, err := Decode(src)
	if err != nil {
		return 0, nil, err
	}
	if n < 0 {
		return 0, nil, cqlerr.New(cqlerr.NegativeLength, "vint.DecodeLength", nil)
	}
	return n, rest, nil
}

func zigzag(n int64) uint64 {
	return uint64((n << 1) ^ (n >> 63))
}

func unzigzag(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}

// extraBytesFor returns how many bytes beyond the first are needed to hold
// the given zigzagged magnitude. With n extra bytes the first byte
// contributes (7-n) value bits and each extra byte contributes 8, for a
// total of 7+7n bits; at n==8 the first byte is pure length-prefix and the
// full 64-bit magnitude lives in the 8 trailing bytes.
func extraBytesFor(zz uint64) int {
	for n := 0; n < 8; n++ {
		bits := uint(7 + 7*n)
		if zz < (uint64(1) << bits) {
			return n
		}
	}
	return 8
}

// firstByteFlag returns extra leading one-bits followed by a zero bit (when
// extra < 8), which Decode reads back via leadingOnes.
func firstByteFlag(extra int) byte {
	if extra == 0 {
		return 0
	}
	return byte(0xFF << uint(8-extra))
}

func leadingOnes(b byte) int {
	n := 0
	for i := 7; i >= 0; i-- {
		if b&(1<<uint(i)) == 0 {
			break
		}
		n++
	}
	return n
}
