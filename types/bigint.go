package types

import "math/big"

// encodeTwosComplement renders n as the minimal big-endian two's-complement
// byte sequence CQL uses for varint/decimal unscaled values. Zero encodes as
// a single zero byte.
func encodeTwosComplement(n *big.Int) []byte {
	if n.Sign() == 0 {
		return []byte{0}
	}
	if n.Sign() > 0 {
		b := n.Bytes()
		if b[0]&0x80 != 0 {
			b = append([]byte{0}, b...)
		}
		return b
	}

	// Negative: two's complement of the smallest byte width that fits.
	mag := new(big.Int).Neg(n) // magnitude, positive
	nBytes := new(big.Int).Sub(mag, big.NewInt(1)).BitLen()/8 + 1
	mask := new(big.Int).Lsh(big.NewInt(1), uint(nBytes*8))
	twos := new(big.Int).Sub(mask, mag)
	out := make([]byte, nBytes)
	twos.FillBytes(out)
	return out
}

// decodeTwosComplement is the inverse of encodeTwosComplement.
func decodeTwosComplement(b []byte) *big.Int {
	if len(b) == 0 {
		return big.NewInt(0)
	}
	n := new(big.Int).SetBytes(b)
	if b[0]&0x80 == 0 {
		return n
	}
	mask := new(big.Int).Lsh(big.NewInt(1), uint(len(b)*8))
	return n.Sub(n, mask)
}
