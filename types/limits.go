package types

// Limits bounds how much an untrusted or corrupt stream can make Parse
// allocate before it is rejected with cqlerr.TooLarge (spec 4.2 "decoding
// must reject ... a collection count exceeding a configurable cap").
type Limits struct {
	MaxCollectionElements int64
}

// DefaultLimits matches the spec's default cap of 2^24 elements.
var DefaultLimits = Limits{MaxCollectionElements: 1 << 24}

func limitsOrDefault(l *Limits) Limits {
	if l == nil {
		return DefaultLimits
	}
	return *l
}
