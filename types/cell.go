package types

import (
	"fmt"

	"github.com/cqlite-db/cqlite/cqlerr"
	"github.com/cqlite-db/cqlite/vint"
)

// Cell markers distinguish a live value from a tombstone at the row/cell
// encoding layer; TypeDescriptor has no Kind for Tombstone since it
// describes a column's value type, not the value-or-deleted choice a
// stored cell actually makes.
const (
	cellMarkerValue     byte = 0
	cellMarkerTombstone byte = 1
)

// EncodeCell writes a cell as marker || payload: a live value is
// SerializeField'd against t, a tombstone is SerializeTombstone'd.
func EncodeCell(dst []byte, v Value, t *TypeDescriptor) ([]byte, error) {
	if tomb, ok := v.(TombstoneValue); ok {
		dst = append(dst, cellMarkerTombstone)
		return appendTombstone(dst, tomb), nil
	}
	dst = append(dst, cellMarkerValue)
	return SerializeField(dst, v, t)
}

// DecodeCell is the inverse of EncodeCell.
func DecodeCell(data []byte, t *TypeDescriptor, limits *Limits) (Value, []byte, error) {
	if len(data) == 0 {
		return nil, nil, cqlerr.New(cqlerr.Truncated, "types.DecodeCell", nil)
	}
	marker, rest := data[0], data[1:]
	switch marker {
	case cellMarkerValue:
		return ParseField(rest, t, limits)
	case cellMarkerTombstone:
		return parseTombstone(rest)
	default:
		return nil, nil, cqlerr.New(cqlerr.Corrupt, "types.DecodeCell", fmt.Errorf("unknown cell marker %d", marker))
	}
}

func appendTombstone(dst []byte, tomb TombstoneValue) []byte {
	dst = append(dst, byte(tomb.Kind))
	dst = vint.Encode(dst, tomb.DeletionTime)
	if tomb.TTL == nil {
		dst = vint.Encode(dst, -1)
	} else {
		dst = vint.Encode(dst, 0)
		dst = vint.Encode(dst, *tomb.TTL)
	}
	switch tomb.Kind {
	case TombstoneRange:
		dst = appendOptionalBytes(dst, tomb.RangeStart)
		dst = appendOptionalBytes(dst, tomb.RangeEnd)
	}
	return dst
}

func parseTombstone(data []byte) (Value, []byte, error) {
	if len(data) < 1 {
		return nil, nil, cqlerr.New(cqlerr.Truncated, "types.parseTombstone", nil)
	}
	kind := TombstoneKind(data[0])
	rest := data[1:]

	deletionTime, rest, err := vint.Decode(rest)
	if err != nil {
		return nil, nil, err
	}

	ttlFlag, rest, err := vint.Decode(rest)
	if err != nil {
		return nil, nil, err
	}
	var ttl *int64
	if ttlFlag == 0 {
		var v int64
		v, rest, err = vint.Decode(rest)
		if err != nil {
			return nil, nil, err
		}
		ttl = &v
	}

	tomb := TombstoneValue{Kind: kind, DeletionTime: deletionTime, TTL: ttl}
	if kind == TombstoneRange {
		tomb.RangeStart, rest, err = parseOptionalBytes(rest)
		if err != nil {
			return nil, nil, err
		}
		tomb.RangeEnd, rest, err = parseOptionalBytes(rest)
		if err != nil {
			return nil, nil, err
		}
	}
	return tomb, rest, nil
}

func appendOptionalBytes(dst []byte, b []byte) []byte {
	if b == nil {
		return vint.Encode(dst, -1)
	}
	dst = vint.Encode(dst, int64(len(b)))
	return append(dst, b...)
}

func parseOptionalBytes(data []byte) ([]byte, []byte, error) {
	n, rest, err := vint.Decode(data)
	if err != nil {
		return nil, nil, err
	}
	if n == -1 {
		return nil, rest, nil
	}
	if n < 0 {
		return nil, nil, cqlerr.New(cqlerr.NegativeLength, "types.parseOptionalBytes", nil)
	}
	if int64(len(rest)) < n {
		return nil, nil, cqlerr.New(cqlerr.Truncated, "types.parseOptionalBytes", nil)
	}
	out := make([]byte, n)
	copy(out, rest[:n])
	return out, rest[n:], nil
}
