package query

import (
	"bytes"
	"fmt"

	"github.com/cqlite-db/cqlite/cqlerr"
	"github.com/cqlite-db/cqlite/types"
)

// compareValues orders a and b, for the scalar kinds a WHERE clause's
// ordering operators (<, <=, >, >=) make sense against. Collections,
// tuples, UDTs and varint/decimal are not ordered by this helper — a
// predicate against one of those kinds only ever uses OpEq, which
// equalValues below handles structurally instead.
func compareValues(a, b types.Value) (int, error) {
	switch av := a.(type) {
	case types.BoolValue:
		bv, ok := b.(types.BoolValue)
		if !ok {
			return 0, mismatch(a, b)
		}
		return boolCompare(bool(av), bool(bv)), nil
	case types.TinyIntValue, types.SmallIntValue, types.IntValue, types.BigIntValue,
		types.CounterValue, types.TimestampValue, types.DateValue, types.TimeValue:
		ai, _ := asInt64(av)
		bi, ok := asInt64(b)
		if !ok {
			return 0, mismatch(a, b)
		}
		return intCompare(ai, bi), nil
	case types.FloatValue:
		bv, ok := b.(types.FloatValue)
		if !ok {
			return 0, mismatch(a, b)
		}
		return floatCompare(float64(av), float64(bv)), nil
	case types.DoubleValue:
		bv, ok := b.(types.DoubleValue)
		if !ok {
			return 0, mismatch(a, b)
		}
		return floatCompare(float64(av), float64(bv)), nil
	case types.TextValue:
		bv, ok := b.(types.TextValue)
		if !ok {
			return 0, mismatch(a, b)
		}
		return bytes.Compare([]byte(av), []byte(bv)), nil
	case types.AsciiValue:
		bv, ok := b.(types.AsciiValue)
		if !ok {
			return 0, mismatch(a, b)
		}
		return bytes.Compare([]byte(av), []byte(bv)), nil
	case types.BlobValue:
		bv, ok := b.(types.BlobValue)
		if !ok {
			return 0, mismatch(a, b)
		}
		return bytes.Compare(av, bv), nil
	case types.UUIDValue:
		bv, ok := b.(types.UUIDValue)
		if !ok {
			return 0, mismatch(a, b)
		}
		return bytes.Compare(av[:], bv[:]), nil
	case types.TimeUUIDValue:
		bv, ok := b.(types.TimeUUIDValue)
		if !ok {
			return 0, mismatch(a, b)
		}
		return bytes.Compare(av[:], bv[:]), nil
	default:
		return 0, cqlerr.New(cqlerr.InvalidQuery, "query.compareValues", fmt.Errorf("type %T is not orderable", a))
	}
}

// asInt64 extracts the underlying integer from any of the fixed-width
// integer Value kinds compareValues treats as mutually comparable.
func asInt64(v types.Value) (int64, bool) {
	switch t := v.(type) {
	case types.TinyIntValue:
		return int64(t), true
	case types.SmallIntValue:
		return int64(t), true
	case types.IntValue:
		return int64(t), true
	case types.BigIntValue:
		return int64(t), true
	case types.CounterValue:
		return int64(t), true
	case types.TimestampValue:
		return int64(t), true
	case types.DateValue:
		return int64(t), true
	case types.TimeValue:
		return int64(t), true
	default:
		return 0, false
	}
}

func mismatch(a, b types.Value) error {
	return cqlerr.New(cqlerr.SchemaMismatch, "query.compareValues", fmt.Errorf("cannot compare %T with %T", a, b))
}

func boolCompare(a, b bool) int {
	if a == b {
		return 0
	}
	if !a {
		return -1
	}
	return 1
}

func intCompare(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func floatCompare(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// equalValues reports whether a and b are the same value, used for the
// OpEq operator against any kind (including structural ones compareValues
// refuses to order).
func equalValues(a, b types.Value) bool {
	if c, err := compareValues(a, b); err == nil {
		return c == 0
	}
	encA, errA := types.Serialize(a, typeOf(a))
	encB, errB := types.Serialize(b, typeOf(b))
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(encA, encB)
}

func typeOf(v types.Value) *types.TypeDescriptor {
	return types.Primitive(v.TypeKind())
}
