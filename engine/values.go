package engine

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/cqlite-db/cqlite/cqlerr"
	"github.com/cqlite-db/cqlite/types"
)

// literalToValue resolves a not-yet-typed CQL literal against a column's
// declared type, dispatching on types.Kind the way the teacher's
// original single-type K4 had no need to (every value there was an
// opaque blob); this is new code, grounded on the shape of
// types.Value's concrete implementations in types/value.go rather than
// any one teacher file, since the teacher never parsed typed literals.
func literalToValue(lit literal, t *types.TypeDescriptor) (types.Value, error) {
	if lit.null {
		return types.Null{}, nil
	}

	switch t.Kind {
	case types.KindBoolean:
		if !lit.isBool {
			return nil, badLiteral("boolean", lit)
		}
		return types.BoolValue(lit.bval), nil

	case types.KindTinyInt:
		n, err := parseInt(lit, 8)
		if err != nil {
			return nil, err
		}
		return types.TinyIntValue(n), nil
	case types.KindSmallInt:
		n, err := parseInt(lit, 16)
		if err != nil {
			return nil, err
		}
		return types.SmallIntValue(n), nil
	case types.KindInt:
		n, err := parseInt(lit, 32)
		if err != nil {
			return nil, err
		}
		return types.IntValue(n), nil
	case types.KindBigInt, types.KindCounter:
		n, err := parseInt(lit, 64)
		if err != nil {
			return nil, err
		}
		if t.Kind == types.KindCounter {
			return types.CounterValue(n), nil
		}
		return types.BigIntValue(n), nil
	case types.KindTimestamp:
		n, err := parseInt(lit, 64)
		if err != nil {
			return nil, err
		}
		return types.TimestampValue(n), nil
	case types.KindDate:
		n, err := parseInt(lit, 32)
		if err != nil {
			return nil, err
		}
		return types.DateValue(n), nil
	case types.KindTime:
		n, err := parseInt(lit, 64)
		if err != nil {
			return nil, err
		}
		return types.TimeValue(n), nil

	case types.KindFloat:
		f, err := parseFloat(lit)
		if err != nil {
			return nil, err
		}
		return types.FloatValue(f), nil
	case types.KindDouble:
		f, err := parseFloat(lit)
		if err != nil {
			return nil, err
		}
		return types.DoubleValue(f), nil

	case types.KindText:
		if !lit.isStr {
			return nil, badLiteral("text", lit)
		}
		return types.TextValue(lit.text), nil
	case types.KindAscii:
		if !lit.isStr {
			return nil, badLiteral("ascii", lit)
		}
		return types.AsciiValue(lit.text), nil
	case types.KindBlob:
		if !lit.isStr {
			return nil, badLiteral("blob", lit)
		}
		b, err := hex.DecodeString(strings.TrimPrefix(lit.text, "0x"))
		if err != nil {
			return nil, cqlerr.New(cqlerr.InvalidQuery, "engine.literalToValue", fmt.Errorf("blob literal: %w", err))
		}
		return types.BlobValue(b), nil

	case types.KindUUID, types.KindTimeUUID:
		if !lit.isStr {
			return nil, badLiteral("uuid", lit)
		}
		var id [16]byte
		b, err := parseUUIDHex(lit.text)
		if err != nil {
			return nil, err
		}
		id = b
		if t.Kind == types.KindTimeUUID {
			return types.TimeUUIDValue(id), nil
		}
		return types.UUIDValue(id), nil

	default:
		return nil, cqlerr.New(cqlerr.InvalidQuery, "engine.literalToValue", fmt.Errorf("literal values of kind %v are not supported by this CQL subset", t.Kind))
	}
}

func badLiteral(want string, lit literal) error {
	return cqlerr.New(cqlerr.InvalidQuery, "engine.literalToValue", fmt.Errorf("expected a %s literal", want))
}

func parseInt(lit literal, bits int) (int64, error) {
	if !lit.isNum {
		return 0, badLiteral("numeric", lit)
	}
	n, err := strconv.ParseInt(lit.number, 10, bits)
	if err != nil {
		return 0, cqlerr.New(cqlerr.InvalidQuery, "engine.parseInt", err)
	}
	return n, nil
}

func parseFloat(lit literal) (float64, error) {
	if !lit.isNum {
		return 0, badLiteral("numeric", lit)
	}
	f, err := strconv.ParseFloat(lit.number, 64)
	if err != nil {
		return 0, cqlerr.New(cqlerr.InvalidQuery, "engine.parseFloat", err)
	}
	return f, nil
}

func parseUUIDHex(s string) ([16]byte, error) {
	var out [16]byte
	clean := strings.ReplaceAll(s, "-", "")
	b, err := hex.DecodeString(clean)
	if err != nil || len(b) != 16 {
		return out, cqlerr.New(cqlerr.InvalidQuery, "engine.parseUUIDHex", fmt.Errorf("malformed uuid literal %q", s))
	}
	copy(out[:], b)
	return out, nil
}
