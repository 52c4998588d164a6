package types

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"net"

	"github.com/cqlite-db/cqlite/cqlerr"
	"github.com/cqlite-db/cqlite/vint"
)

// Serialize renders v in its "native" on-wire form for type t: fixed-width
// primitives write their raw bytes with no length prefix, variable-width
// primitives carry their own intrinsic VInt length, and containers carry
// the count/tag framing of spec 4.2. It never itself emits the outer
// length-minus-one-for-null wrapper used by tuple/UDT fields — that is
// SerializeField's job.
func Serialize(v Value, t *TypeDescriptor) ([]byte, error) {
	return appendValue(nil, v, t)
}

// SerializeField renders v wrapped in the length-prefixed form tuple and
// UDT fields use, where a Null value is the single sentinel VInt -1.
func SerializeField(dst []byte, v Value, t *TypeDescriptor) ([]byte, error) {
	if _, isNull := v.(Null); isNull {
		return vint.Encode(dst, -1), nil
	}
	native, err := appendValue(nil, v, t)
	if err != nil {
		return nil, err
	}
	dst = vint.Encode(dst, int64(len(native)))
	return append(dst, native...), nil
}

// Parse decodes a value of type t in its native on-wire form from the front
// of data, returning the value and the unconsumed remainder.
func Parse(data []byte, t *TypeDescriptor) (Value, []byte, error) {
	return parseValue(data, t, nil)
}

// ParseWithLimits is Parse with an explicit cap on collection cardinality.
func ParseWithLimits(data []byte, t *TypeDescriptor, limits *Limits) (Value, []byte, error) {
	return parseValue(data, t, limits)
}

// ParseField decodes a length-prefixed field (tuple/UDT), returning Null
// when the encoded length is the -1 sentinel.
func ParseField(data []byte, t *TypeDescriptor, limits *Limits) (Value, []byte, error) {
	n, rest, err := vint.Decode(data)
	if err != nil {
		return nil, nil, err
	}
	if n == -1 {
		return Null{}, rest, nil
	}
	if n < 0 {
		return nil, nil, cqlerr.New(cqlerr.NegativeLength, "types.ParseField", nil)
	}
	if int64(len(rest)) < n {
		return nil, nil, cqlerr.New(cqlerr.Truncated, "types.ParseField", nil)
	}
	field := rest[:n]
	v, leftover, err := parseValue(field, t, limits)
	if err != nil {
		return nil, nil, err
	}
	if len(leftover) != 0 {
		return nil, nil, cqlerr.New(cqlerr.Corrupt, "types.ParseField", fmt.Errorf("%d trailing bytes in field", len(leftover)))
	}
	return v, rest[n:], nil
}

func appendValue(dst []byte, v Value, t *TypeDescriptor) ([]byte, error) {
	if t == nil {
		return nil, cqlerr.New(cqlerr.SchemaMismatch, "types.Serialize", fmt.Errorf("nil type descriptor"))
	}
	switch t.Kind {
	case KindBoolean:
		bv, ok := v.(BoolValue)
		if !ok {
			return nil, typeMismatch("boolean", v)
		}
		if bv {
			return append(dst, 1), nil
		}
		return append(dst, 0), nil

	case KindTinyInt:
		iv, ok := v.(TinyIntValue)
		if !ok {
			return nil, typeMismatch("tinyint", v)
		}
		return append(dst, byte(iv)), nil

	case KindSmallInt:
		iv, ok := v.(SmallIntValue)
		if !ok {
			return nil, typeMismatch("smallint", v)
		}
		var buf [2]byte
		binary.BigEndian.PutUint16(buf[:], uint16(iv))
		return append(dst, buf[:]...), nil

	case KindInt:
		iv, ok := v.(IntValue)
		if !ok {
			return nil, typeMismatch("int", v)
		}
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], uint32(iv))
		return append(dst, buf[:]...), nil

	case KindBigInt:
		iv, ok := v.(BigIntValue)
		if !ok {
			return nil, typeMismatch("bigint", v)
		}
		return appendInt64(dst, int64(iv)), nil

	case KindCounter:
		cv, ok := v.(CounterValue)
		if !ok {
			return nil, typeMismatch("counter", v)
		}
		return appendInt64(dst, int64(cv)), nil

	case KindTimestamp:
		tv, ok := v.(TimestampValue)
		if !ok {
			return nil, typeMismatch("timestamp", v)
		}
		return appendInt64(dst, int64(tv)), nil

	case KindTime:
		tv, ok := v.(TimeValue)
		if !ok {
			return nil, typeMismatch("time", v)
		}
		return appendInt64(dst, int64(tv)), nil

	case KindDate:
		dv, ok := v.(DateValue)
		if !ok {
			return nil, typeMismatch("date", v)
		}
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], uint32(dv))
		return append(dst, buf[:]...), nil

	case KindFloat:
		fv, ok := v.(FloatValue)
		if !ok {
			return nil, typeMismatch("float", v)
		}
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], math.Float32bits(float32(fv)))
		return append(dst, buf[:]...), nil

	case KindDouble:
		dv, ok := v.(DoubleValue)
		if !ok {
			return nil, typeMismatch("double", v)
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(float64(dv)))
		return append(dst, buf[:]...), nil

	case KindUUID:
		uv, ok := v.(UUIDValue)
		if !ok {
			return nil, typeMismatch("uuid", v)
		}
		return append(dst, uv[:]...), nil

	case KindTimeUUID:
		uv, ok := v.(TimeUUIDValue)
		if !ok {
			return nil, typeMismatch("timeuuid", v)
		}
		return append(dst, uv[:]...), nil

	case KindVarint:
		vv, ok := v.(VarintValue)
		if !ok {
			return nil, typeMismatch("varint", v)
		}
		payload := encodeTwosComplement(vv.Int)
		dst = vint.Encode(dst, int64(len(payload)))
		return append(dst, payload...), nil

	case KindDecimal:
		dv, ok := v.(DecimalValue)
		if !ok {
			return nil, typeMismatch("decimal", v)
		}
		unscaled := encodeTwosComplement(dv.Unscaled)
		payload := make([]byte, 4, 4+len(unscaled))
		binary.BigEndian.PutUint32(payload, uint32(dv.Scale))
		payload = append(payload, unscaled...)
		dst = vint.Encode(dst, int64(len(payload)))
		return append(dst, payload...), nil

	case KindText:
		tv, ok := v.(TextValue)
		if !ok {
			return nil, typeMismatch("text", v)
		}
		dst = vint.Encode(dst, int64(len(tv)))
		return append(dst, tv...), nil

	case KindAscii:
		av, ok := v.(AsciiValue)
		if !ok {
			return nil, typeMismatch("ascii", v)
		}
		dst = vint.Encode(dst, int64(len(av)))
		return append(dst, av...), nil

	case KindBlob:
		bv, ok := v.(BlobValue)
		if !ok {
			return nil, typeMismatch("blob", v)
		}
		dst = vint.Encode(dst, int64(len(bv)))
		return append(dst, bv...), nil

	case KindInet:
		iv, ok := v.(InetValue)
		if !ok {
			return nil, typeMismatch("inet", v)
		}
		raw := iv.IP.To4()
		if raw == nil {
			raw = iv.IP.To16()
		}
		if raw == nil {
			return nil, cqlerr.New(cqlerr.InvalidQuery, "types.Serialize", fmt.Errorf("invalid inet address"))
		}
		dst = vint.Encode(dst, int64(len(raw)))
		return append(dst, raw...), nil

	case KindDuration:
		dv, ok := v.(DurationValue)
		if !ok {
			return nil, typeMismatch("duration", v)
		}
		var payload []byte
		payload = vint.Encode(payload, int64(dv.Months))
		payload = vint.Encode(payload, int64(dv.Days))
		payload = vint.Encode(payload, dv.Nanos)
		dst = vint.Encode(dst, int64(len(payload)))
		return append(dst, payload...), nil

	case KindList:
		lv, ok := v.(ListValue)
		if !ok {
			return nil, typeMismatch("list", v)
		}
		return appendCollection(dst, t.Elem, lv.Items)

	case KindSet:
		sv, ok := v.(SetValue)
		if !ok {
			return nil, typeMismatch("set", v)
		}
		deduped, err := NewSetValue(t.Elem, sv.Items)
		if err != nil {
			return nil, err
		}
		return appendCollection(dst, t.Elem, deduped.Items)

	case KindMap:
		mv, ok := v.(MapValue)
		if !ok {
			return nil, typeMismatch("map", v)
		}
		dst = vint.Encode(dst, int64(len(mv.Entries)))
		dst = append(dst, byte(t.KeyT.Kind), byte(t.ValT.Kind))
		for _, e := range mv.Entries {
			var err error
			dst, err = appendValue(dst, e.Key, t.KeyT)
			if err != nil {
				return nil, err
			}
			dst, err = appendValue(dst, e.Val, t.ValT)
			if err != nil {
				return nil, err
			}
		}
		return dst, nil

	case KindTuple:
		tv, ok := v.(TupleValue)
		if !ok {
			return nil, typeMismatch("tuple", v)
		}
		if len(tv.Items) != len(t.Fields) {
			return nil, cqlerr.New(cqlerr.SchemaMismatch, "types.Serialize", fmt.Errorf("tuple arity %d != schema arity %d", len(tv.Items), len(t.Fields)))
		}
		var err error
		for i, item := range tv.Items {
			dst, err = SerializeField(dst, item, t.Fields[i].Type)
			if err != nil {
				return nil, err
			}
		}
		return dst, nil

	case KindUDT:
		uv, ok := v.(UDTValue)
		if !ok {
			return nil, typeMismatch("udt", v)
		}
		var err error
		for _, f := range t.Fields {
			fv, present := uv.Fields[f.Name]
			if !present {
				fv = Null{}
			}
			dst, err = SerializeField(dst, fv, f.Type)
			if err != nil {
				return nil, err
			}
		}
		return dst, nil

	case KindFrozen:
		fv, ok := v.(FrozenValue)
		if !ok {
			return nil, typeMismatch("frozen", v)
		}
		inner, err := appendValue(nil, fv.Value, t.Elem)
		if err != nil {
			return nil, err
		}
		dst = vint.Encode(dst, int64(len(inner)))
		return append(dst, inner...), nil

	default:
		return nil, cqlerr.New(cqlerr.SchemaMismatch, "types.Serialize", fmt.Errorf("unhandled kind %s", t.Kind))
	}
}

func appendCollection(dst []byte, elemType *TypeDescriptor, items []Value) ([]byte, error) {
	dst = vint.Encode(dst, int64(len(items)))
	dst = append(dst, byte(elemType.Kind))
	for _, item := range items {
		var err error
		dst, err = appendValue(dst, item, elemType)
		if err != nil {
			return nil, err
		}
	}
	return dst, nil
}

func appendInt64(dst []byte, n int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))
	return append(dst, buf[:]...)
}

func parseValue(data []byte, t *TypeDescriptor, limits *Limits) (Value, []byte, error) {
	if t == nil {
		return nil, nil, cqlerr.New(cqlerr.SchemaMismatch, "types.Parse", fmt.Errorf("nil type descriptor"))
	}
	need := func(n int) error {
		if len(data) < n {
			return cqlerr.New(cqlerr.Truncated, "types.Parse", nil)
		}
		return nil
	}

	switch t.Kind {
	case KindBoolean:
		if err := need(1); err != nil {
			return nil, nil, err
		}
		return BoolValue(data[0] != 0), data[1:], nil

	case KindTinyInt:
		if err := need(1); err != nil {
			return nil, nil, err
		}
		return TinyIntValue(int8(data[0])), data[1:], nil

	case KindSmallInt:
		if err := need(2); err != nil {
			return nil, nil, err
		}
		return SmallIntValue(int16(binary.BigEndian.Uint16(data))), data[2:], nil

	case KindInt:
		if err := need(4); err != nil {
			return nil, nil, err
		}
		return IntValue(int32(binary.BigEndian.Uint32(data))), data[4:], nil

	case KindBigInt:
		n, rest, err := readInt64(data)
		return BigIntValue(n), rest, err

	case KindCounter:
		n, rest, err := readInt64(data)
		return CounterValue(n), rest, err

	case KindTimestamp:
		n, rest, err := readInt64(data)
		return TimestampValue(n), rest, err

	case KindTime:
		n, rest, err := readInt64(data)
		return TimeValue(n), rest, err

	case KindDate:
		if err := need(4); err != nil {
			return nil, nil, err
		}
		return DateValue(int32(binary.BigEndian.Uint32(data))), data[4:], nil

	case KindFloat:
		if err := need(4); err != nil {
			return nil, nil, err
		}
		return FloatValue(math.Float32frombits(binary.BigEndian.Uint32(data))), data[4:], nil

	case KindDouble:
		if err := need(8); err != nil {
			return nil, nil, err
		}
		return DoubleValue(math.Float64frombits(binary.BigEndian.Uint64(data))), data[8:], nil

	case KindUUID:
		if err := need(16); err != nil {
			return nil, nil, err
		}
		var u UUIDValue
		copy(u[:], data[:16])
		return u, data[16:], nil

	case KindTimeUUID:
		if err := need(16); err != nil {
			return nil, nil, err
		}
		var u TimeUUIDValue
		copy(u[:], data[:16])
		return u, data[16:], nil

	case KindVarint:
		payload, rest, err := readLengthPrefixed(data)
		if err != nil {
			return nil, nil, err
		}
		return VarintValue{Int: decodeTwosComplement(payload)}, rest, nil

	case KindDecimal:
		payload, rest, err := readLengthPrefixed(data)
		if err != nil {
			return nil, nil, err
		}
		if len(payload) < 4 {
			return nil, nil, cqlerr.New(cqlerr.Corrupt, "types.Parse", fmt.Errorf("decimal payload too short"))
		}
		scale := int32(binary.BigEndian.Uint32(payload))
		return DecimalValue{Scale: scale, Unscaled: decodeTwosComplement(payload[4:])}, rest, nil

	case KindText:
		payload, rest, err := readLengthPrefixed(data)
		if err != nil {
			return nil, nil, err
		}
		return TextValue(payload), rest, nil

	case KindAscii:
		payload, rest, err := readLengthPrefixed(data)
		if err != nil {
			return nil, nil, err
		}
		return AsciiValue(payload), rest, nil

	case KindBlob:
		payload, rest, err := readLengthPrefixed(data)
		if err != nil {
			return nil, nil, err
		}
		out := make([]byte, len(payload))
		copy(out, payload)
		return BlobValue(out), rest, nil

	case KindInet:
		payload, rest, err := readLengthPrefixed(data)
		if err != nil {
			return nil, nil, err
		}
		if len(payload) != 4 && len(payload) != 16 {
			return nil, nil, cqlerr.New(cqlerr.Corrupt, "types.Parse", fmt.Errorf("invalid inet length %d", len(payload)))
		}
		ip := make(net.IP, len(payload))
		copy(ip, payload)
		return InetValue{IP: ip}, rest, nil

	case KindDuration:
		payload, rest, err := readLengthPrefixed(data)
		if err != nil {
			return nil, nil, err
		}
		months, p, err := vint.Decode(payload)
		if err != nil {
			return nil, nil, err
		}
		days, p, err := vint.Decode(p)
		if err != nil {
			return nil, nil, err
		}
		nanos, p, err := vint.Decode(p)
		if err != nil {
			return nil, nil, err
		}
		if len(p) != 0 {
			return nil, nil, cqlerr.New(cqlerr.Corrupt, "types.Parse", fmt.Errorf("trailing bytes in duration payload"))
		}
		return DurationValue{Months: int32(months), Days: int32(days), Nanos: nanos}, rest, nil

	case KindList:
		items, rest, err := parseCollectionItems(data, t.Elem, limits)
		if err != nil {
			return nil, nil, err
		}
		return ListValue{Elem: t.Elem, Items: items}, rest, nil

	case KindSet:
		items, rest, err := parseCollectionItems(data, t.Elem, limits)
		if err != nil {
			return nil, nil, err
		}
		sv, err := NewSetValue(t.Elem, items)
		if err != nil {
			return nil, nil, err
		}
		return sv, rest, nil

	case KindMap:
		lim := limitsOrDefault(limits)
		count, rest, err := vint.DecodeLength(data)
		if err != nil {
			return nil, nil, err
		}
		if count > lim.MaxCollectionElements {
			return nil, nil, cqlerr.New(cqlerr.TooLarge, "types.Parse", fmt.Errorf("map count %d exceeds limit", count))
		}
		if err := need2(rest, 2); err != nil {
			return nil, nil, err
		}
		rest = rest[2:] // key_tag, value_tag: descriptor already supplies the full shape
		entries := make([]MapEntry, 0, count)
		for i := int64(0); i < count; i++ {
			var key, val Value
			key, rest, err = parseValue(rest, t.KeyT, limits)
			if err != nil {
				return nil, nil, err
			}
			val, rest, err = parseValue(rest, t.ValT, limits)
			if err != nil {
				return nil, nil, err
			}
			entries = append(entries, MapEntry{Key: key, Val: val})
		}
		return MapValue{KeyT: t.KeyT, ValT: t.ValT, Entries: entries}, rest, nil

	case KindTuple:
		items := make([]Value, len(t.Fields))
		rest := data
		for i, f := range t.Fields {
			var v Value
			var err error
			v, rest, err = ParseField(rest, f.Type, limits)
			if err != nil {
				return nil, nil, err
			}
			items[i] = v
		}
		types := make([]*TypeDescriptor, len(t.Fields))
		for i, f := range t.Fields {
			types[i] = f.Type
		}
		return TupleValue{Types: types, Items: items}, rest, nil

	case KindUDT:
		fields := make(map[string]Value, len(t.Fields))
		order := make([]string, len(t.Fields))
		rest := data
		for i, f := range t.Fields {
			order[i] = f.Name
			if len(rest) == 0 {
				// Schema evolution: trailing fields absent from an older
				// writer read as Null (spec 4.2).
				fields[f.Name] = Null{}
				continue
			}
			var v Value
			var err error
			v, rest, err = ParseField(rest, f.Type, limits)
			if err != nil {
				return nil, nil, err
			}
			fields[f.Name] = v
		}
		return UDTValue{Descriptor: t, FieldOrder: order, Fields: fields}, rest, nil

	case KindFrozen:
		payload, rest, err := readLengthPrefixed(data)
		if err != nil {
			return nil, nil, err
		}
		inner, leftover, err := parseValue(payload, t.Elem, limits)
		if err != nil {
			return nil, nil, err
		}
		if len(leftover) != 0 {
			return nil, nil, cqlerr.New(cqlerr.Corrupt, "types.Parse", fmt.Errorf("trailing bytes in frozen payload"))
		}
		return FrozenValue{Inner: t.Elem, Value: inner}, rest, nil

	default:
		return nil, nil, cqlerr.New(cqlerr.SchemaMismatch, "types.Parse", fmt.Errorf("unhandled kind %s", t.Kind))
	}
}

func parseCollectionItems(data []byte, elemType *TypeDescriptor, limits *Limits) ([]Value, []byte, error) {
	lim := limitsOrDefault(limits)
	count, rest, err := vint.DecodeLength(data)
	if err != nil {
		return nil, nil, err
	}
	if count > lim.MaxCollectionElements {
		return nil, nil, cqlerr.New(cqlerr.TooLarge, "types.Parse", fmt.Errorf("collection count %d exceeds limit", count))
	}
	if err := need2(rest, 1); err != nil {
		return nil, nil, err
	}
	rest = rest[1:] // element_type_tag: descriptor.Elem already supplies the shape
	items := make([]Value, 0, count)
	for i := int64(0); i < count; i++ {
		var v Value
		v, rest, err = parseValue(rest, elemType, limits)
		if err != nil {
			return nil, nil, err
		}
		items = append(items, v)
	}
	return items, rest, nil
}

func readInt64(data []byte) (int64, []byte, error) {
	if len(data) < 8 {
		return 0, nil, cqlerr.New(cqlerr.Truncated, "types.Parse", nil)
	}
	return int64(binary.BigEndian.Uint64(data)), data[8:], nil
}

func readLengthPrefixed(data []byte) ([]byte, []byte, error) {
	n, rest, err := vint.DecodeLength(data)
	if err != nil {
		return nil, nil, err
	}
	if int64(len(rest)) < n {
		return nil, nil, cqlerr.New(cqlerr.Truncated, "types.Parse", nil)
	}
	return rest[:n], rest[n:], nil
}

func need2(data []byte, n int) error {
	if len(data) < n {
		return cqlerr.New(cqlerr.Truncated, "types.Parse", nil)
	}
	return nil
}

func typeMismatch(want string, got Value) error {
	return cqlerr.New(cqlerr.SchemaMismatch, "types.Serialize", fmt.Errorf("expected %s value, got %T", want, got))
}
