package types

import (
	"math/big"
	"net"
	"testing"

	"github.com/cqlite-db/cqlite/cqlerr"
)

func roundTrip(t *testing.T, v Value, td *TypeDescriptor) Value {
	t.Helper()
	enc, err := Serialize(v, td)
	if err != nil {
		t.Fatalf("Serialize(%v): %v", v, err)
	}
	got, rest, err := Parse(enc, td)
	if err != nil {
		t.Fatalf("Parse(%x): %v", enc, err)
	}
	if len(rest) != 0 {
		t.Fatalf("leftover bytes after Parse: %x", rest)
	}
	return got
}

func TestFixedWidthPrimitivesRoundTrip(t *testing.T) {
	if got := roundTrip(t, BoolValue(true), Primitive(KindBoolean)); got != BoolValue(true) {
		t.Fatalf("bool: got %v", got)
	}
	if got := roundTrip(t, TinyIntValue(-12), Primitive(KindTinyInt)); got != TinyIntValue(-12) {
		t.Fatalf("tinyint: got %v", got)
	}
	if got := roundTrip(t, SmallIntValue(-1000), Primitive(KindSmallInt)); got != SmallIntValue(-1000) {
		t.Fatalf("smallint: got %v", got)
	}
	if got := roundTrip(t, IntValue(-70000), Primitive(KindInt)); got != IntValue(-70000) {
		t.Fatalf("int: got %v", got)
	}
	if got := roundTrip(t, BigIntValue(-1<<40), Primitive(KindBigInt)); got != BigIntValue(-1<<40) {
		t.Fatalf("bigint: got %v", got)
	}
	if got := roundTrip(t, FloatValue(3.5), Primitive(KindFloat)); got != FloatValue(3.5) {
		t.Fatalf("float: got %v", got)
	}
	if got := roundTrip(t, DoubleValue(-2.25), Primitive(KindDouble)); got != DoubleValue(-2.25) {
		t.Fatalf("double: got %v", got)
	}
	uid := UUIDValue{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	if got := roundTrip(t, uid, Primitive(KindUUID)); got != uid {
		t.Fatalf("uuid: got %v", got)
	}
	if got := roundTrip(t, TimestampValue(1700000000000000), Primitive(KindTimestamp)); got != TimestampValue(1700000000000000) {
		t.Fatalf("timestamp: got %v", got)
	}
	if got := roundTrip(t, DateValue(19723), Primitive(KindDate)); got != DateValue(19723) {
		t.Fatalf("date: got %v", got)
	}
	if got := roundTrip(t, TimeValue(12345678901), Primitive(KindTime)); got != TimeValue(12345678901) {
		t.Fatalf("time: got %v", got)
	}
	if got := roundTrip(t, CounterValue(-99), Primitive(KindCounter)); got != CounterValue(-99) {
		t.Fatalf("counter: got %v", got)
	}
}

func TestVariableWidthPrimitivesRoundTrip(t *testing.T) {
	if got := roundTrip(t, TextValue("hello, cqlite"), Primitive(KindText)); got != TextValue("hello, cqlite") {
		t.Fatalf("text: got %v", got)
	}
	if got := roundTrip(t, AsciiValue("ascii-only"), Primitive(KindAscii)); got != AsciiValue("ascii-only") {
		t.Fatalf("ascii: got %v", got)
	}
	blob := BlobValue([]byte{0xde, 0xad, 0xbe, 0xef})
	got := roundTrip(t, blob, Primitive(KindBlob)).(BlobValue)
	if string(got) != string(blob) {
		t.Fatalf("blob: got %x want %x", got, blob)
	}

	for _, n := range []int64{0, 1, -1, 1 << 40, -(1 << 40)} {
		vv := VarintValue{Int: big.NewInt(n)}
		got := roundTrip(t, vv, Primitive(KindVarint)).(VarintValue)
		if got.Int.Cmp(big.NewInt(n)) != 0 {
			t.Fatalf("varint %d: got %v", n, got.Int)
		}
	}

	dec := DecimalValue{Scale: 2, Unscaled: big.NewInt(-12345)}
	gotDec := roundTrip(t, dec, Primitive(KindDecimal)).(DecimalValue)
	if gotDec.Scale != 2 || gotDec.Unscaled.Cmp(big.NewInt(-12345)) != 0 {
		t.Fatalf("decimal: got %+v", gotDec)
	}

	ip := InetValue{IP: net.ParseIP("192.168.1.1").To4()}
	gotIP := roundTrip(t, ip, Primitive(KindInet)).(InetValue)
	if !gotIP.IP.Equal(ip.IP) {
		t.Fatalf("inet: got %v want %v", gotIP.IP, ip.IP)
	}

	dur := DurationValue{Months: 1, Days: -2, Nanos: 3600000000000}
	gotDur := roundTrip(t, dur, Primitive(KindDuration)).(DurationValue)
	if gotDur != dur {
		t.Fatalf("duration: got %+v want %+v", gotDur, dur)
	}
}

func TestCollectionsRoundTrip(t *testing.T) {
	listT := ListOf(Primitive(KindInt))
	lv := ListValue{Elem: Primitive(KindInt), Items: []Value{IntValue(1), IntValue(2), IntValue(3)}}
	got := roundTrip(t, lv, listT).(ListValue)
	if len(got.Items) != 3 {
		t.Fatalf("list: got %d items", len(got.Items))
	}

	emptyList := ListValue{Elem: Primitive(KindInt)}
	enc, err := Serialize(emptyList, listT)
	if err != nil {
		t.Fatalf("serialize empty list: %v", err)
	}
	if len(enc) != 2 { // vint-zero (1 byte) + element tag (1 byte)
		t.Fatalf("empty collection should be count-zero + tag, got %d bytes", len(enc))
	}

	mapT := MapOf(Primitive(KindText), Primitive(KindInt))
	mv := MapValue{
		KeyT: Primitive(KindText), ValT: Primitive(KindInt),
		Entries: []MapEntry{
			{Key: TextValue("a"), Val: IntValue(1)},
			{Key: TextValue("b"), Val: IntValue(2)},
		},
	}
	gotMap := roundTrip(t, mv, mapT).(MapValue)
	if len(gotMap.Entries) != 2 || gotMap.Entries[0].Key != TextValue("a") {
		t.Fatalf("map: got %+v", gotMap)
	}
}

func TestSetValueDedupsFirstOccurrenceWins(t *testing.T) {
	setT := SetOf(Primitive(KindInt))
	sv, err := NewSetValue(Primitive(KindInt), []Value{IntValue(3), IntValue(1), IntValue(3), IntValue(2), IntValue(1)})
	if err != nil {
		t.Fatalf("NewSetValue: %v", err)
	}
	want := []Value{IntValue(3), IntValue(1), IntValue(2)}
	if len(sv.Items) != len(want) {
		t.Fatalf("NewSetValue: got %v, want %v", sv.Items, want)
	}
	for i, w := range want {
		if sv.Items[i] != w {
			t.Fatalf("NewSetValue: got %v, want %v", sv.Items, want)
		}
	}

	// A SetValue assembled without going through NewSetValue (e.g. a
	// stale writer, or bytes produced before this dedup existed) is
	// still deduplicated on its way to disk, since appendValue's
	// KindSet case routes through NewSetValue before encoding.
	dup := SetValue{Elem: Primitive(KindInt), Items: []Value{IntValue(5), IntValue(5), IntValue(6)}}
	got := roundTrip(t, dup, setT).(SetValue)
	if len(got.Items) != 2 || got.Items[0] != IntValue(5) || got.Items[1] != IntValue(6) {
		t.Fatalf("round-tripped set: got %v, want [5 6]", got.Items)
	}
}

func TestTupleWithNullFieldRoundTrip(t *testing.T) {
	tupT := TupleOf(Primitive(KindInt), Primitive(KindText))
	tv := TupleValue{
		Types: []*TypeDescriptor{Primitive(KindInt), Primitive(KindText)},
		Items: []Value{IntValue(42), Null{}},
	}
	got := roundTrip(t, tv, tupT).(TupleValue)
	if got.Items[0] != IntValue(42) {
		t.Fatalf("tuple field 0: got %v", got.Items[0])
	}
	if _, isNull := got.Items[1].(Null); !isNull {
		t.Fatalf("tuple field 1: expected Null, got %v", got.Items[1])
	}
}

func TestUDTRoundTripAndSchemaEvolution(t *testing.T) {
	udtT := UDTOf("ks", "address", []Field{
		{Name: "street", Type: Primitive(KindText)},
		{Name: "zip", Type: Primitive(KindInt)},
	})
	uv := UDTValue{
		Descriptor: udtT,
		FieldOrder: []string{"street", "zip"},
		Fields: map[string]Value{
			"street": TextValue("Main St"),
			"zip":    IntValue(94110),
		},
	}
	got := roundTrip(t, uv, udtT).(UDTValue)
	if got.Fields["street"] != TextValue("Main St") || got.Fields["zip"] != IntValue(94110) {
		t.Fatalf("udt: got %+v", got.Fields)
	}

	// A value with no "zip" field is written with a null sentinel in its
	// place and reads "zip" back as Null.
	partial := UDTValue{Descriptor: udtT, Fields: map[string]Value{"street": TextValue("Old St")}}
	enc, err := Serialize(partial, udtT)
	if err != nil {
		t.Fatalf("serialize partial udt: %v", err)
	}
	parsed, rest, err := Parse(enc, udtT)
	if err != nil || len(rest) != 0 {
		t.Fatalf("parse partial udt: %v rest=%x", err, rest)
	}
	pv := parsed.(UDTValue)
	if _, isNull := pv.Fields["zip"].(Null); !isNull {
		t.Fatalf("expected zip to read back as Null, got %v", pv.Fields["zip"])
	}
}

func TestFrozenRoundTrip(t *testing.T) {
	innerT := ListOf(Primitive(KindInt))
	frozenT := Frozen(innerT)
	fv := FrozenValue{Inner: innerT, Value: ListValue{Elem: Primitive(KindInt), Items: []Value{IntValue(7)}}}
	got := roundTrip(t, fv, frozenT).(FrozenValue)
	inner := got.Value.(ListValue)
	if len(inner.Items) != 1 || inner.Items[0] != IntValue(7) {
		t.Fatalf("frozen: got %+v", inner)
	}
}

func TestCellTombstoneRoundTrip(t *testing.T) {
	td := Primitive(KindText)

	enc, err := EncodeCell(nil, TextValue("alive"), td)
	if err != nil {
		t.Fatalf("encode value cell: %v", err)
	}
	v, rest, err := DecodeCell(enc, td, nil)
	if err != nil || len(rest) != 0 || v != TextValue("alive") {
		t.Fatalf("decode value cell: v=%v rest=%x err=%v", v, rest, err)
	}

	ttl := int64(3600)
	tomb := TombstoneValue{Kind: TombstoneCell, DeletionTime: 1000, TTL: &ttl}
	enc, err = EncodeCell(nil, tomb, td)
	if err != nil {
		t.Fatalf("encode tombstone cell: %v", err)
	}
	got, rest, err := DecodeCell(enc, td, nil)
	if err != nil || len(rest) != 0 {
		t.Fatalf("decode tombstone cell: rest=%x err=%v", rest, err)
	}
	gotTomb := got.(TombstoneValue)
	if gotTomb.Kind != TombstoneCell || gotTomb.DeletionTime != 1000 || gotTomb.TTL == nil || *gotTomb.TTL != 3600 {
		t.Fatalf("tombstone cell: got %+v", gotTomb)
	}

	rangeTomb := TombstoneValue{
		Kind: TombstoneRange, DeletionTime: 2000,
		RangeStart: []byte("a"), RangeEnd: nil,
	}
	enc, err = EncodeCell(nil, rangeTomb, td)
	if err != nil {
		t.Fatalf("encode range tombstone: %v", err)
	}
	got, rest, err = DecodeCell(enc, td, nil)
	if err != nil || len(rest) != 0 {
		t.Fatalf("decode range tombstone: rest=%x err=%v", rest, err)
	}
	gotRange := got.(TombstoneValue)
	if gotRange.Kind != TombstoneRange || string(gotRange.RangeStart) != "a" || gotRange.RangeEnd != nil {
		t.Fatalf("range tombstone: got %+v", gotRange)
	}
}

func TestParseRejectsTruncatedAndOversizedCollections(t *testing.T) {
	td := Primitive(KindInt)
	enc, _ := Serialize(IntValue(7), td)
	_, _, err := Parse(enc[:2], td)
	if !cqlerr.Is(err, cqlerr.Truncated) {
		t.Fatalf("expected Truncated, got %v", err)
	}

	listT := ListOf(Primitive(KindInt))
	lv := ListValue{Elem: Primitive(KindInt), Items: []Value{IntValue(1)}}
	encL, err := Serialize(lv, listT)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	tiny := Limits{MaxCollectionElements: 0}
	_, _, err = ParseWithLimits(encL, listT, &tiny)
	if !cqlerr.Is(err, cqlerr.TooLarge) {
		t.Fatalf("expected TooLarge, got %v", err)
	}
}

func TestNullFieldSentinel(t *testing.T) {
	enc, err := SerializeField(nil, Null{}, Primitive(KindText))
	if err != nil {
		t.Fatalf("serialize null field: %v", err)
	}
	v, rest, err := ParseField(enc, Primitive(KindText), nil)
	if err != nil || len(rest) != 0 {
		t.Fatalf("parse null field: %v rest=%x", err, rest)
	}
	if _, isNull := v.(Null); !isNull {
		t.Fatalf("expected Null, got %v", v)
	}
}
