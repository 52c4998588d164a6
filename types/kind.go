// Package types implements the CQL value universe: a tagged union (Value),
// its recursive type descriptor (TypeDescriptor), and the wire codec that
// serializes/parses every primitive, collection, tuple, UDT, frozen wrapper
// and tombstone variant against a descriptor.
package types

// Kind identifies a CQL type. It doubles as the single-byte wire tag for
// primitives and as the composite tag for containers (spec 4.2/4.3).
type Kind uint8

const (
	KindBoolean Kind = iota
	KindTinyInt
	KindSmallInt
	KindInt
	KindBigInt
	KindVarint
	KindFloat
	KindDouble
	KindDecimal
	KindText
	KindAscii
	KindBlob
	KindUUID
	KindTimeUUID
	KindTimestamp
	KindDate
	KindTime
	KindInet
	KindDuration
	KindCounter
	KindList
	KindSet
	KindMap
	KindTuple
	KindUDT
	KindFrozen
)

var kindNames = map[Kind]string{
	KindBoolean:   "boolean",
	KindTinyInt:   "tinyint",
	KindSmallInt:  "smallint",
	KindInt:       "int",
	KindBigInt:    "bigint",
	KindVarint:    "varint",
	KindFloat:     "float",
	KindDouble:    "double",
	KindDecimal:   "decimal",
	KindText:      "text",
	KindAscii:     "ascii",
	KindBlob:      "blob",
	KindUUID:      "uuid",
	KindTimeUUID:  "timeuuid",
	KindTimestamp: "timestamp",
	KindDate:      "date",
	KindTime:      "time",
	KindInet:      "inet",
	KindDuration:  "duration",
	KindCounter:   "counter",
	KindList:      "list",
	KindSet:       "set",
	KindMap:       "map",
	KindTuple:     "tuple",
	KindUDT:       "udt",
	KindFrozen:    "frozen",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// nameToKind maps the lowercased CQL primitive type name to its Kind; used
// by the schema parser to resolve type grammar.
var nameToKind = map[string]Kind{
	"boolean":   KindBoolean,
	"tinyint":   KindTinyInt,
	"smallint":  KindSmallInt,
	"int":       KindInt,
	"bigint":    KindBigInt,
	"varint":    KindVarint,
	"float":     KindFloat,
	"double":    KindDouble,
	"decimal":   KindDecimal,
	"text":      KindText,
	"varchar":   KindText,
	"ascii":     KindAscii,
	"blob":      KindBlob,
	"uuid":      KindUUID,
	"timeuuid":  KindTimeUUID,
	"timestamp": KindTimestamp,
	"date":      KindDate,
	"time":      KindTime,
	"inet":      KindInet,
	"duration":  KindDuration,
	"counter":   KindCounter,
}

// PrimitiveKind resolves a lowercase CQL primitive type name to a Kind.
func PrimitiveKind(name string) (Kind, bool) {
	k, ok := nameToKind[name]
	return k, ok
}

// IsFixedWidth reports whether values of this primitive kind have a fixed
// on-wire byte width (no VInt length prefix).
func (k Kind) IsFixedWidth() bool {
	switch k {
	case KindBoolean, KindTinyInt, KindSmallInt, KindInt, KindBigInt,
		KindFloat, KindDouble, KindUUID, KindTimeUUID, KindTimestamp,
		KindDate, KindTime, KindCounter:
		return true
	default:
		return false
	}
}

// FixedWidth returns the on-wire byte width for a fixed-width primitive kind.
func (k Kind) FixedWidth() int {
	switch k {
	case KindBoolean:
		return 1
	case KindTinyInt:
		return 1
	case KindSmallInt:
		return 2
	case KindInt, KindFloat, KindDate:
		return 4
	case KindBigInt, KindDouble, KindTimestamp, KindTime, KindCounter:
		return 8
	case KindUUID, KindTimeUUID:
		return 16
	default:
		return 0
	}
}
