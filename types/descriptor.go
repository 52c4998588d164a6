package types

import "strings"

// TypeDescriptor is a recursive description of a CQL type: the sole
// authority the codec consults for serialization width and parsing
// strategy (spec 3 "TypeDescriptor").
type TypeDescriptor struct {
	Kind Kind

	// Elem is the element type for List/Set, and the wrapped type for
	// Frozen.
	Elem *TypeDescriptor

	// KeyT/ValT are the key and value types for Map.
	KeyT *TypeDescriptor
	ValT *TypeDescriptor

	// Fields holds the ordered field types for Tuple (Name empty) and the
	// ordered, named fields for UDT.
	Fields []Field

	// UDTName/UDTKeyspace identify a UDT descriptor; only set when
	// Kind == KindUDT.
	UDTName     string
	UDTKeyspace string
}

// Field is one element of a Tuple or UDT type.
type Field struct {
	Name string
	Type *TypeDescriptor
}

// Primitive builds a descriptor for a non-container kind.
func Primitive(k Kind) *TypeDescriptor { return &TypeDescriptor{Kind: k} }

// ListOf builds a list<elem> descriptor.
func ListOf(elem *TypeDescriptor) *TypeDescriptor {
	return &TypeDescriptor{Kind: KindList, Elem: elem}
}

// SetOf builds a set<elem> descriptor.
func SetOf(elem *TypeDescriptor) *TypeDescriptor {
	return &TypeDescriptor{Kind: KindSet, Elem: elem}
}

// MapOf builds a map<key,val> descriptor.
func MapOf(key, val *TypeDescriptor) *TypeDescriptor {
	return &TypeDescriptor{Kind: KindMap, KeyT: key, ValT: val}
}

// TupleOf builds a tuple<...> descriptor from unnamed field types.
func TupleOf(elems ...*TypeDescriptor) *TypeDescriptor {
	fields := make([]Field, len(elems))
	for i, e := range elems {
		fields[i] = Field{Type: e}
	}
	return &TypeDescriptor{Kind: KindTuple, Fields: fields}
}

// UDTOf builds a named, fielded UDT descriptor.
func UDTOf(keyspace, name string, fields []Field) *TypeDescriptor {
	return &TypeDescriptor{Kind: KindUDT, UDTKeyspace: keyspace, UDTName: name, Fields: fields}
}

// Frozen wraps inner as a single opaque, key-shaped value.
func Frozen(inner *TypeDescriptor) *TypeDescriptor {
	return &TypeDescriptor{Kind: KindFrozen, Elem: inner}
}

// String renders the descriptor as CQL type grammar, e.g. "map<text, int>".
func (t *TypeDescriptor) String() string {
	if t == nil {
		return "<nil>"
	}
	switch t.Kind {
	case KindList:
		return "list<" + t.Elem.String() + ">"
	case KindSet:
		return "set<" + t.Elem.String() + ">"
	case KindMap:
		return "map<" + t.KeyT.String() + ", " + t.ValT.String() + ">"
	case KindTuple:
		parts := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			parts[i] = f.Type.String()
		}
		return "tuple<" + strings.Join(parts, ", ") + ">"
	case KindUDT:
		return t.UDTKeyspace + "." + t.UDTName
	case KindFrozen:
		return "frozen<" + t.Elem.String() + ">"
	default:
		return t.Kind.String()
	}
}

// Equal reports structural equality of two descriptors.
func (t *TypeDescriptor) Equal(o *TypeDescriptor) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case KindList, KindSet:
		return t.Elem.Equal(o.Elem)
	case KindFrozen:
		return t.Elem.Equal(o.Elem)
	case KindMap:
		return t.KeyT.Equal(o.KeyT) && t.ValT.Equal(o.ValT)
	case KindTuple:
		if len(t.Fields) != len(o.Fields) {
			return false
		}
		for i := range t.Fields {
			if !t.Fields[i].Type.Equal(o.Fields[i].Type) {
				return false
			}
		}
		return true
	case KindUDT:
		if t.UDTKeyspace != o.UDTKeyspace || t.UDTName != o.UDTName || len(t.Fields) != len(o.Fields) {
			return false
		}
		for i := range t.Fields {
			if t.Fields[i].Name != o.Fields[i].Name || !t.Fields[i].Type.Equal(o.Fields[i].Type) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// ReferencesUDT reports whether this descriptor contains (even through
// Frozen, List, Set, Map or Tuple) a reference to the named UDT — used by
// the schema parser to reject cyclic UDT definitions.
func (t *TypeDescriptor) ReferencesUDT(keyspace, name string) bool {
	if t == nil {
		return false
	}
	switch t.Kind {
	case KindUDT:
		if t.UDTKeyspace == keyspace && t.UDTName == name {
			return true
		}
		for _, f := range t.Fields {
			if f.Type.ReferencesUDT(keyspace, name) {
				return true
			}
		}
		return false
	case KindList, KindSet, KindFrozen:
		return t.Elem.ReferencesUDT(keyspace, name)
	case KindMap:
		return t.KeyT.ReferencesUDT(keyspace, name) || t.ValT.ReferencesUDT(keyspace, name)
	case KindTuple:
		for _, f := range t.Fields {
			if f.Type.ReferencesUDT(keyspace, name) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
