package sstable

import (
	"fmt"

	"github.com/cqlite-db/cqlite/cqlerr"
	"github.com/cqlite-db/cqlite/types"
)

// TypeDescriptor is the header's on-disk encoding of a column type. The
// codec package (types) only defines the in-memory recursive shape and
// its CQL-grammar string form; nothing in the corpus's wire format
// needs a binary TypeDescriptor encoding outside this header, so the
// (de)serializer lives here rather than in types.
type TypeDescriptor = types.TypeDescriptor

// appendTypeDescriptor writes the recursive descriptor encoding: each
// node's tag byte is its types.Kind value, followed for containers by
// their structural shape (Elem/KeyT/ValT/Fields); tag 255 marks a nil type.
func appendTypeDescriptor(dst []byte, t *TypeDescriptor) []byte {
	if t == nil {
		return append(dst, byte(255)) // sentinel: no type (unused column slot)
	}
	dst = append(dst, byte(t.Kind))
	switch t.Kind {
	case types.KindList, types.KindSet, types.KindFrozen:
		dst = appendTypeDescriptor(dst, t.Elem)
	case types.KindMap:
		dst = appendTypeDescriptor(dst, t.KeyT)
		dst = appendTypeDescriptor(dst, t.ValT)
	case types.KindTuple:
		dst = appendU32(dst, uint32(len(t.Fields)))
		for _, f := range t.Fields {
			dst = appendTypeDescriptor(dst, f.Type)
		}
	case types.KindUDT:
		dst = appendString(dst, t.UDTKeyspace)
		dst = appendString(dst, t.UDTName)
		dst = appendU32(dst, uint32(len(t.Fields)))
		for _, f := range t.Fields {
			dst = appendString(dst, f.Name)
			dst = appendTypeDescriptor(dst, f.Type)
		}
	}
	return dst
}

func readTypeDescriptor(data []byte) (*TypeDescriptor, []byte, error) {
	if len(data) < 1 {
		return nil, nil, cqlerr.New(cqlerr.Truncated, "sstable.readTypeDescriptor", nil)
	}
	tag := data[0]
	data = data[1:]
	if tag == 255 {
		return nil, data, nil
	}

	kind := types.Kind(tag)
	td := &TypeDescriptor{Kind: kind}
	var err error
	switch kind {
	case types.KindList, types.KindSet, types.KindFrozen:
		td.Elem, data, err = readTypeDescriptor(data)
		if err != nil {
			return nil, nil, err
		}
	case types.KindMap:
		td.KeyT, data, err = readTypeDescriptor(data)
		if err != nil {
			return nil, nil, err
		}
		td.ValT, data, err = readTypeDescriptor(data)
		if err != nil {
			return nil, nil, err
		}
	case types.KindTuple:
		var count uint32
		count, data, err = readU32(data)
		if err != nil {
			return nil, nil, err
		}
		td.Fields = make([]types.Field, count)
		for i := range td.Fields {
			td.Fields[i].Type, data, err = readTypeDescriptor(data)
			if err != nil {
				return nil, nil, err
			}
		}
	case types.KindUDT:
		td.UDTKeyspace, data, err = readString(data)
		if err != nil {
			return nil, nil, err
		}
		td.UDTName, data, err = readString(data)
		if err != nil {
			return nil, nil, err
		}
		var count uint32
		count, data, err = readU32(data)
		if err != nil {
			return nil, nil, err
		}
		td.Fields = make([]types.Field, count)
		for i := range td.Fields {
			td.Fields[i].Name, data, err = readString(data)
			if err != nil {
				return nil, nil, err
			}
			td.Fields[i].Type, data, err = readTypeDescriptor(data)
			if err != nil {
				return nil, nil, err
			}
		}
	default:
		if tag > byte(types.KindFrozen) {
			return nil, nil, cqlerr.New(cqlerr.Corrupt, "sstable.readTypeDescriptor", fmt.Errorf("unknown type tag %d", tag))
		}
	}
	return td, data, nil
}
