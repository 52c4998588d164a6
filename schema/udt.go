package schema

import "github.com/cqlite-db/cqlite/types"

// ParseUDT parses a `CREATE TYPE [ks.]name (field type, ...)` statement,
// registers the resulting descriptor in reg, and returns its keyspace and
// name. A field that references the type being defined — directly, or
// transitively through a collection or frozen wrapper — is rejected with
// ErrRecursiveUDT; forward references to not-yet-defined types are not
// possible by construction (reg only contains previously parsed UDTs), so
// self-reference is the only cycle shape that can actually occur here.
func ParseUDT(ddl string, reg *UDTRegistry) (keyspace, name string, err error) {
	p := &parser{toks: tokenize(ddl)}

	if err := p.expectIdentCI("CREATE"); err != nil {
		return "", "", err
	}
	if err := p.expectIdentCI("TYPE"); err != nil {
		return "", "", err
	}
	if p.peekIdentCI("IF") {
		p.next()
		if err := p.expectIdentCI("NOT"); err != nil {
			return "", "", err
		}
		if err := p.expectIdentCI("EXISTS"); err != nil {
			return "", "", err
		}
	}

	keyspace, name, err = p.parseQualifiedName()
	if err != nil {
		return "", "", err
	}

	if err := p.expectPunct("("); err != nil {
		return "", "", err
	}
	body, err := p.readParenGroup()
	if err != nil {
		return "", "", err
	}

	// Tentatively register a placeholder so a self-referencing field
	// resolves instead of failing as "unknown type", letting us detect
	// the cycle explicitly below.
	placeholder := &types.TypeDescriptor{Kind: types.KindUDT, UDTKeyspace: keyspace, UDTName: name}
	reg.Register(keyspace, name, placeholder)

	var fields []types.Field
	for _, g := range splitOnCommas(body) {
		if len(g) == 0 {
			continue
		}
		cp := &parser{toks: append(append([]token{}, g...), token{kind: tokEOF})}
		nameTok := cp.next()
		if nameTok.kind != tokIdent {
			return "", "", errExpectedToken("field name", nameTok.text)
		}
		td, err := parseType(cp, reg, keyspace)
		if err != nil {
			return "", "", err
		}
		fields = append(fields, types.Field{Name: nameTok.text, Type: td})
	}
	if len(fields) == 0 {
		return "", "", errEmptyColumnList()
	}

	for _, f := range fields {
		if f.Type.ReferencesUDT(keyspace, name) {
			return "", "", errRecursiveUDT(name)
		}
	}

	reg.Register(keyspace, name, types.UDTOf(keyspace, name, fields))
	return keyspace, name, nil
}
