package schema

import (
	"strconv"
	"strings"

	"github.com/cqlite-db/cqlite/types"
)

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token {
	if p.pos >= len(p.toks) {
		return token{kind: tokEOF}
	}
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.peek()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return t
}

func (p *parser) atEnd() bool { return p.peek().kind == tokEOF }

func (p *parser) peekIdentCI(word string) bool {
	t := p.peek()
	return t.kind == tokIdent && eqFold(t.text, word)
}

func (p *parser) peekPunct(s string) bool {
	t := p.peek()
	return t.kind == tokPunct && t.text == s
}

func (p *parser) expectIdentCI(word string) error {
	t := p.next()
	if t.kind != tokIdent || !eqFold(t.text, word) {
		return errExpectedToken(word, t.text)
	}
	return nil
}

func (p *parser) expectPunct(s string) error {
	t := p.next()
	if t.kind != tokPunct || t.text != s {
		return errExpectedToken(s, t.text)
	}
	return nil
}

// readParenGroup assumes the opening "(" has just been consumed; it returns
// the tokens up to (not including) the matching close, and leaves the
// cursor positioned just past that close.
func (p *parser) readParenGroup() ([]token, error) {
	depth := 1
	start := p.pos
	for p.pos < len(p.toks) {
		t := p.toks[p.pos]
		if t.kind == tokPunct {
			switch t.text {
			case "(":
				depth++
			case ")":
				depth--
				if depth == 0 {
					group := p.toks[start:p.pos]
					p.pos++
					return group, nil
				}
			}
		}
		p.pos++
	}
	return nil, errExpectedToken(")", "EOF")
}

// Parse parses a CREATE TABLE statement into a TableSchema. reg resolves
// bare type names against previously-registered UDTs; pass an empty
// registry if the statement uses only primitive and collection types.
func Parse(ddl string, reg *UDTRegistry) (*TableSchema, error) {
	if reg == nil {
		reg = NewUDTRegistry()
	}
	p := &parser{toks: tokenize(ddl)}

	if err := p.expectIdentCI("CREATE"); err != nil {
		return nil, err
	}
	if err := p.expectIdentCI("TABLE"); err != nil {
		return nil, err
	}

	ifNotExists := false
	if p.peekIdentCI("IF") {
		p.next()
		if err := p.expectIdentCI("NOT"); err != nil {
			return nil, err
		}
		if err := p.expectIdentCI("EXISTS"); err != nil {
			return nil, err
		}
		ifNotExists = true
	}

	keyspace, table, err := p.parseQualifiedName()
	if err != nil {
		return nil, err
	}

	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	body, err := p.readParenGroup()
	if err != nil {
		return nil, err
	}

	schema := &TableSchema{
		Keyspace:    keyspace,
		Table:       table,
		IfNotExists: ifNotExists,
		Options:     map[string]string{},
		Compression: map[string]string{},
	}

	if err := parseTableBody(body, reg, keyspace, schema); err != nil {
		return nil, err
	}

	if p.peekIdentCI("WITH") {
		p.next()
		if err := parseWithClause(p, schema); err != nil {
			return nil, err
		}
	}
	if p.peekPunct(";") {
		p.next()
	}

	return schema, nil
}

func (p *parser) parseQualifiedName() (keyspace, name string, err error) {
	first := p.next()
	if first.kind != tokIdent {
		return "", "", errExpectedToken("identifier", first.text)
	}
	if p.peekPunct(".") {
		p.next()
		second := p.next()
		if second.kind != tokIdent {
			return "", "", errExpectedToken("identifier", second.text)
		}
		return first.text, second.text, nil
	}
	return "", first.text, nil
}

func parseTableBody(body []token, reg *UDTRegistry, keyspace string, schema *TableSchema) error {
	groups := splitOnCommas(body)
	if len(groups) == 0 {
		return errEmptyColumnList()
	}

	seen := map[string]bool{}
	var inlinePK string
	haveTrailingPK := false

	for _, g := range groups {
		if len(g) == 0 {
			continue
		}
		if g[0].kind == tokIdent && eqFold(g[0].text, "PRIMARY") {
			if err := parsePrimaryKeyClause(g, seen, schema); err != nil {
				return err
			}
			haveTrailingPK = true
			continue
		}

		col, isInlinePK, err := parseColumnDef(g, reg, keyspace)
		if err != nil {
			return err
		}
		if seen[col.Name] {
			return errDuplicateColumn(col.Name)
		}
		seen[col.Name] = true
		schema.Columns = append(schema.Columns, col)
		if isInlinePK {
			inlinePK = col.Name
		}
	}

	if len(schema.Columns) == 0 {
		return errEmptyColumnList()
	}

	switch {
	case haveTrailingPK:
		// already populated by parsePrimaryKeyClause
	case inlinePK != "":
		schema.PartitionKey = []string{inlinePK}
	default:
		return errMissingPrimaryKey()
	}

	return nil
}

func parseColumnDef(g []token, reg *UDTRegistry, keyspace string) (Column, bool, error) {
	cp := &parser{toks: append(append([]token{}, g...), token{kind: tokEOF})}
	nameTok := cp.next()
	if nameTok.kind != tokIdent {
		return Column{}, false, errExpectedToken("column name", nameTok.text)
	}

	td, err := parseType(cp, reg, keyspace)
	if err != nil {
		return Column{}, false, err
	}

	col := Column{Name: nameTok.text, Type: td, Nullable: true, Role: RoleRegular}
	if cp.peekIdentCI("STATIC") {
		cp.next()
		col.Role = RoleStatic
	}

	isInlinePK := false
	if cp.peekIdentCI("PRIMARY") {
		cp.next()
		if err := cp.expectIdentCI("KEY"); err != nil {
			return Column{}, false, err
		}
		col.Role = RolePartitionKey
		col.Nullable = false
		isInlinePK = true
	}
	return col, isInlinePK, nil
}

// parseType parses a (possibly nested) CQL type expression starting at the
// cursor's current position.
func parseType(p *parser, reg *UDTRegistry, keyspace string) (*types.TypeDescriptor, error) {
	tok := p.next()
	if tok.kind != tokIdent {
		return nil, errExpectedToken("type name", tok.text)
	}
	name := strings.ToLower(tok.text)

	switch name {
	case "frozen":
		if err := p.expectPunct("<"); err != nil {
			return nil, err
		}
		inner, err := parseType(p, reg, keyspace)
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(">"); err != nil {
			return nil, err
		}
		return types.Frozen(inner), nil

	case "list":
		if err := p.expectPunct("<"); err != nil {
			return nil, err
		}
		inner, err := parseType(p, reg, keyspace)
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(">"); err != nil {
			return nil, err
		}
		return types.ListOf(inner), nil

	case "set":
		if err := p.expectPunct("<"); err != nil {
			return nil, err
		}
		inner, err := parseType(p, reg, keyspace)
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(">"); err != nil {
			return nil, err
		}
		return types.SetOf(inner), nil

	case "map":
		if err := p.expectPunct("<"); err != nil {
			return nil, err
		}
		key, err := parseType(p, reg, keyspace)
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(","); err != nil {
			return nil, err
		}
		val, err := parseType(p, reg, keyspace)
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(">"); err != nil {
			return nil, err
		}
		return types.MapOf(key, val), nil

	case "tuple":
		if err := p.expectPunct("<"); err != nil {
			return nil, err
		}
		var elems []*types.TypeDescriptor
		first, err := parseType(p, reg, keyspace)
		if err != nil {
			return nil, err
		}
		elems = append(elems, first)
		for p.peekPunct(",") {
			p.next()
			next, err := parseType(p, reg, keyspace)
			if err != nil {
				return nil, err
			}
			elems = append(elems, next)
		}
		if err := p.expectPunct(">"); err != nil {
			return nil, err
		}
		return types.TupleOf(elems...), nil

	default:
		if k, ok := types.PrimitiveKind(name); ok {
			return types.Primitive(k), nil
		}
		ks, udtName := keyspace, name
		if p.peekPunct(".") {
			p.next()
			second := p.next()
			if second.kind != tokIdent {
				return nil, errExpectedToken("identifier", second.text)
			}
			ks, udtName = name, strings.ToLower(second.text)
		}
		td, ok := reg.Lookup(ks, udtName)
		if !ok {
			return nil, errUnknownType(tok.text)
		}
		return td, nil
	}
}

func parsePrimaryKeyClause(g []token, defined map[string]bool, schema *TableSchema) error {
	cp := &parser{toks: append(append([]token{}, g...), token{kind: tokEOF})}
	if err := cp.expectIdentCI("PRIMARY"); err != nil {
		return err
	}
	if err := cp.expectIdentCI("KEY"); err != nil {
		return err
	}
	if err := cp.expectPunct("("); err != nil {
		return err
	}
	inner, err := cp.readParenGroup()
	if err != nil {
		return err
	}

	groups := splitOnCommas(inner)
	if len(groups) == 0 {
		return errEmptyColumnList()
	}

	first := groups[0]
	var partitionCols []string
	rest := groups[1:]

	if len(first) > 0 && first[0].kind == tokPunct && first[0].text == "(" {
		ip := &parser{toks: append(append([]token{}, first...), token{kind: tokEOF})}
		ip.next() // consume "("
		composite, err := ip.readParenGroup()
		if err != nil {
			return err
		}
		for _, cg := range splitOnCommas(composite) {
			if len(cg) == 0 || cg[0].kind != tokIdent {
				return errExpectedToken("column name", "")
			}
			partitionCols = append(partitionCols, cg[0].text)
		}
	} else {
		if len(first) == 0 || first[0].kind != tokIdent {
			return errExpectedToken("column name", "")
		}
		partitionCols = []string{first[0].text}
	}

	for _, name := range partitionCols {
		if !defined[name] {
			return errPrimaryKeyColumnNotDefined(name)
		}
	}
	schema.PartitionKey = partitionCols

	for _, cg := range rest {
		if len(cg) == 0 || cg[0].kind != tokIdent {
			return errExpectedToken("column name", "")
		}
		name := cg[0].text
		if !defined[name] {
			return errPrimaryKeyColumnNotDefined(name)
		}
		schema.ClusteringKey = append(schema.ClusteringKey, ClusteringColumn{Name: name, Direction: Ascending})
	}
	return nil
}

func parseWithClause(p *parser, schema *TableSchema) error {
	for {
		if p.peekIdentCI("CLUSTERING") {
			p.next()
			if err := p.expectIdentCI("ORDER"); err != nil {
				return err
			}
			if err := p.expectIdentCI("BY"); err != nil {
				return err
			}
			if err := p.expectPunct("("); err != nil {
				return err
			}
			inner, err := p.readParenGroup()
			if err != nil {
				return err
			}
			for _, cg := range splitOnCommas(inner) {
				if len(cg) < 1 || cg[0].kind != tokIdent {
					continue
				}
				name := cg[0].text
				dir := Ascending
				if len(cg) > 1 && cg[1].kind == tokIdent && eqFold(cg[1].text, "DESC") {
					dir = Descending
				}
				for i := range schema.ClusteringKey {
					if schema.ClusteringKey[i].Name == name {
						schema.ClusteringKey[i].Direction = dir
					}
				}
			}
		} else {
			nameTok := p.next()
			if nameTok.kind != tokIdent && nameTok.kind != tokString {
				return errExpectedToken("option name", nameTok.text)
			}
			if err := p.expectPunct("="); err != nil {
				return err
			}
			raw, mapVal, err := parseOptionValue(p)
			if err != nil {
				return err
			}
			optName := strings.ToLower(nameTok.text)
			schema.Options[optName] = raw
			switch optName {
			case "gc_grace_seconds":
				if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
					schema.GCGraceSeconds = n
				}
			case "default_time_to_live":
				if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
					schema.DefaultTTLSecs = n
				}
			case "compression":
				for k, v := range mapVal {
					schema.Compression[k] = v
				}
			}
		}

		if p.peekIdentCI("AND") {
			p.next()
			continue
		}
		break
	}
	return nil
}

// parseOptionValue parses a WITH option's right-hand side: a string, a
// number, or a `{'k': v, ...}` map literal. It returns the raw text
// (joined tokens) and, if the value was a map literal, the parsed map.
func parseOptionValue(p *parser) (string, map[string]string, error) {
	if p.peekPunct("{") {
		p.next()
		inner, err := readBraceGroup(p)
		if err != nil {
			return "", nil, err
		}
		m := map[string]string{}
		for _, cg := range splitOnCommas(inner) {
			if len(cg) < 3 {
				continue
			}
			key := cg[0].text
			// cg[1] is ":"
			val := cg[2].text
			m[key] = val
		}
		return "", m, nil
	}
	t := p.next()
	return t.text, nil, nil
}

func readBraceGroup(p *parser) ([]token, error) {
	depth := 1
	start := p.pos
	for p.pos < len(p.toks) {
		t := p.toks[p.pos]
		if t.kind == tokPunct {
			switch t.text {
			case "{":
				depth++
			case "}":
				depth--
				if depth == 0 {
					group := p.toks[start:p.pos]
					p.pos++
					return group, nil
				}
			}
		}
		p.pos++
	}
	return nil, errExpectedToken("}", "EOF")
}
