package engine

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/cqlite-db/cqlite/cqlerr"
	"github.com/cqlite-db/cqlite/query"
)

// Package-internal CQL statement lexer/parser: enough of DML (INSERT,
// SELECT, DELETE) to drive the engine's Put/Get/Scan paths from
// execute(cql_text) per spec 2's dataflow. CREATE TABLE DDL is handled by
// schema.Parse directly; this file only tokenizes and parses the three
// DML statement shapes, since schema/token.go's tokenizer is private to
// that package and tuned for type grammar, not value literals.

type tokKind uint8

const (
	tokEOF tokKind = iota
	tokIdent
	tokString
	tokNumber
	tokPunct
)

type tok struct {
	kind tokKind
	text string
}

func tokenizeCQL(src string) []tok {
	var toks []tok
	runes := []rune(src)
	i, n := 0, len(runes)
	for i < n {
		c := runes[i]
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '-' && i+1 < n && runes[i+1] == '-':
			for i < n && runes[i] != '\n' {
				i++
			}
		case c == '\'':
			j := i + 1
			var sb strings.Builder
			for j < n {
				if runes[j] == '\'' {
					if j+1 < n && runes[j+1] == '\'' {
						sb.WriteRune('\'')
						j += 2
						continue
					}
					break
				}
				sb.WriteRune(runes[j])
				j++
			}
			toks = append(toks, tok{kind: tokString, text: sb.String()})
			i = j + 1
		case unicode.IsLetter(c) || c == '_':
			j := i
			for j < n && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_') {
				j++
			}
			toks = append(toks, tok{kind: tokIdent, text: string(runes[i:j])})
			i = j
		case unicode.IsDigit(c) || (c == '-' && i+1 < n && unicode.IsDigit(runes[i+1])):
			j := i + 1
			for j < n && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
				j++
			}
			toks = append(toks, tok{kind: tokNumber, text: string(runes[i:j])})
			i = j
		case c == '<' || c == '>':
			if i+1 < n && runes[i+1] == '=' {
				toks = append(toks, tok{kind: tokPunct, text: string(c) + "="})
				i += 2
			} else {
				toks = append(toks, tok{kind: tokPunct, text: string(c)})
				i++
			}
		default:
			toks = append(toks, tok{kind: tokPunct, text: string(c)})
			i++
		}
	}
	toks = append(toks, tok{kind: tokEOF})
	return toks
}

// literal is a not-yet-typed value as written in CQL source; it is
// resolved against a column's declared type by literalToValue once the
// target schema is known.
type literal struct {
	null   bool
	text   string // string literal body
	number string // numeric literal text
	isStr  bool
	isNum  bool
	isBool bool
	bval   bool
}

type whereClause struct {
	Column string
	Op     query.Op
	Value  literal
}

type insertStmt struct {
	Table   string
	Columns []string
	Values  []literal
}

type selectStmt struct {
	Table      string
	Projection []string // nil means "*"
	Where      []whereClause
	Limit      int
	HasLimit   bool
}

type deleteStmt struct {
	Table string
	Where []whereClause
}

type createTableStmt struct {
	DDL string
}

// parser walks a CQL DML token stream; errors report cqlerr.InvalidQuery
// since a malformed statement is exactly spec 7's "planner cannot produce
// a plan" case extended to cover parsing itself.
type parser struct {
	toks []tok
	pos  int
}

func (p *parser) peek() tok  { return p.toks[p.pos] }
func (p *parser) next() tok  { t := p.toks[p.pos]; p.pos++; return t }
func (p *parser) atEOF() bool { return p.peek().kind == tokEOF }

func (p *parser) expectIdentCI(word string) error {
	t := p.peek()
	if t.kind == tokIdent && strings.EqualFold(t.text, word) {
		p.pos++
		return nil
	}
	return cqlerr.New(cqlerr.InvalidQuery, "engine.parser", fmt.Errorf("expected %q, got %q", word, t.text))
}

func (p *parser) peekIdentCI(word string) bool {
	t := p.peek()
	return t.kind == tokIdent && strings.EqualFold(t.text, word)
}

func (p *parser) expectPunct(s string) error {
	t := p.peek()
	if t.kind == tokPunct && t.text == s {
		p.pos++
		return nil
	}
	return cqlerr.New(cqlerr.InvalidQuery, "engine.parser", fmt.Errorf("expected %q, got %q", s, t.text))
}

func (p *parser) peekPunct(s string) bool {
	t := p.peek()
	return t.kind == tokPunct && t.text == s
}

func (p *parser) expectIdent() (string, error) {
	t := p.peek()
	if t.kind != tokIdent {
		return "", cqlerr.New(cqlerr.InvalidQuery, "engine.parser", fmt.Errorf("expected identifier, got %q", t.text))
	}
	p.pos++
	return t.text, nil
}

// parseTableName reads [ks.]table, returning just the table name — this
// engine's catalog is keyed by bare table name (one directory per
// instance already scopes the keyspace, per spec 6).
func (p *parser) parseTableName() (string, error) {
	first, err := p.expectIdent()
	if err != nil {
		return "", err
	}
	if p.peekPunct(".") {
		p.pos++
		return p.expectIdent()
	}
	return first, nil
}

// parseStatement dispatches on the statement's leading keyword.
func parseStatement(cql string) (any, error) {
	toks := tokenizeCQL(cql)
	p := &parser{toks: toks}

	switch {
	case p.peekIdentCI("CREATE"):
		return createTableStmt{DDL: cql}, nil
	case p.peekIdentCI("INSERT"):
		return parseInsert(p)
	case p.peekIdentCI("SELECT"):
		return parseSelect(p)
	case p.peekIdentCI("DELETE"):
		return parseDelete(p)
	default:
		return nil, cqlerr.New(cqlerr.InvalidQuery, "engine.parseStatement", fmt.Errorf("unrecognized statement"))
	}
}

func parseInsert(p *parser) (insertStmt, error) {
	var stmt insertStmt
	if err := p.expectIdentCI("INSERT"); err != nil {
		return stmt, err
	}
	if err := p.expectIdentCI("INTO"); err != nil {
		return stmt, err
	}
	table, err := p.parseTableName()
	if err != nil {
		return stmt, err
	}
	stmt.Table = table

	if err := p.expectPunct("("); err != nil {
		return stmt, err
	}
	for {
		name, err := p.expectIdent()
		if err != nil {
			return stmt, err
		}
		stmt.Columns = append(stmt.Columns, name)
		if p.peekPunct(",") {
			p.pos++
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return stmt, err
	}
	if err := p.expectIdentCI("VALUES"); err != nil {
		return stmt, err
	}
	if err := p.expectPunct("("); err != nil {
		return stmt, err
	}
	for {
		lit, err := parseLiteral(p)
		if err != nil {
			return stmt, err
		}
		stmt.Values = append(stmt.Values, lit)
		if p.peekPunct(",") {
			p.pos++
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return stmt, err
	}
	if len(stmt.Columns) != len(stmt.Values) {
		return stmt, cqlerr.New(cqlerr.InvalidQuery, "engine.parseInsert", fmt.Errorf("column/value count mismatch"))
	}
	return stmt, nil
}

func parseSelect(p *parser) (selectStmt, error) {
	var stmt selectStmt
	if err := p.expectIdentCI("SELECT"); err != nil {
		return stmt, err
	}
	if p.peekPunct("*") {
		p.pos++
	} else {
		for {
			name, err := p.expectIdent()
			if err != nil {
				return stmt, err
			}
			stmt.Projection = append(stmt.Projection, name)
			if p.peekPunct(",") {
				p.pos++
				continue
			}
			break
		}
	}
	if err := p.expectIdentCI("FROM"); err != nil {
		return stmt, err
	}
	table, err := p.parseTableName()
	if err != nil {
		return stmt, err
	}
	stmt.Table = table

	if p.peekIdentCI("WHERE") {
		p.pos++
		where, err := parseWhere(p)
		if err != nil {
			return stmt, err
		}
		stmt.Where = where
	}
	if p.peekIdentCI("LIMIT") {
		p.pos++
		t := p.next()
		if t.kind != tokNumber {
			return stmt, cqlerr.New(cqlerr.InvalidQuery, "engine.parseSelect", fmt.Errorf("expected number after LIMIT"))
		}
		n, err := strconv.Atoi(t.text)
		if err != nil {
			return stmt, cqlerr.New(cqlerr.InvalidQuery, "engine.parseSelect", err)
		}
		stmt.Limit = n
		stmt.HasLimit = true
	}
	return stmt, nil
}

func parseDelete(p *parser) (deleteStmt, error) {
	var stmt deleteStmt
	if err := p.expectIdentCI("DELETE"); err != nil {
		return stmt, err
	}
	if err := p.expectIdentCI("FROM"); err != nil {
		return stmt, err
	}
	table, err := p.parseTableName()
	if err != nil {
		return stmt, err
	}
	stmt.Table = table
	if err := p.expectIdentCI("WHERE"); err != nil {
		return stmt, err
	}
	where, err := parseWhere(p)
	if err != nil {
		return stmt, err
	}
	stmt.Where = where
	return stmt, nil
}

func parseWhere(p *parser) ([]whereClause, error) {
	var clauses []whereClause
	for {
		col, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		op, err := parseOp(p)
		if err != nil {
			return nil, err
		}
		lit, err := parseLiteral(p)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, whereClause{Column: col, Op: op, Value: lit})
		if p.peekIdentCI("AND") {
			p.pos++
			continue
		}
		break
	}
	return clauses, nil
}

func parseOp(p *parser) (query.Op, error) {
	t := p.peek()
	if t.kind != tokPunct {
		return 0, cqlerr.New(cqlerr.InvalidQuery, "engine.parseOp", fmt.Errorf("expected operator, got %q", t.text))
	}
	switch t.text {
	case "=":
		p.pos++
		return query.OpEq, nil
	case "<":
		p.pos++
		return query.OpLt, nil
	case "<=":
		p.pos++
		return query.OpLte, nil
	case ">":
		p.pos++
		return query.OpGt, nil
	case ">=":
		p.pos++
		return query.OpGte, nil
	default:
		return 0, cqlerr.New(cqlerr.InvalidQuery, "engine.parseOp", fmt.Errorf("unsupported operator %q", t.text))
	}
}

func parseLiteral(p *parser) (literal, error) {
	t := p.next()
	switch t.kind {
	case tokString:
		return literal{isStr: true, text: t.text}, nil
	case tokNumber:
		return literal{isNum: true, number: t.text}, nil
	case tokIdent:
		switch strings.ToUpper(t.text) {
		case "NULL":
			return literal{null: true}, nil
		case "TRUE":
			return literal{isBool: true, bval: true}, nil
		case "FALSE":
			return literal{isBool: true, bval: false}, nil
		}
	}
	return literal{}, cqlerr.New(cqlerr.InvalidQuery, "engine.parseLiteral", fmt.Errorf("expected literal, got %q", t.text))
}
