package schema

import (
	"fmt"

	"github.com/cqlite-db/cqlite/cqlerr"
)

func errExpectedToken(want, got string) error {
	return cqlerr.New(cqlerr.InvalidQuery, "schema.Parse",
		fmt.Errorf("%w: expected %s, got %q", ErrExpectedToken, want, got))
}

func errUnknownType(name string) error {
	return cqlerr.New(cqlerr.InvalidQuery, "schema.Parse",
		fmt.Errorf("%w: %q", ErrUnknownType, name))
}

func errDuplicateColumn(name string) error {
	return cqlerr.New(cqlerr.InvalidQuery, "schema.Parse",
		fmt.Errorf("%w: %q", ErrDuplicateColumn, name))
}

func errPrimaryKeyColumnNotDefined(name string) error {
	return cqlerr.New(cqlerr.InvalidQuery, "schema.Parse",
		fmt.Errorf("%w: %q", ErrPrimaryKeyColumnNotDefined, name))
}

func errEmptyColumnList() error {
	return cqlerr.New(cqlerr.InvalidQuery, "schema.Parse", ErrEmptyColumnList)
}

func errMissingPrimaryKey() error {
	return cqlerr.New(cqlerr.InvalidQuery, "schema.Parse", ErrMissingPrimaryKey)
}

func errRecursiveUDT(name string) error {
	return cqlerr.New(cqlerr.InvalidQuery, "schema.Parse",
		fmt.Errorf("%w: %q", ErrRecursiveUDT, name))
}

// Sentinel errors identifying the parser's descriptive error kinds (spec
// 4.3); wrapped in a *cqlerr.Error so callers can still branch on
// cqlerr.Kind, and unwrapped further with errors.Is against these.
var (
	ErrExpectedToken             = fmt.Errorf("expected token")
	ErrUnknownType                = fmt.Errorf("unknown type")
	ErrDuplicateColumn            = fmt.Errorf("duplicate column")
	ErrPrimaryKeyColumnNotDefined = fmt.Errorf("primary key column not defined")
	ErrEmptyColumnList            = fmt.Errorf("empty column list")
	ErrMissingPrimaryKey          = fmt.Errorf("missing primary key")
	ErrRecursiveUDT               = fmt.Errorf("recursive udt")
)
