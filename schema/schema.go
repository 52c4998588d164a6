// Package schema parses CQL CREATE TABLE (and CREATE TYPE) DDL into a
// TableSchema, sufficient to drive serialization and query planning
// without a full CQL grammar.
package schema

import "github.com/cqlite-db/cqlite/types"

// SortDirection is a clustering column's sort order.
type SortDirection uint8

const (
	Ascending SortDirection = iota
	Descending
)

func (d SortDirection) String() string {
	if d == Descending {
		return "DESC"
	}
	return "ASC"
}

// ColumnRole says what part of the primary key (if any) a column plays.
type ColumnRole uint8

const (
	RoleRegular ColumnRole = iota
	RolePartitionKey
	RoleClusteringKey
	RoleStatic
)

// Column is one column of a TableSchema.
type Column struct {
	Name     string
	Type     *types.TypeDescriptor
	Nullable bool
	Role     ColumnRole
}

// ClusteringColumn names one clustering-key column and its sort direction.
type ClusteringColumn struct {
	Name      string
	Direction SortDirection
}

// TableSchema is the parsed form of a CREATE TABLE statement.
type TableSchema struct {
	Keyspace string
	Table    string

	// Columns holds every column in declaration order.
	Columns []Column

	// PartitionKey is the ordered list of partition-key column names.
	PartitionKey []string

	// ClusteringKey is the ordered list of clustering-key columns.
	ClusteringKey []ClusteringColumn

	// Options carries opaque WITH key/value pairs verbatim.
	Options map[string]string

	// GCGraceSeconds, Compression and DefaultTTLSecs are the WITH options the
	// engine actually interprets (spec 4.3); zero value means "unset,
	// use the engine default".
	GCGraceSeconds  int64
	Compression     map[string]string
	DefaultTTLSecs  int64

	IfNotExists bool
}

// ColumnByName looks up a column by name, or returns (Column{}, false).
func (s *TableSchema) ColumnByName(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// QualifiedName renders "keyspace.table", or just "table" if Keyspace is
// empty.
func (s *TableSchema) QualifiedName() string {
	if s.Keyspace == "" {
		return s.Table
	}
	return s.Keyspace + "." + s.Table
}

// UDTRegistry resolves bare type-name references against keyspace-scoped
// user-defined types, populated by CREATE TYPE statements.
type UDTRegistry struct {
	byKey map[string]*types.TypeDescriptor
}

// NewUDTRegistry returns an empty registry.
func NewUDTRegistry() *UDTRegistry {
	return &UDTRegistry{byKey: make(map[string]*types.TypeDescriptor)}
}

func udtKey(keyspace, name string) string { return keyspace + "." + name }

// Register records a UDT descriptor under keyspace.name.
func (r *UDTRegistry) Register(keyspace, name string, td *types.TypeDescriptor) {
	r.byKey[udtKey(keyspace, name)] = td
}

// Lookup resolves a bare type name within keyspace, falling back to no
// keyspace qualifier for registries populated without one.
func (r *UDTRegistry) Lookup(keyspace, name string) (*types.TypeDescriptor, bool) {
	if td, ok := r.byKey[udtKey(keyspace, name)]; ok {
		return td, true
	}
	td, ok := r.byKey[udtKey("", name)]
	return td, ok
}
