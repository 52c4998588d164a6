package schema

import (
	"encoding/json"
	"fmt"

	"github.com/cqlite-db/cqlite/types"
)

// jsonColumn mirrors one element of the "columns"/"partition_keys"/
// "clustering_keys" arrays in the schema JSON format (spec 6).
type jsonColumn struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Position int    `json:"position,omitempty"`
	Order    string `json:"order,omitempty"`
	Nullable bool   `json:"nullable,omitempty"`
}

type jsonSchema struct {
	Keyspace      string            `json:"keyspace"`
	Table         string            `json:"table"`
	PartitionKeys []jsonColumn      `json:"partition_keys"`
	ClusteringKeys []jsonColumn     `json:"clustering_keys"`
	Columns       []jsonColumn      `json:"columns"`
	Options       map[string]string `json:"options"`
}

// ToJSON renders s in the schema JSON import/export format.
func ToJSON(s *TableSchema) ([]byte, error) {
	js := jsonSchema{
		Keyspace: s.Keyspace,
		Table:    s.Table,
		Options:  s.Options,
	}

	for i, name := range s.PartitionKey {
		col, ok := s.ColumnByName(name)
		if !ok {
			return nil, fmt.Errorf("schema.ToJSON: partition key %q not in column list", name)
		}
		js.PartitionKeys = append(js.PartitionKeys, jsonColumn{Name: name, Type: col.Type.String(), Position: i})
	}
	for i, ck := range s.ClusteringKey {
		col, ok := s.ColumnByName(ck.Name)
		if !ok {
			return nil, fmt.Errorf("schema.ToJSON: clustering key %q not in column list", ck.Name)
		}
		js.ClusteringKeys = append(js.ClusteringKeys, jsonColumn{Name: ck.Name, Type: col.Type.String(), Position: i, Order: ck.Direction.String()})
	}
	for _, c := range s.Columns {
		js.Columns = append(js.Columns, jsonColumn{Name: c.Name, Type: c.Type.String(), Nullable: c.Nullable})
	}

	return json.MarshalIndent(js, "", "  ")
}

// FromJSON parses the schema JSON import/export format. reg resolves any
// UDT type names the column list references; pass an empty registry if
// the schema uses only primitives and collections. Unknown JSON fields are
// ignored; absent array fields default to empty, per spec 6.
func FromJSON(data []byte, reg *UDTRegistry) (*TableSchema, error) {
	if reg == nil {
		reg = NewUDTRegistry()
	}
	var js jsonSchema
	if err := json.Unmarshal(data, &js); err != nil {
		return nil, fmt.Errorf("schema.FromJSON: %w", err)
	}

	s := &TableSchema{
		Keyspace:    js.Keyspace,
		Table:       js.Table,
		Options:     js.Options,
		Compression: map[string]string{},
	}
	if s.Options == nil {
		s.Options = map[string]string{}
	}

	colTypes := map[string]*types.TypeDescriptor{}
	for _, jc := range js.Columns {
		td, err := parseTypeString(jc.Type, reg, js.Keyspace)
		if err != nil {
			return nil, err
		}
		colTypes[jc.Name] = td
		s.Columns = append(s.Columns, Column{Name: jc.Name, Type: td, Nullable: jc.Nullable, Role: RoleRegular})
	}

	for _, jc := range js.PartitionKeys {
		s.PartitionKey = append(s.PartitionKey, jc.Name)
		markRole(s, jc.Name, RolePartitionKey)
	}
	for _, jc := range js.ClusteringKeys {
		dir := Ascending
		if jc.Order == "DESC" {
			dir = Descending
		}
		s.ClusteringKey = append(s.ClusteringKey, ClusteringColumn{Name: jc.Name, Direction: dir})
		markRole(s, jc.Name, RoleClusteringKey)
	}

	return s, nil
}

func markRole(s *TableSchema, name string, role ColumnRole) {
	for i := range s.Columns {
		if s.Columns[i].Name == name {
			s.Columns[i].Role = role
			s.Columns[i].Nullable = false
			return
		}
	}
}

// parseTypeString parses a standalone type expression, e.g. "map<text, int>".
func parseTypeString(s string, reg *UDTRegistry, keyspace string) (*types.TypeDescriptor, error) {
	p := &parser{toks: tokenize(s)}
	td, err := parseType(p, reg, keyspace)
	if err != nil {
		return nil, err
	}
	if !p.atEnd() {
		return nil, errExpectedToken("end of type", p.peek().text)
	}
	return td, nil
}
