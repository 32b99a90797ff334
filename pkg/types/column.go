// Package types provides core data types for the Tessera sync engine.
package types

import "fmt"

// ColumnType identifies the value shape of a column.
type ColumnType string

const (
	ColumnTypeString    ColumnType = "STRING"
	ColumnTypeLargeText ColumnType = "LARGETEXT"
	ColumnTypeInteger   ColumnType = "INTEGER"
	ColumnTypeDouble    ColumnType = "DOUBLE"
	ColumnTypeBoolean   ColumnType = "BOOLEAN"
	ColumnTypeDate      ColumnType = "DATE"
	ColumnTypeEntityID  ColumnType = "ENTITYID"
	ColumnTypeJSON      ColumnType = "JSON"

	ColumnTypeStringList   ColumnType = "STRING_LIST"
	ColumnTypeIntegerList  ColumnType = "INTEGER_LIST"
	ColumnTypeBooleanList  ColumnType = "BOOLEAN_LIST"
	ColumnTypeDateList     ColumnType = "DATE_LIST"
	ColumnTypeEntityIDList ColumnType = "ENTITYID_LIST"
)

// IsList reports whether the type holds an ordered list of scalar elements.
func (t ColumnType) IsList() bool {
	switch t {
	case ColumnTypeStringList, ColumnTypeIntegerList, ColumnTypeBooleanList,
		ColumnTypeDateList, ColumnTypeEntityIDList:
		return true
	}
	return false
}

// ElementType returns the scalar element type of a list type.
// For scalar types it returns the type itself.
func (t ColumnType) ElementType() ColumnType {
	switch t {
	case ColumnTypeStringList:
		return ColumnTypeString
	case ColumnTypeIntegerList:
		return ColumnTypeInteger
	case ColumnTypeBooleanList:
		return ColumnTypeBoolean
	case ColumnTypeDateList:
		return ColumnTypeDate
	case ColumnTypeEntityIDList:
		return ColumnTypeEntityID
	}
	return t
}

// IsStringFamily reports whether values of the type are quoted in generated
// filter predicates.
func (t ColumnType) IsStringFamily() bool {
	switch t {
	case ColumnTypeString, ColumnTypeLargeText, ColumnTypeEntityID:
		return true
	}
	return false
}

// Valid reports whether the type is one of the known column types.
func (t ColumnType) Valid() bool {
	switch t {
	case ColumnTypeString, ColumnTypeLargeText, ColumnTypeInteger, ColumnTypeDouble,
		ColumnTypeBoolean, ColumnTypeDate, ColumnTypeEntityID, ColumnTypeJSON,
		ColumnTypeStringList, ColumnTypeIntegerList, ColumnTypeBooleanList,
		ColumnTypeDateList, ColumnTypeEntityIDList:
		return true
	}
	return false
}

// Column is the named, typed schema unit of a table-like entity.
//
// Columns are content-addressed on the server: ID is assigned when the column
// is persisted and a persisted column's ID is reissued whenever any other
// field changes. The client never assigns or guesses IDs.
type Column struct {
	// ID is the opaque server-assigned identifier. Empty until persisted.
	ID string `json:"id,omitempty"`

	// Name is the client-facing identity used for diffing. Unique
	// (case-sensitive) within one table.
	Name string `json:"name"`

	// Type is the column value type.
	Type ColumnType `json:"column_type"`

	// MaximumSize is the maximum value size for sized types (0 = server default).
	MaximumSize int64 `json:"maximum_size,omitempty"`

	// MaximumListLength bounds list-typed columns (0 = server default).
	MaximumListLength int64 `json:"maximum_list_length,omitempty"`

	// DefaultValue is applied by the server when a cell is omitted on insert.
	DefaultValue any `json:"default_value,omitempty"`

	// EnumValues restricts the column to a fixed value set.
	EnumValues []string `json:"enum_values,omitempty"`

	// FacetType marks the column for faceted navigation.
	FacetType string `json:"facet_type,omitempty"`
}

// Clone returns a deep copy of the column.
func (c *Column) Clone() *Column {
	cp := *c
	if c.EnumValues != nil {
		cp.EnumValues = append([]string(nil), c.EnumValues...)
	}
	return &cp
}

// ColumnSet is an ordered mapping of column name to Column. It represents
// either the last-known-persisted state or the desired state of a table's
// schema. Order is significant: two snapshots are compared positionally.
type ColumnSet struct {
	cols []*Column
}

// NewColumnSet builds a set from columns in order. Duplicate names are
// rejected.
func NewColumnSet(cols ...*Column) (*ColumnSet, error) {
	s := &ColumnSet{}
	for _, c := range cols {
		if _, replaced := s.Put(c); replaced {
			return nil, fmt.Errorf("types: duplicate column name %q", c.Name)
		}
	}
	return s, nil
}

// Len returns the number of columns in the set.
func (s *ColumnSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.cols)
}

// Put adds a column, or replaces an existing column of the same name in
// place (preserving its position). It reports the replaced column, if any.
func (s *ColumnSet) Put(c *Column) (*Column, bool) {
	for i, existing := range s.cols {
		if existing.Name == c.Name {
			s.cols[i] = c
			return existing, true
		}
	}
	s.cols = append(s.cols, c)
	return nil, false
}

// Get returns the column with the given name.
func (s *ColumnSet) Get(name string) (*Column, bool) {
	if s == nil {
		return nil, false
	}
	for _, c := range s.cols {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// Remove deletes the column with the given name, reporting whether it existed.
func (s *ColumnSet) Remove(name string) bool {
	for i, c := range s.cols {
		if c.Name == name {
			s.cols = append(s.cols[:i], s.cols[i+1:]...)
			return true
		}
	}
	return false
}

// Columns returns the columns in order. The slice is a copy; the columns are
// shared.
func (s *ColumnSet) Columns() []*Column {
	if s == nil {
		return nil
	}
	return append([]*Column(nil), s.cols...)
}

// Names returns the column names in order.
func (s *ColumnSet) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, len(s.cols))
	for i, c := range s.cols {
		names[i] = c.Name
	}
	return names
}

// OrderedIDs returns the server-assigned column IDs in set order. Columns
// that have never been persisted contribute an empty string.
func (s *ColumnSet) OrderedIDs() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, len(s.cols))
	for i, c := range s.cols {
		ids[i] = c.ID
	}
	return ids
}

// Clone returns a deep copy of the set.
func (s *ColumnSet) Clone() *ColumnSet {
	if s == nil {
		return nil
	}
	cp := &ColumnSet{cols: make([]*Column, len(s.cols))}
	for i, c := range s.cols {
		cp.cols[i] = c.Clone()
	}
	return cp
}
