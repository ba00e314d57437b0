package model

import (
	"sort"

	"github.com/pkg/errors"
)

// Entry is one top-level attribute of a snapshot together with everything
// the serializer needs to render it.
type Entry struct {
	Attribute *Attribute
	// Values holds the scalar value (one element) or the rows of an inline
	// table, ordered by ListIndex.
	Values []Value
	// Table is set for TABLE and COMPOSITE_TABLE attributes.
	Table *Table
}

// Table is the row-major view of a table attribute.
type Table struct {
	Columns []*Attribute
	// Rows maps column attribute names to the cell value of each row.
	Rows []map[string]Value
}

// Cell returns the value of a column in a row.
func (t *Table) Cell(row int, column *Attribute) (Value, bool) {
	if row < 0 || row >= len(t.Rows) {
		return Value{}, false
	}
	v, ok := t.Rows[row][column.Name]
	return v, ok
}

// Snapshot is an in-memory configuration: an ordered attribute set plus the
// values of one configuration. It is not safe for concurrent mutation.
type Snapshot struct {
	InstitutionID   int64
	ConfigurationID int64

	attributes []*Attribute
	byID       map[int64]*Attribute
	byName     map[string]*Attribute
	values     map[ValueKey]Value
}

// NewSnapshot creates an empty snapshot for a configuration.
func NewSnapshot(institutionID, configurationID int64) *Snapshot {
	return &Snapshot{
		InstitutionID:   institutionID,
		ConfigurationID: configurationID,
		byID:            make(map[int64]*Attribute),
		byName:          make(map[string]*Attribute),
		values:          make(map[ValueKey]Value),
	}
}

// AddAttribute appends attribute definitions in order. Ids and names must be
// unique and a parent must be added before its columns.
func (s *Snapshot) AddAttribute(attrs ...*Attribute) error {
	for _, attr := range attrs {
		if _, ok := s.byID[attr.ID]; ok {
			return errors.Errorf("duplicate attribute id %d", attr.ID)
		}
		if _, ok := s.byName[attr.Name]; ok {
			return errors.Errorf("duplicate attribute name %q", attr.Name)
		}
		if attr.HasParent() {
			if _, ok := s.byID[attr.ParentID]; !ok {
				return errors.Errorf("attribute %s references unknown parent %d", attr, attr.ParentID)
			}
		}
		s.attributes = append(s.attributes, attr)
		s.byID[attr.ID] = attr
		s.byName[attr.Name] = attr
	}
	return nil
}

// Attributes returns the attribute definitions in insertion order.
func (s *Snapshot) Attributes() []*Attribute {
	return s.attributes
}

// Attribute returns the attribute with the given id or nil.
func (s *Snapshot) Attribute(id int64) *Attribute {
	return s.byID[id]
}

// Resolver returns an AttributeResolver over the snapshot's attributes.
func (s *Snapshot) Resolver() AttributeResolver {
	return func(name string) *Attribute {
		return s.byName[name]
	}
}

// Put stores a value, replacing any value with the same key. The attribute
// must be part of the snapshot.
func (s *Snapshot) Put(v Value) error {
	if _, ok := s.byID[v.AttributeID]; !ok {
		return errors.Errorf("value %s references unknown attribute", v)
	}
	v.InstitutionID = s.InstitutionID
	v.ConfigurationID = s.ConfigurationID
	s.values[v.Key()] = v
	return nil
}

// Sink returns a ValueSink that stores values and rejects a second value
// for the same key.
func (s *Snapshot) Sink() ValueSink {
	return func(v Value) error {
		v.ConfigurationID = s.ConfigurationID
		if _, ok := s.values[v.Key()]; ok {
			return errors.Errorf("duplicate value %s", v)
		}
		return s.Put(v)
	}
}

// Value returns the value of an attribute at a list index.
func (s *Snapshot) Value(attributeID int64, listIndex int) (Value, bool) {
	v, ok := s.values[ValueKey{
		AttributeID:     attributeID,
		ConfigurationID: s.ConfigurationID,
		ListIndex:       listIndex,
	}]
	return v, ok
}

// Values returns all values ordered by attribute insertion order and list
// index.
func (s *Snapshot) Values() []Value {
	order := make(map[int64]int, len(s.attributes))
	for i, attr := range s.attributes {
		order[attr.ID] = i
	}
	values := make([]Value, 0, len(s.values))
	for _, v := range s.values {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool {
		oi, oj := order[values[i].AttributeID], order[values[j].AttributeID]
		if oi != oj {
			return oi < oj
		}
		return values[i].ListIndex < values[j].ListIndex
	})
	return values
}

// Columns returns the column attributes of a table, ordered as the table's
// resources declare them. Columns missing from the resources follow in
// insertion order.
func (s *Snapshot) Columns(table *Attribute) []*Attribute {
	var children []*Attribute
	for _, attr := range s.attributes {
		if attr.ParentID == table.ID {
			children = append(children, attr)
		}
	}
	declared := table.Columns()
	if len(declared) == 0 {
		return children
	}
	position := make(map[string]int, len(declared))
	for i, name := range declared {
		position[name] = i
	}
	sort.SliceStable(children, func(i, j int) bool {
		pi, iok := position[children[i].ShortName()]
		pj, jok := position[children[j].ShortName()]
		switch {
		case iok && jok:
			return pi < pj
		case iok:
			return true
		default:
			return false
		}
	})
	return children
}

// Entries builds the serializer input: one entry per top-level attribute in
// insertion order.
func (s *Snapshot) Entries() []Entry {
	var entries []Entry
	for _, attr := range s.attributes {
		if attr.HasParent() {
			continue
		}
		entry := Entry{Attribute: attr}
		switch attr.Type {
		case TypeTable, TypeCompositeTable:
			entry.Table = s.table(attr)
		default:
			entry.Values = s.rows(attr.ID)
		}
		entries = append(entries, entry)
	}
	return entries
}

func (s *Snapshot) table(attr *Attribute) *Table {
	table := &Table{Columns: s.Columns(attr)}
	rowCount := 0
	for _, column := range table.Columns {
		for _, v := range s.rows(column.ID) {
			if v.ListIndex+1 > rowCount {
				rowCount = v.ListIndex + 1
			}
		}
	}
	if attr.Type == TypeCompositeTable && rowCount > 1 {
		rowCount = 1
	}
	table.Rows = make([]map[string]Value, rowCount)
	for i := range table.Rows {
		table.Rows[i] = make(map[string]Value, len(table.Columns))
		for _, column := range table.Columns {
			if v, ok := s.Value(column.ID, i); ok {
				table.Rows[i][column.Name] = v
			}
		}
	}
	return table
}

func (s *Snapshot) rows(attributeID int64) []Value {
	var rows []Value
	for key, v := range s.values {
		if key.AttributeID == attributeID {
			rows = append(rows, v)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].ListIndex < rows[j].ListIndex
	})
	return rows
}
