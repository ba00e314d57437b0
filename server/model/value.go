package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Value is one string-encoded value of an attribute within a configuration.
// Scalars use ListIndex 0; table and array rows use 0..n-1.
type Value struct {
	InstitutionID   int64
	ConfigurationID int64
	AttributeID     int64
	ListIndex       int
	Value           string
	// Null marks an explicitly empty value, e.g. an inline table without
	// rows.
	Null bool
}

// ValueKey identifies a value within one configuration snapshot.
type ValueKey struct {
	AttributeID     int64
	ConfigurationID int64
	ListIndex       int
}

// Key returns the identity of the value.
func (v Value) Key() ValueKey {
	return ValueKey{
		AttributeID:     v.AttributeID,
		ConfigurationID: v.ConfigurationID,
		ListIndex:       v.ListIndex,
	}
}

func (v Value) String() string {
	if v.Null {
		return fmt.Sprintf("[attribute=%d, config=%d, index=%d, null]",
			v.AttributeID, v.ConfigurationID, v.ListIndex)
	}
	return fmt.Sprintf("[attribute=%d, config=%d, index=%d, value=%q]",
		v.AttributeID, v.ConfigurationID, v.ListIndex, v.Value)
}

// ValueSink receives values as they are produced. Returning an error aborts
// the producer.
type ValueSink func(Value) error

const (
	// MultiValueSeparator joins the items of a multi-value attribute.
	MultiValueSeparator = ","
	// CellSeparator joins the cells of an inline table row.
	CellSeparator = ","
	// CellAssignment separates a cell name from its value.
	CellAssignment = "="
	// RowSeparator joins inline table rows that share one value.
	RowSeparator = "|"
)

// JoinMulti joins the items of a multi-value attribute.
func JoinMulti(items []string) string {
	return strings.Join(items, MultiValueSeparator)
}

// SplitMulti splits a multi-value attribute value into its items. An empty
// value has no items.
func SplitMulti(value string) []string {
	if value == "" {
		return nil
	}
	return strings.Split(value, MultiValueSeparator)
}

// JoinRow renders one inline table row as name=value pairs. The two slices
// must have the same length.
func JoinRow(names, values []string) string {
	var b strings.Builder
	for i := range names {
		if i > 0 {
			b.WriteString(CellSeparator)
		}
		b.WriteString(names[i])
		b.WriteString(CellAssignment)
		b.WriteString(values[i])
	}
	return b.String()
}

// Cell is one name=value pair of an inline table row.
type Cell struct {
	Name  string
	Value string
}

// SplitRow parses a row rendered by JoinRow.
func SplitRow(row string) ([]Cell, error) {
	if row == "" {
		return nil, nil
	}
	parts := strings.Split(row, CellSeparator)
	cells := make([]Cell, 0, len(parts))
	for _, part := range parts {
		i := strings.Index(part, CellAssignment)
		if i < 0 {
			return nil, errors.Errorf("malformed inline table cell %q", part)
		}
		cells = append(cells, Cell{Name: part[:i], Value: part[i+1:]})
	}
	return cells, nil
}

// GroupRows re-groups parallel cell name and value lists, in document order,
// into rows of the given width and renders each row with JoinRow.
func GroupRows(names, values []string, width int) ([]string, error) {
	if len(names) != len(values) {
		return nil, errors.Errorf("inline table has %d names but %d values", len(names), len(values))
	}
	if width <= 0 {
		return nil, errors.New("inline table declares no columns")
	}
	if len(names)%width != 0 {
		return nil, errors.Errorf("inline table has %d cells, not a multiple of %d columns", len(names), width)
	}
	rows := make([]string, 0, len(names)/width)
	for start := 0; start < len(names); start += width {
		rows = append(rows, JoinRow(names[start:start+width], values[start:start+width]))
	}
	return rows, nil
}

// Coerce validates text against the declared type of the attribute and
// returns its canonical form. Booleans are parsed leniently and never fail,
// numbers strictly. Text types pass through unchanged.
func Coerce(attr *Attribute, text string) (string, error) {
	switch attr.Type {
	case TypeCheckbox:
		return coerceBool(text)
	case TypeInteger, TypeSlider:
		trimmed := strings.TrimSpace(text)
		n, err := strconv.Atoi(trimmed)
		if err != nil {
			return "", errors.Errorf("%q is not an integer", text)
		}
		return strconv.Itoa(n), nil
	case TypeDecimal:
		trimmed := strings.TrimSpace(text)
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return "", errors.Errorf("%q is not a decimal", text)
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	return text, nil
}

// coerceBool never fails: anything that is not an affirmative spelling is
// false.
func coerceBool(text string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "true", "yes", "1", "on":
		return "true", nil
	}
	return "false", nil
}
