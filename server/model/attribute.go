package model

import (
	"fmt"
	"strings"
)

// AttributeType is the declared type of a configuration attribute. It
// decides how values are coerced while parsing and which markup converter
// renders them.
type AttributeType int

const (
	TypeUnknown AttributeType = iota
	TypeCheckbox
	TypeTextField
	TypePasswordField
	TypeTextArea
	TypeInteger
	TypeDecimal
	TypeSingleSelection
	TypeRadioSelection
	TypeComboSelection
	TypeSlider
	TypeMultiSelection
	TypeMultiCheckboxSelection
	TypeTable
	TypeInlineTable
	TypeCompositeTable
)

var attributeTypeNames = map[AttributeType]string{
	TypeUnknown:                "UNKNOWN",
	TypeCheckbox:               "CHECKBOX",
	TypeTextField:              "TEXT_FIELD",
	TypePasswordField:          "PASSWORD_FIELD",
	TypeTextArea:               "TEXT_AREA",
	TypeInteger:                "INTEGER",
	TypeDecimal:                "DECIMAL",
	TypeSingleSelection:        "SINGLE_SELECTION",
	TypeRadioSelection:         "RADIO_SELECTION",
	TypeComboSelection:         "COMBO_SELECTION",
	TypeSlider:                 "SLIDER",
	TypeMultiSelection:         "MULTI_SELECTION",
	TypeMultiCheckboxSelection: "MULTI_CHECKBOX_SELECTION",
	TypeTable:                  "TABLE",
	TypeInlineTable:            "INLINE_TABLE",
	TypeCompositeTable:         "COMPOSITE_TABLE",
}

// String returns the canonical upper-case name of the type.
func (t AttributeType) String() string {
	if name, ok := attributeTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("AttributeType(%d)", int(t))
}

// ParseAttributeType parses a type from its canonical name. Matching is case
// insensitive.
func ParseAttributeType(name string) (AttributeType, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for t, n := range attributeTypeNames {
		if n == upper && t != TypeUnknown {
			return t, nil
		}
	}
	return TypeUnknown, fmt.Errorf("unknown attribute type %q", name)
}

// UnmarshalText implements encoding.TextUnmarshaler so attribute definition
// files can name types directly.
func (t *AttributeType) UnmarshalText(text []byte) error {
	parsed, err := ParseAttributeType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// IsMultiValue reports whether values of this type are carried in markup as
// an array of scalars that collapses into one comma-joined value.
func (t AttributeType) IsMultiValue() bool {
	switch t {
	case TypeMultiSelection, TypeMultiCheckboxSelection, TypeTextArea:
		return true
	}
	return false
}

// IsTable reports whether the type owns column attributes.
func (t AttributeType) IsTable() bool {
	switch t {
	case TypeTable, TypeInlineTable, TypeCompositeTable:
		return true
	}
	return false
}

// IsNumeric reports whether values of this type are integers in markup.
func (t AttributeType) IsNumeric() bool {
	switch t {
	case TypeInteger, TypeSingleSelection, TypeRadioSelection, TypeComboSelection, TypeSlider:
		return true
	}
	return false
}

// Attribute is the definition of one configuration attribute. Attributes are
// loaded once and treated as immutable for the duration of a codec pass.
type Attribute struct {
	ID           int64         `yaml:"id"`
	Name         string        `yaml:"name"`
	Type         AttributeType `yaml:"type"`
	ParentID     int64         `yaml:"parent"`
	DefaultValue string        `yaml:"default"`
	// Resources holds the comma separated column names of table
	// attributes, in column order.
	Resources string `yaml:"resources"`
}

// HasParent reports whether the attribute is a column of a table attribute.
func (a *Attribute) HasParent() bool {
	return a.ParentID != 0
}

// Columns returns the declared column names of a table attribute.
func (a *Attribute) Columns() []string {
	if strings.TrimSpace(a.Resources) == "" {
		return nil
	}
	parts := strings.Split(a.Resources, ",")
	columns := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			columns = append(columns, part)
		}
	}
	return columns
}

// ShortName returns the last segment of a dotted attribute name. Table
// columns are named "table.column" and appear in markup as "column".
func (a *Attribute) ShortName() string {
	if i := strings.LastIndex(a.Name, "."); i >= 0 {
		return a.Name[i+1:]
	}
	return a.Name
}

func (a *Attribute) String() string {
	return fmt.Sprintf("[id=%d, name=%s, type=%s]", a.ID, a.Name, a.Type)
}

// AttributeResolver resolves an attribute by name. It returns nil for names
// it does not know.
type AttributeResolver func(name string) *Attribute
