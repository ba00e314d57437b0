package plist

import (
	"strconv"
	"strings"

	"github.com/examdesk/sebconfig/server/model"
)

// converter renders the value of a scalar or multi-value attribute.
type converter func(mw *markupWriter, attr *model.Attribute, text string) error

var converters = map[model.AttributeType]converter{
	model.TypeCheckbox:               writeBool,
	model.TypeInteger:                writeInteger,
	model.TypeSingleSelection:        writeInteger,
	model.TypeRadioSelection:         writeInteger,
	model.TypeComboSelection:         writeInteger,
	model.TypeSlider:                 writeInteger,
	model.TypeDecimal:                writeReal,
	model.TypeTextField:              writeString,
	model.TypePasswordField:          writeString,
	model.TypeTextArea:               writeString,
	model.TypeMultiSelection:         writeArray,
	model.TypeMultiCheckboxSelection: writeArray,
}

func writeBool(mw *markupWriter, _ *model.Attribute, text string) error {
	if coerced, _ := model.Coerce(&model.Attribute{Type: model.TypeCheckbox}, text); coerced == "true" {
		mw.empty("true")
	} else {
		mw.empty("false")
	}
	return nil
}

func writeInteger(mw *markupWriter, attr *model.Attribute, text string) error {
	if _, err := strconv.Atoi(strings.TrimSpace(text)); err != nil {
		// Free text in a selection is kept as it is.
		return writeString(mw, attr, text)
	}
	mw.element("integer", strings.TrimSpace(text))
	return nil
}

func writeReal(mw *markupWriter, attr *model.Attribute, text string) error {
	if _, err := strconv.ParseFloat(strings.TrimSpace(text), 64); err != nil {
		return writeString(mw, attr, text)
	}
	mw.element("real", strings.TrimSpace(text))
	return nil
}

func writeString(mw *markupWriter, _ *model.Attribute, text string) error {
	mw.element("string", text)
	return nil
}

func writeArray(mw *markupWriter, _ *model.Attribute, text string) error {
	items := model.SplitMulti(text)
	if len(items) == 0 {
		mw.empty("array")
		return nil
	}
	mw.open("array")
	for _, item := range items {
		if _, err := strconv.Atoi(item); err == nil {
			mw.element("integer", item)
		} else {
			mw.element("string", item)
		}
	}
	mw.close("array")
	return nil
}

// writeInlineTable renders name=value rows as an array of dicts. Boolean
// cells are written as boolean tags.
func writeInlineTable(mw *markupWriter, rows []string) error {
	if len(rows) == 0 {
		mw.empty("array")
		return nil
	}
	mw.open("array")
	for _, row := range rows {
		cells, err := model.SplitRow(row)
		if err != nil {
			return err
		}
		mw.open("dict")
		for _, cell := range cells {
			mw.element("key", cell.Name)
			switch cell.Value {
			case "true":
				mw.empty("true")
			case "false":
				mw.empty("false")
			default:
				mw.element("string", cell.Value)
			}
		}
		mw.close("dict")
	}
	mw.close("array")
	return nil
}
