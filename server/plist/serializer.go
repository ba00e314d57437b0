package plist

import (
	"bufio"
	"encoding/xml"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/examdesk/sebconfig/server/logger"
	"github.com/examdesk/sebconfig/server/model"
)

const (
	xmlHeader     = `<?xml version="1.0" encoding="UTF-8"?>`
	doctypeHeader = `<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">`
	plistOpen     = `<plist version="1.0">`
	plistClose    = `</plist>`
)

// Serializer renders configuration entries as plist markup. It performs no
// business validation; values are written as stored.
type Serializer struct {
	// Secrets decrypts secret attribute values stored with SecretMarker.
	Secrets SecretEncryptor
	Logger  logger.Logger
}

// Write renders entries, in order, as one plist document.
func (s *Serializer) Write(w io.Writer, entries []model.Entry) error {
	log := s.Logger
	if log == nil {
		log = logger.NewSilentLogger()
	}
	mw := &markupWriter{w: bufio.NewWriter(w)}
	mw.line(xmlHeader)
	mw.line(doctypeHeader)
	mw.line(plistOpen)
	mw.open("dict")
	for _, entry := range entries {
		if entry.Attribute == nil {
			continue
		}
		if err := s.writeEntry(mw, entry); err != nil {
			return err
		}
	}
	mw.close("dict")
	mw.line(plistClose)
	if mw.err != nil {
		return errors.Wrap(mw.err, "failed to write markup")
	}
	if err := mw.w.Flush(); err != nil {
		return errors.Wrap(err, "failed to flush markup")
	}
	log.Debugf("Serialized %d attributes", len(entries))
	return nil
}

func (s *Serializer) writeEntry(mw *markupWriter, entry model.Entry) error {
	attr := entry.Attribute
	mw.element("key", attr.Name)
	switch attr.Type {
	case model.TypeTable:
		return s.writeTable(mw, entry)
	case model.TypeCompositeTable:
		return s.writeCompositeTable(mw, entry)
	case model.TypeInlineTable:
		rows := make([]string, 0, len(entry.Values))
		for _, v := range entry.Values {
			if !v.Null {
				rows = append(rows, v.Value)
			}
		}
		return writeInlineTable(mw, rows)
	}
	text := attr.DefaultValue
	if len(entry.Values) > 0 && !entry.Values[0].Null {
		text = entry.Values[0].Value
	}
	return s.writeScalar(mw, attr, text)
}

func (s *Serializer) writeScalar(mw *markupWriter, attr *model.Attribute, text string) error {
	text, err := s.reveal(attr, text)
	if err != nil {
		return err
	}
	convert, ok := converters[attr.Type]
	if !ok {
		convert = writeString
	}
	return convert(mw, attr, text)
}

// reveal decrypts a secret value stored with SecretMarker.
func (s *Serializer) reveal(attr *model.Attribute, text string) (string, error) {
	if !strings.HasPrefix(text, SecretMarker) {
		return text, nil
	}
	if s.Secrets == nil {
		return "", errors.Errorf("attribute %s holds an encrypted value but no secret encryptor is configured", attr.Name)
	}
	plain, err := s.Secrets.Decrypt(strings.TrimPrefix(text, SecretMarker))
	if err != nil {
		return "", errors.Wrapf(err, "failed to decrypt attribute %s", attr.Name)
	}
	return plain, nil
}

func (s *Serializer) writeTable(mw *markupWriter, entry model.Entry) error {
	if entry.Table == nil || len(entry.Table.Rows) == 0 {
		mw.empty("array")
		return nil
	}
	mw.open("array")
	for row := range entry.Table.Rows {
		if err := s.writeRow(mw, entry.Table, row); err != nil {
			return err
		}
	}
	mw.close("array")
	return nil
}

func (s *Serializer) writeCompositeTable(mw *markupWriter, entry model.Entry) error {
	if entry.Table == nil || len(entry.Table.Rows) == 0 {
		mw.empty("dict")
		return nil
	}
	return s.writeRow(mw, entry.Table, 0)
}

// writeRow renders one table row as a dict keyed by the column short names.
// Missing cells are written with the column default.
func (s *Serializer) writeRow(mw *markupWriter, table *model.Table, row int) error {
	mw.open("dict")
	for _, column := range table.Columns {
		text := column.DefaultValue
		if v, ok := table.Cell(row, column); ok && !v.Null {
			text = v.Value
		}
		mw.element("key", column.ShortName())
		if column.Type == model.TypeInlineTable {
			var rows []string
			if text != "" {
				rows = strings.Split(text, model.RowSeparator)
			}
			if err := writeInlineTable(mw, rows); err != nil {
				return err
			}
			continue
		}
		if err := s.writeScalar(mw, column, text); err != nil {
			return err
		}
	}
	mw.close("dict")
	return nil
}

// markupWriter writes tab indented markup and keeps the first write error.
type markupWriter struct {
	w     *bufio.Writer
	depth int
	err   error
}

func (m *markupWriter) line(s string) {
	if m.err != nil {
		return
	}
	for i := 0; i < m.depth; i++ {
		if m.err = m.w.WriteByte('\t'); m.err != nil {
			return
		}
	}
	if _, m.err = m.w.WriteString(s); m.err != nil {
		return
	}
	m.err = m.w.WriteByte('\n')
}

func (m *markupWriter) open(tag string) {
	m.line("<" + tag + ">")
	m.depth++
}

func (m *markupWriter) close(tag string) {
	m.depth--
	m.line("</" + tag + ">")
}

func (m *markupWriter) empty(tag string) {
	m.line("<" + tag + "/>")
}

// element writes a tag with escaped text content.
func (m *markupWriter) element(tag, text string) {
	var b strings.Builder
	b.WriteString("<" + tag + ">")
	// Writes to a strings.Builder cannot fail.
	_ = xml.EscapeText(&b, []byte(text))
	b.WriteString("</" + tag + ">")
	m.line(b.String())
}
