// Package plist converts SEB configurations between the value model and the
// property list markup exchanged with clients.
package plist

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/examdesk/sebconfig/server/logger"
	"github.com/examdesk/sebconfig/server/model"
)

// StructuralError reports malformed nesting. It aborts the parse.
type StructuralError struct {
	Element string
	Offset  int64
	Reason  string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("plist: <%s> at offset %d: %s", e.Element, e.Offset, e.Reason)
}

// SecretEncryptor encrypts and decrypts secret attribute values. It is
// provided by the credential facility of the host application.
type SecretEncryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Parser turns plist markup into values. Values are handed to Sink as soon
// as they are complete; nothing is buffered beyond the parse stack.
type Parser struct {
	InstitutionID   int64
	ConfigurationID int64
	Resolver        model.AttributeResolver
	Sink            model.ValueSink
	// Secrets encrypts secret attribute values. Without it secret values
	// are dropped.
	Secrets SecretEncryptor
	Logger  logger.Logger
}

// Parse reads one plist document from r.
func (p *Parser) Parse(r io.Reader) error {
	if p.Resolver == nil || p.Sink == nil {
		return errors.New("plist: parser needs a resolver and a sink")
	}
	log := p.Logger
	if log == nil {
		log = logger.NewSilentLogger()
	}
	state := &parseState{
		Parser:  p,
		log:     log,
		decoder: xml.NewDecoder(r),
	}
	return state.run()
}

// parseState holds the state of one document.
type parseState struct {
	*Parser
	log     logger.Logger
	decoder *xml.Decoder
	stack   stack
	kiosk   kioskModeState
	emitted int
}

func (s *parseState) run() error {
	for {
		token, err := s.decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(err, "plist: malformed markup")
		}
		switch t := token.(type) {
		case xml.StartElement:
			err = s.startElement(t.Name.Local)
		case xml.EndElement:
			err = s.endElement(t.Name.Local)
		case xml.CharData:
			s.characters(t)
		}
		if err != nil {
			return err
		}
	}
	if len(s.stack) != 0 {
		return s.structural("plist", "document ended with unclosed elements")
	}
	s.log.Debugf("Parsed %d values of configuration %d", s.emitted, s.ConfigurationID)
	return nil
}

func (s *parseState) structural(element, reason string, args ...interface{}) error {
	return &StructuralError{
		Element: element,
		Offset:  s.decoder.InputOffset(),
		Reason:  fmt.Sprintf(reason, args...),
	}
}

func (s *parseState) startElement(name string) error {
	tag := classify(name)
	if tag == tagUnknown {
		return s.structural(name, "unknown element")
	}
	if len(s.stack) == 0 {
		if tag != tagPlist {
			return s.structural(name, "element outside of the plist container")
		}
		s.stack.push(&rootNode{})
		return nil
	}

	parent := s.stack.peek(0)
	if key, ok := parent.(*keyNode); ok && !key.closed {
		return s.structural(name, "element inside a key")
	}
	switch {
	case tag == tagPlist:
		return s.structural(name, "nested plist container")

	case tag == tagDict:
		switch p := parent.(type) {
		case *rootNode:
			s.stack.push(&dictNode{})
		case *arrayNode:
			p.sawDict = true
			s.stack.push(&dictNode{name: p.name, index: p.counter})
			p.counter++
		case *keyNode:
			s.stack.replaceTop(&dictNode{name: p.text.String(), index: p.index})
		default:
			return s.structural(name, "dict inside <%s>", tagNameOf(parent))
		}

	case tag == tagArray:
		key, ok := parent.(*keyNode)
		if !ok {
			return s.structural(name, "array without a key")
		}
		arrayName := key.text.String()
		s.stack.replaceTop(&arrayNode{
			name:        arrayName,
			index:       key.index,
			inlineTable: IsInlineTable(arrayName),
		})

	case tag == tagKey:
		dict, ok := parent.(*dictNode)
		if !ok {
			return s.structural(name, "key outside of a dict")
		}
		s.stack.push(&keyNode{index: dict.index})

	case tag.isScalar():
		scalar := &scalarNode{tag: tag}
		switch p := parent.(type) {
		case *keyNode:
			scalar.name = p.text.String()
			scalar.index = p.index
			s.stack.replaceTop(scalar)
		case *arrayNode:
			scalar.name = p.name
			scalar.index = p.counter
			p.counter++
			s.stack.push(scalar)
		default:
			return s.structural(name, "value without a key or array")
		}
		switch tag {
		case tagTrue:
			scalar.text.WriteString("true")
		case tagFalse:
			scalar.text.WriteString("false")
		}
	}
	return nil
}

func (s *parseState) characters(data xml.CharData) {
	top := s.stack.peek(0)
	if top == nil || !top.kind().acceptsText() {
		return
	}
	switch n := top.(type) {
	case *keyNode:
		if !n.closed {
			n.text.Write(data)
		}
	case *scalarNode:
		n.text.Write(data)
	}
}

func (s *parseState) endElement(name string) error {
	top := s.stack.peek(0)
	if top == nil {
		return s.structural(name, "closing tag without an open element")
	}
	if key, ok := top.(*keyNode); ok && key.closed {
		return s.structural(name, "key %q without a value", key.text.String())
	}
	if tag := classify(name); tag != top.kind() {
		return s.structural(name, "expected </%s>", tagNameOf(top))
	}
	switch n := top.(type) {
	case *keyNode:
		// The key stays on the stack until its value opens.
		n.closed = true
		return nil
	case *scalarNode:
		s.stack.pop()
		return s.endScalar(n)
	case *arrayNode:
		s.stack.pop()
		return s.endArray(n)
	case *dictNode, *rootNode:
		s.stack.pop()
	}
	return nil
}

// containerName is the name a value inherits from its enclosing containers:
// cells of a table row are called "table.column".
func (s *parseState) containerName(child string) string {
	if dict, ok := s.stack.peek(0).(*dictNode); ok {
		if _, inArray := s.stack.peek(1).(*arrayNode); inArray {
			return dict.name + "." + child
		}
	}
	return child
}

func (s *parseState) endScalar(child *scalarNode) error {
	if array, ok := s.stack.peek(0).(*arrayNode); ok {
		array.items = append(array.items, child.value())
		return nil
	}
	if grand, ok := s.stack.peek(1).(*arrayNode); ok && grand.inlineTable {
		grand.cellNames = append(grand.cellNames, child.name)
		grand.cellValues = append(grand.cellValues, child.value())
		return nil
	}
	return s.emit(s.containerName(child.name), s.compositeName(child.name), child.index, child.value())
}

// compositeName is the qualified name of a cell of a composite table, a dict
// bound directly to a key. It is empty outside of such a dict.
func (s *parseState) compositeName(child string) string {
	if dict, ok := s.stack.peek(0).(*dictNode); ok && dict.name != "" {
		if _, nested := s.stack.peek(1).(*dictNode); nested {
			return dict.name + "." + child
		}
	}
	return ""
}

func (s *parseState) endArray(array *arrayNode) error {
	name := s.containerName(array.name)
	if IsIgnored(name) {
		s.log.Debugf("Ignoring obsolete key %s", name)
		return nil
	}
	attr := s.Resolver(name)

	if array.inlineTable {
		if attr == nil {
			s.log.Warnf("Unknown inline table %s, dropping %d cells", name, len(array.cellNames))
			return nil
		}
		return s.emitInlineTable(attr, array)
	}

	if attr == nil {
		if !array.sawDict {
			return s.unresolved(name, model.JoinMulti(array.items))
		}
		return nil
	}
	if attr.Type.IsMultiValue() {
		return s.emitValue(attr, array.index, model.JoinMulti(array.items), false)
	}
	if len(array.items) > 0 {
		s.log.Warnf("Attribute %s of type %s cannot hold an array, dropping %d items",
			name, attr.Type, len(array.items))
	}
	return nil
}

func (s *parseState) emitInlineTable(attr *model.Attribute, array *arrayNode) error {
	if len(array.cellNames) == 0 {
		return s.emitValue(attr, array.index, "", true)
	}
	width := len(attr.Columns())
	if width == 0 {
		width = inferRowWidth(array.cellNames)
	}
	rows, err := model.GroupRows(array.cellNames, array.cellValues, width)
	if err != nil {
		s.log.Warnf("Dropping malformed inline table %s: %v", attr.Name, err)
		return nil
	}
	if attr.HasParent() {
		// Nested in a table row: one value at the row's index.
		return s.emitValue(attr, array.index, strings.Join(rows, model.RowSeparator), false)
	}
	for i, row := range rows {
		if err := s.emitValue(attr, i, row, false); err != nil {
			return err
		}
	}
	return nil
}

// inferRowWidth derives the column count from the first repeated cell name.
func inferRowWidth(names []string) int {
	seen := make(map[string]struct{}, len(names))
	for i, name := range names {
		if _, ok := seen[name]; ok {
			return i
		}
		seen[name] = struct{}{}
	}
	return len(names)
}

// emit resolves a scalar by name and hands it to the sink. The composite
// name is tried when the plain name is unknown.
func (s *parseState) emit(name, composite string, index int, text string) error {
	if IsIgnored(name) {
		s.log.Debugf("Ignoring obsolete key %s", name)
		return nil
	}
	attr := s.Resolver(name)
	if attr == nil && composite != "" {
		attr = s.Resolver(composite)
	}
	if attr == nil {
		return s.unresolved(name, text)
	}
	return s.emitValue(attr, index, text, false)
}

func (s *parseState) emitValue(attr *model.Attribute, index int, text string, null bool) error {
	// kioskMode comes either from its own key or from the legacy halves,
	// whichever is seen first.
	if attr.Name == kioskModeAttribute {
		if s.kiosk.emitted {
			s.log.Debugf("Kiosk mode already set, ignoring later value %q", text)
			return nil
		}
		s.kiosk.emitted = true
	}
	value := model.Value{
		InstitutionID:   s.InstitutionID,
		ConfigurationID: s.ConfigurationID,
		AttributeID:     attr.ID,
		ListIndex:       index,
		Null:            null,
	}
	if !null {
		coerced, err := model.Coerce(attr, text)
		if err != nil {
			s.log.Warnf("Invalid value for attribute %s, using default %q: %v",
				attr.Name, attr.DefaultValue, err)
			coerced = attr.DefaultValue
		}
		if IsSecret(attr.Name) && strings.TrimSpace(coerced) != "" {
			if s.Secrets == nil {
				s.log.Warnf("No secret encryptor configured, dropping value of %s", attr.Name)
				return nil
			}
			encrypted, err := s.Secrets.Encrypt(coerced)
			if err != nil {
				return errors.Wrapf(err, "failed to encrypt secret attribute %s", attr.Name)
			}
			coerced = SecretMarker + encrypted
		}
		value.Value = coerced
	}
	if err := s.Sink(value); err != nil {
		return errors.Wrapf(err, "failed to store value of %s", attr.Name)
	}
	s.emitted++
	return nil
}

// unresolved handles a name the resolver does not know: legacy kiosk mode
// halves are combined, anything else is dropped with a warning.
func (s *parseState) unresolved(name, text string) error {
	if isKioskModeLegacyKey(name) {
		if !s.kiosk.record(name, text == "true") {
			return nil
		}
		attr := s.Resolver(kioskModeAttribute)
		if attr == nil {
			s.log.Warnf("Legacy kiosk mode keys found but attribute %s is unknown", kioskModeAttribute)
			return nil
		}
		return s.emitValue(attr, 0, s.kiosk.mode(), false)
	}
	s.log.Warnf("Unknown attribute %s, dropping value", name)
	return nil
}

func tagNameOf(n node) string {
	kind := n.kind()
	for name, k := range tagNames {
		if k == kind {
			return name
		}
	}
	return "unknown"
}
