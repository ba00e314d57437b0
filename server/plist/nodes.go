package plist

import (
	"strings"
)

// tagKind classifies a markup element.
type tagKind int

const (
	tagUnknown tagKind = iota
	tagPlist
	tagDict
	tagArray
	tagKey
	tagTrue
	tagFalse
	tagString
	tagInteger
	tagReal
	tagDate
	tagData
)

var tagNames = map[string]tagKind{
	"plist":   tagPlist,
	"dict":    tagDict,
	"array":   tagArray,
	"key":     tagKey,
	"true":    tagTrue,
	"false":   tagFalse,
	"string":  tagString,
	"integer": tagInteger,
	"real":    tagReal,
	"date":    tagDate,
	"data":    tagData,
}

func classify(name string) tagKind {
	return tagNames[name]
}

func (k tagKind) isScalar() bool {
	switch k {
	case tagTrue, tagFalse, tagString, tagInteger, tagReal, tagDate, tagData:
		return true
	}
	return false
}

// acceptsText reports whether character data inside the element belongs to
// its value.
func (k tagKind) acceptsText() bool {
	switch k {
	case tagKey, tagString, tagInteger, tagReal, tagDate, tagData:
		return true
	}
	return false
}

// node is one frame of the parse stack. Each variant carries only the state
// its transitions need.
type node interface {
	kind() tagKind
}

// rootNode is the outer plist container.
type rootNode struct{}

// dictNode is a dictionary. Dictionaries inside an array are table rows and
// carry the array's name and the row index.
type dictNode struct {
	name  string
	index int
}

// arrayNode is an array value. Simple arrays accumulate scalar items;
// inline tables accumulate cell names and values of their row dicts.
type arrayNode struct {
	name        string
	index       int
	counter     int
	inlineTable bool
	sawDict     bool
	items       []string
	cellNames   []string
	cellValues  []string
}

// keyNode is a dictionary key awaiting its value. Its text is the name.
type keyNode struct {
	text   strings.Builder
	index  int
	closed bool
}

// scalarNode is a typed scalar value.
type scalarNode struct {
	tag   tagKind
	name  string
	index int
	text  strings.Builder
}

func (*rootNode) kind() tagKind {
	return tagPlist
}

func (*dictNode) kind() tagKind {
	return tagDict
}

func (*arrayNode) kind() tagKind {
	return tagArray
}

func (*keyNode) kind() tagKind {
	return tagKey
}

func (n *scalarNode) kind() tagKind {
	return n.tag
}

func (n *scalarNode) value() string {
	switch n.tag {
	case tagData:
		// Base64 payloads are commonly wrapped across lines.
		return strings.Join(strings.Fields(n.text.String()), "")
	case tagInteger, tagReal:
		return strings.TrimSpace(n.text.String())
	}
	return n.text.String()
}

// stack is the parse stack, top at the end.
type stack []node

func (s *stack) push(n node) {
	*s = append(*s, n)
}

func (s *stack) pop() node {
	old := *s
	if len(old) == 0 {
		return nil
	}
	n := old[len(old)-1]
	*s = old[:len(old)-1]
	return n
}

// peek returns the node depth frames below the top, or nil.
func (s stack) peek(depth int) node {
	i := len(s) - 1 - depth
	if i < 0 {
		return nil
	}
	return s[i]
}

// replaceTop swaps the top frame, used when a value replaces its key.
func (s stack) replaceTop(n node) {
	s[len(s)-1] = n
}
