package store

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/examdesk/sebconfig/server/model"
)

// definitions is the layout of an attribute definition file:
//
//	attributes:
//	  - id: 1
//	    name: allowQuit
//	    type: CHECKBOX
//	    default: "true"
//	  - id: 2
//	    name: URLFilterRules
//	    type: TABLE
//	    resources: active,action,expression
//	  - id: 3
//	    name: URLFilterRules.active
//	    type: CHECKBOX
//	    parent: 2
type definitions struct {
	Attributes []*model.Attribute `yaml:"attributes"`
}

// LoadAttributes reads attribute definitions from a YAML file.
func LoadAttributes(path string) ([]*model.Attribute, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read attribute definitions")
	}
	attrs, err := DecodeAttributes(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid attribute definitions in %s", path)
	}
	return attrs, nil
}

// DecodeAttributes decodes YAML attribute definitions. Unknown fields are
// rejected.
func DecodeAttributes(r io.Reader) ([]*model.Attribute, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var defs definitions
	if err := dec.Decode(&defs); err != nil && err != io.EOF {
		return nil, err
	}
	ids := make(map[int64]bool, len(defs.Attributes))
	for _, attr := range defs.Attributes {
		if attr.Name == "" {
			return nil, errors.Errorf("attribute %d has no name", attr.ID)
		}
		if attr.Type == model.TypeUnknown {
			return nil, errors.Errorf("attribute %q has no type", attr.Name)
		}
		ids[attr.ID] = true
	}
	for _, attr := range defs.Attributes {
		if attr.HasParent() && !ids[attr.ParentID] {
			return nil, errors.Errorf("attribute %q references unknown parent %d", attr.Name, attr.ParentID)
		}
	}
	return defs.Attributes, nil
}
