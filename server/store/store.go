// Package store holds attribute definitions and configuration values for
// the codec.
package store

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/examdesk/sebconfig/server/model"
)

// Memory is an in-memory attribute and value store. It is safe for
// concurrent use.
type Memory struct {
	mu         sync.RWMutex
	attributes []*model.Attribute
	byID       map[int64]*model.Attribute
	byName     map[string]*model.Attribute
	// configurations maps a configuration id to its institution and values.
	configurations map[int64]*configuration
}

type configuration struct {
	institutionID int64
	values        map[model.ValueKey]model.Value
}

// NewMemory creates a store with the given attribute definitions.
func NewMemory(attrs ...*model.Attribute) (*Memory, error) {
	m := &Memory{
		byID:           make(map[int64]*model.Attribute),
		byName:         make(map[string]*model.Attribute),
		configurations: make(map[int64]*configuration),
	}
	if err := m.AddAttributes(attrs...); err != nil {
		return nil, err
	}
	return m, nil
}

// AddAttributes appends attribute definitions. Ids and names must be unique.
func (m *Memory) AddAttributes(attrs ...*model.Attribute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, attr := range attrs {
		if attr.ID == 0 {
			return errors.Errorf("attribute %q has no id", attr.Name)
		}
		if _, ok := m.byID[attr.ID]; ok {
			return errors.Errorf("duplicate attribute id %d", attr.ID)
		}
		if _, ok := m.byName[attr.Name]; ok {
			return errors.Errorf("duplicate attribute name %q", attr.Name)
		}
		m.attributes = append(m.attributes, attr)
		m.byID[attr.ID] = attr
		m.byName[attr.Name] = attr
	}
	return nil
}

// Attributes returns the attribute definitions in insertion order.
func (m *Memory) Attributes() []*model.Attribute {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*model.Attribute(nil), m.attributes...)
}

// Attribute returns the attribute with the given name or nil.
func (m *Memory) Attribute(name string) *model.Attribute {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byName[name]
}

// Resolver returns an AttributeResolver over the store's attributes.
func (m *Memory) Resolver() model.AttributeResolver {
	return m.Attribute
}

// Sink returns a ValueSink storing values of a configuration. A value whose
// key is already stored is rejected.
func (m *Memory) Sink(institutionID, configurationID int64) model.ValueSink {
	return func(v model.Value) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.byID[v.AttributeID]; !ok {
			return errors.Errorf("value %s references unknown attribute", v)
		}
		conf, ok := m.configurations[configurationID]
		if !ok {
			conf = &configuration{
				institutionID: institutionID,
				values:        make(map[model.ValueKey]model.Value),
			}
			m.configurations[configurationID] = conf
		} else if conf.institutionID != institutionID {
			return errors.Errorf("configuration %d belongs to institution %d", configurationID, conf.institutionID)
		}
		v.InstitutionID = institutionID
		v.ConfigurationID = configurationID
		if _, ok := conf.values[v.Key()]; ok {
			return errors.Errorf("duplicate value %s", v)
		}
		conf.values[v.Key()] = v
		return nil
	}
}

// Values returns the values of a configuration ordered by attribute id and
// list index.
func (m *Memory) Values(configurationID int64) []model.Value {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conf, ok := m.configurations[configurationID]
	if !ok {
		return nil
	}
	values := make([]model.Value, 0, len(conf.values))
	for _, v := range conf.values {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool {
		if values[i].AttributeID != values[j].AttributeID {
			return values[i].AttributeID < values[j].AttributeID
		}
		return values[i].ListIndex < values[j].ListIndex
	})
	return values
}

// Clear removes the values of a configuration.
func (m *Memory) Clear(configurationID int64) {
	m.mu.Lock()
	delete(m.configurations, configurationID)
	m.mu.Unlock()
}

// Snapshot copies the attributes and the values of a configuration into a
// snapshot ready for serialization. Parents are placed before their
// columns.
func (m *Memory) Snapshot(configurationID int64) (*model.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conf, ok := m.configurations[configurationID]
	if !ok {
		return nil, errors.Errorf("unknown configuration %d", configurationID)
	}
	snapshot := model.NewSnapshot(conf.institutionID, configurationID)
	if err := snapshot.AddAttribute(parentsFirst(m.attributes)...); err != nil {
		return nil, err
	}
	for _, v := range conf.values {
		if err := snapshot.Put(v); err != nil {
			return nil, err
		}
	}
	return snapshot, nil
}

// EmptySnapshot returns a snapshot of the attributes without values.
func (m *Memory) EmptySnapshot(institutionID, configurationID int64) (*model.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot := model.NewSnapshot(institutionID, configurationID)
	if err := snapshot.AddAttribute(parentsFirst(m.attributes)...); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// parentsFirst orders attributes so that every top-level attribute keeps its
// position and is followed by its columns.
func parentsFirst(attrs []*model.Attribute) []*model.Attribute {
	children := make(map[int64][]*model.Attribute)
	for _, attr := range attrs {
		if attr.HasParent() {
			children[attr.ParentID] = append(children[attr.ParentID], attr)
		}
	}
	ordered := make([]*model.Attribute, 0, len(attrs))
	var add func(attr *model.Attribute)
	add = func(attr *model.Attribute) {
		ordered = append(ordered, attr)
		for _, child := range children[attr.ID] {
			add(child)
		}
	}
	for _, attr := range attrs {
		if !attr.HasParent() {
			add(attr)
		}
	}
	return ordered
}
