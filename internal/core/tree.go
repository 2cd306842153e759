package core

import (
	"maps"
	"slices"
)

// Map is an ordered string-keyed mapping. It is the shape mappings take in a
// raw configuration tree so that flag order survives parsing.
type Map struct {
	keys   []string
	values map[string]any
}

func NewMap() *Map {
	return &Map{values: make(map[string]any)}
}

// Set stores value under key. A new key is appended; an existing key keeps its
// position.
func (m *Map) Set(key string, value any) {
	if m.values == nil {
		m.values = make(map[string]any)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

func (m *Map) Get(key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	value, ok := m.values[key]
	return value, ok
}

func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	return slices.Clone(m.keys)
}

func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// mapping is the read-only view the validator needs over either an ordered
// *Map or a plain map[string]any.
type mapping interface {
	keys() []string
	get(key string) (any, bool)
}

type orderedMapping struct{ m *Map }

func (o orderedMapping) keys() []string             { return o.m.keys }
func (o orderedMapping) get(key string) (any, bool) { return o.m.Get(key) }

type plainMapping map[string]any

func (p plainMapping) keys() []string {
	return slices.Sorted(maps.Keys(p))
}

func (p plainMapping) get(key string) (any, bool) {
	value, ok := p[key]
	return value, ok
}

func asMapping(value any) (mapping, bool) {
	switch v := value.(type) {
	case *Map:
		if v == nil {
			return nil, false
		}
		return orderedMapping{m: v}, true
	case map[string]any:
		if v == nil {
			return nil, false
		}
		return plainMapping(v), true
	default:
		return nil, false
	}
}

// toPlain converts nested *Map values into map[string]any.
func toPlain(value any) any {
	switch v := value.(type) {
	case *Map:
		out := make(map[string]any, v.Len())
		for _, key := range v.keys {
			out[key] = toPlain(v.values[key])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = toPlain(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = toPlain(item)
		}
		return out
	default:
		return v
	}
}
