package attributes

// Pair is one key/value entry of a Mapping.
type Pair struct {
	Key   string
	Value Value
}

// Mapping is an ordered string-keyed mapping. Iteration follows the order in
// which keys were first set; replacing a key keeps its position.
type Mapping struct {
	pairs []Pair
	index map[string]int
}

// NewMapping creates an empty mapping.
func NewMapping() *Mapping {
	return &Mapping{index: make(map[string]int)}
}

// MappingOf builds a mapping from pairs in the given order.
func MappingOf(pairs ...Pair) *Mapping {
	m := NewMapping()
	for _, p := range pairs {
		m.Set(p.Key, p.Value)
	}
	return m
}

// Set assigns value to key. The zero Mapping is ready to use.
func (m *Mapping) Set(key string, value Value) {
	if m.index == nil {
		m.index = make(map[string]int)
	}
	if i, ok := m.index[key]; ok {
		m.pairs[i].Value = value
		return
	}
	m.index[key] = len(m.pairs)
	m.pairs = append(m.pairs, Pair{Key: key, Value: value})
}

// Get returns the value for key.
func (m *Mapping) Get(key string) (Value, bool) {
	if m == nil {
		return Value{}, false
	}
	i, ok := m.index[key]
	if !ok {
		return Value{}, false
	}
	return m.pairs[i].Value, true
}

// Len returns the number of keys.
func (m *Mapping) Len() int {
	if m == nil {
		return 0
	}
	return len(m.pairs)
}

// Keys returns the keys in declaration order.
func (m *Mapping) Keys() []string {
	if m == nil {
		return nil
	}
	keys := make([]string, len(m.pairs))
	for i, p := range m.pairs {
		keys[i] = p.Key
	}
	return keys
}

// Pairs returns a copy of the entries in declaration order.
func (m *Mapping) Pairs() []Pair {
	if m == nil {
		return nil
	}
	return append([]Pair{}, m.pairs...)
}

// Clone returns a deep copy of m.
func (m *Mapping) Clone() *Mapping {
	out := NewMapping()
	if m == nil {
		return out
	}
	for _, p := range m.pairs {
		v := p.Value
		if sub, ok := v.AsMapping(); ok {
			v = Map(sub.Clone())
		}
		out.Set(p.Key, v)
	}
	return out
}

// Merge overlays other onto m. Nested mappings merge recursively; any other
// value in other replaces the one in m. New keys are appended after existing
// ones in other's order.
func (m *Mapping) Merge(other *Mapping) {
	if other == nil {
		return
	}
	for _, p := range other.pairs {
		if incoming, ok := p.Value.AsMapping(); ok {
			if existing, ok := m.Get(p.Key); ok {
				if base, ok := existing.AsMapping(); ok {
					base.Merge(incoming)
					continue
				}
			}
			m.Set(p.Key, Map(incoming.Clone()))
			continue
		}
		m.Set(p.Key, p.Value)
	}
}
