package attributes

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Tree is the read-only attribute tree handed to the renderer. Accessors
// never fail for missing keys; they fail only when a present value has the
// wrong kind.
type Tree struct {
	root     *Mapping
	validate *validator.Validate
}

// NewTree wraps root. The tree keeps its own deep copy, so later changes to
// root are not observed.
func NewTree(root *Mapping) *Tree {
	return &Tree{
		root:     root.Clone(),
		validate: validator.New(),
	}
}

// Root returns a copy of the root mapping.
func (t *Tree) Root() *Mapping {
	return t.root.Clone()
}

// Lookup resolves a dotted path. The second result is false when any segment
// is missing or an intermediate value is not a mapping.
func (t *Tree) Lookup(path string) (Value, bool) {
	v, ok, err := t.resolve(path)
	if err != nil {
		return Value{}, false
	}
	return v, ok
}

// resolve is Lookup for the typed accessors: a present intermediate value
// that is not a mapping is a type mismatch at that prefix, not an absence.
func (t *Tree) resolve(path string) (Value, bool, error) {
	if t == nil || path == "" {
		return Value{}, false, nil
	}
	current := t.root
	segments := strings.Split(path, ".")
	for i, seg := range segments {
		v, ok := current.Get(seg)
		if !ok {
			return Value{}, false, nil
		}
		if i == len(segments)-1 {
			return v, true, nil
		}
		next, ok := v.AsMapping()
		if !ok {
			prefix := strings.Join(segments[:i+1], ".")
			return Value{}, true, NewTypeMismatch(prefix, KindMapping, v.Kind())
		}
		current = next
	}
	return Value{}, false, nil
}

// String returns the string at path.
func (t *Tree) String(path string) (string, bool, error) {
	v, ok, err := t.resolve(path)
	if err != nil || !ok {
		return "", ok, err
	}
	s, ok := v.AsString()
	if !ok {
		return "", true, NewTypeMismatch(path, KindString, v.Kind())
	}
	return s, true, nil
}

// Bool returns the boolean at path.
func (t *Tree) Bool(path string) (bool, bool, error) {
	v, ok, err := t.resolve(path)
	if err != nil || !ok {
		return false, ok, err
	}
	b, ok := v.AsBool()
	if !ok {
		return false, true, NewTypeMismatch(path, KindBool, v.Kind())
	}
	return b, true, nil
}

// StringList returns the list at path in its declared order.
func (t *Tree) StringList(path string) ([]string, bool, error) {
	v, ok, err := t.resolve(path)
	if err != nil || !ok {
		return nil, ok, err
	}
	if hs, ok := v.AsHandlers(); ok && len(hs) == 0 {
		return []string{}, true, nil
	}
	items, ok := v.AsList()
	if !ok {
		return nil, true, NewTypeMismatch(path, KindList, v.Kind())
	}
	return items, true, nil
}

// Mapping returns the nested mapping at path.
func (t *Tree) Mapping(path string) (*Mapping, bool, error) {
	v, ok, err := t.resolve(path)
	if err != nil || !ok {
		return nil, ok, err
	}
	m, ok := v.AsMapping()
	if !ok {
		return nil, true, NewTypeMismatch(path, KindMapping, v.Kind())
	}
	return m, true, nil
}

// Handlers returns the handler list at path. Every entry must carry a class
// name. An empty plain list is accepted as an empty handler list.
func (t *Tree) Handlers(path string) ([]HandlerSpec, bool, error) {
	v, ok, err := t.resolve(path)
	if err != nil || !ok {
		return nil, ok, err
	}
	if items, ok := v.AsList(); ok && len(items) == 0 {
		return []HandlerSpec{}, true, nil
	}
	specs, ok := v.AsHandlers()
	if !ok {
		return nil, true, NewTypeMismatch(path, KindHandlers, v.Kind())
	}
	for i := range specs {
		specs[i].ClassName = strings.TrimSpace(specs[i].ClassName)
		if err := t.validate.Struct(specs[i]); err != nil {
			return nil, true, NewMalformedHandlerSpec(fmt.Sprintf("%s[%d]", path, i), err)
		}
	}
	return specs, true, nil
}

// Gems returns the load_gems entries at path in declaration order. Each key
// is a gem name; its value is a mapping with an optional require_name and
// version. A missing require_name defaults to the gem name.
func (t *Tree) Gems(path string) ([]GemSpec, bool, error) {
	m, ok, err := t.Mapping(path)
	if err != nil || !ok {
		return nil, ok, err
	}
	gems := make([]GemSpec, 0, m.Len())
	for _, p := range m.Pairs() {
		entryPath := path + "." + p.Key
		spec := GemSpec{Name: p.Key, RequireName: p.Key}
		if !p.Value.IsAbsent() {
			opts, ok := p.Value.AsMapping()
			if !ok {
				return nil, true, NewTypeMismatch(entryPath, KindMapping, p.Value.Kind())
			}
			if rv, ok := opts.Get("require_name"); ok {
				s, ok := rv.AsString()
				if !ok {
					return nil, true, NewTypeMismatch(entryPath+".require_name", KindString, rv.Kind())
				}
				if s != "" {
					spec.RequireName = s
				}
			}
			if vv, ok := opts.Get("version"); ok {
				s, ok := vv.AsString()
				if !ok {
					return nil, true, NewTypeMismatch(entryPath+".version", KindString, vv.Kind())
				}
				spec.Version = s
			}
		}
		if err := t.validate.Struct(spec); err != nil {
			return nil, true, &Error{Kind: KindTypeMismatch, Path: entryPath, Message: "invalid gem entry", Err: err}
		}
		gems = append(gems, spec)
	}
	return gems, true, nil
}
