package attributes

import (
	"fmt"
	"strconv"
)

// sequence assembles a list value from decoded elements. Elements must be
// all scalars or all mappings; a list of mappings is read as handler specs.
func sequence(path string, elems []Value) (Value, error) {
	if len(elems) == 0 {
		return List(), nil
	}

	if _, ok := elems[0].AsMapping(); ok {
		specs := make([]HandlerSpec, 0, len(elems))
		for i, e := range elems {
			m, ok := e.AsMapping()
			if !ok {
				return Value{}, NewTypeMismatch(fmt.Sprintf("%s[%d]", path, i), KindMapping, e.Kind())
			}
			spec, err := handlerFromMapping(fmt.Sprintf("%s[%d]", path, i), m)
			if err != nil {
				return Value{}, err
			}
			specs = append(specs, spec)
		}
		return Handlers(specs...), nil
	}

	items := make([]string, 0, len(elems))
	for i, e := range elems {
		s, err := scalarString(fmt.Sprintf("%s[%d]", path, i), e)
		if err != nil {
			return Value{}, err
		}
		items = append(items, s)
	}
	return List(items...), nil
}

// handlerFromMapping reads {class|class_name, arguments}. A missing class is
// left empty so the accessor can report MalformedHandlerSpec with context.
func handlerFromMapping(path string, m *Mapping) (HandlerSpec, error) {
	var spec HandlerSpec
	for _, key := range []string{"class", "class_name"} {
		v, ok := m.Get(key)
		if !ok {
			continue
		}
		s, ok := v.AsString()
		if !ok {
			return spec, NewTypeMismatch(path+"."+key, KindString, v.Kind())
		}
		spec.ClassName = s
		break
	}

	if v, ok := m.Get("arguments"); ok {
		switch v.Kind() {
		case KindList:
			spec.Arguments, _ = v.AsList()
		case KindHandlers:
			if hs, _ := v.AsHandlers(); len(hs) > 0 {
				return spec, NewTypeMismatch(path+".arguments", KindList, KindHandlers)
			}
		default:
			s, err := scalarString(path+".arguments", v)
			if err != nil {
				return spec, err
			}
			spec.Arguments = []string{s}
		}
	}
	return spec, nil
}

// scalarString formats a scalar value for use as a list element.
func scalarString(path string, v Value) (string, error) {
	switch v.Kind() {
	case KindString:
		s, _ := v.AsString()
		return s, nil
	case KindBool:
		b, _ := v.AsBool()
		return strconv.FormatBool(b), nil
	case KindInt:
		n, _ := v.AsInt()
		return strconv.FormatInt(n, 10), nil
	default:
		return "", NewTypeMismatch(path, KindString, v.Kind())
	}
}

// floatString formats a decoded float the way it would be written by hand.
func floatString(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Export converts the tree to plain Go values for schema validation and JSON
// output. Handler specs become {"class": ..., "arguments": [...]}.
func (t *Tree) Export() map[string]interface{} {
	return exportMapping(t.root)
}

func exportMapping(m *Mapping) map[string]interface{} {
	out := make(map[string]interface{}, m.Len())
	for _, p := range m.Pairs() {
		out[p.Key] = exportValue(p.Value)
	}
	return out
}

func exportValue(v Value) interface{} {
	switch v.Kind() {
	case KindString:
		s, _ := v.AsString()
		return s
	case KindBool:
		b, _ := v.AsBool()
		return b
	case KindInt:
		n, _ := v.AsInt()
		return n
	case KindList:
		items, _ := v.AsList()
		out := make([]interface{}, len(items))
		for i, s := range items {
			out[i] = s
		}
		return out
	case KindHandlers:
		specs, _ := v.AsHandlers()
		out := make([]interface{}, len(specs))
		for i, s := range specs {
			args := make([]interface{}, len(s.Arguments))
			for j, a := range s.Arguments {
				args[j] = a
			}
			out[i] = map[string]interface{}{"class": s.ClassName, "arguments": args}
		}
		return out
	case KindMapping:
		m, _ := v.AsMapping()
		return exportMapping(m)
	default:
		return nil
	}
}
