package attributes

import (
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
)

// CUELoader turns CUE attribute files into mappings. Field order follows
// the CUE source, which keeps ordered sections (load_gems) stable.
type CUELoader struct {
	ctx *cue.Context
}

// NewCUELoader creates a CUE loader with a fresh evaluation context.
func NewCUELoader() *CUELoader {
	return &CUELoader{ctx: cuecontext.New()}
}

// LoadFile compiles a single .cue file.
func (l *CUELoader) LoadFile(path string) (*Mapping, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, NewLoadError(path, err)
	}
	return l.LoadString(path, string(content))
}

// LoadString compiles inline CUE source; name is used in error positions.
func (l *CUELoader) LoadString(name, src string) (*Mapping, error) {
	val := l.ctx.CompileString(src, cue.Filename(name))
	if err := val.Err(); err != nil {
		return nil, NewLoadError(name, convertCUEError(err))
	}
	return l.fromValue(name, val)
}

// LoadDir loads a directory as a single CUE package instance.
func (l *CUELoader) LoadDir(dir string) (*Mapping, error) {
	instances := load.Instances([]string{dir}, nil)
	if len(instances) == 0 {
		return nil, NewLoadError(dir, fmt.Errorf("no CUE files found"))
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, NewLoadError(dir, convertCUEError(inst.Err))
	}
	val := l.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return nil, NewLoadError(dir, convertCUEError(err))
	}
	return l.fromValue(dir, val)
}

func (l *CUELoader) fromValue(name string, val cue.Value) (*Mapping, error) {
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return nil, NewLoadError(name, convertCUEError(err))
	}
	if val.IncompleteKind() != cue.StructKind {
		return nil, NewLoadError(name, fmt.Errorf("top level must be a struct, got %s", val.IncompleteKind()))
	}
	return cueStruct("", val)
}

func cueStruct(path string, val cue.Value) (*Mapping, error) {
	iter, err := val.Fields()
	if err != nil {
		return nil, NewLoadError(path, err)
	}
	m := NewMapping()
	for iter.Next() {
		key := iter.Selector().Unquoted()
		v, err := cueValue(joinPath(path, key), iter.Value())
		if err != nil {
			return nil, err
		}
		if v.IsAbsent() {
			continue
		}
		m.Set(key, v)
	}
	return m, nil
}

func cueValue(path string, val cue.Value) (Value, error) {
	switch val.Kind() {
	case cue.NullKind:
		return Value{}, nil
	case cue.BoolKind:
		b, err := val.Bool()
		if err != nil {
			return Value{}, NewLoadError(path, err)
		}
		return Bool(b), nil
	case cue.IntKind:
		n, err := val.Int64()
		if err != nil {
			return Value{}, NewLoadError(path, err)
		}
		return Int(n), nil
	case cue.FloatKind:
		f, err := val.Float64()
		if err != nil {
			return Value{}, NewLoadError(path, err)
		}
		return String(floatString(f)), nil
	case cue.StringKind:
		s, err := val.String()
		if err != nil {
			return Value{}, NewLoadError(path, err)
		}
		return String(s), nil
	case cue.StructKind:
		m, err := cueStruct(path, val)
		if err != nil {
			return Value{}, err
		}
		return Map(m), nil
	case cue.ListKind:
		list, err := val.List()
		if err != nil {
			return Value{}, NewLoadError(path, err)
		}
		var elems []Value
		for i := 0; list.Next(); i++ {
			elemPath := fmt.Sprintf("%s[%d]", path, i)
			v, err := cueValue(elemPath, list.Value())
			if err != nil {
				return Value{}, err
			}
			if v.IsAbsent() {
				continue
			}
			if v.Kind() == KindList || v.Kind() == KindHandlers {
				return Value{}, NewTypeMismatch(elemPath, KindString, v.Kind())
			}
			elems = append(elems, v)
		}
		return sequence(path, elems)
	default:
		return Value{}, NewLoadError(path, fmt.Errorf("unsupported CUE kind %s", val.Kind()))
	}
}

// convertCUEError flattens a CUE error list into one error carrying each
// message with its first source position.
func convertCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msg := strings.TrimSpace(cueerrors.Details(e, nil))
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			msg = fmt.Sprintf("%s:%d:%d: %s", pos[0].Filename(), pos[0].Line(), pos[0].Column(), msg)
		}
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
