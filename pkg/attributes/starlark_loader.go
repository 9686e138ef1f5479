package attributes

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// StarlarkLoader evaluates Starlark attribute scripts. Every public global
// the script defines becomes a top-level attribute; globals are taken in
// sorted order, while dicts keep their insertion order.
type StarlarkLoader struct {
	timeout time.Duration
}

// NewStarlarkLoader creates a loader that aborts scripts running longer
// than timeout. A zero timeout means 30 seconds.
func NewStarlarkLoader(timeout time.Duration) *StarlarkLoader {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &StarlarkLoader{timeout: timeout}
}

// LoadFile reads and evaluates a .star file.
func (l *StarlarkLoader) LoadFile(ctx context.Context, path string) (*Mapping, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, NewLoadError(path, err)
	}
	return l.LoadString(ctx, path, string(content))
}

// LoadString evaluates script and converts its globals.
func (l *StarlarkLoader) LoadString(ctx context.Context, name, script string) (*Mapping, error) {
	evalCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name:  "clientrb",
		Print: func(_ *starlark.Thread, _ string) {},
	}
	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}

	type outcome struct {
		globals starlark.StringDict
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		globals, err := starlark.ExecFile(thread, name, script, predeclared)
		done <- outcome{globals: globals, err: err}
	}()

	var res outcome
	select {
	case <-evalCtx.Done():
		thread.Cancel(evalCtx.Err().Error())
		<-done
		return nil, NewLoadError(name, fmt.Errorf("starlark execution aborted: %w", evalCtx.Err()))
	case res = <-done:
	}
	if res.err != nil {
		return nil, NewLoadError(name, res.err)
	}

	m := NewMapping()
	for _, key := range res.globals.Keys() {
		if key == "" || key[0] == '_' {
			continue
		}
		val := res.globals[key]
		if _, ok := val.(starlark.Callable); ok {
			continue
		}
		v, err := starlarkValue(key, val)
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

func starlarkValue(path string, v starlark.Value) (Value, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return Value{}, nil
	case starlark.Bool:
		return Bool(bool(val)), nil
	case starlark.Int:
		n, ok := val.Int64()
		if !ok {
			return Value{}, NewLoadError(path, fmt.Errorf("integer too large"))
		}
		return Int(n), nil
	case starlark.Float:
		return String(floatString(float64(val))), nil
	case starlark.String:
		return String(string(val)), nil
	case *starlark.List:
		elems := make([]starlark.Value, val.Len())
		for i := range elems {
			elems[i] = val.Index(i)
		}
		return starlarkSequence(path, elems)
	case starlark.Tuple:
		return starlarkSequence(path, val)
	case *starlark.Dict:
		m := NewMapping()
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return Value{}, NewLoadError(path, fmt.Errorf("dict key must be string, got %s", item[0].Type()))
			}
			child, err := starlarkValue(joinPath(path, string(key)), item[1])
			if err != nil {
				return Value{}, err
			}
			if child.IsAbsent() {
				continue
			}
			m.Set(string(key), child)
		}
		return Map(m), nil
	case *starlarkstruct.Struct:
		m := NewMapping()
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			child, err := starlarkValue(joinPath(path, name), attr)
			if err != nil {
				return Value{}, err
			}
			if child.IsAbsent() {
				continue
			}
			m.Set(name, child)
		}
		return Map(m), nil
	default:
		return Value{}, NewLoadError(path, fmt.Errorf("unsupported starlark type: %s", v.Type()))
	}
}

func starlarkSequence(path string, items []starlark.Value) (Value, error) {
	elems := make([]Value, 0, len(items))
	for i, item := range items {
		elemPath := fmt.Sprintf("%s[%d]", path, i)
		v, err := starlarkValue(elemPath, item)
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
}
