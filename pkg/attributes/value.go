package attributes

import (
	"fmt"
	"strconv"
)

// Kind identifies which variant a Value holds.
type Kind int

const (
	// KindAbsent is the zero Kind; the key is not set.
	KindAbsent Kind = iota

	// KindString holds a plain string (symbols are carried as strings).
	KindString

	// KindBool holds a boolean.
	KindBool

	// KindInt holds an integer.
	KindInt

	// KindList holds an ordered list of strings.
	KindList

	// KindHandlers holds an ordered list of handler specifications.
	KindHandlers

	// KindMapping holds a nested ordered mapping.
	KindMapping
)

// String returns the kind name used in error messages.
func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindList:
		return "list"
	case KindHandlers:
		return "handler list"
	case KindMapping:
		return "mapping"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// HandlerSpec describes a handler object to instantiate and register.
type HandlerSpec struct {
	// ClassName is the fully qualified class to instantiate (e.g. "SimpleReport::UpdatedResources").
	ClassName string `json:"class_name" validate:"required"`

	// Arguments are rendered verbatim inside the constructor call.
	Arguments []string `json:"arguments,omitempty"`
}

// GemSpec is one entry of the load_gems mapping.
type GemSpec struct {
	// Name is the gem to install.
	Name string `json:"name" validate:"required"`

	// RequireName is the path passed to require; defaults to Name.
	RequireName string `json:"require_name" validate:"required"`

	// Version optionally pins the installed gem.
	Version string `json:"version,omitempty"`
}

// Value is a tagged union over the attribute kinds. The zero Value is absent.
type Value struct {
	kind     Kind
	str      string
	boolean  bool
	integer  int64
	list     []string
	handlers []HandlerSpec
	mapping  *Mapping
}

// String returns a string value.
func String(s string) Value {
	return Value{kind: KindString, str: s}
}

// Bool returns a boolean value.
func Bool(b bool) Value {
	return Value{kind: KindBool, boolean: b}
}

// Int returns an integer value.
func Int(n int64) Value {
	return Value{kind: KindInt, integer: n}
}

// List returns a list value. The slice is copied.
func List(items ...string) Value {
	return Value{kind: KindList, list: append([]string{}, items...)}
}

// Handlers returns a handler list value. The slice is copied.
func Handlers(specs ...HandlerSpec) Value {
	cp := make([]HandlerSpec, len(specs))
	for i, s := range specs {
		cp[i] = HandlerSpec{ClassName: s.ClassName, Arguments: append([]string{}, s.Arguments...)}
	}
	return Value{kind: KindHandlers, handlers: cp}
}

// Map returns a mapping value.
func Map(m *Mapping) Value {
	if m == nil {
		m = NewMapping()
	}
	return Value{kind: KindMapping, mapping: m}
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsAbsent reports whether v is the absent sentinel.
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// AsString returns the string payload and whether v is a string.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsBool returns the boolean payload and whether v is a bool.
func (v Value) AsBool() (bool, bool) { return v.boolean, v.kind == KindBool }

// AsInt returns the integer payload and whether v is an int.
func (v Value) AsInt() (int64, bool) { return v.integer, v.kind == KindInt }

// AsList returns a copy of the list payload and whether v is a list.
func (v Value) AsList() ([]string, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return append([]string{}, v.list...), true
}

// AsHandlers returns a copy of the handler payload and whether v is a handler list.
func (v Value) AsHandlers() ([]HandlerSpec, bool) {
	if v.kind != KindHandlers {
		return nil, false
	}
	return Handlers(v.handlers...).handlers, true
}

// AsMapping returns the mapping payload and whether v is a mapping.
func (v Value) AsMapping() (*Mapping, bool) { return v.mapping, v.kind == KindMapping }

// GoString renders v for debugging and test failure output.
func (v Value) GoString() string {
	switch v.kind {
	case KindString:
		return strconv.Quote(v.str)
	case KindBool:
		return strconv.FormatBool(v.boolean)
	case KindInt:
		return strconv.FormatInt(v.integer, 10)
	case KindList:
		return fmt.Sprintf("%q", v.list)
	case KindHandlers:
		return fmt.Sprintf("%+v", v.handlers)
	case KindMapping:
		return fmt.Sprintf("mapping(%d keys)", v.mapping.Len())
	default:
		return "<absent>"
	}
}
