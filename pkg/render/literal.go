package render

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/openfroyo/clientrb/pkg/attributes"
)

// CoerceSymbol normalizes a bare or colon-prefixed word to the symbol name
// without its colon. Surrounding quotes are removed before and after the
// single leading colon is stripped, so CoerceSymbol is idempotent over its
// own Symbol output.
func CoerceSymbol(s string) string {
	s = strings.TrimSpace(s)
	s = stripQuotes(s)
	s = strings.TrimPrefix(s, ":")
	s = stripQuotes(s)
	return s
}

// Symbol returns the symbol literal for s, e.g. ":debug".
func Symbol(s string) string {
	return ":" + CoerceSymbol(s)
}

func stripQuotes(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' || first == '\'') && first == last {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// symbolFor coerces value and rejects results with nothing left to emit.
func symbolFor(path, value string) (string, error) {
	name := CoerceSymbol(value)
	if name == "" {
		return "", &attributes.Error{
			Kind:    attributes.KindTypeMismatch,
			Path:    path,
			Message: fmt.Sprintf("expected symbol name, got %q", value),
		}
	}
	return ":" + name, nil
}

// Quote returns s as a double-quoted string literal. Backslashes, quotes,
// control characters and interpolation openers are escaped; everything
// else, glob characters included, is copied verbatim.
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '#':
			if i+1 < len(s) && (s[i+1] == '{' || s[i+1] == '$' || s[i+1] == '@') {
				b.WriteString(`\#`)
			} else {
				b.WriteByte('#')
			}
		default:
			if c < 0x20 || c == 0x7f {
				fmt.Fprintf(&b, `\x%02X`, c)
			} else {
				b.WriteByte(c)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}

// QuoteList renders items as an array of string literals with no spaces.
func QuoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = Quote(s)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

// literal renders a passthrough value.
func literal(path string, v attributes.Value) (string, error) {
	switch v.Kind() {
	case attributes.KindString:
		s, _ := v.AsString()
		return Quote(s), nil
	case attributes.KindBool:
		b, _ := v.AsBool()
		return strconv.FormatBool(b), nil
	case attributes.KindInt:
		n, _ := v.AsInt()
		return strconv.FormatInt(n, 10), nil
	case attributes.KindList:
		items, _ := v.AsList()
		return QuoteList(items), nil
	case attributes.KindMapping:
		m, _ := v.AsMapping()
		return hashLiteral(path, m)
	default:
		return "", attributes.NewTypeMismatch(path, attributes.KindString, v.Kind())
	}
}

func hashLiteral(path string, m *attributes.Mapping) (string, error) {
	entries := make([]string, 0, m.Len())
	for _, p := range m.Pairs() {
		val, err := literal(path+"."+p.Key, p.Value)
		if err != nil {
			return "", err
		}
		entries = append(entries, Quote(p.Key)+" => "+val)
	}
	return "{" + strings.Join(entries, ", ") + "}", nil
}
