package attributes

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// LoadYAML decodes a YAML (or JSON) attribute document. Key order is taken
// from the document itself, so ordered sections such as load_gems keep the
// order the author wrote them in.
func LoadYAML(name string, content []byte) (*Mapping, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, NewLoadError(name, err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return NewMapping(), nil
	}

	root := doc.Content[0]
	if root.Kind == yaml.AliasNode {
		root = root.Alias
	}
	if root.Kind != yaml.MappingNode {
		return nil, NewLoadError(name, fmt.Errorf("top level must be a mapping, got %s", nodeKindName(root.Kind)))
	}

	m, err := yamlMapping("", root)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// LoadYAMLFile reads and decodes a YAML or JSON attribute file.
func LoadYAMLFile(path string) (*Mapping, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, NewLoadError(path, err)
	}
	return LoadYAML(path, content)
}

func yamlMapping(path string, node *yaml.Node) (*Mapping, error) {
	explicit := make(map[string]bool, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		if k := node.Content[i]; k.ShortTag() != "!!merge" {
			explicit[k.Value] = true
		}
	}

	m := NewMapping()
	merged := make(map[string]bool)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]

		// Merge keys (<<: *anchor or <<: [*a, *b]) splice anchored mappings
		// in place. Explicit keys of this mapping win, then earlier anchors.
		if keyNode.ShortTag() == "!!merge" {
			sources, err := mergeSources(path, valNode)
			if err != nil {
				return nil, err
			}
			for _, src := range sources {
				base, err := yamlMapping(path, src)
				if err != nil {
					return nil, err
				}
				for _, p := range base.Pairs() {
					if explicit[p.Key] || merged[p.Key] {
						continue
					}
					m.Set(p.Key, p.Value)
					merged[p.Key] = true
				}
			}
			continue
		}

		key := keyNode.Value
		childPath := joinPath(path, key)
		v, err := yamlValue(childPath, valNode)
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

func mergeSources(path string, node *yaml.Node) ([]*yaml.Node, error) {
	if node.Kind == yaml.AliasNode {
		node = node.Alias
	}
	switch node.Kind {
	case yaml.MappingNode:
		return []*yaml.Node{node}, nil
	case yaml.SequenceNode:
		out := make([]*yaml.Node, 0, len(node.Content))
		for _, child := range node.Content {
			if child.Kind == yaml.AliasNode {
				child = child.Alias
			}
			if child.Kind != yaml.MappingNode {
				return nil, NewLoadError(joinPath(path, "<<"), fmt.Errorf("merge value must be a mapping, got %s", nodeKindName(child.Kind)))
			}
			out = append(out, child)
		}
		return out, nil
	default:
		return nil, NewLoadError(joinPath(path, "<<"), fmt.Errorf("merge value must be a mapping, got %s", nodeKindName(node.Kind)))
	}
}

func yamlValue(path string, node *yaml.Node) (Value, error) {
	if node.Kind == yaml.AliasNode {
		node = node.Alias
	}

	switch node.Kind {
	case yaml.MappingNode:
		m, err := yamlMapping(path, node)
		if err != nil {
			return Value{}, err
		}
		return Map(m), nil

	case yaml.SequenceNode:
		elems := make([]Value, 0, len(node.Content))
		for i, child := range node.Content {
			v, err := yamlValue(fmt.Sprintf("%s[%d]", path, i), child)
			if err != nil {
				return Value{}, err
			}
			if v.IsAbsent() {
				continue
			}
			if v.Kind() == KindList || v.Kind() == KindHandlers {
				return Value{}, NewTypeMismatch(fmt.Sprintf("%s[%d]", path, i), KindString, v.Kind())
			}
			elems = append(elems, v)
		}
		return sequence(path, elems)

	case yaml.ScalarNode:
		return yamlScalar(path, node)

	default:
		return Value{}, NewLoadError(path, fmt.Errorf("unsupported node kind %s", nodeKindName(node.Kind)))
	}
}

func yamlScalar(path string, node *yaml.Node) (Value, error) {
	switch node.ShortTag() {
	case "!!null":
		return Value{}, nil
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return Value{}, NewLoadError(path, err)
		}
		return Bool(b), nil
	case "!!int":
		var n int64
		if err := node.Decode(&n); err != nil {
			return Value{}, NewLoadError(path, err)
		}
		return Int(n), nil
	case "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return Value{}, NewLoadError(path, err)
		}
		return String(floatString(f)), nil
	default:
		return String(node.Value), nil
	}
}

func nodeKindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "kind " + strconv.Itoa(int(k))
	}
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}
