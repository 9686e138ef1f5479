package converge

import (
	"fmt"
	"strings"
)

// EdgeType is the kind of relationship between two steps.
type EdgeType string

const (
	// EdgeRequire means the dependent runs only after the dependency succeeded.
	EdgeRequire EdgeType = "require"

	// EdgeNotify means the source queues a delayed action on the target when
	// the source changed.
	EdgeNotify EdgeType = "notify"
)

// Edge connects two steps in the graph.
type Edge struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Type EdgeType `json:"type"`
}

// Graph is the ordered execution graph of a plan.
type Graph struct {
	// Levels holds step IDs grouped by depth; within a level, declaration
	// order is preserved.
	Levels [][]string `json:"levels"`

	// Edges lists every require and notify edge.
	Edges []Edge `json:"edges"`
}

// Order flattens the levels into a single run order.
func (g *Graph) Order() []string {
	var out []string
	for _, level := range g.Levels {
		out = append(out, level...)
	}
	return out
}

// graphBuilder computes levels for a set of steps with Kahn's algorithm.
// Steps are indexed by declaration position so the result is deterministic.
type graphBuilder struct {
	ids      []string
	index    map[string]int
	forward  map[string][]string
	backward map[string][]string
	inDegree map[string]int
	edges    []Edge
	levels   [][]string
}

func newGraphBuilder() *graphBuilder {
	return &graphBuilder{
		index:    make(map[string]int),
		forward:  make(map[string][]string),
		backward: make(map[string][]string),
		inDegree: make(map[string]int),
	}
}

// buildGraph validates the steps, detects cycles and computes levels.
func buildGraph(steps []*Step) (*Graph, error) {
	b := newGraphBuilder()
	if err := b.initialize(steps); err != nil {
		return nil, err
	}
	if err := b.detectCycles(); err != nil {
		return nil, err
	}
	if err := b.computeLevels(); err != nil {
		return nil, err
	}
	return &Graph{Levels: b.levels, Edges: b.edges}, nil
}

func (b *graphBuilder) initialize(steps []*Step) error {
	for i, step := range steps {
		id := step.ID()
		if id == "" {
			return NewPermanentError("step has empty ID", nil).WithCode(ErrCodeInvalidGraph)
		}
		if _, exists := b.index[id]; exists {
			return NewPermanentError(fmt.Sprintf("duplicate step ID: %s", id), nil).
				WithCode(ErrCodeInvalidGraph)
		}
		b.index[id] = i
		b.ids = append(b.ids, id)
		b.inDegree[id] = 0
	}

	addEdge := func(from, to string, typ EdgeType) error {
		if _, exists := b.index[from]; !exists {
			return NewPermanentError(
				fmt.Sprintf("step %s references non-existent step %s", to, from), nil,
			).WithCode(ErrCodeInvalidGraph).WithResource(to)
		}
		if _, exists := b.index[to]; !exists {
			return NewPermanentError(
				fmt.Sprintf("step %s notifies non-existent step %s", from, to), nil,
			).WithCode(ErrCodeInvalidGraph).WithResource(from)
		}
		b.forward[from] = append(b.forward[from], to)
		b.backward[to] = append(b.backward[to], from)
		b.inDegree[to]++
		b.edges = append(b.edges, Edge{From: from, To: to, Type: typ})
		return nil
	}

	for _, step := range steps {
		for _, dep := range step.Requires {
			if err := addEdge(dep, step.ID(), EdgeRequire); err != nil {
				return err
			}
		}
		for _, target := range step.Notifies {
			if err := addEdge(step.ID(), target, EdgeNotify); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *graphBuilder) detectCycles() error {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var visit func(id string, path []string) []string
	visit = func(id string, path []string) []string {
		visited[id] = true
		onStack[id] = true
		path = append(path, id)
		for _, next := range b.forward[id] {
			if !visited[next] {
				if cycle := visit(next, path); cycle != nil {
					return cycle
				}
			} else if onStack[next] {
				for i, p := range path {
					if p == next {
						return append(append([]string{}, path[i:]...), next)
					}
				}
			}
		}
		onStack[id] = false
		return nil
	}

	for _, id := range b.ids {
		if visited[id] {
			continue
		}
		if cycle := visit(id, nil); cycle != nil {
			return NewPermanentError(
				fmt.Sprintf("circular dependency detected: %s", strings.Join(cycle, " -> ")), nil,
			).WithCode(ErrCodeCycle)
		}
	}
	return nil
}

func (b *graphBuilder) computeLevels() error {
	remaining := make(map[string]int, len(b.inDegree))
	for id, d := range b.inDegree {
		remaining[id] = d
	}

	var current []string
	for _, id := range b.ids {
		if remaining[id] == 0 {
			current = append(current, id)
		}
	}

	processed := 0
	for len(current) > 0 {
		b.levels = append(b.levels, current)
		processed += len(current)

		ready := make(map[string]bool)
		for _, id := range current {
			for _, next := range b.forward[id] {
				remaining[next]--
				if remaining[next] == 0 {
					ready[next] = true
				}
			}
		}

		// Next level keeps declaration order.
		var next []string
		for _, id := range b.ids {
			if ready[id] {
				next = append(next, id)
			}
		}
		current = next
	}

	if processed != len(b.ids) {
		return NewPermanentError("failed to order all steps", nil).WithCode(ErrCodeCycle)
	}
	return nil
}

// ToDOT renders the graph in Graphviz DOT format.
func (g *Graph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph converge {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, ids := range g.Levels {
		fmt.Fprintf(&sb, "  subgraph cluster_level_%d {\n", level)
		fmt.Fprintf(&sb, "    label=\"Level %d\";\n", level)
		sb.WriteString("    style=dashed;\n")
		for _, id := range ids {
			fmt.Fprintf(&sb, "    %q;\n", id)
		}
		sb.WriteString("  }\n\n")
	}

	for _, e := range g.Edges {
		fmt.Fprintf(&sb, "  %q -> %q [%s];\n", e.From, e.To, edgeStyle(e.Type))
	}

	sb.WriteString("}\n")
	return sb.String()
}

func edgeStyle(t EdgeType) string {
	switch t {
	case EdgeNotify:
		return "style=dashed, color=blue"
	default:
		return "style=solid, color=black"
	}
}
