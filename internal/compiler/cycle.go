package compiler

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/ir"
)

// Cycle is a dependency cycle between fields of a document template.
//
// Cycles are errors: a change on any member would re-resolve or re-derive
// the others forever. The runtime cascade quota only catches what this
// analysis cannot see, namely reference data that flips selections.
type Cycle struct {
	Path    []string `json:"path"`    // ["doc.a", "doc.b", "doc.a"]
	Message string   `json:"message"` // Human-readable description
}

// AnalyzeCycles performs static cycle analysis on a document's wiring.
//
// The algorithm:
//  1. Build a field -> dependent graph from resolver parameters, formula
//     operands, visible_when rules and aggregate contracts (row field ->
//     owner target)
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or a self-loop as a cycle
//
// Nodes are template paths ("receiving.pallets.net"). References that do not
// resolve are skipped; Validate reports them separately.
//
// A DAG returns an empty list.
func AnalyzeCycles(spec *ir.DocumentSpec) []Cycle {
	graph := make(dependencyGraph)
	buildDependencyGraph(graph, spec.Name, spec.Fields, spec.Groups, nil)

	sccs := tarjanSCC(graph)

	cycles := []Cycle{}
	for _, scc := range sccs {
		if len(scc) > 1 || slices.Contains(graph[scc[0]], scc[0]) {
			cycles = append(cycles, sccToCycle(scc, graph))
		}
	}
	slices.SortFunc(cycles, func(a, b Cycle) int {
		return strings.Compare(a.Path[0], b.Path[0])
	})
	return cycles
}

// dependencyGraph maps a field path to the paths that change when it changes.
type dependencyGraph map[string][]string

// templateScope resolves names the way rows do: own fields, then enclosing scopes.
type templateScope struct {
	path   string
	names  map[string]bool
	parent *templateScope
}

func (s *templateScope) resolve(name string) (string, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.names[name] {
			return cur.path + "." + name, true
		}
	}
	return "", false
}

func buildDependencyGraph(graph dependencyGraph, path string, fields []ir.FieldSpec, groups []ir.GroupSpec, parent *templateScope) {
	s := &templateScope{path: path, names: make(map[string]bool, len(fields)), parent: parent}
	for _, f := range fields {
		s.names[f.Name] = true
	}

	for _, f := range fields {
		node := path + "." + f.Name
		// Ensure the node exists even without edges.
		if graph[node] == nil {
			graph[node] = []string{}
		}
		for _, dep := range f.Dependencies() {
			if src, ok := s.resolve(dep); ok {
				graph[src] = append(graph[src], node)
			}
		}
	}

	for _, g := range groups {
		rowPath := path + "." + g.Name
		for _, agg := range g.Aggregates {
			if agg.Field == "" {
				continue
			}
			graph[rowPath+"."+agg.Field] = append(graph[rowPath+"."+agg.Field], path+"."+agg.Into)
		}
		buildDependencyGraph(graph, rowPath, g.Fields, g.Groups, s)
	}
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
//
// Nodes are visited in sorted order so results are deterministic.
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(graph dependencyGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// Root of an SCC: pop it off the stack.
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, node := range slices.Sorted(maps.Keys(graph)) {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// sccToCycle converts an SCC to a Cycle with a traversal path.
func sccToCycle(scc []string, graph dependencyGraph) Cycle {
	slices.Sort(scc)
	if len(scc) == 1 {
		field := scc[0]
		return Cycle{
			Path:    []string{field, field},
			Message: fmt.Sprintf("field depends on itself: %s", field),
		}
	}

	path := reconstructCyclePath(scc, graph)
	return Cycle{
		Path:    path,
		Message: fmt.Sprintf("dependency cycle: %s", strings.Join(path, " -> ")),
	}
}

// reconstructCyclePath walks edges inside the SCC from its first member
// until it returns to the start.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	members := make(map[string]bool, len(scc))
	for _, node := range scc {
		members[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if members[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}

		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}

	return path
}
