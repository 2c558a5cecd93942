package schema

import (
	"fmt"
	"strings"
)

// Edge is a dependency From -> To: To must be created before From
type Edge struct {
	From     string
	To       string
	Property string
	Required bool
}

// Weight returns 1 for required edges and 0 for deferrable ones
func (e Edge) Weight() int {
	if e.Required {
		return 1
	}
	return 0
}

// DependencyGraph represents the dependencies between tables
type DependencyGraph struct {
	nodes []string
	index map[string]int
	edges map[string][]Edge // node -> dependencies
}

// NewDependencyGraph creates an empty dependency graph
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		index: make(map[string]int),
		edges: make(map[string][]Edge),
	}
}

// BuildDependencyGraph creates a graph of every table-owning entity, in registration order,
// with an edge per owning reference
func BuildDependencyGraph(reg *Registry) *DependencyGraph {
	g := NewDependencyGraph()

	var roots []*EntityMetadata
	for _, meta := range reg.All() {
		if meta.HasTable() {
			g.AddNode(meta.Name)
			roots = append(roots, meta)
		}
	}

	for _, meta := range roots {
		for _, prop := range meta.Properties() {
			if !prop.IsOwningReference() {
				continue
			}
			target, ok := reg.Get(prop.Target)
			if !ok {
				continue
			}
			if !target.IsRoot() {
				target, _ = reg.Get(target.Root)
			}
			g.AddEdge(meta.Name, target.Name, prop.Name, !prop.Nullable)
		}
	}
	return g
}

// AddNode adds a node; adding an existing node is a no-op
func (g *DependencyGraph) AddNode(name string) {
	if _, ok := g.index[name]; ok {
		return
	}
	g.index[name] = len(g.nodes)
	g.nodes = append(g.nodes, name)
}

// AddEdge records that from depends on to. Self references never constrain ordering and are ignored.
func (g *DependencyGraph) AddEdge(from, to, property string, required bool) {
	if from == to {
		return
	}
	g.AddNode(from)
	g.AddNode(to)

	for i, e := range g.edges[from] {
		if e.To == to {
			if required && !e.Required {
				g.edges[from][i].Required = true
				g.edges[from][i].Property = property
			}
			return
		}
	}
	g.edges[from] = append(g.edges[from], Edge{From: from, To: to, Property: property, Required: required})
}

// Nodes returns the nodes in insertion order
func (g *DependencyGraph) Nodes() []string {
	out := make([]string, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Edges returns the outgoing edges of a node
func (g *DependencyGraph) Edges(node string) []Edge {
	out := make([]Edge, len(g.edges[node]))
	copy(out, g.edges[node])
	return out
}

// GetDependencies returns all direct dependencies of a node
func (g *DependencyGraph) GetDependencies(node string) []string {
	deps := []string{}
	for _, e := range g.edges[node] {
		deps = append(deps, e.To)
	}
	return deps
}

// GetDependents returns all nodes that depend on the given node
func (g *DependencyGraph) GetDependents(node string) []string {
	dependents := []string{}
	for _, n := range g.nodes {
		for _, e := range g.edges[n] {
			if e.To == node {
				dependents = append(dependents, n)
				break
			}
		}
	}
	return dependents
}

// DetectCycles detects circular dependencies; with requiredOnly, deferrable edges are ignored
func (g *DependencyGraph) DetectCycles(requiredOnly bool) [][]string {
	var cycles [][]string
	visited := make(map[string]bool)
	recursionStack := make(map[string]bool)

	var dfs func(node string, path []string)
	dfs = func(node string, path []string) {
		visited[node] = true
		recursionStack[node] = true
		path = append(path, node)

		for _, e := range g.edges[node] {
			if requiredOnly && !e.Required {
				continue
			}
			if !visited[e.To] {
				dfs(e.To, path)
			} else if recursionStack[e.To] {
				for i, n := range path {
					if n == e.To {
						cycle := make([]string, len(path)-i)
						copy(cycle, path[i:])
						cycles = append(cycles, cycle)
						break
					}
				}
			}
		}

		recursionStack[node] = false
	}

	for _, node := range g.nodes {
		if !visited[node] {
			dfs(node, []string{})
		}
	}

	return cycles
}

// CommitOrderResult is the outcome of ordering a dependency graph
type CommitOrderResult struct {
	// Order lists nodes so that dependencies come first
	Order []string
	// Deferred lists nullable edges whose target was not yet created when the source was emitted
	Deferred []Edge
}

// Reverse returns the order in which tables can be dropped
func (r *CommitOrderResult) Reverse() []string {
	out := make([]string, len(r.Order))
	for i, n := range r.Order {
		out[len(r.Order)-1-i] = n
	}
	return out
}

// Calculate orders the graph so every dependency precedes its dependents.
//
// A cycle made only of required edges cannot be ordered and yields a SchemaDependencyError.
// Any other cycle is broken at a nullable edge: among the blocked nodes, the earliest one whose
// remaining dependencies are all nullable is emitted and those edges are reported as deferred.
func (g *DependencyGraph) Calculate() (*CommitOrderResult, error) {
	if cycles := g.DetectCycles(true); len(cycles) > 0 {
		return nil, &SchemaDependencyError{Cycle: cycles[0]}
	}

	emitted := make(map[string]bool, len(g.nodes))
	result := &CommitOrderResult{Order: make([]string, 0, len(g.nodes))}

	pending := func(node string) []Edge {
		var out []Edge
		for _, e := range g.edges[node] {
			if !emitted[e.To] {
				out = append(out, e)
			}
		}
		return out
	}

	for len(result.Order) < len(g.nodes) {
		next := ""
		var deferred []Edge

		for _, node := range g.nodes {
			if !emitted[node] && len(pending(node)) == 0 {
				next = node
				break
			}
		}

		if next == "" {
			for _, node := range g.nodes {
				if emitted[node] {
					continue
				}
				blocked := pending(node)
				deferrable := true
				for _, e := range blocked {
					if e.Required {
						deferrable = false
						break
					}
				}
				if deferrable {
					next = node
					deferred = blocked
					break
				}
			}
		}

		if next == "" {
			// unreachable once the required sub-graph is acyclic
			return nil, &SchemaDependencyError{}
		}

		emitted[next] = true
		result.Order = append(result.Order, next)
		result.Deferred = append(result.Deferred, deferred...)
	}

	return result, nil
}

// CalculateCommitOrder orders the tables of a resolved registry for creation
func CalculateCommitOrder(reg *Registry) (*CommitOrderResult, error) {
	return BuildDependencyGraph(reg).Calculate()
}

// formatCycles formats cycle information for error messages
func formatCycles(cycles [][]string) string {
	var b strings.Builder
	for i, cycle := range cycles {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(fmt.Sprintf("  Cycle %d: %s -> %s",
			i+1,
			strings.Join(cycle, " -> "),
			cycle[0])) // Complete the cycle
	}
	return b.String()
}

// DependencyReport contains the results of dependency analysis
type DependencyReport struct {
	TotalTables    int
	Dependencies   map[string][]string // table -> direct dependencies
	Dependents     map[string][]string // table -> tables that depend on it
	RequiredCycles [][]string
	Cycles         [][]string
	Order          []string
	Deferred       []Edge
	Err            error
}

// Analyze performs a complete dependency analysis of the graph
func (g *DependencyGraph) Analyze() *DependencyReport {
	report := &DependencyReport{
		TotalTables:    len(g.nodes),
		Dependencies:   make(map[string][]string),
		Dependents:     make(map[string][]string),
		RequiredCycles: g.DetectCycles(true),
		Cycles:         g.DetectCycles(false),
	}

	for _, name := range g.nodes {
		report.Dependencies[name] = g.GetDependencies(name)
		report.Dependents[name] = g.GetDependents(name)
	}

	result, err := g.Calculate()
	if err != nil {
		report.Err = err
		return report
	}
	report.Order = result.Order
	report.Deferred = result.Deferred
	return report
}

// String formats the dependency report
func (r *DependencyReport) String() string {
	var b strings.Builder

	b.WriteString("Dependency Analysis Report\n")
	b.WriteString(fmt.Sprintf("Total Tables: %d\n\n", r.TotalTables))

	if len(r.RequiredCycles) > 0 {
		b.WriteString("ERRORS:\n")
		b.WriteString("Cycles of required references:\n")
		b.WriteString(formatCycles(r.RequiredCycles))
		b.WriteString("\n\n")
	} else if len(r.Cycles) > 0 {
		b.WriteString("Cycles broken at nullable references:\n")
		b.WriteString(formatCycles(r.Cycles))
		b.WriteString("\n\n")
	}

	if len(r.Order) > 0 {
		b.WriteString("Commit Order (safe creation order):\n")
		for i, table := range r.Order {
			deps := r.Dependencies[table]
			if len(deps) > 0 {
				b.WriteString(fmt.Sprintf("  %d. %s (depends on: %s)\n",
					i+1, table, strings.Join(deps, ", ")))
			} else {
				b.WriteString(fmt.Sprintf("  %d. %s (no dependencies)\n", i+1, table))
			}
		}
	}

	if len(r.Deferred) > 0 {
		b.WriteString("\nDeferred references:\n")
		for _, e := range r.Deferred {
			b.WriteString(fmt.Sprintf("  %s.%s -> %s\n", e.From, e.Property, e.To))
		}
	}

	return b.String()
}
