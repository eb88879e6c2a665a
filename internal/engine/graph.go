package engine

import (
	"regexp"
	"sort"
	"strings"

	"github.com/terrane-io/terrane/internal/ir"
)

// DAG represents a directed acyclic graph of resources for dependency ordering.
type DAG struct {
	nodes    map[string]*dagNode
	order    []string // topological order (creation order)
	revOrder []string // reverse topological order (destruction order)
}

type dagNode struct {
	addr      string
	declIndex int      // position in declaration order, ties broken by it
	edges     []string // resources this node depends on
	revEdges  []string // resources that depend on this node
}

// BuildDAG constructs a dependency graph from resource declarations.
// It resolves both explicit depends_on entries and implicit ref:// references.
// A reference to an undeclared resource is an *UnresolvedReferenceError; a
// reference cycle is a *CycleError.
func BuildDAG(resources []*ir.Resource) (*DAG, error) {
	dag := &DAG{
		nodes: make(map[string]*dagNode),
	}

	for i, res := range resources {
		dag.nodes[res.Addr()] = &dagNode{addr: res.Addr(), declIndex: i}
	}

	// depends_on names the declared address; counted and for_each resources
	// expand into instances, so a base address fans out to all of them.
	instancesOf := make(map[string][]string)
	for _, res := range resources {
		addr := res.Addr()
		if i := strings.IndexByte(addr, '['); i > 0 {
			base := addr[:i]
			instancesOf[base] = append(instancesOf[base], addr)
		}
	}

	for _, res := range resources {
		node := dag.nodes[res.Addr()]

		for _, dep := range res.DependsOn {
			if _, ok := dag.nodes[dep]; ok {
				node.edges = append(node.edges, dep)
				continue
			}
			if instances, ok := instancesOf[dep]; ok {
				node.edges = append(node.edges, instances...)
				continue
			}
			return nil, &UnresolvedReferenceError{Subject: res.Addr(), Reference: dep}
		}

		for _, ref := range ExtractRefs(res.Properties) {
			depAddr, _ := RefToAddr(ref)
			if depAddr == "" {
				continue
			}
			if _, ok := dag.nodes[depAddr]; !ok {
				return nil, &UnresolvedReferenceError{Subject: res.Addr(), Reference: depAddr}
			}
			node.edges = append(node.edges, depAddr)
		}
	}

	return dag, dag.finish()
}

// BuildDAGFromState constructs a dependency graph from state resources, used
// for destroy ordering. Dangling dependencies are tolerated here: the state
// may legitimately reference resources that were already removed.
func BuildDAGFromState(resources []*ir.ResourceState) (*DAG, error) {
	dag := &DAG{
		nodes: make(map[string]*dagNode),
	}

	for i, res := range resources {
		dag.nodes[res.Addr()] = &dagNode{addr: res.Addr(), declIndex: i}
	}
	for _, res := range resources {
		node := dag.nodes[res.Addr()]
		for _, dep := range res.Dependencies {
			if _, ok := dag.nodes[dep]; ok {
				node.edges = append(node.edges, dep)
			}
		}
	}

	return dag, dag.finish()
}

// finish builds reverse edges and both orderings, detecting cycles.
func (d *DAG) finish() error {
	for addr, node := range d.nodes {
		for _, dep := range node.edges {
			d.nodes[dep].revEdges = append(d.nodes[dep].revEdges, addr)
		}
	}

	order, err := d.topoSort()
	if err != nil {
		return err
	}
	d.order = order

	d.revOrder = make([]string, len(order))
	for i, addr := range order {
		d.revOrder[len(order)-1-i] = addr
	}
	return nil
}

// CreationOrder returns resources in dependency-respecting creation order.
func (d *DAG) CreationOrder() []string {
	return d.order
}

// DestructionOrder returns resources in reverse dependency order (safe for deletion).
func (d *DAG) DestructionOrder() []string {
	return d.revOrder
}

// Dependencies returns the list of dependencies for a given address.
func (d *DAG) Dependencies(addr string) []string {
	if node, ok := d.nodes[addr]; ok {
		return node.edges
	}
	return nil
}

// TransitiveDeps returns every address reachable from addr along dependency
// edges, not including addr itself.
func (d *DAG) TransitiveDeps(addr string) []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(a string)
	walk = func(a string) {
		node, ok := d.nodes[a]
		if !ok {
			return
		}
		for _, dep := range node.edges {
			if !seen[dep] {
				seen[dep] = true
				out = append(out, dep)
				walk(dep)
			}
		}
	}
	walk(addr)
	return out
}

// topoSort performs Kahn's algorithm. Among nodes that are simultaneously
// ready it picks the earliest-declared one, so independent resources keep a
// stable declaration order.
func (d *DAG) topoSort() ([]string, error) {
	inDegree := make(map[string]int, len(d.nodes))
	for addr, node := range d.nodes {
		inDegree[addr] = len(node.edges)
	}

	var ready []string
	for addr, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, addr)
		}
	}

	var sorted []string
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			return d.nodes[ready[i]].declIndex < d.nodes[ready[j]].declIndex
		})
		addr := ready[0]
		ready = ready[1:]
		sorted = append(sorted, addr)

		for _, dependent := range d.nodes[addr].revEdges {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(sorted) != len(d.nodes) {
		return nil, &CycleError{Path: d.findCycle()}
	}
	return sorted, nil
}

// findCycle reconstructs one cycle path with a DFS keeping a recursion stack.
func (d *DAG) findCycle() []string {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var cycle []string
	var walk func(addr string, path []string) bool
	walk = func(addr string, path []string) bool {
		visited[addr] = true
		onStack[addr] = true
		path = append(path, addr)

		for _, dep := range d.nodes[addr].edges {
			if onStack[dep] {
				start := 0
				for i, a := range path {
					if a == dep {
						start = i
						break
					}
				}
				cycle = append(append([]string{}, path[start:]...), dep)
				return true
			}
			if !visited[dep] && walk(dep, path) {
				return true
			}
		}
		onStack[addr] = false
		return false
	}

	addrs := make([]string, 0, len(d.nodes))
	for addr := range d.nodes {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	for _, addr := range addrs {
		if !visited[addr] && walk(addr, nil) {
			break
		}
	}
	return cycle
}

// RefPrefix marks a placeholder string standing in for another resource's
// attribute. The configs loader produces these; the executor resolves them
// against live state.
const RefPrefix = "ref://"

// refPattern matches a placeholder anywhere inside a string, including an
// optional instance index: ref://aws_vpc.main/id, ref://null_resource.web[0]/id.
// The attribute stops at the first non-identifier character, so interpolated
// suffixes ("${aws_vpc.main.id}-a" -> ref://aws_vpc.main/id-a) stay outside
// the match.
var refPattern = regexp.MustCompile(`ref://[A-Za-z0-9_]+\.[A-Za-z0-9_-]+(?:\[[^\]]*\])?/[A-Za-z0-9_]+`)

// ExtractRefs extracts all ref:// placeholders from a property value.
func ExtractRefs(v any) []string {
	var refs []string
	switch val := v.(type) {
	case string:
		if strings.Contains(val, RefPrefix) {
			refs = append(refs, refPattern.FindAllString(val, -1)...)
		}
	case map[string]any:
		for _, v := range val {
			refs = append(refs, ExtractRefs(v)...)
		}
	case []any:
		for _, v := range val {
			refs = append(refs, ExtractRefs(v)...)
		}
	}
	return refs
}

// RefToAddr splits a ref:// placeholder into resource address and attribute.
// ref://aws_vpc.main/id -> ("aws_vpc.main", "id")
func RefToAddr(ref string) (addr, attr string) {
	if !strings.HasPrefix(ref, RefPrefix) {
		return "", ""
	}
	path := ref[len(RefPrefix):]
	parts := strings.SplitN(path, "/", 2)
	if len(parts) < 2 || parts[0] == "" {
		return "", ""
	}
	return parts[0], parts[1]
}
