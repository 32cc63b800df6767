package ndkports

import (
	"container/heap"
	"fmt"
	"sort"

	"github.com/bits-and-blooms/bitset"
)

// Graph is the dependency graph between ports. Node ids follow sorted port
// names so that every traversal is deterministic.
type Graph struct {
	names []string
	index map[string]int
	deps  [][]int // deps[i]: ports that i depends on, sorted
}

// NewGraph builds the graph and rejects unknown dependencies.
func NewGraph(deps map[string][]string) (*Graph, error) {
	g := &Graph{index: make(map[string]int, len(deps))}
	for name := range deps {
		g.names = append(g.names, name)
	}
	sort.Strings(g.names)
	for i, name := range g.names {
		g.index[name] = i
	}
	g.deps = make([][]int, len(g.names))
	for i, name := range g.names {
		for _, dep := range deps[name] {
			j, ok := g.index[dep]
			if !ok {
				return nil, fmt.Errorf("port %s depends on unknown port %s", name, dep)
			}
			g.deps[i] = append(g.deps[i], j)
		}
		sort.Ints(g.deps[i])
	}
	return g, nil
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Validate returns a *DependencyCycleError when the graph is not a DAG.
func (g *Graph) Validate() error {
	_, err := g.BuildOrder()
	return err
}

// BuildOrder is a topological order, dependencies first, ties broken by
// name (Kahn's algorithm with a min-heap).
func (g *Graph) BuildOrder() ([]string, error) {
	n := len(g.names)
	pending := make([]int, n) // unbuilt dependencies per node
	dependents := make([][]int, n)
	for i, ds := range g.deps {
		pending[i] = len(ds)
		for _, d := range ds {
			dependents[d] = append(dependents[d], i)
		}
	}

	ready := &intMinHeap{}
	for i := 0; i < n; i++ {
		if pending[i] == 0 {
			heap.Push(ready, i)
		}
	}

	order := make([]string, 0, n)
	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		order = append(order, g.names[i])
		for _, dep := range dependents[i] {
			pending[dep]--
			if pending[dep] == 0 {
				heap.Push(ready, dep)
			}
		}
	}
	if len(order) != n {
		return nil, &DependencyCycleError{Cycle: g.findCycle()}
	}
	return order, nil
}

// findCycle extracts one cycle by DFS, starting from the smallest node id.
func (g *Graph) findCycle() []string {
	n := uint(len(g.names))
	visited := bitset.New(n)
	onStack := bitset.New(n)
	var stack []int

	var visit func(i int) []int
	visit = func(i int) []int {
		visited.Set(uint(i))
		onStack.Set(uint(i))
		stack = append(stack, i)
		for _, d := range g.deps[i] {
			if onStack.Test(uint(d)) {
				for k := len(stack) - 1; k >= 0; k-- {
					if stack[k] == d {
						return append(append([]int(nil), stack[k:]...), d)
					}
				}
			}
			if !visited.Test(uint(d)) {
				if c := visit(d); c != nil {
					return c
				}
			}
		}
		onStack.Clear(uint(i))
		stack = stack[:len(stack)-1]
		return nil
	}

	for i := range g.names {
		if visited.Test(uint(i)) {
			continue
		}
		if c := visit(i); c != nil {
			cycle := make([]string, len(c))
			for k, id := range c {
				cycle[k] = g.names[id]
			}
			return cycle
		}
	}
	return nil
}

// Closure returns roots plus everything they transitively depend on, in
// build order.
func (g *Graph) Closure(roots []string) ([]string, error) {
	order, err := g.BuildOrder()
	if err != nil {
		return nil, err
	}
	want := bitset.New(uint(len(g.names)))
	var mark func(i int)
	mark = func(i int) {
		if want.Test(uint(i)) {
			return
		}
		want.Set(uint(i))
		for _, d := range g.deps[i] {
			mark(d)
		}
	}
	for _, r := range roots {
		i, ok := g.index[r]
		if !ok {
			return nil, fmt.Errorf("unknown port %s", r)
		}
		mark(i)
	}
	var out []string
	for _, name := range order {
		if want.Test(uint(g.index[name])) {
			out = append(out, name)
		}
	}
	return out, nil
}

// Transitive lists what name depends on, directly or not, in build order.
func (g *Graph) Transitive(name string) ([]string, error) {
	all, err := g.Closure([]string{name})
	if err != nil {
		return nil, err
	}
	return all[:len(all)-1], nil
}
