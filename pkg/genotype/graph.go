// Package genotype converts operation-weight matrices into discrete
// architectures: parsed genotypes, directed cell graphs, and the canonical
// NAS-Bench-201 encodings consumed by accuracy predictors.
package genotype

import "fmt"

// Vertex types reserved for the graph encoding. Operation vertices start
// at OpTypeOffset.
const (
	StartType    = 0
	EndType      = 1
	OpTypeOffset = 2
)

// Graph is a small directed graph with typed vertices. Vertex ids are
// dense, insertion ordered.
type Graph struct {
	types []int
	out   [][]int
	in    [][]int
}

// NewGraph creates a graph with n untyped vertices and no edges.
func NewGraph(n int) *Graph {
	return &Graph{
		types: make([]int, n),
		out:   make([][]int, n),
		in:    make([][]int, n),
	}
}

func (g *Graph) NumVertices() int { return len(g.types) }

func (g *Graph) Type(v int) int { return g.types[v] }

func (g *Graph) SetType(v, t int) { g.types[v] = t }

// Types returns a copy of the vertex type vector.
func (g *Graph) Types() []int {
	out := make([]int, len(g.types))
	copy(out, g.types)
	return out
}

func (g *Graph) AddEdge(from, to int) {
	g.out[from] = append(g.out[from], to)
	g.in[to] = append(g.in[to], from)
}

func (g *Graph) InDegree(v int) int { return len(g.in[v]) }

func (g *Graph) OutDegree(v int) int { return len(g.out[v]) }

// Successors returns the vertices reachable from v by one edge.
func (g *Graph) Successors(v int) []int {
	out := make([]int, len(g.out[v]))
	copy(out, g.out[v])
	return out
}

// IsDAG reports whether the graph has no directed cycle, by Kahn's
// topological ordering.
func (g *Graph) IsDAG() bool {
	n := g.NumVertices()
	indeg := make([]int, n)
	for v := 0; v < n; v++ {
		indeg[v] = len(g.in[v])
	}

	queue := make([]int, 0, n)
	for v := 0; v < n; v++ {
		if indeg[v] == 0 {
			queue = append(queue, v)
		}
	}

	seen := 0
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		seen++
		for _, w := range g.out[v] {
			indeg[w]--
			if indeg[w] == 0 {
				queue = append(queue, w)
			}
		}
	}
	return seen == n
}

// DecodeRows builds a directed graph from adjacency-list rows of the form
// [vertex_type, incoming_bits...]. Every interior vertex i is connected to
// its successor i+1, and an edge j -> i is added for each set incoming bit.
// Returns the graph and its vertex count.
func DecodeRows(rows [][]int) (*Graph, int, error) {
	n := len(rows)
	if n == 0 {
		return nil, 0, fmt.Errorf("empty graph rows")
	}

	g := NewGraph(n)
	for i, node := range rows {
		if len(node) == 0 {
			return nil, 0, fmt.Errorf("graph row %d is empty", i)
		}
		g.SetType(i, node[0])

		if i < n-2 && i > 0 {
			g.AddEdge(i, i+1)
		}
		for j, bit := range node[1:] {
			if bit == 1 {
				if j >= n {
					return nil, 0, fmt.Errorf("graph row %d references vertex %d, graph has %d", i, j, n)
				}
				g.AddEdge(j, i)
			}
		}
	}
	return g, n, nil
}

// IsValidDAG reports whether g is an acyclic computation graph with exactly
// one start and one end vertex, where only the start has no inputs and only
// the end has no outputs.
func IsValidDAG(g *Graph) bool {
	if !g.IsDAG() {
		return false
	}
	nStart, nEnd := 0, 0
	for v := 0; v < g.NumVertices(); v++ {
		switch g.Type(v) {
		case StartType:
			nStart++
		case EndType:
			nEnd++
		}
		if g.InDegree(v) == 0 && g.Type(v) != StartType {
			return false
		}
		if g.OutDegree(v) == 0 && g.Type(v) != EndType {
			return false
		}
	}
	return nStart == 1 && nEnd == 1
}
