package env

import "fmt"

// CellKind selects which alpha set of the search model the environment
// observes and mutates.
type CellKind int

const (
	CellNormal CellKind = iota
	CellReduce
)

func (k CellKind) String() string {
	switch k {
	case CellNormal:
		return "normal"
	case CellReduce:
		return "reduce"
	default:
		return fmt.Sprintf("CellKind(%d)", int(k))
	}
}

// ParseCellKind maps the wire representation of a cell kind to its enum
// value.
func ParseCellKind(s string) (CellKind, error) {
	switch s {
	case "normal":
		return CellNormal, nil
	case "reduce":
		return CellReduce, nil
	default:
		return 0, fmt.Errorf("cell kind %q is not supported", s)
	}
}

// Cell is the search cell graph the agent walks. Vertices 0 and 1 are the
// two input nodes, vertices 2..n-1 the intermediate nodes. Every pair of
// distinct vertices is connected except the two inputs, which never
// connect to each other.
type Cell struct {
	n   int
	adj [][]float64
}

// NewCell builds the cell graph for the given number of intermediate
// nodes.
func NewCell(intermediateNodes int) (*Cell, error) {
	if intermediateNodes < 1 {
		return nil, fmt.Errorf("cell needs at least 1 intermediate node, got %d", intermediateNodes)
	}
	n := intermediateNodes + 2
	adj := make([][]float64, n)
	for i := range adj {
		adj[i] = make([]float64, n)
		for j := range adj[i] {
			if i != j {
				adj[i][j] = 1
			}
		}
	}
	adj[0][1] = 0
	adj[1][0] = 0
	return &Cell{n: n, adj: adj}, nil
}

// Size returns the total vertex count, input nodes included.
func (c *Cell) Size() int { return c.n }

// Intermediate returns the number of intermediate nodes.
func (c *Cell) Intermediate() int { return c.n - 2 }

// Legal reports whether the agent may move from vertex u to vertex v.
func (c *Cell) Legal(u, v int) bool {
	if u < 0 || v < 0 || u >= c.n || v >= c.n {
		return false
	}
	return c.adj[u][v] > 0
}

// row exposes the adjacency row for observation encoding. Callers copy,
// never mutate.
func (c *Cell) row(v int) []float64 { return c.adj[v] }
