package genotype

import (
	"fmt"
	"sort"
	"strings"
)

// PrimitivesNASBench201 is the candidate operation set of the NAS-Bench-201
// search space, in its canonical order.
var PrimitivesNASBench201 = []string{
	"none",
	"skip_connect",
	"nor_conv_1x1",
	"nor_conv_3x3",
	"avg_pool_3x3",
}

// Gene selects one operation on one incoming edge of a cell node.
type Gene struct {
	Op   string
	Edge int
}

// Genotype is the discrete architecture: per node, the chosen genes ordered
// by descending edge strength.
type Genotype [][]Gene

// Parse derives the genotype from softmax-normalized weight rows. Per node
// row it takes the top-1 operation weight of every incoming edge, keeps the
// k strongest edges by that value, and emits their (operation, edge) pairs.
// Ties resolve to the lower edge index. k is capped at the row width.
func Parse(normalized [][][]float64, k int, primitives []string) Genotype {
	gene := make(Genotype, 0, len(normalized))

	for _, edges := range normalized {
		edgeMax := make([]float64, len(edges))
		primIdx := make([]int, len(edges))
		for j, ops := range edges {
			best, bestIdx := ops[0], 0
			for o := 1; o < len(ops); o++ {
				if ops[o] > best {
					best, bestIdx = ops[o], o
				}
			}
			edgeMax[j] = best
			primIdx[j] = bestIdx
		}

		order := make([]int, len(edges))
		for j := range order {
			order[j] = j
		}
		sort.SliceStable(order, func(a, b int) bool {
			return edgeMax[order[a]] > edgeMax[order[b]]
		})

		top := k
		if top > len(order) {
			top = len(order)
		}

		nodeGene := make([]Gene, 0, top)
		for _, edgeIdx := range order[:top] {
			nodeGene = append(nodeGene, Gene{
				Op:   primitives[primIdx[edgeIdx]],
				Edge: edgeIdx,
			})
		}
		gene = append(gene, nodeGene)
	}
	return gene
}

// predictorConnections is the fixed incoming-bit pattern used when encoding
// a parsed cell for the accuracy predictor: row r wires operation vertex
// r+1 of the 8-vertex NAS-Bench-201 template.
var predictorConnections = [][]int{
	{1},
	{1, 0},
	{0, 1, 0},
	{1, 0, 0, 0},
	{0, 1, 0, 0, 0},
	{0, 0, 1, 1, 0, 0},
	{0, 0, 0, 0, 1, 1, 1},
}

// BuildRows flattens a genotype into the adjacency-list rows the predictor
// consumes: a start vertex, one typed vertex per gene in parse order, and
// an end vertex collecting the final connections.
func BuildRows(geno Genotype, primitives []string) ([][]int, error) {
	rows := [][]int{{StartType}}

	index := 0
	for _, node := range geno {
		for _, g := range node {
			op := opIndex(primitives, g.Op)
			if op < 0 {
				return nil, fmt.Errorf("unknown primitive %q", g.Op)
			}
			if index >= len(predictorConnections)-1 {
				return nil, fmt.Errorf("genotype has more than %d operations", len(predictorConnections)-1)
			}
			row := []int{op + OpTypeOffset}
			row = append(row, predictorConnections[index]...)
			rows = append(rows, row)
			index++
		}
	}

	stop := []int{EndType}
	stop = append(stop, predictorConnections[len(predictorConnections)-1]...)
	rows = append(rows, stop)
	return rows, nil
}

func opIndex(primitives []string, op string) int {
	for i, p := range primitives {
		if p == op {
			return i
		}
	}
	return -1
}

// GraphFromNormalized discretizes normalized alpha rows into the 8-vertex
// cell graph: the top-2 parse, the row flattening, and the decode.
func GraphFromNormalized(normalized [][][]float64, primitives []string) (*Graph, error) {
	geno := Parse(normalized, 2, primitives)
	rows, err := BuildRows(geno, primitives)
	if err != nil {
		return nil, fmt.Errorf("encoding architecture: %w", err)
	}
	g, _, err := DecodeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("decoding architecture graph: %w", err)
	}
	return g, nil
}

// nasBench201Vertices is the fixed vertex count of a NAS-Bench-201 cell
// graph including start and end.
const nasBench201Vertices = 8

// nasBench201Edges maps interior vertex order to (to_node, from_node)
// positions of the 4x4 operation matrix.
var nasBench201Edges = [][2]int{
	{1, 0}, {2, 0}, {2, 1}, {3, 0}, {3, 1}, {3, 2},
}

// IsValidNASBench201 reports whether g is a well-formed 8-vertex
// NAS-Bench-201 cell graph.
func IsValidNASBench201(g *Graph) bool {
	if !IsValidDAG(g) {
		return false
	}
	if g.NumVertices() != nasBench201Vertices {
		return false
	}
	for _, t := range g.Types()[1 : g.NumVertices()-1] {
		if t == StartType || t == EndType {
			return false
		}
	}
	return true
}

// NASBench201Matrix projects the interior vertex types of an 8-vertex cell
// graph onto the 4x4 operation matrix, with operation indices rebased to 0.
func NASBench201Matrix(g *Graph) ([4][4]float64, error) {
	var m [4][4]float64
	if g.NumVertices() != nasBench201Vertices {
		return m, fmt.Errorf("expected %d vertices, got %d", nasBench201Vertices, g.NumVertices())
	}
	for i, xy := range nasBench201Edges {
		m[xy[0]][xy[1]] = float64(g.Type(i+1) - OpTypeOffset)
	}
	return m, nil
}

// NASBench201String renders the canonical architecture string, e.g.
// |nor_conv_3x3~0|+|skip_connect~0|nor_conv_1x1~1|+|...|. Returns an error
// for graphs that are not valid NAS-Bench-201 cells.
func NASBench201String(g *Graph) (string, error) {
	if !IsValidNASBench201(g) {
		return "", fmt.Errorf("graph is not a valid cell")
	}
	m, err := NASBench201Matrix(g)
	if err != nil {
		return "", err
	}

	types := PrimitivesNASBench201
	var b strings.Builder
	for node := 1; node <= 3; node++ {
		if node > 1 {
			b.WriteString("+")
		}
		for from := 0; from < node; from++ {
			op := int(m[node][from])
			if op < 0 || op >= len(types) {
				return "", fmt.Errorf("operation index %d out of range", op)
			}
			fmt.Fprintf(&b, "|%s~%d", types[op], from)
		}
		b.WriteString("|")
	}
	return b.String(), nil
}
