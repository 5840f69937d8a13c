package env

import "sort"

// Observation is one encoded edge state: the two endpoint vertex ids,
// a salience flag, the adjacency row of the head vertex and the
// normalized operation weights of the edge.
type Observation []float64

// ObservationSize returns the length of every observation vector for a
// cell with the given intermediate node count and operation count.
func ObservationSize(intermediateNodes, numOps int) int {
	return 3 + (intermediateNodes + 2) + numOps
}

// stateSpace indexes every directed edge state of the cell. Each
// undirected cell edge contributes two observations, one per direction.
type stateSpace struct {
	states      []Observation
	edgeToIndex map[[2]int]int
	edgeToAlpha map[[2]int][2]int
}

// topEdges returns the indices of the k edges whose strongest operation
// carries the most weight. Ties resolve to the lower edge index.
func topEdges(edges [][]float64, k int) map[int]bool {
	type ranked struct {
		edge int
		max  float64
	}
	rs := make([]ranked, len(edges))
	for j, ops := range edges {
		m := ops[0]
		for _, w := range ops[1:] {
			if w > m {
				m = w
			}
		}
		rs[j] = ranked{edge: j, max: m}
	}
	sort.SliceStable(rs, func(a, b int) bool { return rs[a].max > rs[b].max })
	if k > len(rs) {
		k = len(rs)
	}
	top := make(map[int]bool, k)
	for _, r := range rs[:k] {
		top[r.edge] = true
	}
	return top
}

// buildStates encodes the normalized alpha rows into the edge state
// table. Row i describes cell vertex i+2 with incoming edges from
// vertices 0..i+1.
func buildStates(cell *Cell, normalized [][][]float64) *stateSpace {
	sp := &stateSpace{
		edgeToIndex: make(map[[2]int]int),
		edgeToAlpha: make(map[[2]int][2]int),
	}

	sIdx := 0
	for i, edges := range normalized {
		salient := topEdges(edges, 2)

		for j, ops := range edges {
			node := i + 2

			sp.edgeToIndex[[2]int{j, node}] = sIdx
			sp.edgeToIndex[[2]int{node, j}] = sIdx + 1
			sp.edgeToAlpha[[2]int{j, node}] = [2]int{i, j}
			sp.edgeToAlpha[[2]int{node, j}] = [2]int{i, j}

			flag := 0.0
			if salient[j] {
				flag = 1.0
			}

			sp.states = append(sp.states, encodeState(j, node, flag, cell.row(node), ops))
			sp.states = append(sp.states, encodeState(node, j, flag, cell.row(j), ops))
			sIdx += 2
		}
	}
	return sp
}

func encodeState(from, to int, flag float64, adjRow, ops []float64) Observation {
	obs := make(Observation, 0, 3+len(adjRow)+len(ops))
	obs = append(obs, float64(from), float64(to), flag)
	obs = append(obs, adjRow...)
	obs = append(obs, ops...)
	return obs
}
