package genotype

import (
	"strings"
	"testing"
)

func row(ops ...[]float64) [][]float64 { return ops }

func TestParseSelectsTopEdgesAndOps(t *testing.T) {
	// Node 0: edge 1 is strongest (0.9 on op 2), edge 0 weaker (0.6 on op 1).
	// Node 1: edges 0 and 2 dominate edge 1.
	normalized := [][][]float64{
		row(
			[]float64{0.2, 0.6, 0.2},
			[]float64{0.05, 0.05, 0.9},
		),
		row(
			[]float64{0.7, 0.2, 0.1},
			[]float64{0.34, 0.33, 0.33},
			[]float64{0.1, 0.8, 0.1},
		),
	}
	prims := []string{"none", "skip_connect", "nor_conv_1x1"}

	geno := Parse(normalized, 2, prims)
	if len(geno) != 2 {
		t.Fatalf("expected 2 node genes, got %d", len(geno))
	}

	if geno[0][0] != (Gene{Op: "nor_conv_1x1", Edge: 1}) {
		t.Errorf("node 0 strongest gene = %+v", geno[0][0])
	}
	if geno[0][1] != (Gene{Op: "skip_connect", Edge: 0}) {
		t.Errorf("node 0 second gene = %+v", geno[0][1])
	}

	if geno[1][0] != (Gene{Op: "skip_connect", Edge: 2}) {
		t.Errorf("node 1 strongest gene = %+v", geno[1][0])
	}
	if geno[1][1] != (Gene{Op: "none", Edge: 0}) {
		t.Errorf("node 1 second gene = %+v", geno[1][1])
	}
}

func TestParseTieResolvesToLowerEdge(t *testing.T) {
	normalized := [][][]float64{
		row(
			[]float64{0.5, 0.5},
			[]float64{0.5, 0.5},
			[]float64{0.5, 0.5},
		),
	}
	geno := Parse(normalized, 2, []string{"a", "b"})
	if geno[0][0].Edge != 0 || geno[0][1].Edge != 1 {
		t.Errorf("tie order: got edges %d, %d", geno[0][0].Edge, geno[0][1].Edge)
	}
}

func TestParseCapsKAtRowWidth(t *testing.T) {
	normalized := [][][]float64{
		row([]float64{0.9, 0.1}),
	}
	geno := Parse(normalized, 2, []string{"a", "b"})
	if len(geno[0]) != 1 {
		t.Fatalf("expected 1 gene for 1-edge row, got %d", len(geno[0]))
	}
}

func TestDecodeRowsWiring(t *testing.T) {
	rows := [][]int{
		{StartType},
		{3, 1},
		{4, 1, 0},
		{EndType, 0, 1, 1},
	}
	g, n, err := DecodeRows(rows)
	if err != nil {
		t.Fatalf("DecodeRows: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected 4 vertices, got %d", n)
	}

	// Interior chain: vertex 1 connects to 2. Bits: 0->1, 0->2, 1->3, 2->3.
	if g.OutDegree(0) != 2 {
		t.Errorf("vertex 0 out degree = %d", g.OutDegree(0))
	}
	if g.InDegree(3) != 2 {
		t.Errorf("vertex 3 in degree = %d", g.InDegree(3))
	}
	found := false
	for _, w := range g.Successors(1) {
		if w == 2 {
			found = true
		}
	}
	if !found {
		t.Error("missing interior chain edge 1 -> 2")
	}
}

func TestIsValidDAGRejectsCycle(t *testing.T) {
	g := NewGraph(3)
	g.SetType(0, StartType)
	g.SetType(1, 2)
	g.SetType(2, EndType)
	g.AddEdge(0, 1)
	g.AddEdge(1, 2)
	g.AddEdge(2, 1)
	if IsValidDAG(g) {
		t.Error("cyclic graph reported valid")
	}
}

func TestIsValidDAGRejectsDanglingVertex(t *testing.T) {
	g := NewGraph(3)
	g.SetType(0, StartType)
	g.SetType(1, 2)
	g.SetType(2, EndType)
	g.AddEdge(0, 2)
	// Vertex 1 has no inputs and is not the start vertex.
	g.AddEdge(1, 2)
	if IsValidDAG(g) {
		t.Error("graph with sourceless interior vertex reported valid")
	}
}

func TestBuildRowsRoundTrip(t *testing.T) {
	geno := Genotype{
		{{Op: "nor_conv_3x3", Edge: 1}, {Op: "skip_connect", Edge: 0}},
		{{Op: "avg_pool_3x3", Edge: 2}, {Op: "none", Edge: 0}},
		{{Op: "nor_conv_1x1", Edge: 3}, {Op: "skip_connect", Edge: 1}},
	}

	rows, err := BuildRows(geno, PrimitivesNASBench201)
	if err != nil {
		t.Fatalf("BuildRows: %v", err)
	}
	if len(rows) != 8 {
		t.Fatalf("expected 8 rows, got %d", len(rows))
	}
	if rows[0][0] != StartType {
		t.Errorf("first row type = %d", rows[0][0])
	}
	if rows[7][0] != EndType {
		t.Errorf("last row type = %d", rows[7][0])
	}
	// nor_conv_3x3 is primitive 3, encoded at offset 2.
	if rows[1][0] != 3+OpTypeOffset {
		t.Errorf("first op vertex type = %d", rows[1][0])
	}

	g, n, err := DecodeRows(rows)
	if err != nil {
		t.Fatalf("DecodeRows: %v", err)
	}
	if n != 8 {
		t.Fatalf("decoded %d vertices", n)
	}
	if !IsValidNASBench201(g) {
		t.Error("round-tripped graph is not a valid cell")
	}
}

func TestBuildRowsUnknownPrimitive(t *testing.T) {
	geno := Genotype{{{Op: "sep_conv_7x7", Edge: 0}}}
	if _, err := BuildRows(geno, PrimitivesNASBench201); err == nil {
		t.Fatal("expected error for unknown primitive")
	}
}

func TestGraphFromNormalized(t *testing.T) {
	// Three nodes with 2, 3 and 4 incoming edges; each row has one
	// dominant operation so the top-2 parse is unambiguous.
	normalized := [][][]float64{
		row(
			[]float64{0.025, 0.025, 0.025, 0.9, 0.025},
			[]float64{0.025, 0.9, 0.025, 0.025, 0.025},
		),
		row(
			[]float64{0.05, 0.05, 0.05, 0.05, 0.8},
			[]float64{0.2, 0.2, 0.2, 0.2, 0.2},
			[]float64{0.075, 0.075, 0.7, 0.075, 0.075},
		),
		row(
			[]float64{0.2, 0.2, 0.2, 0.2, 0.2},
			[]float64{0.9, 0.025, 0.025, 0.025, 0.025},
			[]float64{0.1, 0.1, 0.1, 0.6, 0.1},
			[]float64{0.25, 0.25, 0.25, 0.125, 0.125},
		),
	}

	g, err := GraphFromNormalized(normalized, PrimitivesNASBench201)
	if err != nil {
		t.Fatalf("GraphFromNormalized: %v", err)
	}
	if !IsValidNASBench201(g) {
		t.Fatal("discretized graph is not a valid cell")
	}
	// First gene of node 0 is nor_conv_3x3 on edge 0.
	if g.Type(1) != 3+OpTypeOffset {
		t.Errorf("first op vertex type = %d", g.Type(1))
	}
}

func TestGraphFromNormalizedRejectsShortCell(t *testing.T) {
	normalized := [][][]float64{
		row([]float64{0.9, 0.1}),
	}
	if _, err := GraphFromNormalized(normalized, []string{"a", "b"}); err == nil {
		t.Fatal("expected error for a cell with too few operations")
	}
}

func TestNASBench201String(t *testing.T) {
	geno := Genotype{
		{{Op: "nor_conv_3x3", Edge: 1}, {Op: "skip_connect", Edge: 0}},
		{{Op: "avg_pool_3x3", Edge: 2}, {Op: "none", Edge: 0}},
		{{Op: "nor_conv_1x1", Edge: 3}, {Op: "skip_connect", Edge: 1}},
	}
	rows, err := BuildRows(geno, PrimitivesNASBench201)
	if err != nil {
		t.Fatalf("BuildRows: %v", err)
	}
	g, _, err := DecodeRows(rows)
	if err != nil {
		t.Fatalf("DecodeRows: %v", err)
	}

	s, err := NASBench201String(g)
	if err != nil {
		t.Fatalf("NASBench201String: %v", err)
	}
	if strings.Count(s, "+") != 2 {
		t.Errorf("architecture string has %d segments: %s", strings.Count(s, "+")+1, s)
	}
	if !strings.HasPrefix(s, "|") || !strings.HasSuffix(s, "|") {
		t.Errorf("architecture string not delimited: %s", s)
	}
	for _, tag := range []string{"~0", "~1", "~2"} {
		if !strings.Contains(s, tag) {
			t.Errorf("architecture string missing edge tag %s: %s", tag, s)
		}
	}
}

func TestNASBench201MatrixShape(t *testing.T) {
	rows := [][]int{
		{StartType},
		{3, 1},
		{2, 1, 0},
		{4, 0, 1, 0},
		{2, 1, 0, 0, 0},
		{3, 0, 1, 0, 0, 0},
		{4, 0, 0, 1, 1, 0, 0},
		{EndType, 0, 0, 0, 0, 1, 1, 1},
	}
	g, _, err := DecodeRows(rows)
	if err != nil {
		t.Fatalf("DecodeRows: %v", err)
	}
	m, err := NASBench201Matrix(g)
	if err != nil {
		t.Fatalf("NASBench201Matrix: %v", err)
	}
	if m[1][0] != 1 { // vertex 1 type 3 rebased by the op offset
		t.Errorf("m[1][0] = %v", m[1][0])
	}
	if m[3][2] != 2 { // vertex 6 type 4 rebased
		t.Errorf("m[3][2] = %v", m[3][2])
	}
}
