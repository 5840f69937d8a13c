package env

import (
	"math"
	"testing"
)

func uniformAlphas(nodes, ops int) Alphas {
	a := make(Alphas, nodes)
	for i := range a {
		a[i] = make([][]float64, i+2)
		for j := range a[i] {
			a[i][j] = make([]float64, ops)
		}
	}
	return a
}

// rawFromDistribution builds raw weights whose softmax reproduces p.
func rawFromDistribution(p []float64) []float64 {
	raw := make([]float64, len(p))
	for i, v := range p {
		raw[i] = math.Log(v) + invSoftmaxC
	}
	return raw
}

func rowSum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}

func TestIncreaseMovesMass(t *testing.T) {
	a := uniformAlphas(1, 5)
	s := NewStore(a, 0.3)

	if !s.Increase(0, 0, 2) {
		t.Fatal("increase on a uniform row should apply")
	}

	norm := s.Normalized()[0][0]
	if norm[2] <= 0.2 {
		t.Errorf("target weight %v did not grow past uniform", norm[2])
	}
	if d := math.Abs(rowSum(norm) - 1.0); d > 1e-9 {
		t.Errorf("row sum off by %v after increase", d)
	}
}

func TestDecreaseMovesMass(t *testing.T) {
	a := uniformAlphas(1, 5)
	s := NewStore(a, 0.3)

	if !s.Decrease(0, 0, 1) {
		t.Fatal("decrease on a uniform row should apply")
	}

	norm := s.Normalized()[0][0]
	if norm[1] >= 0.2 {
		t.Errorf("target weight %v did not shrink below uniform", norm[1])
	}
	if norm[1] <= 0 {
		t.Errorf("target weight %v hit the floor", norm[1])
	}
	if d := math.Abs(rowSum(norm) - 1.0); d > 1e-9 {
		t.Errorf("row sum off by %v after decrease", d)
	}
}

func TestIncreaseClampsNearSaturation(t *testing.T) {
	a := uniformAlphas(1, 3)
	a[0][0] = rawFromDistribution([]float64{0.99, 0.005, 0.005})
	s := NewStore(a, 0.3)

	s.Increase(0, 0, 0)

	norm := s.Normalized()[0][0]
	if norm[0] > 0.99+1e-6 {
		t.Errorf("weight %v exceeded the saturation bound", norm[0])
	}
	if d := math.Abs(rowSum(norm) - 1.0); d > 1e-9 {
		t.Errorf("row sum off by %v after clamped increase", d)
	}
}

func TestDecreaseAtZeroIsNoOp(t *testing.T) {
	a := uniformAlphas(1, 3)
	// A raw weight this far below the rest underflows to exactly zero
	// after normalization.
	a[0][0] = []float64{0.0, -1000.0, 0.0}
	s := NewStore(a, 0.3)

	if s.Decrease(0, 0, 1) {
		t.Fatal("decrease on a zero weight must not apply")
	}
	if got := s.Normalized()[0][0][1]; got != 0.0 {
		t.Errorf("zero weight moved to %v", got)
	}
}

func TestDecreaseClampsToFloor(t *testing.T) {
	a := uniformAlphas(1, 3)
	a[0][0] = rawFromDistribution([]float64{0.1, 0.45, 0.45})
	s := NewStore(a, 0.3)

	if !s.Decrease(0, 0, 0) {
		t.Fatal("clamped decrease should still apply")
	}

	norm := s.Normalized()[0][0]
	if norm[0] <= 0 || norm[0] >= 0.1 {
		t.Errorf("weight %v not clamped into (0, 0.1)", norm[0])
	}
	if d := math.Abs(rowSum(norm) - 1.0); d > 1e-9 {
		t.Errorf("row sum off by %v after clamped decrease", d)
	}
}

func TestSnapshotIsDetached(t *testing.T) {
	a := uniformAlphas(2, 3)
	s := NewStore(a, 0.3)

	snap := s.Snapshot()
	s.Increase(0, 0, 1)

	if snap[0][0][1] != 0.0 {
		t.Errorf("snapshot changed with the store: %v", snap[0][0][1])
	}
	if a[0][0][1] == 0.0 {
		t.Error("store did not write through to the live rows")
	}
}

func TestNormalizedIsFresh(t *testing.T) {
	a := uniformAlphas(1, 4)
	s := NewStore(a, 0.3)

	before := s.Normalized()[0][1]
	s.Increase(0, 1, 3)
	after := s.Normalized()[0][1]

	if before[3] == after[3] {
		t.Error("normalized view did not reflect the mutation")
	}
}
