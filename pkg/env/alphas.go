package env

import "math"

// Alphas holds the raw architecture weights of one cell: one row per
// intermediate node, one entry per incoming edge, one weight per
// candidate operation. Row i belongs to cell vertex i+2 and has i+2
// edges.
type Alphas [][][]float64

// Clone returns a deep copy.
func (a Alphas) Clone() Alphas {
	out := make(Alphas, len(a))
	for i, row := range a {
		out[i] = make([][]float64, len(row))
		for j, ops := range row {
			out[i][j] = make([]float64, len(ops))
			copy(out[i][j], ops)
		}
	}
	return out
}

// invSoftmaxC recenters the log of a distribution so the raw weights
// stay in a numerically comfortable range across repeated mutations.
var invSoftmaxC = math.Log(10.0)

func softmax(xs []float64) []float64 {
	max := math.Inf(-1)
	for _, x := range xs {
		if x > max {
			max = x
		}
	}
	out := make([]float64, len(xs))
	var sum float64
	for i, x := range xs {
		out[i] = math.Exp(x - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Store mediates all reads and writes of one alpha set. The agent
// observes normalized distributions while mutations are written back to
// the raw weights through a floored inverse softmax.
type Store struct {
	raw    Alphas
	amount float64
}

// NewStore wraps the live alpha rows of a model. amount is the
// probability mass moved per mutation.
func NewStore(raw Alphas, amount float64) *Store {
	return &Store{raw: raw, amount: amount}
}

// Rows returns the raw rows the store mutates.
func (s *Store) Rows() Alphas { return s.raw }

// Snapshot deep-copies the raw rows.
func (s *Store) Snapshot() Alphas { return s.raw.Clone() }

// Normalized recomputes the softmax of every edge distribution.
func (s *Store) Normalized() [][][]float64 {
	out := make([][][]float64, len(s.raw))
	for i, row := range s.raw {
		out[i] = make([][]float64, len(row))
		for j, ops := range row {
			out[i][j] = softmax(ops)
		}
	}
	return out
}

// Increase shifts probability mass onto one operation of one edge. The
// requested amount shrinks near the top so the distribution never
// saturates past 0.99, and every entry gains 0.01 before the write-back
// to keep the log finite. Reports whether the weights changed.
func (s *Store) Increase(row, edge, op int) bool {
	norm := softmax(s.raw[row][edge])
	curr := norm[op]
	prob := s.amount

	if curr+prob > 1.0 {
		surplus := curr + prob - 0.99
		prob -= surplus
	}
	if curr+prob < 1.0 {
		norm[op] = curr + prob
		s.writeBack(row, edge, norm)
		return true
	}
	return false
}

// Decrease shifts probability mass away from one operation of one edge,
// mirroring Increase with a floor just above zero. A weight already at
// zero has nothing to give and stays put. Reports whether the weights
// changed.
func (s *Store) Decrease(row, edge, op int) bool {
	norm := softmax(s.raw[row][edge])
	curr := norm[op]
	prob := s.amount

	if curr <= 0.0 {
		return false
	}
	if curr-prob < 0.0 {
		surplus := prob - curr + 0.01
		prob -= surplus
	}
	if curr-prob > 0.0 {
		norm[op] = curr - prob
		s.writeBack(row, edge, norm)
		return true
	}
	return false
}

func (s *Store) writeBack(row, edge int, norm []float64) {
	ops := s.raw[row][edge]
	for i := range norm {
		ops[i] = math.Log(norm[i]+0.01) + invSoftmaxC
	}
}
