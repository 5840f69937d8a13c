package model

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Vector analogues of the NAS-Bench-201 candidate operations. The two
// convolutions slide along the flattened sample with kernel widths 1
// and 3, the pool is a fixed 3-tap average. All of them keep the input
// width, zero padded at the ends.
const (
	opNone  = "none"
	opSkip  = "skip_connect"
	opConv1 = "nor_conv_1x1"
	opConv3 = "nor_conv_3x3"
	opPool  = "avg_pool_3x3"
)

func knownPrimitive(name string) bool {
	switch name {
	case opNone, opSkip, opConv1, opConv3, opPool:
		return true
	}
	return false
}

// kernelWidth reports how many taps a primitive trains, zero for the
// parameter-free ones.
func kernelWidth(name string) int {
	switch name {
	case opConv1:
		return 1
	case opConv3:
		return 3
	}
	return 0
}

// accumulateOp adds weight*op(x) into dst.
func accumulateOp(dst *mat.Dense, prim string, kernel *mat.Dense, x *mat.Dense, weight float64) error {
	r, c := x.Dims()
	switch prim {
	case opNone:
	case opSkip:
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				dst.Set(i, j, dst.At(i, j)+weight*x.At(i, j))
			}
		}
	case opConv1:
		k := kernel.At(0, 0)
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				dst.Set(i, j, dst.At(i, j)+weight*k*x.At(i, j))
			}
		}
	case opConv3:
		k0, k1, k2 := kernel.At(0, 0), kernel.At(0, 1), kernel.At(0, 2)
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				v := k1 * x.At(i, j)
				if j > 0 {
					v += k0 * x.At(i, j-1)
				}
				if j < c-1 {
					v += k2 * x.At(i, j+1)
				}
				dst.Set(i, j, dst.At(i, j)+weight*v)
			}
		}
	case opPool:
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				v := x.At(i, j)
				if j > 0 {
					v += x.At(i, j-1)
				}
				if j < c-1 {
					v += x.At(i, j+1)
				}
				dst.Set(i, j, dst.At(i, j)+weight*v/3)
			}
		}
	default:
		return fmt.Errorf("primitive %q is not supported", prim)
	}
	return nil
}

// backwardOp adds the gradient contributions of one weighted operation:
// into dx for the operation input and into dKernel for its taps. g is
// the gradient arriving at the operation output.
func backwardOp(prim string, kernel, dKernel *mat.Dense, x, g *mat.Dense, weight float64, dx *mat.Dense) error {
	r, c := x.Dims()
	switch prim {
	case opNone:
	case opSkip:
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				dx.Set(i, j, dx.At(i, j)+weight*g.At(i, j))
			}
		}
	case opConv1:
		k := kernel.At(0, 0)
		dk := 0.0
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				dk += g.At(i, j) * x.At(i, j)
				dx.Set(i, j, dx.At(i, j)+weight*k*g.At(i, j))
			}
		}
		dKernel.Set(0, 0, dKernel.At(0, 0)+weight*dk)
	case opConv3:
		k0, k1, k2 := kernel.At(0, 0), kernel.At(0, 1), kernel.At(0, 2)
		var dk0, dk1, dk2 float64
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				gij := g.At(i, j)
				dk1 += gij * x.At(i, j)
				if j > 0 {
					dk0 += gij * x.At(i, j-1)
				}
				if j < c-1 {
					dk2 += gij * x.At(i, j+1)
				}

				v := k1 * gij
				if j < c-1 {
					v += k0 * g.At(i, j+1)
				}
				if j > 0 {
					v += k2 * g.At(i, j-1)
				}
				dx.Set(i, j, dx.At(i, j)+weight*v)
			}
		}
		dKernel.Set(0, 0, dKernel.At(0, 0)+weight*dk0)
		dKernel.Set(0, 1, dKernel.At(0, 1)+weight*dk1)
		dKernel.Set(0, 2, dKernel.At(0, 2)+weight*dk2)
	case opPool:
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				v := g.At(i, j)
				if j > 0 {
					v += g.At(i, j-1)
				}
				if j < c-1 {
					v += g.At(i, j+1)
				}
				dx.Set(i, j, dx.At(i, j)+weight*v/3)
			}
		}
	default:
		return fmt.Errorf("primitive %q is not supported", prim)
	}
	return nil
}

// mixWeights turns one alpha row into operation mixing weights, either
// the softmax distribution or the one-hot argmax.
func mixWeights(alpha []float64, sparsify bool) []float64 {
	if sparsify {
		w := make([]float64, len(alpha))
		w[argmax(alpha)] = 1
		return w
	}
	return softmaxRow(alpha)
}

func argmax(values []float64) int {
	best := 0
	for i, v := range values[1:] {
		if v > values[best] {
			best = i + 1
		}
	}
	return best
}
