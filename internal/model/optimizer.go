package model

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Optimizer runs Adam updates over the named network parameters. The
// first-moment coefficient is zero, so every step follows the current
// gradient with only the second moment smoothing the scale.
type Optimizer struct {
	LearningRate float64
	WeightDecay  float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	t            int
	momentumMap  map[string]*mat.Dense
	velocityMap  map[string]*mat.Dense
}

// NewOptimizer creates an optimizer with empty moment state.
func NewOptimizer(learningRate, weightDecay float64) *Optimizer {
	return &Optimizer{
		LearningRate: learningRate,
		WeightDecay:  weightDecay,
		Beta1:        0.0,
		Beta2:        0.999,
		Epsilon:      1e-8,
		t:            0,
		momentumMap:  make(map[string]*mat.Dense),
		velocityMap:  make(map[string]*mat.Dense),
	}
}

// Step applies one update to every parameter that has a gradient.
func (o *Optimizer) Step(params, grads map[string]*mat.Dense) {
	o.t++
	names := make([]string, 0, len(grads))
	for name := range grads {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if p, ok := params[name]; ok {
			o.update(name, p, grads[name])
		}
	}
}

func (o *Optimizer) update(name string, param, grad *mat.Dense) {
	r, c := param.Dims()
	mMat, ok := o.momentumMap[name]
	if !ok {
		mMat = mat.NewDense(r, c, nil)
		o.momentumMap[name] = mMat
	}
	vMat, ok := o.velocityMap[name]
	if !ok {
		vMat = mat.NewDense(r, c, nil)
		o.velocityMap[name] = vMat
	}

	mCorr := 1 - math.Pow(o.Beta1, float64(o.t))
	vCorr := 1 - math.Pow(o.Beta2, float64(o.t))
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			g := grad.At(i, j) + o.WeightDecay*param.At(i, j)
			m := o.Beta1*mMat.At(i, j) + (1-o.Beta1)*g
			v := o.Beta2*vMat.At(i, j) + (1-o.Beta2)*g*g
			mMat.Set(i, j, m)
			vMat.Set(i, j, v)
			param.Set(i, j, param.At(i, j)-o.LearningRate*(m/mCorr)/(math.Sqrt(v/vCorr)+o.Epsilon))
		}
	}
}

// clipGradNorm rescales the gradients in place so their joint L2 norm
// stays at or below maxNorm. It returns the norm before clipping.
func clipGradNorm(grads map[string]*mat.Dense, maxNorm float64) float64 {
	total := 0.0
	for _, g := range grads {
		f := mat.Norm(g, 2)
		total += f * f
	}
	norm := math.Sqrt(total)
	if maxNorm <= 0 || norm <= maxNorm || norm == 0 {
		return norm
	}
	scale := maxNorm / norm
	for _, g := range grads {
		g.Scale(scale, g)
	}
	return norm
}
