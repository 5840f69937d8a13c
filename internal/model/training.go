package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"nasenv/pkg/env"
)

// forwardPass caches the intermediates the backward pass reads.
type forwardPass struct {
	input  *mat.Dense
	stem   *mat.Dense
	nodes  []*mat.Dense
	out    *mat.Dense
	logits *mat.Dense
}

// TrainBatch runs one Adam step of the network weights on the batch and
// returns the mean cross-entropy loss. The alpha rows stay untouched.
func (n *SearchNetwork) TrainBatch(b env.Batch) (float64, error) {
	fw, err := n.forward(b, false)
	if err != nil {
		return 0, err
	}
	loss := crossEntropy(fw.logits, b.Labels)

	grads, err := n.backward(fw, b.Labels)
	if err != nil {
		return 0, err
	}
	clipGradNorm(grads, n.cfg.GradClip)
	n.optim.Step(n.params, grads)
	return loss, nil
}

// EvalBatch classifies the batch and counts label hits. With sparsify
// set, each edge runs only its strongest operation.
func (n *SearchNetwork) EvalBatch(b env.Batch, sparsify bool) (int, int, error) {
	fw, err := n.forward(b, sparsify)
	if err != nil {
		return 0, 0, err
	}
	m, _ := fw.logits.Dims()
	correct := 0
	for i := 0; i < m; i++ {
		if argmax(fw.logits.RawRowView(i)) == b.Labels[i] {
			correct++
		}
	}
	return correct, m, nil
}

func (n *SearchNetwork) forward(b env.Batch, sparsify bool) (*forwardPass, error) {
	if err := n.checkBatch(b); err != nil {
		return nil, err
	}
	m := len(b.Inputs)
	h := n.cfg.HiddenSize

	x := mat.NewDense(m, n.cfg.InputSize, nil)
	for i, sample := range b.Inputs {
		x.SetRow(i, sample)
	}

	stem := mat.NewDense(m, h, nil)
	stem.Mul(x, n.params[keyStemWeight])
	addRowBias(stem, n.params[keyStemBias])
	stem.Apply(func(_, _ int, v float64) float64 { return math.Tanh(v) }, stem)

	nodes := make([]*mat.Dense, n.cfg.Nodes+2)
	nodes[0], nodes[1] = stem, stem
	for i := 0; i < n.cfg.Nodes; i++ {
		tgt := i + 2
		sum := mat.NewDense(m, h, nil)
		for j := 0; j < tgt; j++ {
			w := mixWeights(n.alphaNormal[i][j], sparsify)
			for k, prim := range n.cfg.Primitives {
				if w[k] == 0 {
					continue
				}
				if err := accumulateOp(sum, prim, n.kernel(i, j, prim), nodes[j], w[k]); err != nil {
					return nil, err
				}
			}
		}
		nodes[tgt] = sum
	}

	out := mat.NewDense(m, h, nil)
	for i := 2; i < len(nodes); i++ {
		out.Add(out, nodes[i])
	}
	out.Scale(1/float64(n.cfg.Nodes), out)

	logits := mat.NewDense(m, n.cfg.Classes, nil)
	logits.Mul(out, n.params[keyLinearWeight])
	addRowBias(logits, n.params[keyLinearBias])

	return &forwardPass{input: x, stem: stem, nodes: nodes, out: out, logits: logits}, nil
}

// backward computes weight gradients only; the mixing weights derived
// from the alphas enter as constants.
func (n *SearchNetwork) backward(fw *forwardPass, labels []int) (map[string]*mat.Dense, error) {
	m, c := fw.logits.Dims()
	h := n.cfg.HiddenSize

	grads := make(map[string]*mat.Dense, len(n.params))
	for name, p := range n.params {
		r, cc := p.Dims()
		grads[name] = mat.NewDense(r, cc, nil)
	}

	// Softmax minus the one-hot target, averaged over the batch.
	gLogits := mat.NewDense(m, c, nil)
	for i := 0; i < m; i++ {
		row := softmaxRow(fw.logits.RawRowView(i))
		for j := 0; j < c; j++ {
			g := row[j]
			if j == labels[i] {
				g--
			}
			gLogits.Set(i, j, g/float64(m))
		}
	}

	grads[keyLinearWeight].Mul(fw.out.T(), gLogits)
	sumColumnsInto(grads[keyLinearBias], gLogits)

	gOut := mat.NewDense(m, h, nil)
	gOut.Mul(gLogits, n.params[keyLinearWeight].T())

	gNodes := make([]*mat.Dense, len(fw.nodes))
	for i := range gNodes {
		gNodes[i] = mat.NewDense(m, h, nil)
	}
	for i := 2; i < len(gNodes); i++ {
		gNodes[i].Scale(1/float64(n.cfg.Nodes), gOut)
	}

	for tgt := len(fw.nodes) - 1; tgt >= 2; tgt-- {
		i := tgt - 2
		for j := 0; j < tgt; j++ {
			w := mixWeights(n.alphaNormal[i][j], false)
			for k, prim := range n.cfg.Primitives {
				if w[k] == 0 {
					continue
				}
				err := backwardOp(prim, n.kernel(i, j, prim), n.kernelGrad(grads, i, j, prim),
					fw.nodes[j], gNodes[tgt], w[k], gNodes[j])
				if err != nil {
					return nil, err
				}
			}
		}
	}

	// Both input nodes alias the stem activation.
	gz := mat.NewDense(m, h, nil)
	for i := 0; i < m; i++ {
		for j := 0; j < h; j++ {
			a := fw.stem.At(i, j)
			gz.Set(i, j, (gNodes[0].At(i, j)+gNodes[1].At(i, j))*(1-a*a))
		}
	}
	grads[keyStemWeight].Mul(fw.input.T(), gz)
	sumColumnsInto(grads[keyStemBias], gz)

	return grads, nil
}

func (n *SearchNetwork) kernel(row, edge int, prim string) *mat.Dense {
	if kernelWidth(prim) == 0 {
		return nil
	}
	return n.params[kernelKey(row, edge, prim)]
}

func (n *SearchNetwork) kernelGrad(grads map[string]*mat.Dense, row, edge int, prim string) *mat.Dense {
	if kernelWidth(prim) == 0 {
		return nil
	}
	return grads[kernelKey(row, edge, prim)]
}

func (n *SearchNetwork) checkBatch(b env.Batch) error {
	if len(b.Inputs) == 0 {
		return fmt.Errorf("batch has no samples")
	}
	if len(b.Labels) != len(b.Inputs) {
		return fmt.Errorf("batch has %d labels for %d samples", len(b.Labels), len(b.Inputs))
	}
	for i, s := range b.Inputs {
		if len(s) != n.cfg.InputSize {
			return fmt.Errorf("sample %d has %d features, the stem takes %d", i, len(s), n.cfg.InputSize)
		}
	}
	for i, l := range b.Labels {
		if l < 0 || l >= n.cfg.Classes {
			return fmt.Errorf("label %d of sample %d outside the %d model classes", l, i, n.cfg.Classes)
		}
	}
	return nil
}

// crossEntropy is the mean negative log-likelihood over the batch,
// computed through a shifted log-sum-exp.
func crossEntropy(logits *mat.Dense, labels []int) float64 {
	m, c := logits.Dims()
	total := 0.0
	for i := 0; i < m; i++ {
		max := logits.At(i, 0)
		for j := 1; j < c; j++ {
			if logits.At(i, j) > max {
				max = logits.At(i, j)
			}
		}
		sum := 0.0
		for j := 0; j < c; j++ {
			sum += math.Exp(logits.At(i, j) - max)
		}
		total += math.Log(sum) - (logits.At(i, labels[i]) - max)
	}
	return total / float64(m)
}

func softmaxRow(logits []float64) []float64 {
	out := make([]float64, len(logits))
	max := logits[0]
	for _, v := range logits[1:] {
		if v > max {
			max = v
		}
	}
	sum := 0.0
	for i, v := range logits {
		out[i] = math.Exp(v - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func addRowBias(d *mat.Dense, bias *mat.Dense) {
	r, c := d.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			d.Set(i, j, d.At(i, j)+bias.At(0, j))
		}
	}
}

func sumColumnsInto(dst *mat.Dense, src *mat.Dense) {
	r, c := src.Dims()
	for j := 0; j < c; j++ {
		sum := 0.0
		for i := 0; i < r; i++ {
			sum += src.At(i, j)
		}
		dst.Set(0, j, sum)
	}
}
