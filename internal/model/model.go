// Package model implements the differentiable search network the
// environment steers: one NAS-Bench-201 style cell over flattened
// samples, a tanh stem below it and a linear classifier above it.
// The architecture weight rows are live slices the environment rewrites
// in place; TrainBatch moves only the network weights.
package model

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"

	"nasenv/pkg/env"
	"nasenv/pkg/genotype"
)

const (
	keyStemWeight   = "stem.weight"
	keyStemBias     = "stem.bias"
	keyLinearWeight = "linear.weight"
	keyLinearBias   = "linear.bias"
)

// Config holds the dimensions and the training schedule of a search
// network.
type Config struct {
	Nodes        int      `json:"nodes"`
	Primitives   []string `json:"primitives"`
	InputSize    int      `json:"input_size"`
	HiddenSize   int      `json:"hidden_size"`
	Classes      int      `json:"classes"`
	LearningRate float64  `json:"learning_rate"`
	WeightDecay  float64  `json:"weight_decay"`
	GradClip     float64  `json:"grad_clip"`
	Seed         int64    `json:"seed"`
}

// DefaultConfig returns a configuration sized for 8x8 few-shot samples.
func DefaultConfig() *Config {
	return &Config{
		Nodes:        3,
		Primitives:   genotype.PrimitivesNASBench201,
		InputSize:    64,
		HiddenSize:   32,
		Classes:      5,
		LearningRate: 0.025,
		WeightDecay:  3e-4,
		GradClip:     5.0,
	}
}

// SearchNetwork is a mixed-operation cell network. Every parameter
// lives in a named matrix so the optimizer can keep per-parameter
// moment state, the way the task models are tuned elsewhere.
type SearchNetwork struct {
	cfg    *Config
	params map[string]*mat.Dense

	alphaNormal env.Alphas
	alphaReduce env.Alphas

	optim *Optimizer
}

// New creates a search network with random weights and uniform
// architecture distributions.
func New(cfg *Config) (*SearchNetwork, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Nodes <= 0 || cfg.InputSize <= 0 || cfg.HiddenSize <= 0 || cfg.Classes <= 0 {
		return nil, fmt.Errorf("all model dimensions must be positive")
	}
	if len(cfg.Primitives) == 0 {
		cfg.Primitives = genotype.PrimitivesNASBench201
	}
	for _, p := range cfg.Primitives {
		if !knownPrimitive(p) {
			return nil, fmt.Errorf("primitive %q is not supported", p)
		}
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	params := make(map[string]*mat.Dense)
	params[keyStemWeight] = randomDense(cfg.InputSize, cfg.HiddenSize, rng)
	params[keyStemBias] = mat.NewDense(1, cfg.HiddenSize, nil)
	params[keyLinearWeight] = randomDense(cfg.HiddenSize, cfg.Classes, rng)
	params[keyLinearBias] = mat.NewDense(1, cfg.Classes, nil)
	for i := 0; i < cfg.Nodes; i++ {
		for j := 0; j < i+2; j++ {
			for _, prim := range cfg.Primitives {
				if w := kernelWidth(prim); w > 0 {
					params[kernelKey(i, j, prim)] = randomDense(1, w, rng)
				}
			}
		}
	}

	return &SearchNetwork{
		cfg:         cfg,
		params:      params,
		alphaNormal: zeroAlphas(cfg.Nodes, len(cfg.Primitives)),
		alphaReduce: zeroAlphas(cfg.Nodes, len(cfg.Primitives)),
		optim:       NewOptimizer(cfg.LearningRate, cfg.WeightDecay),
	}, nil
}

// AlphaNormal returns the live normal-cell rows.
func (n *SearchNetwork) AlphaNormal() env.Alphas { return n.alphaNormal }

// AlphaReduce returns the live reduction-cell rows. The flat cell
// pipeline never reads them in the forward pass; they exist so callers
// can observe and snapshot a reduction view alongside the normal one.
func (n *SearchNetwork) AlphaReduce() env.Alphas { return n.alphaReduce }

// Config returns the dimensions the network was built with.
func (n *SearchNetwork) Config() Config { return *n.cfg }

// Serialize captures the weights and both alpha sets as an opaque
// snapshot the meta-loop can hand back through LoadState.
func (n *SearchNetwork) Serialize() (env.ModelState, error) {
	type serializableModel struct {
		Nodes       int                    `json:"nodes"`
		Primitives  []string               `json:"primitives"`
		InputSize   int                    `json:"input_size"`
		HiddenSize  int                    `json:"hidden_size"`
		Classes     int                    `json:"classes"`
		Params      map[string][][]float64 `json:"params"`
		AlphaNormal env.Alphas             `json:"alpha_normal"`
		AlphaReduce env.Alphas             `json:"alpha_reduce"`
	}

	serializable := serializableModel{
		Nodes:       n.cfg.Nodes,
		Primitives:  n.cfg.Primitives,
		InputSize:   n.cfg.InputSize,
		HiddenSize:  n.cfg.HiddenSize,
		Classes:     n.cfg.Classes,
		Params:      make(map[string][][]float64, len(n.params)),
		AlphaNormal: n.alphaNormal.Clone(),
		AlphaReduce: n.alphaReduce.Clone(),
	}
	for name, p := range n.params {
		serializable.Params[name] = denseToRows(p)
	}

	return json.Marshal(serializable)
}

// LoadState restores a snapshot produced by Serialize. The snapshot has
// to match the network dimensions; the optimizer moments start over.
func (n *SearchNetwork) LoadState(state env.ModelState) error {
	type serializableModel struct {
		Nodes       int                    `json:"nodes"`
		Primitives  []string               `json:"primitives"`
		InputSize   int                    `json:"input_size"`
		HiddenSize  int                    `json:"hidden_size"`
		Classes     int                    `json:"classes"`
		Params      map[string][][]float64 `json:"params"`
		AlphaNormal env.Alphas             `json:"alpha_normal"`
		AlphaReduce env.Alphas             `json:"alpha_reduce"`
	}

	var serializable serializableModel
	if err := json.Unmarshal(state, &serializable); err != nil {
		return fmt.Errorf("decoding model state: %w", err)
	}
	if serializable.Nodes != n.cfg.Nodes {
		return fmt.Errorf("model state has %d nodes, want %d", serializable.Nodes, n.cfg.Nodes)
	}
	if serializable.InputSize != n.cfg.InputSize || serializable.HiddenSize != n.cfg.HiddenSize || serializable.Classes != n.cfg.Classes {
		return fmt.Errorf("model state dimensions %dx%dx%d do not match %dx%dx%d",
			serializable.InputSize, serializable.HiddenSize, serializable.Classes,
			n.cfg.InputSize, n.cfg.HiddenSize, n.cfg.Classes)
	}
	if len(serializable.Primitives) != len(n.cfg.Primitives) {
		return fmt.Errorf("model state has %d primitives, want %d", len(serializable.Primitives), len(n.cfg.Primitives))
	}
	for i, p := range serializable.Primitives {
		if p != n.cfg.Primitives[i] {
			return fmt.Errorf("model state primitive %d is %q, want %q", i, p, n.cfg.Primitives[i])
		}
	}
	if len(serializable.Params) != len(n.params) {
		return fmt.Errorf("model state has %d parameters, want %d", len(serializable.Params), len(n.params))
	}
	restored := make(map[string]*mat.Dense, len(n.params))
	for name, p := range n.params {
		rows, ok := serializable.Params[name]
		if !ok {
			return fmt.Errorf("model state is missing parameter %q", name)
		}
		r, c := p.Dims()
		d, err := rowsToDense(rows, r, c)
		if err != nil {
			return fmt.Errorf("parameter %q: %w", name, err)
		}
		restored[name] = d
	}
	if err := checkAlphaShape(serializable.AlphaNormal, n.cfg.Nodes, len(n.cfg.Primitives)); err != nil {
		return fmt.Errorf("normal alphas: %w", err)
	}
	if err := checkAlphaShape(serializable.AlphaReduce, n.cfg.Nodes, len(n.cfg.Primitives)); err != nil {
		return fmt.Errorf("reduce alphas: %w", err)
	}

	n.params = restored
	n.alphaNormal = serializable.AlphaNormal
	n.alphaReduce = serializable.AlphaReduce
	n.optim = NewOptimizer(n.cfg.LearningRate, n.cfg.WeightDecay)
	return nil
}

// zeroAlphas allocates rows at zero, a uniform distribution after the
// softmax. Row i feeds node i+2 and has one slot per incoming edge.
func zeroAlphas(nodes, ops int) env.Alphas {
	rows := make(env.Alphas, nodes)
	for i := range rows {
		rows[i] = make([][]float64, i+2)
		for j := range rows[i] {
			rows[i][j] = make([]float64, ops)
		}
	}
	return rows
}

func checkAlphaShape(a env.Alphas, nodes, ops int) error {
	if len(a) != nodes {
		return fmt.Errorf("have %d rows, want %d", len(a), nodes)
	}
	for i, row := range a {
		if len(row) != i+2 {
			return fmt.Errorf("row %d has %d edges, want %d", i, len(row), i+2)
		}
		for j, edge := range row {
			if len(edge) != ops {
				return fmt.Errorf("row %d edge %d has %d operations, want %d", i, j, len(edge), ops)
			}
		}
	}
	return nil
}

func kernelKey(row, edge int, prim string) string {
	return fmt.Sprintf("edge.%d.%d.%s", row, edge, prim)
}

// randomDense fills a matrix from a uniform range scaled by the fan-in.
func randomDense(r, c int, rng *rand.Rand) *mat.Dense {
	scale := 0.5
	if r > 1 {
		scale = 1.0 / math.Sqrt(float64(r))
	}
	d := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			d.Set(i, j, (rng.Float64()*2-1)*scale)
		}
	}
	return d
}

func denseToRows(d *mat.Dense) [][]float64 {
	r, c := d.Dims()
	rows := make([][]float64, r)
	for i := 0; i < r; i++ {
		rows[i] = make([]float64, c)
		copy(rows[i], d.RawRowView(i))
	}
	return rows
}

func rowsToDense(rows [][]float64, r, c int) (*mat.Dense, error) {
	if len(rows) != r {
		return nil, fmt.Errorf("have %d rows, want %d", len(rows), r)
	}
	d := mat.NewDense(r, c, nil)
	for i, row := range rows {
		if len(row) != c {
			return nil, fmt.Errorf("row %d has %d columns, want %d", i, len(row), c)
		}
		d.SetRow(i, row)
	}
	return d, nil
}
