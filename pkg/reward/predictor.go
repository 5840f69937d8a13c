package reward

import (
	"errors"
	"fmt"

	"nasenv/internal/logging"
	"nasenv/pkg/env"
	"nasenv/pkg/genotype"
)

// Input shape the surrogate predictor consumes: every sample is resized
// to 32x16 and flattened to 512 features.
const (
	predictorRows     = 32
	predictorCols     = 16
	predictorFeatures = predictorRows * predictorCols
)

// PredictorEstimator discretizes the current operation weights into a
// NAS-Bench-201 style graph and asks a learned surrogate to score it
// against a fixed-size sample of task images.
type PredictorEstimator struct {
	predictor Predictor
	samples   int
	log       *logging.Logger
}

// NewPredictorEstimator wires a surrogate predictor. samples is the
// exact batch size the predictor expects.
func NewPredictorEstimator(p Predictor, samples int, log *logging.Logger) (*PredictorEstimator, error) {
	if p == nil {
		return nil, errors.New("predictor must not be nil")
	}
	if samples < 1 {
		return nil, fmt.Errorf("predictor needs a positive sample count, got %d", samples)
	}
	if log == nil {
		log = logging.Default()
	}
	return &PredictorEstimator{predictor: p, samples: samples, log: log}, nil
}

// Estimate implements env.Estimator.
func (p *PredictorEstimator) Estimate(task env.Task, _ env.TrainableModel, normalized [][][]float64) (float64, error) {
	graph, err := genotype.GraphFromNormalized(normalized, genotype.PrimitivesNASBench201)
	if err != nil {
		return 0, err
	}

	dataset, err := p.sampleDataset(task)
	if err != nil {
		return 0, err
	}

	acc, err := p.predictor.EvaluateArchitecture(dataset, graph)
	if err != nil {
		return 0, fmt.Errorf("querying predictor: %w", err)
	}
	p.log.Debug("predicted accuracy %.4f for task %s", acc, task.Name())
	return acc, nil
}

// sampleDataset resizes the first training batch into the predictor's
// canonical input shape.
func (p *PredictorEstimator) sampleDataset(task env.Task) ([][]float64, error) {
	batches := task.TrainBatches()
	if len(batches) == 0 {
		return nil, fmt.Errorf("task %s has no training batches", task.Name())
	}
	b := batches[0]

	if len(b.Inputs) != p.samples {
		return nil, fmt.Errorf("batch carries %d samples, predictor expects %d", len(b.Inputs), p.samples)
	}
	if b.Rows < 1 || b.Cols < 1 {
		return nil, fmt.Errorf("batch has no spatial shape (%dx%d)", b.Rows, b.Cols)
	}

	dataset := make([][]float64, len(b.Inputs))
	for i, sample := range b.Inputs {
		if len(sample) != b.Rows*b.Cols {
			return nil, fmt.Errorf("sample %d has %d values, shape says %d", i, len(sample), b.Rows*b.Cols)
		}
		dataset[i] = resizeNearest(sample, b.Rows, b.Cols, predictorRows, predictorCols)
	}
	return dataset, nil
}

// resizeNearest rescales a row-major grid by nearest-neighbor sampling,
// taking floor(dst * src/dst) as the source index per axis.
func resizeNearest(src []float64, rows, cols, outRows, outCols int) []float64 {
	out := make([]float64, outRows*outCols)
	for r := 0; r < outRows; r++ {
		sr := r * rows / outRows
		for c := 0; c < outCols; c++ {
			sc := c * cols / outCols
			out[r*outCols+c] = src[sr*cols+sc]
		}
	}
	return out
}
