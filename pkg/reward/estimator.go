// Package reward implements the accuracy estimators the environment
// scores mutated architectures with: a fine-tuning estimator that runs
// real gradient steps on the search model, and a surrogate estimator
// that asks a learned predictor to judge the discretized architecture.
package reward

import (
	"fmt"

	"nasenv/internal/logging"
	"nasenv/pkg/env"
	"nasenv/pkg/genotype"
)

// Predictor scores a discrete architecture graph against a small sample
// of task data without training it.
type Predictor interface {
	EvaluateArchitecture(dataset [][]float64, g *genotype.Graph) (float64, error)
}

// Kind names an estimation strategy.
type Kind string

const (
	// KindFineTune trains the search model for one pass and measures
	// held-out accuracy.
	KindFineTune Kind = "finetune"

	// KindPredictor queries a surrogate predictor instead of training.
	KindPredictor Kind = "predictor"
)

// Config selects and parameterizes an estimator.
type Config struct {
	Kind Kind `json:"kind"`

	// Samples is the batch size the predictor was trained against.
	// Predictor estimation rejects batches of any other size.
	Samples int `json:"samples"`

	Predictor Predictor       `json:"-"`
	Logger    *logging.Logger `json:"-"`
}

// New builds the estimator the config asks for. An empty kind defaults
// to fine-tuning.
func New(cfg Config) (env.Estimator, error) {
	switch cfg.Kind {
	case "", KindFineTune:
		return NewFineTune(cfg.Logger), nil
	case KindPredictor:
		return NewPredictorEstimator(cfg.Predictor, cfg.Samples, cfg.Logger)
	default:
		return nil, fmt.Errorf("estimator kind %q is not supported", cfg.Kind)
	}
}
