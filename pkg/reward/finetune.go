package reward

import (
	"fmt"

	"nasenv/internal/logging"
	"nasenv/pkg/env"
)

// FineTune estimates accuracy by running one optimization pass over the
// task's training batches and then classifying its held-out batches
// with the sparsified architecture. The accuracy of the final held-out
// batch is the estimate.
type FineTune struct {
	log *logging.Logger
}

// NewFineTune returns a fine-tuning estimator.
func NewFineTune(log *logging.Logger) *FineTune {
	if log == nil {
		log = logging.Default()
	}
	return &FineTune{log: log}
}

// Estimate implements env.Estimator.
func (f *FineTune) Estimate(task env.Task, model env.TrainableModel, _ [][][]float64) (float64, error) {
	for i, b := range task.TrainBatches() {
		loss, err := model.TrainBatch(b)
		if err != nil {
			return 0, fmt.Errorf("training batch %d: %w", i, err)
		}
		f.log.Debug("fine-tune batch %d loss %.4f", i, loss)
	}

	val := task.ValBatches()
	if len(val) == 0 {
		return 0, fmt.Errorf("task %s has no held-out batches", task.Name())
	}

	var acc float64
	for i, b := range val {
		correct, total, err := model.EvalBatch(b, true)
		if err != nil {
			return 0, fmt.Errorf("evaluating batch %d: %w", i, err)
		}
		if total == 0 {
			return 0, fmt.Errorf("held-out batch %d is empty", i)
		}
		acc = float64(correct) / float64(total)
	}
	return acc, nil
}
