package env

// Batch is one mini-batch of task samples. Inputs holds one flattened
// sample per row; Rows and Cols record the spatial shape each sample
// was flattened from.
type Batch struct {
	Inputs [][]float64
	Labels []int
	Rows   int
	Cols   int
}

// Task is a few-shot learning task handed down by the meta-loop. Both
// batch slices are stable across calls within an episode.
type Task interface {
	Name() string
	NumSamples() int
	TrainBatches() []Batch
	ValBatches() []Batch
}

// ModelState is an opaque serialized snapshot of a search model, as
// produced by the model's own save routine.
type ModelState []byte

// TrainableModel is the differentiable search model the environment
// steers. AlphaNormal and AlphaReduce return the live weight rows;
// mutations through the environment write to them directly.
type TrainableModel interface {
	LoadState(state ModelState) error
	AlphaNormal() Alphas
	AlphaReduce() Alphas

	// TrainBatch runs one optimization step of the network weights on
	// the batch and returns the loss. Architecture weights stay fixed.
	TrainBatch(b Batch) (float64, error)

	// EvalBatch classifies the batch. With sparsify set, only the
	// strongest operation of each edge contributes to the forward pass.
	EvalBatch(b Batch, sparsify bool) (correct, total int, err error)
}

// Estimator scores the current architecture on a task with an accuracy
// in [0, 1].
type Estimator interface {
	Estimate(task Task, model TrainableModel, normalized [][][]float64) (float64, error)
}
