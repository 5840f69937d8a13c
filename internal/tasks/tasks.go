// Package tasks produces the few-shot classification tasks the
// environment is evaluated on. Tasks are n-way k-shot episodes drawn
// from a pool of synthetic class prototypes; a YAML manifest names and
// parameterizes them. Every draw is seeded, the same spec always
// yields the same batches.
package tasks

import (
	"fmt"
	"hash/fnv"

	"nasenv/pkg/env"
)

// Meta-split names. The class pool is partitioned 64/16/20 across
// them, so tasks from different splits never share a class.
const (
	SplitTrain = "train"
	SplitVal   = "val"
	SplitTest  = "test"
)

// FewShotTask is a fully materialized episode: fixed support and query
// batches over ways position-labeled classes.
type FewShotTask struct {
	name       string
	numSamples int
	train      []env.Batch
	val        []env.Batch
}

var _ env.Task = (*FewShotTask)(nil)

// Name returns the manifest name of the task.
func (t *FewShotTask) Name() string { return t.name }

// NumSamples returns the support batch size, ways times shots.
func (t *FewShotTask) NumSamples() int { return t.numSamples }

// TrainBatches returns the support batches.
func (t *FewShotTask) TrainBatches() []env.Batch { return t.train }

// ValBatches returns the held-out query batches.
func (t *FewShotTask) ValBatches() []env.Batch { return t.val }

// splitRange maps a meta-split onto its slice of the class pool.
func splitRange(split string, classes int) (lo, hi int, err error) {
	trainHi := int(0.64 * float64(classes))
	valHi := int(0.80 * float64(classes))
	switch split {
	case SplitTrain:
		return 0, trainHi, nil
	case SplitVal:
		return trainHi, valHi, nil
	case SplitTest:
		return valHi, classes, nil
	}
	return 0, 0, fmt.Errorf("meta split %q is not one of train, val, test", split)
}

// nameSeed derives a stable seed from a task name.
func nameSeed(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64())
}
