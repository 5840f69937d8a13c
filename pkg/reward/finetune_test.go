package reward

import (
	"errors"
	"testing"

	"nasenv/pkg/env"
)

type fakeTask struct {
	train []env.Batch
	val   []env.Batch
}

func (t fakeTask) Name() string              { return "fake-task" }
func (t fakeTask) NumSamples() int           { return 4 }
func (t fakeTask) TrainBatches() []env.Batch { return t.train }
func (t fakeTask) ValBatches() []env.Batch   { return t.val }

// recordingModel counts training calls and replays scripted evaluation
// results.
type recordingModel struct {
	trainCalls  int
	trainErr    error
	evalResults [][2]int
	evalCalls   int
	sparsify    []bool
}

func (m *recordingModel) LoadState(env.ModelState) error { return nil }
func (m *recordingModel) AlphaNormal() env.Alphas        { return nil }
func (m *recordingModel) AlphaReduce() env.Alphas        { return nil }

func (m *recordingModel) TrainBatch(env.Batch) (float64, error) {
	m.trainCalls++
	return 0.5, m.trainErr
}

func (m *recordingModel) EvalBatch(_ env.Batch, sparsify bool) (int, int, error) {
	m.sparsify = append(m.sparsify, sparsify)
	r := m.evalResults[m.evalCalls]
	m.evalCalls++
	return r[0], r[1], nil
}

func smallBatch() env.Batch {
	return env.Batch{
		Inputs: [][]float64{{1, 2, 3, 4}},
		Labels: []int{0},
		Rows:   2,
		Cols:   2,
	}
}

func TestFineTuneUsesLastHeldOutBatch(t *testing.T) {
	task := fakeTask{
		train: []env.Batch{smallBatch(), smallBatch()},
		val:   []env.Batch{smallBatch(), smallBatch()},
	}
	model := &recordingModel{evalResults: [][2]int{{3, 4}, {9, 10}}}

	acc, err := NewFineTune(nil).Estimate(task, model, nil)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}

	if acc != 0.9 {
		t.Errorf("accuracy = %v, want the final batch's 0.9", acc)
	}
	if model.trainCalls != 2 {
		t.Errorf("trained %d batches, want 2", model.trainCalls)
	}
	for i, s := range model.sparsify {
		if !s {
			t.Errorf("evaluation %d ran without sparsified alphas", i)
		}
	}
}

func TestFineTuneRequiresHeldOutBatches(t *testing.T) {
	task := fakeTask{train: []env.Batch{smallBatch()}}
	model := &recordingModel{}

	if _, err := NewFineTune(nil).Estimate(task, model, nil); err == nil {
		t.Fatal("expected error for a task without held-out batches")
	}
}

func TestFineTuneRejectsEmptyHeldOutBatch(t *testing.T) {
	task := fakeTask{val: []env.Batch{{}}}
	model := &recordingModel{evalResults: [][2]int{{0, 0}}}

	if _, err := NewFineTune(nil).Estimate(task, model, nil); err == nil {
		t.Fatal("expected error for an empty held-out batch")
	}
}

func TestFineTunePropagatesTrainingFailure(t *testing.T) {
	wantErr := errors.New("divergence")
	task := fakeTask{
		train: []env.Batch{smallBatch()},
		val:   []env.Batch{smallBatch()},
	}
	model := &recordingModel{trainErr: wantErr}

	_, err := NewFineTune(nil).Estimate(task, model, nil)
	if !errors.Is(err, wantErr) {
		t.Errorf("Estimate error = %v, want wrapped %v", err, wantErr)
	}
}

func TestFactorySelectsKind(t *testing.T) {
	est, err := New(Config{})
	if err != nil {
		t.Fatalf("New default: %v", err)
	}
	if _, ok := est.(*FineTune); !ok {
		t.Errorf("default estimator is %T, want *FineTune", est)
	}

	if _, err := New(Config{Kind: KindPredictor}); err == nil {
		t.Error("predictor kind without a predictor must fail")
	}
	if _, err := New(Config{Kind: "oracle"}); err == nil {
		t.Error("unknown kind must fail")
	}
}
