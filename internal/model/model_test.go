package model

import (
	"math"
	"reflect"
	"testing"

	"gonum.org/v1/gonum/mat"

	"nasenv/pkg/env"
)

func makeBatch(inputs [][]float64, labels []int) env.Batch {
	return env.Batch{Inputs: inputs, Labels: labels, Rows: 1, Cols: len(inputs[0])}
}

func trainConfig() *Config {
	return &Config{
		Nodes:        2,
		InputSize:    4,
		HiddenSize:   8,
		Classes:      2,
		LearningRate: 0.025,
		WeightDecay:  3e-4,
		GradClip:     5.0,
		Seed:         7,
	}
}

func stripedBatch() env.Batch {
	inputs := [][]float64{}
	labels := []int{}
	for _, scale := range []float64{0.8, 0.9, 1.0, 1.1} {
		inputs = append(inputs, []float64{scale, 0, scale, 0})
		labels = append(labels, 0)
		inputs = append(inputs, []float64{0, scale, 0, scale})
		labels = append(labels, 1)
	}
	return makeBatch(inputs, labels)
}

func TestNewValidatesDimensions(t *testing.T) {
	cfg := trainConfig()
	cfg.Nodes = 0
	if _, err := New(cfg); err == nil {
		t.Fatal("Expected error for zero nodes, got nil")
	}
	cfg = trainConfig()
	cfg.HiddenSize = -1
	if _, err := New(cfg); err == nil {
		t.Fatal("Expected error for negative hidden size, got nil")
	}
}

func TestNewRejectsUnknownPrimitive(t *testing.T) {
	cfg := trainConfig()
	cfg.Primitives = []string{"none", "dil_conv_5x5"}
	_, err := New(cfg)
	if err == nil {
		t.Fatal("Expected error for unknown primitive, got nil")
	}
}

func TestAlphaRowShapes(t *testing.T) {
	net, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	normal := net.AlphaNormal()
	if len(normal) != 3 {
		t.Fatalf("Expected 3 alpha rows, got %d", len(normal))
	}
	for i, row := range normal {
		if len(row) != i+2 {
			t.Errorf("Expected row %d to have %d edges, got %d", i, i+2, len(row))
		}
		for j, edge := range row {
			if len(edge) != 5 {
				t.Errorf("Expected row %d edge %d to have 5 operations, got %d", i, j, len(edge))
			}
			for _, v := range edge {
				if v != 0 {
					t.Errorf("Expected fresh alphas at zero, got %f", v)
				}
			}
		}
	}
	if len(net.AlphaReduce()) != 3 {
		t.Errorf("Expected 3 reduce rows, got %d", len(net.AlphaReduce()))
	}

	// The rows are live, writes land in the network.
	normal[0][0][1] = 4
	if net.AlphaNormal()[0][0][1] != 4 {
		t.Error("Expected alpha mutation to be visible through AlphaNormal")
	}
}

func TestTrainBatchReducesLoss(t *testing.T) {
	net, err := New(trainConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	batch := stripedBatch()

	first, err := net.TrainBatch(batch)
	if err != nil {
		t.Fatalf("TrainBatch failed: %v", err)
	}
	last := first
	for i := 0; i < 39; i++ {
		last, err = net.TrainBatch(batch)
		if err != nil {
			t.Fatalf("TrainBatch %d failed: %v", i+2, err)
		}
		if math.IsNaN(last) || math.IsInf(last, 0) {
			t.Fatalf("Loss diverged at step %d: %f", i+2, last)
		}
	}
	if last >= first {
		t.Errorf("Expected loss to drop below %f, got %f", first, last)
	}

	correct, total, err := net.EvalBatch(batch, false)
	if err != nil {
		t.Fatalf("EvalBatch failed: %v", err)
	}
	if total != 8 {
		t.Errorf("Expected 8 evaluated samples, got %d", total)
	}
	if correct <= total/2 {
		t.Errorf("Expected the fitted batch to score above chance, got %d/%d", correct, total)
	}
}

func TestTrainBatchValidatesBatch(t *testing.T) {
	net, err := New(trainConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := net.TrainBatch(env.Batch{}); err == nil {
		t.Error("Expected error for empty batch, got nil")
	}
	if _, err := net.TrainBatch(makeBatch([][]float64{{1, 2}}, []int{0})); err == nil {
		t.Error("Expected error for short sample, got nil")
	}
	if _, err := net.TrainBatch(makeBatch([][]float64{{1, 2, 3, 4}}, []int{5})); err == nil {
		t.Error("Expected error for out-of-range label, got nil")
	}
	if _, err := net.TrainBatch(env.Batch{Inputs: [][]float64{{1, 2, 3, 4}}, Labels: nil}); err == nil {
		t.Error("Expected error for missing labels, got nil")
	}
}

func TestEvalBatchSparsifyRunsTopOperation(t *testing.T) {
	cfg := &Config{
		Nodes:        2,
		Primitives:   []string{"none", "skip_connect"},
		InputSize:    3,
		HiddenSize:   4,
		Classes:      3,
		LearningRate: 0.01,
		GradClip:     5.0,
		Seed:         3,
	}
	net, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// Make "none" the strongest operation on every edge. Sparsified,
	// the cell outputs zeros and only the untrained head bias remains,
	// so every sample lands on class 0.
	for _, row := range net.AlphaNormal() {
		for _, edge := range row {
			edge[0] = 5
		}
	}

	batch := makeBatch([][]float64{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}, {1, 1, 1}}, []int{0, 1, 0, 2})
	correct, total, err := net.EvalBatch(batch, true)
	if err != nil {
		t.Fatalf("EvalBatch failed: %v", err)
	}
	if total != 4 {
		t.Errorf("Expected 4 evaluated samples, got %d", total)
	}
	if correct != 2 {
		t.Errorf("Expected 2 hits on class 0, got %d", correct)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	cfg := trainConfig()
	net, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	batch := stripedBatch()

	net.AlphaNormal()[1][2][3] = 1.25
	if _, err := net.TrainBatch(batch); err != nil {
		t.Fatalf("TrainBatch failed: %v", err)
	}
	state, err := net.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	other := trainConfig()
	other.Seed = 99
	restored, err := New(other)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := restored.LoadState(state); err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}

	if !reflect.DeepEqual(restored.AlphaNormal(), net.AlphaNormal()) {
		t.Error("Expected restored normal alphas to match the snapshot")
	}
	wantCorrect, _, err := net.EvalBatch(batch, false)
	if err != nil {
		t.Fatalf("EvalBatch failed: %v", err)
	}
	gotCorrect, _, err := restored.EvalBatch(batch, false)
	if err != nil {
		t.Fatalf("EvalBatch failed: %v", err)
	}
	if gotCorrect != wantCorrect {
		t.Errorf("Expected %d hits from the restored model, got %d", wantCorrect, gotCorrect)
	}
	if _, err := restored.TrainBatch(batch); err != nil {
		t.Errorf("TrainBatch after LoadState failed: %v", err)
	}
}

func TestLoadStateRejectsMismatch(t *testing.T) {
	small, err := New(trainConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	state, err := small.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	cfg := trainConfig()
	cfg.Nodes = 3
	big, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := big.LoadState(state); err == nil {
		t.Error("Expected error for mismatched node count, got nil")
	}
	if err := big.LoadState(env.ModelState("{")); err == nil {
		t.Error("Expected error for malformed state, got nil")
	}
}

func TestOptimizerStepMatchesHandComputation(t *testing.T) {
	param := mat.NewDense(1, 1, []float64{1})
	grad := mat.NewDense(1, 1, []float64{0.5})
	opt := NewOptimizer(0.1, 0)

	opt.Step(map[string]*mat.Dense{"w": param}, map[string]*mat.Dense{"w": grad})
	if got := param.At(0, 0); math.Abs(got-0.9) > 1e-6 {
		t.Errorf("Expected 0.9 after first step, got %f", got)
	}
	opt.Step(map[string]*mat.Dense{"w": param}, map[string]*mat.Dense{"w": grad})
	if got := param.At(0, 0); math.Abs(got-0.8) > 1e-6 {
		t.Errorf("Expected 0.8 after second step, got %f", got)
	}
}

func TestOptimizerAppliesWeightDecay(t *testing.T) {
	param := mat.NewDense(1, 1, []float64{1})
	grad := mat.NewDense(1, 1, nil)
	opt := NewOptimizer(0.1, 0.1)

	opt.Step(map[string]*mat.Dense{"w": param}, map[string]*mat.Dense{"w": grad})
	if got := param.At(0, 0); math.Abs(got-0.9) > 1e-6 {
		t.Errorf("Expected decay to pull the weight to 0.9, got %f", got)
	}
}

func TestClipGradNorm(t *testing.T) {
	a := mat.NewDense(1, 1, []float64{3})
	b := mat.NewDense(1, 1, []float64{4})
	grads := map[string]*mat.Dense{"a": a, "b": b}

	norm := clipGradNorm(grads, 1)
	if math.Abs(norm-5) > 1e-12 {
		t.Errorf("Expected pre-clip norm 5, got %f", norm)
	}
	if math.Abs(a.At(0, 0)-0.6) > 1e-12 || math.Abs(b.At(0, 0)-0.8) > 1e-12 {
		t.Errorf("Expected scaled gradients 0.6 and 0.8, got %f and %f", a.At(0, 0), b.At(0, 0))
	}

	c := mat.NewDense(1, 1, []float64{3})
	norm = clipGradNorm(map[string]*mat.Dense{"c": c}, 0)
	if norm != 3 || c.At(0, 0) != 3 {
		t.Errorf("Expected a non-positive limit to leave gradients alone, got norm %f value %f", norm, c.At(0, 0))
	}
}
