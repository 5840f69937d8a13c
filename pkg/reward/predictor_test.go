package reward

import (
	"testing"

	"nasenv/pkg/env"
	"nasenv/pkg/genotype"
)

type fakePredictor struct {
	dataset [][]float64
	graph   *genotype.Graph
	acc     float64
}

func (p *fakePredictor) EvaluateArchitecture(dataset [][]float64, g *genotype.Graph) (float64, error) {
	p.dataset = dataset
	p.graph = g
	return p.acc, nil
}

func uniformNormalized(nodes, ops int) [][][]float64 {
	rows := make([][][]float64, nodes)
	for i := range rows {
		rows[i] = make([][]float64, i+2)
		for j := range rows[i] {
			edge := make([]float64, ops)
			for k := range edge {
				edge[k] = 1.0 / float64(ops)
			}
			rows[i][j] = edge
		}
	}
	return rows
}

func imageBatch(samples, rows, cols int) env.Batch {
	b := env.Batch{Rows: rows, Cols: cols}
	for s := 0; s < samples; s++ {
		img := make([]float64, rows*cols)
		for i := range img {
			img[i] = float64(s)
		}
		b.Inputs = append(b.Inputs, img)
		b.Labels = append(b.Labels, s%2)
	}
	return b
}

func TestPredictorEstimate(t *testing.T) {
	pred := &fakePredictor{acc: 0.83}
	est, err := NewPredictorEstimator(pred, 4, nil)
	if err != nil {
		t.Fatalf("NewPredictorEstimator: %v", err)
	}

	task := fakeTask{train: []env.Batch{imageBatch(4, 8, 8)}}
	acc, err := est.Estimate(task, nil, uniformNormalized(3, 5))
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}

	if acc != 0.83 {
		t.Errorf("accuracy = %v, want the predictor's 0.83", acc)
	}
	if len(pred.dataset) != 4 {
		t.Fatalf("dataset has %d samples, want 4", len(pred.dataset))
	}
	for i, row := range pred.dataset {
		if len(row) != predictorFeatures {
			t.Errorf("sample %d has %d features, want %d", i, len(row), predictorFeatures)
		}
		if row[0] != float64(i) {
			t.Errorf("sample %d resized to %v, want %v", i, row[0], float64(i))
		}
	}

	if pred.graph == nil {
		t.Fatal("predictor never saw a graph")
	}
	if n := pred.graph.NumVertices(); n != 8 {
		t.Errorf("graph has %d vertices, want 8", n)
	}
	if !genotype.IsValidNASBench201(pred.graph) {
		t.Error("encoded graph is not a valid cell")
	}
}

func TestPredictorRejectsWrongBatchSize(t *testing.T) {
	est, err := NewPredictorEstimator(&fakePredictor{}, 8, nil)
	if err != nil {
		t.Fatalf("NewPredictorEstimator: %v", err)
	}

	task := fakeTask{train: []env.Batch{imageBatch(4, 8, 8)}}
	if _, err := est.Estimate(task, nil, uniformNormalized(3, 5)); err == nil {
		t.Fatal("expected error for a batch size mismatch")
	}
}

func TestPredictorRequiresTrainingBatches(t *testing.T) {
	est, err := NewPredictorEstimator(&fakePredictor{}, 4, nil)
	if err != nil {
		t.Fatalf("NewPredictorEstimator: %v", err)
	}

	if _, err := est.Estimate(fakeTask{}, nil, uniformNormalized(3, 5)); err == nil {
		t.Fatal("expected error for a task without training batches")
	}
}

func TestPredictorRejectsShortGenotype(t *testing.T) {
	est, err := NewPredictorEstimator(&fakePredictor{}, 4, nil)
	if err != nil {
		t.Fatalf("NewPredictorEstimator: %v", err)
	}

	// Two rows yield four genes; the fixed connection template needs six.
	task := fakeTask{train: []env.Batch{imageBatch(4, 8, 8)}}
	if _, err := est.Estimate(task, nil, uniformNormalized(2, 5)); err == nil {
		t.Fatal("expected error for a cell the template cannot encode")
	}
}

func TestResizeNearest(t *testing.T) {
	src := []float64{1, 2, 3, 4} // 2x2
	out := resizeNearest(src, 2, 2, 32, 16)

	if len(out) != 512 {
		t.Fatalf("output has %d values, want 512", len(out))
	}
	if out[0] != 1 {
		t.Errorf("top-left = %v, want 1", out[0])
	}
	if out[15] != 2 {
		t.Errorf("top-right = %v, want 2", out[15])
	}
	if out[31*16] != 3 {
		t.Errorf("bottom-left = %v, want 3", out[31*16])
	}
	if out[len(out)-1] != 4 {
		t.Errorf("bottom-right = %v, want 4", out[len(out)-1])
	}

	// The quadrant boundary falls at the halfway rows and columns.
	if out[15*16+7] != 1 || out[16*16+8] != 4 {
		t.Error("quadrant boundary misplaced")
	}
}
