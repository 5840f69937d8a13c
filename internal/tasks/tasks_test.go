package tasks

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestGenerateShapes(t *testing.T) {
	spec := TaskSpec{
		Name: "shapes", Ways: 3, Shots: 2, TestShots: 4,
		Rows: 2, Cols: 3, Batches: 2, Classes: 30, Seed: 5,
	}
	task, err := Generate(spec)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if task.Name() != "shapes" {
		t.Errorf("Expected name 'shapes', got %q", task.Name())
	}
	if task.NumSamples() != 6 {
		t.Errorf("Expected 6 support samples, got %d", task.NumSamples())
	}
	if len(task.TrainBatches()) != 2 || len(task.ValBatches()) != 2 {
		t.Fatalf("Expected 2 train and 2 val batches, got %d and %d",
			len(task.TrainBatches()), len(task.ValBatches()))
	}

	for _, b := range task.TrainBatches() {
		if len(b.Inputs) != 6 || len(b.Labels) != 6 {
			t.Fatalf("Expected 6 support samples per batch, got %d/%d", len(b.Inputs), len(b.Labels))
		}
		if b.Rows != 2 || b.Cols != 3 {
			t.Errorf("Expected 2x3 samples, got %dx%d", b.Rows, b.Cols)
		}
		counts := map[int]int{}
		for i, s := range b.Inputs {
			if len(s) != 6 {
				t.Fatalf("Expected 6 features, got %d", len(s))
			}
			for _, v := range s {
				if v < 0 || v > 1 {
					t.Fatalf("Expected samples in [0, 1], got %f", v)
				}
			}
			counts[b.Labels[i]]++
		}
		for w := 0; w < 3; w++ {
			if counts[w] != 2 {
				t.Errorf("Expected 2 samples of class %d, got %d", w, counts[w])
			}
		}
	}
	for _, b := range task.ValBatches() {
		if len(b.Inputs) != 12 {
			t.Fatalf("Expected 12 query samples per batch, got %d", len(b.Inputs))
		}
		counts := map[int]int{}
		for _, l := range b.Labels {
			counts[l]++
		}
		for w := 0; w < 3; w++ {
			if counts[w] != 4 {
				t.Errorf("Expected 4 query samples of class %d, got %d", w, counts[w])
			}
		}
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	spec := TaskSpec{Name: "det", Ways: 2, Shots: 3, Rows: 4, Cols: 4, Seed: 9}
	a, err := Generate(spec)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	b, err := Generate(spec)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !reflect.DeepEqual(a.TrainBatches(), b.TrainBatches()) {
		t.Error("Expected identical support batches for the same spec")
	}
	if !reflect.DeepEqual(a.ValBatches(), b.ValBatches()) {
		t.Error("Expected identical query batches for the same spec")
	}

	spec.Seed = 10
	c, err := Generate(spec)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if reflect.DeepEqual(a.TrainBatches()[0].Inputs[0], c.TrainBatches()[0].Inputs[0]) {
		t.Error("Expected a different seed to change the samples")
	}
}

func TestGenerateAppliesDefaults(t *testing.T) {
	task, err := Generate(TaskSpec{Name: "defaults", Ways: 2, Shots: 3, Rows: 2, Cols: 2, Seed: 4})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(task.TrainBatches()) != 1 {
		t.Errorf("Expected 1 batch by default, got %d", len(task.TrainBatches()))
	}
	// Test shots fall back to shots.
	if got := len(task.ValBatches()[0].Inputs); got != 6 {
		t.Errorf("Expected 6 query samples, got %d", got)
	}
}

func TestGenerateValidation(t *testing.T) {
	cases := []struct {
		name string
		spec TaskSpec
	}{
		{"no name", TaskSpec{Ways: 2, Shots: 1, Rows: 2, Cols: 2}},
		{"zero ways", TaskSpec{Name: "x", Shots: 1, Rows: 2, Cols: 2}},
		{"zero shape", TaskSpec{Name: "x", Ways: 2, Shots: 1}},
		{"bad split", TaskSpec{Name: "x", Ways: 2, Shots: 1, Rows: 2, Cols: 2, Split: "holdout"}},
		{"pool too small", TaskSpec{Name: "x", Ways: 7, Shots: 1, Rows: 2, Cols: 2, Classes: 10}},
	}
	for _, tc := range cases {
		if _, err := Generate(tc.spec); err == nil {
			t.Errorf("Expected error for %s, got nil", tc.name)
		}
	}
}

func TestSplitRanges(t *testing.T) {
	lo, hi, err := splitRange(SplitTrain, 100)
	if err != nil || lo != 0 || hi != 64 {
		t.Errorf("Expected train split [0, 64), got [%d, %d) err %v", lo, hi, err)
	}
	lo, hi, err = splitRange(SplitVal, 100)
	if err != nil || lo != 64 || hi != 80 {
		t.Errorf("Expected val split [64, 80), got [%d, %d) err %v", lo, hi, err)
	}
	lo, hi, err = splitRange(SplitTest, 100)
	if err != nil || lo != 80 || hi != 100 {
		t.Errorf("Expected test split [80, 100), got [%d, %d) err %v", lo, hi, err)
	}
	if _, _, err := splitRange("meta", 100); err == nil {
		t.Error("Expected error for unknown split, got nil")
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.yaml")
	manifest := `classes: 40
seed: 7
tasks:
  - name: small
    ways: 2
    shots: 2
    rows: 3
    cols: 3
  - name: wide
    ways: 4
    shots: 1
    rows: 2
    cols: 8
    split: test
`
	if err := os.WriteFile(path, []byte(manifest), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}
	if got := m.Names(); !reflect.DeepEqual(got, []string{"small", "wide"}) {
		t.Errorf("Expected names [small wide], got %v", got)
	}

	task, err := m.Task("small")
	if err != nil {
		t.Fatalf("Task failed: %v", err)
	}
	if task.NumSamples() != 4 {
		t.Errorf("Expected 4 support samples, got %d", task.NumSamples())
	}
	if len(task.TrainBatches()[0].Inputs[0]) != 9 {
		t.Errorf("Expected 9 features, got %d", len(task.TrainBatches()[0].Inputs[0]))
	}

	if _, err := m.Task("missing"); err == nil {
		t.Error("Expected error for unknown task, got nil")
	}
}

func TestManifestSpecAppliesDefaults(t *testing.T) {
	m := &Manifest{
		Classes: 40,
		Seed:    7,
		Tasks:   []TaskSpec{{Name: "small", Ways: 2, Shots: 2, Rows: 3, Cols: 3}},
	}

	spec, err := m.Spec("small")
	if err != nil {
		t.Fatalf("Spec failed: %v", err)
	}
	if spec.Classes != 40 {
		t.Errorf("Expected the manifest class pool 40, got %d", spec.Classes)
	}
	if spec.Seed != 7+nameSeed("small") {
		t.Errorf("Expected the combined seed %d, got %d", 7+nameSeed("small"), spec.Seed)
	}
	if spec.TestShots != 2 {
		t.Errorf("Expected test shots to default to shots, got %d", spec.TestShots)
	}
	if spec.Batches != 1 {
		t.Errorf("Expected one batch by default, got %d", spec.Batches)
	}

	if _, err := m.Spec("missing"); err == nil {
		t.Error("Expected error for unknown spec, got nil")
	}
}

func TestLoadManifestRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadManifest(filepath.Join(dir, "absent.yaml")); err == nil {
		t.Error("Expected error for a missing file, got nil")
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("tasks: [name: 3, {"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := LoadManifest(bad); err == nil {
		t.Error("Expected error for malformed YAML, got nil")
	}

	dup := filepath.Join(dir, "dup.yaml")
	content := "tasks:\n  - name: a\n    ways: 2\n    shots: 1\n    rows: 2\n    cols: 2\n  - name: a\n    ways: 2\n    shots: 1\n    rows: 2\n    cols: 2\n"
	if err := os.WriteFile(dup, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := LoadManifest(dup); err == nil {
		t.Error("Expected error for duplicate task names, got nil")
	}
}

func TestDefaultManifestBuilds(t *testing.T) {
	m := DefaultManifest()
	for _, name := range m.Names() {
		task, err := m.Task(name)
		if err != nil {
			t.Fatalf("Task %s failed: %v", name, err)
		}
		if len(task.TrainBatches()) == 0 || len(task.ValBatches()) == 0 {
			t.Errorf("Expected %s to carry batches", name)
		}
		if got := len(task.TrainBatches()[0].Inputs[0]); got != 64 {
			t.Errorf("Expected 64 features for %s, got %d", name, got)
		}
	}
}
