package tasks

import (
	"fmt"
	"math/rand"

	"nasenv/pkg/env"
)

// TaskSpec describes one generated task. Zero values fall back to
// usable defaults: test shots match shots, one batch, noise 0.1, the
// train split, a 100-class pool and a seed hashed from the name.
type TaskSpec struct {
	Name      string  `yaml:"name"`
	Ways      int     `yaml:"ways"`
	Shots     int     `yaml:"shots"`
	TestShots int     `yaml:"test_shots"`
	Rows      int     `yaml:"rows"`
	Cols      int     `yaml:"cols"`
	Batches   int     `yaml:"batches"`
	Noise     float64 `yaml:"noise"`
	Split     string  `yaml:"split"`
	Classes   int     `yaml:"classes"`
	Seed      int64   `yaml:"seed"`
}

func (s TaskSpec) withDefaults() TaskSpec {
	if s.TestShots <= 0 {
		s.TestShots = s.Shots
	}
	if s.Batches <= 0 {
		s.Batches = 1
	}
	if s.Noise <= 0 {
		s.Noise = 0.1
	}
	if s.Split == "" {
		s.Split = SplitTrain
	}
	if s.Classes <= 0 {
		s.Classes = 100
	}
	if s.Seed == 0 {
		s.Seed = nameSeed(s.Name)
	}
	return s
}

// Generate materializes a task from its spec. Class prototypes are
// uniform pixel patterns, samples add clipped gaussian noise around
// them, and labels are class positions within the episode.
func Generate(spec TaskSpec) (*FewShotTask, error) {
	spec = spec.withDefaults()
	if spec.Name == "" {
		return nil, fmt.Errorf("task spec has no name")
	}
	if spec.Ways <= 0 || spec.Shots <= 0 {
		return nil, fmt.Errorf("task %s needs positive ways and shots", spec.Name)
	}
	if spec.Rows <= 0 || spec.Cols <= 0 {
		return nil, fmt.Errorf("task %s needs a positive sample shape", spec.Name)
	}
	lo, hi, err := splitRange(spec.Split, spec.Classes)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", spec.Name, err)
	}
	if hi-lo < spec.Ways {
		return nil, fmt.Errorf("task %s wants %d ways from the %d classes of split %s",
			spec.Name, spec.Ways, hi-lo, spec.Split)
	}

	features := spec.Rows * spec.Cols
	protoRng := rand.New(rand.NewSource(spec.Seed))
	pool := make([][]float64, spec.Classes)
	for c := range pool {
		pool[c] = make([]float64, features)
		for k := range pool[c] {
			pool[c][k] = protoRng.Float64()
		}
	}

	sampleRng := rand.New(rand.NewSource(spec.Seed + 1))
	classes := make([]int, spec.Ways)
	for i, p := range sampleRng.Perm(hi - lo)[:spec.Ways] {
		classes[i] = lo + p
	}

	task := &FewShotTask{
		name:       spec.Name,
		numSamples: spec.Ways * spec.Shots,
	}
	for b := 0; b < spec.Batches; b++ {
		task.train = append(task.train, drawBatch(spec, pool, classes, spec.Shots, sampleRng))
		task.val = append(task.val, drawBatch(spec, pool, classes, spec.TestShots, sampleRng))
	}
	return task, nil
}

// drawBatch samples shots noisy copies of every episode class and
// shuffles them together.
func drawBatch(spec TaskSpec, pool [][]float64, classes []int, shots int, rng *rand.Rand) env.Batch {
	inputs := make([][]float64, 0, len(classes)*shots)
	labels := make([]int, 0, len(classes)*shots)
	for w, class := range classes {
		for s := 0; s < shots; s++ {
			sample := make([]float64, len(pool[class]))
			for k, v := range pool[class] {
				sample[k] = clamp01(v + rng.NormFloat64()*spec.Noise)
			}
			inputs = append(inputs, sample)
			labels = append(labels, w)
		}
	}
	rng.Shuffle(len(inputs), func(i, j int) {
		inputs[i], inputs[j] = inputs[j], inputs[i]
		labels[i], labels[j] = labels[j], labels[i]
	})
	return env.Batch{Inputs: inputs, Labels: labels, Rows: spec.Rows, Cols: spec.Cols}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
