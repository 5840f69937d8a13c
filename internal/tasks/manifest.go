package tasks

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// maxManifestSize caps manifest files at 1MB.
const maxManifestSize = 1024 * 1024

// Manifest is a named collection of task specs. Classes and Seed are
// pool-level defaults applied to specs that leave them unset.
type Manifest struct {
	Classes int        `yaml:"classes"`
	Seed    int64      `yaml:"seed"`
	Tasks   []TaskSpec `yaml:"tasks"`
}

// LoadManifest reads and validates a YAML manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading task manifest: %w", err)
	}
	if len(data) > maxManifestSize {
		return nil, fmt.Errorf("task manifest %s exceeds %d bytes", path, maxManifestSize)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing task manifest %s: %w", path, err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("task manifest %s: %w", path, err)
	}
	return &m, nil
}

// DefaultManifest returns the built-in tasks used when no manifest file
// is given. Their shapes line up with the default model dimensions.
func DefaultManifest() *Manifest {
	return &Manifest{
		Classes: 100,
		Seed:    1,
		Tasks: []TaskSpec{
			{Name: "clusters-5way-3shot", Ways: 5, Shots: 3, TestShots: 6, Rows: 8, Cols: 8},
			{Name: "clusters-5way-1shot", Ways: 5, Shots: 1, TestShots: 4, Rows: 8, Cols: 8},
			{Name: "clusters-holdout-5way-3shot", Ways: 5, Shots: 3, TestShots: 6, Rows: 8, Cols: 8, Split: SplitTest},
		},
	}
}

func (m *Manifest) validate() error {
	if len(m.Tasks) == 0 {
		return fmt.Errorf("no tasks defined")
	}
	seen := make(map[string]bool, len(m.Tasks))
	for i, spec := range m.Tasks {
		if spec.Name == "" {
			return fmt.Errorf("task %d has no name", i)
		}
		if seen[spec.Name] {
			return fmt.Errorf("task name %q appears twice", spec.Name)
		}
		seen[spec.Name] = true
	}
	return nil
}

// Names lists the task names in manifest order.
func (m *Manifest) Names() []string {
	names := make([]string, len(m.Tasks))
	for i, spec := range m.Tasks {
		names[i] = spec.Name
	}
	return names
}

// Spec returns the named spec with the manifest defaults folded in, so
// callers can size models before generating the task itself.
func (m *Manifest) Spec(name string) (TaskSpec, error) {
	for _, spec := range m.Tasks {
		if spec.Name != name {
			continue
		}
		if spec.Classes <= 0 {
			spec.Classes = m.Classes
		}
		if spec.Seed == 0 && m.Seed != 0 {
			spec.Seed = m.Seed + nameSeed(name)
		}
		return spec.withDefaults(), nil
	}
	return TaskSpec{}, fmt.Errorf("task %q is not in the manifest", name)
}

// Task generates the named task with the manifest defaults applied.
func (m *Manifest) Task(name string) (*FewShotTask, error) {
	spec, err := m.Spec(name)
	if err != nil {
		return nil, err
	}
	return Generate(spec)
}
