package checker

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed checkers.yaml
var defaultCheckers []byte

// ProbeSpec is the declarative form of a probe.
type ProbeSpec struct {
	Name   string         `yaml:"name"`
	Kind   string         `yaml:"kind"`
	Params map[string]any `yaml:"params"`
}

type checkersFile struct {
	Checkers map[int][]ProbeSpec `yaml:"checkers"`
}

// Registry maps exercise ids to their ordered probes.
type Registry struct {
	checkers map[int][]Probe
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{checkers: make(map[int][]Probe)}
}

// Load returns the embedded checker table.
func Load() (*Registry, error) {
	return Parse(defaultCheckers)
}

// LoadFile reads a checker table from a YAML file on disk.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading checkers: %w", err)
	}
	return Parse(data)
}

// Parse decodes a checker table and builds every probe in it.
func Parse(data []byte) (*Registry, error) {
	var f checkersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing checkers: %w", err)
	}

	r := NewRegistry()
	for id, specs := range f.Checkers {
		if len(specs) == 0 {
			return nil, fmt.Errorf("exercise %d: checker has no probes", id)
		}
		probes := make([]Probe, 0, len(specs))
		seen := make(map[string]bool, len(specs))
		for _, s := range specs {
			if seen[s.Name] {
				return nil, fmt.Errorf("exercise %d: duplicate probe name %q", id, s.Name)
			}
			seen[s.Name] = true
			p, err := NewProbe(s.Name, s.Kind, s.Params)
			if err != nil {
				return nil, fmt.Errorf("exercise %d: %w", id, err)
			}
			probes = append(probes, p)
		}
		r.checkers[id] = probes
	}
	return r, nil
}

// Register sets the probes for an exercise, replacing any existing ones.
func (r *Registry) Register(id int, probes ...Probe) {
	r.checkers[id] = append([]Probe(nil), probes...)
}

// Probes returns the probes for an exercise in evaluation order.
func (r *Registry) Probes(id int) ([]Probe, bool) {
	p, ok := r.checkers[id]
	if !ok || len(p) == 0 {
		return nil, false
	}
	return append([]Probe(nil), p...), true
}

// Has reports whether an exercise has a checker.
func (r *Registry) Has(id int) bool {
	_, ok := r.Probes(id)
	return ok
}

// IDs returns the exercises with a checker, sorted.
func (r *Registry) IDs() []int {
	ids := make([]int, 0, len(r.checkers))
	for id := range r.checkers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
