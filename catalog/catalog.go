// Package catalog provides the immutable table of exercises.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/everydev1618/examlab"
)

// MaxExercises bounds the exercise id range.
const MaxExercises = 20

//go:embed exercises.yaml
var defaultCatalog []byte

// Catalog is a read-only lookup table of exercises, ordered by id.
type Catalog struct {
	exercises []examlab.Exercise
	byID      map[int]examlab.Exercise
}

type catalogFile struct {
	Exercises []examlab.Exercise `yaml:"exercises"`
}

// Load returns the embedded catalog.
func Load() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// LoadFile reads a catalog from a YAML file on disk.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	return New(f.Exercises)
}

// New validates exercises and builds a catalog from them.
func New(exercises []examlab.Exercise) (*Catalog, error) {
	if len(exercises) == 0 {
		return nil, fmt.Errorf("catalog is empty")
	}

	c := &Catalog{
		exercises: make([]examlab.Exercise, 0, len(exercises)),
		byID:      make(map[int]examlab.Exercise, len(exercises)),
	}
	for _, ex := range exercises {
		if ex.ID < 1 || ex.ID > MaxExercises {
			return nil, fmt.Errorf("exercise id %d out of range 1..%d", ex.ID, MaxExercises)
		}
		if _, dup := c.byID[ex.ID]; dup {
			return nil, fmt.Errorf("duplicate exercise id %d", ex.ID)
		}
		if !ex.Group.Valid() {
			return nil, fmt.Errorf("exercise %d: invalid group %q", ex.ID, ex.Group)
		}
		if ex.Title == "" {
			return nil, fmt.Errorf("exercise %d: missing title", ex.ID)
		}
		c.byID[ex.ID] = ex
		c.exercises = append(c.exercises, ex)
	}

	sort.Slice(c.exercises, func(i, j int) bool {
		return c.exercises[i].ID < c.exercises[j].ID
	})
	return c, nil
}

// Get looks up an exercise by id.
func (c *Catalog) Get(id int) (examlab.Exercise, bool) {
	ex, ok := c.byID[id]
	return ex, ok
}

// Has reports whether id is in the catalog.
func (c *Catalog) Has(id int) bool {
	_, ok := c.byID[id]
	return ok
}

// All returns every exercise ordered by id. The slice is a copy.
func (c *Catalog) All() []examlab.Exercise {
	return append([]examlab.Exercise(nil), c.exercises...)
}

// IDs returns every exercise id in ascending order.
func (c *Catalog) IDs() []int {
	ids := make([]int, len(c.exercises))
	for i, ex := range c.exercises {
		ids[i] = ex.ID
	}
	return ids
}

// Len returns the number of exercises.
func (c *Catalog) Len() int {
	return len(c.exercises)
}
