package examlab

import "fmt"

// Group is the exam node an exercise belongs to.
type Group string

const (
	GroupNode1 Group = "NODE1"
	GroupNode2 Group = "NODE2"
)

// Valid reports whether g is a known group.
func (g Group) Valid() bool {
	return g == GroupNode1 || g == GroupNode2
}

// Exercise is one fixed administration task. Exercises are created once at
// startup and never mutated.
type Exercise struct {
	ID           int    `json:"id" yaml:"id"`
	Group        Group  `json:"group" yaml:"group"`
	Title        string `json:"title" yaml:"title"`
	Instructions string `json:"instructions" yaml:"instructions"`
}

// ContainerName returns the engine-side name for an exercise container.
func ContainerName(prefix string, id int) string {
	return fmt.Sprintf("%s%d", prefix, id)
}
