package types

// Event represents a structured state change emitted by the node.
type Event struct {
	Type       string
	Attributes map[string]string
}
