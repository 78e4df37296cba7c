package types

// Event is the flattened, wire-friendly form of an engine event.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
