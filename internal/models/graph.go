package models

// GraphEntity is an extracted knowledge-graph node. Properties always
// carry the originating doc id so entities can be co-deleted with their
// document.
type GraphEntity struct {
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Properties map[string]string `json:"properties,omitempty"`
}

// GraphRelation is a directed edge between two extracted entities
type GraphRelation struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
}
