package models

// ParsedDocumentMeta is the metadata bundle attached to extracted text
type ParsedDocumentMeta struct {
	DocID      string `json:"doc_id"`
	Path       string `json:"path"` // stable path
	SourceType string `json:"source_type"`
	Ordinal    int64  `json:"ordinal"`
}

// ParsedDocument is the output of a DocumentProcessor: final extracted text
// plus the identity metadata every index target keys on.
type ParsedDocument struct {
	ID       string             `json:"id"` // equals Meta.DocID
	Text     string             `json:"text"`
	Meta     ParsedDocumentMeta `json:"meta"`
}
