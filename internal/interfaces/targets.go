package interfaces

import (
	"context"

	"github.com/ternarybob/concordia/internal/models"
)

// IndexTarget is one downstream index keyed by doc id. Upsert and Delete
// are individually idempotent; a version conflict on delete counts as
// success because the desired end state is already present.
type IndexTarget interface {
	Name() models.SyncTarget
	Upsert(ctx context.Context, doc *models.ParsedDocument) error
	Delete(ctx context.Context, docID string) error
}

// ContainsProber is an optional IndexTarget capability; implementations
// without it are tolerated and the engine falls back to the state row.
type ContainsProber interface {
	Contains(ctx context.Context, docID string) (bool, error)
}

// DocumentProcessor turns a byte stream into extracted text. External
// collaborator; the core consumes it through this interface only.
type DocumentProcessor interface {
	Process(ctx context.Context, content []byte, meta models.ParsedDocumentMeta) ([]*models.ParsedDocument, error)
}

// EntityExtractor produces knowledge-graph triples from extracted text.
// External collaborator used by the graph target.
type EntityExtractor interface {
	Extract(ctx context.Context, docID, text string) ([]models.GraphEntity, []models.GraphRelation, error)
}
