package targets

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/concordia/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// VectorDocument is one record in the dense-vector target. Embeddings are
// produced downstream by the vector search service; this target owns the
// document text and identity only.
type VectorDocument struct {
	DocID      string `badgerhold:"key"`
	Path       string
	SourceType string `badgerhold:"index"`
	Ordinal    int64
	Text       string
	UpdatedAt  time.Time
}

// VectorTarget is the dense-vector index target backed by Badger
type VectorTarget struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewVectorTarget creates the vector target on an open Badger store
func NewVectorTarget(db *BadgerDB, logger arbor.ILogger) *VectorTarget {
	return &VectorTarget{db: db, logger: logger}
}

// Name identifies this target in state-store timestamp columns
func (t *VectorTarget) Name() models.SyncTarget {
	return models.TargetVector
}

// Upsert writes one document record, replacing any previous version
func (t *VectorTarget) Upsert(ctx context.Context, doc *models.ParsedDocument) error {
	record := &VectorDocument{
		DocID:      doc.Meta.DocID,
		Path:       doc.Meta.Path,
		SourceType: doc.Meta.SourceType,
		Ordinal:    doc.Meta.Ordinal,
		Text:       doc.Text,
		UpdatedAt:  time.Now(),
	}
	if err := t.db.Store().Upsert(record.DocID, record); err != nil {
		return fmt.Errorf("failed to upsert vector document %s: %w", record.DocID, err)
	}
	return nil
}

// Delete removes a document; deleting an absent id is success
func (t *VectorTarget) Delete(ctx context.Context, docID string) error {
	err := t.db.Store().Delete(docID, &VectorDocument{})
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete vector document %s: %w", docID, err)
	}
	return nil
}

// Contains reports whether a document is indexed
func (t *VectorTarget) Contains(ctx context.Context, docID string) (bool, error) {
	var doc VectorDocument
	err := t.db.Store().Get(docID, &doc)
	if err == badgerhold.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to probe vector document %s: %w", docID, err)
	}
	return true, nil
}

// Get returns one record, nil when absent
func (t *VectorTarget) Get(ctx context.Context, docID string) (*VectorDocument, error) {
	var doc VectorDocument
	err := t.db.Store().Get(docID, &doc)
	if err == badgerhold.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vector document %s: %w", docID, err)
	}
	return &doc, nil
}

// CountBySourceType returns the number of indexed documents per source
func (t *VectorTarget) CountBySourceType(ctx context.Context, sourceType string) (int, error) {
	count, err := t.db.Store().Count(&VectorDocument{}, badgerhold.Where("SourceType").Eq(sourceType))
	if err != nil {
		return 0, fmt.Errorf("failed to count vector documents: %w", err)
	}
	return int(count), nil
}
