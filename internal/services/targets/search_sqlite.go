package targets

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/concordia/internal/models"
)

// SearchTarget is the full-text index target backed by the relational
// store's FTS5 virtual table. Triggers keep the FTS shadow table in sync,
// so the target only writes the base table.
type SearchTarget struct {
	db     *sql.DB
	logger arbor.ILogger
}

// NewSearchTarget creates the search target on an open database handle
func NewSearchTarget(db *sql.DB, logger arbor.ILogger) *SearchTarget {
	return &SearchTarget{db: db, logger: logger}
}

// Name identifies this target in state-store timestamp columns
func (t *SearchTarget) Name() models.SyncTarget {
	return models.TargetSearch
}

// Upsert writes one document row, replacing any previous content
func (t *SearchTarget) Upsert(ctx context.Context, doc *models.ParsedDocument) error {
	query := `
		INSERT INTO search_documents (doc_id, path, source_type, ordinal, content, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			path = excluded.path,
			source_type = excluded.source_type,
			ordinal = excluded.ordinal,
			content = excluded.content,
			updated_at = excluded.updated_at`

	_, err := t.db.ExecContext(ctx, query,
		doc.Meta.DocID, doc.Meta.Path, doc.Meta.SourceType, doc.Meta.Ordinal,
		doc.Text, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert search document %s: %w", doc.Meta.DocID, err)
	}
	return nil
}

// Delete removes a document; deleting an absent id is success
func (t *SearchTarget) Delete(ctx context.Context, docID string) error {
	_, err := t.db.ExecContext(ctx, "DELETE FROM search_documents WHERE doc_id = ?", docID)
	if err != nil {
		return fmt.Errorf("failed to delete search document %s: %w", docID, err)
	}
	return nil
}

// Contains reports whether a document is indexed
func (t *SearchTarget) Contains(ctx context.Context, docID string) (bool, error) {
	var count int
	err := t.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM search_documents WHERE doc_id = ?", docID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to probe search document %s: %w", docID, err)
	}
	return count > 0, nil
}

// SearchResult is one full-text match
type SearchResult struct {
	DocID      string
	Path       string
	SourceType string
	Snippet    string
}

// Search runs an FTS5 match query, best matches first
func (t *SearchTarget) Search(ctx context.Context, match string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT d.doc_id, d.path, d.source_type,
		       snippet(search_documents_fts, 1, '[', ']', '…', 16)
		FROM search_documents_fts f
		JOIN search_documents d ON d.rowid = f.rowid
		WHERE search_documents_fts MATCH ?
		ORDER BY rank
		LIMIT ?`

	rows, err := t.db.QueryContext(ctx, query, match, limit)
	if err != nil {
		return nil, fmt.Errorf("search query failed: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.DocID, &r.Path, &r.SourceType, &r.Snippet); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
