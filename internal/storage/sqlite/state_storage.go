package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/concordia/internal/interfaces"
	"github.com/ternarybob/concordia/internal/models"
)

// hashBackfillWindow is how recently a row must have been vector-synced for
// a missing content hash to be backfilled in place instead of reprocessed.
const hashBackfillWindow = 5 * time.Minute

// StateStorage implements interfaces.StateStorage for SQLite
type StateStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewStateStorage creates a new StateStorage instance
func NewStateStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.StateStorage {
	return &StateStorage{
		db:     db,
		logger: logger,
	}
}

const stateColumns = `doc_id, config_id, source_path, source_id, ordinal, content_hash,
	modified_timestamp, vector_synced_at, search_synced_at, graph_synced_at,
	created_at, updated_at`

// Get returns the state row for a doc id, or nil when untracked
func (s *StateStorage) Get(ctx context.Context, docID string) (*models.DocumentState, error) {
	row := s.db.DB().QueryRowContext(ctx,
		`SELECT `+stateColumns+` FROM document_state WHERE doc_id = ?`, docID)

	state, err := scanState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document state: %w", err)
	}
	return state, nil
}

// GetBySourceID returns the state row matching a source-native id
func (s *StateStorage) GetBySourceID(ctx context.Context, configID, sourceID string) (*models.DocumentState, error) {
	if sourceID == "" {
		return nil, nil
	}

	row := s.db.DB().QueryRowContext(ctx,
		`SELECT `+stateColumns+` FROM document_state WHERE config_id = ? AND source_id = ?`,
		configID, sourceID)

	state, err := scanState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document state by source id: %w", err)
	}
	return state, nil
}

// GetAllForConfig returns every tracked document for one source
func (s *StateStorage) GetAllForConfig(ctx context.Context, configID string) ([]*models.DocumentState, error) {
	rows, err := s.db.DB().QueryContext(ctx,
		`SELECT `+stateColumns+` FROM document_state WHERE config_id = ? ORDER BY doc_id`, configID)
	if err != nil {
		return nil, fmt.Errorf("failed to list document states: %w", err)
	}
	defer rows.Close()

	var states []*models.DocumentState
	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document state: %w", err)
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

// ShouldProcess applies the skip/reprocess decision table
func (s *StateStorage) ShouldProcess(ctx context.Context, docID string, newOrdinal int64, newContentHash string) (bool, string, error) {
	prior, err := s.Get(ctx, docID)
	if err != nil {
		return false, "", err
	}

	if prior == nil {
		return true, "new document", nil
	}

	// Monotonic invariance: stale and duplicate ordinals never reprocess
	if newOrdinal <= prior.Ordinal {
		return false, "file already processed", nil
	}

	if prior.ContentHash == "" {
		// Rows written before hashing was introduced: a recently synced row
		// gets its hash backfilled without a reprocess.
		if prior.VectorSyncedAt != nil && time.Since(*prior.VectorSyncedAt) < hashBackfillWindow {
			if newContentHash != "" {
				if err := s.UpdateHash(ctx, docID, newContentHash); err != nil {
					return false, "", err
				}
			}
			return false, "hash backfilled for recently synced document", nil
		}
		return true, "no stored content hash", nil
	}

	if newContentHash != "" && newContentHash == prior.ContentHash {
		if err := s.UpdateOrdinal(ctx, docID, newOrdinal); err != nil {
			return false, "", err
		}
		return false, "content unchanged", nil
	}

	return true, "content changed", nil
}

// Save upserts a state row by doc id. The stored ordinal never decreases
// and an empty incoming source id retains the stored one.
func (s *StateStorage) Save(ctx context.Context, state *models.DocumentState) error {
	if state.DocID == "" {
		return fmt.Errorf("doc id is required")
	}

	now := time.Now()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = now
	}
	state.UpdatedAt = now

	query := `
		INSERT INTO document_state (
			doc_id, config_id, source_path, source_id, ordinal, content_hash,
			modified_timestamp, vector_synced_at, search_synced_at, graph_synced_at,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			config_id = excluded.config_id,
			source_path = excluded.source_path,
			source_id = COALESCE(NULLIF(excluded.source_id, ''), document_state.source_id),
			ordinal = MAX(excluded.ordinal, document_state.ordinal),
			content_hash = excluded.content_hash,
			modified_timestamp = excluded.modified_timestamp,
			vector_synced_at = excluded.vector_synced_at,
			search_synced_at = excluded.search_synced_at,
			graph_synced_at = excluded.graph_synced_at,
			updated_at = excluded.updated_at
	`

	_, err := s.db.DB().ExecContext(ctx, query,
		state.DocID,
		state.ConfigID,
		state.SourcePath,
		state.SourceID,
		state.Ordinal,
		nullString(state.ContentHash),
		nullTimeMicro(state.ModifiedTimestamp),
		nullTimeUnix(state.VectorSyncedAt),
		nullTimeUnix(state.SearchSyncedAt),
		nullTimeUnix(state.GraphSyncedAt),
		state.CreatedAt.Unix(),
		state.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save document state: %w", err)
	}
	return nil
}

// UpdateOrdinal bumps the ordinal in place without reprocessing
func (s *StateStorage) UpdateOrdinal(ctx context.Context, docID string, ordinal int64) error {
	_, err := s.db.DB().ExecContext(ctx,
		`UPDATE document_state SET ordinal = MAX(ordinal, ?), updated_at = ? WHERE doc_id = ?`,
		ordinal, time.Now().Unix(), docID)
	if err != nil {
		return fmt.Errorf("failed to update ordinal: %w", err)
	}
	return nil
}

// UpdateHash records a content hash in place without reprocessing
func (s *StateStorage) UpdateHash(ctx context.Context, docID, contentHash string) error {
	_, err := s.db.DB().ExecContext(ctx,
		`UPDATE document_state SET content_hash = ?, updated_at = ? WHERE doc_id = ?`,
		contentHash, time.Now().Unix(), docID)
	if err != nil {
		return fmt.Errorf("failed to update content hash: %w", err)
	}
	return nil
}

// MarkTargetSynced records per-target completion independently so partial
// success leaves an accurate record for the next refresh
func (s *StateStorage) MarkTargetSynced(ctx context.Context, docID string, target models.SyncTarget) error {
	var column string
	switch target {
	case models.TargetVector:
		column = "vector_synced_at"
	case models.TargetSearch:
		column = "search_synced_at"
	case models.TargetGraph:
		column = "graph_synced_at"
	default:
		return fmt.Errorf("unknown sync target: %s", target)
	}

	now := time.Now().Unix()
	query := fmt.Sprintf(`UPDATE document_state SET %s = ?, updated_at = ? WHERE doc_id = ?`, column)
	_, err := s.db.DB().ExecContext(ctx, query, now, now, docID)
	if err != nil {
		return fmt.Errorf("failed to mark %s synced: %w", target, err)
	}
	return nil
}

// MarkDeleted hard-deletes the state row
func (s *StateStorage) MarkDeleted(ctx context.Context, docID string) error {
	_, err := s.db.DB().ExecContext(ctx, `DELETE FROM document_state WHERE doc_id = ?`, docID)
	if err != nil {
		return fmt.Errorf("failed to delete document state: %w", err)
	}
	return nil
}

func scanState(row scanner) (*models.DocumentState, error) {
	var (
		state      models.DocumentState
		sourceID   sql.NullString
		hash       sql.NullString
		modifiedAt sql.NullInt64
		vectorAt   sql.NullInt64
		searchAt   sql.NullInt64
		graphAt    sql.NullInt64
		createdAt  int64
		updatedAt  int64
	)

	err := row.Scan(
		&state.DocID,
		&state.ConfigID,
		&state.SourcePath,
		&sourceID,
		&state.Ordinal,
		&hash,
		&modifiedAt,
		&vectorAt,
		&searchAt,
		&graphAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	state.SourceID = sourceID.String
	state.ContentHash = hash.String
	if modifiedAt.Valid {
		t := time.UnixMicro(modifiedAt.Int64)
		state.ModifiedTimestamp = &t
	}
	if vectorAt.Valid {
		t := time.Unix(vectorAt.Int64, 0)
		state.VectorSyncedAt = &t
	}
	if searchAt.Valid {
		t := time.Unix(searchAt.Int64, 0)
		state.SearchSyncedAt = &t
	}
	if graphAt.Valid {
		t := time.Unix(graphAt.Int64, 0)
		state.GraphSyncedAt = &t
	}
	state.CreatedAt = time.Unix(createdAt, 0)
	state.UpdatedAt = time.Unix(updatedAt, 0)

	return &state, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullTimeUnix(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func nullTimeMicro(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixMicro()
}
