package models

import (
	"time"
)

// SyncTarget identifies one of the downstream index targets
type SyncTarget string

const (
	TargetVector SyncTarget = "vector"
	TargetSearch SyncTarget = "search"
	TargetGraph  SyncTarget = "graph"
)

// DocumentState is the per-document bookkeeping row that drives idempotency
// and skip/reprocess decisions. At most one row exists per DocID; a missing
// row means the document is untracked.
type DocumentState struct {
	// DocID is <config_id>:<stable_path>, the shared key across the state
	// store and all index targets.
	DocID    string `json:"doc_id"`
	ConfigID string `json:"config_id"`

	// SourcePath is a human-readable path for display; may differ from the
	// stable path embedded in DocID.
	SourcePath string `json:"source_path"`

	// SourceID is the source-native identifier when the source exposes one
	// (file id / node id / object key / blob name).
	SourceID string `json:"source_id,omitempty"`

	// Ordinal is a monotonic microsecond-scale integer derived from the
	// source's modification timestamp; strictly non-decreasing per DocID.
	Ordinal int64 `json:"ordinal"`

	// ContentHash is the SHA-256 of the extracted text, hex-encoded. Empty
	// for rows seeded before hashing was introduced.
	ContentHash string `json:"content_hash,omitempty"`

	// ModifiedTimestamp is the source's own last-modified marker when
	// available, used for cheap change detection before any byte is fetched.
	ModifiedTimestamp *time.Time `json:"modified_timestamp,omitempty"`

	VectorSyncedAt *time.Time `json:"vector_synced_at,omitempty"`
	SearchSyncedAt *time.Time `json:"search_synced_at,omitempty"`
	GraphSyncedAt  *time.Time `json:"graph_synced_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SyncedAt returns the completion timestamp recorded for a target
func (s *DocumentState) SyncedAt(target SyncTarget) *time.Time {
	switch target {
	case TargetVector:
		return s.VectorSyncedAt
	case TargetSearch:
		return s.SearchSyncedAt
	case TargetGraph:
		return s.GraphSyncedAt
	}
	return nil
}

// SetSyncedAt records the completion timestamp for a target
func (s *DocumentState) SetSyncedAt(target SyncTarget, at *time.Time) {
	switch target {
	case TargetVector:
		s.VectorSyncedAt = at
	case TargetSearch:
		s.SearchSyncedAt = at
	case TargetGraph:
		s.GraphSyncedAt = at
	}
}
