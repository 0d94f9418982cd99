package interfaces

import (
	"context"

	"github.com/ternarybob/concordia/internal/models"
)

// ConfigWatchOp classifies a configuration watch event
type ConfigWatchOp string

const (
	WatchInsert ConfigWatchOp = "insert"
	WatchUpdate ConfigWatchOp = "update"
	WatchDelete ConfigWatchOp = "delete"
)

// ConfigWatchEvent is emitted by ConfigStorage.Watch as active
// configurations appear, change, or disappear
type ConfigWatchEvent struct {
	Op     ConfigWatchOp
	Config *models.DataSourceConfig
}

// ConfigStorage persists datasource configurations
type ConfigStorage interface {
	SaveConfig(ctx context.Context, config *models.DataSourceConfig) error
	GetConfig(ctx context.Context, id string) (*models.DataSourceConfig, error)
	ListConfigs(ctx context.Context) ([]*models.DataSourceConfig, error)
	ListActiveConfigs(ctx context.Context) ([]*models.DataSourceConfig, error)
	DeleteConfig(ctx context.Context, id string) error

	// Field-level updates used by the operational surface
	SetActive(ctx context.Context, id string, active bool) error
	UpdateRefreshInterval(ctx context.Context, id string, seconds int) error

	// UpdateSyncStatus records worker progress; writes are serialized by the
	// owning worker. lastOrdinal is persisted only when non-nil.
	UpdateSyncStatus(ctx context.Context, id, status string, lastOrdinal *int64, lastError string) error

	// Watch returns a channel of insert/update/delete events produced by
	// polling the active set on a fixed cadence and diffing it against the
	// previously observed set. The channel closes when ctx is done.
	Watch(ctx context.Context) (<-chan ConfigWatchEvent, error)
}

// StateStorage persists per-document sync bookkeeping
type StateStorage interface {
	// Get returns nil, nil when the document is untracked
	Get(ctx context.Context, docID string) (*models.DocumentState, error)

	// GetBySourceID is required because several detectors know only the
	// source-native id at DELETE time
	GetBySourceID(ctx context.Context, configID, sourceID string) (*models.DocumentState, error)

	// GetAllForConfig is used by periodic refresh to detect disappearances
	GetAllForConfig(ctx context.Context, configID string) ([]*models.DocumentState, error)

	// ShouldProcess applies the skip/reprocess decision table. The returned
	// reason string explains the decision at debug level.
	ShouldProcess(ctx context.Context, docID string, newOrdinal int64, newContentHash string) (bool, string, error)

	// Save upserts by doc id; an empty incoming SourceID retains the stored one
	Save(ctx context.Context, state *models.DocumentState) error

	UpdateOrdinal(ctx context.Context, docID string, ordinal int64) error
	UpdateHash(ctx context.Context, docID, contentHash string) error
	MarkTargetSynced(ctx context.Context, docID string, target models.SyncTarget) error

	// MarkDeleted hard-deletes the row; the document becomes untracked
	MarkDeleted(ctx context.Context, docID string) error
}

// StorageManager aggregates the relational stores
type StorageManager interface {
	ConfigStorage() ConfigStorage
	StateStorage() StateStorage
	Close() error
}
