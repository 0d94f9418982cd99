package models

import (
	"fmt"
	"time"
)

// SourceType constants
const (
	SourceTypeFilesystem  = "filesystem"
	SourceTypeS3          = "s3"
	SourceTypeGCS         = "gcs"
	SourceTypeAzureBlob   = "azure_blob"
	SourceTypeAlfresco    = "alfresco"
	SourceTypeGoogleDrive = "google_drive"
	SourceTypeOneDrive    = "onedrive"
	SourceTypeSharePoint  = "sharepoint"
	SourceTypeBox         = "box"
)

// SyncStatus constants
const (
	SyncStatusIdle    = "idle"
	SyncStatusSyncing = "syncing"
	SyncStatusError   = "error"
)

// MinRefreshIntervalSeconds is the floor for the periodic listing cadence
const MinRefreshIntervalSeconds = 60

// validSourceTypes is the set of supported source types
var validSourceTypes = map[string]bool{
	SourceTypeFilesystem:  true,
	SourceTypeS3:          true,
	SourceTypeGCS:         true,
	SourceTypeAzureBlob:   true,
	SourceTypeAlfresco:    true,
	SourceTypeGoogleDrive: true,
	SourceTypeOneDrive:    true,
	SourceTypeSharePoint:  true,
	SourceTypeBox:         true,
}

// DataSourceConfig represents one monitored document repository.
// Exactly one SourceWorker runs per active config.
type DataSourceConfig struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Type      string `json:"type"`
	Name      string `json:"name"`

	// ConnectionParams is a heterogeneous mapping whose recognized keys
	// depend on Type; each detector enumerates the keys it honors.
	ConnectionParams map[string]interface{} `json:"connection_params"`

	RefreshIntervalSeconds    int  `json:"refresh_interval_seconds"`
	WatchdogFilesystemSeconds int  `json:"watchdog_filesystem_seconds"`
	EnableChangeStream        bool `json:"enable_change_stream"`
	SkipGraph                 bool `json:"skip_graph"`
	IsActive                  bool `json:"is_active"`

	// Sync bookkeeping, single-writer (the owning worker)
	SyncStatus          string     `json:"sync_status"`
	LastSyncOrdinal     *int64     `json:"last_sync_ordinal,omitempty"`
	LastSyncCompletedAt *time.Time `json:"last_sync_completed_at,omitempty"`
	LastError           string     `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate validates the datasource configuration
func (c *DataSourceConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("source name is required")
	}

	if !validSourceTypes[c.Type] {
		return fmt.Errorf("invalid source type: %s", c.Type)
	}

	if c.RefreshIntervalSeconds < MinRefreshIntervalSeconds {
		return fmt.Errorf("refresh interval must be at least %d seconds", MinRefreshIntervalSeconds)
	}

	return nil
}

// RefreshInterval returns the periodic listing cadence as a duration
func (c *DataSourceConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSeconds) * time.Second
}

// StringParam returns a string-valued connection parameter
func (c *DataSourceConfig) StringParam(key string) string {
	if c.ConnectionParams == nil {
		return ""
	}
	if v, ok := c.ConnectionParams[key].(string); ok {
		return v
	}
	return ""
}

// BoolParam returns a bool-valued connection parameter
func (c *DataSourceConfig) BoolParam(key string) bool {
	if c.ConnectionParams == nil {
		return false
	}
	if v, ok := c.ConnectionParams[key].(bool); ok {
		return v
	}
	return false
}

// RequireParams verifies that every named connection parameter is a
// non-empty string; detectors call this at start-time.
func (c *DataSourceConfig) RequireParams(keys ...string) error {
	for _, key := range keys {
		if c.StringParam(key) == "" {
			return fmt.Errorf("source %s (%s) is missing required connection parameter %q", c.Name, c.Type, key)
		}
	}
	return nil
}
