package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/concordia/internal/common"
	"github.com/ternarybob/concordia/internal/interfaces"
	"github.com/ternarybob/concordia/internal/models"
)

// defaultWatchInterval is the poll cadence of Watch when none is configured
const defaultWatchInterval = 30 * time.Second

// ConfigStorage implements interfaces.ConfigStorage for SQLite
type ConfigStorage struct {
	db            *SQLiteDB
	logger        arbor.ILogger
	watchInterval time.Duration
}

// NewConfigStorage creates a new ConfigStorage instance
func NewConfigStorage(db *SQLiteDB, logger arbor.ILogger, watchInterval time.Duration) interfaces.ConfigStorage {
	if watchInterval <= 0 {
		watchInterval = defaultWatchInterval
	}
	return &ConfigStorage{
		db:            db,
		logger:        logger,
		watchInterval: watchInterval,
	}
}

// SaveConfig creates or updates a datasource configuration
func (s *ConfigStorage) SaveConfig(ctx context.Context, config *models.DataSourceConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}

	paramsJSON, err := json.Marshal(config.ConnectionParams)
	if err != nil {
		return fmt.Errorf("failed to marshal connection params: %w", err)
	}

	now := time.Now()
	if config.CreatedAt.IsZero() {
		config.CreatedAt = now
	}
	config.UpdatedAt = now
	if config.SyncStatus == "" {
		config.SyncStatus = models.SyncStatusIdle
	}

	query := `
		INSERT INTO datasource_config (
			config_id, project_id, source_type, source_name, connection_params,
			refresh_interval_seconds, watchdog_filesystem_seconds,
			enable_change_stream, skip_graph, is_active, sync_status,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(config_id) DO UPDATE SET
			project_id = excluded.project_id,
			source_type = excluded.source_type,
			source_name = excluded.source_name,
			connection_params = excluded.connection_params,
			refresh_interval_seconds = excluded.refresh_interval_seconds,
			watchdog_filesystem_seconds = excluded.watchdog_filesystem_seconds,
			enable_change_stream = excluded.enable_change_stream,
			skip_graph = excluded.skip_graph,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`

	_, err = s.db.DB().ExecContext(ctx, query,
		config.ID,
		config.ProjectID,
		config.Type,
		config.Name,
		string(paramsJSON),
		config.RefreshIntervalSeconds,
		config.WatchdogFilesystemSeconds,
		boolToInt(config.EnableChangeStream),
		boolToInt(config.SkipGraph),
		boolToInt(config.IsActive),
		config.SyncStatus,
		config.CreatedAt.Unix(),
		config.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save datasource config: %w", err)
	}

	s.logger.Info().
		Str("config_id", config.ID).
		Str("source_type", config.Type).
		Str("source_name", config.Name).
		Msg("Datasource config saved")

	return nil
}

const configColumns = `config_id, project_id, source_type, source_name, connection_params,
	refresh_interval_seconds, watchdog_filesystem_seconds, enable_change_stream,
	skip_graph, is_active, sync_status, last_sync_ordinal, last_sync_completed_at,
	last_error, created_at, updated_at`

// GetConfig retrieves a datasource configuration by ID
func (s *ConfigStorage) GetConfig(ctx context.Context, id string) (*models.DataSourceConfig, error) {
	query := `SELECT ` + configColumns + ` FROM datasource_config WHERE config_id = ?`
	row := s.db.DB().QueryRowContext(ctx, query, id)

	config, err := scanConfig(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("datasource config not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get datasource config: %w", err)
	}
	return config, nil
}

// ListConfigs returns all datasource configurations
func (s *ConfigStorage) ListConfigs(ctx context.Context) ([]*models.DataSourceConfig, error) {
	return s.list(ctx, `SELECT `+configColumns+` FROM datasource_config ORDER BY created_at`)
}

// ListActiveConfigs returns all active datasource configurations
func (s *ConfigStorage) ListActiveConfigs(ctx context.Context) ([]*models.DataSourceConfig, error) {
	return s.list(ctx, `SELECT `+configColumns+` FROM datasource_config WHERE is_active = 1 ORDER BY created_at`)
}

func (s *ConfigStorage) list(ctx context.Context, query string) ([]*models.DataSourceConfig, error) {
	rows, err := s.db.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasource configs: %w", err)
	}
	defer rows.Close()

	var configs []*models.DataSourceConfig
	for rows.Next() {
		config, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan datasource config: %w", err)
		}
		configs = append(configs, config)
	}
	return configs, rows.Err()
}

// DeleteConfig removes a datasource configuration
func (s *ConfigStorage) DeleteConfig(ctx context.Context, id string) error {
	result, err := s.db.DB().ExecContext(ctx, `DELETE FROM datasource_config WHERE config_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete datasource config: %w", err)
	}

	affected, _ := result.RowsAffected()
	s.logger.Info().
		Str("config_id", id).
		Int64("rows", affected).
		Msg("Datasource config deleted")

	return nil
}

// SetActive toggles the lifecycle flag
func (s *ConfigStorage) SetActive(ctx context.Context, id string, active bool) error {
	_, err := s.db.DB().ExecContext(ctx,
		`UPDATE datasource_config SET is_active = ?, updated_at = ? WHERE config_id = ?`,
		boolToInt(active), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update is_active: %w", err)
	}
	return nil
}

// UpdateRefreshInterval updates the periodic listing cadence
func (s *ConfigStorage) UpdateRefreshInterval(ctx context.Context, id string, seconds int) error {
	if seconds < models.MinRefreshIntervalSeconds {
		return fmt.Errorf("refresh interval must be at least %d seconds", models.MinRefreshIntervalSeconds)
	}
	_, err := s.db.DB().ExecContext(ctx,
		`UPDATE datasource_config SET refresh_interval_seconds = ?, updated_at = ? WHERE config_id = ?`,
		seconds, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update refresh interval: %w", err)
	}
	return nil
}

// UpdateSyncStatus records worker progress. It deliberately does not touch
// updated_at so that status writes never look like config changes to Watch.
func (s *ConfigStorage) UpdateSyncStatus(ctx context.Context, id, status string, lastOrdinal *int64, lastError string) error {
	var completedAt interface{}
	if status == models.SyncStatusIdle {
		completedAt = time.Now().Unix()
	}

	query := `
		UPDATE datasource_config SET
			sync_status = ?,
			last_sync_ordinal = COALESCE(?, last_sync_ordinal),
			last_sync_completed_at = COALESCE(?, last_sync_completed_at),
			last_error = ?
		WHERE config_id = ?
	`
	_, err := s.db.DB().ExecContext(ctx, query, status, ordinalArg(lastOrdinal), completedAt, lastError, id)
	if err != nil {
		return fmt.Errorf("failed to update sync status: %w", err)
	}
	return nil
}

// Watch polls the active set on a fixed cadence and emits one event per
// difference against the previously observed set. Intra-tick changes are
// not observed.
func (s *ConfigStorage) Watch(ctx context.Context) (<-chan interfaces.ConfigWatchEvent, error) {
	seed, err := s.ListActiveConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to seed config watch: %w", err)
	}

	known := make(map[string]*models.DataSourceConfig, len(seed))
	for _, config := range seed {
		known[config.ID] = config
	}

	ch := make(chan interfaces.ConfigWatchEvent, 16)

	common.SafeGoWithContext(ctx, s.logger, "configWatch", func(ctx context.Context) {
		defer close(ch)

		ticker := time.NewTicker(s.watchInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			current, err := s.ListActiveConfigs(ctx)
			if err != nil {
				s.logger.Warn().Err(err).Msg("Config watch poll failed")
				continue
			}

			currentByID := make(map[string]*models.DataSourceConfig, len(current))
			for _, config := range current {
				currentByID[config.ID] = config

				prev, seen := known[config.ID]
				if !seen {
					s.emit(ctx, ch, interfaces.ConfigWatchEvent{Op: interfaces.WatchInsert, Config: config})
					continue
				}
				if !prev.UpdatedAt.Equal(config.UpdatedAt) {
					s.emit(ctx, ch, interfaces.ConfigWatchEvent{Op: interfaces.WatchUpdate, Config: config})
				}
			}

			for id, prev := range known {
				if _, still := currentByID[id]; !still {
					s.emit(ctx, ch, interfaces.ConfigWatchEvent{Op: interfaces.WatchDelete, Config: prev})
				}
			}

			known = currentByID
		}
	})

	return ch, nil
}

func (s *ConfigStorage) emit(ctx context.Context, ch chan<- interfaces.ConfigWatchEvent, event interfaces.ConfigWatchEvent) {
	select {
	case ch <- event:
	case <-ctx.Done():
	}
}

// scanner abstracts sql.Row and sql.Rows for scanning
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanConfig(row scanner) (*models.DataSourceConfig, error) {
	var (
		config                              models.DataSourceConfig
		paramsJSON                          string
		enableStream, skipGraph, isActive   int
		lastOrdinal                         sql.NullInt64
		lastCompletedAt                     sql.NullInt64
		lastError                           sql.NullString
		createdAt, updatedAt                int64
	)

	err := row.Scan(
		&config.ID,
		&config.ProjectID,
		&config.Type,
		&config.Name,
		&paramsJSON,
		&config.RefreshIntervalSeconds,
		&config.WatchdogFilesystemSeconds,
		&enableStream,
		&skipGraph,
		&isActive,
		&config.SyncStatus,
		&lastOrdinal,
		&lastCompletedAt,
		&lastError,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(paramsJSON), &config.ConnectionParams); err != nil {
		return nil, fmt.Errorf("failed to unmarshal connection params: %w", err)
	}

	config.EnableChangeStream = enableStream != 0
	config.SkipGraph = skipGraph != 0
	config.IsActive = isActive != 0
	if lastOrdinal.Valid {
		config.LastSyncOrdinal = &lastOrdinal.Int64
	}
	if lastCompletedAt.Valid {
		t := time.Unix(lastCompletedAt.Int64, 0)
		config.LastSyncCompletedAt = &t
	}
	config.LastError = lastError.String
	config.CreatedAt = time.Unix(createdAt, 0)
	config.UpdatedAt = time.Unix(updatedAt, 0)

	return &config, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func ordinalArg(ordinal *int64) interface{} {
	if ordinal == nil {
		return nil
	}
	return *ordinal
}
