package sqlite

import (
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/concordia/internal/common"
	"github.com/ternarybob/concordia/internal/interfaces"
)

// Manager implements the StorageManager interface
type Manager struct {
	db     *SQLiteDB
	config interfaces.ConfigStorage
	state  interfaces.StateStorage
	logger arbor.ILogger
}

// NewManager creates a new SQLite storage manager
func NewManager(logger arbor.ILogger, config *common.SQLiteConfig, watchInterval time.Duration) (*Manager, error) {
	db, err := NewSQLiteDB(logger, config)
	if err != nil {
		return nil, err
	}

	return &Manager{
		db:     db,
		config: NewConfigStorage(db, logger, watchInterval),
		state:  NewStateStorage(db, logger),
		logger: logger,
	}, nil
}

// ConfigStorage returns the datasource config storage interface
func (m *Manager) ConfigStorage() interfaces.ConfigStorage {
	return m.config
}

// StateStorage returns the document state storage interface
func (m *Manager) StateStorage() interfaces.StateStorage {
	return m.state
}

// DB returns the underlying database wrapper, used by the search target
func (m *Manager) DB() *SQLiteDB {
	return m.db
}

// Close closes the database connection
func (m *Manager) Close() error {
	return m.db.Close()
}
