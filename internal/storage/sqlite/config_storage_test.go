package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/concordia/internal/common"
	"github.com/ternarybob/concordia/internal/interfaces"
	"github.com/ternarybob/concordia/internal/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	cfg := &common.SQLiteConfig{
		Path:    filepath.Join(t.TempDir(), "test.db"),
		WALMode: true,
	}
	m, err := NewManager(common.GetLogger(), cfg, 100*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func testConfig(id string) *models.DataSourceConfig {
	return &models.DataSourceConfig{
		ID:   id,
		Type: models.SourceTypeFilesystem,
		Name: "local docs",
		ConnectionParams: map[string]interface{}{
			"path": "/data/docs",
		},
		RefreshIntervalSeconds: 300,
		IsActive:               true,
	}
}

func TestConfigStorageSaveAndGet(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	store := m.ConfigStorage()

	cfg := testConfig("ds_1")
	cfg.EnableChangeStream = true
	require.NoError(t, store.SaveConfig(ctx, cfg))

	got, err := store.GetConfig(ctx, "ds_1")
	require.NoError(t, err)
	assert.Equal(t, models.SourceTypeFilesystem, got.Type)
	assert.Equal(t, "local docs", got.Name)
	assert.Equal(t, "/data/docs", got.StringParam("path"))
	assert.True(t, got.EnableChangeStream)
	assert.True(t, got.IsActive)
	assert.Equal(t, models.SyncStatusIdle, got.SyncStatus)
}

func TestConfigStorageRejectsShortRefreshInterval(t *testing.T) {
	m := newTestManager(t)
	cfg := testConfig("ds_1")
	cfg.RefreshIntervalSeconds = 30

	err := m.ConfigStorage().SaveConfig(context.Background(), cfg)
	assert.Error(t, err)
}

func TestConfigStorageListActive(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	store := m.ConfigStorage()

	active := testConfig("ds_active")
	inactive := testConfig("ds_inactive")
	inactive.IsActive = false
	require.NoError(t, store.SaveConfig(ctx, active))
	require.NoError(t, store.SaveConfig(ctx, inactive))

	all, err := store.ListConfigs(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	actives, err := store.ListActiveConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, actives, 1)
	assert.Equal(t, "ds_active", actives[0].ID)
}

func TestConfigStorageUpdateSyncStatus(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	store := m.ConfigStorage()

	require.NoError(t, store.SaveConfig(ctx, testConfig("ds_1")))
	before, err := store.GetConfig(ctx, "ds_1")
	require.NoError(t, err)

	ordinal := int64(1234567890)
	require.NoError(t, store.UpdateSyncStatus(ctx, "ds_1", models.SyncStatusIdle, &ordinal, ""))

	got, err := store.GetConfig(ctx, "ds_1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusIdle, got.SyncStatus)
	require.NotNil(t, got.LastSyncOrdinal)
	assert.Equal(t, ordinal, *got.LastSyncOrdinal)
	assert.NotNil(t, got.LastSyncCompletedAt)

	// Status writes must not look like config changes to Watch
	assert.True(t, got.UpdatedAt.Equal(before.UpdatedAt))

	// Error status keeps the previous ordinal and records the message
	require.NoError(t, store.UpdateSyncStatus(ctx, "ds_1", models.SyncStatusError, nil, "bucket not found"))
	got, err = store.GetConfig(ctx, "ds_1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusError, got.SyncStatus)
	assert.Equal(t, "bucket not found", got.LastError)
	require.NotNil(t, got.LastSyncOrdinal)
	assert.Equal(t, ordinal, *got.LastSyncOrdinal)
}

func TestConfigStorageWatch(t *testing.T) {
	m := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := m.ConfigStorage()

	events, err := store.Watch(ctx)
	require.NoError(t, err)

	// Insert after the watch is established
	require.NoError(t, store.SaveConfig(ctx, testConfig("ds_1")))

	event := waitForEvent(t, events)
	assert.Equal(t, interfaces.WatchInsert, event.Op)
	assert.Equal(t, "ds_1", event.Config.ID)

	// Updating the refresh interval surfaces as an update
	time.Sleep(1100 * time.Millisecond) // updated_at has second granularity
	require.NoError(t, store.UpdateRefreshInterval(ctx, "ds_1", 600))

	event = waitForEvent(t, events)
	assert.Equal(t, interfaces.WatchUpdate, event.Op)
	assert.Equal(t, 600, event.Config.RefreshIntervalSeconds)

	// Deactivation removes the config from the active set
	require.NoError(t, store.SetActive(ctx, "ds_1", false))

	event = waitForEvent(t, events)
	assert.Equal(t, interfaces.WatchDelete, event.Op)
}

func waitForEvent(t *testing.T, events <-chan interfaces.ConfigWatchEvent) interfaces.ConfigWatchEvent {
	t.Helper()
	select {
	case event := <-events:
		return event
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config watch event")
		return interfaces.ConfigWatchEvent{}
	}
}
