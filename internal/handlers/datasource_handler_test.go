package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/concordia/internal/common"
	"github.com/ternarybob/concordia/internal/models"
	"github.com/ternarybob/concordia/internal/storage/sqlite"
)

type fakeController struct {
	synced  []string
	running map[string]bool
	syncErr error
}

func (c *fakeController) TriggerManualSync(ctx context.Context, configID string) error {
	if c.syncErr != nil {
		return c.syncErr
	}
	c.synced = append(c.synced, configID)
	return nil
}

func (c *fakeController) TriggerAllSyncs(ctx context.Context) map[string]error {
	results := make(map[string]error)
	for id := range c.running {
		results[id] = nil
		c.synced = append(c.synced, id)
	}
	return results
}

func (c *fakeController) IsRunning(configID string) bool { return c.running[configID] }
func (c *fakeController) WorkerCount() int               { return len(c.running) }

func newHandlerFixture(t *testing.T) (*DataSourceHandler, *sqlite.Manager, *fakeController) {
	t.Helper()

	cfg := &common.SQLiteConfig{
		Path:    filepath.Join(t.TempDir(), "api.db"),
		WALMode: true,
	}
	m, err := sqlite.NewManager(common.GetLogger(), cfg, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	controller := &fakeController{running: make(map[string]bool)}
	h := NewDataSourceHandler(m.ConfigStorage(), controller, common.GetLogger())
	return h, m, controller
}

func seedConfig(t *testing.T, m *sqlite.Manager, id string) *models.DataSourceConfig {
	t.Helper()
	config := &models.DataSourceConfig{
		ID:                     id,
		ProjectID:              "proj",
		Type:                   models.SourceTypeFilesystem,
		Name:                   "docs",
		ConnectionParams:       map[string]interface{}{"path": "/tmp/docs"},
		RefreshIntervalSeconds: 300,
		IsActive:               true,
	}
	require.NoError(t, m.ConfigStorage().SaveConfig(context.Background(), config))
	return config
}

func TestListDatasources(t *testing.T) {
	h, m, _ := newHandlerFixture(t)
	seedConfig(t, m, "ds_list_1")
	seedConfig(t, m, "ds_list_2")

	rec := httptest.NewRecorder()
	h.ListHandler(rec, httptest.NewRequest("GET", "/api/datasources", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var configs []*models.DataSourceConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &configs))
	assert.Len(t, configs, 2)
}

func TestCreateDatasourceAssignsID(t *testing.T) {
	h, _, _ := newHandlerFixture(t)

	body := `{"type": "filesystem", "name": "scratch", "connection_params": {"path": "/tmp"}, "refresh_interval_seconds": 120}`
	rec := httptest.NewRecorder()
	h.CreateHandler(rec, httptest.NewRequest("POST", "/api/datasources", strings.NewReader(body)))

	require.Equal(t, http.StatusCreated, rec.Code)
	var created models.DataSourceConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.True(t, strings.HasPrefix(created.ID, "ds_"))
}

func TestCreateDatasourceRejectsMissingType(t *testing.T) {
	h, _, _ := newHandlerFixture(t)

	rec := httptest.NewRecorder()
	h.CreateHandler(rec, httptest.NewRequest("POST", "/api/datasources", strings.NewReader(`{"name": "x"}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetDatasourceNotFound(t *testing.T) {
	h, _, _ := newHandlerFixture(t)

	rec := httptest.NewRecorder()
	h.GetHandler(rec, httptest.NewRequest("GET", "/api/datasources/ds_missing", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTriggerSync(t *testing.T) {
	h, m, controller := newHandlerFixture(t)
	seedConfig(t, m, "ds_sync")

	rec := httptest.NewRecorder()
	h.SyncHandler(rec, httptest.NewRequest("POST", "/api/datasources/ds_sync/sync", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"ds_sync"}, controller.synced)
}

func TestTriggerSyncConflict(t *testing.T) {
	h, m, controller := newHandlerFixture(t)
	seedConfig(t, m, "ds_busy")
	controller.syncErr = fmt.Errorf("no worker for ds_busy")

	rec := httptest.NewRecorder()
	h.SyncHandler(rec, httptest.NewRequest("POST", "/api/datasources/ds_busy/sync", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestEnableDisableDatasource(t *testing.T) {
	h, m, _ := newHandlerFixture(t)
	seedConfig(t, m, "ds_toggle")

	rec := httptest.NewRecorder()
	h.DisableHandler(rec, httptest.NewRequest("POST", "/api/datasources/ds_toggle/disable", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := m.ConfigStorage().GetConfig(context.Background(), "ds_toggle")
	require.NoError(t, err)
	assert.False(t, stored.IsActive)

	rec = httptest.NewRecorder()
	h.EnableHandler(rec, httptest.NewRequest("POST", "/api/datasources/ds_toggle/enable", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err = m.ConfigStorage().GetConfig(context.Background(), "ds_toggle")
	require.NoError(t, err)
	assert.True(t, stored.IsActive)
}

func TestUpdateInterval(t *testing.T) {
	h, m, _ := newHandlerFixture(t)
	seedConfig(t, m, "ds_interval")

	body := `{"refresh_interval_seconds": 900}`
	rec := httptest.NewRecorder()
	h.UpdateIntervalHandler(rec, httptest.NewRequest("PUT", "/api/datasources/ds_interval/interval", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := m.ConfigStorage().GetConfig(context.Background(), "ds_interval")
	require.NoError(t, err)
	assert.Equal(t, 900, stored.RefreshIntervalSeconds)
}

func TestUpdateIntervalRejectsNonPositive(t *testing.T) {
	h, m, _ := newHandlerFixture(t)
	seedConfig(t, m, "ds_interval_bad")

	rec := httptest.NewRecorder()
	h.UpdateIntervalHandler(rec, httptest.NewRequest("PUT", "/api/datasources/ds_interval_bad/interval",
		strings.NewReader(`{"refresh_interval_seconds": 0}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusReportsWorkerState(t *testing.T) {
	h, m, controller := newHandlerFixture(t)
	seedConfig(t, m, "ds_status")
	controller.running["ds_status"] = true

	rec := httptest.NewRecorder()
	h.StatusHandler(rec, httptest.NewRequest("GET", "/api/datasources/ds_status/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, true, status["worker_running"])
	assert.Equal(t, "idle", status["sync_status"])
}
