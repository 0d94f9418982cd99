package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/concordia/internal/common"
	"github.com/ternarybob/concordia/internal/interfaces"
	"github.com/ternarybob/concordia/internal/models"
)

// SyncController is the slice of the orchestrator the API needs.
type SyncController interface {
	TriggerManualSync(ctx context.Context, configID string) error
	TriggerAllSyncs(ctx context.Context) map[string]error
	IsRunning(configID string) bool
	WorkerCount() int
}

// DataSourceHandler handles HTTP requests for datasource management
type DataSourceHandler struct {
	configStore  interfaces.ConfigStorage
	orchestrator SyncController
	logger       arbor.ILogger
}

// NewDataSourceHandler creates a new DataSourceHandler
func NewDataSourceHandler(configStore interfaces.ConfigStorage, orchestrator SyncController, logger arbor.ILogger) *DataSourceHandler {
	return &DataSourceHandler{
		configStore:  configStore,
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// ListHandler handles GET /api/datasources
func (h *DataSourceHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	configs, err := h.configStore.ListConfigs(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list datasources")
		WriteError(w, http.StatusInternalServerError, "Failed to list datasources")
		return
	}

	if configs == nil {
		configs = []*models.DataSourceConfig{}
	}
	WriteJSON(w, http.StatusOK, configs)
}

// GetHandler handles GET /api/datasources/{id}
func (h *DataSourceHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	id := extractIDFromPath(r.URL.Path, "/api/datasources/")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Datasource ID is required")
		return
	}

	config, err := h.configStore.GetConfig(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("id", id).Msg("Failed to get datasource")
		if strings.Contains(err.Error(), "not found") {
			WriteError(w, http.StatusNotFound, "Datasource not found")
		} else {
			WriteError(w, http.StatusInternalServerError, "Failed to get datasource")
		}
		return
	}

	WriteJSON(w, http.StatusOK, config)
}

// CreateHandler handles POST /api/datasources
func (h *DataSourceHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var config models.DataSourceConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		h.logger.Error().Err(err).Msg("Failed to decode request body")
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if config.ID == "" {
		config.ID = common.NewConfigID()
	}
	if config.Type == "" || config.Name == "" {
		WriteError(w, http.StatusBadRequest, "Fields 'type' and 'name' are required")
		return
	}
	if err := config.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.configStore.SaveConfig(r.Context(), &config); err != nil {
		h.logger.Error().Err(err).Str("type", config.Type).Msg("Failed to create datasource")
		WriteError(w, http.StatusInternalServerError, "Failed to create datasource")
		return
	}

	h.logger.Info().Str("id", config.ID).Str("type", config.Type).Msg("Datasource created")
	WriteJSON(w, http.StatusCreated, config)
}

// UpdateHandler handles PUT /api/datasources/{id}
func (h *DataSourceHandler) UpdateHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "PUT") {
		return
	}

	id := extractIDFromPath(r.URL.Path, "/api/datasources/")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Datasource ID is required")
		return
	}

	var config models.DataSourceConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	config.ID = id
	if err := config.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.configStore.SaveConfig(r.Context(), &config); err != nil {
		h.logger.Error().Err(err).Str("id", id).Msg("Failed to update datasource")
		WriteError(w, http.StatusInternalServerError, "Failed to update datasource")
		return
	}

	WriteJSON(w, http.StatusOK, config)
}

// DeleteHandler handles DELETE /api/datasources/{id}
func (h *DataSourceHandler) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "DELETE") {
		return
	}

	id := extractIDFromPath(r.URL.Path, "/api/datasources/")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Datasource ID is required")
		return
	}

	if err := h.configStore.DeleteConfig(r.Context(), id); err != nil {
		h.logger.Error().Err(err).Str("id", id).Msg("Failed to delete datasource")
		WriteError(w, http.StatusInternalServerError, "Failed to delete datasource")
		return
	}

	WriteSuccess(w, "Datasource deleted")
}

// SyncHandler handles POST /api/datasources/{id}/sync
func (h *DataSourceHandler) SyncHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	id := extractIDFromPath(r.URL.Path, "/api/datasources/")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Datasource ID is required")
		return
	}

	if err := h.orchestrator.TriggerManualSync(r.Context(), id); err != nil {
		h.logger.Warn().Err(err).Str("id", id).Msg("Manual sync failed")
		WriteError(w, http.StatusConflict, err.Error())
		return
	}

	WriteSuccess(w, "Sync completed")
}

// SyncAllHandler handles POST /api/datasources/sync-all
func (h *DataSourceHandler) SyncAllHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	results := h.orchestrator.TriggerAllSyncs(r.Context())
	failed := make(map[string]string)
	for id, err := range results {
		if err != nil {
			failed[id] = err.Error()
		}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "completed",
		"triggered": len(results),
		"failed":    failed,
	})
}

// EnableHandler handles POST /api/datasources/{id}/enable
func (h *DataSourceHandler) EnableHandler(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// DisableHandler handles POST /api/datasources/{id}/disable
func (h *DataSourceHandler) DisableHandler(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *DataSourceHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	id := extractIDFromPath(r.URL.Path, "/api/datasources/")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Datasource ID is required")
		return
	}

	if err := h.configStore.SetActive(r.Context(), id, active); err != nil {
		h.logger.Error().Err(err).Str("id", id).Bool("active", active).Msg("Failed to update datasource state")
		if strings.Contains(err.Error(), "not found") {
			WriteError(w, http.StatusNotFound, "Datasource not found")
		} else {
			WriteError(w, http.StatusInternalServerError, "Failed to update datasource state")
		}
		return
	}

	if active {
		WriteSuccess(w, "Datasource enabled")
	} else {
		WriteSuccess(w, "Datasource disabled")
	}
}

// EnableAllHandler handles POST /api/datasources/enable-all
func (h *DataSourceHandler) EnableAllHandler(w http.ResponseWriter, r *http.Request) {
	h.setActiveAll(w, r, true)
}

// DisableAllHandler handles POST /api/datasources/disable-all
func (h *DataSourceHandler) DisableAllHandler(w http.ResponseWriter, r *http.Request) {
	h.setActiveAll(w, r, false)
}

func (h *DataSourceHandler) setActiveAll(w http.ResponseWriter, r *http.Request, active bool) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	configs, err := h.configStore.ListConfigs(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to list datasources")
		return
	}

	updated := 0
	for _, config := range configs {
		if config.IsActive == active {
			continue
		}
		if err := h.configStore.SetActive(r.Context(), config.ID, active); err != nil {
			h.logger.Error().Err(err).Str("id", config.ID).Msg("Failed to update datasource state")
			continue
		}
		updated++
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"updated": updated,
	})
}

// UpdateIntervalHandler handles PUT /api/datasources/{id}/interval
func (h *DataSourceHandler) UpdateIntervalHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "PUT") {
		return
	}

	id := extractIDFromPath(r.URL.Path, "/api/datasources/")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Datasource ID is required")
		return
	}

	var body struct {
		RefreshIntervalSeconds int `json:"refresh_interval_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.RefreshIntervalSeconds <= 0 {
		WriteError(w, http.StatusBadRequest, "refresh_interval_seconds must be positive")
		return
	}

	if err := h.configStore.UpdateRefreshInterval(r.Context(), id, body.RefreshIntervalSeconds); err != nil {
		h.logger.Error().Err(err).Str("id", id).Msg("Failed to update refresh interval")
		if strings.Contains(err.Error(), "not found") {
			WriteError(w, http.StatusNotFound, "Datasource not found")
		} else {
			WriteError(w, http.StatusInternalServerError, "Failed to update refresh interval")
		}
		return
	}

	WriteSuccess(w, "Refresh interval updated")
}

// UpdateIntervalAllHandler handles PUT /api/datasources/interval
func (h *DataSourceHandler) UpdateIntervalAllHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "PUT") {
		return
	}

	var body struct {
		RefreshIntervalSeconds int `json:"refresh_interval_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.RefreshIntervalSeconds <= 0 {
		WriteError(w, http.StatusBadRequest, "refresh_interval_seconds must be positive")
		return
	}

	configs, err := h.configStore.ListConfigs(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to list datasources")
		return
	}

	updated := 0
	for _, config := range configs {
		if err := h.configStore.UpdateRefreshInterval(r.Context(), config.ID, body.RefreshIntervalSeconds); err != nil {
			h.logger.Error().Err(err).Str("id", config.ID).Msg("Failed to update refresh interval")
			continue
		}
		updated++
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"updated": updated,
	})
}

// StatusHandler handles GET /api/datasources/{id}/status
func (h *DataSourceHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	id := extractIDFromPath(r.URL.Path, "/api/datasources/")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Datasource ID is required")
		return
	}

	config, err := h.configStore.GetConfig(r.Context(), id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			WriteError(w, http.StatusNotFound, "Datasource not found")
		} else {
			WriteError(w, http.StatusInternalServerError, "Failed to get datasource")
		}
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"id":                     config.ID,
		"sync_status":            config.SyncStatus,
		"worker_running":         h.orchestrator.IsRunning(config.ID),
		"last_sync_ordinal":      config.LastSyncOrdinal,
		"last_sync_completed_at": config.LastSyncCompletedAt,
		"last_error":             config.LastError,
	})
}
