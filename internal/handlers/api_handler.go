package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/concordia/internal/common"
)

// APIHandler handles system-level API requests
type APIHandler struct {
	logger    arbor.ILogger
	startedAt time.Time
}

// NewAPIHandler creates a new APIHandler
func NewAPIHandler(logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		logger:    logger,
		startedAt: time.Now(),
	}
}

// VersionHandler handles GET /api/version
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetFullVersion(),
	})
}

// HealthHandler handles GET /api/health
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
	})
}

// NotFoundHandler handles unmatched API routes
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteError(w, http.StatusNotFound, "Endpoint not found")
}
