package handlers

import (
	"net/http"
	"strconv"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/concordia/internal/services/targets"
)

const defaultSearchLimit = 20

// SearchHandler exposes the full-text index over HTTP
type SearchHandler struct {
	search *targets.SearchTarget
	logger arbor.ILogger
}

// NewSearchHandler creates a new SearchHandler
func NewSearchHandler(search *targets.SearchTarget, logger arbor.ILogger) *SearchHandler {
	return &SearchHandler{
		search: search,
		logger: logger,
	}
}

// SearchHandler handles GET /api/search?q=...&limit=...
func (h *SearchHandler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	if h.search == nil {
		WriteError(w, http.StatusServiceUnavailable, "Search target is disabled")
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		WriteError(w, http.StatusBadRequest, "Query parameter 'q' is required")
		return
	}

	limit := defaultSearchLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	results, err := h.search.Search(r.Context(), query, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("query", query).Msg("Search failed")
		WriteError(w, http.StatusInternalServerError, "Search failed")
		return
	}

	if results == nil {
		results = []targets.SearchResult{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"query":   query,
		"count":   len(results),
		"results": results,
	})
}
