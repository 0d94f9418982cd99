package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// API routes - Datasource management
	mux.HandleFunc("/api/datasources", s.handleDatasourcesRoute) // GET (list), POST (create)
	mux.HandleFunc("/api/datasources/", s.handleDatasourceRoutes)

	// API routes - Search
	mux.HandleFunc("/api/search", s.searchHandler.SearchHandler)

	// API routes - System
	mux.HandleFunc("/api/version", s.apiHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.apiHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.apiHandler.NotFoundHandler)

	return mux
}

// handleDatasourcesRoute routes /api/datasources requests (list, create, bulk ops)
func (s *Server) handleDatasourcesRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		s.datasourceHandler.ListHandler(w, r)
	case "POST":
		s.datasourceHandler.CreateHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleDatasourceRoutes routes /api/datasources/{id} requests and subpaths
func (s *Server) handleDatasourceRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	// Collection-level operations
	switch path {
	case "/api/datasources/sync-all":
		s.datasourceHandler.SyncAllHandler(w, r)
		return
	case "/api/datasources/enable-all":
		s.datasourceHandler.EnableAllHandler(w, r)
		return
	case "/api/datasources/disable-all":
		s.datasourceHandler.DisableAllHandler(w, r)
		return
	case "/api/datasources/interval":
		s.datasourceHandler.UpdateIntervalAllHandler(w, r)
		return
	}

	// Item subpath operations
	switch {
	case strings.HasSuffix(path, "/sync"):
		s.datasourceHandler.SyncHandler(w, r)
	case strings.HasSuffix(path, "/enable"):
		s.datasourceHandler.EnableHandler(w, r)
	case strings.HasSuffix(path, "/disable"):
		s.datasourceHandler.DisableHandler(w, r)
	case strings.HasSuffix(path, "/interval"):
		s.datasourceHandler.UpdateIntervalHandler(w, r)
	case strings.HasSuffix(path, "/status"):
		s.datasourceHandler.StatusHandler(w, r)
	default:
		// Plain /api/datasources/{id}
		switch r.Method {
		case "GET":
			s.datasourceHandler.GetHandler(w, r)
		case "PUT":
			s.datasourceHandler.UpdateHandler(w, r)
		case "DELETE":
			s.datasourceHandler.DeleteHandler(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}
