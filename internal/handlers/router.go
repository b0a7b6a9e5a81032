package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"github.com/farpomon/bca-app-sub013/internal/buildinfo"
	"github.com/farpomon/bca-app-sub013/internal/middleware"
	"github.com/farpomon/bca-app-sub013/internal/store"
	"github.com/farpomon/bca-app-sub013/internal/sync"
	"github.com/farpomon/bca-app-sub013/internal/websocket"
)

// Router wraps the mux router with the field node's dependencies
type Router struct {
	*mux.Router
}

// NewRouter creates a new HTTP router with all routes
func NewRouter(st store.Store, engine *sync.Engine, reporter *sync.Reporter, catalog *sync.CatalogSync, hub *websocket.Hub, jwtSecret string) *Router {
	r := &Router{Router: mux.NewRouter()}

	// Health check endpoint
	r.HandleFunc("/health", healthCheck).Methods("GET")

	// Websocket for live sync status updates
	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		websocket.ServeWs(hub, w, req)
	})

	// API routes (protected)
	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.Auth(jwtSecret))

	NewOfflineHandler(st, engine).RegisterRoutes(api)
	NewSyncHandler(st, engine, reporter).RegisterRoutes(api)
	NewCatalogHandler(st, catalog).RegisterRoutes(api)

	// Static files for the assessment UI
	if uiDir := os.Getenv("FRONTEND_DIR"); uiDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(uiDir)))
	}

	return r
}

// healthCheck returns the health status of the node
func healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":     "ok",
		"server":     "field-node",
		"build":      buildinfo.CommitHash,
		"started_at": buildinfo.StartTime,
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// respondStoreError maps store sentinels onto HTTP statuses
func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrStorageFull):
		respondError(w, http.StatusInsufficientStorage, err.Error())
	case errors.Is(err, store.ErrEntityLocked):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrNotDiscardable):
		respondError(w, http.StatusConflict, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
