package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/farpomon/bca-app-sub013/internal/store"
	"github.com/farpomon/bca-app-sub013/internal/sync"
)

// CatalogHandler serves the locally cached project/asset reference data
type CatalogHandler struct {
	store   store.Store
	catalog *sync.CatalogSync
}

// NewCatalogHandler creates a catalog handler. catalog may be nil when
// the node runs without cloud configuration; refresh is then disabled.
func NewCatalogHandler(st store.Store, catalog *sync.CatalogSync) *CatalogHandler {
	return &CatalogHandler{store: st, catalog: catalog}
}

// RegisterRoutes registers catalog routes
func (ch *CatalogHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/projects", ch.ListProjects).Methods("GET")
	r.HandleFunc("/assets", ch.ListAssets).Methods("GET")
	r.HandleFunc("/catalog/refresh", ch.Refresh).Methods("POST")
}

// ListProjects returns cached projects
func (ch *CatalogHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := ch.store.ListProjects()
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(projects),
		"projects": projects,
	})
}

// ListAssets returns cached assets, optionally filtered by project
// (?project_id=)
func (ch *CatalogHandler) ListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := ch.store.ListAssets(r.URL.Query().Get("project_id"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(assets),
		"assets": assets,
	})
}

// Refresh pulls fresh reference data from the cloud
func (ch *CatalogHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if ch.catalog == nil {
		respondError(w, http.StatusServiceUnavailable, "catalog refresh requires cloud configuration")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	if err := ch.catalog.Refresh(ctx); err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}
