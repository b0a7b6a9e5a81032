package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/farpomon/bca-app-sub013/internal/models"
	"github.com/farpomon/bca-app-sub013/internal/store"
	"github.com/farpomon/bca-app-sub013/internal/sync"
)

// SyncHandler exposes sync control and visibility endpoints
type SyncHandler struct {
	store    store.Store
	engine   *sync.Engine
	reporter *sync.Reporter
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(st store.Store, engine *sync.Engine, reporter *sync.Reporter) *SyncHandler {
	return &SyncHandler{store: st, engine: engine, reporter: reporter}
}

// RegisterRoutes registers sync routes
func (sh *SyncHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/sync/status", sh.GetStatus).Methods("GET")
	r.HandleFunc("/sync/start", sh.StartSync).Methods("POST")
	r.HandleFunc("/sync/cancel", sh.CancelSync).Methods("POST")
	r.HandleFunc("/sync/queue", sh.GetQueue).Methods("GET")
	r.HandleFunc("/sync/conflicts", sh.GetConflicts).Methods("GET")
	r.HandleFunc("/sync/retry/{entity_type}/{local_id}", sh.Retry).Methods("POST")
}

// GetStatus returns the current sync snapshot
func (sh *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := sh.reporter.Snapshot()
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// StartSync triggers a queue drain. Idempotent: a drain already in
// progress absorbs the request.
func (sh *SyncHandler) StartSync(w http.ResponseWriter, r *http.Request) {
	started := sh.engine.StartSync()
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"started":         started,
		"already_running": !started,
	})
}

// CancelSync aborts the active drain. In-flight items return to
// pending without an attempt penalty.
func (sh *SyncHandler) CancelSync(w http.ResponseWriter, r *http.Request) {
	sh.engine.Cancel()
	respondJSON(w, http.StatusAccepted, map[string]string{
		"status": "cancelling",
	})
}

// GetQueue lists all queue items in enqueue order
func (sh *SyncHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	items, err := sh.store.ListQueue()
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(items),
		"items": items,
	})
}

// GetConflicts lists recorded conflict decisions, newest first
func (sh *SyncHandler) GetConflicts(w http.ResponseWriter, r *http.Request) {
	conflicts, err := sh.store.ListConflicts()
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":     len(conflicts),
		"conflicts": conflicts,
	})
}

// Retry re-enqueues a failed entity with a fresh attempt budget
func (sh *SyncHandler) Retry(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	entityType := models.EntityType(vars["entity_type"])
	localID := vars["local_id"]

	if entityType != models.EntityTypeAssessment && entityType != models.EntityTypePhoto {
		respondError(w, http.StatusBadRequest, "unknown entity type")
		return
	}

	if err := sh.store.Requeue(entityType, localID); err != nil {
		respondStoreError(w, err)
		return
	}
	sh.engine.StartSync()

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"entity_type": entityType,
		"local_id":    localID,
		"status":      "pending",
	})
}
