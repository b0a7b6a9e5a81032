package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"gorm.io/datatypes"

	"github.com/farpomon/bca-app-sub013/internal/models"
	"github.com/farpomon/bca-app-sub013/internal/store"
	"github.com/farpomon/bca-app-sub013/internal/sync"
)

// maxPhotoBytes bounds a single photo upload (multipart memory limit)
const maxPhotoBytes = 32 << 20

// OfflineHandler handles capture endpoints: every write lands in the
// local store and the sync queue, never directly on the cloud.
type OfflineHandler struct {
	store  store.Store
	engine *sync.Engine
}

// NewOfflineHandler creates a new offline capture handler
func NewOfflineHandler(st store.Store, engine *sync.Engine) *OfflineHandler {
	return &OfflineHandler{store: st, engine: engine}
}

// RegisterRoutes registers capture routes
func (oh *OfflineHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/assessments", oh.CreateAssessment).Methods("POST")
	r.HandleFunc("/assessments", oh.ListAssessments).Methods("GET")
	r.HandleFunc("/assessments/{local_id}", oh.GetAssessment).Methods("GET")
	r.HandleFunc("/assessments/{local_id}", oh.UpdateAssessment).Methods("PUT")
	r.HandleFunc("/assessments/{local_id}", oh.DiscardAssessment).Methods("DELETE")

	r.HandleFunc("/photos", oh.CreatePhoto).Methods("POST")
	r.HandleFunc("/photos", oh.ListPhotos).Methods("GET")
	r.HandleFunc("/photos/{local_id}", oh.GetPhoto).Methods("GET")
	r.HandleFunc("/photos/{local_id}", oh.DiscardPhoto).Methods("DELETE")
}

// CreateAssessment captures a new assessment locally and enqueues it
func (oh *OfflineHandler) CreateAssessment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AssetID string                 `json:"asset_id"`
		Payload map[string]interface{} `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.AssetID == "" {
		respondError(w, http.StatusBadRequest, "asset_id is required")
		return
	}

	a := &models.OfflineAssessment{
		LocalID:    uuid.New().String(),
		AssetID:    req.AssetID,
		Payload:    datatypes.JSONMap(req.Payload),
		SyncStatus: models.SyncStatusPending,
	}
	if err := oh.store.PutAssessment(a); err != nil {
		respondStoreError(w, err)
		return
	}
	if _, err := oh.store.Enqueue(models.EntityTypeAssessment, a.LocalID, models.OperationCreate, time.Now().UTC()); err != nil {
		respondStoreError(w, err)
		return
	}
	oh.engine.StartSync()

	respondJSON(w, http.StatusCreated, a)
}

// UpdateAssessment edits a locally stored assessment and enqueues the
// change. Editing while the entity is mid-transmission is rejected.
func (oh *OfflineHandler) UpdateAssessment(w http.ResponseWriter, r *http.Request) {
	localID := mux.Vars(r)["local_id"]

	var req struct {
		Payload map[string]interface{} `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	a, err := oh.store.GetAssessment(localID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	if a.SyncStatus == models.SyncStatusSynced {
		// First edit after sync: the accepted version becomes the base
		a.BasePayload = a.Payload
	}
	a.Payload = datatypes.JSONMap(req.Payload)
	a.SyncStatus = models.SyncStatusPending
	a.SyncError = nil

	if err := oh.store.PutAssessment(a); err != nil {
		respondStoreError(w, err)
		return
	}

	// An unsynced create stays a create; the queue coalesces the edit
	op := models.OperationUpdate
	if a.RemoteID == nil {
		op = models.OperationCreate
	}
	if _, err := oh.store.Enqueue(models.EntityTypeAssessment, localID, op, time.Now().UTC()); err != nil {
		respondStoreError(w, err)
		return
	}
	oh.engine.StartSync()

	respondJSON(w, http.StatusOK, a)
}

// GetAssessment returns one locally stored assessment
func (oh *OfflineHandler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	a, err := oh.store.GetAssessment(mux.Vars(r)["local_id"])
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

// ListAssessments returns locally stored assessments, optionally
// filtered by sync status (?status=pending)
func (oh *OfflineHandler) ListAssessments(w http.ResponseWriter, r *http.Request) {
	status := models.SyncStatus(r.URL.Query().Get("status"))
	assessments, err := oh.store.ListAssessments(status)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":       len(assessments),
		"assessments": assessments,
	})
}

// DiscardAssessment deletes a synced or failed assessment locally
func (oh *OfflineHandler) DiscardAssessment(w http.ResponseWriter, r *http.Request) {
	if err := oh.store.DeleteEntity(models.EntityTypeAssessment, mux.Vars(r)["local_id"]); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// CreatePhoto stores a captured photo locally and enqueues its upload.
// Multipart form: photo (file), caption, assessment_local_id,
// latitude, longitude.
func (oh *OfflineHandler) CreatePhoto(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxPhotoBytes); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	file, header, err := r.FormFile("photo")
	if err != nil {
		respondError(w, http.StatusBadRequest, "photo file is required")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "could not read photo: "+err.Error())
		return
	}

	p := &models.OfflinePhoto{
		LocalID:    uuid.New().String(),
		Caption:    r.FormValue("caption"),
		MimeType:   header.Header.Get("Content-Type"),
		FileSize:   int64(len(content)),
		Content:    content,
		SyncStatus: models.SyncStatusPending,
	}
	if v := r.FormValue("assessment_local_id"); v != "" {
		p.AssessmentLocalID = &v
	}
	if lat, err := strconv.ParseFloat(r.FormValue("latitude"), 64); err == nil {
		p.Latitude = &lat
	}
	if lng, err := strconv.ParseFloat(r.FormValue("longitude"), 64); err == nil {
		p.Longitude = &lng
	}

	if err := oh.store.PutPhoto(p); err != nil {
		respondStoreError(w, err)
		return
	}
	if _, err := oh.store.Enqueue(models.EntityTypePhoto, p.LocalID, models.OperationCreate, time.Now().UTC()); err != nil {
		respondStoreError(w, err)
		return
	}
	oh.engine.StartSync()

	respondJSON(w, http.StatusCreated, p)
}

// GetPhoto returns one locally stored photo's metadata
func (oh *OfflineHandler) GetPhoto(w http.ResponseWriter, r *http.Request) {
	p, err := oh.store.GetPhoto(mux.Vars(r)["local_id"])
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// ListPhotos returns locally stored photos, optionally filtered by
// sync status
func (oh *OfflineHandler) ListPhotos(w http.ResponseWriter, r *http.Request) {
	status := models.SyncStatus(r.URL.Query().Get("status"))
	photos, err := oh.store.ListPhotos(status)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(photos),
		"photos": photos,
	})
}

// DiscardPhoto deletes a synced or failed photo locally
func (oh *OfflineHandler) DiscardPhoto(w http.ResponseWriter, r *http.Request) {
	if err := oh.store.DeleteEntity(models.EntityTypePhoto, mux.Vars(r)["local_id"]); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
