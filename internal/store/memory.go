package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/datatypes"

	"github.com/farpomon/bca-app-sub013/internal/models"
)

// MemoryStore is an in-memory Store with the same invariants as the
// durable implementation. Used by the engine tests and as a scratch
// backend for tooling; nothing survives a restart.
type MemoryStore struct {
	mu sync.Mutex

	assessments map[string]*models.OfflineAssessment
	photos      map[string]*models.OfflinePhoto
	queue       map[uint]*models.SyncQueueItem
	conflicts   []models.ConflictRecord
	projects    map[string]*models.Project
	assets      map[string]*models.Asset

	nextQueueID uint

	// capacity bounds total photo bytes; 0 means unlimited
	capacity int64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assessments: make(map[string]*models.OfflineAssessment),
		photos:      make(map[string]*models.OfflinePhoto),
		queue:       make(map[uint]*models.SyncQueueItem),
		projects:    make(map[string]*models.Project),
		assets:      make(map[string]*models.Asset),
		nextQueueID: 1,
	}
}

// SetCapacity bounds total stored photo bytes; writes past the bound
// fail with ErrStorageFull
func (s *MemoryStore) SetCapacity(bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capacity = bytes
}

func (s *MemoryStore) lockedBy(entityType models.EntityType, localID string) bool {
	for _, item := range s.queue {
		if item.EntityType == entityType && item.EntityLocalID == localID && item.Status == models.SyncStatusSyncing {
			return true
		}
	}
	return false
}

func (s *MemoryStore) activeItem(entityType models.EntityType, localID string) *models.SyncQueueItem {
	for _, item := range s.queue {
		if item.EntityType == entityType && item.EntityLocalID == localID &&
			(item.Status == models.SyncStatusPending || item.Status == models.SyncStatusSyncing) {
			return item
		}
	}
	return nil
}

// PutAssessment inserts or replaces an assessment by LocalID
func (s *MemoryStore) PutAssessment(a *models.OfflineAssessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockedBy(models.EntityTypeAssessment, a.LocalID) {
		return ErrEntityLocked
	}
	if a.SyncStatus == "" {
		a.SyncStatus = models.SyncStatusPending
	}
	now := time.Now().UTC()
	if existing, ok := s.assessments[a.LocalID]; ok {
		a.CreatedAt = existing.CreatedAt
	} else if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	cp := *a
	s.assessments[a.LocalID] = &cp
	return nil
}

// GetAssessment returns one assessment by LocalID
func (s *MemoryStore) GetAssessment(localID string) (*models.OfflineAssessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assessments[localID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// ListAssessments returns assessments filtered by status ("" for all)
func (s *MemoryStore) ListAssessments(status models.SyncStatus) ([]models.OfflineAssessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.OfflineAssessment
	for _, a := range s.assessments {
		if status == "" || a.SyncStatus == status {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// PutPhoto inserts or replaces a photo by LocalID
func (s *MemoryStore) PutPhoto(p *models.OfflinePhoto) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockedBy(models.EntityTypePhoto, p.LocalID) {
		return ErrEntityLocked
	}
	if s.capacity > 0 {
		var total int64
		for id, existing := range s.photos {
			if id == p.LocalID {
				continue
			}
			total += int64(len(existing.Content))
		}
		if total+int64(len(p.Content)) > s.capacity {
			return fmt.Errorf("%w: %d byte capacity exceeded", ErrStorageFull, s.capacity)
		}
	}
	if p.SyncStatus == "" {
		p.SyncStatus = models.SyncStatusPending
	}
	if p.FileSize == 0 {
		p.FileSize = int64(len(p.Content))
	}
	now := time.Now().UTC()
	if existing, ok := s.photos[p.LocalID]; ok {
		p.CreatedAt = existing.CreatedAt
	} else if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	cp := *p
	s.photos[p.LocalID] = &cp
	return nil
}

// GetPhoto returns one photo by LocalID
func (s *MemoryStore) GetPhoto(localID string) (*models.OfflinePhoto, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.photos[localID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// ListPhotos returns photos filtered by status ("" for all)
func (s *MemoryStore) ListPhotos(status models.SyncStatus) ([]models.OfflinePhoto, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.OfflinePhoto
	for _, p := range s.photos {
		if status == "" || p.SyncStatus == status {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// DeleteEntity removes a synced or user-discarded failed entity
func (s *MemoryStore) DeleteEntity(entityType models.EntityType, localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var status models.SyncStatus
	switch entityType {
	case models.EntityTypeAssessment:
		a, ok := s.assessments[localID]
		if !ok {
			return ErrNotFound
		}
		status = a.SyncStatus
	case models.EntityTypePhoto:
		p, ok := s.photos[localID]
		if !ok {
			return ErrNotFound
		}
		status = p.SyncStatus
	default:
		return fmt.Errorf("unknown entity type: %s", entityType)
	}
	if !status.IsTerminal() {
		return ErrNotDiscardable
	}
	for id, item := range s.queue {
		if item.EntityType == entityType && item.EntityLocalID == localID {
			delete(s.queue, id)
		}
	}
	if entityType == models.EntityTypeAssessment {
		delete(s.assessments, localID)
	} else {
		delete(s.photos, localID)
	}
	return nil
}

// SetUploadProgress records live photo upload progress
func (s *MemoryStore) SetUploadProgress(localID string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.photos[localID]
	if !ok {
		return ErrNotFound
	}
	p.UploadProgress = progress
	return nil
}

// OverwriteAssessmentPayload replaces the local payload with the server's
func (s *MemoryStore) OverwriteAssessmentPayload(localID string, payload map[string]interface{}, revision string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assessments[localID]
	if !ok {
		return ErrNotFound
	}
	a.Payload = datatypes.JSONMap(payload)
	a.BaseRevision = revision
	a.BasePayload = cloneMap(payload)
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func cloneMap(m map[string]interface{}) datatypes.JSONMap {
	if m == nil {
		return nil
	}
	out := make(datatypes.JSONMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// PurgeSynced deletes synced entities older than the cutoff
func (s *MemoryStore) PurgeSynced(olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var purged int64
	for id, a := range s.assessments {
		if a.SyncStatus == models.SyncStatusSynced && a.UpdatedAt.Before(olderThan) {
			delete(s.assessments, id)
			s.dropQueueItems(models.EntityTypeAssessment, id)
			purged++
		}
	}
	for id, p := range s.photos {
		if p.SyncStatus == models.SyncStatusSynced && p.UpdatedAt.Before(olderThan) {
			delete(s.photos, id)
			s.dropQueueItems(models.EntityTypePhoto, id)
			purged++
		}
	}
	return purged, nil
}

func (s *MemoryStore) dropFailedItems(entityType models.EntityType, localID string) {
	for id, item := range s.queue {
		if item.EntityType == entityType && item.EntityLocalID == localID && item.Status == models.SyncStatusFailed {
			delete(s.queue, id)
		}
	}
}

func (s *MemoryStore) dropQueueItems(entityType models.EntityType, localID string) {
	for id, item := range s.queue {
		if item.EntityType == entityType && item.EntityLocalID == localID {
			delete(s.queue, id)
		}
	}
}

// Enqueue appends a new pending item or coalesces into the existing one
func (s *MemoryStore) Enqueue(entityType models.EntityType, localID string, op models.Operation, now time.Time) (*models.SyncQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing := s.activeItem(entityType, localID); existing != nil {
		if existing.Status == models.SyncStatusSyncing {
			return nil, ErrEntityLocked
		}
		if existing.Operation != models.OperationCreate {
			existing.Operation = op
		}
		existing.UpdatedAt = now
		cp := *existing
		return &cp, nil
	}
	// A fresh mutation supersedes any earlier failed item for the entity
	s.dropFailedItems(entityType, localID)
	item := &models.SyncQueueItem{
		ID:             s.nextQueueID,
		EntityType:     entityType,
		EntityLocalID:  localID,
		Operation:      op,
		EnqueuedAt:     now,
		NextEligibleAt: now,
		Status:         models.SyncStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.nextQueueID++
	s.queue[item.ID] = item
	s.mirrorStatus(entityType, localID, models.SyncStatusPending, nil)
	cp := *item
	return &cp, nil
}

// NextEligible returns the earliest-enqueued pending item past its gate
func (s *MemoryStore) NextEligible(now time.Time) (*models.SyncQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.SyncQueueItem
	for _, item := range s.queue {
		if item.Status != models.SyncStatusPending || item.NextEligibleAt.After(now) {
			continue
		}
		if best == nil ||
			item.EnqueuedAt.Before(best.EnqueuedAt) ||
			(item.EnqueuedAt.Equal(best.EnqueuedAt) && item.ID < best.ID) {
			best = item
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

// ActiveItem returns the entity's non-terminal queue item, or nil
func (s *MemoryStore) ActiveItem(entityType models.EntityType, localID string) (*models.SyncQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.activeItem(entityType, localID)
	if item == nil {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

// MarkSyncing transitions pending -> syncing; the exclusivity gate
func (s *MemoryStore) MarkSyncing(id uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.queue[id]
	if !ok {
		return false, ErrNotFound
	}
	if item.Status != models.SyncStatusPending {
		return false, nil
	}
	item.Status = models.SyncStatusSyncing
	item.UpdatedAt = time.Now().UTC()
	s.mirrorStatus(item.EntityType, item.EntityLocalID, models.SyncStatusSyncing, nil)
	return true, nil
}

// MarkSynced finishes the item and records the remote ID on the entity
func (s *MemoryStore) MarkSynced(id uint, remoteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.queue[id]
	if !ok {
		return ErrNotFound
	}
	if item.Status == models.SyncStatusSynced {
		return nil
	}
	item.Status = models.SyncStatusSynced
	item.ErrorMessage = nil
	item.FailureKind = nil
	item.UpdatedAt = time.Now().UTC()
	switch item.EntityType {
	case models.EntityTypeAssessment:
		if a, ok := s.assessments[item.EntityLocalID]; ok {
			a.RemoteID = &remoteID
			a.SyncStatus = models.SyncStatusSynced
			a.SyncError = nil
			a.UpdatedAt = time.Now().UTC()
		}
	case models.EntityTypePhoto:
		if p, ok := s.photos[item.EntityLocalID]; ok {
			p.RemoteID = &remoteID
			p.SyncStatus = models.SyncStatusSynced
			p.SyncError = nil
			p.UploadProgress = 100
			p.UpdatedAt = time.Now().UTC()
		}
	}
	return nil
}

// MarkFailed finishes the item as failed with a recorded reason
func (s *MemoryStore) MarkFailed(id uint, kind models.FailureKind, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.queue[id]
	if !ok {
		return ErrNotFound
	}
	if item.Status == models.SyncStatusSyncing {
		item.AttemptCount++
	}
	item.Status = models.SyncStatusFailed
	item.ErrorMessage = &reason
	item.FailureKind = &kind
	item.UpdatedAt = time.Now().UTC()
	s.mirrorStatus(item.EntityType, item.EntityLocalID, models.SyncStatusFailed, &reason)
	return nil
}

// MarkPendingRetry returns a transiently failed item to pending
func (s *MemoryStore) MarkPendingRetry(id uint, nextEligibleAt time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.queue[id]
	if !ok {
		return ErrNotFound
	}
	item.AttemptCount++
	item.Status = models.SyncStatusPending
	item.NextEligibleAt = nextEligibleAt
	item.ErrorMessage = &reason
	item.UpdatedAt = time.Now().UTC()
	s.mirrorStatus(item.EntityType, item.EntityLocalID, models.SyncStatusPending, nil)
	return nil
}

// MarkPendingCanceled returns a syncing item to pending with no penalty
func (s *MemoryStore) MarkPendingCanceled(id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.queue[id]
	if !ok {
		return ErrNotFound
	}
	if item.Status != models.SyncStatusSyncing {
		return nil
	}
	item.Status = models.SyncStatusPending
	item.UpdatedAt = time.Now().UTC()
	if item.EntityType == models.EntityTypePhoto {
		if p, ok := s.photos[item.EntityLocalID]; ok {
			p.UploadProgress = 0
		}
	}
	s.mirrorStatus(item.EntityType, item.EntityLocalID, models.SyncStatusPending, nil)
	return nil
}

// Requeue re-enqueues a failed item for manual retry
func (s *MemoryStore) Requeue(entityType models.EntityType, localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeItem(entityType, localID) != nil {
		// A newer edit already queued this entity; the failed item is
		// superseded rather than resurrected alongside it
		s.dropFailedItems(entityType, localID)
		return nil
	}
	var latest *models.SyncQueueItem
	for _, item := range s.queue {
		if item.EntityType == entityType && item.EntityLocalID == localID && item.Status == models.SyncStatusFailed {
			if latest == nil || item.ID > latest.ID {
				latest = item
			}
		}
	}
	if latest == nil {
		return ErrNotFound
	}
	latest.Status = models.SyncStatusPending
	latest.AttemptCount = 0
	latest.NextEligibleAt = time.Now().UTC()
	latest.ErrorMessage = nil
	latest.FailureKind = nil
	latest.UpdatedAt = time.Now().UTC()
	s.mirrorStatus(entityType, localID, models.SyncStatusPending, nil)
	return nil
}

// CountByStatus counts queue items in the given status
func (s *MemoryStore) CountByStatus(status models.SyncStatus) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, item := range s.queue {
		if item.Status == status {
			count++
		}
	}
	return count, nil
}

// ListQueue returns all queue items in FIFO order
func (s *MemoryStore) ListQueue() ([]models.SyncQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SyncQueueItem, 0, len(s.queue))
	for _, item := range s.queue {
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
	})
	return out, nil
}

// RecordConflict persists a conflict decision for the UI
func (s *MemoryStore) RecordConflict(rec *models.ConflictRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = uint(len(s.conflicts) + 1)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.conflicts = append(s.conflicts, *rec)
	return nil
}

// ListConflicts returns recorded conflicts, newest first
func (s *MemoryStore) ListConflicts() ([]models.ConflictRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ConflictRecord, len(s.conflicts))
	for i := range s.conflicts {
		out[len(s.conflicts)-1-i] = s.conflicts[i]
	}
	return out, nil
}

func (s *MemoryStore) mirrorStatus(entityType models.EntityType, localID string, status models.SyncStatus, syncErr *string) {
	switch entityType {
	case models.EntityTypeAssessment:
		if a, ok := s.assessments[localID]; ok {
			a.SyncStatus = status
			a.SyncError = syncErr
		}
	case models.EntityTypePhoto:
		if p, ok := s.photos[localID]; ok {
			p.SyncStatus = status
			p.SyncError = syncErr
		}
	}
}

// ReplaceCatalog upserts the cloud's reference data into the local cache
func (s *MemoryStore) ReplaceCatalog(projects []models.Project, assets []models.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range projects {
		cp := p
		s.projects[p.ID] = &cp
	}
	for _, a := range assets {
		cp := a
		s.assets[a.ID] = &cp
	}
	return nil
}

// ListProjects returns cached projects
func (s *MemoryStore) ListProjects() ([]models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListAssets returns cached assets, optionally filtered by project
func (s *MemoryStore) ListAssets(projectID string) ([]models.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Asset
	for _, a := range s.assets {
		if projectID == "" || a.ProjectID == projectID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
