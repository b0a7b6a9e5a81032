package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/farpomon/bca-app-sub013/internal/database"
	"github.com/farpomon/bca-app-sub013/internal/models"
)

// GormStore is the durable Store implementation backed by the node's
// PostgreSQL database.
type GormStore struct {
	db *database.DB
}

// NewGormStore creates a store on top of an established database connection
func NewGormStore(db *database.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates the store's tables
func (s *GormStore) Migrate() error {
	return s.db.AutoMigrate(
		&models.Project{},
		&models.Asset{},
		&models.OfflineAssessment{},
		&models.OfflinePhoto{},
		&models.SyncQueueItem{},
		&models.ConflictRecord{},
	)
}

// translateStorageErr maps quota/disk exhaustion onto ErrStorageFull so
// callers can distinguish an action-required condition from a retryable
// write failure.
func translateStorageErr(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "disk full") ||
		strings.Contains(msg, "no space left") ||
		strings.Contains(msg, "could not extend file") ||
		strings.Contains(msg, "53100") {
		return fmt.Errorf("%w: %v", ErrStorageFull, err)
	}
	return err
}

func (s *GormStore) assertNotLocked(tx *gorm.DB, entityType models.EntityType, localID string) error {
	var count int64
	err := tx.Model(&models.SyncQueueItem{}).
		Where("entity_type = ? AND entity_local_id = ? AND status = ?", entityType, localID, models.SyncStatusSyncing).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrEntityLocked
	}
	return nil
}

// PutAssessment inserts or replaces an assessment by LocalID
func (s *GormStore) PutAssessment(a *models.OfflineAssessment) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.assertNotLocked(tx, models.EntityTypeAssessment, a.LocalID); err != nil {
			return err
		}
		if a.SyncStatus == "" {
			a.SyncStatus = models.SyncStatusPending
		}
		return translateStorageErr(tx.Save(a).Error)
	})
}

// GetAssessment returns one assessment by LocalID
func (s *GormStore) GetAssessment(localID string) (*models.OfflineAssessment, error) {
	var a models.OfflineAssessment
	err := s.db.First(&a, "local_id = ?", localID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAssessments returns assessments filtered by status ("" for all)
func (s *GormStore) ListAssessments(status models.SyncStatus) ([]models.OfflineAssessment, error) {
	var out []models.OfflineAssessment
	q := s.db.Order("created_at ASC")
	if status != "" {
		q = q.Where("sync_status = ?", status)
	}
	return out, q.Find(&out).Error
}

// PutPhoto inserts or replaces a photo by LocalID
func (s *GormStore) PutPhoto(p *models.OfflinePhoto) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.assertNotLocked(tx, models.EntityTypePhoto, p.LocalID); err != nil {
			return err
		}
		if p.SyncStatus == "" {
			p.SyncStatus = models.SyncStatusPending
		}
		if p.FileSize == 0 {
			p.FileSize = int64(len(p.Content))
		}
		return translateStorageErr(tx.Save(p).Error)
	})
}

// GetPhoto returns one photo by LocalID
func (s *GormStore) GetPhoto(localID string) (*models.OfflinePhoto, error) {
	var p models.OfflinePhoto
	err := s.db.First(&p, "local_id = ?", localID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPhotos returns photos filtered by status ("" for all)
func (s *GormStore) ListPhotos(status models.SyncStatus) ([]models.OfflinePhoto, error) {
	var out []models.OfflinePhoto
	q := s.db.Order("created_at ASC")
	if status != "" {
		q = q.Where("sync_status = ?", status)
	}
	return out, q.Find(&out).Error
}

// DeleteEntity removes a synced or user-discarded failed entity
func (s *GormStore) DeleteEntity(entityType models.EntityType, localID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		status, err := entityStatus(tx, entityType, localID)
		if err != nil {
			return err
		}
		if !status.IsTerminal() {
			return ErrNotDiscardable
		}
		if err := tx.Where("entity_type = ? AND entity_local_id = ?", entityType, localID).
			Delete(&models.SyncQueueItem{}).Error; err != nil {
			return err
		}
		switch entityType {
		case models.EntityTypeAssessment:
			return tx.Delete(&models.OfflineAssessment{}, "local_id = ?", localID).Error
		case models.EntityTypePhoto:
			return tx.Delete(&models.OfflinePhoto{}, "local_id = ?", localID).Error
		}
		return fmt.Errorf("unknown entity type: %s", entityType)
	})
}

func entityStatus(tx *gorm.DB, entityType models.EntityType, localID string) (models.SyncStatus, error) {
	var status models.SyncStatus
	var err error
	switch entityType {
	case models.EntityTypeAssessment:
		var a models.OfflineAssessment
		err = tx.Select("sync_status").First(&a, "local_id = ?", localID).Error
		status = a.SyncStatus
	case models.EntityTypePhoto:
		var p models.OfflinePhoto
		err = tx.Select("sync_status").First(&p, "local_id = ?", localID).Error
		status = p.SyncStatus
	default:
		return "", fmt.Errorf("unknown entity type: %s", entityType)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	return status, err
}

// SetUploadProgress records live photo upload progress
func (s *GormStore) SetUploadProgress(localID string, progress int) error {
	return s.db.Model(&models.OfflinePhoto{}).
		Where("local_id = ?", localID).
		Update("upload_progress", progress).Error
}

// OverwriteAssessmentPayload replaces the local payload with the server's
// version after a server-wins resolution
func (s *GormStore) OverwriteAssessmentPayload(localID string, payload map[string]interface{}, revision string) error {
	return s.db.Model(&models.OfflineAssessment{}).
		Where("local_id = ?", localID).
		Updates(map[string]interface{}{
			"payload":       datatypes.JSONMap(payload),
			"base_revision": revision,
			"base_payload":  datatypes.JSONMap(payload),
		}).Error
}

// PurgeSynced deletes synced entities older than the cutoff
func (s *GormStore) PurgeSynced(olderThan time.Time) (int64, error) {
	var purged int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var assessments []models.OfflineAssessment
		if err := tx.Select("local_id").
			Where("sync_status = ? AND updated_at < ?", models.SyncStatusSynced, olderThan).
			Find(&assessments).Error; err != nil {
			return err
		}
		for _, a := range assessments {
			if err := tx.Where("entity_type = ? AND entity_local_id = ?", models.EntityTypeAssessment, a.LocalID).
				Delete(&models.SyncQueueItem{}).Error; err != nil {
				return err
			}
		}
		res := tx.Where("sync_status = ? AND updated_at < ?", models.SyncStatusSynced, olderThan).
			Delete(&models.OfflineAssessment{})
		if res.Error != nil {
			return res.Error
		}
		purged += res.RowsAffected

		var photos []models.OfflinePhoto
		if err := tx.Select("local_id").
			Where("sync_status = ? AND updated_at < ?", models.SyncStatusSynced, olderThan).
			Find(&photos).Error; err != nil {
			return err
		}
		for _, p := range photos {
			if err := tx.Where("entity_type = ? AND entity_local_id = ?", models.EntityTypePhoto, p.LocalID).
				Delete(&models.SyncQueueItem{}).Error; err != nil {
				return err
			}
		}
		res = tx.Where("sync_status = ? AND updated_at < ?", models.SyncStatusSynced, olderThan).
			Delete(&models.OfflinePhoto{})
		if res.Error != nil {
			return res.Error
		}
		purged += res.RowsAffected
		return nil
	})
	return purged, err
}

// Enqueue appends a new pending item or coalesces into the existing one
func (s *GormStore) Enqueue(entityType models.EntityType, localID string, op models.Operation, now time.Time) (*models.SyncQueueItem, error) {
	var item models.SyncQueueItem
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var existing models.SyncQueueItem
		err := tx.Where("entity_type = ? AND entity_local_id = ? AND status IN ?",
			entityType, localID, []models.SyncStatus{models.SyncStatusPending, models.SyncStatusSyncing}).
			First(&existing).Error
		switch {
		case err == nil:
			if existing.Status == models.SyncStatusSyncing {
				return ErrEntityLocked
			}
			// Coalesce: a new edit amends the outstanding mutation. A
			// create stays a create until the server has seen the entity.
			if existing.Operation != models.OperationCreate {
				existing.Operation = op
			}
			if err := tx.Save(&existing).Error; err != nil {
				return err
			}
			item = existing
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			// A fresh mutation supersedes any earlier failed item
			if err := dropFailedItems(tx, entityType, localID); err != nil {
				return err
			}
			item = models.SyncQueueItem{
				EntityType:     entityType,
				EntityLocalID:  localID,
				Operation:      op,
				EnqueuedAt:     now,
				NextEligibleAt: now,
				Status:         models.SyncStatusPending,
			}
			if err := tx.Create(&item).Error; err != nil {
				return translateStorageErr(err)
			}
			return mirrorEntityStatus(tx, entityType, localID, models.SyncStatusPending, nil)
		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// NextEligible returns the earliest-enqueued pending item past its gate
func (s *GormStore) NextEligible(now time.Time) (*models.SyncQueueItem, error) {
	var item models.SyncQueueItem
	err := s.db.Where("status = ? AND next_eligible_at <= ?", models.SyncStatusPending, now).
		Order("enqueued_at ASC, id ASC").
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ActiveItem returns the entity's non-terminal queue item, or nil
func (s *GormStore) ActiveItem(entityType models.EntityType, localID string) (*models.SyncQueueItem, error) {
	var item models.SyncQueueItem
	err := s.db.Where("entity_type = ? AND entity_local_id = ? AND status IN ?",
		entityType, localID, []models.SyncStatus{models.SyncStatusPending, models.SyncStatusSyncing}).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// MarkSyncing transitions pending -> syncing; the exclusivity gate
func (s *GormStore) MarkSyncing(id uint) (bool, error) {
	var claimed bool
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.SyncQueueItem{}).
			Where("id = ? AND status = ?", id, models.SyncStatusPending).
			Update("status", models.SyncStatusSyncing)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		claimed = true
		var item models.SyncQueueItem
		if err := tx.First(&item, id).Error; err != nil {
			return err
		}
		return mirrorEntityStatus(tx, item.EntityType, item.EntityLocalID, models.SyncStatusSyncing, nil)
	})
	return claimed, err
}

// MarkSynced finishes the item and records the remote ID on the entity
func (s *GormStore) MarkSynced(id uint, remoteID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var item models.SyncQueueItem
		if err := tx.First(&item, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if item.Status == models.SyncStatusSynced {
			// Replay is a no-op; no duplicate remote write is recorded
			return nil
		}
		item.Status = models.SyncStatusSynced
		item.ErrorMessage = nil
		item.FailureKind = nil
		if err := tx.Save(&item).Error; err != nil {
			return err
		}
		updates := map[string]interface{}{
			"sync_status": models.SyncStatusSynced,
			"sync_error":  nil,
			"remote_id":   remoteID,
		}
		switch item.EntityType {
		case models.EntityTypeAssessment:
			return tx.Model(&models.OfflineAssessment{}).Where("local_id = ?", item.EntityLocalID).Updates(updates).Error
		case models.EntityTypePhoto:
			updates["upload_progress"] = 100
			return tx.Model(&models.OfflinePhoto{}).Where("local_id = ?", item.EntityLocalID).Updates(updates).Error
		}
		return fmt.Errorf("unknown entity type: %s", item.EntityType)
	})
}

// MarkFailed finishes the item as failed with a recorded reason
func (s *GormStore) MarkFailed(id uint, kind models.FailureKind, reason string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var item models.SyncQueueItem
		if err := tx.First(&item, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if item.Status == models.SyncStatusSyncing {
			item.AttemptCount++
		}
		item.Status = models.SyncStatusFailed
		item.ErrorMessage = &reason
		item.FailureKind = &kind
		if err := tx.Save(&item).Error; err != nil {
			return err
		}
		return mirrorEntityStatus(tx, item.EntityType, item.EntityLocalID, models.SyncStatusFailed, &reason)
	})
}

// MarkPendingRetry returns a transiently failed item to pending behind a
// backoff gate
func (s *GormStore) MarkPendingRetry(id uint, nextEligibleAt time.Time, reason string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var item models.SyncQueueItem
		if err := tx.First(&item, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		item.AttemptCount++
		item.Status = models.SyncStatusPending
		item.NextEligibleAt = nextEligibleAt
		item.ErrorMessage = &reason
		if err := tx.Save(&item).Error; err != nil {
			return err
		}
		return mirrorEntityStatus(tx, item.EntityType, item.EntityLocalID, models.SyncStatusPending, nil)
	})
}

// MarkPendingCanceled returns a syncing item to pending with no penalty
func (s *GormStore) MarkPendingCanceled(id uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var item models.SyncQueueItem
		if err := tx.First(&item, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if item.Status != models.SyncStatusSyncing {
			return nil
		}
		item.Status = models.SyncStatusPending
		if err := tx.Save(&item).Error; err != nil {
			return err
		}
		if item.EntityType == models.EntityTypePhoto {
			// Progress resets; the next attempt starts the transfer over
			if err := tx.Model(&models.OfflinePhoto{}).
				Where("local_id = ?", item.EntityLocalID).
				Update("upload_progress", 0).Error; err != nil {
				return err
			}
		}
		return mirrorEntityStatus(tx, item.EntityType, item.EntityLocalID, models.SyncStatusPending, nil)
	})
}

// Requeue re-enqueues a failed item for manual retry
func (s *GormStore) Requeue(entityType models.EntityType, localID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var active models.SyncQueueItem
		err := tx.Where("entity_type = ? AND entity_local_id = ? AND status IN ?",
			entityType, localID, []models.SyncStatus{models.SyncStatusPending, models.SyncStatusSyncing}).
			First(&active).Error
		if err == nil {
			// A newer edit already queued this entity; the failed item is
			// superseded rather than resurrected alongside it
			return dropFailedItems(tx, entityType, localID)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var item models.SyncQueueItem
		err = tx.Where("entity_type = ? AND entity_local_id = ? AND status = ?",
			entityType, localID, models.SyncStatusFailed).
			Order("id DESC").
			First(&item).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		item.Status = models.SyncStatusPending
		item.AttemptCount = 0
		item.NextEligibleAt = time.Now().UTC()
		item.ErrorMessage = nil
		item.FailureKind = nil
		if err := tx.Save(&item).Error; err != nil {
			return err
		}
		return mirrorEntityStatus(tx, entityType, localID, models.SyncStatusPending, nil)
	})
}

// CountByStatus counts queue items in the given status
func (s *GormStore) CountByStatus(status models.SyncStatus) (int64, error) {
	var count int64
	err := s.db.Model(&models.SyncQueueItem{}).Where("status = ?", status).Count(&count).Error
	return count, err
}

// ListQueue returns all queue items in FIFO order
func (s *GormStore) ListQueue() ([]models.SyncQueueItem, error) {
	var items []models.SyncQueueItem
	return items, s.db.Order("enqueued_at ASC, id ASC").Find(&items).Error
}

// RecordConflict persists a conflict decision for the UI
func (s *GormStore) RecordConflict(rec *models.ConflictRecord) error {
	return s.db.Create(rec).Error
}

// ListConflicts returns recorded conflicts, newest first
func (s *GormStore) ListConflicts() ([]models.ConflictRecord, error) {
	var out []models.ConflictRecord
	return out, s.db.Order("created_at DESC").Find(&out).Error
}

func dropFailedItems(tx *gorm.DB, entityType models.EntityType, localID string) error {
	return tx.Where("entity_type = ? AND entity_local_id = ? AND status = ?",
		entityType, localID, models.SyncStatusFailed).
		Delete(&models.SyncQueueItem{}).Error
}

func mirrorEntityStatus(tx *gorm.DB, entityType models.EntityType, localID string, status models.SyncStatus, syncErr *string) error {
	updates := map[string]interface{}{
		"sync_status": status,
		"sync_error":  syncErr,
	}
	switch entityType {
	case models.EntityTypeAssessment:
		return tx.Model(&models.OfflineAssessment{}).Where("local_id = ?", localID).Updates(updates).Error
	case models.EntityTypePhoto:
		return tx.Model(&models.OfflinePhoto{}).Where("local_id = ?", localID).Updates(updates).Error
	}
	return fmt.Errorf("unknown entity type: %s", entityType)
}

// ReplaceCatalog upserts the cloud's reference data into the local cache
func (s *GormStore) ReplaceCatalog(projects []models.Project, assets []models.Asset) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		for i := range projects {
			if err := tx.Save(&projects[i]).Error; err != nil {
				return translateStorageErr(err)
			}
		}
		for i := range assets {
			if err := tx.Save(&assets[i]).Error; err != nil {
				return translateStorageErr(err)
			}
		}
		return nil
	})
}

// ListProjects returns cached projects
func (s *GormStore) ListProjects() ([]models.Project, error) {
	var out []models.Project
	return out, s.db.Order("name ASC").Find(&out).Error
}

// ListAssets returns cached assets, optionally filtered by project
func (s *GormStore) ListAssets(projectID string) ([]models.Asset, error) {
	var out []models.Asset
	q := s.db.Order("name ASC")
	if projectID != "" {
		q = q.Where("project_id = ?", projectID)
	}
	return out, q.Find(&out).Error
}
