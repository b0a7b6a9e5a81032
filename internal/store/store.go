// Package store persists offline entities and the sync queue across
// process restarts, and enforces the queue's ordering and
// one-active-item-per-entity invariants.
package store

import (
	"errors"
	"time"

	"github.com/farpomon/bca-app-sub013/internal/models"
)

var (
	// ErrNotFound is returned when the referenced record does not exist
	ErrNotFound = errors.New("store: record not found")

	// ErrStorageFull is returned when local persistence is exhausted.
	// Distinct from a generic write failure: it requires user action
	// (free space, discard old photos) rather than a retry.
	ErrStorageFull = errors.New("store: local storage full")

	// ErrEntityLocked is returned when a payload write targets an entity
	// whose queue item is currently syncing. The in-flight transmission
	// must finish (or be cancelled) before the entity can be edited.
	ErrEntityLocked = errors.New("store: entity is locked while syncing")

	// ErrNotDiscardable is returned when deletion targets an entity that
	// is still in a non-terminal sync state.
	ErrNotDiscardable = errors.New("store: entity has not reached a terminal sync state")
)

// Store is the single source of truth for offline entities and the
// mutation queue. The orchestrator is its only writer for status and
// remote-id fields; the UI writes payload fields while items are pending.
type Store interface {
	// Entity operations

	// PutAssessment inserts or replaces an assessment by LocalID.
	// Rejected with ErrEntityLocked while the entity's queue item is syncing.
	PutAssessment(a *models.OfflineAssessment) error
	GetAssessment(localID string) (*models.OfflineAssessment, error)
	// ListAssessments returns assessments filtered by status ("" for all),
	// ordered by creation time.
	ListAssessments(status models.SyncStatus) ([]models.OfflineAssessment, error)

	PutPhoto(p *models.OfflinePhoto) error
	GetPhoto(localID string) (*models.OfflinePhoto, error)
	ListPhotos(status models.SyncStatus) ([]models.OfflinePhoto, error)

	// DeleteEntity removes a synced or failed entity together with its
	// queue items. Non-terminal entities are protected (ErrNotDiscardable).
	DeleteEntity(entityType models.EntityType, localID string) error

	// SetUploadProgress records live photo upload progress (0-100)
	SetUploadProgress(localID string, progress int) error

	// OverwriteAssessmentPayload replaces the local payload and base
	// snapshot with an accepted or server-provided version. Used for
	// server-wins resolutions, merge resubmissions and post-success
	// revision bookkeeping; not subject to the syncing lock.
	OverwriteAssessmentPayload(localID string, payload map[string]interface{}, revision string) error

	// PurgeSynced deletes synced entities older than the cutoff and
	// returns how many were removed. Retention GC only; non-terminal
	// entities are never touched.
	PurgeSynced(olderThan time.Time) (int64, error)

	// Queue operations

	// Enqueue appends a new pending item, or coalesces into the existing
	// pending item for the same entity (one active item per entity).
	// Enqueueing against a syncing item returns ErrEntityLocked.
	Enqueue(entityType models.EntityType, localID string, op models.Operation, now time.Time) (*models.SyncQueueItem, error)

	// NextEligible returns the earliest-enqueued pending item whose
	// backoff gate has elapsed, or nil when the queue is drained.
	NextEligible(now time.Time) (*models.SyncQueueItem, error)

	// ActiveItem returns the entity's non-terminal queue item, or nil.
	ActiveItem(entityType models.EntityType, localID string) (*models.SyncQueueItem, error)

	// MarkSyncing transitions pending -> syncing. Returns false when the
	// item was not pending, which serializes concurrent drains.
	MarkSyncing(id uint) (bool, error)

	// MarkSynced records the remote ID on the entity and finishes the
	// item. Calling it again for an already-synced item is a no-op.
	MarkSynced(id uint, remoteID string) error

	// MarkFailed finishes the item as failed with a recorded reason.
	// Increments the attempt count (transition out of syncing).
	MarkFailed(id uint, kind models.FailureKind, reason string) error

	// MarkPendingRetry returns a transiently failed item to pending with
	// a backoff gate. Increments the attempt count.
	MarkPendingRetry(id uint, nextEligibleAt time.Time, reason string) error

	// MarkPendingCanceled returns a syncing item to pending after a
	// cancelled write. No attempt-count penalty; photo progress is reset.
	MarkPendingCanceled(id uint) error

	// Requeue re-enqueues a failed item for manual retry: attempt count
	// reset to zero, backoff gate cleared.
	Requeue(entityType models.EntityType, localID string) error

	CountByStatus(status models.SyncStatus) (int64, error)
	ListQueue() ([]models.SyncQueueItem, error)

	// Conflict operations

	RecordConflict(rec *models.ConflictRecord) error
	ListConflicts() ([]models.ConflictRecord, error)

	// Catalog operations. Projects and assets are cloud-owned reference
	// data cached locally so assessors can pick targets while offline.

	ReplaceCatalog(projects []models.Project, assets []models.Asset) error
	ListProjects() ([]models.Project, error)
	// ListAssets returns cached assets, optionally filtered by project
	// ("" for all).
	ListAssets(projectID string) ([]models.Asset, error)
}
