package store

import (
	"errors"
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/farpomon/bca-app-sub013/internal/models"
)

func putAssessment(t *testing.T, s *MemoryStore, localID string) {
	t.Helper()
	err := s.PutAssessment(&models.OfflineAssessment{
		LocalID: localID,
		AssetID: "asset-1",
		Payload: datatypes.JSONMap{"condition": "fair"},
	})
	if err != nil {
		t.Fatalf("PutAssessment(%s): %v", localID, err)
	}
}

func TestEnqueueCoalescesPendingItem(t *testing.T) {
	s := NewMemoryStore()
	putAssessment(t, s, "a1")
	now := time.Now().UTC()

	first, err := s.Enqueue(models.EntityTypeAssessment, "a1", models.OperationCreate, now)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	second, err := s.Enqueue(models.EntityTypeAssessment, "a1", models.OperationUpdate, now.Add(time.Second))
	if err != nil {
		t.Fatalf("Enqueue again: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("expected coalescing into item %d, got new item %d", first.ID, second.ID)
	}
	// An unsynced create stays a create even after an edit
	if second.Operation != models.OperationCreate {
		t.Errorf("expected operation create after coalescing, got %s", second.Operation)
	}

	items, _ := s.ListQueue()
	if len(items) != 1 {
		t.Errorf("expected 1 queue item, got %d", len(items))
	}
}

func TestEnqueueWhileSyncingIsRejected(t *testing.T) {
	s := NewMemoryStore()
	putAssessment(t, s, "a1")
	now := time.Now().UTC()

	item, _ := s.Enqueue(models.EntityTypeAssessment, "a1", models.OperationCreate, now)
	if ok, err := s.MarkSyncing(item.ID); err != nil || !ok {
		t.Fatalf("MarkSyncing: ok=%v err=%v", ok, err)
	}

	if _, err := s.Enqueue(models.EntityTypeAssessment, "a1", models.OperationUpdate, now); !errors.Is(err, ErrEntityLocked) {
		t.Errorf("expected ErrEntityLocked, got %v", err)
	}
	if err := s.PutAssessment(&models.OfflineAssessment{LocalID: "a1", AssetID: "asset-1"}); !errors.Is(err, ErrEntityLocked) {
		t.Errorf("expected ErrEntityLocked on payload write, got %v", err)
	}
}

func TestNextEligibleHonorsOrderAndBackoffGate(t *testing.T) {
	s := NewMemoryStore()
	putAssessment(t, s, "a1")
	putAssessment(t, s, "a2")
	base := time.Now().UTC()

	first, _ := s.Enqueue(models.EntityTypeAssessment, "a1", models.OperationCreate, base)
	second, _ := s.Enqueue(models.EntityTypeAssessment, "a2", models.OperationCreate, base.Add(time.Second))

	got, err := s.NextEligible(base.Add(2 * time.Second))
	if err != nil || got == nil {
		t.Fatalf("NextEligible: item=%v err=%v", got, err)
	}
	if got.ID != first.ID {
		t.Errorf("expected earliest-enqueued item %d first, got %d", first.ID, got.ID)
	}

	// Park the first item behind a future gate: the second overtakes it
	if ok, _ := s.MarkSyncing(first.ID); !ok {
		t.Fatal("MarkSyncing returned false")
	}
	if err := s.MarkPendingRetry(first.ID, base.Add(time.Hour), "server unavailable"); err != nil {
		t.Fatalf("MarkPendingRetry: %v", err)
	}

	got, _ = s.NextEligible(base.Add(2 * time.Second))
	if got == nil || got.ID != second.ID {
		t.Errorf("expected gated item to be skipped, got %+v", got)
	}
}

func TestMarkSyncingIsExclusive(t *testing.T) {
	s := NewMemoryStore()
	putAssessment(t, s, "a1")
	item, _ := s.Enqueue(models.EntityTypeAssessment, "a1", models.OperationCreate, time.Now().UTC())

	ok, err := s.MarkSyncing(item.ID)
	if err != nil || !ok {
		t.Fatalf("first MarkSyncing: ok=%v err=%v", ok, err)
	}
	ok, err = s.MarkSyncing(item.ID)
	if err != nil {
		t.Fatalf("second MarkSyncing: %v", err)
	}
	if ok {
		t.Error("expected second MarkSyncing to lose the claim")
	}
}

func TestMarkSyncedIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	putAssessment(t, s, "a1")
	item, _ := s.Enqueue(models.EntityTypeAssessment, "a1", models.OperationCreate, time.Now().UTC())
	s.MarkSyncing(item.ID)

	if err := s.MarkSynced(item.ID, "srv-9"); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}
	if err := s.MarkSynced(item.ID, "srv-other"); err != nil {
		t.Fatalf("replayed MarkSynced: %v", err)
	}

	a, _ := s.GetAssessment("a1")
	if a.RemoteID == nil || *a.RemoteID != "srv-9" {
		t.Errorf("expected remote ID srv-9 preserved, got %v", a.RemoteID)
	}
	if a.SyncStatus != models.SyncStatusSynced {
		t.Errorf("expected entity synced, got %s", a.SyncStatus)
	}

	items, _ := s.ListQueue()
	if items[0].AttemptCount != 0 {
		t.Errorf("success must not count as an attempt, got %d", items[0].AttemptCount)
	}
}

func TestAttemptCountOnlyGrowsOnFailures(t *testing.T) {
	s := NewMemoryStore()
	putAssessment(t, s, "a1")
	now := time.Now().UTC()
	item, _ := s.Enqueue(models.EntityTypeAssessment, "a1", models.OperationCreate, now)

	s.MarkSyncing(item.ID)
	s.MarkPendingRetry(item.ID, now, "timeout")
	s.MarkSyncing(item.ID)
	if err := s.MarkPendingCanceled(item.ID); err != nil {
		t.Fatalf("MarkPendingCanceled: %v", err)
	}

	items, _ := s.ListQueue()
	if items[0].AttemptCount != 1 {
		t.Errorf("cancellation must not count as an attempt, got %d", items[0].AttemptCount)
	}
	if items[0].Status != models.SyncStatusPending {
		t.Errorf("expected pending after cancellation, got %s", items[0].Status)
	}
}

func TestFailedIsTerminalUntilRequeue(t *testing.T) {
	s := NewMemoryStore()
	putAssessment(t, s, "a1")
	now := time.Now().UTC()
	item, _ := s.Enqueue(models.EntityTypeAssessment, "a1", models.OperationCreate, now)
	s.MarkSyncing(item.ID)
	if err := s.MarkFailed(item.ID, models.FailurePermanent, "validation rejected"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	if got, _ := s.NextEligible(now.Add(time.Hour)); got != nil {
		t.Errorf("failed item must not be dispatched, got %+v", got)
	}
	a, _ := s.GetAssessment("a1")
	if a.SyncStatus != models.SyncStatusFailed || a.SyncError == nil {
		t.Errorf("entity should mirror failure with reason, got %s %v", a.SyncStatus, a.SyncError)
	}

	if err := s.Requeue(models.EntityTypeAssessment, "a1"); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	got, _ := s.NextEligible(time.Now().UTC())
	if got == nil {
		t.Fatal("expected requeued item to be eligible")
	}
	if got.AttemptCount != 0 {
		t.Errorf("requeue must reset the attempt budget, got %d", got.AttemptCount)
	}
}

func TestRequeueCoalescesWithActiveItem(t *testing.T) {
	s := NewMemoryStore()
	putAssessment(t, s, "a1")
	now := time.Now().UTC()

	item, _ := s.Enqueue(models.EntityTypeAssessment, "a1", models.OperationCreate, now)
	s.MarkSyncing(item.ID)
	s.MarkFailed(item.ID, models.FailurePermanent, "validation rejected")

	// Editing the failed entity queues a fresh mutation
	if _, err := s.Enqueue(models.EntityTypeAssessment, "a1", models.OperationCreate, now.Add(time.Second)); err != nil {
		t.Fatalf("Enqueue after failure: %v", err)
	}
	// A retry tap on top of that must not resurrect the failed item
	if err := s.Requeue(models.EntityTypeAssessment, "a1"); err != nil {
		t.Fatalf("Requeue: %v", err)
	}

	items, _ := s.ListQueue()
	active := 0
	for _, it := range items {
		if it.Status == models.SyncStatusPending || it.Status == models.SyncStatusSyncing {
			active++
		}
	}
	if active != 1 {
		t.Errorf("expected exactly one active item per entity, got %d", active)
	}
}

func TestEnqueueAfterFailureClearsStaleFailedItem(t *testing.T) {
	s := NewMemoryStore()
	putAssessment(t, s, "a1")
	now := time.Now().UTC()

	item, _ := s.Enqueue(models.EntityTypeAssessment, "a1", models.OperationCreate, now)
	s.MarkSyncing(item.ID)
	s.MarkFailed(item.ID, models.FailurePermanent, "validation rejected")

	if _, err := s.Enqueue(models.EntityTypeAssessment, "a1", models.OperationCreate, now.Add(time.Second)); err != nil {
		t.Fatalf("Enqueue after failure: %v", err)
	}

	failed, _ := s.CountByStatus(models.SyncStatusFailed)
	if failed != 0 {
		t.Errorf("superseded failures must not linger in the counts, got %d", failed)
	}
	items, _ := s.ListQueue()
	if len(items) != 1 || items[0].Status != models.SyncStatusPending {
		t.Errorf("expected a single fresh pending item, got %+v", items)
	}
}

func TestPhotoCapacityExhaustion(t *testing.T) {
	s := NewMemoryStore()
	s.SetCapacity(10)

	err := s.PutPhoto(&models.OfflinePhoto{LocalID: "p1", Content: []byte("12345678")})
	if err != nil {
		t.Fatalf("PutPhoto within capacity: %v", err)
	}
	err = s.PutPhoto(&models.OfflinePhoto{LocalID: "p2", Content: []byte("12345678")})
	if !errors.Is(err, ErrStorageFull) {
		t.Errorf("expected ErrStorageFull, got %v", err)
	}
}

func TestDeleteEntityProtectsNonTerminal(t *testing.T) {
	s := NewMemoryStore()
	putAssessment(t, s, "a1")
	item, _ := s.Enqueue(models.EntityTypeAssessment, "a1", models.OperationCreate, time.Now().UTC())

	if err := s.DeleteEntity(models.EntityTypeAssessment, "a1"); !errors.Is(err, ErrNotDiscardable) {
		t.Errorf("expected ErrNotDiscardable for pending entity, got %v", err)
	}

	s.MarkSyncing(item.ID)
	s.MarkSynced(item.ID, "srv-1")
	if err := s.DeleteEntity(models.EntityTypeAssessment, "a1"); err != nil {
		t.Errorf("expected synced entity deletable, got %v", err)
	}
	if _, err := s.GetAssessment("a1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestPurgeSyncedLeavesActiveWork(t *testing.T) {
	s := NewMemoryStore()
	putAssessment(t, s, "old")
	putAssessment(t, s, "busy")
	now := time.Now().UTC()

	item, _ := s.Enqueue(models.EntityTypeAssessment, "old", models.OperationCreate, now)
	s.MarkSyncing(item.ID)
	s.MarkSynced(item.ID, "srv-1")
	s.Enqueue(models.EntityTypeAssessment, "busy", models.OperationCreate, now)

	purged, err := s.PurgeSynced(now.Add(time.Hour))
	if err != nil {
		t.Fatalf("PurgeSynced: %v", err)
	}
	if purged != 1 {
		t.Errorf("expected 1 purged entity, got %d", purged)
	}
	if _, err := s.GetAssessment("busy"); err != nil {
		t.Errorf("pending entity must survive retention, got %v", err)
	}
}

func TestOverwriteAssessmentPayloadResetsBase(t *testing.T) {
	s := NewMemoryStore()
	putAssessment(t, s, "a1")

	server := map[string]interface{}{"condition": "poor", "inspector": "remote"}
	if err := s.OverwriteAssessmentPayload("a1", server, "rev-7"); err != nil {
		t.Fatalf("OverwriteAssessmentPayload: %v", err)
	}

	a, _ := s.GetAssessment("a1")
	if a.Payload["condition"] != "poor" {
		t.Errorf("expected payload replaced, got %v", a.Payload)
	}
	if a.BaseRevision != "rev-7" {
		t.Errorf("expected base revision rev-7, got %s", a.BaseRevision)
	}
	if a.BasePayload["inspector"] != "remote" {
		t.Errorf("expected base snapshot refreshed, got %v", a.BasePayload)
	}
}
