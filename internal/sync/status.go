package sync

import (
	"time"

	"github.com/farpomon/bca-app-sub013/internal/models"
	"github.com/farpomon/bca-app-sub013/internal/store"
)

// Snapshot is a consistent view of the sync state for the UI badge
// ("3 items waiting to sync", "1 failed") and the status endpoint.
type Snapshot struct {
	PendingCount int64 `json:"pending_count"`
	SyncingCount int64 `json:"syncing_count"`
	FailedCount  int64 `json:"failed_count"`
	SyncedCount  int64 `json:"synced_count"`

	IsSyncing     bool       `json:"is_syncing"`
	IsOnline      bool       `json:"is_online"`
	UsingFallback bool       `json:"using_fallback"`
	LastSyncAt    *time.Time `json:"last_sync_at,omitempty"`
}

// Reporter projects queue counts and engine state into snapshots
type Reporter struct {
	store   store.Store
	engine  *Engine
	monitor *Monitor
}

// NewReporter creates a status reporter. monitor may be nil when the
// node runs without connectivity probing.
func NewReporter(st store.Store, engine *Engine, monitor *Monitor) *Reporter {
	return &Reporter{store: st, engine: engine, monitor: monitor}
}

// Snapshot builds the current sync status
func (r *Reporter) Snapshot() (*Snapshot, error) {
	snap := &Snapshot{}

	var err error
	if snap.PendingCount, err = r.store.CountByStatus(models.SyncStatusPending); err != nil {
		return nil, err
	}
	if snap.SyncingCount, err = r.store.CountByStatus(models.SyncStatusSyncing); err != nil {
		return nil, err
	}
	if snap.FailedCount, err = r.store.CountByStatus(models.SyncStatusFailed); err != nil {
		return nil, err
	}
	if snap.SyncedCount, err = r.store.CountByStatus(models.SyncStatusSynced); err != nil {
		return nil, err
	}

	snap.IsSyncing = r.engine.IsSyncing()
	snap.LastSyncAt = r.engine.LastSyncAt()
	if r.monitor != nil {
		snap.IsOnline = r.monitor.IsOnline()
		snap.UsingFallback = r.monitor.UsingFallback()
	}
	return snap, nil
}
