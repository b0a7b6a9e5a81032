package sync

import (
	"context"
	"log"
	stdsync "sync"
	"time"

	"github.com/farpomon/bca-app-sub013/internal/config"
	"github.com/farpomon/bca-app-sub013/internal/models"
	"github.com/farpomon/bca-app-sub013/internal/store"
)

// Engine drains the sync queue against the cloud API. One drain runs at
// a time; StartSync during an active drain is a no-op. Items for
// distinct entities upload concurrently up to the configured limit.
type Engine struct {
	store    store.Store
	adapter  Adapter
	resolver *Resolver
	cfg      *config.SyncConfig
	notifier Notifier

	// online reports device connectivity. Nil means connectivity is
	// assumed (tests, probe-less deployments).
	online func() bool

	mu         stdsync.Mutex
	draining   bool
	cancel     context.CancelFunc
	lastSyncAt *time.Time

	// merged marks queue items that already went through one
	// merge-resubmit cycle so a second conflict degrades to server-wins
	merged map[uint]bool

	// retrigger wakes a scheduled follow-up drain when items are parked
	// behind backoff gates
	retrigger *time.Timer
}

// NewEngine creates a sync engine
func NewEngine(st store.Store, adapter Adapter, cfg *config.SyncConfig, notifier Notifier) *Engine {
	return &Engine{
		store:    st,
		adapter:  adapter,
		resolver: NewResolver(st),
		cfg:      cfg,
		notifier: notifier,
		merged:   make(map[uint]bool),
	}
}

// SetOnlineCheck wires the connectivity monitor in. Call before the
// first drain; drains are skipped and in-flight unreachability is not
// counted while the check reports offline.
func (e *Engine) SetOnlineCheck(check func() bool) {
	e.online = check
}

func (e *Engine) isOnline() bool {
	return e.online == nil || e.online()
}

// IsSyncing reports whether a drain is currently running
func (e *Engine) IsSyncing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.draining
}

// LastSyncAt returns when the last drain finished, or nil
func (e *Engine) LastSyncAt() *time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSyncAt
}

// StartSync begins draining the queue in the background. Returns true
// when a new drain was started, false when one was already running.
// Safe to call from any trigger (UI button, connectivity restored,
// auto-sync timer); overlapping calls collapse into the active drain.
func (e *Engine) StartSync() bool {
	if !e.isOnline() {
		log.Printf("📴 Sync requested while offline, queue kept for reconnect")
		return false
	}
	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return false
	}
	e.draining = true
	if e.retrigger != nil {
		e.retrigger.Stop()
		e.retrigger = nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.mu.Unlock()

	go e.drain(ctx)
	return true
}

// Cancel aborts the active drain. In-flight writes are interrupted and
// their items return to pending with no attempt penalty.
func (e *Engine) Cancel() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the active drain (if any) finishes. Test helper
// and shutdown aid; the drain itself runs detached.
func (e *Engine) Wait() {
	for {
		e.mu.Lock()
		draining := e.draining
		e.mu.Unlock()
		if !draining {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// StartBackground launches the auto-sync ticker. Returns immediately;
// the ticker stops when ctx is cancelled.
func (e *Engine) StartBackground(ctx context.Context) {
	if !e.cfg.AutoSyncEnabled {
		return
	}
	go func() {
		ticker := time.NewTicker(e.cfg.AutoSyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if e.StartSync() {
					log.Printf("🔄 Auto-sync triggered")
				}
			}
		}
	}()
}

// drain walks the queue in enqueue order until no dispatchable item
// remains. Each pass lists the queue, dispatches every eligible item
// whose dependencies are satisfied, waits for the pass to settle, and
// repeats so entities unblocked by the pass (photos whose assessment
// just received its remote ID) sync within the same drain.
func (e *Engine) drain(ctx context.Context) {
	defer func() {
		now := time.Now().UTC()
		e.mu.Lock()
		e.draining = false
		e.cancel = nil
		e.lastSyncAt = &now
		e.mu.Unlock()
		e.notify()
		e.scheduleRetrigger()
	}()

	log.Printf("🔄 Sync drain started")
	sem := make(chan struct{}, e.cfg.Concurrency)
	total := 0

	for {
		if ctx.Err() != nil {
			break
		}
		dispatched := e.pass(ctx, sem)
		total += dispatched
		if dispatched == 0 {
			break
		}
	}

	if ctx.Err() != nil {
		log.Printf("🛑 Sync drain cancelled after %d item(s)", total)
	} else {
		log.Printf("✅ Sync drain finished, %d item(s) processed", total)
	}
}

// pass dispatches every currently eligible queue item and waits for
// all of them to finish. Returns the number of items dispatched.
func (e *Engine) pass(ctx context.Context, sem chan struct{}) int {
	items, err := e.store.ListQueue()
	if err != nil {
		log.Printf("⚠️ Sync drain could not list queue: %v", err)
		return 0
	}

	now := time.Now().UTC()
	var wg stdsync.WaitGroup
	dispatched := 0

	for i := range items {
		item := items[i]
		if item.Status != models.SyncStatusPending || item.NextEligibleAt.After(now) {
			continue
		}
		if !e.dependencySatisfied(&item) {
			continue
		}
		if ctx.Err() != nil || !e.isOnline() {
			break
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return dispatched
		}

		ok, err := e.store.MarkSyncing(item.ID)
		if err != nil || !ok {
			<-sem
			continue
		}
		e.notify()

		dispatched++
		wg.Add(1)
		go func(item models.SyncQueueItem) {
			defer wg.Done()
			defer func() { <-sem }()
			e.process(ctx, &item)
		}(item)
	}

	wg.Wait()
	return dispatched
}

// dependencySatisfied defers photos whose owning assessment has not
// received its remote ID yet. The photo stays pending with no attempt
// penalty and is retried on a later pass.
func (e *Engine) dependencySatisfied(item *models.SyncQueueItem) bool {
	if item.EntityType != models.EntityTypePhoto {
		return true
	}
	p, err := e.store.GetPhoto(item.EntityLocalID)
	if err != nil || p.AssessmentLocalID == nil {
		return true
	}
	a, err := e.store.GetAssessment(*p.AssessmentLocalID)
	if err != nil {
		return true
	}
	if a.RemoteID != nil {
		return true
	}
	// Owning assessment never syncing (failed terminally) means the
	// photo can still upload standalone rather than wait forever.
	active, err := e.store.ActiveItem(models.EntityTypeAssessment, a.LocalID)
	if err != nil {
		return true
	}
	return active == nil
}

// process performs one remote write for a syncing item and applies the
// outcome to the store.
func (e *Engine) process(ctx context.Context, item *models.SyncQueueItem) {
	var out Outcome
	switch item.EntityType {
	case models.EntityTypeAssessment:
		out = e.processAssessment(ctx, item)
	case models.EntityTypePhoto:
		out = e.processPhoto(ctx, item)
	default:
		out = Outcome{Class: OutcomePermanent, Reason: "unknown entity type"}
	}

	switch out.Class {
	case OutcomeSuccess:
		if err := e.store.MarkSynced(item.ID, out.RemoteID); err != nil {
			log.Printf("⚠️ Could not mark item %d synced: %v", item.ID, err)
		} else {
			e.forgetMerge(item.ID)
			log.Printf("✅ %s %s synced as %s", item.EntityType, item.EntityLocalID, out.RemoteID)
		}

	case OutcomeTransient:
		if !e.isOnline() {
			// The cloud is unreachable because the device went offline.
			// Environmental, not a counted failure; the reconnect trigger
			// resumes the item.
			if err := e.store.MarkPendingCanceled(item.ID); err != nil {
				log.Printf("⚠️ Could not return item %d to pending: %v", item.ID, err)
			} else {
				log.Printf("📴 %s %s deferred, device is offline", item.EntityType, item.EntityLocalID)
			}
			break
		}
		attempt := item.AttemptCount + 1
		if attempt >= e.cfg.MaxAttempts {
			if err := e.store.MarkFailed(item.ID, models.FailureExhausted, out.Reason); err != nil {
				log.Printf("⚠️ Could not mark item %d failed: %v", item.ID, err)
			} else {
				log.Printf("🛑 %s %s failed after %d attempts: %s", item.EntityType, item.EntityLocalID, attempt, out.Reason)
			}
		} else {
			gate := time.Now().UTC().Add(BackoffWithJitter(attempt, e.cfg.BaseDelay, e.cfg.MaxDelay))
			if err := e.store.MarkPendingRetry(item.ID, gate, out.Reason); err != nil {
				log.Printf("⚠️ Could not reschedule item %d: %v", item.ID, err)
			} else {
				log.Printf("⚠️ %s %s attempt %d failed transiently, retry after %s: %s",
					item.EntityType, item.EntityLocalID, attempt, gate.Format(time.RFC3339), out.Reason)
			}
		}

	case OutcomePermanent:
		if err := e.store.MarkFailed(item.ID, models.FailurePermanent, out.Reason); err != nil {
			log.Printf("⚠️ Could not mark item %d failed: %v", item.ID, err)
		} else {
			log.Printf("🛑 %s %s rejected permanently: %s", item.EntityType, item.EntityLocalID, out.Reason)
		}

	case OutcomeConflict:
		e.handleConflict(item, out)

	case OutcomeCanceled:
		if err := e.store.MarkPendingCanceled(item.ID); err != nil {
			log.Printf("⚠️ Could not return item %d to pending: %v", item.ID, err)
		} else {
			log.Printf("🔄 %s %s returned to pending after cancellation", item.EntityType, item.EntityLocalID)
		}
	}
	e.notify()
}

func (e *Engine) processAssessment(ctx context.Context, item *models.SyncQueueItem) Outcome {
	a, err := e.store.GetAssessment(item.EntityLocalID)
	if err != nil {
		return Outcome{Class: OutcomePermanent, Reason: "assessment no longer exists locally"}
	}
	wctx, cancel := context.WithTimeout(ctx, e.cfg.WriteTimeout)
	defer cancel()
	out := e.adapter.PushAssessment(wctx, item.Operation, a)
	if out.Class == OutcomeTransient && ctx.Err() != nil {
		// Drain cancellation surfaced as a timeout inside the write
		out = Outcome{Class: OutcomeCanceled, Reason: "drain cancelled"}
	}
	if out.Class == OutcomeSuccess && out.Revision != "" {
		// The accepted payload becomes the base for the next edit
		if err := e.store.OverwriteAssessmentPayload(a.LocalID, a.Payload, out.Revision); err != nil {
			log.Printf("⚠️ Could not record new revision for assessment %s: %v", a.LocalID, err)
		}
	}
	return out
}

func (e *Engine) processPhoto(ctx context.Context, item *models.SyncQueueItem) Outcome {
	p, err := e.store.GetPhoto(item.EntityLocalID)
	if err != nil {
		return Outcome{Class: OutcomePermanent, Reason: "photo no longer exists locally"}
	}

	assessmentRemoteID := ""
	if p.AssessmentLocalID != nil {
		if a, err := e.store.GetAssessment(*p.AssessmentLocalID); err == nil && a.RemoteID != nil {
			assessmentRemoteID = *a.RemoteID
		}
	}

	onProgress := func(pct int) {
		if err := e.store.SetUploadProgress(p.LocalID, pct); err == nil {
			e.notify()
		}
	}

	uctx, cancel := context.WithTimeout(ctx, e.cfg.UploadTimeout)
	defer cancel()
	out := e.adapter.UploadPhoto(uctx, p, assessmentRemoteID, onProgress)
	if out.Class == OutcomeTransient && ctx.Err() != nil {
		out = Outcome{Class: OutcomeCanceled, Reason: "drain cancelled"}
	}
	return out
}

// handleConflict resolves a concurrent-edit rejection. Photos cannot
// be merged so a conflicting photo is a permanent failure.
func (e *Engine) handleConflict(item *models.SyncQueueItem, out Outcome) {
	if item.EntityType != models.EntityTypeAssessment {
		if err := e.store.MarkFailed(item.ID, models.FailurePermanent, out.Reason); err != nil {
			log.Printf("⚠️ Could not mark item %d failed: %v", item.ID, err)
		}
		return
	}

	a, err := e.store.GetAssessment(item.EntityLocalID)
	if err != nil {
		log.Printf("⚠️ Conflicted assessment %s vanished locally: %v", item.EntityLocalID, err)
		_ = e.store.MarkFailed(item.ID, models.FailureConflict, ConflictDiscardedReason)
		return
	}

	e.mu.Lock()
	allowMerge := !e.merged[item.ID]
	e.mu.Unlock()

	resolution, err := e.resolver.Resolve(a, out, allowMerge)
	if err != nil {
		log.Printf("⚠️ Conflict resolution for assessment %s failed: %v", a.LocalID, err)
		_ = e.store.MarkFailed(item.ID, models.FailureConflict, ConflictDiscardedReason)
		return
	}

	switch resolution {
	case ResolutionMerged:
		e.mu.Lock()
		e.merged[item.ID] = true
		e.mu.Unlock()
		// Resubmission of a merge is not a failed attempt
		if err := e.store.MarkPendingCanceled(item.ID); err != nil {
			log.Printf("⚠️ Could not resubmit merged item %d: %v", item.ID, err)
		}
	default:
		e.forgetMerge(item.ID)
		if err := e.store.MarkFailed(item.ID, models.FailureConflict, ConflictDiscardedReason); err != nil {
			log.Printf("⚠️ Could not mark item %d conflicted: %v", item.ID, err)
		}
	}
}

func (e *Engine) forgetMerge(itemID uint) {
	e.mu.Lock()
	delete(e.merged, itemID)
	e.mu.Unlock()
}

// scheduleRetrigger arms a timer for the earliest backoff gate still
// in the future, so transiently failed items retry without waiting for
// the next auto-sync tick.
func (e *Engine) scheduleRetrigger() {
	items, err := e.store.ListQueue()
	if err != nil {
		return
	}
	now := time.Now().UTC()
	var earliest *time.Time
	for i := range items {
		it := items[i]
		if it.Status != models.SyncStatusPending || !it.NextEligibleAt.After(now) {
			continue
		}
		t := it.NextEligibleAt
		if earliest == nil || t.Before(*earliest) {
			earliest = &t
		}
	}
	if earliest == nil {
		return
	}

	delay := earliest.Sub(now) + 50*time.Millisecond
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.retrigger != nil {
		e.retrigger.Stop()
	}
	e.retrigger = time.AfterFunc(delay, func() { e.StartSync() })
}

func (e *Engine) notify() {
	if e.notifier != nil {
		e.notifier.SyncStateChanged()
	}
}
