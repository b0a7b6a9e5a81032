package sync

import (
	"fmt"
	"log"
	"reflect"

	"github.com/farpomon/bca-app-sub013/internal/models"
	"github.com/farpomon/bca-app-sub013/internal/store"
)

// Resolution names the decision taken for a conflicted mutation
type Resolution string

const (
	// ResolutionServerWins: the local edit was discarded and the local
	// copy now holds the server's version
	ResolutionServerWins Resolution = "server_wins"

	// ResolutionMerged: local and server edits touched disjoint fields
	// and were combined for one resubmission
	ResolutionMerged Resolution = "merged"
)

// ConflictDiscardedReason is recorded on queue items whose local edit
// lost a server-wins resolution. The UI surfaces it so the assessor
// knows their change was not applied.
const ConflictDiscardedReason = "ConflictDiscarded"

// Resolver decides what happens when the server reports a concurrent
// edit. The policy is deliberately conservative: field-level merge only
// when local and server edits touch disjoint fields, server-wins
// otherwise. The engine never silently drops an edit; every decision is
// recorded as a ConflictRecord.
type Resolver struct {
	store store.Store
}

// NewResolver creates a conflict resolver backed by the given store
func NewResolver(st store.Store) *Resolver {
	return &Resolver{store: st}
}

// Resolve handles a conflict outcome for an assessment. allowMerge is
// false for a mutation that already went through one merge-resubmit
// cycle; a second conflict then degrades to server-wins so the queue
// cannot ping-pong against a busy record.
func (r *Resolver) Resolve(a *models.OfflineAssessment, out Outcome, allowMerge bool) (Resolution, error) {
	if out.ServerPayload == nil {
		// Without the server's version there is nothing to diff or keep.
		// Treat the local copy as stale and refetch-by-overwrite later;
		// for now discard the local edit.
		log.Printf("⚠️ Conflict for assessment %s carried no server payload, discarding local edit", a.LocalID)
		return ResolutionServerWins, r.serverWins(a, out)
	}

	localChanged := changedFields(map[string]interface{}(a.Payload), map[string]interface{}(a.BasePayload))
	serverChanged := changedFields(out.ServerPayload, map[string]interface{}(a.BasePayload))

	if allowMerge && a.BasePayload != nil && !overlaps(localChanged, serverChanged) {
		return ResolutionMerged, r.merge(a, out, localChanged)
	}
	return ResolutionServerWins, r.serverWins(a, out)
}

// serverWins overwrites the local copy with the server's version and
// records the discarded edit so the assessor can reapply it by hand.
func (r *Resolver) serverWins(a *models.OfflineAssessment, out Outcome) error {
	rec := &models.ConflictRecord{
		EntityType:    models.EntityTypeAssessment,
		EntityLocalID: a.LocalID,
		LocalPayload:  a.Payload,
		ServerPayload: out.ServerPayload,
		Resolution:    string(ResolutionServerWins),
		Reason:        ConflictDiscardedReason,
	}
	if err := r.store.RecordConflict(rec); err != nil {
		return fmt.Errorf("record conflict: %w", err)
	}
	if out.ServerPayload != nil {
		if err := r.store.OverwriteAssessmentPayload(a.LocalID, out.ServerPayload, out.Revision); err != nil {
			return fmt.Errorf("overwrite local payload: %w", err)
		}
	}
	log.Printf("🛑 Conflict on assessment %s resolved server-wins, local edit discarded", a.LocalID)
	return nil
}

// merge combines the server's version with the locally changed fields
// and stores the result for one resubmission against the new revision.
func (r *Resolver) merge(a *models.OfflineAssessment, out Outcome, localChanged map[string]interface{}) error {
	merged := make(map[string]interface{}, len(out.ServerPayload)+len(localChanged))
	for k, v := range out.ServerPayload {
		merged[k] = v
	}
	for k, v := range localChanged {
		merged[k] = v
	}

	rec := &models.ConflictRecord{
		EntityType:    models.EntityTypeAssessment,
		EntityLocalID: a.LocalID,
		LocalPayload:  a.Payload,
		ServerPayload: out.ServerPayload,
		Resolution:    string(ResolutionMerged),
		Reason:        fmt.Sprintf("merged %d local field(s) into server revision %s", len(localChanged), out.Revision),
	}
	if err := r.store.RecordConflict(rec); err != nil {
		return fmt.Errorf("record conflict: %w", err)
	}
	if err := r.store.OverwriteAssessmentPayload(a.LocalID, merged, out.Revision); err != nil {
		return fmt.Errorf("store merged payload: %w", err)
	}
	log.Printf("🔄 Conflict on assessment %s merged (%d local fields kept), resubmitting", a.LocalID, len(localChanged))
	return nil
}

// changedFields returns the fields of cur that differ from base,
// including fields removed from cur (as explicit nils).
func changedFields(cur, base map[string]interface{}) map[string]interface{} {
	changed := make(map[string]interface{})
	for k, v := range cur {
		if bv, ok := base[k]; !ok || !reflect.DeepEqual(v, bv) {
			changed[k] = v
		}
	}
	for k := range base {
		if _, ok := cur[k]; !ok {
			changed[k] = nil
		}
	}
	return changed
}

func overlaps(a, b map[string]interface{}) bool {
	for k := range a {
		if _, ok := b[k]; ok {
			return true
		}
	}
	return false
}
