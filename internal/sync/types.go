package sync

import (
	"context"

	"github.com/farpomon/bca-app-sub013/internal/models"
)

// OutcomeClass classifies the result of one remote write. This
// classification is the most important contract in the engine:
// a permanent failure classified as transient loops forever, and a
// transient failure classified as permanent silently loses data.
type OutcomeClass string

const (
	// OutcomeSuccess: the server accepted the write
	OutcomeSuccess OutcomeClass = "success"

	// OutcomeTransient: timeout, connection error, 5xx or 429 - safe to retry
	OutcomeTransient OutcomeClass = "transient"

	// OutcomePermanent: validation rejection, 4xx other than 429, entity
	// gone server-side - not safe to retry automatically
	OutcomePermanent OutcomeClass = "permanent"

	// OutcomeConflict: the target entity changed server-side since the
	// mutation's base revision
	OutcomeConflict OutcomeClass = "conflict"

	// OutcomeCanceled: the write was aborted (connectivity drop, user
	// cancel). Environmental, not a counted failure.
	OutcomeCanceled OutcomeClass = "canceled"
)

// Outcome is the classified result of one remote write
type Outcome struct {
	Class    OutcomeClass
	RemoteID string // set on success
	Revision string // server revision on success or conflict
	Reason   string // set on transient/permanent failures

	// ServerPayload carries the server's current version on conflict
	ServerPayload map[string]interface{}
}

// ProgressFunc receives upload progress in percent (0-100)
type ProgressFunc func(percent int)

// Adapter performs one remote write for a queued mutation and
// classifies the result. Implementations never panic; every failure
// mode maps onto an Outcome.
type Adapter interface {
	// PushAssessment creates or updates an assessment on the cloud API
	PushAssessment(ctx context.Context, op models.Operation, a *models.OfflineAssessment) Outcome

	// UploadPhoto streams photo bytes to the cloud API, reporting
	// intermediate progress. assessmentRemoteID links the photo to its
	// already-synced assessment and may be empty for unlinked photos.
	UploadPhoto(ctx context.Context, p *models.OfflinePhoto, assessmentRemoteID string, onProgress ProgressFunc) Outcome
}

// Notifier receives a signal after every queue-item status transition
// so reactive surfaces (websocket hub) can re-project state.
type Notifier interface {
	SyncStateChanged()
}
