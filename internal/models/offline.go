package models

import (
	"time"

	"gorm.io/datatypes"
)

// EntityType identifies the kind of offline entity a queue item refers to
type EntityType string

const (
	EntityTypeAssessment EntityType = "assessment"
	EntityTypePhoto      EntityType = "photo"
)

// Operation identifies the remote write a queue item will perform
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
)

// SyncStatus is the shared lifecycle status for offline entities and
// queue items. An entity's status always mirrors its active queue item.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusFailed  SyncStatus = "failed"
)

// IsTerminal reports whether the status is an end state
func (s SyncStatus) IsTerminal() bool {
	return s == SyncStatusSynced || s == SyncStatusFailed
}

// FailureKind distinguishes why a queue item ended up failed
type FailureKind string

const (
	FailurePermanent FailureKind = "permanent" // rejected by the server, manual action required
	FailureExhausted FailureKind = "exhausted" // transient retries used up
	FailureConflict  FailureKind = "conflict"  // server-wins resolution discarded the local edit
)

// OfflineAssessment is a component assessment captured in the field,
// awaiting (or past) confirmation by the cloud API.
type OfflineAssessment struct {
	LocalID  string  `gorm:"primaryKey;type:varchar(36)" json:"local_id"`
	RemoteID *string `gorm:"type:varchar(64);index" json:"remote_id,omitempty"`
	AssetID  string  `gorm:"type:varchar(64);not null;index" json:"asset_id"`

	// Payload holds the domain fields (component code/name, condition,
	// observations, geolocation). Opaque to the sync engine.
	Payload datatypes.JSONMap `gorm:"type:jsonb" json:"payload"`

	// BaseRevision is the server revision this edit was based on.
	// Empty for creates; sent as the precondition on updates.
	BaseRevision string `gorm:"type:varchar(64)" json:"base_revision"`

	// BasePayload snapshots the server's version at edit start. The
	// conflict resolver diffs against it to tell local edits apart from
	// server-side ones. Nil for creates.
	BasePayload datatypes.JSONMap `gorm:"type:jsonb" json:"base_payload,omitempty"`

	SyncStatus SyncStatus `gorm:"type:varchar(20);default:'pending';index" json:"sync_status"`
	SyncError  *string    `gorm:"type:text" json:"sync_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name
func (OfflineAssessment) TableName() string {
	return "offline_assessments"
}

// OfflinePhoto is a photo captured in the field, stored locally until
// its bytes have been uploaded to the cloud API.
type OfflinePhoto struct {
	LocalID  string  `gorm:"primaryKey;type:varchar(36)" json:"local_id"`
	RemoteID *string `gorm:"type:varchar(64);index" json:"remote_id,omitempty"`

	// AssessmentLocalID links the photo to a locally captured assessment.
	// The adapter swaps it for the assessment's remote ID at upload time.
	AssessmentLocalID *string `gorm:"type:varchar(36);index" json:"assessment_local_id,omitempty"`

	Caption   string   `gorm:"type:text" json:"caption"`
	MimeType  string   `gorm:"type:varchar(100)" json:"mime_type"`
	FileSize  int64    `json:"file_size"`
	Content   []byte   `gorm:"type:bytea" json:"-"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	UploadProgress int        `gorm:"default:0" json:"upload_progress"` // 0-100
	SyncStatus     SyncStatus `gorm:"type:varchar(20);default:'pending';index" json:"sync_status"`
	SyncError      *string    `gorm:"type:text" json:"sync_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name
func (OfflinePhoto) TableName() string {
	return "offline_photos"
}

// SyncQueueItem is one enqueued mutation referencing an offline entity.
// At most one item per entity may be in a non-terminal status at a time.
type SyncQueueItem struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	EntityType    EntityType `gorm:"type:varchar(20);not null;index:idx_queue_entity" json:"entity_type"`
	EntityLocalID string     `gorm:"type:varchar(36);not null;index:idx_queue_entity" json:"entity_local_id"`
	Operation     Operation  `gorm:"type:varchar(20);not null" json:"operation"`

	EnqueuedAt     time.Time  `gorm:"not null;index:idx_queue_pending" json:"enqueued_at"`
	AttemptCount   int        `gorm:"default:0" json:"attempt_count"`
	NextEligibleAt time.Time  `gorm:"not null" json:"next_eligible_at"`
	Status         SyncStatus `gorm:"type:varchar(20);default:'pending';index:idx_queue_pending" json:"status"`

	ErrorMessage *string      `gorm:"type:text" json:"error_message,omitempty"`
	FailureKind  *FailureKind `gorm:"type:varchar(20)" json:"failure_kind,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name
func (SyncQueueItem) TableName() string {
	return "sync_queue"
}

// ConflictRecord documents a conflict decision so the assessor can see
// what won and reapply their intent if still desired.
type ConflictRecord struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	EntityType    EntityType `gorm:"type:varchar(20);not null;index:idx_conflict_entity" json:"entity_type"`
	EntityLocalID string     `gorm:"type:varchar(36);not null;index:idx_conflict_entity" json:"entity_local_id"`

	LocalPayload  datatypes.JSONMap `gorm:"type:jsonb" json:"local_payload"`
	ServerPayload datatypes.JSONMap `gorm:"type:jsonb" json:"server_payload"`

	Resolution string `gorm:"type:varchar(30);not null" json:"resolution"` // merged, server_wins
	Reason     string `gorm:"type:text" json:"reason"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name
func (ConflictRecord) TableName() string {
	return "sync_conflicts"
}
