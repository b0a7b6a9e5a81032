package models

import (
	"time"
)

// Project is cloud-owned reference data cached on the node so assessors
// can pick targets while disconnected. Read-only here; the cloud is the
// source of truth.
type Project struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	ClientOrg string    `gorm:"type:varchar(255)" json:"client_org"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name
func (Project) TableName() string {
	return "projects"
}

// Asset is a building or structure under assessment, cached locally.
type Asset struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectID string    `gorm:"type:varchar(64);not null;index" json:"project_id"`
	Name      string    `gorm:"not null" json:"name"`
	Address   string    `gorm:"type:text" json:"address"`
	AssetType string    `gorm:"type:varchar(100)" json:"asset_type"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Project *Project `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
}

// TableName specifies the table name
func (Asset) TableName() string {
	return "assets"
}
