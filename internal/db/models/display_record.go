// Package models defines the persisted records: the UI-facing display
// records and the small keyed settings table.
package models

import (
	"time"
)

// DisplayRecord is the locally cached, UI-facing summary of a server. It is
// the only server entity persisted locally. ID is the server's management
// API URL: globally unique across providers and stable for the life of the
// instance, unlike the cloud-native instance id, which is why a record only
// becomes meaningful once bootstrap discovery has completed.
type DisplayRecord struct {
	ID              string    `json:"id" gorm:"primaryKey"`
	Name            string    `json:"name" gorm:"not null"`
	IsManaged       bool      `json:"is_managed" gorm:"not null;index"`
	CloudProviderID string    `json:"cloud_provider_id" gorm:"varchar(32)"`
	IsSynced        bool      `json:"is_synced" gorm:"not null"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Setting is a keyed string record. Used for the persisted
// last-shown-server-id.
type Setting struct {
	Key       string    `json:"key" gorm:"primaryKey"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SettingLastShownServerID is the fixed storage key of the server the UI
// last displayed.
const SettingLastShownServerID = "last-shown-server-id"
