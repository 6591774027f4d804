package model

import "time"

// AppSetting represents a key-value pair for global application configuration.
type AppSetting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Keys under which the vendor credentials are stored.
const (
	SettingProctorAppID     = "proctor_app_id"
	SettingProctorAPIKey    = "proctor_api_key_sealed"
	SettingProctorUpdatedBy = "proctor_credentials_updated_by"
)
