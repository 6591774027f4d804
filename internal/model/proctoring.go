package model

// BulkParticipantsRequest is the payload for fetching many participants at
// once. An empty list asks for the whole course roster.
type BulkParticipantsRequest struct {
	UserIDs []int `json:"user_ids" binding:"max=500,dive,gt=0"`
}

// SessionsQuery holds the optional filters of the session list endpoints.
type SessionsQuery struct {
	UserID int `form:"user_id" binding:"omitempty,gt=0"`
	Limit  int `form:"limit" binding:"omitempty,gte=0,lte=1000"`
}

// ModuleStatusResponse is returned by the own-status endpoint and pushed over
// the status stream.
type ModuleStatusResponse struct {
	CourseID int    `json:"course_id"`
	ModuleID int    `json:"module_id"`
	UserID   int    `json:"user_id"`
	Code     int    `json:"code"`
	Status   string `json:"status"`
}

// CloseSessionResponse reports whether a remote session was actually closed.
type CloseSessionResponse struct {
	Closed bool `json:"closed"`
}

// SaveCredentialsRequest replaces the site's vendor credentials.
type SaveCredentialsRequest struct {
	AppID  string `json:"app_id" binding:"required,uuid"`
	APIKey string `json:"api_key" binding:"required,base64"`
}

// CredentialsStatusResponse never includes the API key.
type CredentialsStatusResponse struct {
	Configured bool   `json:"configured"`
	AppID      string `json:"app_id,omitempty"`
}

// FailuresQuery filters the remote failure log.
type FailuresQuery struct {
	WindowHours int `form:"window_hours" binding:"omitempty,gt=0,lte=720"`
	Limit       int `form:"limit" binding:"omitempty,gt=0,lte=500"`
}

// VendorPingResponse reports vendor reachability.
type VendorPingResponse struct {
	Reachable bool `json:"reachable"`
}
