package dto

type SettingsRequest struct {
	Server                 string `json:"server" binding:"required"`
	APIToken               string `json:"api_token" binding:"required"`
	TenantID               string `json:"tenant_id"`
	DefaultApplicationID   string `json:"default_application_id"`
	DefaultDeviceProfileID string `json:"default_device_profile_id"`
}

// SettingsResponse never echoes the API token back; the UI only needs to
// know whether one is stored.
type SettingsResponse struct {
	Server                 string `json:"server"`
	TokenConfigured        bool   `json:"token_configured"`
	TenantID               string `json:"tenant_id"`
	DefaultApplicationID   string `json:"default_application_id"`
	DefaultDeviceProfileID string `json:"default_device_profile_id"`
}

type TestConnectionResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
