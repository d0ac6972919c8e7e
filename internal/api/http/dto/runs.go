package dto

import "github.com/stadtnetz/lorabulk/internal/bulk"

type StartRunRequest struct {
	UploadID string     `json:"upload_id" binding:"required"`
	Table    string     `json:"table"`
	Mapping  MappingDTO `json:"mapping"`

	MACVersion      string            `json:"mac_version" binding:"required"`
	DuplicatePolicy string            `json:"duplicate_policy"`
	Concurrency     int               `json:"concurrency"`
	Tags            map[string]string `json:"tags"`

	ApplicationID   string `json:"application_id"`
	DeviceProfileID string `json:"device_profile_id"`
}

type StartRunResponse struct {
	RunID     string   `json:"run_id"`
	Total     int      `json:"total"`
	Policy    string   `json:"duplicate_policy"`
	RowErrors []string `json:"row_errors,omitempty"`
}

type RunStatusResponse struct {
	RunID    string         `json:"run_id"`
	Progress bulk.Snapshot  `json:"progress"`
	Results  []bulk.Outcome `json:"results,omitempty"`
}

type DeviceSummaryDTO struct {
	DevEUI string `json:"dev_eui"`
	Name   string `json:"name"`
}

type ListDevicesResponse struct {
	Devices []DeviceSummaryDTO `json:"devices"`
	Total   uint32             `json:"total"`
}
