package dto

type TableInfo struct {
	Name    string     `json:"name"`
	Columns []string   `json:"columns"`
	Rows    int        `json:"rows"`
	Preview [][]string `json:"preview"`
}

type UploadResponse struct {
	UploadID string      `json:"upload_id"`
	Filename string      `json:"filename"`
	Tables   []TableInfo `json:"tables"`
}

type MappingDTO struct {
	DevEUI          string `json:"dev_eui"`
	Name            string `json:"name"`
	ApplicationID   string `json:"application_id"`
	DeviceProfileID string `json:"device_profile_id"`
	Description     string `json:"description"`
	AppKey          string `json:"app_key"`
	NwkKey          string `json:"nwk_key"`
}

type SuggestMappingResponse struct {
	Mapping  MappingDTO `json:"mapping"`
	Warnings []string   `json:"warnings"`
}
