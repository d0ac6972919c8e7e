package dataset

import (
	"fmt"
	"strings"

	"github.com/stadtnetz/lorabulk/internal/bulk"
	"github.com/stadtnetz/lorabulk/internal/keymap"
)

// Mapping names the dataset column feeding each device field. Empty means
// unmapped; DevEUI and Name are the only fields a job cannot do without.
type Mapping struct {
	DevEUI          string
	Name            string
	ApplicationID   string
	DeviceProfileID string
	Description     string
	// AppKey is the column holding the shared root key ("OTAA key" in most
	// vendor exports); NwkKey holds the 1.1.x network root key.
	AppKey string
	NwkKey string
}

// Defaults fill fields that have no column, typically from the server
// settings.
type Defaults struct {
	ApplicationID   string
	DeviceProfileID string
}

// RowError reports a row that could not be turned into a record. Row is
// the 1-based data row number (header excluded).
type RowError struct {
	Row     int
	Message string
}

func (e RowError) String() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Message)
}

// SuggestMapping guesses a column mapping from the header names, using the
// patterns vendor exports actually ship with. OTAA key columns win over
// generic app-key matches so that session-key columns are not picked up by
// accident.
func SuggestMapping(columns []string) Mapping {
	var m Mapping

	for _, col := range columns {
		lower := strings.ToLower(strings.TrimSpace(col))
		switch {
		case m.DevEUI == "" && strings.Contains(lower, "eui"):
			m.DevEUI = col
		case m.ApplicationID == "" && strings.Contains(lower, "application") && !strings.Contains(lower, "key"):
			m.ApplicationID = col
		case m.DeviceProfileID == "" && strings.Contains(lower, "profile"):
			m.DeviceProfileID = col
		case m.Description == "" && strings.Contains(lower, "desc"):
			m.Description = col
		}
	}

	// Name after the id columns, so "device_profile_name" style headers do
	// not shadow the real name column.
	for _, col := range columns {
		lower := strings.ToLower(strings.TrimSpace(col))
		if col != m.DevEUI && col != m.ApplicationID && col != m.DeviceProfileID &&
			strings.Contains(lower, "name") {
			m.Name = col
			break
		}
	}

	m.NwkKey = pickKeyColumn(columns, []string{"nwk_key", "nwkkey", "network_key", "networkkey"}, "nwk")
	m.AppKey = pickAppKeyColumn(columns)

	return m
}

func pickAppKeyColumn(columns []string) string {
	// An explicit OTAA column is the strongest signal.
	for _, col := range columns {
		if strings.Contains(strings.ToLower(col), "otaa") {
			return col
		}
	}
	return pickKeyColumn(columns, []string{"app_key", "appkey", "application_key", "applicationkey"}, "app")
}

func pickKeyColumn(columns []string, exact []string, prefix string) string {
	for _, col := range columns {
		if matchesAny(strings.ToLower(strings.TrimSpace(col)), exact) {
			return col
		}
	}
	for _, col := range columns {
		lower := strings.ToLower(col)
		// "skey" columns carry session keys, never root keys.
		if strings.Contains(lower, prefix) && strings.Contains(lower, "key") && !strings.Contains(lower, "skey") {
			return col
		}
	}
	return ""
}

func matchesAny(s string, set []string) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}

// Validate checks a mapping against the available columns and returns
// human-readable warnings. Warnings do not block a run; a wrong key column
// will surface as per-device validation failures instead.
func (m Mapping) Validate(columns []string) []string {
	var warnings []string

	exists := func(col string) bool {
		for _, c := range columns {
			if c == col {
				return true
			}
		}
		return false
	}
	for field, col := range map[string]string{
		"dev_eui": m.DevEUI, "name": m.Name, "application_id": m.ApplicationID,
		"device_profile_id": m.DeviceProfileID, "description": m.Description,
		"app_key": m.AppKey, "nwk_key": m.NwkKey,
	} {
		if col != "" && !exists(col) {
			warnings = append(warnings, fmt.Sprintf("column %q mapped to %s does not exist in the dataset", col, field))
		}
	}

	if m.DevEUI == "" {
		warnings = append(warnings, "no DevEUI column mapped; every row will fail validation")
	}
	if m.AppKey == "" && m.NwkKey == "" {
		warnings = append(warnings, "no key column mapped; key registration will fail for every device")
	}
	if m.AppKey != "" && m.AppKey == m.NwkKey {
		warnings = append(warnings, fmt.Sprintf("column %q is mapped to both key fields", m.AppKey))
	}
	for _, col := range []string{m.AppKey, m.NwkKey} {
		if strings.Contains(strings.ToLower(col), "skey") {
			warnings = append(warnings, fmt.Sprintf("column %q looks like a session key; root keys are required for OTAA registration", col))
		}
	}

	return warnings
}

// BuildRecords applies the mapping to a table and produces the normalized
// records a job consumes, plus per-row errors for rows that cannot even be
// extracted. Field-level validation (hex lengths, UUIDs) stays with the
// registration task.
func BuildRecords(tbl Table, m Mapping, def Defaults) ([]bulk.DeviceRecord, []RowError) {
	index := make(map[string]int, len(tbl.Columns))
	for i, col := range tbl.Columns {
		index[col] = i
	}

	cell := func(row []string, col string) string {
		i, ok := index[col]
		if !ok || col == "" || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var records []bulk.DeviceRecord
	var rowErrs []RowError
	for n, row := range tbl.Rows {
		devEUI := cell(row, m.DevEUI)
		if devEUI == "" {
			rowErrs = append(rowErrs, RowError{Row: n + 1, Message: "DevEUI cell is empty"})
			continue
		}
		if normalized, err := keymap.NormalizeDevEUI(devEUI); err == nil {
			devEUI = normalized
		}

		name := cell(row, m.Name)
		if name == "" {
			name = devEUI
		}

		appID := cell(row, m.ApplicationID)
		if appID == "" {
			appID = def.ApplicationID
		}
		profileID := cell(row, m.DeviceProfileID)
		if profileID == "" {
			profileID = def.DeviceProfileID
		}

		records = append(records, bulk.DeviceRecord{
			DevEUI:          devEUI,
			Name:            name,
			ApplicationID:   appID,
			DeviceProfileID: profileID,
			Description:     cell(row, m.Description),
			Keys: keymap.RawKeys{
				AppKey: cell(row, m.AppKey),
				NwkKey: cell(row, m.NwkKey),
			},
		})
	}

	return records, rowErrs
}
