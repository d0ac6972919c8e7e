package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuggestMappingVendorExport(t *testing.T) {
	columns := []string{"product_name", "dev_eui", "DeviceprofileID", "lora_joinmode", "OTAA keys", "lora_nwkskey", "lora_appskey"}

	m := SuggestMapping(columns)

	assert.Equal(t, "dev_eui", m.DevEUI)
	assert.Equal(t, "product_name", m.Name)
	assert.Equal(t, "DeviceprofileID", m.DeviceProfileID)
	// The OTAA column must win over the session-key columns.
	assert.Equal(t, "OTAA keys", m.AppKey)
	// lora_nwkskey is a session key and must not be suggested.
	assert.Empty(t, m.NwkKey)
}

func TestSuggestMappingDualRootExport(t *testing.T) {
	columns := []string{"DevEUI", "Device Name", "application_id", "device_profile_id", "nwk_key", "app_key", "description"}

	m := SuggestMapping(columns)

	assert.Equal(t, "DevEUI", m.DevEUI)
	assert.Equal(t, "Device Name", m.Name)
	assert.Equal(t, "application_id", m.ApplicationID)
	assert.Equal(t, "device_profile_id", m.DeviceProfileID)
	assert.Equal(t, "nwk_key", m.NwkKey)
	assert.Equal(t, "app_key", m.AppKey)
	assert.Equal(t, "description", m.Description)
}

func TestSuggestMappingApplicationKeyIsNotAnID(t *testing.T) {
	m := SuggestMapping([]string{"applicationkey", "deveui"})
	assert.Empty(t, m.ApplicationID)
	assert.Equal(t, "applicationkey", m.AppKey)
}

func TestValidateWarnings(t *testing.T) {
	columns := []string{"dev_eui", "name", "lora_nwkskey"}

	t.Run("session key column", func(t *testing.T) {
		m := Mapping{DevEUI: "dev_eui", Name: "name", AppKey: "lora_nwkskey"}
		warnings := m.Validate(columns)
		require.NotEmpty(t, warnings)
		assert.Contains(t, warnings[0], "session key")
	})

	t.Run("same column both keys", func(t *testing.T) {
		m := Mapping{DevEUI: "dev_eui", AppKey: "dev_eui", NwkKey: "dev_eui"}
		warnings := m.Validate(columns)
		assert.Contains(t, warnings[0], "both key fields")
	})

	t.Run("missing dev eui", func(t *testing.T) {
		m := Mapping{AppKey: "lora_nwkskey"}
		warnings := m.Validate(columns)
		found := false
		for _, w := range warnings {
			if w == "no DevEUI column mapped; every row will fail validation" {
				found = true
			}
		}
		assert.True(t, found)
	})

	t.Run("nonexistent column", func(t *testing.T) {
		m := Mapping{DevEUI: "gone", AppKey: "lora_nwkskey"}
		warnings := m.Validate(columns)
		joined := ""
		for _, w := range warnings {
			joined += w + "\n"
		}
		assert.Contains(t, joined, "does not exist")
	})

	t.Run("clean mapping", func(t *testing.T) {
		m := Mapping{DevEUI: "dev_eui", Name: "name", AppKey: "lora_nwkskey"}
		warnings := m.Validate(columns)
		// Only the session-key warning remains.
		assert.Len(t, warnings, 1)
	})
}

func TestBuildRecords(t *testing.T) {
	tbl := Table{
		Columns: []string{"eui", "name", "otaa"},
		Rows: [][]string{
			{"a84041f4935d6eea", "Sensor 1", "D60F739062E3B90BBBAE3B26C4308FAE"},
			{"", "No EUI", "D60F739062E3B90BBBAE3B26C4308FB1"},
			{"A84041F4935D6FFF", "", "D60F739062E3B90BBBAE3B26C4308FB2"},
		},
	}
	m := Mapping{DevEUI: "eui", Name: "name", AppKey: "otaa"}
	def := Defaults{ApplicationID: "52f14cd4-c6f1-4fbd-8f87-4025e1d49242", DeviceProfileID: "8ad02259-c996-43b0-b37b-8a8e813c360f"}

	records, rowErrs := BuildRecords(tbl, m, def)

	require.Len(t, records, 2)
	require.Len(t, rowErrs, 1)
	assert.Equal(t, 2, rowErrs[0].Row)

	assert.Equal(t, "A84041F4935D6EEA", records[0].DevEUI)
	assert.Equal(t, "Sensor 1", records[0].Name)
	assert.Equal(t, def.ApplicationID, records[0].ApplicationID)
	assert.Equal(t, def.DeviceProfileID, records[0].DeviceProfileID)
	assert.Equal(t, "D60F739062E3B90BBBAE3B26C4308FAE", records[0].Keys.AppKey)

	// A nameless device falls back to its DevEUI.
	assert.Equal(t, "A84041F4935D6FFF", records[1].Name)
}

func TestBuildRecordsShortRow(t *testing.T) {
	tbl := Table{
		Columns: []string{"eui", "name", "otaa"},
		Rows:    [][]string{{"A84041F4935D6EEA"}},
	}
	m := Mapping{DevEUI: "eui", Name: "name", AppKey: "otaa"}

	records, rowErrs := BuildRecords(tbl, m, Defaults{})
	require.Len(t, records, 1)
	assert.Empty(t, rowErrs)
	assert.Empty(t, records[0].Keys.AppKey)
}
