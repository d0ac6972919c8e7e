package dataset

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const semicolonCSV = "product_name;dev_eui;DeviceprofileID;OTAA keys;lora_nwkskey\n" +
	"Feuchtesensor 1;A84041F4935D6EEA;8ad02259-c996-43b0-b37b-8a8e813c360f;D60F739062E3B90BBBAE3B26C4308FAE;E1190B75A10FFF4066138DA3836EC843\n" +
	"Feuchtesensor 2;A84041F4935D6FFF;8ad02259-c996-43b0-b37b-8a8e813c360f;D60F739062E3B90BBBAE3B26C4308FB1;E1190B75A10FFF4066138DA3836EC844\n"

func TestParseCSVSemicolon(t *testing.T) {
	ds, err := ParseFile("Feuchtesensoren keys.csv", strings.NewReader(semicolonCSV))
	require.NoError(t, err)
	require.Len(t, ds.Tables, 1)

	tbl := ds.Tables[0]
	assert.Equal(t, "Feuchtesensoren keys", tbl.Name)
	assert.Equal(t, []string{"product_name", "dev_eui", "DeviceprofileID", "OTAA keys", "lora_nwkskey"}, tbl.Columns)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, "A84041F4935D6EEA", tbl.Rows[0][1])
}

func TestParseCSVCommaWithBOMAndBlankRows(t *testing.T) {
	input := "\xef\xbb\xbfdev_eui,name\nAAAA1111BBBB2222,Sensor A\n\n , \nAAAA1111BBBB3333,Sensor B\n"

	ds, err := ParseFile("devices.csv", strings.NewReader(input))
	require.NoError(t, err)

	tbl := ds.Tables[0]
	assert.Equal(t, []string{"dev_eui", "name"}, tbl.Columns)
	assert.Len(t, tbl.Rows, 2)
}

func TestParseFileUnsupported(t *testing.T) {
	_, err := ParseFile("devices.pdf", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestParseCSVEmpty(t *testing.T) {
	_, err := ParseFile("empty.csv", strings.NewReader(""))
	assert.Error(t, err)
}

func TestDetectDelimiter(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		want  rune
		ok    bool
	}{
		{
			"semicolon",
			[]string{"a;b;c", "1;2;3", "4;5;6"},
			';', true,
		},
		{
			"comma wins over stray semicolon",
			[]string{"a,b,c", "1,2,3;", "4,5,6"},
			',', true,
		},
		{
			"tab",
			[]string{"a\tb\tc", "1\t2\t3"},
			'\t', true,
		},
		{
			"pipe",
			[]string{"a|b", "1|2"},
			'|', true,
		},
		{
			"no delimiter",
			[]string{"justone", "column"},
			0, false,
		},
		{
			"empty sample",
			nil,
			0, false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DetectDelimiter(tt.lines)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
