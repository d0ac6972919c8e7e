// Package dataset turns uploaded tabular files (CSV/TXT exports, XLSX
// workbooks) into normalized device records. Parsing is forgiving about
// delimiters and encodings the way vendor key exports require; strictness
// lives in the registration engine, not here.
package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

var ErrUnsupportedFormat = errors.New("unsupported file format")

// sniffLines is how many leading lines the delimiter detection samples.
const sniffLines = 5

// Table is one sheet (or one CSV file) with its header row split off.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]string
}

// Dataset is a parsed upload: one table per sheet, a single table for flat
// files.
type Dataset struct {
	Filename string
	Tables   []Table
}

// Table returns the named table, or nil.
func (d *Dataset) Table(name string) *Table {
	for i := range d.Tables {
		if d.Tables[i].Name == name {
			return &d.Tables[i]
		}
	}
	return nil
}

// ParseFile dispatches on the file extension. Supported: .csv, .txt, .xlsx.
func ParseFile(filename string, r io.Reader) (*Dataset, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".txt":
		return parseCSV(filename, r)
	case ".xlsx":
		return parseXLSX(filename, r)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(filename))
	}
}

func parseCSV(filename string, r io.Reader) (*Dataset, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf")) // UTF-8 BOM

	delim, ok := DetectDelimiter(sampleLines(raw, sniffLines))
	if !ok {
		delim = ','
	}

	reader := csv.NewReader(bytes.NewReader(raw))
	reader.Comma = delim
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("file contains no rows")
	}

	header := make([]string, len(records[0]))
	for i, col := range records[0] {
		header[i] = strings.TrimSpace(col)
	}

	rows := make([][]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		if isBlankRow(rec) {
			continue
		}
		rows = append(rows, rec)
	}

	name := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	return &Dataset{
		Filename: filepath.Base(filename),
		Tables:   []Table{{Name: name, Columns: header, Rows: rows}},
	}, nil
}

func parseXLSX(filename string, r io.Reader) (*Dataset, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	ds := &Dataset{Filename: filepath.Base(filename)}
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}

		header := make([]string, len(rows[0]))
		for i, col := range rows[0] {
			header[i] = strings.TrimSpace(col)
		}

		var body [][]string
		for _, row := range rows[1:] {
			if isBlankRow(row) {
				continue
			}
			body = append(body, row)
		}
		ds.Tables = append(ds.Tables, Table{Name: sheet, Columns: header, Rows: body})
	}

	if len(ds.Tables) == 0 {
		return nil, errors.New("workbook contains no non-empty sheets")
	}
	return ds, nil
}

// DetectDelimiter scores the candidate delimiters over the sample lines
// and picks the one that appears most, most consistently. Reports false
// when no candidate appears at all.
func DetectDelimiter(lines []string) (rune, bool) {
	candidates := []rune{',', ';', '\t', '|'}

	bestScore := 0.0
	var best rune
	for _, delim := range candidates {
		min, max, total := -1, 0, 0
		for _, line := range lines {
			n := strings.Count(line, string(delim))
			total += n
			if min == -1 || n < min {
				min = n
			}
			if n > max {
				max = n
			}
		}
		if len(lines) == 0 || max == 0 {
			continue
		}

		avg := float64(total) / float64(len(lines))
		consistency := 0.3
		switch {
		case min == max:
			consistency = 1.0
		case float64(min) >= 0.8*float64(max):
			consistency = 0.8
		}

		if score := avg * consistency; score > bestScore {
			bestScore = score
			best = delim
		}
	}

	return best, bestScore > 0
}

func sampleLines(raw []byte, n int) []string {
	var lines []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == n {
			break
		}
	}
	return lines
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
