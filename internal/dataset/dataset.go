package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"reviewclassifier/internal/domain"
)

var ErrColumnNotFound = errors.New("column not found")

// Table is a header row plus data rows. Every row is padded to the header width.
type Table struct {
	Header []string
	Rows   [][]string
}

// Column returns the index of name in the header, matched case-insensitively.
func (t Table) Column(name string) (int, error) {
	want := strings.ToLower(strings.TrimSpace(name))
	for i, h := range t.Header {
		if strings.ToLower(strings.TrimSpace(h)) == want {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %q (have %s)", ErrColumnNotFound, name, strings.Join(t.Header, ", "))
}

// Read loads a CSV, TSV or XLSX file chosen by extension.
func Read(path string) (Table, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Table{}, err
	}
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".xlsx"):
		return parseExcel(content)
	case strings.HasSuffix(lower, ".tsv"):
		return parseCSV(content, '\t')
	default:
		return parseCSV(content, ',')
	}
}

func parseCSV(content []byte, comma rune) (Table, error) {
	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))))
	reader.Comma = comma
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	all, err := reader.ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("parse csv: %w", err)
	}
	return newTable(all)
}

func parseExcel(content []byte) (Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return Table{}, fmt.Errorf("open excel: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Table{}, fmt.Errorf("no sheets in excel file")
	}
	all, err := f.GetRows(sheets[0])
	if err != nil {
		return Table{}, fmt.Errorf("read excel rows: %w", err)
	}
	return newTable(all)
}

func newTable(all [][]string) (Table, error) {
	if len(all) == 0 {
		return Table{}, fmt.Errorf("empty dataset")
	}
	t := Table{Header: all[0], Rows: all[1:]}
	for i, row := range t.Rows {
		for len(row) < len(t.Header) {
			row = append(row, "")
		}
		t.Rows[i] = row
	}
	return t, nil
}

// Records extracts the review column as records keyed by 0-based row ordinal.
func Records(t Table, column string) ([]domain.Record, error) {
	col, err := t.Column(column)
	if err != nil {
		return nil, err
	}
	records := make([]domain.Record, len(t.Rows))
	for i, row := range t.Rows {
		records[i] = domain.Record{ID: i, Text: row[col]}
	}
	return records, nil
}

// Write stores the table as XLSX or CSV, chosen by extension. The file is
// replaced atomically.
func Write(path string, t Table) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if strings.HasSuffix(strings.ToLower(path), ".xlsx") {
		err = writeExcel(tmp, t)
	} else {
		err = writeCSV(tmp, t)
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return os.Rename(tmpName, path)
}

func writeCSV(f *os.File, t Table) error {
	w := csv.NewWriter(f)
	if err := w.Write(t.Header); err != nil {
		return err
	}
	if err := w.WriteAll(t.Rows); err != nil {
		return err
	}
	return w.Error()
}

func writeExcel(f *os.File, t Table) error {
	x := excelize.NewFile()
	defer x.Close()
	sheet := x.GetSheetName(0)
	for i, row := range append([][]string{t.Header}, t.Rows...) {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := x.SetSheetRow(sheet, cell, &values); err != nil {
			return err
		}
	}
	_, err := x.WriteTo(f)
	return err
}
