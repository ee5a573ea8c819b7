package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// FromXLSX reads the first sheet of an .xlsx workbook into a dataset.
// The sheet's first row becomes the header row.
func FromXLSX(r io.Reader, name string) (*Dataset, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}

	return New(name, rows), nil
}

// FromCSV reads comma-separated values into a dataset. The first record
// becomes the header row. Records may have varying field counts.
func FromCSV(r io.Reader, name string) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}

	return New(name, records), nil
}

// FromFile dispatches on the file extension. Supported: .xlsx, .csv.
func FromFile(r io.Reader, filename string) (*Dataset, error) {
	name := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx":
		return FromXLSX(r, name)
	case ".csv":
		return FromCSV(r, name)
	default:
		return nil, fmt.Errorf("unsupported file type %q", filepath.Ext(filename))
	}
}
