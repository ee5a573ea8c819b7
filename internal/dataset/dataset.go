// Package dataset holds the tabular data a send run iterates over.
package dataset

import (
	"errors"
	"strings"
)

// ErrNoEmailColumn is returned when no column name contains "email" or "mail".
var ErrNoEmailColumn = errors.New("no email column found in dataset")

// Dataset is an in-memory tabular dataset imported from a spreadsheet.
// The first spreadsheet row becomes Columns; everything after is data.
// It is immutable after import.
type Dataset struct {
	Name    string     `json:"name,omitempty"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// New builds a dataset from raw spreadsheet values. The first row is
// treated as headers, the rest as data rows. Returns an empty dataset
// for empty input.
func New(name string, values [][]string) *Dataset {
	d := &Dataset{Name: name}
	if len(values) == 0 {
		return d
	}
	d.Columns = values[0]
	d.Rows = values[1:]
	return d
}

// RowMap builds the column name -> cell value mapping for one row.
// Rows shorter than the header row yield empty strings for the missing
// trailing cells. Duplicate column names resolve to the last column.
func (d *Dataset) RowMap(i int) map[string]string {
	m := make(map[string]string, len(d.Columns))
	if i < 0 || i >= len(d.Rows) {
		return m
	}
	row := d.Rows[i]
	for idx, col := range d.Columns {
		if idx < len(row) {
			m[col] = row[idx]
		} else {
			m[col] = ""
		}
	}
	return m
}

// EmailColumn returns the index of the first column whose name
// case-insensitively contains "email" or "mail". Returns
// ErrNoEmailColumn when no column qualifies.
func (d *Dataset) EmailColumn() (int, error) {
	for i, col := range d.Columns {
		name := strings.ToLower(col)
		if strings.Contains(name, "email") || strings.Contains(name, "mail") {
			return i, nil
		}
	}
	return -1, ErrNoEmailColumn
}

// Cell returns the cell at (row, col), or "" when the row is shorter
// than the header row.
func (d *Dataset) Cell(row, col int) string {
	if row < 0 || row >= len(d.Rows) {
		return ""
	}
	r := d.Rows[row]
	if col < 0 || col >= len(r) {
		return ""
	}
	return r[col]
}

// Len returns the number of data rows.
func (d *Dataset) Len() int {
	return len(d.Rows)
}
