// Package sheet turns raw workbook bytes into a rectangular table with
// named columns. BOM spreadsheets rarely start at A1: the data sheet must
// be picked out of tabs like "Rev C BOM" vs "Notes", and the header row
// found below logos and title blocks before rows can be read positionally.
package sheet

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrParse indicates the bytes could not be decoded as a supported
// spreadsheet format.
var ErrParse = errors.New("unreadable spreadsheet")

// Table is a normalized rectangular view of the selected sheet.
// Every row has exactly len(Columns) cells; blank cells are "".
type Table struct {
	Columns []string
	Rows    [][]string
}

// Options tunes sheet selection and header detection. The keyword lists are
// heuristics, not correctness requirements, so they are configurable.
type Options struct {
	// SheetKeywords mark a tab as BOM-like ("bom", "parts", ...).
	SheetKeywords []string

	// SheetModifiers mark a tab as the freshest of several BOM-like tabs
	// ("updated", "rev", ...). A tab matching both a modifier and a keyword
	// wins over a tab matching a keyword alone.
	SheetModifiers []string

	// HeaderKeywords are words expected in BOM column headers.
	HeaderKeywords []string

	// MaxHeaderScan is how many leading rows to consider as header candidates.
	MaxHeaderScan int
}

// DefaultOptions returns the tuned vocabulary used in production.
func DefaultOptions() Options {
	return Options{
		SheetKeywords:  []string{"bom", "parts", "component", "material", "assembly"},
		SheetModifiers: []string{"updated", "final", "latest", "rev", "current"},
		HeaderKeywords: []string{
			"part", "qty", "quantity", "reference", "ref des", "vendor",
			"manufacturer", "mfr", "description", "desc", "value", "footprint",
			"package", "comment", "designation", "designator", "item", "number",
			"pn", "manf", "manf#", "refs", "unit", "cost", "total",
		},
		MaxHeaderScan: 20,
	}
}

// Normalize parses workbook bytes with the default options.
func Normalize(data []byte) (*Table, error) {
	return NormalizeWith(data, DefaultOptions())
}

// NormalizeWith parses workbook bytes, selects the most BOM-like sheet,
// locates its header row and returns the rows below it, column-aligned to
// the header. A sheet with no rows after the header yields an empty Table.
func NormalizeWith(data []byte, opts Options) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrParse)
	}

	name := selectSheet(sheets, opts)
	grid, err := f.GetRows(name)
	if err != nil {
		return nil, fmt.Errorf("%w: read sheet %q: %v", ErrParse, name, err)
	}
	if len(grid) == 0 {
		return &Table{}, nil
	}

	headerIdx := detectHeaderRow(grid, opts)
	header := grid[headerIdx]

	t := buildTable(header, grid[headerIdx+1:])
	t.dropBlankUnnamedColumns()
	t.dropBlankRows()
	return t, nil
}

// selectSheet picks exactly one sheet. Precedence: modifier+keyword in the
// name, then keyword alone, then the first sheet positionally. Selecting a
// single sheet avoids ambiguity when several tabs look BOM-like.
func selectSheet(sheets []string, opts Options) string {
	for _, name := range sheets {
		lower := strings.ToLower(name)
		if containsAny(lower, opts.SheetModifiers) && containsAny(lower, opts.SheetKeywords) {
			return name
		}
	}
	for _, name := range sheets {
		if containsAny(strings.ToLower(name), opts.SheetKeywords) {
			return name
		}
	}
	return sheets[0]
}

// detectHeaderRow scores the leading rows by how many cells contain a
// header keyword and returns the index of the best one. Ties keep the
// earliest row: only a strictly greater score moves the selection.
func detectHeaderRow(grid [][]string, opts Options) int {
	limit := min(opts.MaxHeaderScan, len(grid))

	best, bestScore := 0, -1
	for i := 0; i < limit; i++ {
		score := 0
		for _, cell := range grid[i] {
			if cell == "" {
				continue
			}
			if containsAny(strings.ToLower(cell), opts.HeaderKeywords) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

// buildTable names columns from the header row and aligns every data row
// to the header width, padding short rows and truncating long ones.
// Blank header cells get synthesized "unnamed-N" placeholder names.
//
// Duplicate header names are not deduplicated; name lookups resolve to the
// last occurrence (known limitation, matches earlier behaviour).
func buildTable(header []string, data [][]string) *Table {
	cols := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("unnamed-%d", i)
		}
		cols[i] = h
	}

	rows := make([][]string, 0, len(data))
	for _, raw := range data {
		row := make([]string, len(cols))
		for i := range cols {
			if i < len(raw) {
				row[i] = strings.TrimSpace(raw[i])
			}
		}
		rows = append(rows, row)
	}

	return &Table{Columns: cols, Rows: rows}
}

// dropBlankUnnamedColumns removes synthesized placeholder columns whose
// entire column is blank. Named columns are kept even when empty so the
// caller still sees them during mapping.
func (t *Table) dropBlankUnnamedColumns() {
	keep := make([]int, 0, len(t.Columns))
	for i, name := range t.Columns {
		if strings.HasPrefix(name, "unnamed-") && t.columnBlank(i) {
			continue
		}
		keep = append(keep, i)
	}
	if len(keep) == len(t.Columns) {
		return
	}

	cols := make([]string, len(keep))
	for j, i := range keep {
		cols[j] = t.Columns[i]
	}
	rows := make([][]string, len(t.Rows))
	for r, row := range t.Rows {
		next := make([]string, len(keep))
		for j, i := range keep {
			next[j] = row[i]
		}
		rows[r] = next
	}
	t.Columns, t.Rows = cols, rows
}

// dropBlankRows removes rows that are blank across all remaining columns.
func (t *Table) dropBlankRows() {
	rows := t.Rows[:0]
	for _, row := range t.Rows {
		blank := true
		for _, cell := range row {
			if cell != "" {
				blank = false
				break
			}
		}
		if !blank {
			rows = append(rows, row)
		}
	}
	t.Rows = rows
}

func (t *Table) columnBlank(i int) bool {
	for _, row := range t.Rows {
		if row[i] != "" {
			return false
		}
	}
	return true
}

// ColumnIndex returns the position of the named column, or -1.
// With duplicate names the last occurrence wins.
func (t *Table) ColumnIndex(name string) int {
	idx := -1
	for i, col := range t.Columns {
		if col == name {
			idx = i
		}
	}
	return idx
}

// ColumnValues returns the non-blank values of the named column in row
// order, up to limit values (limit <= 0 means all).
func (t *Table) ColumnValues(name string, limit int) []string {
	i := t.ColumnIndex(name)
	if i < 0 {
		return nil
	}
	var vals []string
	for _, row := range t.Rows {
		if row[i] == "" {
			continue
		}
		vals = append(vals, row[i])
		if limit > 0 && len(vals) == limit {
			break
		}
	}
	return vals
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
