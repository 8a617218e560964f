// Package bom provides the structured BOM data model: column samples shown
// to the user for mapping confirmation, and the row builder that turns a
// confirmed mapping into resolvable rows.
package bom

import (
	"errors"
	"strconv"
	"strings"

	"github.com/fabworks/bomcheck/internal/classify"
	"github.com/fabworks/bomcheck/internal/sheet"
)

// Semantic roles a spreadsheet column can be mapped to.
const (
	RolePartNumber   = "ManufacturerPN"
	RoleManufacturer = "Manufacturer"
	RoleQuantity     = "Quantity"
	RoleReference    = "Reference"
)

// ErrNoPartNumberMapping is returned when the user mapping does not assign
// any column the ManufacturerPN role. Without part numbers there is nothing
// to resolve.
var ErrNoPartNumberMapping = errors.New("no ManufacturerPN column in mapping")

// ColumnMapping is one user-confirmed column-to-role assignment.
type ColumnMapping struct {
	Name    string `json:"name"`
	Mapping string `json:"mapping"`
}

// ColumnSample describes one column of an uploaded table: its name, a few
// example values, and the classifier's role guess. Read-only after creation.
type ColumnSample struct {
	Name         string              `json:"name"`
	SampleValues []string            `json:"sample_values"`
	Prediction   classify.Prediction `json:"prediction"`
}

// Row is one resolvable BOM line. RowIndex matches the row's position in
// the normalized source table so results can be correlated back to the
// sheet. MPNs is never empty.
type Row struct {
	RowIndex     int      `json:"row_index"`
	MPNs         []string `json:"mpns"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Quantity     int      `json:"quantity"`
	Reference    string   `json:"reference,omitempty"`
}

// Sample-size limits. The UI shows a short preview; the classifier sees a
// few more values for better separation between look-alike columns.
const (
	previewSampleValues  = 5
	classifySampleValues = 10
)

// Columns builds one ColumnSample per table column, using the classifier
// for role predictions. The classifier text for a column is its header
// concatenated with up to 10 sample values, mirroring how the model was
// trained.
func Columns(t *sheet.Table, c *classify.Classifier) []ColumnSample {
	texts := make([]string, len(t.Columns))
	for i, name := range t.Columns {
		texts[i] = name + ": " + strings.Join(t.ColumnValues(name, classifySampleValues), ", ")
	}
	preds := c.Predict(texts)

	samples := make([]ColumnSample, len(t.Columns))
	for i, name := range t.Columns {
		samples[i] = ColumnSample{
			Name:         name,
			SampleValues: t.ColumnValues(name, previewSampleValues),
			Prediction:   preds[i],
		}
	}
	return samples
}

// BuildRows turns a normalized table plus a confirmed mapping into
// resolvable rows. Rows whose part-number cell is blank, or yields no
// identifier after splitting, are dropped; their indices are never
// renumbered. A bad quantity never rejects a row: it defaults to 1.
func BuildRows(t *sheet.Table, mappings []ColumnMapping) ([]Row, error) {
	roleToColumn := make(map[string]string, len(mappings))
	for _, m := range mappings {
		roleToColumn[m.Mapping] = m.Name
	}

	mpnCol, ok := roleToColumn[RolePartNumber]
	if !ok || mpnCol == "" {
		return nil, ErrNoPartNumberMapping
	}

	mpnIdx := t.ColumnIndex(mpnCol)
	manuIdx := t.ColumnIndex(roleToColumn[RoleManufacturer])
	qtyIdx := t.ColumnIndex(roleToColumn[RoleQuantity])
	refIdx := t.ColumnIndex(roleToColumn[RoleReference])

	rows := make([]Row, 0, len(t.Rows))
	for i, src := range t.Rows {
		mpns := splitMPNs(cellAt(src, mpnIdx))
		if len(mpns) == 0 {
			continue
		}

		rows = append(rows, Row{
			RowIndex:     i,
			MPNs:         mpns,
			Manufacturer: cellAt(src, manuIdx),
			Quantity:     parseQuantity(cellAt(src, qtyIdx)),
			Reference:    cellAt(src, refIdx),
		})
	}
	return rows, nil
}

// splitMPNs splits a part-number cell on commas, trimming whitespace and
// dropping empty fragments. Cells can legitimately hold alternates like
// "LM317T, LM317MT".
func splitMPNs(cell string) []string {
	if cell == "" {
		return nil
	}
	var mpns []string
	for _, frag := range strings.Split(cell, ",") {
		if frag = strings.TrimSpace(frag); frag != "" {
			mpns = append(mpns, frag)
		}
	}
	return mpns
}

// parseQuantity parses permissively: spreadsheets hold "10", "10.0" and
// "10 pcs" alike. Unparseable or absent quantities default to 1.
func parseQuantity(cell string) int {
	if cell == "" {
		return 1
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
	if err != nil || int(f) <= 0 {
		return 1
	}
	return int(f)
}

func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
