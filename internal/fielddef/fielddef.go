// Package fielddef loads field request definitions from workbooks or JSON files.
package fielddef

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"fieldscan/internal/domain"
)

// header names recognized in the first row of a definitions sheet.
const (
	colLabel    = "label"
	colQuestion = "question"
	colRequired = "required"
	colType     = "type"
)

// Load reads definitions from path, choosing the format by extension.
func Load(path string) ([]domain.FieldRequest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open field definitions: %w", err)
	}
	defer func() { _ = f.Close() }()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return ReadXLSX(f)
	case ".json":
		return ReadJSON(f)
	default:
		return nil, fmt.Errorf("unsupported field definitions file %q: %w", path, domain.ErrInvalidInput)
	}
}

// ReadXLSX parses the first sheet of a workbook. The first row is a header
// naming the label, question, required and type columns in any order; only
// label is mandatory. Blank rows are skipped.
func ReadXLSX(r io.Reader) ([]domain.FieldRequest, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, fmt.Errorf("read sheet: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("workbook has no header row: %w", domain.ErrInvalidInput)
	}

	idx := make(map[string]int, 4)
	for i, h := range rows[0] {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := idx[colLabel]; !ok {
		return nil, fmt.Errorf("workbook header lacks a %q column: %w", colLabel, domain.ErrInvalidInput)
	}

	var defs []domain.FieldRequest
	for n, row := range rows[1:] {
		label := cellVal(row, idx, colLabel)
		if label == "" {
			continue
		}
		req, err := parseRequired(cellVal(row, idx, colRequired))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", n+2, err)
		}
		defs = append(defs, domain.FieldRequest{
			Label:        label,
			Question:     cellVal(row, idx, colQuestion),
			Required:     req,
			DeclaredType: domain.FieldType(strings.ToLower(cellVal(row, idx, colType))),
		})
	}
	return Validate(defs)
}

// cellVal returns the trimmed cell under the named column, or "" if absent.
func cellVal(row []string, idx map[string]int, col string) string {
	i, ok := idx[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func parseRequired(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "", "no", "n", "false", "0":
		return false, nil
	case "yes", "y", "true", "1", "x":
		return true, nil
	default:
		return false, fmt.Errorf("required value %q: %w", s, domain.ErrInvalidInput)
	}
}

// ReadJSON parses a JSON array of field requests.
func ReadJSON(r io.Reader) ([]domain.FieldRequest, error) {
	var defs []domain.FieldRequest
	if err := json.NewDecoder(r).Decode(&defs); err != nil {
		return nil, fmt.Errorf("decode field definitions: %w: %w", domain.ErrInvalidInput, err)
	}
	return Validate(defs)
}

// Validate normalizes declared types and rejects empty sets, blank or repeated
// labels, and unknown types.
func Validate(defs []domain.FieldRequest) ([]domain.FieldRequest, error) {
	if len(defs) == 0 {
		return nil, domain.ErrNoFieldRequests
	}
	seen := make(map[string]bool, len(defs))
	out := make([]domain.FieldRequest, len(defs))
	for i, d := range defs {
		d.Label = strings.TrimSpace(d.Label)
		if d.Label == "" {
			return nil, fmt.Errorf("definition %d has no label: %w", i, domain.ErrInvalidInput)
		}
		if seen[d.Label] {
			return nil, fmt.Errorf("label %q: %w", d.Label, domain.ErrDuplicateLabel)
		}
		seen[d.Label] = true
		if d.DeclaredType == "" {
			d.DeclaredType = domain.FieldTypeText
		}
		if !domain.ValidFieldTypes[d.DeclaredType] {
			return nil, fmt.Errorf("label %q has unknown type %q: %w", d.Label, d.DeclaredType, domain.ErrInvalidInput)
		}
		out[i] = d
	}
	return out, nil
}
