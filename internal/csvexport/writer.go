package csvexport

import (
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"fieldscan/internal/domain"
)

// UTF-8 BOM bytes for Excel compatibility on Windows.
var BOM = []byte{0xEF, 0xBB, 0xBF}

// columns defines the CSV header row.
var columns = []string{
	"label",
	"value",
	"confidence",
	"source",
	"page_index",
	"x1",
	"y1",
	"x2",
	"y2",
}

// Writer wraps csv.Writer for exporting extracted fields as CSV.
type Writer struct {
	csv *csv.Writer
}

// NewWriter creates a Writer that writes CSV to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{csv: csv.NewWriter(w)}
}

// WriteHeader writes the header row.
func (w *Writer) WriteHeader() error {
	return w.csv.Write(columns)
}

// WriteFields converts extracted fields to CSV rows and writes them.
func (w *Writer) WriteFields(fields []domain.ExtractedField) error {
	for i := range fields {
		if err := w.csv.Write(fieldToRow(&fields[i])); err != nil {
			return err
		}
	}
	return nil
}

// Flush flushes the underlying csv.Writer buffer.
func (w *Writer) Flush() {
	w.csv.Flush()
}

// Error returns any error from the underlying csv.Writer.
func (w *Writer) Error() error {
	return w.csv.Error()
}

// fieldToRow renders one field. A field without a position leaves the
// coordinate columns empty.
func fieldToRow(f *domain.ExtractedField) []string {
	row := make([]string, len(columns))
	row[0] = f.Label
	row[1] = f.Value
	row[2] = formatFloat(f.Confidence, 4)
	row[3] = string(f.Source)
	row[4] = strconv.Itoa(f.PageIndex)
	if f.BBox.IsZero() {
		return row
	}
	row[5] = formatFloat(f.BBox.X1, 2)
	row[6] = formatFloat(f.BBox.Y1, 2)
	row[7] = formatFloat(f.BBox.X2, 2)
	row[8] = formatFloat(f.BBox.Y2, 2)
	return row
}

func formatFloat(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}

// nonAlphanumeric matches characters that are not alphanumeric, hyphen, or underscore.
var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// multiUnderscore matches consecutive underscores.
var multiUnderscore = regexp.MustCompile(`_{2,}`)

// SanitizeFilename cleans a page key for use in Content-Disposition.
// Replaces non-alphanumeric chars (except - _) with _, collapses consecutive
// underscores, and truncates to 100 chars.
func SanitizeFilename(name string) string {
	s := nonAlphanumeric.ReplaceAllString(name, "_")
	s = multiUnderscore.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if len(s) > 100 {
		s = s[:100]
	}
	if s == "" {
		s = "fields"
	}
	return s
}

// BuildFilename returns {sanitized_name}_{YYYY-MM-DD}.csv.
func BuildFilename(name string, now time.Time) string {
	return fmt.Sprintf("%s_%s.csv", SanitizeFilename(name), now.Format("2006-01-02"))
}
