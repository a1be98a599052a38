package csvexport_test

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldscan/internal/csvexport"
	"fieldscan/internal/domain"
)

func readAll(t *testing.T, buf *bytes.Buffer) [][]string {
	t.Helper()
	rows, err := csv.NewReader(buf).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriteHeader(t *testing.T) {
	var buf bytes.Buffer
	w := csvexport.NewWriter(&buf)
	require.NoError(t, w.WriteHeader())
	w.Flush()
	require.NoError(t, w.Error())

	rows := readAll(t, &buf)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"label", "value", "confidence", "source", "page_index", "x1", "y1", "x2", "y2"}, rows[0])
}

func TestWriteFields(t *testing.T) {
	fields := []domain.ExtractedField{
		{
			Label:      "invoice_number",
			Value:      "INV-001",
			BBox:       domain.BBox{X1: 100, Y1: 50, X2: 250.5, Y2: 70},
			Confidence: 0.91,
			PageIndex:  0,
			Source:     domain.SourceAnswerOnly,
		},
		{
			Label:      "notes",
			Value:      "pay, \"promptly\"",
			Confidence: 0.2,
			PageIndex:  1,
			Source:     domain.SourceAnswerOnly,
		},
	}

	var buf bytes.Buffer
	w := csvexport.NewWriter(&buf)
	require.NoError(t, w.WriteHeader())
	require.NoError(t, w.WriteFields(fields))
	w.Flush()
	require.NoError(t, w.Error())

	rows := readAll(t, &buf)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"invoice_number", "INV-001", "0.9100", "answer_only", "0", "100.00", "50.00", "250.50", "70.00"}, rows[1])
	assert.Equal(t, "pay, \"promptly\"", rows[2][1])
	assert.Equal(t, "1", rows[2][4])
	assert.Equal(t, []string{"", "", "", ""}, rows[2][5:])
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"invoices/acme page 1.png", "invoices_acme_page_1_png"},
		{"___", "fields"},
		{"ok-name_1", "ok-name_1"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, csvexport.SanitizeFilename(tt.in))
		})
	}
}

func TestBuildFilename(t *testing.T) {
	now := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "page_1_2026-02-03.csv", csvexport.BuildFilename("page 1", now))
}
